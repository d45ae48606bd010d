package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"go.uber.org/zap"
)

// Reconciler applies realtime change events for one table to a Store.
//
// Inserts and updates are never applied from the raw payload: the row is
// fetched back through the Source so embedded references are resolved.
// Fetch-backs run concurrently, so an UPDATE racing a later DELETE may land
// last; the last applied event wins.
type Reconciler[T Entity] struct {
	table    string
	feed     port.ChangeFeed
	src      Source[T]
	store    *Store[T]
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	ch       port.Channel
	inflight sync.WaitGroup
}

// NewReconciler binds feed events for table to store.
func NewReconciler[T Entity](table string, feed port.ChangeFeed, src Source[T], store *Store[T], bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *Reconciler[T] {
	return &Reconciler[T]{
		table:    table,
		feed:     feed,
		src:      src,
		store:    store,
		bulkhead: bulkhead,
		metrics:  metrics,
		logger:   logger.With(zap.String("table", table)),
	}
}

// Table returns the subscribed table.
func (r *Reconciler[T]) Table() string { return r.table }

// Active reports whether a channel is open.
func (r *Reconciler[T]) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch != nil
}

// Subscribe opens the change channel. Calling it while subscribed is a no-op.
func (r *Reconciler[T]) Subscribe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		return nil
	}
	ch, err := r.feed.Subscribe(ctx, r.table, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.table, err)
	}
	r.ch = ch
	r.logger.Info("realtime subscribed")
	return nil
}

// Unsubscribe closes the channel so a later Subscribe can open a new one.
// Calling it without an active channel is a no-op.
func (r *Reconciler[T]) Unsubscribe() error {
	r.mu.Lock()
	ch := r.ch
	r.ch = nil
	r.mu.Unlock()
	if ch == nil {
		return nil
	}
	r.logger.Info("realtime unsubscribed")
	return ch.Close()
}

// Wait blocks until in-flight fetch-backs have been applied.
func (r *Reconciler[T]) Wait() {
	r.inflight.Wait()
}

func (r *Reconciler[T]) handle(ctx context.Context, ev port.ChangeEvent) {
	switch ev.Type {
	case port.ChangeInsert, port.ChangeUpdate:
		id := ev.NewID()
		if id == "" {
			r.logger.Warn("change event without id", zap.String("type", string(ev.Type)))
			return
		}
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.fetchBack(ctx, ev.Type, id)
		}()
	case port.ChangeDelete:
		id := ev.OldID()
		if id == "" {
			return
		}
		r.store.RemoveID(id)
		r.metrics.IncrRealtimeEvent(r.table, string(ev.Type))
	default:
		r.logger.Debug("ignoring change event", zap.String("type", string(ev.Type)))
	}
}

func (r *Reconciler[T]) fetchBack(ctx context.Context, typ port.ChangeType, id string) {
	if r.bulkhead != nil {
		if err := r.bulkhead.Acquire(ctx); err != nil {
			return
		}
		defer r.bulkhead.Release()
	}

	v, err := r.src.Get(ctx, id)
	if err != nil {
		r.logger.Warn("realtime fetch-back failed", zap.String("id", id), zap.Error(err))
		return
	}
	if v == nil {
		// Deleted between the event and the fetch.
		return
	}
	r.store.Upsert(*v)
	r.metrics.IncrRealtimeEvent(r.table, string(typ))
}

// Subscriber is one table subscription owned by a SubscriptionManager.
type Subscriber interface {
	Table() string
	Active() bool
	Subscribe(ctx context.Context) error
	Unsubscribe() error
}

// SubscriptionManager owns the realtime subscriptions of the process and
// keeps at most one per table.
type SubscriptionManager struct {
	mu     sync.Mutex
	subs   map[string]Subscriber
	logger *zap.Logger
}

// NewSubscriptionManager creates an empty manager.
func NewSubscriptionManager(logger *zap.Logger) *SubscriptionManager {
	return &SubscriptionManager{subs: make(map[string]Subscriber), logger: logger}
}

// Register adds s. A second subscriber for the same table is rejected.
func (m *SubscriptionManager) Register(s Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.subs[s.Table()]; dup {
		return fmt.Errorf("subscription for %s already registered", s.Table())
	}
	m.subs[s.Table()] = s
	return nil
}

// Subscribe opens the subscription for table.
func (m *SubscriptionManager) Subscribe(ctx context.Context, table string) error {
	s, ok := m.get(table)
	if !ok {
		return fmt.Errorf("no subscription registered for %s", table)
	}
	return s.Subscribe(ctx)
}

// Unsubscribe closes the subscription for table.
func (m *SubscriptionManager) Unsubscribe(table string) error {
	s, ok := m.get(table)
	if !ok {
		return nil
	}
	return s.Unsubscribe()
}

// SubscribeAll opens every registered subscription and joins the failures.
func (m *SubscriptionManager) SubscribeAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.all() {
		if err := s.Subscribe(ctx); err != nil {
			m.logger.Error("realtime subscribe failed", zap.String("table", s.Table()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnsubscribeAll closes every open subscription.
func (m *SubscriptionManager) UnsubscribeAll() error {
	var errs []error
	for _, s := range m.all() {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active lists the tables with an open channel.
func (m *SubscriptionManager) Active() []string {
	var out []string
	for _, s := range m.all() {
		if s.Active() {
			out = append(out, s.Table())
		}
	}
	return out
}

func (m *SubscriptionManager) get(table string) (Subscriber, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[table]
	return s, ok
}

func (m *SubscriptionManager) all() []Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table() < out[j].Table() })
	return out
}
