package service

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workspaceTracer = otel.Tracer("service/workspace")

// StoreStatus summarizes one store for health and sync endpoints.
type StoreStatus struct {
	Items    int    `json:"items"`
	Loading  bool   `json:"loading"`
	Error    string `json:"error,omitempty"`
	Realtime bool   `json:"realtime"`
}

type loader interface {
	Load(ctx context.Context, f entity.Filter)
}

// Workspace owns the catalog's stores and their realtime lifecycle.
type Workspace struct {
	catalog        *Catalog
	maxConcurrency int
	logger         *zap.Logger

	loaded atomic.Bool
}

// NewWorkspace creates a workspace. maxConcurrency bounds LoadAll; zero
// means one goroutine per store.
func NewWorkspace(c *Catalog, maxConcurrency int, logger *zap.Logger) *Workspace {
	return &Workspace{catalog: c, maxConcurrency: maxConcurrency, logger: logger}
}

// Catalog returns the underlying catalog.
func (w *Workspace) Catalog() *Catalog { return w.catalog }

func (w *Workspace) loaders() map[string]loader {
	c := w.catalog
	return map[string]loader{
		TableTickets:       c.Tickets.Store,
		TableAdmissions:    c.Admissions.Store,
		TableTerminations:  c.Terminations.Store,
		TableLeads:         c.Leads.Store,
		TableStatuses:      c.Statuses.Store,
		TableMenuItems:     c.MenuItems.Store,
		TableUsers:         c.Users.Store,
		TableNotifications: c.Notifications.Store,
	}
}

// LoadAll loads every store concurrently. Read failures stay in each
// store's error slot; only cancellation of ctx is returned.
func (w *Workspace) LoadAll(ctx context.Context) error {
	ctx, span := workspaceTracer.Start(ctx, "Workspace.LoadAll")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	if w.maxConcurrency > 0 {
		g.SetLimit(w.maxConcurrency)
	}
	for name, l := range w.loaders() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l.Load(gctx, entity.Filter{})
			w.logger.Debug("store loaded", zap.String("store", name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w.loaded.Store(true)
	return nil
}

// Ready reports whether LoadAll has completed at least once.
func (w *Workspace) Ready() bool { return w.loaded.Load() }

// Start opens every realtime subscription.
func (w *Workspace) Start(ctx context.Context) error {
	return w.catalog.Subscriptions.SubscribeAll(ctx)
}

// Stop closes every realtime subscription.
func (w *Workspace) Stop() error {
	return w.catalog.Subscriptions.UnsubscribeAll()
}

// Status reports the state of every store.
func (w *Workspace) Status() map[string]StoreStatus {
	c := w.catalog
	realtime := make(map[string]bool)
	for _, t := range c.Subscriptions.Active() {
		realtime[t] = true
	}
	return map[string]StoreStatus{
		TableTickets:       statusOf(c.Tickets.Store.Snapshot(), realtime[TableTickets]),
		TableAdmissions:    statusOf(c.Admissions.Store.Snapshot(), realtime[TableAdmissions]),
		TableTerminations:  statusOf(c.Terminations.Store.Snapshot(), realtime[TableTerminations]),
		TableLeads:         statusOf(c.Leads.Store.Snapshot(), realtime[TableLeads]),
		TableStatuses:      statusOf(c.Statuses.Store.Snapshot(), realtime[TableStatuses]),
		TableMenuItems:     statusOf(c.MenuItems.Store.Snapshot(), realtime[TableMenuItems]),
		TableUsers:         statusOf(c.Users.Store.Snapshot(), realtime[TableUsers]),
		TableNotifications: statusOf(c.Notifications.Store.Snapshot(), realtime[TableNotifications]),
	}
}

// MenuTree builds the navigation forest visible to a user holding roles.
// Inactive items and the items the roles do not reach are hidden together
// with their descendants. Items without roles are visible to everyone and
// admins see every active item.
func (w *Workspace) MenuTree(roles []string) []*domain.MenuItem {
	admin := false
	held := make(map[string]bool, len(roles))
	for _, r := range roles {
		held[r] = true
		admin = admin || r == domain.RoleAdmin
	}

	items := w.catalog.MenuItems.Store.Items()
	byID := make(map[string]domain.MenuItem, len(items))
	for _, m := range items {
		byID[m.ID] = m
	}
	shown := func(m domain.MenuItem) bool {
		return m.IsActive && (admin || len(m.Roles) == 0 || anyHeld(m.Roles, held))
	}

	var visible []domain.MenuItem
	for _, m := range items {
		ok := shown(m)
		// Bounded walk: parent chains may contain cycles.
		cur := m
		for steps := 0; ok && cur.ParentID != nil && steps < len(items); steps++ {
			parent, found := byID[*cur.ParentID]
			if !found {
				break
			}
			ok = shown(parent)
			cur = parent
		}
		if ok {
			visible = append(visible, m)
		}
	}
	return entity.BuildMenuTree(visible)
}

// Tables lists the synchronized tables in a stable order.
func (w *Workspace) Tables() []string {
	out := make([]string, 0, 8)
	for name := range w.loaders() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func statusOf[T any](s entity.State[T], realtime bool) StoreStatus {
	return StoreStatus{Items: len(s.Items), Loading: s.Loading, Error: s.Error, Realtime: realtime}
}

func anyHeld(roles []string, held map[string]bool) bool {
	for _, r := range roles {
		if held[r] {
			return true
		}
	}
	return false
}
