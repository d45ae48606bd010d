// Package pgnotify is a change feed over Postgres LISTEN/NOTIFY. It is the
// alternative to the Realtime websocket when the service can reach the
// database directly; a row trigger publishes every change as JSON.
package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultChannel is the NOTIFY channel the trigger publishes on.
const DefaultChannel = "atas_changes"

// triggerFunctionSQL publishes {type, table, record, old_record, commit_timestamp}.
// Payloads above the 8000 byte NOTIFY limit are sent with ids only; the
// subscriber always fetches rows back, so nothing else is needed.
const triggerFunctionSQL = `
CREATE OR REPLACE FUNCTION atas_notify_change() RETURNS trigger AS $$
DECLARE
	payload text;
BEGIN
	payload := json_build_object(
		'type', TG_OP,
		'table', TG_TABLE_NAME,
		'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
		'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
		'commit_timestamp', now()
	)::text;
	IF octet_length(payload) > 7900 THEN
		payload := json_build_object(
			'type', TG_OP,
			'table', TG_TABLE_NAME,
			'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE json_build_object('id', NEW.id) END,
			'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE json_build_object('id', OLD.id) END,
			'commit_timestamp', now()
		)::text;
	END IF;
	PERFORM pg_notify(TG_ARGV[0], payload);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`

// Config parameterizes the feed.
type Config struct {
	DatabaseURL string
	Channel     string
	// InstallTriggers creates the trigger function and one trigger per
	// subscribed table on every connect.
	InstallTriggers bool
	Reconnect       resilience.Config
}

type subscription struct {
	feed    *Feed
	table   string
	handler port.ChangeHandler
}

func (s *subscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if s.feed.subs[s.table] == s {
		delete(s.feed.subs, s.table)
	}
	return nil
}

// Feed dispatches notifications to per-table handlers. It implements port.ChangeFeed.
type Feed struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	subs      map[string]*subscription
	connected bool
}

// New creates a feed. Call Run to start listening.
func New(cfg Config, logger *zap.Logger) *Feed {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	return &Feed{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

// Subscribe registers handler for table. Notifications for tables without a
// handler are dropped.
func (f *Feed) Subscribe(_ context.Context, table string, handler port.ChangeHandler) (port.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.subs[table]; dup {
		return nil, fmt.Errorf("pgnotify: %s already subscribed", table)
	}
	s := &subscription{feed: f, table: table, handler: handler}
	f.subs[table] = s
	return s, nil
}

// Connected reports whether the LISTEN connection is up.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Run listens until ctx is cancelled, reconnecting with backoff.
func (f *Feed) Run(ctx context.Context) error {
	reconnect := f.cfg.Reconnect
	reconnect.MaxRetries = -1
	err := resilience.RetryWithBackoff(ctx, reconnect, func() error {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("pgnotify connection lost", zap.Error(err))
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f *Feed) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(context.Background())

	if f.cfg.InstallTriggers {
		if err := f.install(ctx, conn); err != nil {
			return err
		}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.cfg.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", f.cfg.Channel, err)
	}

	f.setConnected(true)
	defer f.setConnected(false)
	f.logger.Info("pgnotify listening", zap.String("channel", f.cfg.Channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		f.dispatch(ctx, []byte(n.Payload))
	}
}

func (f *Feed) install(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, triggerFunctionSQL); err != nil {
		return fmt.Errorf("install trigger function: %w", err)
	}
	f.mu.Lock()
	tables := make([]string, 0, len(f.subs))
	for t := range f.subs {
		tables = append(tables, t)
	}
	f.mu.Unlock()

	for _, t := range tables {
		ident := pgx.Identifier{t}.Sanitize()
		trigger := pgx.Identifier{"atas_notify_" + t}.Sanitize()
		stmt := strings.Join([]string{
			"DROP TRIGGER IF EXISTS " + trigger + " ON " + ident + ";",
			"CREATE TRIGGER " + trigger + " AFTER INSERT OR UPDATE OR DELETE ON " + ident,
			"FOR EACH ROW EXECUTE FUNCTION atas_notify_change('" + strings.ReplaceAll(f.cfg.Channel, "'", "''") + "')",
		}, " ")
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install trigger on %s: %w", t, err)
		}
	}
	return nil
}

func (f *Feed) dispatch(ctx context.Context, payload []byte) {
	ev, err := port.ParseChangeEvent(payload)
	if err != nil {
		f.logger.Warn("pgnotify: undecodable payload", zap.Error(err))
		return
	}
	f.mu.Lock()
	s := f.subs[ev.Table]
	f.mu.Unlock()
	if s == nil {
		return
	}
	s.handler(ctx, ev)
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}
