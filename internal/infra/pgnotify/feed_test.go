package pgnotify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func TestDispatch_RoutesByTable(t *testing.T) {
	f := New(Config{}, zap.NewNop())
	var got []port.ChangeEvent
	_, err := f.Subscribe(context.Background(), "tickets", func(_ context.Context, ev port.ChangeEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.dispatch(context.Background(), []byte(`{"type":"DELETE","table":"tickets","record":null,"old_record":{"id":"t9"},"commit_timestamp":"2024-05-01T10:00:00.123456+00:00"}`))
	f.dispatch(context.Background(), []byte(`{"type":"INSERT","table":"statuses","record":{"id":"s1"}}`))
	f.dispatch(context.Background(), []byte(`not json`))

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.Type != port.ChangeDelete || ev.OldID() != "t9" || ev.NewID() != "" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.CommitTimestamp.IsZero() {
		t.Error("expected commit timestamp to be parsed")
	}
}

func TestSubscribe_CloseAllowsResubscribe(t *testing.T) {
	f := New(Config{}, zap.NewNop())
	noop := func(context.Context, port.ChangeEvent) {}

	ch, err := f.Subscribe(context.Background(), "tickets", noop)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := f.Subscribe(context.Background(), "tickets", noop); err == nil {
		t.Error("expected duplicate subscribe to fail")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.Subscribe(context.Background(), "tickets", noop); err != nil {
		t.Errorf("expected resubscribe after close, got %v", err)
	}
}

// TestFeed_Postgres needs a scratch database in PGNOTIFY_TEST_DATABASE_URL.
func TestFeed_Postgres(t *testing.T) {
	dsn := os.Getenv("PGNOTIFY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PGNOTIFY_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close(context.Background())
	if _, err := admin.Exec(ctx, `CREATE TABLE IF NOT EXISTS pgnotify_scratch (id text PRIMARY KEY, title text)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() { _, _ = admin.Exec(context.Background(), `DROP TABLE IF EXISTS pgnotify_scratch`) })

	f := New(Config{
		DatabaseURL:     dsn,
		InstallTriggers: true,
		Reconnect:       resilience.Config{InitialBackoff: 50 * time.Millisecond},
	}, zap.NewNop())
	events := make(chan port.ChangeEvent, 1)
	if _, err := f.Subscribe(ctx, "pgnotify_scratch", func(_ context.Context, ev port.ChangeEvent) { events <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	go func() { _ = f.Run(ctx) }()
	for !f.Connected() {
		select {
		case <-ctx.Done():
			t.Fatal("feed never connected")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if _, err := admin.Exec(ctx, `INSERT INTO pgnotify_scratch (id, title) VALUES ('p1', 'x')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != port.ChangeInsert || ev.NewID() != "p1" {
			t.Errorf("unexpected event %s for %q", ev.Type, ev.NewID())
		}
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
}
