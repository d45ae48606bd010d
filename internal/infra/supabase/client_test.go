package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/cache"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/infra/supabase"
	"github.com/boddenberg/atas-admin-go/internal/query"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return supabase.NewClient(srv.Client(), srv.URL, "anon", "service", resilience.NewCircuitBreaker("test"), zap.NewNop())
}

func TestSelect_SendsQueryAndServiceKey(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("status_id")
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		w.Write([]byte(`[{"id":"1"}]`))
	})

	body, err := c.Select(context.Background(), query.From("tickets").Select("id").Eq("status_id", "s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `[{"id":"1"}]` {
		t.Errorf("unexpected body %s", body)
	}
	if gotPath != "/rest/v1/tickets" {
		t.Errorf("expected /rest/v1/tickets, got %s", gotPath)
	}
	if gotQuery != "eq.s1" {
		t.Errorf("expected eq.s1, got %s", gotQuery)
	}
	if gotAuth != "Bearer service" {
		t.Errorf("expected service key bearer, got %s", gotAuth)
	}
	if gotKey != "anon" {
		t.Errorf("expected anon apikey, got %s", gotKey)
	}
}

func TestSelect_ForwardsSessionToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	})

	ctx := domain.WithSession(context.Background(), domain.Session{AuthUserID: "auth-1", AccessToken: "user-jwt"})
	if _, err := c.Select(ctx, query.From("tickets")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer user-jwt" {
		t.Errorf("expected session bearer, got %s", gotAuth)
	}
}

func TestSelect_BackendErrorCarriedUnchanged(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"42703","message":"column tickets.ticket_octa does not exist","details":null,"hint":null}`))
	})

	_, err := c.Select(context.Background(), query.From("tickets"))
	var be *domain.ErrBackend
	if !errors.As(err, &be) {
		t.Fatalf("expected ErrBackend, got %T: %v", err, err)
	}
	if be.Status != http.StatusBadRequest || be.Code != "42703" {
		t.Errorf("unexpected backend error %+v", be)
	}
	if !be.MissingColumn("ticket_octa") {
		t.Error("expected missing column detection")
	}
}

func TestInsert_SendsRowAndPrefer(t *testing.T) {
	var got map[string]any
	var prefer, method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		prefer = r.Header.Get("Prefer")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"new"}]`))
	})

	body, err := c.Insert(context.Background(), query.From("tickets").Select("id"), map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != http.MethodPost || prefer != "return=representation" {
		t.Errorf("unexpected request %s prefer=%s", method, prefer)
	}
	if got["title"] != "x" {
		t.Errorf("unexpected payload %v", got)
	}
	if string(body) != `[{"id":"new"}]` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestUpdate_NoContentIsEmptyList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	body, err := c.Update(context.Background(), query.From("tickets").Eq("id", "1"), map[string]any{"title": "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `[]` {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestDelete(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Delete(context.Background(), query.From("comments").Eq("id", "c1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "id=eq.c1" {
		t.Errorf("unexpected query %s", gotQuery)
	}
}

func TestCircuitOpensOnServerErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var err error
	for i := 0; i < 6; i++ {
		_, err = c.Select(context.Background(), query.From("tickets"))
	}
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestInvoke(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/functions/v1/create-user":
			w.Write([]byte(`{"success":true,"data":{"id":"u9"}}`))
		case "/functions/v1/delete-user":
			w.Write([]byte(`{"success":false,"error":"cannot delete yourself"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	var out struct {
		ID string `json:"id"`
	}
	if err := c.Invoke(context.Background(), "create-user", map[string]any{"email": "a@b.c"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "u9" {
		t.Errorf("expected u9, got %s", out.ID)
	}

	err := c.Invoke(context.Background(), "delete-user", map[string]any{"id": "u9"}, nil)
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Err.Error() != "cannot delete yourself" {
		t.Errorf("unexpected message %q", ext.Err.Error())
	}
}

func TestProfileResolver(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("auth_user_id") == "eq.auth-1" {
			w.Write([]byte(`[{"id":"u1","name":"Ana","email":"ana@x.com","roles":["admin"]}]`))
			return
		}
		w.Write([]byte(`[]`))
	})
	resolver := supabase.NewProfileResolver(c, cache.New[domain.UserRef](time.Minute), zap.NewNop())

	ctx := domain.WithSession(context.Background(), domain.Session{AuthUserID: "auth-1"})
	id, err := resolver.CurrentUserID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "u1" {
		t.Errorf("expected u1, got %s", id)
	}
	ref, _ := resolver.CurrentUser(ctx)
	if !ref.HasRole(domain.RoleAdmin) {
		t.Error("expected admin role")
	}
	if calls != 1 {
		t.Errorf("expected cached lookup, got %d calls", calls)
	}

	_, err = resolver.CurrentUserID(context.Background())
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Errorf("expected ErrUnauthorized without session, got %v", err)
	}

	other := domain.WithSession(context.Background(), domain.Session{AuthUserID: "auth-2"})
	if _, err := resolver.CurrentUserID(other); !errors.As(err, &unauth) {
		t.Errorf("expected ErrUnauthorized without profile, got %v", err)
	}
}
