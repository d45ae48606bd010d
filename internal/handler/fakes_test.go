package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/handler"
	"github.com/boddenberg/atas-admin-go/internal/infra/blob"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/query"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "handler-test-secret-handler-test-secret"

// memBackend is a minimal PostgREST stand-in: eq and is filters, ordering on
// one column. hook may fail any call. visible, when set, plays the row level
// security policy for selects; authUserID is empty for the service role.
type memBackend struct {
	mu      sync.Mutex
	seq     int
	tables  map[string][]map[string]any
	hook    func(method, table string) error
	visible func(authUserID, table string, row map[string]any) bool
}

func newMemBackend() *memBackend {
	return &memBackend{tables: make(map[string][]map[string]any)}
}

func (b *memBackend) seed(table string, rows ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.tables[table] = append(b.tables[table], roundTrip(r))
	}
}

func (b *memBackend) params(method string, q *query.Query) (url.Values, error) {
	if b.hook != nil {
		if err := b.hook(method, q.Table()); err != nil {
			return nil, err
		}
	}
	_, raw, _ := strings.Cut(q.Encode(), "?")
	v, _ := url.ParseQuery(raw)
	return v, nil
}

func (b *memBackend) Select(ctx context.Context, q *query.Query) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.params("select", q)
	if err != nil {
		return nil, err
	}
	var caller string
	if s, ok := domain.SessionFrom(ctx); ok {
		caller = s.AuthUserID
	}
	var out []map[string]any
	for _, r := range b.tables[q.Table()] {
		if b.visible != nil && caller != "" && !b.visible(caller, q.Table(), r) {
			continue
		}
		if match(r, p) {
			out = append(out, r)
		}
	}
	if order := p.Get("order"); order != "" {
		col, dir, _ := strings.Cut(strings.Split(order, ",")[0], ".")
		sort.SliceStable(out, func(i, j int) bool {
			a, c := fmt.Sprint(out[i][col]), fmt.Sprint(out[j][col])
			if dir == "desc" {
				return a > c
			}
			return a < c
		})
	}
	return rowsJSON(out), nil
}

func (b *memBackend) Insert(_ context.Context, q *query.Query, row map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.params("insert", q); err != nil {
		return nil, err
	}
	r := roundTrip(row)
	b.seq++
	if _, ok := r["id"]; !ok {
		r["id"] = fmt.Sprintf("%s-%d", q.Table(), b.seq)
	}
	now := time.Now().UTC().Add(time.Duration(b.seq) * time.Millisecond).Format(time.RFC3339Nano)
	r["created_at"], r["updated_at"] = now, now
	b.tables[q.Table()] = append(b.tables[q.Table()], r)
	return rowsJSON([]map[string]any{r}), nil
}

func (b *memBackend) Update(_ context.Context, q *query.Query, patch map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.params("update", q)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, r := range b.tables[q.Table()] {
		if match(r, p) {
			for k, v := range roundTrip(patch) {
				r[k] = v
			}
			out = append(out, r)
		}
	}
	return rowsJSON(out), nil
}

func (b *memBackend) Delete(_ context.Context, q *query.Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.params("delete", q)
	if err != nil {
		return err
	}
	var kept []map[string]any
	for _, r := range b.tables[q.Table()] {
		if !match(r, p) {
			kept = append(kept, r)
		}
	}
	b.tables[q.Table()] = kept
	return nil
}

func match(row map[string]any, p url.Values) bool {
	for col, conds := range p {
		switch col {
		case "select", "order", "limit", "offset", "or":
			continue
		}
		for _, c := range conds {
			op, val, _ := strings.Cut(c, ".")
			v := row[col]
			switch op {
			case "eq":
				if v == nil || fmt.Sprint(v) != val {
					return false
				}
			case "is":
				if val == "null" && v != nil {
					return false
				}
			}
		}
	}
	return true
}

func roundTrip(row map[string]any) map[string]any {
	raw, _ := json.Marshal(row)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func rowsJSON(rows []map[string]any) json.RawMessage {
	if rows == nil {
		rows = []map[string]any{}
	}
	raw, _ := json.Marshal(rows)
	return raw
}

type fakeProfiles struct {
	mu   sync.Mutex
	user *domain.UserRef
}

func (p *fakeProfiles) set(u *domain.UserRef) {
	p.mu.Lock()
	p.user = u
	p.mu.Unlock()
}

func (p *fakeProfiles) CurrentUserID(ctx context.Context) (string, error) {
	u, err := p.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (p *fakeProfiles) CurrentUser(context.Context) (*domain.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil, &domain.ErrUnauthorized{Message: "perfil não encontrado"}
	}
	u := *p.user
	return &u, nil
}

type fakeFunctions struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeFunctions) Invoke(_ context.Context, name string, _ any, out any) error {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	if name == "create-user" && out != nil {
		return json.Unmarshal([]byte(`{"id":"created-user"}`), out)
	}
	return nil
}

// env is a router wired over in-memory adapters.
type env struct {
	t        *testing.T
	backend  *memBackend
	profiles *fakeProfiles
	blobs    *blob.Memory
	ws       *service.Workspace
	router   http.Handler
	token    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:        t,
		backend:  newMemBackend(),
		profiles: &fakeProfiles{user: &domain.UserRef{ID: "u-ana", Name: "Ana", Email: "ana@empresa.com", Roles: []string{domain.RoleManager}}},
		blobs:    blob.NewMemory(),
	}
	e.backend.seed(service.TableStatuses,
		map[string]any{"id": "st-open", "scope": service.TableTickets, "name": "Aberto", "color": "#00ff00", "order_index": 1, "is_default": true},
		map[string]any{"id": "st-done", "scope": service.TableTickets, "name": "Concluído", "color": "#0000ff", "order_index": 2},
	)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	functions := &fakeFunctions{}
	catalog := service.NewCatalog(service.CatalogDeps{
		Backend: e.backend,
		Session: e.profiles,
		Metrics: metrics,
		Logger:  logger,
	})
	e.ws = service.NewWorkspace(catalog, 0, logger)
	e.router = handler.NewRouter(handler.Deps{
		Workspace:     e.ws,
		Auth:          service.NewAuthService(testSecret, "", e.profiles, logger),
		Statuses:      service.NewStatusService(catalog.Statuses, logger),
		Comments:      service.NewCommentService(catalog, e.profiles, functions, e.blobs, 0, logger),
		Users:         service.NewUserService(catalog.Users, functions, logger),
		Notifications: service.NewNotificationService(catalog.Notifications, e.profiles, logger),
		Metrics:       metrics,
		Logger:        logger,
	})

	e.token = e.tokenFor("auth-ana")
	return e
}

// tokenFor signs an access token for the given auth user.
func (e *env) tokenFor(sub string) string {
	e.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": "authenticated",
		"aud":  "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		e.t.Fatal(err)
	}
	return token
}
