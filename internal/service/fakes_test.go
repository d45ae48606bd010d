package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/query"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"go.uber.org/zap"
)

// --- In-memory backend ---

// tableBackend emulates the subset of PostgREST the services use:
// eq/neq/is filters, one ordering column and limit. Embeds are not resolved.
type tableBackend struct {
	mu     sync.Mutex
	seq    int
	clock  time.Time
	tables map[string][]map[string]any
	calls  []string

	// hook runs before every call and may fail it.
	hook func(method, table string) error
}

func newTableBackend() *tableBackend {
	return &tableBackend{clock: time.Now().UTC(), tables: make(map[string][]map[string]any)}
}

func (b *tableBackend) seed(table string, rows ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.tables[table] = append(b.tables[table], normalize(r))
	}
}

func (b *tableBackend) rows(table string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.tables[table]...)
}

func (b *tableBackend) setClock(t time.Time) {
	b.mu.Lock()
	b.clock = t
	b.mu.Unlock()
}

func (b *tableBackend) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (b *tableBackend) enter(method string, q *query.Query) (url.Values, error) {
	b.calls = append(b.calls, method+" "+q.Table())
	if b.hook != nil {
		if err := b.hook(method, q.Table()); err != nil {
			return nil, err
		}
	}
	enc := q.Encode()
	v := url.Values{}
	if i := strings.IndexByte(enc, '?'); i >= 0 {
		v, _ = url.ParseQuery(enc[i+1:])
	}
	return v, nil
}

func (b *tableBackend) Select(_ context.Context, q *query.Query) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	params, err := b.enter("select", q)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, r := range b.tables[q.Table()] {
		if matches(r, params) {
			out = append(out, r)
		}
	}
	if order := params.Get("order"); order != "" {
		col, dir, _ := strings.Cut(strings.Split(order, ",")[0], ".")
		sort.SliceStable(out, func(i, j int) bool {
			if dir == "desc" {
				return less(out[j][col], out[i][col])
			}
			return less(out[i][col], out[j][col])
		})
	}
	if n, err := strconv.Atoi(params.Get("limit")); err == nil && n < len(out) {
		out = out[:n]
	}
	return marshalRows(out), nil
}

func (b *tableBackend) Insert(_ context.Context, q *query.Query, row map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.enter("insert", q); err != nil {
		return nil, err
	}
	r := normalize(row)
	b.seq++
	if _, ok := r["id"]; !ok {
		r["id"] = fmt.Sprintf("%s-%d", q.Table(), b.seq)
	}
	b.clock = b.clock.Add(time.Millisecond)
	r["created_at"] = b.clock.Format(time.RFC3339Nano)
	r["updated_at"] = b.clock.Format(time.RFC3339Nano)
	b.tables[q.Table()] = append(b.tables[q.Table()], r)
	return marshalRows([]map[string]any{r}), nil
}

func (b *tableBackend) Update(_ context.Context, q *query.Query, patch map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	params, err := b.enter("update", q)
	if err != nil {
		return nil, err
	}
	p := normalize(patch)
	var out []map[string]any
	for _, r := range b.tables[q.Table()] {
		if !matches(r, params) {
			continue
		}
		for k, v := range p {
			r[k] = v
		}
		b.clock = b.clock.Add(time.Millisecond)
		r["updated_at"] = b.clock.Format(time.RFC3339Nano)
		out = append(out, r)
	}
	return marshalRows(out), nil
}

func (b *tableBackend) Delete(_ context.Context, q *query.Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	params, err := b.enter("delete", q)
	if err != nil {
		return err
	}
	kept := b.tables[q.Table()][:0:0]
	for _, r := range b.tables[q.Table()] {
		if !matches(r, params) {
			kept = append(kept, r)
		}
	}
	b.tables[q.Table()] = kept
	return nil
}

func matches(row map[string]any, params url.Values) bool {
	for col, conds := range params {
		switch col {
		case "select", "order", "limit", "offset", "or":
			continue
		}
		for _, c := range conds {
			op, val, _ := strings.Cut(c, ".")
			v, present := row[col]
			switch op {
			case "eq":
				if !present || v == nil || fmt.Sprint(v) != val {
					return false
				}
			case "neq":
				if present && v != nil && fmt.Sprint(v) == val {
					return false
				}
			case "is":
				if val == "null" && v != nil || val != "null" && fmt.Sprint(v) != val {
					return false
				}
			}
		}
	}
	return true
}

func less(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func normalize(row map[string]any) map[string]any {
	raw, _ := json.Marshal(row)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func marshalRows(rows []map[string]any) json.RawMessage {
	if rows == nil {
		rows = []map[string]any{}
	}
	raw, _ := json.Marshal(rows)
	return raw
}

// --- Session and edge functions ---

type fakeProfiles struct {
	user *domain.UserRef
	err  error
}

func (p *fakeProfiles) CurrentUserID(ctx context.Context) (string, error) {
	u, err := p.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (p *fakeProfiles) CurrentUser(context.Context) (*domain.UserRef, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.user == nil {
		return nil, &domain.ErrUnauthorized{Message: "no profile"}
	}
	u := *p.user
	return &u, nil
}

type invocation struct {
	name string
	body json.RawMessage
}

type fakeFunctions struct {
	mu      sync.Mutex
	calls   []invocation
	err     error
	respond func(name string, body json.RawMessage) (json.RawMessage, error)
}

func (f *fakeFunctions) Invoke(_ context.Context, name string, body any, out any) error {
	raw, _ := json.Marshal(body)
	f.mu.Lock()
	f.calls = append(f.calls, invocation{name: name, body: raw})
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.respond == nil || out == nil {
		return nil
	}
	data, err := f.respond(name, raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeFunctions) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

// --- Catalog ---

func newTestCatalog(backend *tableBackend, profiles *fakeProfiles) *service.Catalog {
	return service.NewCatalog(service.CatalogDeps{
		Backend:  backend,
		Session:  profiles,
		CacheTTL: time.Minute,
		Metrics:  observability.NewMetrics(),
		Logger:   zap.NewNop(),
	})
}

func ptr[T any](v T) *T { return &v }
