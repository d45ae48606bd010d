package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/port"
	"github.com/boddenberg/atas-admin-go/internal/query"
)

type ownerRef struct {
	ID   string
	Name string
}

type widget struct {
	ID        string
	Title     string
	Number    int64
	StatusID  *string
	Code      *string
	Owner     *ownerRef
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

func (w widget) EntityID() string { return w.ID }

var ownerMapping = NewMapping(
	Column("id", "id", func(o *ownerRef) *string { return &o.ID }),
	Column("name", "name", func(o *ownerRef) *string { return &o.Name }),
)

func widgetMapping() *Mapping[widget] {
	return NewMapping(
		Column("id", "id", func(w *widget) *string { return &w.ID }, ReadOnly),
		Column("title", "title", func(w *widget) *string { return &w.Title }),
		Column("number", "number", func(w *widget) *int64 { return &w.Number }, ReadOnly),
		Column("status_id", "statusId", func(w *widget) **string { return &w.StatusID }, Nullable),
		Column("ticket_octa", "code", func(w *widget) **string { return &w.Code }, Nullable, OmitZero),
		Nested("owner", "owner", "users!widgets_owner_id_fkey", func(w *widget) **ownerRef { return &w.Owner }, ownerMapping),
		Column("created_by_id", "createdBy", func(w *widget) *string { return &w.CreatedBy }, ReadOnly),
		Column("created_at", "createdAt", func(w *widget) *time.Time { return &w.CreatedAt }, ReadOnly),
		Column("updated_at", "updatedAt", func(w *widget) **time.Time { return &w.UpdatedAt }, ReadOnly),
	)
}

// fakeBackend records every call and answers with scripted functions.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	selectFn func(q *query.Query) (json.RawMessage, error)
	insertFn func(q *query.Query, row map[string]any) (json.RawMessage, error)
	updateFn func(q *query.Query, patch map[string]any) (json.RawMessage, error)
	deleteFn func(q *query.Query) error
}

func (b *fakeBackend) record(method string, q *query.Query) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, method+" "+q.Encode())
}

func (b *fakeBackend) Select(_ context.Context, q *query.Query) (json.RawMessage, error) {
	b.record("select", q)
	if b.selectFn == nil {
		return json.RawMessage(`[]`), nil
	}
	return b.selectFn(q)
}

func (b *fakeBackend) Insert(_ context.Context, q *query.Query, row map[string]any) (json.RawMessage, error) {
	b.record("insert", q)
	return b.insertFn(q, row)
}

func (b *fakeBackend) Update(_ context.Context, q *query.Query, patch map[string]any) (json.RawMessage, error) {
	b.record("update", q)
	return b.updateFn(q, patch)
}

func (b *fakeBackend) Delete(_ context.Context, q *query.Query) error {
	b.record("delete", q)
	if b.deleteFn == nil {
		return nil
	}
	return b.deleteFn(q)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type staticSession string

func (s staticSession) CurrentUserID(context.Context) (string, error) { return string(s), nil }

// params decodes the query string of an encoded query.
func params(q *query.Query) url.Values {
	enc := q.Encode()
	i := strings.IndexByte(enc, '?')
	if i < 0 {
		return url.Values{}
	}
	v, _ := url.ParseQuery(enc[i+1:])
	return v
}

// memorySource is an in-memory Source that assigns ids and timestamps
// the way the backend would.
type memorySource struct {
	mu    sync.Mutex
	seq   int
	rows  []widget
	clock time.Time

	listErr   error
	getErr    error
	createErr error
	updateErr error
	removeErr error

	// private maps a row id to the only auth user allowed to read it, the
	// way a row level security policy would. The service role sees all.
	private map[string]string
}

func newMemorySource(rows ...widget) *memorySource {
	return &memorySource{rows: rows, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memorySource) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memorySource) List(context.Context, Filter) ([]widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]widget(nil), m.rows...), nil
}

func (m *memorySource) Get(ctx context.Context, id string) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if owner, ok := m.private[id]; ok {
		if s, signed := domain.SessionFrom(ctx); signed && s.AuthUserID != owner {
			return nil, nil
		}
	}
	for _, r := range m.rows {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memorySource) Create(_ context.Context, v widget) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.seq++
	v.ID = fmt.Sprintf("w-%d", m.seq)
	v.CreatedAt = m.tick()
	m.rows = append([]widget{v}, m.rows...)
	return &v, nil
}

func (m *memorySource) Update(_ context.Context, id string, p Patch) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	for i, r := range m.rows {
		if r.ID != id {
			continue
		}
		if t, ok := p["title"].(string); ok {
			r.Title = t
		}
		now := m.tick()
		r.UpdatedAt = &now
		m.rows[i] = r
		return &r, nil
	}
	return nil, nil
}

func (m *memorySource) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return false, m.removeErr
	}
	for i, r := range m.rows {
		if r.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *memorySource) Search(_ context.Context, q string) ([]widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []widget
	for _, r := range m.rows {
		if strings.Contains(strings.ToLower(r.Title), strings.ToLower(q)) {
			out = append(out, r)
		}
	}
	return out, nil
}

// put replaces or inserts a row without going through the store.
func (m *memorySource) put(w widget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == w.ID {
			m.rows[i] = w
			return
		}
	}
	m.rows = append(m.rows, w)
}

type fakeChannel struct {
	closed bool
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type fakeFeed struct {
	mu         sync.Mutex
	subscribes int
	handler    port.ChangeHandler
	channels   []*fakeChannel
	err        error
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, h port.ChangeHandler) (port.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.subscribes++
	f.handler = h
	ch := &fakeChannel{}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeFeed) emit(ev port.ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(context.Background(), ev)
}

func row(id string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
}
