package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Generic entity handlers
// ============================================================

// workItemFilters are the list filters shared by tickets, admissions,
// terminations and leads: query parameter → domain field.
var workItemFilters = map[string]string{
	"status":   "statusId",
	"assignee": "assignedToId",
	"priority": "priority",
	"private":  "isPrivate",
}

// writes selects the generic write routes a resource exposes. Resources with
// dedicated services register their own routes instead.
type writes struct {
	create bool
	update bool
	remove bool
	// locked fields are refused by the generic PATCH; a dedicated route owns them.
	locked []string
}

var allWrites = writes{create: true, update: true, remove: true}

// visibility says who may read a store snapshot. Stores are loaded with the
// service role, so only tables without per-row policies are shared; the
// others are read through the backend under the caller's token.
type visibility int

const (
	perCaller visibility = iota
	shared
)

type resource[T entity.Entity] struct {
	name       string
	binding    *service.Binding[T]
	filters    map[string]string
	visibility visibility
	locked     []string
	logger     *zap.Logger
}

func mountResource[T entity.Entity](r chi.Router, name string, b *service.Binding[T], vis visibility, filters map[string]string, w writes, logger *zap.Logger) {
	res := &resource[T]{name: name, binding: b, filters: filters, visibility: vis, locked: w.locked, logger: logger}
	r.Get("/", res.list)
	r.Get("/search", res.search)
	r.Post("/reload", res.reload)
	r.Get("/{id}", res.get)
	if w.create {
		r.Post("/", res.create)
	}
	if w.update {
		r.Patch("/{id}", res.update)
	}
	if w.remove {
		r.Delete("/{id}", res.remove)
	}
}

// list serves the synchronized store for shared resources. Everything else,
// and any filtered list, reads the backend under the caller's token, so the
// shared store is never narrowed by one caller nor leaked to another.
func (res *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GET /"+res.name)
	defer span.End()

	f := res.filter(r)
	span.SetAttributes(attribute.Int("filters", len(f.Eq)))
	writeJSON(w, http.StatusOK, res.current(ctx, f))
}

func (res *resource[T]) search(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GET /"+res.name+"/search")
	defer span.End()

	items, err := res.binding.Repo.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		res.logger.Warn("search failed", zap.String("entity", res.name), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, readState(items, err))
}

// reload refreshes the shared store with the service role, whoever asks,
// then answers what list would.
func (res *resource[T]) reload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /"+res.name+"/reload")
	defer span.End()

	res.binding.Store.Load(domain.WithoutSession(ctx), entity.Filter{})
	if res.visibility == shared {
		writeJSON(w, http.StatusOK, res.binding.Store.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, res.current(ctx, entity.Filter{}))
}

func (res *resource[T]) current(ctx context.Context, f entity.Filter) entity.State[T] {
	if len(f.Eq) == 0 && res.visibility == shared {
		return res.binding.Store.Snapshot()
	}
	items, err := res.binding.Repo.List(ctx, f)
	if err != nil {
		res.logger.Warn("list failed", zap.String("entity", res.name), zap.Error(err))
	}
	return readState(items, err)
}

func (res *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GET /"+res.name+"/{id}")
	defer span.End()

	id := chi.URLParam(r, "id")
	v, err := res.binding.Store.Lookup(ctx, id)
	if err != nil {
		res.logger.Warn("get failed", zap.String("entity", res.name), zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusOK, readState[T](nil, err))
		return
	}
	if v == nil {
		handleServiceError(w, &domain.ErrNotFound{Resource: res.name, ID: id}, res.logger)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (res *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "POST /"+res.name)
	defer span.End()

	var v T
	if !decodeJSON(w, r, &v) {
		return
	}
	created, err := res.binding.Store.Create(ctx, v)
	if err != nil {
		handleServiceError(w, err, res.logger)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (res *resource[T]) update(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "PATCH /"+res.name+"/{id}")
	defer span.End()

	var p entity.Patch
	if !decodeJSON(w, r, &p) {
		return
	}
	for _, field := range res.locked {
		if _, ok := p[field]; ok {
			handleServiceError(w, &domain.ErrForbidden{Action: "alterar " + field + " de " + res.name}, res.logger)
			return
		}
	}
	updated, err := res.binding.Store.Update(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		handleServiceError(w, err, res.logger)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res *resource[T]) remove(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "DELETE /"+res.name+"/{id}")
	defer span.End()

	if err := res.binding.Store.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err, res.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// filter builds an equality filter from the resource's query parameters.
// "null" matches a null column.
func (res *resource[T]) filter(r *http.Request) entity.Filter {
	q := r.URL.Query()
	params := make([]string, 0, len(res.filters))
	for p := range res.filters {
		params = append(params, p)
	}
	sort.Strings(params)

	f := entity.Filter{Eq: map[string]any{}}
	for _, p := range params {
		v := strings.TrimSpace(q.Get(p))
		if v == "" {
			continue
		}
		field := res.filters[p]
		switch {
		case v == "null":
			f.Eq[field] = nil
		case field == "priority":
			f.Eq[field] = strings.ToUpper(v)
		default:
			f.Eq[field] = v
		}
	}
	return f
}
