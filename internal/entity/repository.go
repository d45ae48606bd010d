package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/port"
	"github.com/boddenberg/atas-admin-go/internal/query"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("entity")

// Source is the CRUD contract a Store and a Reconciler rely on.
type Source[T any] interface {
	List(ctx context.Context, f Filter) ([]T, error)
	Get(ctx context.Context, id string) (*T, error)
	Create(ctx context.Context, v T) (*T, error)
	Update(ctx context.Context, id string, p Patch) (*T, error)
	Remove(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, q string) ([]T, error)
}

// Filter narrows List. Eq is keyed by domain field name; a nil value
// matches NULL. Search is a free-text term over the search columns.
type Filter struct {
	Eq     map[string]any
	Search string
}

// Config parameterizes a Repository for one table.
type Config[T any] struct {
	Table   string
	Mapping *Mapping[T]

	// OrderBy is the wire column for list ordering, created_at by default.
	OrderBy   string
	Ascending bool

	SearchColumns []string
	// NumericSearchColumn is also matched by equality when the term is all digits.
	NumericSearchColumn string
	SearchLimit         int

	// CreatorColumn receives the caller's internal user id on create.
	CreatorColumn string

	// Legacy maps a current column to its pre-migration name. An operation
	// failing because the current column is missing is retried once with it.
	Legacy map[string]string

	// BeforeCreate may fill defaults into the wire row or reject it.
	BeforeCreate func(ctx context.Context, row map[string]any) error
	// Validate checks a wire row (full on create, partial on update).
	Validate func(row map[string]any) error
}

// Repository is a typed passthrough to one backend table.
type Repository[T any] struct {
	cfg     Config[T]
	backend port.Backend
	session port.SessionResolver
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRepository creates a repository for cfg.Table.
func NewRepository[T any](cfg Config[T], backend port.Backend, session port.SessionResolver, metrics *observability.Metrics, logger *zap.Logger) *Repository[T] {
	if cfg.OrderBy == "" {
		cfg.OrderBy = "created_at"
	}
	return &Repository[T]{
		cfg:     cfg,
		backend: backend,
		session: session,
		metrics: metrics,
		logger:  logger.With(zap.String("table", cfg.Table)),
	}
}

// Table returns the backing table name.
func (r *Repository[T]) Table() string { return r.cfg.Table }

// Mapping returns the field mapping.
func (r *Repository[T]) Mapping() *Mapping[T] { return r.cfg.Mapping }

// List returns all rows matching f, newest first unless configured otherwise.
func (r *Repository[T]) List(ctx context.Context, f Filter) ([]T, error) {
	ctx, span := tracer.Start(ctx, "Repository.List")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table))

	var out []T
	err := r.withLegacy(ctx, func(ren map[string]string) error {
		q := r.base(ren)
		keys := make([]string, 0, len(f.Eq))
		for k := range f.Eq {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			wire, ok := r.cfg.Mapping.WireName(k)
			if !ok {
				return &domain.ErrValidation{Field: k, Message: "unknown filter field"}
			}
			if v := f.Eq[k]; v == nil {
				q.Is(rename(wire, ren), "null")
			} else {
				q.Eq(rename(wire, ren), v)
			}
		}
		if term := strings.TrimSpace(f.Search); term != "" {
			q.Or(r.searchConds(term, ren)...)
		}

		raw, err := r.do(ctx, "select", func() (json.RawMessage, error) { return r.backend.Select(ctx, q) })
		if err != nil {
			return err
		}
		out, err = r.cfg.Mapping.decodeListWith(raw, ren)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one row with its embedded references. A missing row is (nil, nil).
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	ctx, span := tracer.Start(ctx, "Repository.Get")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table), attribute.String("id", id))

	var out *T
	err := r.withLegacy(ctx, func(ren map[string]string) error {
		q := query.From(r.cfg.Table).Select(r.cfg.Mapping.selectWith(ren)).Eq("id", id).Limit(1)
		raw, err := r.do(ctx, "select", func() (json.RawMessage, error) { return r.backend.Select(ctx, q) })
		if err != nil {
			return err
		}
		out, err = r.first(raw, ren)
		return err
	})
	return out, err
}

// Create inserts v. The backend assigns id, timestamps and counters.
func (r *Repository[T]) Create(ctx context.Context, v T) (*T, error) {
	ctx, span := tracer.Start(ctx, "Repository.Create")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table))

	row := r.cfg.Mapping.Encode(&v)
	if r.cfg.CreatorColumn != "" {
		uid, err := r.session.CurrentUserID(ctx)
		if err != nil {
			return nil, err
		}
		row[r.cfg.CreatorColumn] = uid
	}
	if r.cfg.BeforeCreate != nil {
		if err := r.cfg.BeforeCreate(ctx, row); err != nil {
			return nil, err
		}
	}
	if r.cfg.Validate != nil {
		if err := r.cfg.Validate(row); err != nil {
			return nil, err
		}
	}

	var out *T
	err := r.withLegacy(ctx, func(ren map[string]string) error {
		q := query.From(r.cfg.Table).Select(r.cfg.Mapping.selectWith(ren))
		raw, err := r.do(ctx, "insert", func() (json.RawMessage, error) {
			return r.backend.Insert(ctx, q, renameKeys(row, ren))
		})
		if err != nil {
			return err
		}
		out, err = r.first(raw, ren)
		if err == nil && out == nil {
			err = fmt.Errorf("insert into %s returned no row", r.cfg.Table)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("entity created", zap.String("id", idOf(out)))
	return out, nil
}

// Update sends only the fields present in p. A missing row is (nil, nil).
func (r *Repository[T]) Update(ctx context.Context, id string, p Patch) (*T, error) {
	ctx, span := tracer.Start(ctx, "Repository.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table), attribute.String("id", id))

	row, err := r.cfg.Mapping.EncodePatch(p)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return r.Get(ctx, id)
	}
	if r.cfg.Validate != nil {
		if err := r.cfg.Validate(row); err != nil {
			return nil, err
		}
	}

	var out *T
	err = r.withLegacy(ctx, func(ren map[string]string) error {
		q := query.From(r.cfg.Table).Select(r.cfg.Mapping.selectWith(ren)).Eq("id", id)
		raw, err := r.do(ctx, "update", func() (json.RawMessage, error) {
			return r.backend.Update(ctx, q, renameKeys(row, ren))
		})
		if err != nil {
			return err
		}
		out, err = r.first(raw, ren)
		return err
	})
	return out, err
}

// Remove hard-deletes the row.
func (r *Repository[T]) Remove(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Repository.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table), attribute.String("id", id))

	q := query.From(r.cfg.Table).Eq("id", id)
	if _, err := r.do(ctx, "delete", func() (json.RawMessage, error) {
		return nil, r.backend.Delete(ctx, q)
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Search matches term case-insensitively over the search columns, plus the
// numeric column when term is all digits.
func (r *Repository[T]) Search(ctx context.Context, term string) ([]T, error) {
	ctx, span := tracer.Start(ctx, "Repository.Search")
	defer span.End()
	span.SetAttributes(attribute.String("table", r.cfg.Table))

	term = strings.TrimSpace(term)
	var out []T
	err := r.withLegacy(ctx, func(ren map[string]string) error {
		q := r.base(ren)
		if term != "" {
			q.Or(r.searchConds(term, ren)...)
		}
		if r.cfg.SearchLimit > 0 {
			q.Limit(r.cfg.SearchLimit)
		}
		raw, err := r.do(ctx, "select", func() (json.RawMessage, error) { return r.backend.Select(ctx, q) })
		if err != nil {
			return err
		}
		out, err = r.cfg.Mapping.decodeListWith(raw, ren)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T]) base(ren map[string]string) *query.Query {
	return query.From(r.cfg.Table).
		Select(r.cfg.Mapping.selectWith(ren)).
		Order(rename(r.cfg.OrderBy, ren), r.cfg.Ascending)
}

func (r *Repository[T]) searchConds(term string, ren map[string]string) []string {
	conds := make([]string, 0, len(r.cfg.SearchColumns)+1)
	for _, c := range r.cfg.SearchColumns {
		conds = append(conds, query.Cond(rename(c, ren), "ilike", query.Contains(term)))
	}
	if r.cfg.NumericSearchColumn != "" {
		if n, err := strconv.ParseInt(term, 10, 64); err == nil {
			conds = append(conds, query.Cond(rename(r.cfg.NumericSearchColumn, ren), "eq", n))
		}
	}
	return conds
}

// withLegacy runs op against the current schema and, when the backend
// reports one of the Legacy columns as missing, once more with that column
// renamed. Any other error is returned as is.
func (r *Repository[T]) withLegacy(ctx context.Context, op func(renames map[string]string) error) error {
	err := op(nil)
	if err == nil || len(r.cfg.Legacy) == 0 {
		return err
	}
	var be *domain.ErrBackend
	if !errors.As(err, &be) {
		return err
	}
	for column, legacy := range r.cfg.Legacy {
		if !be.MissingColumn(column) {
			continue
		}
		r.logger.Warn("column missing, retrying with legacy name",
			zap.String("column", column),
			zap.String("legacy", legacy),
		)
		r.metrics.IncrSchemaFallback(r.cfg.Table, column)
		return op(map[string]string{column: legacy})
	}
	return err
}

func (r *Repository[T]) do(ctx context.Context, method string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	start := time.Now()
	raw, err := fn()
	r.metrics.RecordBackendDuration(r.cfg.Table, method, time.Since(start))
	if err != nil {
		r.metrics.IncrBackendError(r.cfg.Table)
		r.logger.Debug("backend request failed", zap.String("method", method), zap.Error(err))
	}
	return raw, err
}

func (r *Repository[T]) first(raw json.RawMessage, ren map[string]string) (*T, error) {
	list, err := r.cfg.Mapping.decodeListWith(raw, ren)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func idOf(v any) string {
	if e, ok := v.(Entity); ok {
		return e.EntityID()
	}
	return ""
}
