package service

import (
	"context"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var statusTracer = otel.Tracer("service/statuses")

// StatusService manages the per-scope status columns of the boards.
type StatusService struct {
	repo   *entity.Repository[domain.Status]
	store  *entity.Store[domain.Status]
	logger *zap.Logger
}

// NewStatusService creates a status service over the status binding.
func NewStatusService(b *Binding[domain.Status], logger *zap.Logger) *StatusService {
	return &StatusService{repo: b.Repo, store: b.Store, logger: logger}
}

// Create inserts s. When Order is unset the status goes after the current
// last one of its scope; when IsDefault is set the previous default is cleared.
func (s *StatusService) Create(ctx context.Context, st domain.Status) (*domain.Status, error) {
	ctx, span := statusTracer.Start(ctx, "StatusService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("scope", st.Scope))

	if st.Scope == "" {
		return nil, &domain.ErrValidation{Field: "scope", Message: "obrigatório"}
	}
	existing, err := s.repo.List(ctx, entity.Filter{Eq: map[string]any{"scope": st.Scope}})
	if err != nil {
		return nil, err
	}
	if st.Order == 0 {
		last := 0
		for _, e := range existing {
			if e.Order > last {
				last = e.Order
			}
		}
		st.Order = last + 1
	}
	if len(existing) == 0 {
		st.IsDefault = true
	}

	created, err := s.store.Create(ctx, st)
	if err != nil {
		return nil, err
	}
	if created.IsDefault {
		if err := s.clearDefaults(ctx, existing, created.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// SetDefault makes id the only default status of its scope.
func (s *StatusService) SetDefault(ctx context.Context, id string) (*domain.Status, error) {
	ctx, span := statusTracer.Start(ctx, "StatusService.SetDefault")
	defer span.End()

	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &domain.ErrNotFound{Resource: "status", ID: id}
	}
	siblings, err := s.repo.List(ctx, entity.Filter{Eq: map[string]any{"scope": target.Scope}})
	if err != nil {
		return nil, err
	}
	if err := s.clearDefaults(ctx, siblings, id); err != nil {
		return nil, err
	}
	if target.IsDefault {
		return target, nil
	}
	return s.store.Update(ctx, id, entity.Patch{"isDefault": true})
}

// Reorder assigns order 1..n following ids. Updates are sent one at a time;
// a failure stops the loop and the updates already sent stay committed.
func (s *StatusService) Reorder(ctx context.Context, ids []string) error {
	ctx, span := statusTracer.Start(ctx, "StatusService.Reorder")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(ids)))

	for i, id := range ids {
		if _, err := s.store.Update(ctx, id, entity.Patch{"order": i + 1}); err != nil {
			s.logger.Warn("status reorder interrupted",
				zap.Int("committed", i),
				zap.Int("total", len(ids)),
				zap.Error(err),
			)
			return &domain.ErrPartialReorder{Committed: i, Total: len(ids), Err: err}
		}
	}
	return nil
}

func (s *StatusService) clearDefaults(ctx context.Context, statuses []domain.Status, keep string) error {
	for _, st := range statuses {
		if st.ID == keep || !st.IsDefault {
			continue
		}
		if _, err := s.store.Update(ctx, st.ID, entity.Patch{"isDefault": false}); err != nil {
			return err
		}
	}
	return nil
}
