package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/port"
	"github.com/boddenberg/atas-admin-go/internal/query"

	"go.uber.org/zap"
)

// ProfileResolver maps the session's auth user to the internal users row.
// Lookups are cached by auth user id.
type ProfileResolver struct {
	backend port.Backend
	cache   port.Cache[domain.UserRef]
	logger  *zap.Logger
}

// NewProfileResolver creates a resolver. cache may be nil.
func NewProfileResolver(backend port.Backend, cache port.Cache[domain.UserRef], logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{backend: backend, cache: cache, logger: logger}
}

// CurrentUserID returns the internal user id of the caller.
func (r *ProfileResolver) CurrentUserID(ctx context.Context) (string, error) {
	ref, err := r.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// CurrentUser returns the caller's profile.
func (r *ProfileResolver) CurrentUser(ctx context.Context) (*domain.UserRef, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CurrentUser")
	defer span.End()

	s, ok := domain.SessionFrom(ctx)
	if !ok {
		return nil, &domain.ErrUnauthorized{Message: "no active session"}
	}
	if r.cache != nil {
		if ref, hit := r.cache.Get(s.AuthUserID); hit {
			return &ref, nil
		}
	}

	q := query.From("users").
		Select("id,name,email,roles,avatar_url,color").
		Eq("auth_user_id", s.AuthUserID).
		Limit(1)
	body, err := r.backend.Select(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}

	var rows []struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Email  string   `json:"email"`
		Roles  []string `json:"roles"`
		Avatar string   `json:"avatar_url"`
		Color  string   `json:"color"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if len(rows) == 0 {
		r.logger.Warn("session without profile", zap.String("auth_user_id", s.AuthUserID))
		return nil, &domain.ErrUnauthorized{Message: "no profile for the current session"}
	}

	row := rows[0]
	ref := domain.UserRef{ID: row.ID, Name: row.Name, Email: row.Email, Roles: row.Roles, Avatar: row.Avatar, Color: row.Color}
	if r.cache != nil {
		r.cache.Set(s.AuthUserID, ref)
	}
	return &ref, nil
}
