// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the sync and
// service layers from the concrete Supabase, websocket, Postgres, Redis
// and S3 adapters.
package port

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/query"
)

// Backend is the table query surface of the hosted database.
// Every call returns the affected rows as a JSON array.
type Backend interface {
	Select(ctx context.Context, q *query.Query) (json.RawMessage, error)
	Insert(ctx context.Context, q *query.Query, row map[string]any) (json.RawMessage, error)
	Update(ctx context.Context, q *query.Query, patch map[string]any) (json.RawMessage, error)
	Delete(ctx context.Context, q *query.Query) error
}

// FunctionInvoker calls named serverless functions that need privileges
// beyond the caller's row-level permissions.
type FunctionInvoker interface {
	Invoke(ctx context.Context, name string, body any, out any) error
}

// SessionResolver maps the authenticated session to the internal user id.
type SessionResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// ProfileResolver also returns the caller's profile snapshot, for author and
// role checks.
type ProfileResolver interface {
	SessionResolver
	CurrentUser(ctx context.Context) (*domain.UserRef, error)
}

// BlobStore stores attachment objects.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
