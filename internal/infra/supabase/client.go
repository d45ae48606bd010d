// Package supabase provides a client for Supabase (PostgREST, Edge Functions).
// It is the table backend for every synchronized entity.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/query"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
//
// Requests carry the caller's access token when the context holds a session,
// so row-level security applies as it would for the browser. Without a
// session (startup loads, realtime fetch-backs) the service-role key is used.
// Calls are guarded by a circuit breaker and never retried.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	anonKey        string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, anonKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		anonKey:        anonKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		logger:         logger,
	}
}

// --- port.Backend ---

// Select runs a GET on the query and returns the row array.
func (c *Client) Select(ctx context.Context, q *query.Query) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Select")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table()))

	return resilience.Execute(c.cb, func() (json.RawMessage, error) {
		return c.doRequest(ctx, http.MethodGet, q.Encode(), nil)
	})
}

// Insert POSTs row and returns the inserted rows shaped by the query's select.
func (c *Client) Insert(ctx context.Context, q *query.Query, row map[string]any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table()))

	return resilience.Execute(c.cb, func() (json.RawMessage, error) {
		return c.doPost(ctx, q.Encode(), row)
	})
}

// Update PATCHes the rows matched by q and returns them.
func (c *Client) Update(ctx context.Context, q *query.Query, patch map[string]any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table()))

	return resilience.Execute(c.cb, func() (json.RawMessage, error) {
		return c.doPatch(ctx, q.Encode(), patch)
	})
}

// Delete removes the rows matched by q.
func (c *Client) Delete(ctx context.Context, q *query.Query) error {
	ctx, span := tracer.Start(ctx, "Supabase.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table()))

	_, err := resilience.Execute(c.cb, func() (struct{}, error) {
		return struct{}{}, c.doDelete(ctx, q.Encode())
	})
	return err
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	return c.send(ctx, method, url, body, "return=representation")
}

// bearer picks the token for the Authorization header.
func (c *Client) bearer(ctx context.Context) string {
	if s, ok := domain.SessionFrom(ctx); ok && s.AccessToken != "" {
		return s.AccessToken
	}
	return c.serviceRoleKey
}

func (c *Client) apiKey() string {
	if c.anonKey != "" {
		return c.anonKey
	}
	return c.serviceRoleKey
}

// parseError turns a non-2xx body into the backend's own error object.
func parseError(status int, body []byte) *domain.ErrBackend {
	be := &domain.ErrBackend{}
	if err := json.Unmarshal(body, be); err != nil || (be.Message == "" && be.Code == "") {
		be = &domain.ErrBackend{Message: string(body)}
		// Edge functions and the gateway answer {"error": "..."} or {"msg": "..."}.
		var alt struct {
			Error string `json:"error"`
			Msg   string `json:"msg"`
		}
		if json.Unmarshal(body, &alt) == nil {
			if alt.Error != "" {
				be.Message = alt.Error
			} else if alt.Msg != "" {
				be.Message = alt.Msg
			}
		}
	}
	be.Status = status
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}
