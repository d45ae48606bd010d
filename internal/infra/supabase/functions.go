package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// functionEnvelope is the reply shape shared by the project's edge functions.
type functionEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Invoke calls the edge function name with body and decodes its data into out
// (out may be nil). It implements port.FunctionInvoker.
func (c *Client) Invoke(ctx context.Context, name string, body any, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("function", name))

	url := fmt.Sprintf("%s/functions/v1/%s", c.baseURL, name)
	raw, err := resilience.Execute(c.cb, func() (json.RawMessage, error) {
		return c.send(ctx, http.MethodPost, url, body, "")
	})
	if err != nil {
		var be *domain.ErrBackend
		if errors.As(err, &be) && be.Status < 500 {
			return &domain.ErrValidation{Field: name, Message: be.Message}
		}
		return &domain.ErrExternalService{Service: "functions/" + name, Err: err}
	}

	var env functionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &domain.ErrExternalService{Service: "functions/" + name, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "function reported failure"
		}
		c.logger.Warn("supabase: function failed", zap.String("function", name), zap.String("error", msg))
		return &domain.ErrExternalService{Service: "functions/" + name, Err: errors.New(msg)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", name, err)
	}
	return nil
}
