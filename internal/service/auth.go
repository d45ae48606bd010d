package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var authTracer = otel.Tracer("service/auth")

// DefaultAudience is the audience of Supabase user access tokens.
const DefaultAudience = "authenticated"

// AccessClaims are the claims of a Supabase access token.
type AccessClaims struct {
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AuthService validates the bearer tokens issued by Supabase Auth. Tokens
// are minted by the backend; this service never signs or refreshes them.
type AuthService struct {
	jwtSecret []byte
	audience  string
	profiles  port.ProfileResolver
	logger    *zap.Logger
}

// NewAuthService creates an auth service for tokens signed with jwtSecret.
func NewAuthService(jwtSecret, audience string, profiles port.ProfileResolver, logger *zap.Logger) *AuthService {
	if audience == "" {
		audience = DefaultAudience
	}
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		audience:  audience,
		profiles:  profiles,
		logger:    logger,
	}
}

// ValidateAccessToken checks signature, expiry and audience.
func (s *AuthService) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "autenticação não configurada"}
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithAudience(s.audience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token sem usuário"}
	}
	return claims, nil
}

// Session validates tokenString and returns the session it carries.
func (s *AuthService) Session(tokenString string) (domain.Session, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		AuthUserID:  claims.Subject,
		Email:       strings.ToLower(claims.Email),
		AccessToken: tokenString,
		Role:        claims.Role,
	}, nil
}

// Me returns the profile of the session in ctx.
func (s *AuthService) Me(ctx context.Context) (*domain.UserRef, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Me")
	defer span.End()

	u, err := s.profiles.CurrentUser(ctx)
	if err != nil {
		s.logger.Debug("profile lookup failed", zap.Error(err))
		return nil, err
	}
	return u, nil
}
