package service

import (
	"context"
	"encoding/json"
	"net/mail"
	"strings"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var userTracer = otel.Tracer("service/users")

const (
	createUserFunction = "create-user"
	deleteUserFunction = "delete-user"
)

// NewUser is the input of UserService.Create.
type NewUser struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
	Color    string   `json:"color,omitempty"`
}

// UserService manages profiles. Creating and deleting users needs an auth
// identity as well as a row, so both go through edge functions.
type UserService struct {
	repo      *entity.Repository[domain.User]
	store     *entity.Store[domain.User]
	functions port.FunctionInvoker
	logger    *zap.Logger
}

// NewUserService creates a user service over the user binding.
func NewUserService(b *Binding[domain.User], functions port.FunctionInvoker, logger *zap.Logger) *UserService {
	return &UserService{repo: b.Repo, store: b.Store, functions: functions, logger: logger}
}

// Create provisions the identity and profile, then adds the profile to the store.
func (s *UserService) Create(ctx context.Context, req NewUser) (*domain.User, error) {
	ctx, span := userTracer.Start(ctx, "UserService.Create")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "obrigatório"}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, &domain.ErrValidation{Field: "email", Message: "e-mail inválido"}
	}
	if len(req.Password) < 6 {
		return nil, &domain.ErrValidation{Field: "password", Message: "senha deve ter ao menos 6 caracteres"}
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{domain.RoleUser}
	}
	for _, u := range s.store.Items() {
		if strings.EqualFold(u.Email, req.Email) {
			return nil, &domain.ErrConflict{Message: "e-mail já cadastrado: " + req.Email}
		}
	}

	var data json.RawMessage
	if err := s.functions.Invoke(ctx, createUserFunction, req, &data); err != nil {
		return nil, err
	}
	id := createdUserID(data)
	if id == "" {
		// The function did not echo the row; fall back to a reload.
		s.store.Load(ctx, entity.Filter{})
		for _, u := range s.store.Items() {
			if strings.EqualFold(u.Email, req.Email) {
				return &u, nil
			}
		}
		return nil, &domain.ErrNotFound{Resource: "user", ID: req.Email}
	}

	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	s.store.Upsert(*u)
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.Strings("roles", u.Roles))
	return u, nil
}

// Delete removes the identity and the profile.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx, span := userTracer.Start(ctx, "UserService.Delete")
	defer span.End()

	if id == "" {
		return &domain.ErrValidation{Field: "id", Message: "obrigatório"}
	}
	if err := s.functions.Invoke(ctx, deleteUserFunction, map[string]string{"userId": id}, nil); err != nil {
		return err
	}
	s.store.RemoveID(id)
	s.logger.Info("user deleted", zap.String("user_id", id))
	return nil
}

// SetRoles replaces the roles of a profile.
func (s *UserService) SetRoles(ctx context.Context, id string, roles []string) (*domain.User, error) {
	for _, r := range roles {
		switch r {
		case domain.RoleAdmin, domain.RoleManager, domain.RoleUser:
		default:
			return nil, &domain.ErrValidation{Field: "roles", Message: "papel desconhecido: " + r}
		}
	}
	return s.store.Update(ctx, id, entity.Patch{"roles": roles})
}

// createdUserID digs the profile id out of the create-user response, which
// is either the row itself or {user: row} / {profile: row}.
func createdUserID(data json.RawMessage) string {
	type idOnly struct {
		ID string `json:"id"`
	}
	var shape struct {
		ID      string  `json:"id"`
		User    *idOnly `json:"user"`
		Profile *idOnly `json:"profile"`
	}
	if len(data) == 0 || json.Unmarshal(data, &shape) != nil {
		return ""
	}
	switch {
	case shape.Profile != nil && shape.Profile.ID != "":
		return shape.Profile.ID
	case shape.User != nil && shape.User.ID != "":
		return shape.User.ID
	}
	return shape.ID
}
