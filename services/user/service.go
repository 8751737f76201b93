package user

import (
	"context"
	"errors"
	"strings"

	"ecorewards-engine/pkg/db"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("user.service",
	fx.Provide(NewService),
)

type Service struct {
	node  *snowflake.Node
	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:  p.Node,
		users: repository.ProvideStore[User](p.DB),
	}
}

// Create registers a user with a zero balance. Identity itself lives with
// the external auth provider; this only mirrors what the engine needs.
func (s *Service) Create(ctx context.Context, p CreateParams) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return nil, errutil.BadRequest("email is required", nil)
	}

	role := p.Role
	if role == "" {
		role = RoleUser
	}
	if !role.IsValid() {
		return nil, errutil.BadRequest("invalid role", nil)
	}

	u := &User{
		ID:       s.node.Generate().String(),
		Email:    email,
		Name:     strings.TrimSpace(p.Name),
		Role:     role,
		IsActive: true,
	}

	if err := s.users.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Conflict("email already registered", nil)
		}
		zap.L().Error("failed to create user", zap.Error(err))
		return nil, err
	}

	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{ID: id})
	if err != nil {
		zap.L().Error("failed to query user", zap.String("user_id", id), zap.Error(err))
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// SetActive toggles eligibility without touching the balance.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.users.Update(ctx, id, map[string]any{"is_active": active}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("user not found", nil)
		}
		return err
	}
	return nil
}
