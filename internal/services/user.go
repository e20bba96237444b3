package services

import (
	"context"
	"log/slog"

	"github.com/campusreg/apiserver/internal/badge"
	"github.com/campusreg/apiserver/internal/storage"
	"github.com/campusreg/apiserver/types"
)

// UserService encapsulates the admin-facing account use-cases.
type UserService struct {
	accounts AccountRepository
	badges   storage.ObjectStore
	logger   *slog.Logger
}

func NewUserService(accounts AccountRepository, badges storage.ObjectStore, logger *slog.Logger) *UserService {
	return &UserService{accounts: accounts, badges: badges, logger: logger}
}

func (s *UserService) Get(ctx context.Context, id string) (types.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.accounts.List(ctx, offset, limit)
}

// UpdateInput carries the admin-editable account fields. Nil pointers leave
// the current value untouched. Registration numbers are never editable.
type UpdateInput struct {
	FirstName   *string
	LastName    *string
	Email       *string
	DateOfBirth *string
	Role        *string
}

func (s *UserService) Update(ctx context.Context, id string, input UpdateInput) (types.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return types.Account{}, err
	}

	if input.FirstName != nil {
		account.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		account.LastName = *input.LastName
	}
	if input.Email != nil {
		account.Email = normalizeEmail(*input.Email)
	}
	if input.DateOfBirth != nil {
		account.DateOfBirth = *input.DateOfBirth
	}
	if input.Role != nil {
		if *input.Role != types.RoleStudent && *input.Role != types.RoleAdmin {
			return types.Account{}, ErrInvalidRole
		}
		account.Role = *input.Role
	}

	updated, err := s.accounts.Update(ctx, account)
	if err != nil {
		return types.Account{}, err
	}

	// The cached badge embeds identity fields, drop it on any change.
	s.invalidateBadge(ctx, id)
	return updated, nil
}

// Delete removes a student account. Admin accounts are refused so the last
// admin cannot be removed through the API.
func (s *UserService) Delete(ctx context.Context, id string) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if account.Role == types.RoleAdmin {
		return ErrAdminProtected
	}

	if err := s.accounts.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateBadge(ctx, id)
	return nil
}

func (s *UserService) invalidateBadge(ctx context.Context, accountID string) {
	if s.badges == nil {
		return
	}
	if err := s.badges.Delete(ctx, badge.ObjectName(accountID)); err != nil {
		s.logger.Warn("failed to invalidate cached badge", "account_id", accountID, "error", err)
	}
}
