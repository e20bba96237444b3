package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/campusreg/apiserver/internal/badge"
	"github.com/campusreg/apiserver/internal/storage"
	"github.com/campusreg/apiserver/types"
)

// BadgeService renders student badge QR codes, backed by an optional object
// store cache so repeat downloads skip the render.
type BadgeService struct {
	accounts AccountRepository
	cache    storage.ObjectStore
	logger   *slog.Logger
}

func NewBadgeService(accounts AccountRepository, cache storage.ObjectStore, logger *slog.Logger) *BadgeService {
	return &BadgeService{accounts: accounts, cache: cache, logger: logger}
}

// Badge returns the PNG badge for the account, from cache when possible.
func (s *BadgeService) Badge(ctx context.Context, accountID string) ([]byte, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if png, ok := s.fromCache(ctx, accountID); ok {
		return png, nil
	}

	png, err := badge.Render(account)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, accountID, png)
	return png, nil
}

// CanAccess reports whether the actor may fetch the badge: admins may fetch
// any, students only their own.
func (s *BadgeService) CanAccess(actorID, actorRole, accountID string) bool {
	return actorRole == types.RoleAdmin || actorID == accountID
}

func (s *BadgeService) fromCache(ctx context.Context, accountID string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	reader, err := s.cache.Get(ctx, badge.ObjectName(accountID))
	if err != nil {
		return nil, false
	}
	defer reader.Close()

	png, err := io.ReadAll(reader)
	if err != nil || len(png) == 0 {
		return nil, false
	}
	return png, true
}

func (s *BadgeService) toCache(ctx context.Context, accountID string, png []byte) {
	if s.cache == nil {
		return
	}
	key := badge.ObjectName(accountID)
	err := s.cache.Put(ctx, key, bytes.NewReader(png), int64(len(png)), "image/png")
	if err != nil {
		s.logger.Warn("failed to cache badge", "account_id", accountID, "error", err)
	}
}
