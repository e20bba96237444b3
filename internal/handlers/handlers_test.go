package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/campusreg/apiserver/config"
	"github.com/campusreg/apiserver/internal/mailer"
	"github.com/campusreg/apiserver/internal/ratelimit"
	"github.com/campusreg/apiserver/internal/services"
	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/internal/token"
	"github.com/campusreg/apiserver/types"
)

const testLoginThreshold = 3

// memoryAccounts is an in-memory account repository for handler tests.
type memoryAccounts struct {
	mu   sync.Mutex
	byID map[string]types.Account
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: make(map[string]types.Account)}
}

func (m *memoryAccounts) GetByID(ctx context.Context, id string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (m *memoryAccounts) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if strings.EqualFold(account.Email, email) {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memoryAccounts) GetByGoogleID(ctx context.Context, googleID string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if account.GoogleID != nil && *account.GoogleID == googleID {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memoryAccounts) Create(ctx context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Email, account.Email) {
			return types.Account{}, store.ErrDuplicateEmail
		}
		if existing.RegistrationNumber == account.RegistrationNumber {
			return types.Account{}, store.ErrDuplicateRegistrationNumber
		}
	}
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	m.byID[account.ID] = account
	return account, nil
}

func (m *memoryAccounts) Update(ctx context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[account.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	for _, existing := range m.byID {
		if existing.ID != account.ID && strings.EqualFold(existing.Email, account.Email) {
			return types.Account{}, store.ErrDuplicateEmail
		}
	}
	account.UpdatedAt = time.Now()
	m.byID[account.ID] = account
	return account, nil
}

func (m *memoryAccounts) SetPassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	account.PasswordHash = passwordHash
	m.byID[id] = account
	return nil
}

func (m *memoryAccounts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memoryAccounts) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]types.Account, 0, len(m.byID))
	for _, account := range m.byID {
		all = append(all, account)
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].RegistrationNumber < all[j-1].RegistrationNumber; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memoryAccounts) MaxRegistrationNumber(ctx context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := ""
	for _, account := range m.byID {
		if strings.HasPrefix(account.RegistrationNumber, prefix) && account.RegistrationNumber > max {
			max = account.RegistrationNumber
		}
	}
	if max == "" {
		return "", store.ErrNotFound
	}
	return max, nil
}

type staticGoogle struct {
	identity services.GoogleIdentity
}

func (g *staticGoogle) Verify(ctx context.Context, idToken string) (services.GoogleIdentity, error) {
	return g.identity, nil
}

type apiFixture struct {
	server   *httptest.Server
	accounts *memoryAccounts
	tokens   *token.Issuer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	accounts := newMemoryAccounts()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewFailureLimiter(rdb, testLoginThreshold, time.Minute)
	tokens := token.NewIssuer("test-secret", "test-issuer")
	outbox := mailer.NewOutbox(nil, logger)

	authService := services.NewAuthService(accounts, limiter, tokens, &staticGoogle{}, outbox, logger, config.AuthConfig{
		SessionTTL:    time.Hour,
		RememberMeTTL: 30 * 24 * time.Hour,
		ResetTokenTTL: time.Hour,
	})
	userService := services.NewUserService(accounts, nil, logger)
	badgeService := services.NewBadgeService(accounts, nil, logger)

	authHandler := NewAuthHandler(authService, true)
	userHandler := NewUserHandler(userService, badgeService)
	authMiddleware := RequireAuth(tokens)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, authHandler, authMiddleware)
	})
	router.With(authMiddleware).Get("/profile", authHandler.Profile)
	router.Route("/users", func(r chi.Router) {
		BadgeRouter(r, userHandler, authMiddleware)
	})
	router.Route("/admin/users", func(r chi.Router) {
		AdminUserRouter(r, userHandler, authMiddleware)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, accounts: accounts, tokens: tokens}
}

func (f *apiFixture) request(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var value T
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return value
}

func (f *apiFixture) registerStudent(t *testing.T, email string) AuthResponse {
	t.Helper()
	resp := f.request(t, http.MethodPost, "/auth/register", "", map[string]any{
		"firstName":   "Ada",
		"lastName":    "Lovelace",
		"email":       email,
		"password":    "correct horse battery",
		"dateOfBirth": "2000-12-10",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	return decodeBody[AuthResponse](t, resp)
}

func (f *apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	admin, err := f.accounts.Create(context.Background(), types.Account{
		ID:                 "admin-1",
		FirstName:          "Root",
		LastName:           "Admin",
		Email:              "admin@example.com",
		Role:               types.RoleAdmin,
		RegistrationNumber: "REG0000001",
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	signed, err := f.tokens.IssueLogin(admin.ID, admin.Role, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return signed
}
