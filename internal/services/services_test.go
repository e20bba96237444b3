package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/campusreg/apiserver/config"
	"github.com/campusreg/apiserver/internal/mailer"
	"github.com/campusreg/apiserver/internal/mq"
	"github.com/campusreg/apiserver/internal/ratelimit"
	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/internal/token"
	"github.com/campusreg/apiserver/types"
)

// fakeAccounts is an in-memory AccountRepository that mirrors the unique
// constraints of the real schema.
type fakeAccounts struct {
	mu   sync.Mutex
	byID map[string]types.Account

	// staleMax, when set, is returned by the next MaxRegistrationNumber
	// call to simulate a concurrent registration racing past us.
	staleMax string
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: make(map[string]types.Account)}
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.byID {
		if strings.EqualFold(account.Email, email) {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (f *fakeAccounts) GetByGoogleID(ctx context.Context, googleID string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.byID {
		if account.GoogleID != nil && *account.GoogleID == googleID {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (f *fakeAccounts) Create(ctx context.Context, account types.Account) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
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
	f.byID[account.ID] = account
	return account, nil
}

func (f *fakeAccounts) Update(ctx context.Context, account types.Account) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[account.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	for _, existing := range f.byID {
		if existing.ID != account.ID && strings.EqualFold(existing.Email, account.Email) {
			return types.Account{}, store.ErrDuplicateEmail
		}
	}
	account.UpdatedAt = time.Now()
	f.byID[account.ID] = account
	return account, nil
}

func (f *fakeAccounts) SetPassword(ctx context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now()
	f.byID[id] = account
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeAccounts) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]types.Account, 0, len(f.byID))
	for _, account := range f.byID {
		all = append(all, account)
	}
	sortByRegistrationNumber(all)

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

func sortByRegistrationNumber(accounts []types.Account) {
	for i := 1; i < len(accounts); i++ {
		for j := i; j > 0 && accounts[j].RegistrationNumber < accounts[j-1].RegistrationNumber; j-- {
			accounts[j], accounts[j-1] = accounts[j-1], accounts[j]
		}
	}
}

func (f *fakeAccounts) MaxRegistrationNumber(ctx context.Context, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleMax != "" {
		stale := f.staleMax
		f.staleMax = ""
		return stale, nil
	}
	max := ""
	for _, account := range f.byID {
		if strings.HasPrefix(account.RegistrationNumber, prefix) && account.RegistrationNumber > max {
			max = account.RegistrationNumber
		}
	}
	if max == "" {
		return "", store.ErrNotFound
	}
	return max, nil
}

// captureBroker records published messages so tests can assert on queued
// mail without a running broker.
type captureBroker struct {
	mu        sync.Mutex
	published []mq.Message
}

func (b *captureBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, mq.Message{ID: "msg", Data: data, Attributes: attrs})
	return "msg", nil
}

func (b *captureBroker) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	return nil
}

func (b *captureBroker) Close() error { return nil }

func (b *captureBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fakeGoogle struct {
	identity GoogleIdentity
	err      error
}

func (g *fakeGoogle) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if g.err != nil {
		return GoogleIdentity{}, g.err
	}
	return g.identity, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testLoginThreshold = 3

type authFixture struct {
	svc      *AuthService
	accounts *fakeAccounts
	broker   *captureBroker
	google   *fakeGoogle
	redis    *miniredis.Miniredis
	tokens   *token.Issuer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	accounts := newFakeAccounts()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := ratelimit.NewFailureLimiter(rdb, testLoginThreshold, time.Minute)
	tokens := token.NewIssuer("test-secret", "test-issuer")
	broker := &captureBroker{}
	google := &fakeGoogle{}

	svc := NewAuthService(
		accounts,
		limiter,
		tokens,
		google,
		mailer.NewOutbox(broker, discardLogger()),
		discardLogger(),
		config.AuthConfig{
			SessionTTL:    time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
			ResetTokenTTL: time.Hour,
		},
	)
	svc.now = func() time.Time {
		return time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)
	}

	return &authFixture{
		svc:      svc,
		accounts: accounts,
		broker:   broker,
		google:   google,
		redis:    mr,
		tokens:   tokens,
	}
}

func (f *authFixture) register(t *testing.T, email string) types.Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), RegisterInput{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       email,
		Password:    "correct horse battery",
		DateOfBirth: "2000-12-10",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return account
}
