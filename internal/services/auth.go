package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusreg/apiserver/config"
	"github.com/campusreg/apiserver/internal/mailer"
	"github.com/campusreg/apiserver/internal/password"
	"github.com/campusreg/apiserver/internal/regnum"
	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/internal/token"
	"github.com/campusreg/apiserver/types"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	GetByGoogleID(ctx context.Context, googleID string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]types.Account, int, error)
	MaxRegistrationNumber(ctx context.Context, prefix string) (string, error)
}

// LoginLimiter tracks failed login attempts per email.
type LoginLimiter interface {
	Blocked(ctx context.Context, key string) (bool, error)
	RecordFailure(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
}

// Attempts to win the registration-number race before giving up. The unique
// index on registration_number is the actual arbiter; this loop just picks
// the next candidate and retries on collision.
const regnumAttempts = 3

// AuthService encapsulates the account lifecycle: registration, login,
// password reset, and Google sign-in.
type AuthService struct {
	accounts AccountRepository
	limiter  LoginLimiter
	tokens   *token.Issuer
	google   GoogleTokenVerifier
	outbox   *mailer.Outbox
	logger   *slog.Logger

	sessionTTL    time.Duration
	rememberTTL   time.Duration
	resetTokenTTL time.Duration

	now func() time.Time
}

func NewAuthService(
	accounts AccountRepository,
	limiter LoginLimiter,
	tokens *token.Issuer,
	google GoogleTokenVerifier,
	outbox *mailer.Outbox,
	logger *slog.Logger,
	cfg config.AuthConfig,
) *AuthService {
	return &AuthService{
		accounts:      accounts,
		limiter:       limiter,
		tokens:        tokens,
		google:        google,
		outbox:        outbox,
		logger:        logger,
		sessionTTL:    cfg.SessionTTL,
		rememberTTL:   cfg.RememberMeTTL,
		resetTokenTTL: cfg.ResetTokenTTL,
		now:           time.Now,
	}
}

// RegisterInput carries the fields of a self-service registration.
type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	DateOfBirth string
}

// Register creates a student account, assigns the next registration number
// for the current year, and queues the welcome mail.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (types.Account, error) {
	hash, err := password.Hash(input.Password)
	if err != nil {
		return types.Account{}, err
	}

	account := types.Account{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Email:        normalizeEmail(input.Email),
		Role:         types.RoleStudent,
		DateOfBirth:  input.DateOfBirth,
		PasswordHash: hash,
	}

	created, err := s.createWithRegistrationNumber(ctx, account)
	if err != nil {
		return types.Account{}, err
	}

	if err := s.outbox.SendWelcome(ctx, created); err != nil {
		// Mail delivery must not undo a successful registration.
		s.logger.Warn("failed to queue welcome email", "account_id", created.ID, "error", err)
	}
	return created, nil
}

// createWithRegistrationNumber assigns the next free number under the
// current year's prefix and inserts the account. On a concurrent insert of
// the same number the unique index rejects us and we retry with the next.
func (s *AuthService) createWithRegistrationNumber(ctx context.Context, account types.Account) (types.Account, error) {
	prefix := regnum.Prefix(s.now())

	var lastErr error
	for attempt := 0; attempt < regnumAttempts; attempt++ {
		current, err := s.accounts.MaxRegistrationNumber(ctx, prefix)
		switch {
		case errors.Is(err, store.ErrNotFound):
			account.RegistrationNumber = regnum.First(s.now())
		case err != nil:
			return types.Account{}, err
		default:
			next, err := regnum.Next(current)
			if err != nil {
				return types.Account{}, err
			}
			account.RegistrationNumber = next
		}

		created, err := s.accounts.Create(ctx, account)
		if errors.Is(err, store.ErrDuplicateRegistrationNumber) {
			lastErr = err
			continue
		}
		if err != nil {
			return types.Account{}, err
		}
		return created, nil
	}
	return types.Account{}, lastErr
}

// Login verifies credentials and issues a session token. keepSignedIn
// extends the token lifetime from the session TTL to the remember-me TTL.
func (s *AuthService) Login(ctx context.Context, email, plaintext string, keepSignedIn bool) (types.Account, string, error) {
	email = normalizeEmail(email)

	blocked, err := s.limiter.Blocked(ctx, email)
	if err != nil {
		// A broken limiter must not take logins down with it.
		s.logger.Error("login limiter unavailable, failing open", "error", err)
	} else if blocked {
		retryAfter, _ := s.limiter.RetryAfter(ctx, email)
		return types.Account{}, "", &RateLimitedError{RetryAfter: retryAfter}
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown emails consume attempts too, otherwise the limiter
		// itself leaks which addresses are registered.
		s.recordFailure(ctx, email)
		return types.Account{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return types.Account{}, "", err
	}

	if err := password.Verify(account.PasswordHash, plaintext); err != nil {
		s.recordFailure(ctx, email)
		return types.Account{}, "", ErrInvalidCredentials
	}

	if err := s.limiter.Reset(ctx, email); err != nil {
		s.logger.Warn("failed to reset login limiter", "error", err)
	}

	signed, err := s.IssueSession(account, keepSignedIn)
	if err != nil {
		return types.Account{}, "", err
	}
	return account, signed, nil
}

// RequestPasswordReset issues a reset token and queues the reset mail. For
// unknown emails it does nothing and reports success, so the endpoint cannot
// be used to probe which addresses are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("password reset requested for unknown email")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	signed, err := s.tokens.IssueReset(account.ID, account.PasswordHash, s.resetTokenTTL)
	if err != nil {
		return "", err
	}
	if err := s.outbox.SendPasswordReset(ctx, account, signed); err != nil {
		return "", err
	}
	return signed, nil
}

// ResetPassword consumes a reset token and sets the new password. A token
// is rejected once the password it was issued against has changed, which
// makes each token effectively single-use.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Parse(resetToken, token.PurposeReset)
	if errors.Is(err, token.ErrExpired) {
		return ErrResetTokenExpired
	}
	if err != nil {
		return ErrResetTokenInvalid
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return err
	}

	if claims.Fingerprint != token.Fingerprint(account.PasswordHash) {
		return ErrResetTokenInvalid
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.SetPassword(ctx, account.ID, hash); err != nil {
		return err
	}

	// A successful reset clears any accumulated failed attempts.
	if err := s.limiter.Reset(ctx, account.Email); err != nil {
		s.logger.Warn("failed to reset login limiter", "error", err)
	}
	return nil
}

// Account loads an account by id, for handlers resolving session claims.
func (s *AuthService) Account(ctx context.Context, id string) (types.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// IssueSession signs a session token for an already-authenticated account.
// Registration uses it directly: a freshly created account has nothing to
// verify, and must not be bounced off the login failure limiter.
func (s *AuthService) IssueSession(account types.Account, keepSignedIn bool) (string, error) {
	ttl := s.sessionTTL
	if keepSignedIn {
		ttl = s.rememberTTL
	}
	return s.tokens.IssueLogin(account.ID, account.Role, ttl)
}

func (s *AuthService) recordFailure(ctx context.Context, email string) {
	count, err := s.limiter.RecordFailure(ctx, email)
	if err != nil {
		s.logger.Error("failed to record login failure", "error", err)
		return
	}
	s.logger.Info("failed login attempt", "attempts", count)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
