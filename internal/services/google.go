package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/api/idtoken"

	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/types"
)

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// GoogleTokenVerifier verifies a Google ID token and extracts the identity.
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}

// GoogleVerifier validates ID tokens against Google's public keys, bound to
// our OAuth client id as audience.
type GoogleVerifier struct {
	clientID string
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID}
}

func (v *GoogleVerifier) Verify(ctx context.Context, raw string) (GoogleIdentity, error) {
	payload, err := idtoken.Validate(ctx, raw, v.clientID)
	if err != nil {
		return GoogleIdentity{}, err
	}
	return GoogleIdentity{
		Subject:   payload.Subject,
		Email:     claimString(payload.Claims, "email"),
		FirstName: claimString(payload.Claims, "given_name"),
		LastName:  claimString(payload.Claims, "family_name"),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}

// GoogleSignIn authenticates with a Google ID token. Three cases, in order:
// an account already linked to the Google subject logs straight in; an
// account with the same email gets the Google subject linked; otherwise a
// new passwordless student account is registered.
func (s *AuthService) GoogleSignIn(ctx context.Context, rawIDToken string, keepSignedIn bool) (types.Account, string, error) {
	identity, err := s.google.Verify(ctx, rawIDToken)
	if err != nil || identity.Subject == "" || identity.Email == "" {
		return types.Account{}, "", ErrGoogleTokenInvalid
	}

	account, err := s.accounts.GetByGoogleID(ctx, identity.Subject)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		account, err = s.linkOrRegisterGoogle(ctx, identity)
		if err != nil {
			return types.Account{}, "", err
		}
	default:
		return types.Account{}, "", err
	}

	signed, err := s.IssueSession(account, keepSignedIn)
	if err != nil {
		return types.Account{}, "", err
	}
	return account, signed, nil
}

func (s *AuthService) linkOrRegisterGoogle(ctx context.Context, identity GoogleIdentity) (types.Account, error) {
	email := normalizeEmail(identity.Email)

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err == nil {
		existing.GoogleID = &identity.Subject
		return s.accounts.Update(ctx, existing)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.Account{}, err
	}

	account := types.Account{
		ID:        uuid.NewString(),
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Email:     email,
		Role:      types.RoleStudent,
		GoogleID:  &identity.Subject,
	}
	created, err := s.createWithRegistrationNumber(ctx, account)
	if err != nil {
		return types.Account{}, err
	}

	if err := s.outbox.SendWelcome(ctx, created); err != nil {
		s.logger.Warn("failed to queue welcome email", "account_id", created.ID, "error", err)
	}
	return created, nil
}
