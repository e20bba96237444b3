package token

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token purposes. A reset token is never accepted where a login token is
// expected and vice versa.
const (
	PurposeLogin = "login"
	PurposeReset = "password_reset"
)

var (
	// ErrExpired is returned for structurally valid but expired tokens,
	// so clients can prompt for a fresh link instead of a generic error.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other verification failure.
	ErrInvalid = errors.New("invalid token")
)

// Claims carried by session and reset tokens.
type Claims struct {
	Role    string `json:"role,omitempty"`
	Purpose string `json:"purpose"`

	// Fingerprint binds a reset token to the password hash it was issued
	// against. Once the password changes the fingerprint stops matching,
	// which is what makes reset tokens single-use without server-side
	// state.
	Fingerprint string `json:"pwd,omitempty"`

	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
}

func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer}
}

// IssueLogin creates a session token bound to the account id and role.
func (i *Issuer) IssueLogin(accountID, role string, ttl time.Duration) (string, error) {
	return i.sign(Claims{
		Role:    role,
		Purpose: PurposeLogin,
	}, accountID, ttl)
}

// IssueReset creates a password-reset token fingerprinted against the
// account's current password hash.
func (i *Issuer) IssueReset(accountID, passwordHash string, ttl time.Duration) (string, error) {
	return i.sign(Claims{
		Purpose:     PurposeReset,
		Fingerprint: Fingerprint(passwordHash),
	}, accountID, ttl)
}

func (i *Issuer) sign(claims Claims, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse verifies signature, expiry, issuer, and purpose. Expired tokens
// yield ErrExpired; everything else yields ErrInvalid.
func (i *Issuer) Parse(tokenString, wantPurpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}

	// Older tokens without an explicit purpose are login tokens.
	purpose := claims.Purpose
	if purpose == "" {
		purpose = PurposeLogin
	}
	if purpose != wantPurpose {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Fingerprint derives a short digest of a password hash for embedding in
// reset tokens.
func Fingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}
