package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusreg/apiserver/internal/services"
	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/types"
)

// AuthHandler provides the account lifecycle endpoints.
type AuthHandler struct {
	auth *services.AuthService

	// devMode exposes the reset token in the forgot-password response so
	// the flow can be exercised without a mail worker running.
	devMode bool
}

func NewAuthHandler(auth *services.AuthService, devMode bool) *AuthHandler {
	return &AuthHandler{auth: auth, devMode: devMode}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/google", handler.GoogleSignIn)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset-password/{token}", handler.ResetPassword)
	r.With(authMiddleware).Get("/verify", handler.Verify)
}

type RegisterRequest struct {
	FirstName   string `json:"firstName" validate:"required,min=2,max=100"`
	LastName    string `json:"lastName" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=128"`
	DateOfBirth string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
}

type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	KeepSignedIn bool   `json:"keepSignedIn"`
}

type GoogleSignInRequest struct {
	IDToken      string `json:"idToken" validate:"required"`
	KeepSignedIn bool   `json:"keepSignedIn"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type AuthResponse struct {
	Token string        `json:"token"`
	User  types.Account `json:"user"`
}

type MessageResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken,omitempty"`
}

// Register creates a student account and logs it straight in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.auth.Register(r.Context(), services.RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Password:    req.Password,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, "Email already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	// Issue the session directly: running the new account through Login
	// would bounce off the failure limiter when the email key is blocked.
	signed, err := h.auth.IssueSession(account, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: signed, User: account})
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, signed, err := h.auth.Login(r.Context(), req.Email, req.Password, req.KeepSignedIn)
	if err != nil {
		var limited *services.RateLimitedError
		switch {
		case errors.As(err, &limited):
			seconds := int(limited.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: signed, User: account})
}

// GoogleSignIn authenticates with a Google ID token, registering a new
// account on first sign-in.
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req GoogleSignInRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, signed, err := h.auth.GoogleSignIn(r.Context(), req.IDToken, req.KeepSignedIn)
	if err != nil {
		if errors.Is(err, services.ErrGoogleTokenInvalid) {
			writeError(w, http.StatusUnauthorized, "invalid google token")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: signed, User: account})
}

// ForgotPassword queues a reset mail. The response is identical for known
// and unknown emails.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resetToken, err := h.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	resp := MessageResponse{Message: "if the email exists, a reset link has been sent"}
	if h.devMode {
		resp.ResetToken = resetToken
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetPassword consumes the emailed token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.auth.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password)
	switch {
	// Expired and malformed tokens share the status but not the message:
	// the client prompts for a fresh link only on expiry.
	case errors.Is(err, services.ErrResetTokenExpired):
		writeError(w, http.StatusBadRequest, "reset token expired")
	case errors.Is(err, services.ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, "invalid reset token")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to reset password")
	default:
		writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
	}
}

type VerifyResponse struct {
	Valid bool          `json:"valid"`
	User  types.Account `json:"user"`
}

// Verify confirms the presented session token and returns its account.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: account})
}

// Profile returns the authenticated account.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AuthHandler) currentAccount(w http.ResponseWriter, r *http.Request) (types.Account, bool) {
	claims, err := claimsFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return types.Account{}, false
	}

	account, err := h.auth.Account(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return types.Account{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return types.Account{}, false
	}

	return account, true
}
