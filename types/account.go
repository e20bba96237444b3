package types

import "time"

// Account roles. Role is immutable except through the admin update endpoint.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Account represents a registered person.
// It contains identity, credentials, and audit metadata.
type Account struct {
	// ID is the opaque unique identifier of the account.
	ID string `json:"id" db:"id"`

	// FirstName and LastName are the person's legal names.
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`

	// Email is the unique login address, stored lowercased.
	Email string `json:"email" db:"email"`

	// Role indicates the account's authorization level
	// ("student" or "admin").
	Role string `json:"role" db:"role"`

	// RegistrationNumber is the human-readable, year-scoped sequential
	// identifier in the form REG<YY><5-digit sequence>.
	RegistrationNumber string `json:"registrationNumber" db:"registration_number"`

	// DateOfBirth is stored as an ISO date (YYYY-MM-DD).
	DateOfBirth string `json:"dateOfBirth" db:"date_of_birth"`

	// GoogleID is the Google subject linked to this account, if any.
	GoogleID *string `json:"-" db:"google_id"`

	// PasswordHash stores the bcrypt hash of the account's password.
	// Empty for accounts created through Google sign-in that never set
	// a password. Never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasPassword reports whether password-based login is possible at all
// for this account.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}
