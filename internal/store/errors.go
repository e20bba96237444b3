package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail and ErrDuplicateRegistrationNumber classify
	// unique-constraint violations so callers can react per column.
	ErrDuplicateEmail              = errors.New("email already in use")
	ErrDuplicateRegistrationNumber = errors.New("registration number already in use")
)

const pqUniqueViolation = "23505"

func classifyConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "accounts_email_key":
		return ErrDuplicateEmail
	case "accounts_registration_number_key":
		return ErrDuplicateRegistrationNumber
	default:
		return err
	}
}
