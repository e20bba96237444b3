package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/campusreg/apiserver/types"
)

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, first_name, last_name, email, role, registration_number,
	to_char(date_of_birth, 'YYYY-MM-DD'), google_id, password_hash, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (types.Account, error) {
	var account types.Account
	err := row.Scan(
		&account.ID,
		&account.FirstName,
		&account.LastName,
		&account.Email,
		&account.Role,
		&account.RegistrationNumber,
		&account.DateOfBirth,
		&account.GoogleID,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail matches case-insensitively; emails are stored lowercased but
// lookups must not depend on that.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) GetByGoogleID(ctx context.Context, googleID string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE google_id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, googleID))
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (id, first_name, last_name, email, role, registration_number,
			date_of_birth, google_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.FirstName,
		account.LastName,
		account.Email,
		account.Role,
		account.RegistrationNumber,
		account.DateOfBirth,
		account.GoogleID,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, classifyConstraintError(err)
	}
	return account, nil
}

func (r *AccountRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	account.UpdatedAt = time.Now()

	const query = `
		UPDATE accounts
		SET first_name = $1,
			last_name = $2,
			email = $3,
			role = $4,
			date_of_birth = $5,
			google_id = $6,
			password_hash = $7,
			updated_at = $8
		WHERE id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		account.FirstName,
		account.LastName,
		account.Email,
		account.Role,
		account.DateOfBirth,
		account.GoogleID,
		account.PasswordHash,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return types.Account{}, classifyConstraintError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

// SetPassword replaces only the password hash, used by the reset flow.
func (r *AccountRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM accounts`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY registration_number
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return accounts, total, nil
}

// MaxRegistrationNumber returns the lexicographically maximal registration
// number sharing the given prefix, or ErrNotFound when the prefix is unused.
func (r *AccountRepository) MaxRegistrationNumber(ctx context.Context, prefix string) (string, error) {
	const query = `
		SELECT MAX(registration_number)
		FROM accounts
		WHERE registration_number LIKE $1 || '%'`
	var max sql.NullString
	if err := r.db.QueryRowContext(ctx, query, prefix).Scan(&max); err != nil {
		return "", err
	}
	if !max.Valid {
		return "", ErrNotFound
	}
	return max.String, nil
}
