package postgres

import (
	"context"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/repository"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

var _ repository.AccountRepository = (*AccountRepo)(nil)

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a model.Account) error {
	const q = `INSERT INTO accounts (id, device_token) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.DeviceToken)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Delete removes an account row.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM accounts WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Exists reports whether the account row is present.
func (r *AccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ListPage selects one page of accounts in id order.
func (r *AccountRepo) ListPage(ctx context.Context, limit, skip int) ([]model.Account, error) {
	const q = `
SELECT id, COALESCE(device_token, '')
FROM accounts
ORDER BY id
LIMIT $1 OFFSET $2`
	rows, err := r.db.Pool.Query(ctx, q, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var (
			a      model.Account
			device string
		)
		if err := rows.Scan(&a.ID, &device); err != nil {
			return nil, err
		}
		if device != "" {
			a.DeviceToken = &device
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
