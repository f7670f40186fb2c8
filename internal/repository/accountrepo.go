// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/Azarenkov/aitu-keeper/internal/model"
)

// AccountRepository provides access to registered accounts.
type AccountRepository interface {
	// Create inserts a new account. Returns errs.ErrAlreadyExists for a known id.
	Create(ctx context.Context, a model.Account) error
	// Delete removes the account with its snapshot. Returns errs.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
	// Exists reports whether id is registered.
	Exists(ctx context.Context, id string) (bool, error)
	// ListPage returns up to limit accounts after skip, ordered by id.
	ListPage(ctx context.Context, limit, skip int) ([]model.Account, error)
}
