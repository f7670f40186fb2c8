package repository

import (
	"context"

	"github.com/Azarenkov/aitu-keeper/internal/model"
)

// SnapshotRepository stores the last known provider state of each account.
type SnapshotRepository interface {
	// Get loads the snapshot of id. Returns errs.ErrNotFound if the account is absent.
	Get(ctx context.Context, id string) (*model.Snapshot, error)
	// SetField replaces one snapshot field. Returns errs.ErrNotFound if the account is absent.
	SetField(ctx context.Context, id string, field model.Field, value any) error
	// Upsert writes the given fields, creating the row when it does not exist.
	Upsert(ctx context.Context, id string, fields map[model.Field]any) error
	// DeleteExpiredDeadlines drops every stored deadline due before dueBefore (unix seconds)
	// and returns the number of accounts changed.
	DeleteExpiredDeadlines(ctx context.Context, dueBefore int64) (int64, error)
}
