package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/repository"
)

// SnapshotRepo implements SnapshotRepository with one JSONB column per field.
type SnapshotRepo struct{ db *DB }

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

// NewSnapshotRepo constructs a snapshot repository.
func NewSnapshotRepo(db *DB) *SnapshotRepo { return &SnapshotRepo{db: db} }

// columns maps snapshot fields to their JSONB column.
var columns = map[model.Field]string{
	model.FieldProfile:        "profile",
	model.FieldCourses:        "courses",
	model.FieldGrades:         "grades",
	model.FieldGradesOverview: "grades_overview",
	model.FieldDeadlines:      "deadlines",
}

func column(f model.Field) (string, error) {
	c, ok := columns[f]
	if !ok {
		return "", fmt.Errorf("unknown snapshot field %q", f)
	}
	return c, nil
}

// Get selects the account row and decodes every stored field.
func (r *SnapshotRepo) Get(ctx context.Context, id string) (*model.Snapshot, error) {
	const q = `
SELECT id, COALESCE(device_token, ''), profile, courses, grades, grades_overview, deadlines
FROM accounts WHERE id=$1`
	var (
		s                                        model.Snapshot
		device                                   string
		profile, courses, grades, overview, dues []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&s.Account.ID, &device, &profile, &courses, &grades, &overview, &dues)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if device != "" {
		s.Account.DeviceToken = &device
	}

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{profile, &s.Profile},
		{courses, &s.Courses},
		{grades, &s.Grades},
		{overview, &s.GradesOverview},
		{dues, &s.Deadlines},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return &s, nil
}

// SetField replaces one JSONB column.
func (r *SnapshotRepo) SetField(ctx context.Context, id string, field model.Field, value any) error {
	col, err := column(field)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	q := `UPDATE accounts SET ` + col + ` = $2, updated_at = now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Upsert inserts or updates the given columns in one statement.
func (r *SnapshotRepo) Upsert(ctx context.Context, id string, fields map[model.Field]any) error {
	cols := make([]string, 0, len(fields))
	args := []any{id}
	for _, f := range model.Fields {
		v, ok := fields[f]
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		cols = append(cols, columns[f])
		args = append(args, raw)
	}
	if len(cols) != len(fields) {
		return fmt.Errorf("upsert: unknown snapshot field in %v", fields)
	}
	if len(cols) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO accounts (id")
	for _, c := range cols {
		b.WriteString(", " + c)
	}
	b.WriteString(") VALUES ($1")
	for i := range cols {
		fmt.Fprintf(&b, ", $%d", i+2)
	}
	b.WriteString(") ON CONFLICT (id) DO UPDATE SET ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c + " = EXCLUDED." + c)
	}
	b.WriteString(", updated_at = now()")

	_, err := r.db.Pool.Exec(ctx, b.String(), args...)
	return err
}

// DeleteExpiredDeadlines rewrites every deadlines array without the expired elements.
func (r *SnapshotRepo) DeleteExpiredDeadlines(ctx context.Context, dueBefore int64) (int64, error) {
	const q = `
UPDATE accounts
SET deadlines = COALESCE((
        SELECT jsonb_agg(e.d ORDER BY e.ord)
        FROM jsonb_array_elements(deadlines) WITH ORDINALITY AS e(d, ord)
        WHERE (e.d->>'timeusermidnight')::bigint >= $1
    ), '[]'::jsonb),
    updated_at = now()
WHERE jsonb_typeof(deadlines) = 'array'
  AND EXISTS (
        SELECT 1 FROM jsonb_array_elements(deadlines) AS x(d)
        WHERE (x.d->>'timeusermidnight')::bigint < $1
  )`
	tag, err := r.db.Pool.Exec(ctx, q, dueBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
