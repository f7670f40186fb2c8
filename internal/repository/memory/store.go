// Package memory is an in-process implementation of the repository interfaces.
// It encodes fields as JSON like the Postgres backend so callers never share memory with it.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/repository"
)

type record struct {
	device *string
	fields map[model.Field][]byte
}

// Store holds accounts and snapshots in maps guarded by one mutex.
type Store struct {
	mu   sync.RWMutex
	rows map[string]*record
}

var (
	_ repository.AccountRepository  = (*Store)(nil)
	_ repository.SnapshotRepository = (*Store)(nil)
)

// New returns an empty store.
func New() *Store { return &Store{rows: map[string]*record{}} }

func validField(f model.Field) bool { return slices.Contains(model.Fields, f) }

// Create implements repository.AccountRepository.
func (s *Store) Create(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.rows[a.ID] = &record{device: cloneStr(a.DeviceToken), fields: map[model.Field][]byte{}}
	return nil
}

// Delete implements repository.AccountRepository.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return errs.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// Exists implements repository.AccountRepository.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok, nil
}

// ListPage implements repository.AccountRepository.
func (s *Store) ListPage(_ context.Context, limit, skip int) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if skip >= len(ids) || limit <= 0 {
		return nil, nil
	}
	ids = ids[skip:min(skip+limit, len(ids))]

	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Account{ID: id, DeviceToken: cloneStr(s.rows[id].device)})
	}
	return out, nil
}

// Get implements repository.SnapshotRepository.
func (s *Store) Get(_ context.Context, id string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}

	snap := &model.Snapshot{Account: model.Account{ID: id, DeviceToken: cloneStr(r.device)}}
	targets := map[model.Field]any{
		model.FieldProfile:        &snap.Profile,
		model.FieldCourses:        &snap.Courses,
		model.FieldGrades:         &snap.Grades,
		model.FieldGradesOverview: &snap.GradesOverview,
		model.FieldDeadlines:      &snap.Deadlines,
	}
	for f, raw := range r.fields {
		if err := json.Unmarshal(raw, targets[f]); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
	}
	return snap, nil
}

// SetField implements repository.SnapshotRepository.
func (s *Store) SetField(_ context.Context, id string, field model.Field, value any) error {
	if !validField(field) {
		return fmt.Errorf("unknown snapshot field %q", field)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return errs.ErrNotFound
	}
	r.fields[field] = raw
	return nil
}

// Upsert implements repository.SnapshotRepository.
func (s *Store) Upsert(_ context.Context, id string, fields map[model.Field]any) error {
	encoded := make(map[model.Field][]byte, len(fields))
	for f, v := range fields {
		if !validField(f) {
			return fmt.Errorf("unknown snapshot field %q", f)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[f] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		r = &record{fields: map[model.Field][]byte{}}
		s.rows[id] = r
	}
	for f, raw := range encoded {
		r.fields[f] = raw
	}
	return nil
}

// DeleteExpiredDeadlines implements repository.SnapshotRepository.
func (s *Store) DeleteExpiredDeadlines(_ context.Context, dueBefore int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, r := range s.rows {
		raw, ok := r.fields[model.FieldDeadlines]
		if !ok {
			continue
		}
		var dls []model.Deadline
		if err := json.Unmarshal(raw, &dls); err != nil {
			return changed, err
		}
		kept := slices.DeleteFunc(slices.Clone(dls), func(d model.Deadline) bool { return d.DueAt < dueBefore })
		if len(kept) == len(dls) {
			continue
		}
		out, err := json.Marshal(kept)
		if err != nil {
			return changed, err
		}
		r.fields[model.FieldDeadlines] = out
		changed++
	}
	return changed, nil
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
