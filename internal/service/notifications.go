// Package service contains the sync-and-notify pipeline and account management.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
	"github.com/Azarenkov/aitu-keeper/internal/deadlines"
	"github.com/Azarenkov/aitu-keeper/internal/diff"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/provider"
	"github.com/Azarenkov/aitu-keeper/internal/push"
	"github.com/Azarenkov/aitu-keeper/internal/repository"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
)

// NotificationService syncs one account against the provider.
type NotificationService interface {
	// Dispatch diffs fresh provider state against the snapshot, notifies the device about
	// every change and persists the new snapshot. Accounts without a device are resynced
	// silently. Step failures are isolated and returned joined.
	Dispatch(ctx context.Context, account model.Account) error
	// Resync fetches everything and overwrites the snapshot without notifying.
	Resync(ctx context.Context, id string) error
}

type NotificationServiceImpl struct {
	provider  provider.Provider
	snapshots repository.SnapshotRepository
	sender    push.Sender
	metrics   *telemetry.Metrics
	log       *zap.Logger
	now       func() int64
}

var _ NotificationService = (*NotificationServiceImpl)(nil)

// NewNotificationService constructs the dispatcher. metrics may be nil.
func NewNotificationService(
	p provider.Provider,
	snapshots repository.SnapshotRepository,
	sender push.Sender,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		provider:  p,
		snapshots: snapshots,
		sender:    sender,
		metrics:   metrics,
		log:       log,
		now:       deadlines.Now,
	}
}

// Dispatch runs the five steps in order: profile, courses, grades, grade overview, deadlines.
func (s *NotificationServiceImpl) Dispatch(ctx context.Context, account model.Account) (err error) {
	start := time.Now()
	notify := account.HasDevice()
	defer func() { s.metrics.RecordSync(ctx, notify, time.Since(start), err == nil) }()

	if !notify {
		return s.Resync(ctx, account.ID)
	}

	snap, err := s.snapshots.Get(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	p := &pipeline{
		svc:    s,
		token:  account.ID,
		device: *account.DeviceToken,
		snap:   snap,
		log:    s.log.With(zap.String("account", crypto.Fingerprint(account.ID))),
	}

	var stepErrs []error
	step := func(name string, fn func(context.Context) error) {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx); err != nil {
			s.metrics.StepFailed(ctx, name)
			p.log.Warn("sync step failed", zap.String("step", name), zap.Error(err))
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("profile", p.profile)
	step("courses", p.courses)
	step("grades", p.grades)
	step("grade_overview", p.overview)
	step("deadlines", p.deadlines)

	if ctxErr := ctx.Err(); ctxErr != nil {
		stepErrs = append(stepErrs, ctxErr)
	}
	return errors.Join(stepErrs...)
}

// pipeline carries per-account state between dispatch steps.
// profile and courses fall back to the stored snapshot when their fetch fails.
type pipeline struct {
	svc    *NotificationServiceImpl
	token  string
	device string
	snap   *model.Snapshot
	log    *zap.Logger

	profileNow *model.Profile
	coursesNow []model.Course
	coursesSet bool
}

func (p *pipeline) currentProfile() *model.Profile {
	if p.profileNow != nil {
		return p.profileNow
	}
	return p.snap.Profile
}

func (p *pipeline) currentCourses() []model.Course {
	if p.coursesSet {
		return p.coursesNow
	}
	return p.snap.Courses
}

func (p *pipeline) userID() (int64, error) {
	prof := p.currentProfile()
	if prof == nil {
		return 0, errors.New("no profile to resolve user id")
	}
	return prof.UserID, nil
}

func (p *pipeline) send(ctx context.Context, kind, title, body string) error {
	if err := p.svc.sender.Send(ctx, p.device, title, body); err != nil {
		return fmt.Errorf("send %s notification: %w", kind, err)
	}
	p.svc.metrics.NotificationSent(ctx, kind)
	p.log.Debug("notification sent", zap.String("kind", kind))
	return nil
}

func (p *pipeline) profile(ctx context.Context) error {
	fresh, err := p.svc.provider.GetProfile(ctx, p.token)
	if err != nil {
		return err
	}
	p.profileNow = fresh
	if stored := p.snap.Profile; stored != nil && *stored == *fresh {
		return nil
	}

	title, body := profileMessage(fresh)
	if err := p.send(ctx, kindProfile, title, body); err != nil {
		return err
	}
	return p.svc.snapshots.SetField(ctx, p.token, model.FieldProfile, fresh)
}

func (p *pipeline) courses(ctx context.Context) error {
	uid, err := p.userID()
	if err != nil {
		return err
	}
	fresh, err := p.svc.provider.GetCourses(ctx, p.token, uid)
	if err != nil {
		return err
	}
	p.coursesNow, p.coursesSet = fresh, true

	added := diff.Courses(fresh, p.snap.Courses)
	for _, c := range added {
		title, body := courseMessage(c)
		if err := p.send(ctx, kindCourse, title, body); err != nil {
			return err
		}
	}
	if len(added) == 0 {
		return nil
	}
	return p.svc.snapshots.SetField(ctx, p.token, model.FieldCourses, nonNil(fresh))
}

func (p *pipeline) grades(ctx context.Context) error {
	uid, err := p.userID()
	if err != nil {
		return err
	}
	courses := p.currentCourses()
	stored := p.snap.Grades

	if missingGrades(courses, stored) {
		fresh, err := p.svc.fetchGrades(ctx, p.token, uid, courses)
		if err != nil {
			return fmt.Errorf("refresh grades: %w", err)
		}
		p.log.Info("stored grades refreshed", zap.Int("courses", len(fresh)))
		return p.svc.snapshots.SetField(ctx, p.token, model.FieldGrades, fresh)
	}

	var (
		merged    = make([]model.CourseGrades, 0, len(courses))
		dirty     bool
		fetchErrs []error
	)
	for _, c := range courses {
		old, _ := findGrades(stored, c.ID)
		g, err := p.svc.provider.GetCourseGrades(ctx, p.token, uid, c.ID)
		if err != nil {
			fetchErrs = append(fetchErrs, fmt.Errorf("course %d: %w", c.ID, err))
			merged = append(merged, old)
			continue
		}
		g.CourseName = c.FullName
		merged = append(merged, *g)

		if len(g.Items) != len(old.Items) {
			dirty = true
		}
		for _, ch := range diff.GradeItems([]model.CourseGrades{*g}, []model.CourseGrades{old}) {
			dirty = true
			title, body := gradeMessage(c.FullName, ch)
			if err := p.send(ctx, kindGrade, title, body); err != nil {
				return errors.Join(append(fetchErrs, err)...)
			}
		}
	}

	if dirty {
		if err := p.svc.snapshots.SetField(ctx, p.token, model.FieldGrades, merged); err != nil {
			fetchErrs = append(fetchErrs, err)
		}
	}
	return errors.Join(fetchErrs...)
}

func (p *pipeline) overview(ctx context.Context) error {
	fresh, err := p.svc.provider.GetGradeOverview(ctx, p.token)
	if err != nil {
		return err
	}
	fresh = diff.MeaningfulOverview(nameOverview(fresh, p.currentCourses()))

	changed := diff.GradeOverview(fresh, p.snap.GradesOverview)
	for _, e := range changed {
		title, body := overviewMessage(e)
		if err := p.send(ctx, kindOverview, title, body); err != nil {
			return err
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return p.svc.snapshots.SetField(ctx, p.token, model.FieldGradesOverview, fresh)
}

func (p *pipeline) deadlines(ctx context.Context) error {
	now := p.svc.now()
	stored := p.snap.Deadlines

	var (
		merged    []model.Deadline
		added     []model.Deadline
		failed    = map[int64]bool{}
		fetchErrs []error
	)
	for _, c := range activeCourses(p.currentCourses(), now) {
		fresh, err := p.svc.fetchDeadlines(ctx, p.token, c, now)
		if err != nil {
			failed[c.ID] = true
			fetchErrs = append(fetchErrs, fmt.Errorf("course %d: %w", c.ID, err))
			continue
		}
		merged = append(merged, fresh...)
		added = append(added, diff.Deadlines(fresh, stored)...)
	}
	for _, d := range stored {
		if failed[d.CourseID] && d.DueAt+deadlines.DueGrace > now {
			merged = append(merged, d)
		}
	}
	sortDeadlines(merged)
	sortDeadlines(added)

	for _, d := range added {
		title, body := deadlineMessage(d)
		if err := p.send(ctx, kindDeadline, title, body); err != nil {
			return errors.Join(append(fetchErrs, err)...)
		}
	}
	if len(added) > 0 {
		if err := p.svc.snapshots.SetField(ctx, p.token, model.FieldDeadlines, nonNil(merged)); err != nil {
			fetchErrs = append(fetchErrs, err)
		}
	}
	return errors.Join(fetchErrs...)
}

// Resync overwrites every snapshot field that could be fetched. Fields whose fetch failed
// keep their stored value.
func (s *NotificationServiceImpl) Resync(ctx context.Context, id string) error {
	log := s.log.With(zap.String("account", crypto.Fingerprint(id)))

	profile, err := s.provider.GetProfile(ctx, id)
	if err != nil {
		return fmt.Errorf("resync profile: %w", err)
	}
	fields := map[model.Field]any{model.FieldProfile: profile}

	courses, err := s.provider.GetCourses(ctx, id, profile.UserID)
	if err != nil {
		if upErr := s.snapshots.Upsert(ctx, id, fields); upErr != nil {
			return errors.Join(err, upErr)
		}
		return fmt.Errorf("resync courses: %w", err)
	}
	fields[model.FieldCourses] = nonNil(courses)

	var failures []error
	if grades, err := s.fetchGrades(ctx, id, profile.UserID, courses); err != nil {
		failures = append(failures, fmt.Errorf("resync grades: %w", err))
	} else {
		fields[model.FieldGrades] = grades
	}

	if overview, err := s.provider.GetGradeOverview(ctx, id); err != nil {
		failures = append(failures, fmt.Errorf("resync grade overview: %w", err))
	} else {
		fields[model.FieldGradesOverview] = diff.MeaningfulOverview(nameOverview(overview, courses))
	}

	now := s.now()
	var dues []model.Deadline
	var dueErr error
	for _, c := range activeCourses(courses, now) {
		fresh, err := s.fetchDeadlines(ctx, id, c, now)
		if err != nil {
			dueErr = fmt.Errorf("resync deadlines: course %d: %w", c.ID, err)
			break
		}
		dues = append(dues, fresh...)
	}
	if dueErr != nil {
		failures = append(failures, dueErr)
	} else {
		sortDeadlines(dues)
		fields[model.FieldDeadlines] = nonNil(dues)
	}

	if err := s.snapshots.Upsert(ctx, id, fields); err != nil {
		failures = append(failures, fmt.Errorf("resync persist: %w", err))
	}
	log.Debug("resync finished", zap.Int("fields", len(fields)), zap.Int("errors", len(failures)))
	return errors.Join(failures...)
}

// fetchGrades loads grade items of every course, tagged with the course name.
func (s *NotificationServiceImpl) fetchGrades(ctx context.Context, token string, userID int64, courses []model.Course) ([]model.CourseGrades, error) {
	out := make([]model.CourseGrades, 0, len(courses))
	for _, c := range courses {
		g, err := s.provider.GetCourseGrades(ctx, token, userID, c.ID)
		if err != nil {
			return nil, fmt.Errorf("course %d: %w", c.ID, err)
		}
		g.CourseName = c.FullName
		out = append(out, *g)
	}
	return out, nil
}

// fetchDeadlines loads and normalizes deadlines of one course.
func (s *NotificationServiceImpl) fetchDeadlines(ctx context.Context, token string, c model.Course, now int64) ([]model.Deadline, error) {
	raw, err := s.provider.GetCourseDeadlines(ctx, token, c.ID)
	if err != nil {
		return nil, err
	}
	out, err := deadlines.Normalize(raw, now)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CourseName = c.FullName
		out[i].CourseID = c.ID
	}
	return out, nil
}

func missingGrades(courses []model.Course, stored []model.CourseGrades) bool {
	for _, c := range courses {
		if _, ok := findGrades(stored, c.ID); !ok {
			return true
		}
	}
	return false
}

func findGrades(stored []model.CourseGrades, courseID int64) (model.CourseGrades, bool) {
	i := slices.IndexFunc(stored, func(g model.CourseGrades) bool { return g.CourseID == courseID })
	if i < 0 {
		return model.CourseGrades{CourseID: courseID}, false
	}
	return stored[i], true
}

func activeCourses(courses []model.Course, now int64) []model.Course {
	out := make([]model.Course, 0, len(courses))
	for _, c := range courses {
		if c.Active(now) {
			out = append(out, c)
		}
	}
	return out
}

func nameOverview(entries []model.GradeOverviewEntry, courses []model.Course) []model.GradeOverviewEntry {
	out := slices.Clone(entries)
	for i := range out {
		if j := slices.IndexFunc(courses, func(c model.Course) bool { return c.ID == out[i].CourseID }); j >= 0 {
			out[i].CourseName = courses[j].FullName
		}
	}
	return out
}

func sortDeadlines(d []model.Deadline) {
	slices.SortStableFunc(d, func(a, b model.Deadline) int { return cmp.Compare(a.DueAt, b.DueAt) })
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
