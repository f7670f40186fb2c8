package service

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/provider"
	"github.com/Azarenkov/aitu-keeper/internal/push"
	"github.com/Azarenkov/aitu-keeper/internal/repository/memory"
)

const now int64 = 1_700_000_000

type fakeProvider struct {
	mu sync.Mutex

	validateErr  error
	profile      model.Profile
	profileErr   error
	courses      []model.Course
	coursesErr   error
	grades       map[int64]model.CourseGrades
	gradesErr    map[int64]error
	deadlines    map[int64][]model.Deadline
	deadlinesErr map[int64]error
	overview     []model.GradeOverviewEntry
	overviewErr  error
}

var _ provider.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) GetProfile(context.Context, string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := f.profile
	return &p, nil
}

func (f *fakeProvider) ValidateToken(ctx context.Context, token string) error {
	if f.validateErr != nil {
		return f.validateErr
	}
	_, err := f.GetProfile(ctx, token)
	return err
}

func (f *fakeProvider) GetCourses(context.Context, string, int64) ([]model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.courses), f.coursesErr
}

func (f *fakeProvider) GetCourseGrades(_ context.Context, _ string, _, courseID int64) (*model.CourseGrades, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gradesErr[courseID]; err != nil {
		return nil, err
	}
	g, ok := f.grades[courseID]
	if !ok {
		return &model.CourseGrades{CourseID: courseID}, nil
	}
	g.Items = slices.Clone(g.Items)
	return &g, nil
}

func (f *fakeProvider) GetCourseDeadlines(_ context.Context, _ string, courseID int64) ([]model.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deadlinesErr[courseID]; err != nil {
		return nil, err
	}
	return slices.Clone(f.deadlines[courseID]), nil
}

func (f *fakeProvider) GetGradeOverview(context.Context, string) ([]model.GradeOverviewEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.overview), f.overviewErr
}

type sentMessage struct {
	Device, Title, Body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

var _ push.Sender = (*fakeSender)(nil)

func (f *fakeSender) Send(_ context.Context, device, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{device, title, body})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

var (
	mathCourse    = model.Course{ID: 1, FullName: "Math", EndDate: 9999999999}
	physicsCourse = model.Course{ID: 2, FullName: "Physics", EndDate: 9999999999}
	alice         = model.Profile{Username: "alice@uni.kz", FullName: "Alice", UserID: 7}
)

func mathGrades(pct string) model.CourseGrades {
	return model.CourseGrades{CourseID: 1, CourseName: "Math", Items: []model.GradeItem{
		{ID: 11, ItemName: "Quiz", PercentageFormatted: pct},
		{ID: 12, ItemName: "Exam", PercentageFormatted: "-"},
	}}
}

func physicsGrades() model.CourseGrades {
	return model.CourseGrades{CourseID: 2, CourseName: "Physics", Items: []model.GradeItem{
		{ID: 21, ItemName: "Lab", PercentageFormatted: "70.00 %"},
	}}
}

func rawDeadline(id int64, name, hhmm string) model.Deadline {
	return model.Deadline{
		ID:            id,
		Name:          name,
		DueAt:         now + 86400,
		FormattedTime: `<a href="https://moodle.example/calendar/view.php?view=day">Tomorrow</a>, ` + hhmm,
	}
}

type world struct {
	store  *memory.Store
	prov   *fakeProvider
	sender *fakeSender
	svc    *NotificationServiceImpl
}

func ptr(s string) *string { return &s }

// newWorld returns a provider and a stored snapshot that agree on everything.
func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		store:  memory.New(),
		sender: &fakeSender{},
		prov: &fakeProvider{
			profile: alice,
			courses: []model.Course{mathCourse, physicsCourse},
			grades:  map[int64]model.CourseGrades{1: mathGrades("50.00 %"), 2: physicsGrades()},
		},
	}
	w.svc = NewNotificationService(w.prov, w.store, w.sender, nil, zaptest.NewLogger(t))
	w.svc.now = func() int64 { return now }
	return w
}

func (w *world) seed(t *testing.T, acc model.Account, fields map[model.Field]any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.store.Create(ctx, acc))
	base := map[model.Field]any{
		model.FieldProfile: alice,
		model.FieldCourses: []model.Course{mathCourse, physicsCourse},
		model.FieldGrades:  []model.CourseGrades{mathGrades("50.00 %"), physicsGrades()},
	}
	for f, v := range fields {
		base[f] = v
	}
	require.NoError(t, w.store.Upsert(ctx, acc.ID, base))
}

func (w *world) snapshot(t *testing.T, id string) *model.Snapshot {
	t.Helper()
	s, err := w.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}
