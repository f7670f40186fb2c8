package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
)

// flakyTransport fails the first failures round trips, then forwards to next.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(r)
}

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *MoodleClient {
	t.Helper()
	cfg := Config{BaseURL: srv.URL + "/webservice/rest/server.php?"}
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	return NewMoodleClient(cfg, zaptest.NewLogger(t), opts...)
}

func TestMoodleClient_GetProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/webservice/rest/server.php", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "tok", q.Get("wstoken"))
		require.Equal(t, fnSiteInfo, q.Get("wsfunction"))
		require.Equal(t, "json", q.Get("moodlewsrestformat"))
		_, _ = w.Write([]byte(`{"username":"a@b.kz","fullname":"Alice B","userid":42,"sitename":"x"}`))
	}))
	defer srv.Close()

	p, err := newTestClient(t, srv).GetProfile(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, "a@b.kz", p.Username)
	require.Equal(t, "Alice B", p.FullName)
	require.Equal(t, int64(42), p.UserID)
}

func TestMoodleClient_Endpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("wsfunction") {
		case fnUserCourses:
			require.Equal(t, "42", q.Get("userid"))
			_, _ = w.Write([]byte(`[{"id":1,"fullname":"Math","enddate":9999999999},{"id":2,"fullname":"Physics","enddate":0}]`))
		case fnGradeItems:
			require.Equal(t, "42", q.Get("userid"))
			require.Equal(t, "7", q.Get("courseid"))
			_, _ = w.Write([]byte(`{"usergrades":[{"courseid":7,"gradeitems":[{"id":3,"itemname":"Quiz","percentageformatted":"50.00 %"}]}],"warnings":[]}`))
		case fnActionEvents:
			require.Equal(t, "7", q.Get("courseid"))
			_, _ = w.Write([]byte(`{"events":[{"id":9,"name":"Essay","timeusermidnight":1700000000,"formattedtime":"x, 10:00"}]}`))
		case fnGradeOverview:
			_, _ = w.Write([]byte(`{"grades":[{"courseid":7,"grade":"87.50","rawgrade":"87.5"},{"courseid":8,"grade":"-","rawgrade":null}]}`))
		default:
			t.Errorf("unexpected function %q", q.Get("wsfunction"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	courses, err := c.GetCourses(ctx, "tok", 42)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, "Physics", courses[1].FullName)

	grades, err := c.GetCourseGrades(ctx, "tok", 42, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), grades.CourseID)
	require.Len(t, grades.Items, 1)
	require.Equal(t, "50.00 %", grades.Items[0].PercentageFormatted)

	events, err := c.GetCourseDeadlines(ctx, "tok", 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1700000000), events[0].DueAt)

	overview, err := c.GetGradeOverview(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, overview, 2)
	require.NotNil(t, overview[0].RawGrade)
	require.Nil(t, overview[1].RawGrade)
}

func TestMoodleClient_GetCourseGrades_MissingCourse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"usergrades":[]}`))
	}))
	defer srv.Close()

	g, err := newTestClient(t, srv).GetCourseGrades(context.Background(), "tok", 1, 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), g.CourseID)
	require.Empty(t, g.Items)
}

func TestMoodleClient_BodyClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "empty", body: "", want: errs.ErrEmptyBody},
		{name: "whitespace", body: " \n", want: errs.ErrEmptyBody},
		{name: "exception envelope", body: `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`, want: errs.ErrInvalidToken},
		{name: "garbage", body: `<html>login</html>`, want: errs.ErrInvalidToken},
		{name: "null", body: `null`, want: errs.ErrInvalidToken},
		{name: "empty object", body: `{}`, want: errs.ErrInvalidToken},
		{name: "warnings only", body: `{"warnings":[]}`, want: errs.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(t, srv).ValidateToken(context.Background(), "bad")
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, int32(1), hits.Load(), "body errors are not retried")
		})
	}
}

func TestMoodleClient_RejectsIncompleteShapes(t *testing.T) {
	calls := map[string]func(*MoodleClient) error{
		"profile": func(c *MoodleClient) error {
			_, err := c.GetProfile(context.Background(), "tok")
			return err
		},
		"validate": func(c *MoodleClient) error { return c.ValidateToken(context.Background(), "tok") },
		"courses": func(c *MoodleClient) error {
			_, err := c.GetCourses(context.Background(), "tok", 1)
			return err
		},
		"grades": func(c *MoodleClient) error {
			_, err := c.GetCourseGrades(context.Background(), "tok", 1, 7)
			return err
		},
		"deadlines": func(c *MoodleClient) error {
			_, err := c.GetCourseDeadlines(context.Background(), "tok", 7)
			return err
		},
		"overview": func(c *MoodleClient) error {
			_, err := c.GetGradeOverview(context.Background(), "tok")
			return err
		},
	}

	for _, body := range []string{`null`, ` null `, `{}`, `{"warnings":[]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := newTestClient(t, srv)
		for name, call := range calls {
			t.Run(name+" "+body, func(t *testing.T) {
				require.ErrorIs(t, call(c), errs.ErrInvalidToken)
			})
		}
		srv.Close()
	}
}

func TestMoodleClient_ProfileRequiresEveryKey(t *testing.T) {
	for _, body := range []string{
		`{"fullname":"Alice","userid":42}`,
		`{"username":"a@b.kz","userid":42}`,
		`{"username":"a@b.kz","fullname":"Alice"}`,
		`{"username":"a@b.kz","fullname":"Alice","userid":null}`,
	} {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			p, err := newTestClient(t, srv).GetProfile(context.Background(), "tok")
			require.ErrorIs(t, err, errs.ErrInvalidToken)
			require.Nil(t, p)
		})
	}
}

func TestMoodleClient_EmptyCollectionsAreValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("wsfunction") {
		case fnActionEvents:
			_, _ = w.Write([]byte(`{"events":[]}`))
		case fnGradeOverview:
			_, _ = w.Write([]byte(`{"grades":[],"warnings":[]}`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	dl, err := c.GetCourseDeadlines(context.Background(), "tok", 7)
	require.NoError(t, err)
	require.Empty(t, dl)

	ov, err := c.GetGradeOverview(context.Background(), "tok")
	require.NoError(t, err)
	require.Empty(t, ov)

	courses, err := c.GetCourses(context.Background(), "tok", 1)
	require.NoError(t, err)
	require.Empty(t, courses)
}

func TestMoodleClient_ArrayExpectedButObjectGiven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"warnings":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).GetCourses(context.Background(), "tok", 1)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestMoodleClient_RetrySucceedsOnThirdAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"u","fullname":"F","userid":1}`))
	}))
	defer srv.Close()

	tr := &flakyTransport{failures: 2, next: srv.Client().Transport}
	rec := &sleepRecorder{}
	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Transport: tr}), WithSleep(rec.sleep))

	p, err := c.GetProfile(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, int64(1), p.UserID)
	require.Equal(t, int32(3), tr.calls.Load())
	require.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, rec.delays)
}

func TestMoodleClient_RetryBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	}))
	defer srv.Close()

	tr := &flakyTransport{failures: 100, next: srv.Client().Transport}
	rec := &sleepRecorder{}
	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Transport: tr}), WithSleep(rec.sleep))

	_, err := c.GetProfile(context.Background(), "tok")
	require.ErrorIs(t, err, errs.ErrTransport)
	require.Equal(t, int32(3), tr.calls.Load())
	require.Len(t, rec.delays, 2)
}

func TestMoodleClient_ServerErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	courses, err := newTestClient(t, srv, WithSleep(rec.sleep)).GetCourses(context.Background(), "tok", 1)
	require.NoError(t, err)
	require.Empty(t, courses)
	require.Equal(t, int32(2), hits.Load())
}

func TestMoodleClient_CancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := &flakyTransport{failures: 100, next: srv.Client().Transport}
	c := newTestClient(t, srv,
		WithHTTPClient(&http.Client{Transport: tr}),
		WithSleep(func(context.Context, time.Duration) error { cancel(); return context.Canceled }),
	)

	_, err := c.GetProfile(ctx, "tok")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), tr.calls.Load())
}

func TestMoodleClient_Defaults(t *testing.T) {
	c := NewMoodleClient(Config{BaseURL: "https://m.example/server.php?"}, nil, WithRetry(0, time.Second))
	require.Equal(t, DefaultFormat, c.format)
	require.Equal(t, DefaultTimeout, c.http.Timeout)
	require.Equal(t, 1, c.attempts)
	require.Equal(t, "https://m.example/server.php?wstoken=a%2Bb&wsfunction=f&moodlewsrestformat=json&courseid=3",
		c.endpoint("a+b", "f", map[string][]string{"courseid": {"3"}}))
}
