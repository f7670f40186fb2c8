package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/limiter"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
)

// Moodle web-service functions.
const (
	fnSiteInfo      = "core_webservice_get_site_info"
	fnUserCourses   = "core_enrol_get_users_courses"
	fnGradeItems    = "gradereport_user_get_grade_items"
	fnActionEvents  = "core_calendar_get_action_events_by_course"
	fnGradeOverview = "gradereport_overview_get_course_grades"
)

// Defaults for a MoodleClient.
const (
	DefaultFormat     = "&moodlewsrestformat=json"
	DefaultTimeout    = 15 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

// Config describes how to reach the provider.
type Config struct {
	BaseURL string // e.g. https://moodle.example/webservice/rest/server.php?
	Format  string // appended after the function name
	Timeout time.Duration
}

// MoodleClient implements Provider over HTTP GET requests.
type MoodleClient struct {
	baseURL    string
	format     string
	http       *http.Client
	limiter    limiter.Limiter
	attempts   int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	metrics    *telemetry.Metrics
	log        *zap.Logger
}

var _ Provider = (*MoodleClient)(nil)

// Option customizes a MoodleClient.
type Option func(*MoodleClient)

// WithHTTPClient replaces the default client built from Config.Timeout.
func WithHTTPClient(c *http.Client) Option { return func(m *MoodleClient) { m.http = c } }

// WithLimiter paces every outbound attempt.
func WithLimiter(l limiter.Limiter) Option { return func(m *MoodleClient) { m.limiter = l } }

// WithRetry overrides the attempt budget and the fixed delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *MoodleClient) { m.attempts, m.retryDelay = attempts, delay }
}

// WithSleep replaces the delay function, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *MoodleClient) { m.sleep = fn }
}

// WithMetrics records retries on m.
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *MoodleClient) { m.metrics = mt } }

// NewMoodleClient constructs a client. A nil logger disables logging.
func NewMoodleClient(cfg Config, log *zap.Logger, opts ...Option) *MoodleClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &MoodleClient{
		baseURL:    cfg.BaseURL,
		format:     cfg.Format,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter.Unlimited{},
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// GetProfile calls core_webservice_get_site_info.
func (c *MoodleClient) GetProfile(ctx context.Context, token string) (*model.Profile, error) {
	var info siteInfo
	if err := c.call(ctx, token, fnSiteInfo, nil, &info); err != nil {
		return nil, err
	}
	return &model.Profile{Username: *info.Username, FullName: *info.FullName, UserID: *info.UserID}, nil
}

// ValidateToken fetches the profile and discards it.
func (c *MoodleClient) ValidateToken(ctx context.Context, token string) error {
	_, err := c.GetProfile(ctx, token)
	return err
}

// GetCourses calls core_enrol_get_users_courses.
func (c *MoodleClient) GetCourses(ctx context.Context, token string, userID int64) ([]model.Course, error) {
	var courses []model.Course
	if err := c.call(ctx, token, fnUserCourses, url.Values{"userid": {itoa(userID)}}, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// GetCourseGrades calls gradereport_user_get_grade_items and returns the entry of courseID.
func (c *MoodleClient) GetCourseGrades(ctx context.Context, token string, userID, courseID int64) (*model.CourseGrades, error) {
	var env userGrades
	params := url.Values{"userid": {itoa(userID)}, "courseid": {itoa(courseID)}}
	if err := c.call(ctx, token, fnGradeItems, params, &env); err != nil {
		return nil, err
	}
	for _, g := range *env.UserGrades {
		if g.CourseID == courseID {
			return &g, nil
		}
	}
	return &model.CourseGrades{CourseID: courseID}, nil
}

// GetCourseDeadlines calls core_calendar_get_action_events_by_course.
func (c *MoodleClient) GetCourseDeadlines(ctx context.Context, token string, courseID int64) ([]model.Deadline, error) {
	var env events
	if err := c.call(ctx, token, fnActionEvents, url.Values{"courseid": {itoa(courseID)}}, &env); err != nil {
		return nil, err
	}
	return *env.Events, nil
}

// GetGradeOverview calls gradereport_overview_get_course_grades.
func (c *MoodleClient) GetGradeOverview(ctx context.Context, token string) ([]model.GradeOverviewEntry, error) {
	var env gradesOverview
	if err := c.call(ctx, token, fnGradeOverview, nil, &env); err != nil {
		return nil, err
	}
	return *env.Grades, nil
}

// call performs the request with the fixed retry budget and decodes the body into dst.
func (c *MoodleClient) call(ctx context.Context, token, function string, params url.Values, dst any) error {
	target := c.endpoint(token, function, params)
	log := c.log.With(zap.String("function", function), zap.String("account", crypto.Fingerprint(token)))

	var body []byte
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		body, err = c.fetch(ctx, target)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= c.attempts {
			return fmt.Errorf("%s after %d attempts: %w: %v", function, attempt, errs.ErrTransport, err)
		}
		log.Warn("provider request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		c.metrics.ProviderRetried(ctx, function)
		if err := c.sleep(ctx, c.retryDelay); err != nil {
			return err
		}
	}

	return decode(function, body, dst)
}

// fetch issues one GET. Any returned error is a transport failure, including a 5xx
// status: an overloaded gateway is retried instead of being read as a bad token.
func (c *MoodleClient) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return body, nil
}

// exception is the envelope Moodle returns with HTTP 200 on failure.
type exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// shaped is implemented by responses with mandatory keys.
type shaped interface {
	complete() bool
}

type siteInfo struct {
	Username *string `json:"username"`
	FullName *string `json:"fullname"`
	UserID   *int64  `json:"userid"`
}

func (s *siteInfo) complete() bool {
	return s.Username != nil && s.FullName != nil && s.UserID != nil
}

type userGrades struct {
	UserGrades *[]model.CourseGrades `json:"usergrades"`
}

func (g *userGrades) complete() bool { return g.UserGrades != nil }

type events struct {
	Events *[]model.Deadline `json:"events"`
}

func (e *events) complete() bool { return e.Events != nil }

type gradesOverview struct {
	Grades *[]model.GradeOverviewEntry `json:"grades"`
}

func (g *gradesOverview) complete() bool { return g.Grades != nil }

// decode classifies body: blank is ErrEmptyBody; an exception envelope, null, undecodable
// JSON or a response missing its mandatory keys is ErrInvalidToken.
func decode(function string, body []byte, dst any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fmt.Errorf("%s: %w", function, errs.ErrEmptyBody)
	}
	if bytes.Equal(body, []byte("null")) {
		return fmt.Errorf("%s: %w: null response", function, errs.ErrInvalidToken)
	}
	var ex exception
	if json.Unmarshal(body, &ex) == nil && (ex.Exception != "" || ex.ErrorCode != "") {
		return fmt.Errorf("%s: %w: %s", function, errs.ErrInvalidToken, ex.ErrorCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: %w: %v", function, errs.ErrInvalidToken, err)
	}
	if sh, ok := dst.(shaped); ok && !sh.complete() {
		return fmt.Errorf("%s: %w: unexpected response shape", function, errs.ErrInvalidToken)
	}
	return nil
}

func (c *MoodleClient) endpoint(token, function string, params url.Values) string {
	u := c.baseURL + "wstoken=" + url.QueryEscape(token) + "&wsfunction=" + function + c.format
	if len(params) > 0 {
		u += "&" + params.Encode()
	}
	return u
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
