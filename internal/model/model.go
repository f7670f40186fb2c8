// Package model defines domain entities used by services, providers and repositories.
//
// JSON tags follow the Moodle web-service field names so the same structs decode provider
// responses and encode stored snapshots.
package model

// Account is one registered LMS identity keyed by its external auth token.
type Account struct {
	ID          string  // Moodle wstoken, unique key
	DeviceToken *string // push target; nil means sync without notifications
}

// HasDevice reports whether the account opted into push notifications.
func (a Account) HasDevice() bool {
	return a.DeviceToken != nil && *a.DeviceToken != ""
}

// Profile is the account's site-info record.
type Profile struct {
	Username string `json:"username"`
	FullName string `json:"fullname"`
	UserID   int64  `json:"userid"`
}

// Course is one enrollment.
type Course struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullname"`
	EndDate  int64  `json:"enddate"` // unix seconds, 0 when the course has no end date
}

// Active reports whether the course has not ended at now (unix seconds).
func (c Course) Active(now int64) bool {
	return c.EndDate == 0 || c.EndDate > now
}

// GradeItem is a single graded activity inside a course.
type GradeItem struct {
	ID                  int64  `json:"id"`
	ItemName            string `json:"itemname"`
	PercentageFormatted string `json:"percentageformatted"`
}

// CourseGrades groups grade items of one course.
type CourseGrades struct {
	CourseID   int64       `json:"courseid"`
	CourseName string      `json:"coursename,omitempty"`
	Items      []GradeItem `json:"gradeitems"`
}

// GradeChange pairs a fresh grade item with the stored one it replaces.
type GradeChange struct {
	External GradeItem
	Stored   GradeItem
}

// GradeOverviewEntry is the course total grade.
type GradeOverviewEntry struct {
	CourseID   int64   `json:"courseid"`
	CourseName string  `json:"course_name,omitempty"`
	Grade      string  `json:"grade"`
	RawGrade   *string `json:"rawgrade"`
}

// Meaningful reports whether the entry carries a real grade.
func (g GradeOverviewEntry) Meaningful() bool {
	if g.RawGrade == nil {
		return false
	}
	switch g.Grade {
	case "", "0.00", "0,00", "-":
		return false
	}
	return true
}

// Equal compares entries structurally, including the optional raw grade.
func (g GradeOverviewEntry) Equal(o GradeOverviewEntry) bool {
	if g.CourseID != o.CourseID || g.CourseName != o.CourseName || g.Grade != o.Grade {
		return false
	}
	if g.RawGrade == nil || o.RawGrade == nil {
		return g.RawGrade == o.RawGrade
	}
	return *g.RawGrade == *o.RawGrade
}

// Deadline is an upcoming calendar action event.
type Deadline struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DueAt         int64  `json:"timeusermidnight"` // day anchor before normalization, due instant after
	FormattedTime string `json:"formattedtime"`
	CourseName    string `json:"coursename,omitempty"`
	CourseID      int64  `json:"courseid,omitempty"`
}

// Snapshot is the last persisted state of one account.
// A field that was never stored is nil; diffs treat it as empty.
type Snapshot struct {
	Account        Account
	Profile        *Profile
	Courses        []Course
	Grades         []CourseGrades
	GradesOverview []GradeOverviewEntry
	Deadlines      []Deadline
}

// Field names a snapshot column.
type Field string

// Snapshot fields, one per entity kind.
const (
	FieldProfile        Field = "profile"
	FieldCourses        Field = "courses"
	FieldGrades         Field = "grades"
	FieldGradesOverview Field = "grades_overview"
	FieldDeadlines      Field = "deadlines"
)

// Fields lists every snapshot field in pipeline order.
var Fields = []Field{FieldProfile, FieldCourses, FieldGrades, FieldGradesOverview, FieldDeadlines}
