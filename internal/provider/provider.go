// Package provider fetches account state from the Moodle web-service API.
package provider

import (
	"context"

	"github.com/Azarenkov/aitu-keeper/internal/model"
)

// Provider is the read side of the external LMS.
type Provider interface {
	// GetProfile returns the site-info record of the token owner.
	GetProfile(ctx context.Context, token string) (*model.Profile, error)
	// ValidateToken succeeds when the provider accepts token.
	ValidateToken(ctx context.Context, token string) error
	// GetCourses lists the user's enrollments.
	GetCourses(ctx context.Context, token string, userID int64) ([]model.Course, error)
	// GetCourseGrades returns the grade items of one course.
	GetCourseGrades(ctx context.Context, token string, userID, courseID int64) (*model.CourseGrades, error)
	// GetCourseDeadlines returns raw, unnormalized action events of one course.
	GetCourseDeadlines(ctx context.Context, token string, courseID int64) ([]model.Deadline, error)
	// GetGradeOverview returns course total grades for every enrollment.
	GetGradeOverview(ctx context.Context, token string) ([]model.GradeOverviewEntry, error)
}
