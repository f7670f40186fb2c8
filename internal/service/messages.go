package service

import (
	"fmt"

	"github.com/Azarenkov/aitu-keeper/internal/model"
)

// Notification kinds, used as metric attributes and log fields.
const (
	kindProfile  = "profile"
	kindCourse   = "course"
	kindGrade    = "grade"
	kindOverview = "grade_overview"
	kindDeadline = "deadline"
)

const noName = "-"

func profileMessage(p *model.Profile) (string, string) {
	return "New user info", fmt.Sprintf("Email: %s\nFullname: %s\nUser_id: %d", p.Username, p.FullName, p.UserID)
}

func courseMessage(c model.Course) (string, string) {
	return "New course", c.FullName
}

func gradeMessage(course string, ch model.GradeChange) (string, string) {
	return orDash(course), fmt.Sprintf("New grade | %s\n%s -> %s",
		ch.External.ItemName, ch.Stored.PercentageFormatted, ch.External.PercentageFormatted)
}

func overviewMessage(e model.GradeOverviewEntry) (string, string) {
	return orDash(e.CourseName), "New course total grade | " + e.Grade
}

func deadlineMessage(d model.Deadline) (string, string) {
	return "New deadline", fmt.Sprintf("Course: %s\nTask: %s\nUntil %s", orDash(d.CourseName), d.Name, d.FormattedTime)
}

func orDash(s string) string {
	if s == "" {
		return noName
	}
	return s
}
