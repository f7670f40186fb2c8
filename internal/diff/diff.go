// Package diff computes the part of freshly fetched provider data that is new relative to
// the stored snapshot. Every function is pure and leaves its inputs untouched.
package diff

import (
	"cmp"
	"slices"
	"sort"

	"github.com/Azarenkov/aitu-keeper/internal/model"
)

// Courses returns external courses not structurally equal to any stored course.
func Courses(external, stored []model.Course) []model.Course {
	var out []model.Course
	for _, c := range external {
		if !slices.Contains(stored, c) {
			out = append(out, c)
		}
	}
	return out
}

// GradeItems returns (external, stored) pairs for items that share course and item id but
// differ in percentage. Items present on one side only are not reported.
func GradeItems(external, stored []model.CourseGrades) []model.GradeChange {
	ext := sortedGrades(external)
	old := sortedGrades(stored)

	var out []model.GradeChange
	for _, eg := range ext {
		i, ok := sort.Find(len(old), func(i int) int { return cmp.Compare(eg.CourseID, old[i].CourseID) })
		if !ok {
			continue
		}
		for ; i < len(old) && old[i].CourseID == eg.CourseID; i++ {
			items := old[i].Items
			for _, item := range eg.Items {
				j, found := sort.Find(len(items), func(j int) int { return cmp.Compare(item.ID, items[j].ID) })
				if !found {
					continue
				}
				if items[j].PercentageFormatted != item.PercentageFormatted {
					out = append(out, model.GradeChange{External: item, Stored: items[j]})
				}
			}
		}
	}
	return out
}

// GradeOverview returns meaningful external entries not equal to any meaningful stored entry.
func GradeOverview(external, stored []model.GradeOverviewEntry) []model.GradeOverviewEntry {
	old := MeaningfulOverview(stored)

	var out []model.GradeOverviewEntry
	for _, e := range MeaningfulOverview(external) {
		if !slices.ContainsFunc(old, e.Equal) {
			out = append(out, e)
		}
	}
	return out
}

// MeaningfulOverview drops placeholder entries (no raw grade, zero or dash grade).
func MeaningfulOverview(entries []model.GradeOverviewEntry) []model.GradeOverviewEntry {
	out := make([]model.GradeOverviewEntry, 0, len(entries))
	for _, e := range entries {
		if e.Meaningful() {
			out = append(out, e)
		}
	}
	return out
}

// Deadlines returns external deadlines whose id is absent from the stored set.
func Deadlines(external, stored []model.Deadline) []model.Deadline {
	known := make(map[int64]struct{}, len(stored))
	for _, d := range stored {
		known[d.ID] = struct{}{}
	}

	var out []model.Deadline
	for _, d := range external {
		if _, ok := known[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// sortedGrades copies grades ordered by course id with items ordered by id.
func sortedGrades(in []model.CourseGrades) []model.CourseGrades {
	out := make([]model.CourseGrades, len(in))
	for i, g := range in {
		items := slices.Clone(g.Items)
		slices.SortStableFunc(items, func(a, b model.GradeItem) int { return cmp.Compare(a.ID, b.ID) })
		out[i] = model.CourseGrades{CourseID: g.CourseID, CourseName: g.CourseName, Items: items}
	}
	slices.SortStableFunc(out, func(a, b model.CourseGrades) int { return cmp.Compare(a.CourseID, b.CourseID) })
	return out
}
