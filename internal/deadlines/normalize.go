// Package deadlines turns raw calendar action events into stored deadlines.
package deadlines

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/model"
)

const (
	// ExpiryGrace keeps a deadline whose day anchor passed less than this long ago.
	ExpiryGrace int64 = 6 * 60 * 60
	// DueGrace avoids flapping on deadlines that fall exactly on now.
	DueGrace int64 = 2
	// NoTime replaces a formatted time without a recognizable label.
	NoTime = "No time"
)

// Zone is the fixed UTC+6 clock the provider reports times in.
var Zone = time.FixedZone("UTC+6", 6*60*60)

var (
	timeToken = regexp.MustCompile(`\b(\d{1,2}:\d{2})\b`)
	label     = regexp.MustCompile(`<a href="[^"]+">([^<]+)</a>, (\d{2}:\d{2})`)
)

// Now returns the current unix time on the provider clock.
func Now() int64 { return time.Now().In(Zone).Unix() }

// Normalize drops deadlines that are already due, shifts the remaining day anchors by the
// time of day found in FormattedTime, replaces FormattedTime with a human label and sorts
// the result by due instant. The input slice is not modified.
func Normalize(raw []model.Deadline, now int64) ([]model.Deadline, error) {
	out := make([]model.Deadline, 0, len(raw))
	for _, d := range raw {
		if d.DueAt+ExpiryGrace < now {
			continue
		}

		offset, err := timeOfDay(d.FormattedTime)
		if err != nil {
			return nil, fmt.Errorf("deadline %d: %w", d.ID, err)
		}
		d.DueAt += offset
		if d.DueAt+DueGrace <= now {
			continue
		}

		d.FormattedTime = humanLabel(d.FormattedTime)
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b model.Deadline) int { return cmp.Compare(a.DueAt, b.DueAt) })
	return out, nil
}

// timeOfDay returns seconds since midnight for the first HH:MM token, 0 when there is none.
func timeOfDay(s string) (int64, error) {
	m := timeToken.FindStringSubmatch(s)
	if m == nil {
		return 0, nil
	}
	t, err := time.Parse("15:04", m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errs.ErrTimeParse, m[1])
	}
	return int64(t.Hour()*3600 + t.Minute()*60), nil
}

func humanLabel(s string) string {
	m := label.FindStringSubmatch(s)
	if m == nil {
		return NoTime
	}
	return m[1] + " " + m[2]
}
