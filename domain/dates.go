package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
}

// ParseDate interprets a project date attribute. Numbers are epoch
// milliseconds (ArcGIS); strings may be ISO dates, US dates or timestamps, in
// which case only the date part is used. The second result is false when the
// attribute carries no usable date.
func ParseDate(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch t := v.(type) {
	case float64:
		if t == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).In(loc), true
	case int64:
		if t == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(t).In(loc), true
	case int:
		if t == 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).In(loc), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "None" {
			return time.Time{}, false
		}
		s = strings.SplitN(s, "T", 2)[0]
		s = strings.SplitN(s, " ", 2)[0]
		for _, layout := range dateLayouts {
			if d, err := time.ParseInLocation(layout, s, loc); err == nil {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

// wholeDays floors d to whole days, so a due date earlier today yields -1.
func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}

// DaysUntilDue returns whole days from now to the project due date.
func DaysUntilDue(p Project, now time.Time) (int, bool) {
	due, ok := ParseDate(p.DueValue(), now.Location())
	if !ok {
		return 0, false
	}
	return wholeDays(due.Sub(now)), true
}

// DueBadge is the human label and color for a due date.
type DueBadge struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// DueStatus buckets days until due into a badge.
func DueStatus(days int, ok bool) DueBadge {
	switch {
	case !ok:
		return DueBadge{"No due date", "gray"}
	case days < 0:
		return DueBadge{strconv.Itoa(-days) + " days overdue", "red"}
	case days == 0:
		return DueBadge{"Due today", "red"}
	case days <= 7:
		return DueBadge{strconv.Itoa(days) + " days left", "yellow"}
	case days <= 30:
		return DueBadge{strconv.Itoa(days) + " days left", "blue"}
	default:
		return DueBadge{strconv.Itoa(days) + " days left", "green"}
	}
}

// FormatDate renders a date attribute as YYYY-MM-DD, or fallback.
func FormatDate(v any, loc *time.Location, fallback string) string {
	if d, ok := ParseDate(v, loc); ok {
		return d.Format("2006-01-02")
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" && s != "None" {
		return s
	}
	return fallback
}

// SortByDue orders projects nearest/overdue first; undated projects go last.
// The sort is stable and does not modify the input.
func SortByDue(projects []Project, now time.Time) []Project {
	type keyed struct {
		p    Project
		days int
		ok   bool
	}
	ks := make([]keyed, len(projects))
	for i, p := range projects {
		d, ok := DaysUntilDue(p, now)
		ks[i] = keyed{p, d, ok}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].ok != ks[j].ok {
			return ks[i].ok
		}
		return ks[i].days < ks[j].days
	})
	out := make([]Project, len(ks))
	for i, k := range ks {
		out[i] = k.p
	}
	return out
}
