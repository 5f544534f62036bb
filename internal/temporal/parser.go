package temporal

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is a half-open-free inclusive date constraint parsed from a query.
type Range struct {
	Start time.Time
	End   time.Time
}

// Midpoint returns the center of the range.
func (r Range) Midpoint() time.Time {
	return r.Start.Add(r.End.Sub(r.Start) / 2)
}

// Radius returns half the range width.
func (r Range) Radius() time.Duration {
	return r.End.Sub(r.Start) / 2
}

// Contains reports whether t falls inside the range, inclusive.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Parser maps a free-text query to an optional date range. A nil Range
// with a nil error means the query has no temporal constraint.
type Parser interface {
	ParseTime(ctx context.Context, query string, now time.Time) (*Range, error)
}

// RuleParser resolves common relative time expressions without any model
// call. Expressions it cannot resolve yield no range.
type RuleParser struct{}

func NewRuleParser() *RuleParser { return &RuleParser{} }

var (
	reYesterday = regexp.MustCompile(`(?i)\byesterday\b`)
	reToday     = regexp.MustCompile(`(?i)\btoday\b`)
	reLastNight = regexp.MustCompile(`(?i)\blast night\b`)
	reLastWeek  = regexp.MustCompile(`(?i)\blast week\b`)
	reLastMonth = regexp.MustCompile(`(?i)\blast month\b`)
	reLastYear  = regexp.MustCompile(`(?i)\blast year\b`)
	reAgo       = regexp.MustCompile(`(?i)\b(\d+)\s+(day|week|month|year)s?\s+ago\b`)
	reInYear    = regexp.MustCompile(`(?i)\bin\s+(19\d{2}|20\d{2})\b`)
)

// ParseTime resolves the query against now. now anchors all relative
// expressions so results are reproducible in tests.
func (p *RuleParser) ParseTime(_ context.Context, query string, now time.Time) (*Range, error) {
	day := 24 * time.Hour
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case reYesterday.MatchString(query):
		return &Range{Start: today.Add(-day), End: today.Add(-time.Second)}, nil
	case reLastNight.MatchString(query):
		return &Range{Start: today.Add(-6 * time.Hour), End: today.Add(6 * time.Hour)}, nil
	case reToday.MatchString(query):
		return &Range{Start: today, End: today.Add(day - time.Second)}, nil
	case reLastWeek.MatchString(query):
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		thisMonday := today.Add(-time.Duration(weekday-1) * day)
		return &Range{Start: thisMonday.Add(-7 * day), End: thisMonday.Add(-time.Second)}, nil
	case reLastMonth.MatchString(query):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &Range{Start: first.AddDate(0, -1, 0), End: first.Add(-time.Second)}, nil
	case reLastYear.MatchString(query):
		return &Range{
			Start: time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location()),
			End:   time.Date(now.Year()-1, 12, 31, 23, 59, 59, 0, now.Location()),
		}, nil
	}

	if m := reAgo.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			var anchor time.Time
			// The regex matches case-insensitively; the captured unit must
			// be folded to match it.
			switch strings.ToLower(m[2]) {
			case "day":
				anchor = today.AddDate(0, 0, -n)
			case "week":
				anchor = today.AddDate(0, 0, -7*n)
			case "month":
				anchor = today.AddDate(0, -n, 0)
			case "year":
				anchor = today.AddDate(-n, 0, 0)
			}
			// A point expression gets a one-day window.
			return &Range{Start: anchor, End: anchor.Add(day - time.Second)}, nil
		}
	}

	if m := reInYear.FindStringSubmatch(query); m != nil {
		year, err := strconv.Atoi(m[1])
		if err == nil {
			return &Range{
				Start: time.Date(year, 1, 1, 0, 0, 0, 0, now.Location()),
				End:   time.Date(year, 12, 31, 23, 59, 59, 0, now.Location()),
			}, nil
		}
	}

	return nil, nil
}
