// Package stats resolves stats queries and aggregates send history into results.
package stats

import (
	"fmt"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// Window is a named period resolved relative to the evaluation instant.
type Window string

const (
	Today       Window = "today"
	Yesterday   Window = "yesterday"
	Past24Hours Window = "past24Hours"
	Past7Days   Window = "past7Days"
	ThisWeek    Window = "thisWeek"
	PastWeek    Window = "pastWeek"
	Past30Days  Window = "past30Days"
	ThisMonth   Window = "thisMonth"
	PastMonth   Window = "pastMonth"
	Past365Days Window = "past365Days"
	ThisYear    Window = "thisYear"
	PastYear    Window = "pastYear"
)

// DefaultWindow applies when a query names neither a window nor a period.
const DefaultWindow = Past24Hours

// Windows lists every named window.
var Windows = []Window{
	Today, Yesterday, Past24Hours, Past7Days, ThisWeek, PastWeek,
	Past30Days, ThisMonth, PastMonth, Past365Days, ThisYear, PastYear,
}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	for _, w := range Windows {
		if string(w) == s {
			return w, nil
		}
	}

	return "", fmt.Errorf("%w: %q", model.ErrUnknownWindow, s)
}

// Period is an inclusive time range.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate checks that the range is not inverted.
func (p Period) Validate() error {
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("%w: from and to are required", model.ErrInvalidPeriod)
	}
	if p.From.After(p.To) {
		return fmt.Errorf("%w: from %s is after to %s", model.ErrInvalidPeriod,
			p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}

	return nil
}

// Resolve turns w into absolute boundaries around now. Calendar boundaries
// (days, weeks starting Monday, months, years) follow now's location.
func (w Window) Resolve(now time.Time) (Period, error) {
	switch w {
	case Today:
		return Period{From: startOfDay(now), To: endOfDay(now)}, nil
	case Yesterday:
		day := now.AddDate(0, 0, -1)
		return Period{From: startOfDay(day), To: endOfDay(day)}, nil
	case Past24Hours:
		return Period{From: now.Add(-24 * time.Hour), To: now}, nil
	case Past7Days:
		return pastDays(now, 7), nil
	case Past30Days:
		return pastDays(now, 30), nil
	case Past365Days:
		return pastDays(now, 365), nil
	case ThisWeek:
		start := startOfWeek(now)
		return Period{From: start, To: endOfDay(start.AddDate(0, 0, 6))}, nil
	case PastWeek:
		start := startOfWeek(now).AddDate(0, 0, -7)
		return Period{From: start, To: endOfDay(start.AddDate(0, 0, 6))}, nil
	case ThisMonth:
		start := startOfMonth(now)
		return Period{From: start, To: endOfDay(start.AddDate(0, 1, -1))}, nil
	case PastMonth:
		start := startOfMonth(now).AddDate(0, -1, 0)
		return Period{From: start, To: endOfDay(start.AddDate(0, 1, -1))}, nil
	case ThisYear:
		start := startOfYear(now)
		return Period{From: start, To: endOfDay(start.AddDate(1, 0, -1))}, nil
	case PastYear:
		start := startOfYear(now).AddDate(-1, 0, 0)
		return Period{From: start, To: endOfDay(start.AddDate(1, 0, -1))}, nil
	default:
		return Period{}, fmt.Errorf("%w: %q", model.ErrUnknownWindow, string(w))
	}
}

func pastDays(now time.Time, days int) Period {
	return Period{From: startOfDay(now.AddDate(0, 0, -days)), To: endOfDay(now)}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return startOfDay(t.AddDate(0, 0, -offset))
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}
