// Package dates maps calendar days onto the rotating timetable and parses
// the small date grammar users type.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	"hwplanner/internal/model"
)

// DefaultHorizon is how many days NextOccurrence looks ahead.
const DefaultHorizon = 14

var lessonDays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var userDateRe = regexp.MustCompile(`^\s*(\d{1,2})\.(\d{1,2})\s*$`)

// WeekInfo returns (parity, weekday) for d.
func WeekInfo(d model.Date) (parity, weekday int) {
	return d.WeekInfo()
}

// ParseUserDate parses DD.MM relative to today. The year is today's,
// unless the month lies more than six months back, in which case the date
// is taken to be next year's (a December question about January).
// Dates before today are rejected.
func ParseUserDate(text string, today model.Date) (model.Date, error) {
	m := userDateRe.FindStringSubmatch(text)
	if m == nil {
		return 0, &model.MalformedDateError{Input: text, Reason: "use the DD.MM format"}
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, &model.MalformedDateError{Input: text, Reason: "month must be between 01 and 12"}
	}

	year := today.Year()
	if month < int(today.Month())-6 {
		year++
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return 0, &model.MalformedDateError{Input: text, Reason: "no such day"}
	}

	d := model.DateOf(t)
	if d < today {
		return 0, &model.MalformedDateError{Input: text, Reason: "the date is in the past"}
	}
	return d, nil
}

// Candidates returns the lesson days (Sundays skipped) from start+1 through
// start+horizon inclusive.
func Candidates(start model.Date, horizon int) ([]model.Date, error) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   start.AddDays(1).Time(),
		Until:     start.AddDays(horizon).Time(),
		Byweekday: lessonDays,
	})
	if err != nil {
		return nil, fmt.Errorf("build day rule: %w", err)
	}
	times := r.All()
	out := make([]model.Date, 0, len(times))
	for _, t := range times {
		out = append(out, model.DateOf(t))
	}
	return out, nil
}

// NextOccurrence finds the first day after start on which subject has a
// lesson. Parity is taken from each candidate's own ISO week, so the result
// always agrees with Timetable.HasSubject.
func NextOccurrence(tt *model.Timetable, subject int, start model.Date, horizon int) (model.Date, error) {
	if tt == nil {
		return 0, model.ErrScheduleNotFound
	}
	days, err := Candidates(start, horizon)
	if err != nil {
		return 0, err
	}
	for _, d := range days {
		if tt.HasSubject(d, subject) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: no lesson of this subject in the next %d days", model.ErrNotFound, len(days))
}

// Label renders d the way date pickers show it: Today, Tomorrow or
// "DD.MM (Ddd)".
func Label(d, today model.Date) string {
	switch d {
	case today:
		return "Today"
	case today + 1:
		return "Tomorrow"
	default:
		return fmt.Sprintf("%s (%s)", d, d.ShortWeekdayName())
	}
}

// ParseLabel reverses Label for dates not before today.
func ParseLabel(label string, today model.Date) (model.Date, error) {
	switch label {
	case "Today":
		return today, nil
	case "Tomorrow":
		return today + 1, nil
	}
	if len(label) >= 5 {
		return ParseUserDate(label[:5], today)
	}
	return 0, &model.MalformedDateError{Input: label, Reason: "unknown date"}
}
