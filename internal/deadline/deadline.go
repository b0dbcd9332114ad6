// Package deadline turns the loosely specified deadline a user gives for
// homework into a concrete date and placement.
package deadline

import (
	"strings"

	"hwplanner/internal/dates"
	"hwplanner/internal/model"
)

type Kind int

const (
	// NextLesson means "the next time this subject is taught".
	NextLesson Kind = iota
	// Exact means a specific calendar date.
	Exact
)

// Keywords accepted besides DD.MM.
const (
	KeywordNextLesson = "next lesson"
	KeywordToday      = "today"
	KeywordTomorrow   = "tomorrow"
)

type Deadline struct {
	Kind Kind
	Date model.Date // set when Kind == Exact
}

// Parse reads raw user input. An empty string means the next lesson.
func Parse(raw string, today model.Date) (Deadline, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", KeywordNextLesson:
		return Deadline{Kind: NextLesson}, nil
	case KeywordToday:
		return Deadline{Kind: Exact, Date: today}, nil
	case KeywordTomorrow:
		return Deadline{Kind: Exact, Date: today + 1}, nil
	}
	d, err := dates.ParseUserDate(raw, today)
	if err != nil {
		return Deadline{}, err
	}
	return Deadline{Kind: Exact, Date: d}, nil
}

// IsAmbiguous reports whether homework due on d for subject could be meant
// for the lesson itself or for the end of the day.
func IsAmbiguous(tt *model.Timetable, d model.Date, subject int) bool {
	return tt.HasSubject(d, subject)
}

// Resolve picks the date and placement for new homework.
//
// A next-lesson deadline always lands on a lesson, so placement is forced
// to ForLesson. An exact date on which the subject is taught needs the
// caller's choice: requested is used, and ErrPlacementRequired is returned
// when it is PlacementUnset. Any other exact date is due by the end of the
// day.
func Resolve(tt *model.Timetable, subject int, dl Deadline, requested model.Placement, today model.Date, horizon int) (model.Date, model.Placement, error) {
	if tt == nil {
		return 0, model.PlacementUnset, model.ErrScheduleNotFound
	}
	if dl.Kind == NextLesson {
		d, err := dates.NextOccurrence(tt, subject, today, horizon)
		if err != nil {
			return 0, model.PlacementUnset, err
		}
		return d, model.ForLesson, nil
	}

	if IsAmbiguous(tt, dl.Date, subject) {
		if requested == model.PlacementUnset {
			return dl.Date, model.PlacementUnset, model.ErrPlacementRequired
		}
		return dl.Date, requested, nil
	}
	return dl.Date, model.ForEndOfDay, nil
}
