// Package render produces the user-facing day view. Output uses Telegram's
// HTML subset (<i>, <b>), so user-supplied text is escaped.
package render

import (
	"fmt"
	"html"
	"strings"

	"hwplanner/internal/homework"
	"hwplanner/internal/model"
)

const (
	noLessons = "No lessons.\n\n"
	bullet    = "❗"
)

// Options tweaks the presentation.
type Options struct {
	// ShowEmptySlots prints "N:   No lesson." for empty slots instead of
	// skipping them.
	ShowEmptySlots bool
}

// Day renders the schedule of d with homework merged in.
func Day(u *model.User, l *homework.Ledger, d model.Date, opts Options) (string, error) {
	if !u.HasSchedule() {
		return "", model.ErrScheduleNotFound
	}
	if l == nil {
		l = &homework.Ledger{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<i>%s (%s):</i>\n\n", d.WeekdayName(), d)

	if d.Weekday() == model.Sunday || u.Timetable.IsFree(d) {
		b.WriteString(noLessons)
	} else {
		for slot, subject := range u.Timetable.Day(d) {
			if subject == model.NoLesson {
				if opts.ShowEmptySlots {
					fmt.Fprintf(&b, "%d:   No lesson.\n\n", slot+1)
				}
				continue
			}
			writeLesson(&b, u, slot, subject)
			for _, h := range l.ByDateAndSubject(d, subject, model.ForLesson) {
				writeBullet(&b, h.Description)
			}
			b.WriteString("\n")
		}
	}

	WriteGrouped(&b, u, l.ByDatePlacement(d, model.ForEndOfDay))
	return b.String(), nil
}

// Week renders seven consecutive days starting at from.
func Week(u *model.User, l *homework.Ledger, from model.Date, opts Options) ([]string, error) {
	out := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		s, err := Day(u, l, from.AddDays(i), opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteGrouped writes entries (already ordered by subject) with one
// subject header per contiguous run.
func WriteGrouped(b *strings.Builder, u *model.User, entries []model.Homework) {
	current := model.NoLesson
	for _, h := range entries {
		if h.Subject != current {
			current = h.Subject
			b.WriteString("\n" + html.EscapeString(u.SubjectName(current)) + "\n")
		}
		writeBullet(b, h.Description)
	}
}

func writeLesson(b *strings.Builder, u *model.User, slot, subject int) {
	fmt.Fprintf(b, "%d:   %s\n", slot+1, html.EscapeString(u.SubjectName(subject)))
	if subject < 0 || subject >= len(u.Subjects) {
		return
	}
	s := u.Subjects[subject]
	if s.Teacher != nil {
		b.WriteString(html.EscapeString(*s.Teacher) + "\n")
	}
	if s.Room != nil {
		b.WriteString(html.EscapeString(*s.Room) + "\n")
	}
}

func writeBullet(b *strings.Builder, desc string) {
	b.WriteString(bullet + "<b>" + html.EscapeString(desc) + "</b>\n")
}
