// Package ics publishes a user's timetable and homework as an iCalendar
// feed that calendar apps can subscribe to.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

const uidDomain = "@hwplanner"

// MaxWeeks caps how far ahead lesson series run.
const MaxWeeks = 104

// Options controls how lessons are placed on the clock. The timetable only
// knows slot numbers, so slot n starts at FirstLesson + n*(LessonLength+Break).
type Options struct {
	Location     *time.Location
	From         model.Date // lessons recur from this day on
	Weeks        int        // how far ahead lesson series run
	FirstLesson  time.Duration
	LessonLength time.Duration
	Break        time.Duration
	Now          time.Time
}

func (o *Options) normalize() {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Weeks <= 0 {
		o.Weeks = 16
	}
	if o.Weeks > MaxWeeks {
		o.Weeks = MaxWeeks
	}
	if o.FirstLesson == 0 {
		o.FirstLesson = 8*time.Hour + 30*time.Minute
	}
	if o.LessonLength == 0 {
		o.LessonLength = 45 * time.Minute
	}
	if o.Break == 0 {
		o.Break = 10 * time.Minute
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
}

// Export renders the calendar. Users without a schedule get a calendar
// with their homework only.
func Export(u *model.User, opts Options) (string, error) {
	opts.normalize()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//hwplanner//homework planner//EN")
	cal.SetXWRCalName("Homework")
	cal.SetXWRTimezone(opts.Location.String())

	lessons := 0
	if u.HasSchedule() {
		n, err := addLessons(cal, u, opts)
		if err != nil {
			return "", err
		}
		lessons = n
	}
	for _, h := range u.Homework {
		addHomework(cal, u, h, opts.Now)
	}

	appLog.Debug("calendar exported", "user", u.ID, "lesson_series", lessons, "homework", len(u.Homework))
	return cal.Serialize(), nil
}

func addLessons(cal *ical.Calendar, u *model.User, opts Options) (int, error) {
	until := opts.From.AddDays(opts.Weeks * 7)
	count := 0
	for parity := 0; parity < 2; parity++ {
		for weekday := 0; weekday < model.DaysPerWeek; weekday++ {
			first, ok := firstDay(opts.From, parity, weekday)
			if !ok || first > until {
				continue
			}
			rule, err := seriesRule(first, until, parity)
			if err != nil {
				return count, err
			}
			for slot, subject := range u.Timetable.Weeks[parity][weekday] {
				if subject == model.NoLesson || subject >= len(u.Subjects) {
					continue
				}
				addLesson(cal, u, opts, first, rule, parity, weekday, slot, subject)
				count++
			}
		}
	}
	return count, nil
}

// firstDay finds the first date on or after from with the given week
// parity and weekday. Three weeks always suffice, even across a 53-week
// year where two consecutive weeks share a parity.
func firstDay(from model.Date, parity, weekday int) (model.Date, bool) {
	for i := 0; i < 21; i++ {
		d := from.AddDays(i)
		if p, wd := d.WeekInfo(); p == parity && wd == weekday {
			return d, true
		}
	}
	return 0, false
}

// seriesRule builds a fortnightly RRULE starting at first. The series is
// cut before the first occurrence whose ISO week parity no longer matches,
// which happens after a 53-week year.
func seriesRule(first, until model.Date, parity int) (string, error) {
	opt := rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: 2,
		Dtstart:  first.Time(),
		Until:    until.Time(),
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return "", fmt.Errorf("build lesson rule: %w", err)
	}
	last := first
	for _, t := range r.All() {
		d := model.DateOf(t)
		if p, _ := d.WeekInfo(); p != parity {
			break
		}
		last = d
	}
	// UNTIL is inclusive and compared against UTC start times, so cover
	// the whole last day.
	opt.Until = last.Time().Add(24*time.Hour - time.Second)
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), nil
}

func addLesson(cal *ical.Calendar, u *model.User, opts Options, first model.Date, rule string, parity, weekday, slot, subject int) {
	sub := u.Subjects[subject]
	start := first.In(opts.Location).Add(opts.FirstLesson + time.Duration(slot)*(opts.LessonLength+opts.Break))

	ev := cal.AddEvent(fmt.Sprintf("lesson-%d-%d-%d-%d%s", u.ID, parity, weekday, slot, uidDomain))
	ev.SetDtStampTime(opts.Now)
	ev.SetSummary(fmt.Sprintf("%d. %s", slot+1, sub.Name))
	ev.SetStartAt(start)
	ev.SetEndAt(start.Add(opts.LessonLength))
	ev.AddRrule(rule)
	if sub.Room != nil {
		ev.SetLocation(*sub.Room)
	}
	if sub.Teacher != nil {
		ev.SetDescription(*sub.Teacher)
	}
}

func addHomework(cal *ical.Calendar, u *model.User, h model.Homework, now time.Time) {
	name := u.SubjectName(h.Subject)
	ev := cal.AddEvent(h.ID + uidDomain)
	ev.SetDtStampTime(now)
	ev.SetSummary(strings.TrimSpace(name + ": " + h.Description))
	ev.SetAllDayStartAt(h.Date.Time())
	ev.SetAllDayEndAt(h.Date.AddDays(1).Time())
	if h.Placement == model.ForLesson {
		ev.SetDescription("Due at the " + name + " lesson")
	} else {
		ev.SetDescription("Due by the end of the day")
	}
}
