// Package engine is the operation surface shared by every front end: it
// loads a user, applies one domain operation and saves the result, holding
// that user's lock for the whole read-modify-write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hwplanner/internal/dates"
	"hwplanner/internal/deadline"
	"hwplanner/internal/homework"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
	"hwplanner/internal/notify"
	"hwplanner/internal/render"
	"hwplanner/internal/store"
	"hwplanner/internal/timetable"
)

// Options tunes an Engine. Zero fields take defaults.
type Options struct {
	MaxLessons int
	Horizon    int
	Location   *time.Location
	Render     render.Options
	// Now is the clock; tests pin it.
	Now func() time.Time
}

type Engine struct {
	store      store.Store
	now        func() time.Time
	loc        *time.Location
	maxLessons int
	horizon    int
	renderOpts render.Options

	locksMu sync.Mutex
	locks   map[int64]*userLock
}

// userLock lives in Engine.locks only while someone holds or waits for it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func New(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:      st,
		now:        opts.Now,
		loc:        opts.Location,
		maxLessons: opts.MaxLessons,
		horizon:    opts.Horizon,
		renderOpts: opts.Render,
		locks:      make(map[int64]*userLock),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.maxLessons <= 0 {
		e.maxLessons = 10
	}
	if e.horizon <= 0 {
		e.horizon = dates.DefaultHorizon
	}
	return e
}

// Today is the current date in the engine's zone.
func (e *Engine) Today() model.Date {
	return model.DateOf(e.now().In(e.loc))
}

// Location is the zone that decides what today is.
func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) lock(userID int64) func() {
	e.locksMu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &userLock{}
		e.locks[userID] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(e.locks, userID)
		}
		e.locksMu.Unlock()
	}
}

// load returns the stored user, or a fresh one for unknown ids. Users are
// created on their first write.
func (e *Engine) load(ctx context.Context, userID int64) (*model.User, error) {
	u, err := e.store.Load(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return &model.User{ID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return u, nil
}

func (e *Engine) save(ctx context.Context, u *model.User) error {
	if err := e.store.Save(ctx, u); err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	return nil
}

// User returns a snapshot of the stored user.
func (e *Engine) User(ctx context.Context, userID int64) (*model.User, error) {
	return e.load(ctx, userID)
}

// ImportSchedule replaces the roster and timetable with the spreadsheet
// contents. Existing homework refers to the old roster and is dropped.
func (e *Engine) ImportSchedule(ctx context.Context, userID int64, data []byte) error {
	sched, err := timetable.Import(data, e.maxLessons)
	if err != nil {
		return err
	}

	unlock := e.lock(userID)
	defer unlock()

	u, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	dropped := len(u.Homework)
	u.Subjects = sched.Subjects
	u.Timetable = sched.Timetable
	u.Homework = nil
	u.RosterVersion++
	if err := e.save(ctx, u); err != nil {
		return err
	}
	appLog.Info("schedule imported", "user", userID, "subjects", len(u.Subjects), "roster_version", u.RosterVersion, "homework_dropped", dropped)
	return nil
}

// GetDaySchedule renders one day with its homework.
func (e *Engine) GetDaySchedule(ctx context.Context, userID int64, d model.Date) (string, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return render.Day(u, homework.FromEntries(u.Homework), d, e.renderOpts)
}

// GetWeekSchedule renders seven consecutive days starting at from.
func (e *Engine) GetWeekSchedule(ctx context.Context, userID int64, from model.Date) ([]string, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return render.Week(u, homework.FromEntries(u.Homework), from, e.renderOpts)
}

// ListSubjects returns the roster names in index order together with the
// roster version that AddHomework must be called with.
func (e *Engine) ListSubjects(ctx context.Context, userID int64) ([]string, int, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if !u.HasSchedule() {
		return nil, 0, model.ErrScheduleNotFound
	}
	names := make([]string, len(u.Subjects))
	for i, s := range u.Subjects {
		names[i] = s.Name
	}
	return names, u.RosterVersion, nil
}

// AddRequest describes new homework. Subject is a roster index taken from
// ListSubjects at RosterVersion.
type AddRequest struct {
	Subject       int
	Deadline      string
	Placement     model.Placement
	Description   string
	RosterVersion int
}

// AddHomework resolves the deadline and stores the entry.
func (e *Engine) AddHomework(ctx context.Context, userID int64, req AddRequest) (model.Date, model.Placement, error) {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return 0, model.PlacementUnset, model.ErrEmptyDescription
	}

	unlock := e.lock(userID)
	defer unlock()

	u, err := e.load(ctx, userID)
	if err != nil {
		return 0, model.PlacementUnset, err
	}
	if !u.HasSchedule() {
		return 0, model.PlacementUnset, model.ErrScheduleNotFound
	}
	if req.RosterVersion != u.RosterVersion || req.Subject < 0 || req.Subject >= len(u.Subjects) {
		return 0, model.PlacementUnset, model.ErrStaleSubject
	}

	today := e.Today()
	dl, err := deadline.Parse(req.Deadline, today)
	if err != nil {
		return 0, model.PlacementUnset, err
	}
	date, placement, err := deadline.Resolve(u.Timetable, req.Subject, dl, req.Placement, today, e.horizon)
	if err != nil {
		return date, placement, err
	}

	l := homework.FromEntries(u.Homework)
	entry := l.Add(model.Homework{Date: date, Subject: req.Subject, Placement: placement, Description: desc})
	u.Homework = l.Entries()
	if err := e.save(ctx, u); err != nil {
		return 0, model.PlacementUnset, err
	}
	appLog.Info("homework added", "user", userID, "id", entry.ID, "date", date.ISO(), "placement", placement, "subject", req.Subject)
	return date, placement, nil
}

// IsAmbiguous reports whether the deadline falls on a day the subject is
// taught, so the caller has to ask for a placement.
func (e *Engine) IsAmbiguous(ctx context.Context, userID int64, subject int, rawDeadline string) (bool, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.HasSchedule() {
		return false, model.ErrScheduleNotFound
	}
	dl, err := deadline.Parse(rawDeadline, e.Today())
	if err != nil {
		return false, err
	}
	if dl.Kind == deadline.NextLesson {
		return false, nil
	}
	return deadline.IsAmbiguous(u.Timetable, dl.Date, subject), nil
}

// DateLabel pairs a date with its picker label.
type DateLabel struct {
	Date  model.Date
	Label string
}

// ListUpcomingDates returns the dates from today on that have homework.
func (e *Engine) ListUpcomingDates(ctx context.Context, userID int64) ([]DateLabel, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := e.Today()
	var out []DateLabel
	for _, d := range homework.FromEntries(u.Homework).Dates(today) {
		out = append(out, DateLabel{Date: d, Label: dates.Label(d, today)})
	}
	return out, nil
}

// ListHomeworkOn returns the entries due on d as list lines.
func (e *Engine) ListHomeworkOn(ctx context.Context, userID int64, d model.Date) ([]string, error) {
	u, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, h := range homework.FromEntries(u.Homework).ByDate(d) {
		out = append(out, homework.FormatLine(u.SubjectName(h.Subject), h))
	}
	return out, nil
}

// DeleteHomework removes the first entry on d matching a line produced by
// ListHomeworkOn.
func (e *Engine) DeleteHomework(ctx context.Context, userID int64, d model.Date, line string) error {
	return e.mutateLedger(ctx, userID, func(u *model.User, l *homework.Ledger) error {
		key, err := homework.ParseLine(line, u.Subjects)
		if err != nil {
			return err
		}
		return l.Delete(d, key)
	})
}

// DeleteHomeworkByID removes exactly one entry regardless of duplicates.
func (e *Engine) DeleteHomeworkByID(ctx context.Context, userID int64, id string) error {
	return e.mutateLedger(ctx, userID, func(_ *model.User, l *homework.Ledger) error {
		return l.DeleteByID(id)
	})
}

func (e *Engine) mutateLedger(ctx context.Context, userID int64, fn func(*model.User, *homework.Ledger) error) error {
	unlock := e.lock(userID)
	defer unlock()

	u, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	l := homework.FromEntries(u.Homework)
	if err := fn(u, l); err != nil {
		return err
	}
	u.Homework = l.Entries()
	if err := e.save(ctx, u); err != nil {
		return err
	}
	appLog.Info("homework deleted", "user", userID, "remaining", l.Len())
	return nil
}

// RunDailyMaintenance prunes old homework for every user and returns the
// reminders to send. A user whose storage fails is skipped and reported in
// the returned error; the others are still processed.
func (e *Engine) RunDailyMaintenance(ctx context.Context) ([]notify.Notification, error) {
	ids, err := e.store.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	today := e.Today()
	var (
		users  []*model.User
		errs   []error
		pruned int
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, n, err := e.pruneUser(ctx, id, today)
		if err != nil {
			appLog.Error("maintenance failed for user", err, "user", id)
			errs = append(errs, err)
			continue
		}
		pruned += n
		users = append(users, u)
	}

	ns := notify.Scan(users, today)
	appLog.Info("daily maintenance done", "users", len(ids), "pruned", pruned, "notifications", len(ns), "failed", len(errs))
	return ns, errors.Join(errs...)
}

func (e *Engine) pruneUser(ctx context.Context, userID int64, today model.Date) (*model.User, int, error) {
	unlock := e.lock(userID)
	defer unlock()

	u, err := e.load(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	l := homework.FromEntries(u.Homework)
	n := l.Prune(today)
	if n == 0 {
		return u, 0, nil
	}
	u.Homework = l.Entries()
	if err := e.save(ctx, u); err != nil {
		return nil, 0, err
	}
	return u, n, nil
}
