// Package notify builds the daily homework reminders.
package notify

import (
	"context"
	"strings"

	"hwplanner/internal/homework"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
	"hwplanner/internal/render"
)

const (
	todayHeader    = "<i>Today (until the end of the day):</i>\n"
	tomorrowHeader = "<i>Tomorrow (only for the lessons):</i>\n"
)

// Notification is one reminder for one user.
type Notification struct {
	UserID int64
	Text   string
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Scan collects today's end-of-day homework and tomorrow's lesson
// homework for every user with a schedule. Users with nothing due get no
// notification.
func Scan(users []*model.User, today model.Date) []Notification {
	var out []Notification
	for _, u := range users {
		if !u.HasSchedule() {
			continue
		}
		if text := Text(u, homework.FromEntries(u.Homework), today); text != "" {
			out = append(out, Notification{UserID: u.ID, Text: text})
		}
	}
	return out
}

// Text renders the reminder for a single user, or "" when nothing is due.
func Text(u *model.User, l *homework.Ledger, today model.Date) string {
	var b strings.Builder

	if due := l.ByDatePlacement(today, model.ForEndOfDay); len(due) > 0 {
		b.WriteString(todayHeader)
		render.WriteGrouped(&b, u, due)
		b.WriteString("\n\n")
	}
	if due := l.ByDatePlacement(today+1, model.ForLesson); len(due) > 0 {
		b.WriteString(tomorrowHeader)
		render.WriteGrouped(&b, u, due)
	}
	return b.String()
}

// Deliver sends every notification, logging failures and carrying on with
// the next user. It returns how many were delivered.
func Deliver(ctx context.Context, s Sender, ns []Notification) int {
	sent := 0
	for _, n := range ns {
		if err := ctx.Err(); err != nil {
			appLog.Error("notification delivery interrupted", err, "pending", len(ns)-sent)
			break
		}
		if err := s.Send(ctx, n); err != nil {
			appLog.Error("notification send failed", err, "user", n.UserID)
			continue
		}
		sent++
	}
	return sent
}

// LogSender writes notifications to the log. It is used when no chat
// transport is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	appLog.Info("notification", "user", n.UserID, "chars", len(n.Text))
	appLog.Debug("notification text", "user", n.UserID, "text", n.Text)
	return nil
}
