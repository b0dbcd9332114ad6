package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"hwplanner/internal/model"
)

var today = model.NewDate(2026, time.October, 15)

func user(id int64, hw ...model.Homework) *model.User {
	return &model.User{
		ID:        id,
		Subjects:  []model.Subject{{Name: "Math"}, {Name: "Art"}, {Name: "History"}},
		Timetable: model.NewTimetable(5),
		Homework:  hw,
	}
}

func hw(d model.Date, subject int, p model.Placement, desc string) model.Homework {
	return model.Homework{Date: d, Subject: subject, Placement: p, Description: desc}
}

func TestScan(t *testing.T) {
	users := []*model.User{
		user(1,
			hw(today, 2, model.ForEndOfDay, "essay"),
			hw(today, 0, model.ForEndOfDay, "sums"),
			hw(today+1, 1, model.ForLesson, "sketch"),
			hw(today, 1, model.ForLesson, "ignored: lesson today"),
			hw(today+1, 0, model.ForEndOfDay, "ignored: day tomorrow"),
		),
		user(2, hw(today+2, 0, model.ForLesson, "later")),
		{ID: 3, Homework: []model.Homework{hw(today, 0, model.ForEndOfDay, "no schedule")}},
		user(4, hw(today+1, 2, model.ForLesson, "read")),
	}

	got := Scan(users, today)
	if len(got) != 2 {
		t.Fatalf("got %d notifications: %+v", len(got), got)
	}

	want1 := todayHeader +
		"\nMath\n❗<b>sums</b>\n" +
		"\nHistory\n❗<b>essay</b>\n" +
		"\n\n" +
		tomorrowHeader +
		"\nArt\n❗<b>sketch</b>\n"
	if got[0].UserID != 1 || got[0].Text != want1 {
		t.Fatalf("user 1:\n%q\nwant\n%q", got[0].Text, want1)
	}
	if got[1].UserID != 4 || got[1].Text != tomorrowHeader+"\nHistory\n❗<b>read</b>\n" {
		t.Fatalf("user 4: %+v", got[1])
	}
}

type recordingSender struct {
	fail map[int64]bool
	sent []int64
}

func (r *recordingSender) Send(_ context.Context, n Notification) error {
	if r.fail[n.UserID] {
		return errors.New("blocked by user")
	}
	r.sent = append(r.sent, n.UserID)
	return nil
}

func TestDeliverContinuesAfterFailure(t *testing.T) {
	s := &recordingSender{fail: map[int64]bool{2: true}}
	n := Deliver(context.Background(), s, []Notification{{UserID: 1}, {UserID: 2}, {UserID: 3}})
	if n != 2 || len(s.sent) != 2 || s.sent[1] != 3 {
		t.Fatalf("delivered %d, sent %v", n, s.sent)
	}
}
