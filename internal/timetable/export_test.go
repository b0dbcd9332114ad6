package timetable

import (
	"errors"
	"testing"

	"hwplanner/internal/model"
)

func TestExportRoundTrip(t *testing.T) {
	room := "204"
	tt := model.NewTimetable(6)
	tt.Weeks[0][model.Monday] = []int{0, 1, model.NoLesson, 2, model.NoLesson, model.NoLesson}
	tt.Weeks[1][model.Saturday] = []int{model.NoLesson, model.NoLesson, model.NoLesson, model.NoLesson, model.NoLesson, 1}
	in := &Schedule{
		Subjects:  []model.Subject{{Name: "Math"}, {Name: "Art", Room: &room}, {Name: "History"}},
		Timetable: tt,
	}

	data, err := Export(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Import(data, 6)
	if err != nil {
		t.Fatal(err)
	}

	if len(out.Subjects) != 3 || out.Subjects[1].Room == nil || *out.Subjects[1].Room != "204" || out.Subjects[0].Teacher != nil {
		t.Fatalf("roster = %+v", out.Subjects)
	}
	for p := range tt.Weeks {
		for d := range tt.Weeks[p] {
			if !equalInts(out.Timetable.Weeks[p][d], tt.Weeks[p][d]) {
				t.Errorf("week %d day %d = %v, want %v", p, d, out.Timetable.Weeks[p][d], tt.Weeks[p][d])
			}
		}
	}
}

func TestBlankTemplateHasHeadersOnly(t *testing.T) {
	data, err := Export(&Schedule{})
	if err != nil {
		t.Fatal(err)
	}
	// The template parses as far as the roster, which the user still has
	// to fill in.
	_, err = Import(data, 5)
	var ms *model.MalformedScheduleError
	if !errors.As(err, &ms) {
		t.Fatalf("want MalformedScheduleError, got %v", err)
	}
	if got := (&Schedule{}).Grid().Cell(0, weekBlockCols[1]+5); got != "Sat" {
		t.Fatalf("last block header = %q", got)
	}
}
