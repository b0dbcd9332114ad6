package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"hwplanner/internal/config"
	"hwplanner/internal/engine"
	"hwplanner/internal/model"
	"hwplanner/internal/notify"
	"hwplanner/internal/store"
	"hwplanner/internal/timetable"
)

var msk = time.FixedZone("MSK", 3*60*60)

// 2026-10-11 is a Sunday; the next day starts an even ISO week.
var sunday = time.Date(2026, time.October, 11, 12, 0, 0, 0, msk)

type recordingSender struct {
	got []notify.Notification
}

func (r *recordingSender) Send(_ context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *recordingSender) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	eng := engine.New(store.NewMemoryStore(), engine.Options{
		MaxLessons: 5,
		Location:   msk,
		Now:        func() time.Time { return sunday },
	})
	sender := &recordingSender{}
	return NewServer(cfg, eng, sender), sender
}

func scheduleFile(t *testing.T) []byte {
	t.Helper()
	tt := model.NewTimetable(5)
	tt.Weeks[0][model.Monday][0] = 0
	tt.Weeks[0][model.Wednesday][2] = 1
	data, err := timetable.Export(&timetable.Schedule{
		Subjects:  []model.Subject{{Name: "Math"}, {Name: "Art"}},
		Timetable: tt,
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodGet, "/api/users/1/subjects", nil)
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("no credentials: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/1/subjects", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("authorized request without schedule: %d", rec.Code)
	}
}

func TestImportRequiresConfirmation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	file := scheduleFile(t)

	rec := do(t, h, http.MethodPut, "/api/users/1/schedule", file)
	if rec.Code != http.StatusOK {
		t.Fatalf("first import: %d %s", rec.Code, rec.Body.String())
	}
	var subj subjectsResponse
	decode(t, rec, &subj)
	if strings.Join(subj.Subjects, ",") != "Math,Art" || subj.RosterVersion != 1 {
		t.Fatalf("subjects = %+v", subj)
	}

	if rec := do(t, h, http.MethodPut, "/api/users/1/schedule", file); rec.Code != http.StatusConflict {
		t.Fatalf("re-import without confirm: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPut, "/api/users/1/schedule?confirm=yes", file)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirmed re-import: %d", rec.Code)
	}
	decode(t, rec, &subj)
	if subj.RosterVersion != 2 {
		t.Fatalf("roster version = %d", subj.RosterVersion)
	}

	if rec := do(t, h, http.MethodPut, "/api/users/2/schedule", []byte("plain text")); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed file: %d", rec.Code)
	}
}

func TestHomeworkLifecycle(t *testing.T) {
	s, sender := newTestServer(t, nil)
	h := s.Handler()

	add := func(body string) *httptest.ResponseRecorder {
		return do(t, h, http.MethodPost, "/api/users/1/homework", []byte(body))
	}
	if rec := add(`{"subject":0,"description":"p.12","roster_version":1}`); rec.Code != http.StatusNotFound {
		t.Fatalf("add without schedule: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/users/1/schedule", scheduleFile(t)); rec.Code != http.StatusOK {
		t.Fatalf("import: %d", rec.Code)
	}

	rec := add(`{"subject":0,"description":"p.12","roster_version":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	var added addHomeworkResponse
	decode(t, rec, &added)
	if added.Date != "2026-10-12" || added.Placement != "lesson" {
		t.Fatalf("added = %+v", added)
	}
	if rec := add(`{"subject":0,"deadline":"12.10","description":"again","roster_version":1}`); rec.Code != http.StatusConflict {
		t.Fatalf("ambiguous date: %d", rec.Code)
	}
	if rec := add(`{"subject":0,"deadline":"12.10","placement":"day","description":"essay","roster_version":1}`); rec.Code != http.StatusCreated {
		t.Fatalf("explicit placement: %d", rec.Code)
	}
	if rec := add(`{"subject":0,"description":"  ","roster_version":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty description: %d", rec.Code)
	}
	if rec := add(`{"subject":0,"description":"x","placement":"soon","roster_version":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad placement: %d", rec.Code)
	}
	if rec := add(`{"subject":0,"description":"x","colour":"red"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/users/1/day?date=2026-10-12", nil)
	var day dayResponse
	decode(t, rec, &day)
	if rec.Code != http.StatusOK || !strings.Contains(day.Text, "Math") || !strings.Contains(day.Text, "p.12") {
		t.Fatalf("day: %d %+v", rec.Code, day)
	}

	rec = do(t, h, http.MethodGet, "/api/users/1/homework/dates", nil)
	var dl struct {
		Dates []struct{ Date, Label string } `json:"dates"`
	}
	decode(t, rec, &dl)
	if len(dl.Dates) != 1 || dl.Dates[0].Date != "2026-10-12" || dl.Dates[0].Label != "Tomorrow" {
		t.Fatalf("dates = %+v", dl)
	}

	rec = do(t, h, http.MethodGet, "/api/users/1/homework?date=tomorrow", nil)
	var list struct {
		Homework []homeworkEntry `json:"homework"`
	}
	decode(t, rec, &list)
	if len(list.Homework) != 2 || list.Homework[0].Line != "Math (lesson):   p.12" {
		t.Fatalf("list = %+v", list)
	}

	q := url.Values{"date": {"12.10"}, "line": {list.Homework[0].Line}}
	if rec := do(t, h, http.MethodDelete, "/api/users/1/homework?"+q.Encode(), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete by line: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodDelete, "/api/users/1/homework?"+q.Encode(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete by line: %d", rec.Code)
	}
	byID := "/api/users/1/homework/" + list.Homework[1].ID
	if rec := do(t, h, http.MethodDelete, byID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete by id: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, byID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete by id: %d", rec.Code)
	}

	// Maintenance with nothing due tomorrow sends nothing.
	rec = do(t, h, http.MethodPost, "/api/maintenance/run", nil)
	var mr maintenanceResponse
	decode(t, rec, &mr)
	if rec.Code != http.StatusOK || mr.Notifications != 0 || len(sender.got) != 0 {
		t.Fatalf("maintenance: %d %+v", rec.Code, mr)
	}
}

func TestMaintenanceDelivers(t *testing.T) {
	s, sender := newTestServer(t, nil)
	h := s.Handler()
	if rec := do(t, h, http.MethodPut, "/api/users/5/schedule", scheduleFile(t)); rec.Code != http.StatusOK {
		t.Fatalf("import: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/users/5/homework", []byte(`{"subject":0,"description":"p.12","roster_version":1}`)); rec.Code != http.StatusCreated {
		t.Fatalf("add: %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/maintenance/run", nil)
	var mr maintenanceResponse
	decode(t, rec, &mr)
	if mr.Notifications != 1 || mr.Sent != 1 || mr.Error != "" {
		t.Fatalf("maintenance = %+v", mr)
	}
	if len(sender.got) != 1 || sender.got[0].UserID != 5 || !strings.Contains(sender.got[0].Text, "p.12") {
		t.Fatalf("sent = %+v", sender.got)
	}
}

func TestDownloads(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	// A user without a schedule gets the blank template.
	rec := do(t, h, http.MethodGet, "/api/users/3/schedule.xlsx", nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("template: %d", rec.Code)
	}

	do(t, h, http.MethodPut, "/api/users/3/schedule", scheduleFile(t))
	rec = do(t, h, http.MethodGet, "/api/users/3/schedule.xlsx", nil)
	sched, err := timetable.Import(rec.Body.Bytes(), 5)
	if err != nil || len(sched.Subjects) != 2 {
		t.Fatalf("exported schedule: %+v %v", sched, err)
	}

	rec = do(t, h, http.MethodGet, "/api/users/3/calendar.ics?weeks=2", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("calendar: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "BEGIN:VEVENT") {
		t.Fatalf("calendar has no events:\n%s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/users/3/week?from=2026-10-12", nil)
	var week struct {
		Days []dayResponse `json:"days"`
	}
	decode(t, rec, &week)
	if len(week.Days) != 7 || week.Days[0].Date != "2026-10-12" || week.Days[6].Date != "2026-10-18" {
		t.Fatalf("week = %+v", week)
	}
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	if rec := do(t, h, http.MethodGet, "/api/users/abc/subjects", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad user id: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/users/1/day?date=31.02", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/users/1/homework", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete without params: %d", rec.Code)
	}
	for _, weeks := range []string{"0", "105", "1000000"} {
		if rec := do(t, h, http.MethodGet, "/api/users/1/calendar.ics?weeks="+weeks, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("weeks=%s: %d", weeks, rec.Code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrScheduleNotFound, http.StatusNotFound},
		{model.ErrNotFound, http.StatusNotFound},
		{model.MalformedSchedule("no roster"), http.StatusUnprocessableEntity},
		{&model.MalformedDateError{Input: "x"}, http.StatusBadRequest},
		{model.ErrPlacementRequired, http.StatusConflict},
		{model.ErrStaleSubject, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
