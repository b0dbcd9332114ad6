package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hwplanner/internal/config"
	"hwplanner/internal/dates"
	"hwplanner/internal/engine"
	"hwplanner/internal/homework"
	"hwplanner/internal/ics"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
	"hwplanner/internal/notify"
	"hwplanner/internal/timetable"
)

// maxUploadBytes caps schedule uploads.
const maxUploadBytes = 2 << 20

// Server exposes the planner over a small JSON API.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	sender notify.Sender
	mux    *http.ServeMux
}

// NewServer constructs a new Server. sender delivers reminders produced by
// a manual maintenance run.
func NewServer(cfg *config.Config, eng *engine.Engine, sender notify.Sender) *Server {
	if sender == nil {
		sender = notify.LogSender{}
	}
	s := &Server{
		cfg:    cfg,
		engine: eng,
		sender: sender,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="hwplanner", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("PUT /api/users/{id}/schedule", s.handleImportSchedule)
	s.mux.HandleFunc("GET /api/users/{id}/schedule.xlsx", s.handleExportSchedule)
	s.mux.HandleFunc("GET /api/users/{id}/day", s.handleDay)
	s.mux.HandleFunc("GET /api/users/{id}/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/users/{id}/subjects", s.handleSubjects)

	s.mux.HandleFunc("POST /api/users/{id}/homework", s.handleAddHomework)
	s.mux.HandleFunc("GET /api/users/{id}/homework", s.handleListHomework)
	s.mux.HandleFunc("GET /api/users/{id}/homework/dates", s.handleHomeworkDates)
	s.mux.HandleFunc("DELETE /api/users/{id}/homework", s.handleDeleteHomework)
	s.mux.HandleFunc("DELETE /api/users/{id}/homework/{hid}", s.handleDeleteHomeworkByID)

	s.mux.HandleFunc("GET /api/users/{id}/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("POST /api/maintenance/run", s.handleMaintenance)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleImportSchedule replaces the schedule with the request body. When
// the user already has one, ?confirm=yes is required because the import
// drops all homework.
func (s *Server) handleImportSchedule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	u, err := s.engine.User(ctx, uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if u.HasSchedule() && !strings.EqualFold(r.URL.Query().Get("confirm"), "yes") {
		writeError(w, http.StatusConflict, "replacing the schedule deletes all recorded homework; repeat with confirm=yes")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "schedule file too large")
		return
	}
	if err := s.engine.ImportSchedule(ctx, uid, data); err != nil {
		s.writeDomainError(w, err)
		return
	}

	names, version, err := s.engine.ListSubjects(ctx, uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjectsResponse{Subjects: names, RosterVersion: version})
}

// handleExportSchedule returns the stored schedule as a spreadsheet, or a
// blank template when none was imported yet.
func (s *Server) handleExportSchedule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	u, err := s.engine.User(r.Context(), uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	data, err := timetable.Export(&timetable.Schedule{Subjects: u.Subjects, Timetable: u.Timetable})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type dayResponse struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	d, err := parseDate(r.URL.Query().Get("date"), s.engine.Today())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	text, err := s.engine.GetDaySchedule(r.Context(), uid, d)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{Date: d.ISO(), Text: text})
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	from, err := parseDate(r.URL.Query().Get("from"), s.engine.Today())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	days, err := s.engine.GetWeekSchedule(r.Context(), uid, from)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]dayResponse, len(days))
	for i, text := range days {
		out[i] = dayResponse{Date: from.AddDays(i).ISO(), Text: text}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

type subjectsResponse struct {
	Subjects      []string `json:"subjects"`
	RosterVersion int      `json:"roster_version"`
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	names, version, err := s.engine.ListSubjects(r.Context(), uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjectsResponse{Subjects: names, RosterVersion: version})
}

type addHomeworkRequest struct {
	Subject       int    `json:"subject"`
	Deadline      string `json:"deadline"`
	Placement     string `json:"placement"`
	Description   string `json:"description"`
	RosterVersion int    `json:"roster_version"`
}

type addHomeworkResponse struct {
	Date      string `json:"date"`
	Placement string `json:"placement"`
}

func (s *Server) handleAddHomework(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req addHomeworkRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	placement := model.ParsePlacement(req.Placement)
	if req.Placement != "" && placement == model.PlacementUnset {
		writeError(w, http.StatusBadRequest, `placement must be "lesson", "day" or empty`)
		return
	}

	d, p, err := s.engine.AddHomework(r.Context(), uid, engine.AddRequest{
		Subject:       req.Subject,
		Deadline:      req.Deadline,
		Placement:     placement,
		Description:   req.Description,
		RosterVersion: req.RosterVersion,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addHomeworkResponse{Date: d.ISO(), Placement: p.String()})
}

type homeworkEntry struct {
	ID          string `json:"id"`
	Subject     int    `json:"subject"`
	Placement   string `json:"placement"`
	Description string `json:"description"`
	Line        string `json:"line"`
}

func (s *Server) handleListHomework(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	d, err := parseDate(r.URL.Query().Get("date"), s.engine.Today())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// One snapshot so IDs and lines describe the same entries.
	u, err := s.engine.User(r.Context(), uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	entries := homework.FromEntries(u.Homework).ByDate(d)
	out := make([]homeworkEntry, 0, len(entries))
	for _, h := range entries {
		out = append(out, homeworkEntry{
			ID:          h.ID,
			Subject:     h.Subject,
			Placement:   h.Placement.String(),
			Description: h.Description,
			Line:        homework.FormatLine(u.SubjectName(h.Subject), h),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": d.ISO(), "homework": out})
}

func (s *Server) handleHomeworkDates(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	dls, err := s.engine.ListUpcomingDates(r.Context(), uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type dateLabel struct {
		Date  string `json:"date"`
		Label string `json:"label"`
	}
	out := make([]dateLabel, len(dls))
	for i, dl := range dls {
		out[i] = dateLabel{Date: dl.Date.ISO(), Label: dl.Label}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": out})
}

// handleDeleteHomework deletes by natural key: ?date=...&line=<list line>.
func (s *Server) handleDeleteHomework(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("date") == "" || q.Get("line") == "" {
		writeError(w, http.StatusBadRequest, "date and line are required")
		return
	}
	d, err := parseDate(q.Get("date"), s.engine.Today())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.engine.DeleteHomework(r.Context(), uid, d, q.Get("line")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteHomeworkByID(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteHomeworkByID(r.Context(), uid, r.PathValue("hid")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	weeks := parseIntDefault(r.URL.Query().Get("weeks"), 16)
	if weeks < 1 || weeks > ics.MaxWeeks {
		writeError(w, http.StatusBadRequest, "weeks must be between 1 and "+strconv.Itoa(ics.MaxWeeks))
		return
	}
	u, err := s.engine.User(r.Context(), uid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	body, err := ics.Export(u, ics.Options{
		Location: s.engine.Location(),
		From:     s.engine.Today(),
		Weeks:    weeks,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type maintenanceResponse struct {
	Notifications int    `json:"notifications"`
	Sent          int    `json:"sent"`
	Error         string `json:"error,omitempty"`
}

// handleMaintenance runs the daily pass on demand.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ns, err := s.engine.RunDailyMaintenance(ctx)
	resp := maintenanceResponse{Notifications: len(ns)}
	if len(ns) > 0 {
		resp.Sent = notify.Deliver(ctx, s.sender, ns)
	}
	if err != nil {
		appLog.Error("manual maintenance", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user id must be an integer")
		return 0, false
	}
	return id, true
}

// parseDate accepts YYYY-MM-DD, DD.MM, "today", "tomorrow" or empty
// (today).
func parseDate(raw string, today model.Date) (model.Date, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today + 1, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return model.DateOf(t), nil
	}
	return dates.ParseUserDate(raw, today)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// statusFor maps domain errors onto HTTP statuses; anything else is a 500.
func statusFor(err error) int {
	var (
		ms *model.MalformedScheduleError
		md *model.MalformedDateError
	)
	switch {
	case errors.Is(err, model.ErrScheduleNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ms):
		return http.StatusUnprocessableEntity
	case errors.As(err, &md), errors.Is(err, model.ErrEmptyDescription):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPlacementRequired), errors.Is(err, model.ErrStaleSubject):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
