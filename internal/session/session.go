// Package session runs the per-user conversation: which question the bot
// asked last and what the user answered so far. It knows nothing about
// the chat transport; front ends feed it Messages and send back Replies.
package session

import (
	"context"
	"sync"
	"time"

	"hwplanner/internal/engine"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

type State int

const (
	Idle State = iota
	AwaitingSubject
	AwaitingDeadline
	AwaitingPlacement
	AwaitingDescription
	AwaitingImportConfirm
	AwaitingDeleteDate
	AwaitingDeleteEntry
)

var stateNames = map[State]string{
	Idle:                  "idle",
	AwaitingSubject:       "awaiting_subject",
	AwaitingDeadline:      "awaiting_deadline",
	AwaitingPlacement:     "awaiting_placement",
	AwaitingDescription:   "awaiting_description",
	AwaitingImportConfirm: "awaiting_import_confirm",
	AwaitingDeleteDate:    "awaiting_delete_date",
	AwaitingDeleteEntry:   "awaiting_delete_entry",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Planner is the engine surface the conversation drives.
type Planner interface {
	Today() model.Date
	ImportSchedule(ctx context.Context, userID int64, data []byte) error
	GetDaySchedule(ctx context.Context, userID int64, d model.Date) (string, error)
	GetWeekSchedule(ctx context.Context, userID int64, from model.Date) ([]string, error)
	ListSubjects(ctx context.Context, userID int64) ([]string, int, error)
	IsAmbiguous(ctx context.Context, userID int64, subject int, rawDeadline string) (bool, error)
	AddHomework(ctx context.Context, userID int64, req engine.AddRequest) (model.Date, model.Placement, error)
	ListUpcomingDates(ctx context.Context, userID int64) ([]engine.DateLabel, error)
	ListHomeworkOn(ctx context.Context, userID int64, d model.Date) ([]string, error)
	DeleteHomework(ctx context.Context, userID int64, d model.Date, line string) error
}

// Message is one inbound user action. Document is set for file uploads.
type Message struct {
	UserID   int64
	Text     string
	FileName string
	Document []byte
}

// Reply is one outbound message. A nil Keyboard with RemoveKeyboard unset
// leaves whatever keyboard the client shows.
type Reply struct {
	Text           string
	HTML           bool
	Keyboard       [][]string
	RemoveKeyboard bool
}

// Session is the transient state of one conversation. Everything in it is
// discarded on cancel, completion or expiry.
type Session struct {
	mu sync.Mutex

	UserID  int64
	State   State
	Touched time.Time

	subjects      []string
	rosterVersion int
	subject       int
	deadline      string
	placement     model.Placement
	description   string

	pendingFile []byte

	dateChoices []engine.DateLabel
	deleteDate  model.Date
	entries     []string
}

func (s *Session) reset() {
	s.State = Idle
	s.subjects = nil
	s.rosterVersion = 0
	s.subject = 0
	s.deadline = ""
	s.placement = model.PlacementUnset
	s.description = ""
	s.pendingFile = nil
	s.dateChoices = nil
	s.deleteDate = 0
	s.entries = nil
}

// Manager owns every live session.
type Manager struct {
	planner Planner
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager(p Planner, ttl time.Duration, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{planner: p, ttl: ttl, now: now, sessions: make(map[int64]*Session)}
}

func (m *Manager) get(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{UserID: userID}
		m.sessions[userID] = s
	}
	return s
}

// acquire returns the user's session locked. Sweep may drop a session
// between the lookup and the lock; the lookup is then repeated so the
// message never lands on a session the manager no longer holds.
func (m *Manager) acquire(userID int64) *Session {
	for {
		s := m.get(userID)
		s.mu.Lock()
		if m.holds(userID, s) {
			return s
		}
		s.mu.Unlock()
	}
}

func (m *Manager) holds(userID int64, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID] == s
}

// State reports where the user's conversation stands.
func (m *Manager) State(userID int64) State {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return Idle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were dropped. Sessions busy handling a message are skipped.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.Touched.Before(cutoff) {
			if s.State != Idle {
				appLog.Debug("session expired", "user", id, "state", s.State)
			}
			delete(m.sessions, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Handle advances the user's conversation by one message.
func (m *Manager) Handle(ctx context.Context, msg Message) []Reply {
	s := m.acquire(msg.UserID)
	defer s.mu.Unlock()

	now := m.now()
	if s.State != Idle && now.Sub(s.Touched) > m.ttl {
		appLog.Debug("session expired", "user", msg.UserID, "state", s.State)
		s.reset()
	}
	s.Touched = now

	h := handler{planner: m.planner, s: s}
	before := s.State
	replies := h.handle(ctx, msg)
	if s.State != before {
		appLog.Debug("session transition", "user", msg.UserID, "from", before, "to", s.State)
	}
	return replies
}
