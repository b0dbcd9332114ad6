package model

// NoLesson marks an empty slot in a timetable row.
const NoLesson = -1

// DaysPerWeek is the number of stored weekdays (Monday..Saturday).
// Sunday is never stored and never has lessons.
const DaysPerWeek = 6

// Subject is one roster entry. It is referenced everywhere by its index in
// the roster, never by name.
type Subject struct {
	Name    string  `yaml:"name" json:"name"`
	Teacher *string `yaml:"teacher,omitempty" json:"teacher,omitempty"`
	Room    *string `yaml:"room,omitempty" json:"room,omitempty"`
}

// Timetable is the two-week rotating schedule:
// Weeks[parity][weekday][slot] holds a roster index or NoLesson.
type Timetable struct {
	MaxLessons int                   `yaml:"max_lessons" json:"max_lessons"`
	Weeks      [2][DaysPerWeek][]int `yaml:"weeks" json:"weeks"`
}

// NewTimetable returns a timetable with every slot set to NoLesson.
func NewTimetable(maxLessons int) *Timetable {
	tt := &Timetable{MaxLessons: maxLessons}
	for p := range tt.Weeks {
		for d := range tt.Weeks[p] {
			row := make([]int, maxLessons)
			for i := range row {
				row[i] = NoLesson
			}
			tt.Weeks[p][d] = row
		}
	}
	return tt
}

// SubjectAt returns the roster index in the given slot, or NoLesson when
// the coordinates are out of range.
func (t *Timetable) SubjectAt(parity, weekday, slot int) int {
	if t == nil || parity < 0 || parity > 1 || weekday < 0 || weekday >= DaysPerWeek {
		return NoLesson
	}
	row := t.Weeks[parity][weekday]
	if slot < 0 || slot >= len(row) {
		return NoLesson
	}
	return row[slot]
}

// Day returns a copy of the slot list for the given date. Sundays yield nil.
func (t *Timetable) Day(d Date) []int {
	if t == nil {
		return nil
	}
	parity, weekday := d.WeekInfo()
	if weekday == Sunday {
		return nil
	}
	row := t.Weeks[parity][weekday]
	out := make([]int, len(row))
	copy(out, row)
	return out
}

// HasSubject reports whether subject has a lesson on d.
func (t *Timetable) HasSubject(d Date, subject int) bool {
	for _, s := range t.Day(d) {
		if s == subject && s != NoLesson {
			return true
		}
	}
	return false
}

// IsFree reports whether d has no lessons at all.
func (t *Timetable) IsFree(d Date) bool {
	for _, s := range t.Day(d) {
		if s != NoLesson {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *Timetable) Clone() *Timetable {
	if t == nil {
		return nil
	}
	out := &Timetable{MaxLessons: t.MaxLessons}
	for p := range t.Weeks {
		for d := range t.Weeks[p] {
			out.Weeks[p][d] = append([]int(nil), t.Weeks[p][d]...)
		}
	}
	return out
}

// Placement tells whether homework is due at the lesson or by the end of
// the day.
type Placement int

const (
	PlacementUnset Placement = iota
	ForLesson
	ForEndOfDay
)

func (p Placement) String() string {
	switch p {
	case ForLesson:
		return "lesson"
	case ForEndOfDay:
		return "day"
	default:
		return "unset"
	}
}

// ParsePlacement accepts "lesson" and "day" (the words used in list
// lines); anything else yields PlacementUnset.
func ParsePlacement(s string) Placement {
	switch s {
	case "lesson":
		return ForLesson
	case "day":
		return ForEndOfDay
	default:
		return PlacementUnset
	}
}

// Homework is a single homework entry.
type Homework struct {
	ID          string    `yaml:"id" json:"id"`
	Date        Date      `yaml:"date" json:"date"`
	Subject     int       `yaml:"subject" json:"subject"`
	Placement   Placement `yaml:"placement" json:"placement"`
	Description string    `yaml:"description" json:"description"`
}

// Key is the natural key of an entry. Two entries with the same key are
// indistinguishable to natural-key deletion.
type Key struct {
	Subject     int
	Placement   Placement
	Description string
}

func (h Homework) Key() Key {
	return Key{Subject: h.Subject, Placement: h.Placement, Description: h.Description}
}

// User owns exactly one roster, timetable and homework collection.
type User struct {
	ID            int64      `yaml:"id" json:"id"`
	RosterVersion int        `yaml:"roster_version" json:"roster_version"`
	Subjects      []Subject  `yaml:"subjects" json:"subjects"`
	Timetable     *Timetable `yaml:"timetable,omitempty" json:"timetable,omitempty"`
	Homework      []Homework `yaml:"homework" json:"homework"`
}

// HasSchedule reports whether a schedule has been imported.
func (u *User) HasSchedule() bool {
	return u != nil && u.Timetable != nil && len(u.Subjects) > 0
}

// SubjectName returns the roster name for idx, or "" for a stale index.
func (u *User) SubjectName(idx int) string {
	if u == nil || idx < 0 || idx >= len(u.Subjects) {
		return ""
	}
	return u.Subjects[idx].Name
}

// Clone returns a deep copy so callers can mutate without affecting the
// stored snapshot.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := &User{
		ID:            u.ID,
		RosterVersion: u.RosterVersion,
		Timetable:     u.Timetable.Clone(),
		Homework:      append([]Homework(nil), u.Homework...),
	}
	if u.Subjects != nil {
		out.Subjects = make([]Subject, len(u.Subjects))
		for i, s := range u.Subjects {
			out.Subjects[i] = Subject{Name: s.Name, Teacher: cloneStr(s.Teacher), Room: cloneStr(s.Room)}
		}
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
