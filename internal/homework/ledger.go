// Package homework keeps a user's homework entries ordered by (date,
// subject). Mutations never edit a slice that a reader may still hold:
// each one builds a fresh backing array.
package homework

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"hwplanner/internal/model"
)

// Ledger is an ordered homework collection. The zero value is empty and
// ready to use.
type Ledger struct {
	entries []model.Homework
}

// FromEntries builds a ledger from persisted entries, restoring the
// (date, subject) order and filling missing IDs.
func FromEntries(entries []model.Homework) *Ledger {
	out := make([]model.Homework, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return &Ledger{entries: out}
}

func less(a, b model.Homework) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	return a.Subject < b.Subject
}

// Entries returns a copy of all entries in ledger order.
func (l *Ledger) Entries() []model.Homework {
	out := make([]model.Homework, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) Len() int { return len(l.entries) }

// Add inserts e after every entry with the same (date, subject) and
// returns the stored entry (with its ID).
func (l *Ledger) Add(e model.Homework) model.Homework {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	pos := sort.Search(len(l.entries), func(i int) bool { return less(e, l.entries[i]) })

	next := make([]model.Homework, 0, len(l.entries)+1)
	next = append(next, l.entries[:pos]...)
	next = append(next, e)
	next = append(next, l.entries[pos:]...)
	l.entries = next
	return e
}

// ByDate returns the entries for d ordered by subject. Consumers rely on
// this order to print one subject header per contiguous run.
func (l *Ledger) ByDate(d model.Date) []model.Homework {
	return l.filter(func(h model.Homework) bool { return h.Date == d })
}

// ByDatePlacement returns the entries for d with the given placement.
func (l *Ledger) ByDatePlacement(d model.Date, p model.Placement) []model.Homework {
	return l.filter(func(h model.Homework) bool { return h.Date == d && h.Placement == p })
}

// ByDateAndSubject returns the entries for (d, subject, p).
func (l *Ledger) ByDateAndSubject(d model.Date, subject int, p model.Placement) []model.Homework {
	return l.filter(func(h model.Homework) bool {
		return h.Date == d && h.Subject == subject && h.Placement == p
	})
}

// Dates returns the distinct dates >= from in ascending order.
func (l *Ledger) Dates(from model.Date) []model.Date {
	var out []model.Date
	for _, h := range l.entries {
		if h.Date < from {
			continue
		}
		if n := len(out); n == 0 || out[n-1] != h.Date {
			out = append(out, h.Date)
		}
	}
	return out
}

// Delete removes the first entry on d matching key.
func (l *Ledger) Delete(d model.Date, key model.Key) error {
	for i, h := range l.entries {
		if h.Date == d && h.Key() == key {
			l.removeAt(i)
			return nil
		}
	}
	return fmt.Errorf("%w: could not find the homework to delete", model.ErrNotFound)
}

// DeleteByID removes the entry with the given ID.
func (l *Ledger) DeleteByID(id string) error {
	for i, h := range l.entries {
		if h.ID == id {
			l.removeAt(i)
			return nil
		}
	}
	return fmt.Errorf("%w: no homework with id %s", model.ErrNotFound, id)
}

// Prune drops entries older than the day before `before`, keeping
// yesterday and later. It returns how many entries were removed.
func (l *Ledger) Prune(before model.Date) int {
	cutoff := before - 1
	kept := make([]model.Homework, 0, len(l.entries))
	for _, h := range l.entries {
		if h.Date >= cutoff {
			kept = append(kept, h)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	return removed
}

func (l *Ledger) removeAt(i int) {
	next := make([]model.Homework, 0, len(l.entries)-1)
	next = append(next, l.entries[:i]...)
	next = append(next, l.entries[i+1:]...)
	l.entries = next
}

func (l *Ledger) filter(keep func(model.Homework) bool) []model.Homework {
	var out []model.Homework
	for _, h := range l.entries {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}
