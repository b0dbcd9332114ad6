package homework

import (
	"fmt"
	"strings"

	"hwplanner/internal/model"
)

const lineSep = "):   "

// FormatLine renders an entry as "Subject (lesson|day):   description",
// the text users pick from when deleting.
func FormatLine(subjectName string, h model.Homework) string {
	return fmt.Sprintf("%s (%s%s%s", subjectName, h.Placement, lineSep, h.Description)
}

// ParseLine turns a line produced by FormatLine back into a natural key.
// The description may itself contain the separator; the subject name may
// contain " (".
func ParseLine(line string, subjects []model.Subject) (model.Key, error) {
	head, desc, ok := strings.Cut(line, lineSep)
	if !ok {
		return model.Key{}, fmt.Errorf("%w: unrecognised homework line %q", model.ErrNotFound, line)
	}
	open := strings.LastIndex(head, " (")
	if open < 0 {
		return model.Key{}, fmt.Errorf("%w: unrecognised homework line %q", model.ErrNotFound, line)
	}
	name, kind := head[:open], head[open+2:]

	placement := model.ParsePlacement(kind)
	if placement == model.PlacementUnset {
		return model.Key{}, fmt.Errorf("%w: unknown homework type %q", model.ErrNotFound, kind)
	}
	for i, s := range subjects {
		if s.Name == name {
			return model.Key{Subject: i, Placement: placement, Description: desc}, nil
		}
	}
	return model.Key{}, fmt.Errorf("%w: unknown subject %q", model.ErrNotFound, name)
}
