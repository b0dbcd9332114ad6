// Package timetable turns an uploaded spreadsheet into a roster and a
// two-week rotating timetable.
//
// Expected layout of the first worksheet (0-based columns, row 0 holds
// headers):
//
//   - columns 1..3: "Subject", "Teacher", "Room"; one subject per row
//     starting at row 1. A subject's index is its position among the
//     non-blank rows.
//   - columns 6..11: odd/even week 0, Monday..Saturday.
//   - columns 14..19: week 1, Monday..Saturday.
//
// Row 1 of the week blocks is a label row; lessons start at row 2 and
// each cell holds a subject index or is blank.
package timetable

import (
	"math"
	"strconv"
	"strings"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

const (
	subjectCol = 1
	teacherCol = 2
	roomCol    = 3

	rosterFirstRow = 1
	lessonFirstRow = 2
)

// weekBlockCols holds the first column of each parity block.
var weekBlockCols = [2]int{6, 14}

// Schedule is the result of a successful import.
type Schedule struct {
	Subjects  []model.Subject
	Timetable *model.Timetable
}

// Import reads an .xlsx or .xls spreadsheet and builds a Schedule whose
// rows are exactly maxLessons long.
func Import(data []byte, maxLessons int) (*Schedule, error) {
	g, err := readGrid(data)
	if err != nil {
		return nil, err
	}
	return Parse(g, maxLessons)
}

// Parse builds a Schedule from an already extracted cell grid.
func Parse(g Grid, maxLessons int) (*Schedule, error) {
	if maxLessons <= 0 {
		return nil, model.MalformedSchedule("max lessons must be positive, got %d", maxLessons)
	}
	if err := checkHeaders(g); err != nil {
		return nil, err
	}

	subjects := parseRoster(g)
	if len(subjects) == 0 {
		return nil, model.MalformedSchedule("no subjects found in column %q", "Subject")
	}

	tt := model.NewTimetable(maxLessons)
	for parity, firstCol := range weekBlockCols {
		for day := 0; day < model.DaysPerWeek; day++ {
			col := firstCol + day
			slot := 0
			for row := lessonFirstRow; row < len(g) && slot < maxLessons; row++ {
				idx, err := parseIndex(g.Cell(row, col), len(subjects))
				if err != nil {
					return nil, model.MalformedSchedule("cell %s: %v", cellName(row, col), err)
				}
				tt.Weeks[parity][day][slot] = idx
				slot++
			}
		}
	}

	appLog.Debug("timetable parsed", "subjects", len(subjects), "rows", len(g), "max_lessons", maxLessons)
	return &Schedule{Subjects: subjects, Timetable: tt}, nil
}

func checkHeaders(g Grid) error {
	if len(g) == 0 {
		return model.MalformedSchedule("the sheet is empty")
	}
	want := map[int]string{subjectCol: "subject", teacherCol: "teacher", roomCol: "room"}
	for col, name := range want {
		if !strings.EqualFold(strings.TrimSpace(g.Cell(0, col)), name) {
			return model.MalformedSchedule("expected header %q in cell %s", strings.ToUpper(name[:1])+name[1:], cellName(0, col))
		}
	}
	for parity, firstCol := range weekBlockCols {
		for day := 0; day < model.DaysPerWeek; day++ {
			if strings.TrimSpace(g.Cell(0, firstCol+day)) == "" {
				return model.MalformedSchedule("week %d block is missing header cell %s", parity+1, cellName(0, firstCol+day))
			}
		}
	}
	return nil
}

func parseRoster(g Grid) []model.Subject {
	var out []model.Subject
	for row := rosterFirstRow; row < len(g); row++ {
		name := strings.TrimSpace(g.Cell(row, subjectCol))
		if name == "" {
			continue
		}
		out = append(out, model.Subject{
			Name:    name,
			Teacher: optional(g.Cell(row, teacherCol)),
			Room:    optional(g.Cell(row, roomCol)),
		})
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// parseIndex accepts "3" as well as "3.0", which is how some writers
// store integers.
func parseIndex(raw string, rosterLen int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.NoLesson, nil
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) {
			return 0, errNotIndex(raw)
		}
		idx = int(f)
	}
	if idx < 0 || idx >= rosterLen {
		return 0, errOutOfRange(idx, rosterLen)
	}
	return idx, nil
}

// cellName converts 0-based coordinates to an A1 reference for messages.
func cellName(row, col int) string {
	name := ""
	for c := col + 1; c > 0; c = (c - 1) / 26 {
		name = string(rune('A'+(c-1)%26)) + name
	}
	return name + strconv.Itoa(row+1)
}
