package timetable

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"hwplanner/internal/model"
)

// Grid lays a schedule out the way Parse expects it. With a nil timetable
// only the headers and roster are filled, which makes a blank template.
func (s *Schedule) Grid() Grid {
	rows := rosterFirstRow + len(s.Subjects)
	if s.Timetable != nil && lessonFirstRow+s.Timetable.MaxLessons > rows {
		rows = lessonFirstRow + s.Timetable.MaxLessons
	}
	if rows <= lessonFirstRow {
		rows = lessonFirstRow + 1
	}
	width := weekBlockCols[1] + model.DaysPerWeek

	g := make(Grid, rows)
	for i := range g {
		g[i] = make([]string, width)
	}
	g[0][subjectCol], g[0][teacherCol], g[0][roomCol] = "Subject", "Teacher", "Room"
	for parity, first := range weekBlockCols {
		for day := 0; day < model.DaysPerWeek; day++ {
			g[0][first+day] = model.ShortWeekdayNames[day]
			g[1][first+day] = fmt.Sprintf("Week %d", parity+1)
		}
	}
	for i, sub := range s.Subjects {
		row := g[rosterFirstRow+i]
		row[subjectCol] = sub.Name
		if sub.Teacher != nil {
			row[teacherCol] = *sub.Teacher
		}
		if sub.Room != nil {
			row[roomCol] = *sub.Room
		}
	}
	if s.Timetable == nil {
		return g
	}
	for parity, first := range weekBlockCols {
		for day := 0; day < model.DaysPerWeek; day++ {
			for slot, idx := range s.Timetable.Weeks[parity][day] {
				if idx != model.NoLesson {
					g[lessonFirstRow+slot][first+day] = fmt.Sprint(idx)
				}
			}
		}
	}
	return g
}

// Export writes the schedule as an .xlsx workbook that Import reads back
// unchanged.
func Export(s *Schedule) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	g := s.Grid()
	for r, row := range g {
		for c, v := range row {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			var val any = v
			if r >= lessonFirstRow && c >= weekBlockCols[0] {
				var n int
				if _, err := fmt.Sscan(v, &n); err == nil {
					val = n
				}
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, err
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
