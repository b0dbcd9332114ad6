package timetable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

// Grid is a worksheet as rows of cell text. Rows may be ragged.
type Grid [][]string

// Cell returns the text at (row, col) or "" outside the grid.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

var (
	xlsxMagic = []byte("PK\x03\x04")
	xlsMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

func readGrid(data []byte) (Grid, error) {
	switch {
	case len(data) == 0:
		return nil, model.MalformedSchedule("the file is empty")
	case bytes.HasPrefix(data, xlsxMagic):
		return readXLSX(data)
	case bytes.HasPrefix(data, xlsMagic):
		return readXLS(data)
	default:
		return nil, model.MalformedSchedule("unsupported file type, send an .xlsx or .xls spreadsheet")
	}
}

func readXLSX(data []byte) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, model.MalformedSchedule("cannot open spreadsheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, model.MalformedSchedule("the workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, model.MalformedSchedule("cannot read sheet %q: %v", sheets[0], err)
	}
	return Grid(rows), nil
}

// readXLS decodes a legacy workbook. extrame/xls panics on several kinds
// of damaged input instead of returning errors, so the whole decode runs
// under recover.
func readXLS(data []byte) (g Grid, err error) {
	if err := checkCompoundHeader(data); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			appLog.Warn("xls decoder failed", "panic", fmt.Sprint(r), "bytes", len(data))
			g, err = nil, model.MalformedSchedule("cannot read spreadsheet: the .xls file is damaged")
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, model.MalformedSchedule("cannot open spreadsheet: %v", err)
	}
	if wb == nil {
		// OLE2 container without a Workbook stream: an encrypted
		// .xlsx, a .doc and the like.
		return nil, model.MalformedSchedule("the file is not an Excel workbook")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, model.MalformedSchedule("the workbook has no sheets")
	}

	// ReadAllCells walks the rows that exist, so blank rows come back
	// as nil instead of tripping WorkSheet.Row. Limiting it to the first
	// sheet's rows keeps later sheets out.
	rows := wb.ReadAllCells(int(sheet.MaxRow) + 1)
	return trimTrailingEmpty(Grid(rows)), nil
}

const (
	cfbHeaderSize = 512
	// header, one FAT sector and one directory sector
	cfbMinSize = 3 * cfbHeaderSize
)

// checkCompoundHeader rejects OLE2 files too short or too odd to hold a
// workbook before the decoder sees them.
func checkCompoundHeader(data []byte) error {
	if len(data) < cfbMinSize {
		return model.MalformedSchedule("the .xls file is truncated")
	}
	switch shift := binary.LittleEndian.Uint16(data[30:32]); shift {
	case 9, 12:
	default:
		return model.MalformedSchedule("the .xls file has an invalid sector size (shift %d)", shift)
	}
	return nil
}

// trimTrailingEmpty drops trailing rows without any text, matching what
// excelize returns for xlsx files.
func trimTrailingEmpty(g Grid) Grid {
	for len(g) > 0 {
		last := g[len(g)-1]
		empty := true
		for _, c := range last {
			if c != "" {
				empty = false
				break
			}
		}
		if !empty {
			break
		}
		g = g[:len(g)-1]
	}
	return g
}

var errBadIndex = errors.New("not a subject index")

func errNotIndex(raw string) error {
	return fmt.Errorf("%w: %q", errBadIndex, raw)
}

func errOutOfRange(idx, rosterLen int) error {
	return fmt.Errorf("%w: %d is outside the roster of %d subjects", errBadIndex, idx, rosterLen)
}
