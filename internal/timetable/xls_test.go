package timetable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"testing"
	"unicode/utf16"

	"hwplanner/internal/model"
)

const (
	cfbFreeSect   = 0xFFFFFFFF
	cfbEndOfChain = 0xFFFFFFFE
	cfbFATSect    = 0xFFFFFFFD
	cfbNoStream   = 0xFFFFFFFF
)

func biffRecord(buf *bytes.Buffer, id uint16, payload []byte) {
	binary.Write(buf, binary.LittleEndian, id)
	binary.Write(buf, binary.LittleEndian, uint16(len(payload)))
	buf.Write(payload)
}

func le(vs ...any) []byte {
	var b bytes.Buffer
	for _, v := range vs {
		binary.Write(&b, binary.LittleEndian, v)
	}
	return b.Bytes()
}

// toBIFF writes g as a single-sheet BIFF8 workbook stream. Numeric cells
// become NUMBER records, the rest LABEL records; rows without text get no
// records at all, as Excel does.
func toBIFF(g Grid) []byte {
	var sheet bytes.Buffer
	biffRecord(&sheet, 0x809, le(uint16(0x600), uint16(0x10), uint16(0), uint16(0), uint32(0), uint32(0x600)))
	for r, row := range g {
		last := -1
		for c, v := range row {
			if v != "" {
				last = c
			}
		}
		if last < 0 {
			continue
		}
		biffRecord(&sheet, 0x208, le(uint16(r), uint16(0), uint16(last+1), uint16(0xFF), uint16(0), uint16(0), uint32(0x100)))
		for c, v := range row {
			if v == "" {
				continue
			}
			if n, err := strconv.Atoi(v); err == nil {
				biffRecord(&sheet, 0x203, le(uint16(r), uint16(c), uint16(15), math.Float64bits(float64(n))))
				continue
			}
			label := le(uint16(r), uint16(c), uint16(15), uint16(len(v)), byte(0))
			biffRecord(&sheet, 0x204, append(label, v...))
		}
	}
	biffRecord(&sheet, 0x0A, nil)

	name := "Plan"
	var globals bytes.Buffer
	biffRecord(&globals, 0x809, le(uint16(0x600), uint16(0x5), uint16(0), uint16(0), uint32(0), uint32(0x600)))
	// BOUNDSHEET is 4+2+2 bytes plus the name, the stream offset of the
	// sheet follows the EOF record.
	boundsheetLen := 4 + 8 + len(name)
	sheetPos := globals.Len() + boundsheetLen + 4
	bs := le(uint32(sheetPos), byte(0), byte(0), byte(len(name)), byte(0))
	biffRecord(&globals, 0x85, append(bs, name...))
	biffRecord(&globals, 0x0A, nil)

	return append(globals.Bytes(), sheet.Bytes()...)
}

// compoundFile wraps stream in a minimal OLE2 container: header, one FAT
// sector, one directory sector, then the stream in regular sectors.
func compoundFile(streamName string, stream []byte) []byte {
	const sector = 512
	// Streams under 4096 bytes would live in the mini stream.
	size := len(stream)
	if size < 4096 {
		size = 4096
	}
	size = (size + sector - 1) / sector * sector
	data := make([]byte, size)
	copy(data, stream)
	nData := size / sector

	var out bytes.Buffer
	out.Write([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	out.Write(make([]byte, 16))
	out.Write(le(uint16(0x3E), uint16(3), uint16(0xFFFE), uint16(9), uint16(6)))
	out.Write(make([]byte, 6))
	out.Write(le(uint32(0), uint32(1), uint32(1), uint32(0), uint32(4096),
		uint32(cfbEndOfChain), uint32(0), uint32(cfbEndOfChain), uint32(0)))
	out.Write(le(uint32(0)))
	for i := 1; i < 109; i++ {
		out.Write(le(uint32(cfbFreeSect)))
	}

	fat := make([]uint32, sector/4)
	for i := range fat {
		fat[i] = cfbFreeSect
	}
	fat[0] = cfbFATSect
	fat[1] = cfbEndOfChain
	for i := 0; i < nData; i++ {
		fat[2+i] = uint32(3 + i)
	}
	fat[2+nData-1] = cfbEndOfChain
	out.Write(le(fat))

	dir := dirEntry("Root Entry", 5, 1, cfbEndOfChain, 0)
	dir = append(dir, dirEntry(streamName, 2, cfbNoStream, 2, uint32(len(data)))...)
	dir = append(dir, make([]byte, sector-len(dir))...)
	out.Write(dir)

	out.Write(data)
	return out.Bytes()
}

func dirEntry(name string, typ byte, child, start, size uint32) []byte {
	var nameBuf [32]uint16
	u := utf16.Encode([]rune(name))
	copy(nameBuf[:], u)
	var b bytes.Buffer
	b.Write(le(nameBuf, uint16((len(u)+1)*2), typ, byte(1),
		uint32(cfbNoStream), uint32(cfbNoStream), child))
	b.Write(make([]byte, 16+4+16))
	b.Write(le(start, size, uint32(0)))
	return b.Bytes()
}

func blankRowGrid() Grid {
	var lessons [2][6][]string
	// Row 3 of the sheet stays empty in every column.
	lessons[0][0] = []string{"0", "", "2"}
	lessons[1][4] = []string{"1"}
	return sampleGrid([][3]string{
		{"Math", "Ivanova", "101"},
		{"Art", "", ""},
		{"", "", ""},
		{"History", "", "12"},
	}, lessons)
}

func TestImportXLSWithBlankRow(t *testing.T) {
	g := blankRowGrid()
	for _, c := range g[3] {
		if c != "" {
			t.Fatalf("row 3 should be blank: %q", g[3])
		}
	}

	s, err := Import(compoundFile("Workbook", toBIFF(g)), 5)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(s.Subjects) != 3 || s.Subjects[2].Name != "History" || *s.Subjects[0].Teacher != "Ivanova" {
		t.Fatalf("subjects = %+v", s.Subjects)
	}
	if got := s.Timetable.Weeks[0][0]; !equalInts(got, []int{0, -1, 2, -1, -1}) {
		t.Errorf("week 0 Monday = %v", got)
	}
	if got := s.Timetable.Weeks[1][4]; !equalInts(got, []int{1, -1, -1, -1, -1}) {
		t.Errorf("week 1 Friday = %v", got)
	}
}

func TestImportXLSDamaged(t *testing.T) {
	wb := toBIFF(blankRowGrid())
	valid := compoundFile("Workbook", wb)

	cases := map[string][]byte{
		"no workbook stream": compoundFile("Notebook", wb),
		"truncated header":   valid[:76],
		"header only":        valid[:cfbHeaderSize],
		"bad sector shift": func() []byte {
			b := bytes.Clone(valid)
			b[30] = 3
			return b
		}(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Import(data, 5)
			var ms *model.MalformedScheduleError
			if !errors.As(err, &ms) {
				t.Fatalf("want MalformedScheduleError, got %v", err)
			}
		})
	}
}
