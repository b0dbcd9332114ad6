package model

import (
	"fmt"
	"time"
)

// Date is an ordinal day number in the proleptic Gregorian calendar,
// 0001-01-01 being day 1. It carries no time zone; conversion from an
// instant happens once, in the configured zone, via DateOf.
type Date int

// unixEpoch is the ordinal of 1970-01-01.
const unixEpoch = 719163

// Monday-based weekday indices.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var (
	WeekdayNames      = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	ShortWeekdayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
)

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func NewDate(year int, month time.Month, day int) Date {
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date(midnight.Unix()/86400 + unixEpoch)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Unix((int64(d)-unixEpoch)*86400, 0).UTC()
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	y, m, day := d.Time().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date { return d + Date(n) }

// Weekday returns 0 for Monday through 6 for Sunday.
func (d Date) Weekday() int {
	return (int(d) + 6) % 7
}

// WeekInfo returns the parity week (ISO week number mod 2) and the
// Monday-based weekday.
func (d Date) WeekInfo() (parity, weekday int) {
	_, week := d.Time().ISOWeek()
	return week % 2, d.Weekday()
}

func (d Date) Day() int          { return d.Time().Day() }
func (d Date) Month() time.Month { return d.Time().Month() }
func (d Date) Year() int         { return d.Time().Year() }

// String formats d as DD.MM.
func (d Date) String() string {
	t := d.Time()
	return fmt.Sprintf("%02d.%02d", t.Day(), int(t.Month()))
}

// ISO formats d as YYYY-MM-DD.
func (d Date) ISO() string {
	return d.Time().Format("2006-01-02")
}

func (d Date) WeekdayName() string      { return WeekdayNames[d.Weekday()] }
func (d Date) ShortWeekdayName() string { return ShortWeekdayNames[d.Weekday()] }
