package entity

import (
	"fmt"
	"iter"
	"time"

	"github.com/jgivc/imergfetch/internal/common"
)

const (
	DateLayout        = "2006-01-02"
	CompactDateLayout = "20060102"
)

// Date is a calendar day without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns an error if year/month/day is not a real Gregorian date.
func NewDate(year int, month time.Month, day int) (Date, error) {
	d := Date{Year: year, Month: month, Day: day}
	if !d.Valid() {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", common.ErrInvalidDate, year, int(month), day)
	}

	return d, nil
}

// MustDate is NewDate for literals known to be valid.
func MustDate(year int, month time.Month, day int) Date {
	d, err := NewDate(year, month, day)
	if err != nil {
		panic(err)
	}

	return d
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", common.ErrInvalidDate, s)
	}

	return DateOf(t), nil
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()

	return Date{Year: y, Month: m, Day: d}
}

// Valid reports whether the fields survive normalization by time.Date unchanged.
func (d Date) Valid() bool {
	if d.Year < 1 || d.Year > 9999 {
		return false
	}

	return DateOf(d.Time()) == d
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// YearDay is the 1-based ordinal day within the year.
func (d Date) YearDay() int {
	return d.Time().YearDay()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) FirstOfMonth() Date {
	return Date{Year: d.Year, Month: d.Month, Day: 1}
}

func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

func (d Date) Equal(o Date) bool {
	return d == o
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) Compact() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// Days yields every date from start to end inclusive. Nothing is yielded if
// end precedes start.
func Days(start, end Date) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		for d := start; !end.Before(d); d = d.AddDays(1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Months yields the first day of every month touched by [start, end].
func Months(start, end Date) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		last := end.FirstOfMonth()
		for d := start.FirstOfMonth(); !last.Before(d); d = DateOf(d.Time().AddDate(0, 1, 0)) {
			if !yield(d) {
				return
			}
		}
	}
}
