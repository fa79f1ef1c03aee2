// Package pathadapter maps calendar dates onto the PPS IMERG archive layout.
//
// Every archive file lives in a per-day folder:
//
//	{dir_prefix}/{YYYY}/{MM}/{DD}{dir_suffix}
//
// and is named
//
//	{file_prefix}{YYYYMMDD}{time_window}.{token}.{version}.{extension}
//
// The token differs per product. Daily files use 30 times the zero-based day
// of year, half-hourly files use minutes since midnight, monthly files use the
// two-digit month. Monthly files are only present in the folder of the first
// day of the month.
package pathadapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/jgivc/imergfetch/internal/common"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jgivc/imergfetch/internal/entity"
)

const (
	dayOfYearFactor = 30
	slotMinutes     = 30
	slotSeconds     = slotMinutes*60 - 1
)

// BuildDailyPath returns the remote path of the daily aggregate for date.
func BuildDailyPath(date entity.Date, naming config.Naming) (string, error) {
	if !date.Valid() {
		return "", invalidDate(date)
	}

	return join(naming, date, naming.FilePrefix, naming.FileTime, DayOfYearToken(date)), nil
}

// DayOfYearToken is (yearDay-1)*30 padded to four digits. It matches the
// daily file names only.
func DayOfYearToken(date entity.Date) string {
	return fmt.Sprintf("%04d", (date.YearDay()-1)*dayOfYearFactor)
}

// BuildHalfHourlyPath returns the remote path of the half-hour snapshot that
// starts at slot*30 minutes past midnight.
func BuildHalfHourlyPath(date entity.Date, slot int, naming config.Naming) (string, error) {
	if !date.Valid() {
		return "", invalidDate(date)
	}

	if slot < 0 || slot >= entity.SlotsPerDay {
		return "", fmt.Errorf("%w: %d", common.ErrInvalidSlot, slot)
	}

	start := slot * slotMinutes * 60
	end := start + slotSeconds
	window := fmt.Sprintf("-S%s-E%s", clock(start), clock(end))
	token := fmt.Sprintf("%04d", slot*slotMinutes)

	return join(naming, date, naming.HalfHourlyPrefix, window, token), nil
}

// BuildMonthlyPath returns the remote path of the monthly aggregate covering
// date's month. Any day of the month gives the same path.
func BuildMonthlyPath(date entity.Date, naming config.Naming) (string, error) {
	if !date.Valid() {
		return "", invalidDate(date)
	}

	first := date.FirstOfMonth()

	return join(naming, first, naming.MonthlyPrefix, naming.FileTime, fmt.Sprintf("%02d", int(first.Month))), nil
}

// Build returns the remote path of t, dispatching on its kind.
func Build(t entity.Target, naming config.Naming) (string, error) {
	switch t.Kind {
	case entity.KindDaily:
		return BuildDailyPath(t.Date, naming)
	case entity.KindHalfHourly:
		return BuildHalfHourlyPath(t.Date, t.Slot, naming)
	case entity.KindMonthly:
		return BuildMonthlyPath(t.Date, naming)
	}

	return "", fmt.Errorf("unknown kind: %s", t.Kind)
}

// LocalName is the file name a target is stored under.
func LocalName(t entity.Target, ext string) string {
	switch t.Kind {
	case entity.KindHalfHourly:
		m := t.Slot * slotMinutes
		return fmt.Sprintf("%s-%02d%02d.%s", t.Date, m/60, m%60, ext)
	case entity.KindMonthly:
		return fmt.Sprintf("%04d-%02d.%s", t.Date.Year, int(t.Date.Month), ext)
	}

	return t.Date.String() + "." + ext
}

// ParseLocalName recovers the date from a daily local file name.
func ParseLocalName(name string) (entity.Date, error) {
	base, _, ok := strings.Cut(name, ".")
	if !ok {
		return entity.Date{}, fmt.Errorf("%w: no extension in %q", common.ErrInvalidDate, name)
	}

	return entity.ParseDate(base)
}

func join(naming config.Naming, date entity.Date, filePrefix, window, token string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s/%04d/%02d/%02d%s", naming.DirPrefix, date.Year, int(date.Month), date.Day, naming.DirSuffix)
	b.WriteString(filePrefix)
	b.WriteString(date.Compact())
	b.WriteString(window)
	b.WriteByte('.')
	b.WriteString(token)
	b.WriteByte('.')
	b.WriteString(naming.FileVersion)
	b.WriteByte('.')
	b.WriteString(naming.FileExtension)

	return b.String()
}

func clock(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	return fmt.Sprintf("%02d%02d%02d", h, m, s)
}

func invalidDate(date entity.Date) error {
	return fmt.Errorf("%w: %04d-%02d-%02d", common.ErrInvalidDate, date.Year, int(date.Month), date.Day)
}
