package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/jgivc/imergfetch/internal/common"
)

// Kind selects which IMERG product file is downloaded.
type Kind int

const (
	KindDaily Kind = iota
	KindHalfHourly
	KindMonthly
)

// SlotsPerDay is the number of half-hourly files per day.
const SlotsPerDay = 48

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindHalfHourly:
		return "half-hourly"
	case KindMonthly:
		return "monthly"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day":
		return KindDaily, nil
	case "half-hourly", "hhr", "halfhourly":
		return KindHalfHourly, nil
	case "monthly", "month", "mo":
		return KindMonthly, nil
	}

	return KindDaily, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	kind, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = kind

	return nil
}

// Target is a single archive file. Slot is only meaningful for KindHalfHourly.
type Target struct {
	Kind Kind
	Date Date
	Slot int
}

func (t Target) String() string {
	switch t.Kind {
	case KindHalfHourly:
		return fmt.Sprintf("%s/%02d%02d", t.Date, t.Slot/2, (t.Slot%2)*30)
	case KindMonthly:
		return fmt.Sprintf("%04d-%02d", t.Date.Year, int(t.Date.Month))
	}

	return t.Date.String()
}

// Result describes one finished target.
type Result struct {
	Target     Target
	RemotePath string
	LocalPath  string
	Bytes      int64
	SHA1       string
	Skipped    bool
	FetchedAt  time.Time
}

// DayError ties a failure to the target that caused it.
type DayError struct {
	Target Target
	Err    error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Err)
}

func (e *DayError) Unwrap() error {
	return e.Err
}

// Summary is the outcome of a range run.
type Summary struct {
	RunID     string
	Kind      Kind
	Start     Date
	End       Date
	Targets   int
	Results   []*Result
	Failures  []*DayError
	StartedAt time.Time
	Elapsed   time.Duration
}

func (s *Summary) Completed() int {
	var n int
	for _, r := range s.Results {
		if !r.Skipped {
			n++
		}
	}

	return n
}

func (s *Summary) Skipped() int {
	return len(s.Results) - s.Completed()
}

func (s *Summary) Failed() int {
	return len(s.Failures)
}

func (s *Summary) Bytes() int64 {
	var n int64
	for _, r := range s.Results {
		n += r.Bytes
	}

	return n
}

// Aborted counts targets that neither finished nor failed because the run
// was cancelled first.
func (s *Summary) Aborted() int {
	return max(0, s.Targets-len(s.Results)-len(s.Failures))
}

// Finished reports whether every target has a result and none failed.
func (s *Summary) Finished() bool {
	return len(s.Failures) == 0 && len(s.Results) == s.Targets
}

// Err returns ErrPartialRange wrapped with counts when anything failed.
func (s *Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}

	total := max(s.Targets, len(s.Failures)+len(s.Results))

	return fmt.Errorf("%w: %d of %d targets failed, first: %w",
		common.ErrPartialRange, len(s.Failures), total, s.Failures[0])
}
