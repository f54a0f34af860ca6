package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyRange indicates a missing start or end date.
	ErrEmptyRange = errors.New("reports: date range is empty")
	// ErrInvalidDateRange indicates an end date before the start date.
	ErrInvalidDateRange = errors.New("reports: end date precedes start date")
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive, day-granular reporting window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AsOf returns the single-day range used by point-in-time reports.
func AsOf(date time.Time) DateRange {
	return DateRange{Start: date, End: date}
}

// NewDateRange validates and returns a range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ParseDateRange parses "YYYY-MM-DD..YYYY-MM-DD" or a single as-of date.
func ParseDateRange(raw string) (DateRange, error) {
	if raw == "" {
		return DateRange{}, ErrEmptyRange
	}
	startRaw, endRaw, found := strings.Cut(strings.TrimSpace(raw), "..")
	start, err := time.Parse(dateLayout, startRaw)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: %v", ErrInvalidDateRange, err)
	}
	if !found {
		return AsOf(start), nil
	}
	end, err := time.Parse(dateLayout, endRaw)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: %v", ErrInvalidDateRange, err)
	}
	return NewDateRange(start, end)
}

// Validate rejects empty and inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ErrEmptyRange
	}
	if day(r.End).Before(day(r.Start)) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, r.Start.Format(dateLayout), r.End.Format(dateLayout))
	}
	return nil
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := day(t)
	return !d.Before(day(r.Start)) && !d.After(day(r.End))
}

// OnOrBefore reports whether t falls on or before the end day.
func (r DateRange) OnOrBefore(t time.Time) bool {
	return !day(t).After(day(r.End))
}

// IsPoint reports whether the range covers a single day.
func (r DateRange) IsPoint() bool {
	return day(r.Start).Equal(day(r.End))
}

// Label renders the range for headings and cache keys.
func (r DateRange) Label() string {
	if r.IsPoint() {
		return r.End.Format(dateLayout)
	}
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

func (r DateRange) String() string {
	return r.Label()
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
