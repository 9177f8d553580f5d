package projection

import (
	"errors"
	"fmt"
	"time"

	"fleetplan/internal/domain"
)

// ErrRange marks a structural rejection: an assignment addressed a month, day or year the
// requested view does not cover.
var ErrRange = errors.New("assignment out of range")

// RangeError identifies the offending assignment by its position in the input.
type RangeError struct {
	Index      int
	Assignment domain.Assignment
	Field      string
	Value      int
	Min        int
	Max        int
}

func (e *RangeError) Error() string {
	if e.Field == "day" && e.Assignment.Day == nil {
		return fmt.Sprintf("assignment %d (vehicle %s, code %s): day is required", e.Index, e.Assignment.Vehicle, e.Assignment.Code)
	}
	return fmt.Sprintf("assignment %d (vehicle %s, code %s): %s %d outside %d..%d",
		e.Index, e.Assignment.Vehicle, e.Assignment.Code, e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrRange }

// DaysIn returns the number of days in a zero-based month.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month+2), 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthKey is the annual schedule key of a zero-based month.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%d-%d", year, month)
}

// CellKey is the monthly schedule key of a vehicle/day cell.
func CellKey(vehicle string, day int) string {
	return fmt.Sprintf("%s-%d", vehicle, day)
}

// ValidMonth reports whether month is a zero-based calendar month.
func ValidMonth(month int) bool {
	return month >= 0 && month <= 11
}

func validateAnnual(year int, assignments []domain.Assignment) error {
	for i, a := range assignments {
		if a.Year != year {
			return &RangeError{Index: i, Assignment: a, Field: "year", Value: a.Year, Min: year, Max: year}
		}
		if !ValidMonth(a.Month) {
			return &RangeError{Index: i, Assignment: a, Field: "month", Value: a.Month, Min: 0, Max: 11}
		}
	}
	return nil
}

func validateMonthly(year, month, days int, assignments []domain.Assignment) error {
	for i, a := range assignments {
		if a.Year != year {
			return &RangeError{Index: i, Assignment: a, Field: "year", Value: a.Year, Min: year, Max: year}
		}
		if a.Month != month {
			return &RangeError{Index: i, Assignment: a, Field: "month", Value: a.Month, Min: month, Max: month}
		}
		if a.Day == nil {
			return &RangeError{Index: i, Assignment: a, Field: "day", Min: 1, Max: days}
		}
		if d := *a.Day; d < 1 || d > days {
			return &RangeError{Index: i, Assignment: a, Field: "day", Value: d, Min: 1, Max: days}
		}
	}
	return nil
}
