package utils

import (
	"errors"
	"time"
)

// MonthStart returns the first day of t's calendar month at midnight UTC.
// Month identity throughout the app is the first-of-month date.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns the last day of t's calendar month at midnight UTC.
func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// ParseMonth accepts "2006-01" or any date within the month ("2006-01-15")
// and normalizes to the first of the month.
func ParseMonth(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("month is required")
	}
	if t, err := time.Parse("2006-01", raw); err == nil {
		return MonthStart(t), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return MonthStart(t), nil
	}
	return time.Time{}, errors.New("invalid month format, use YYYY-MM or YYYY-MM-DD")
}

// ParseDate parses a calendar date with no time-of-day.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("invalid date format, use YYYY-MM-DD")
	}
	return t, nil
}
