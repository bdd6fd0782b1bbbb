package models

import (
	"time"

	"github.com/egostrategy/datahub/pkg/errors"
)

// dateLayout is the compact YYYYMMDD layout used throughout the persisted
// format and the exchange endpoints.
const dateLayout = "20060102"

// DateToInt converts a calendar date to its YYYYMMDD integer form.
func DateToInt(t time.Time) int32 {
	return int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// IntToDate converts a YYYYMMDD integer to a time.Time in the local zone.
// It fails with a parse error when the value does not encode a real
// calendar date (wrong digit count, month 13, day 32, ...).
func IntToDate(date int32) (time.Time, error) {
	if date < 10000101 || date > 99991231 {
		return time.Time{}, errors.Newf(errors.ErrorTypeParse, "invalid date value %d", date)
	}

	year := int(date / 10000)
	month := int(date / 100 % 100)
	day := int(date % 100)

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	// time.Date normalizes out-of-range components instead of failing
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, errors.Newf(errors.ErrorTypeParse, "invalid date value %d", date)
	}
	return t, nil
}

// ParseDateString parses a YYYYMMDD string into its integer form.
func ParseDateString(s string) (int32, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeParse, "invalid date string").
			WithDetail("value", s)
	}
	return DateToInt(t), nil
}
