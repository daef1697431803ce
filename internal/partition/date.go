package partition

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the layout of partition keys.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for partition keys that are not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid partition date")

// DateKey returns the partition key for t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// ParseDate validates a partition key.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil || t.Format(DateLayout) != date {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}
