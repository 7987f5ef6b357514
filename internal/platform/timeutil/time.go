package timeutil

import (
	"fmt"
	"time"
)

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// StartOfDay returns midnight UTC of the day containing t
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Clock is a wall clock time of day
type Clock struct {
	Hour   uint
	Minute uint
	Second uint
}

// ParseClock parses an HH:MM:SS time of day
func ParseClock(value string) (Clock, error) {
	t, err := time.Parse(time.TimeOnly, value)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return Clock{Hour: uint(t.Hour()), Minute: uint(t.Minute()), Second: uint(t.Second())}, nil
}
