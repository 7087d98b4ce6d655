package timeutil

import (
	"fmt"
	"time"
)

// DayKeyFormat is the canonical day-partition key layout. All partitioning is
// in UTC regardless of where the network is deployed.
const DayKeyFormat = "2006-01-02"

// DayKey returns the UTC day-partition key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyFormat)
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDayKey parses a day-partition key back to midnight UTC.
func ParseDayKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DayKeyFormat, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day key %q: %w", key, err)
	}
	return t, nil
}

// SampleIndex returns the fractional sample index of t on a series that
// starts at start and advances at rate samples per second. Negative values
// mean t precedes the series.
func SampleIndex(t, start time.Time, rate float64) float64 {
	return t.Sub(start).Seconds() * rate
}

// SampleTime returns the instant of sample i on a series starting at start
// with rate samples per second.
func SampleTime(start time.Time, i int, rate float64) time.Time {
	return start.Add(time.Duration(float64(i) / rate * float64(time.Second)))
}

// SamplesIn returns the number of whole samples of duration d at rate
// samples per second.
func SamplesIn(d time.Duration, rate float64) int {
	return int(d.Seconds() * rate)
}

// TickInterval converts a tick rate in Hz to the interval between ticks.
func TickInterval(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}
