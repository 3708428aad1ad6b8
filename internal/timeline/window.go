// Package timeline maps wall-clock time onto the fixed 5-minute buckets of
// the 06:00–18:00 operating window and renders per-machine bucket strips.
package timeline

import "time"

const (
	// BucketCount is the number of 5-minute buckets between 06:00 and 18:00.
	BucketCount = 144
	// BucketSize is the width of one bucket.
	BucketSize = 5 * time.Minute
)

// Window is the daily operating window.
type Window struct {
	StartHour int
	EndHour   int
}

// DefaultWindow is 06:00 to 18:00.
var DefaultWindow = Window{StartHour: 6, EndHour: 18}

// Opened reports whether t is at or after the window start of its day.
func (w Window) Opened(t time.Time) bool {
	return t.Hour() >= w.StartHour
}

// Contains reports whether t lies inside the window. Both ends are inclusive,
// so 18:00:00.000 still counts while 18:00:00.001 does not.
func (w Window) Contains(t time.Time) bool {
	start := time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location())
	end := time.Date(t.Year(), t.Month(), t.Day(), w.EndHour, 0, 0, 0, t.Location())
	return !t.Before(start) && !t.After(end)
}

// Interval returns the bucket index containing t's wall-clock hour and minute.
// The result is negative before the window and may exceed the last bucket
// after it.
func (w Window) Interval(t time.Time) int {
	minutes := (t.Hour()-w.StartHour)*60 + t.Minute()
	return floorDiv(minutes, int(BucketSize/time.Minute))
}

// StartOf returns the window start on t's day.
func (w Window) StartOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location())
}

// EndOf returns the window end on t's day.
func (w Window) EndOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.EndHour, 0, 0, 0, t.Location())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
