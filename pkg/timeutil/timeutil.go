package timeutil

import "time"

// FirstOfMonth returns the first instant of t's calendar month, in t's location
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// Millis converts a time to epoch milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time in the local location
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
