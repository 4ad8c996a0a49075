package session

import "time"

// afterFunc is an indirection seam over time.AfterFunc so tests can replace
// the timer source; durationMs converts a millisecond count to a Duration.
var afterFunc = time.AfterFunc

func durationMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func timeoutDuration(ms int64) time.Duration {
	return durationMs(ms)
}
