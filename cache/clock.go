package cache

import "time"

// Clock supplies the current time used for staleness and retention
// decisions. Timers always run on wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
