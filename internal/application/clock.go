package application

import "time"

// Clock lets services and stores take their timestamps from one place, and
// lets tests pin them.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
