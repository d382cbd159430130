package domain

import "time"

// Clock abstracts time so TTL and ordering logic can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
