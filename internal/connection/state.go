package connection

import (
	"math"
	"time"
)

// State is a connection lifecycle phase.
type State int

const (
	Disconnected State = iota
	Connecting
	Authorizing
	Subscribed
	Streaming
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authorizing:
		return "authorizing"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Transition describes one state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// Backoff returns the reconnect delay for the given attempt (0-based):
// min(max, base * 2^attempt * (1 + jitter*u)) with u in [0,1).
// For a fixed u the result never decreases as attempt grows.
func Backoff(attempt int, base, max time.Duration, jitter, u float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	if u < 0 {
		u = 0
	}
	if u >= 1 {
		u = math.Nextafter(1, 0)
	}
	d := float64(base) * math.Pow(2, float64(attempt)) * (1 + jitter*u)
	if max > 0 && d >= float64(max) {
		return max
	}
	return time.Duration(d)
}
