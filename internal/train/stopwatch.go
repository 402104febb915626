package train

import "time"

// Stopwatch measures elapsed wall time from its last Reset. It is a plain
// value owned by whoever times something; there is no shared timer.
type Stopwatch struct {
	now   func() time.Time
	start time.Time
}

// NewStopwatch starts a stopwatch on now, or on time.Now when now is nil.
func NewStopwatch(now func() time.Time) *Stopwatch {
	if now == nil {
		now = time.Now
	}
	return &Stopwatch{now: now, start: now()}
}

func (s *Stopwatch) Reset() {
	s.start = s.now()
}

func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// Lap returns the elapsed time and restarts the stopwatch.
func (s *Stopwatch) Lap() time.Duration {
	now := s.now()
	d := now.Sub(s.start)
	s.start = now
	return d
}
