package clock

import "time"

// Clock supplies the current time to services that stamp or resolve by "now".
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by the system time, in UTC.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock frozen at a settable instant, for tests and replays.
type Fixed struct {
	current time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{current: t}
}

func (f *Fixed) Now() time.Time { return f.current }

func (f *Fixed) Set(t time.Time) { f.current = t }

func (f *Fixed) Advance(d time.Duration) { f.current = f.current.Add(d) }
