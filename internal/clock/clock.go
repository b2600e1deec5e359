// Package clock abstracts time for deterministic tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Real returns a Clock backed by the system clock (UTC).
func Real() Clock { return realClock{} }

// Fake is a manually advanced Clock for tests. Every Now call advances the
// clock by Step so consecutive reads are strictly monotonic.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewFake returns a Fake clock starting at start with a 1ms auto-step.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, Step: time.Millisecond}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(f.Step)
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
