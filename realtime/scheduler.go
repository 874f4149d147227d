package realtime

import "time"

// TimerHandle represents a pending scheduled callback that can be canceled.
type TimerHandle interface {
	// Stop cancels the pending callback. Stopping an already-fired or
	// already-stopped handle is a no-op.
	Stop()
}

// Scheduler is an injectable timer capability. Components never touch the
// runtime timer APIs directly so they can be driven deterministically in
// tests.
type Scheduler interface {
	// Schedule runs fn once after delay and returns a handle that can
	// cancel it before it fires.
	Schedule(delay time.Duration, fn func()) TimerHandle
}

// Clock is an injectable wall-clock capability.
type Clock interface {
	Now() time.Time
}

// NewScheduler returns the production Scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) Schedule(delay time.Duration, fn func()) TimerHandle {
	return realTimerHandle{timer: time.AfterFunc(delay, fn)}
}

type realTimerHandle struct {
	timer *time.Timer
}

func (h realTimerHandle) Stop() {
	h.timer.Stop()
}

// NewClock returns the production Clock backed by time.Now.
func NewClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
