package realtime

import (
	"context"
	"sync"
	"time"
)

// fakeScheduler records scheduled callbacks so tests can drive poll cycles
// and reconnects deterministically.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	fired   bool
	stopped bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := &fakeTimer{delay: delay, fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTimer) isPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.fired && !t.stopped
}

// fireNext runs the oldest pending callback synchronously and returns the
// delay it was scheduled with. It returns false if nothing is pending.
func (s *fakeScheduler) fireNext() (time.Duration, bool) {
	s.mu.Lock()
	var next *fakeTimer
	for _, timer := range s.timers {
		if timer.isPending() {
			next = timer
			break
		}
	}
	s.mu.Unlock()

	if next == nil {
		return 0, false
	}

	next.mu.Lock()
	next.fired = true
	fn := next.fn
	delay := next.delay
	next.mu.Unlock()

	fn()
	return delay, true
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, timer := range s.timers {
		if timer.isPending() {
			count++
		}
	}
	return count
}

// lastPendingDelay returns the delay of the most recently scheduled pending
// timer.
func (s *fakeScheduler) lastPendingDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.timers) - 1; i >= 0; i-- {
		if s.timers[i].isPending() {
			return s.timers[i].delay, true
		}
	}
	return 0, false
}

// fakeClock is a fixed, manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fetchStep is one scripted response for a fake fetcher.
type fetchStep struct {
	result *FetchResult
	err    error
}

// fakeFetcher replays scripted fetch outcomes and records the validation
// tokens it was called with. Once the script is exhausted, the last step
// repeats.
type fakeFetcher struct {
	mu     sync.Mutex
	steps  []fetchStep
	calls  int
	tokens []string
}

func (f *fakeFetcher) Fetch(_ context.Context, _, validationToken string) (*FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = append(f.tokens, validationToken)
	step := fetchStep{result: &FetchResult{Changed: false}}
	if len(f.steps) > 0 {
		idx := f.calls
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		step = f.steps[idx]
	}
	f.calls++
	return step.result, step.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// alertStep is one scripted response for a fake alert fetcher.
type alertStep struct {
	result *AlertFetchResult
	err    error
}

type fakeAlertFetcher struct {
	mu    sync.Mutex
	steps []alertStep
	calls int
}

func (f *fakeAlertFetcher) FetchAlerts(_ context.Context, _, _ string) (*AlertFetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	step := alertStep{result: &AlertFetchResult{Changed: false}}
	if len(f.steps) > 0 {
		idx := f.calls
		if idx >= len(f.steps) {
			idx = len(f.steps) - 1
		}
		step = f.steps[idx]
	}
	f.calls++
	return step.result, step.err
}

// fakeAcknowledger records acknowledge calls.
type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *fakeAcknowledger) AcknowledgeAlert(_ context.Context, timerID string, alertMinutes int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, TimerAlert{TimerID: timerID, AlertMinutes: alertMinutes}.DedupKey())
	return a.err
}
