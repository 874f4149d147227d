package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPollerConfig() PollerConfig {
	return PollerConfig{
		MinInterval:       5 * time.Second,
		MaxInterval:       60 * time.Second,
		InitialInterval:   5 * time.Second,
		BackoffMultiplier: 1.5,
		JitterRange:       0, // deterministic scheduling in tests
		FailureThreshold:  3,
		MaxLifetimeErrors: 50,
	}
}

func newTestPoller(t *testing.T, config PollerConfig, fetcher Fetcher) (*AdaptivePoller, *fakeScheduler, *fakeClock) {
	t.Helper()

	poller, err := NewAdaptivePoller(config, fetcher, hclog.NewNullLogger())
	require.NoError(t, err)

	scheduler := newFakeScheduler()
	clock := newFakeClock()
	poller.SetScheduler(scheduler)
	poller.SetClock(clock)
	return poller, scheduler, clock
}

func changedStep(payload string, token string) fetchStep {
	return fetchStep{result: &FetchResult{Changed: true, Payload: json.RawMessage(payload), Token: token}}
}

func unchangedStep() fetchStep {
	return fetchStep{result: &FetchResult{Changed: false}}
}

func failedStep(err error) fetchStep {
	return fetchStep{err: err}
}

func TestNewAdaptivePoller(t *testing.T) {
	t.Run("rejects invalid config", func(t *testing.T) {
		config := testPollerConfig()
		config.MinInterval = 0
		_, err := NewAdaptivePoller(config, &fakeFetcher{}, hclog.NewNullLogger())
		assert.Error(t, err)
	})

	t.Run("rejects nil fetcher", func(t *testing.T) {
		_, err := NewAdaptivePoller(testPollerConfig(), nil, hclog.NewNullLogger())
		assert.Error(t, err)
	})
}

func TestAdaptivePoller_Start(t *testing.T) {
	t.Run("polls immediately", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		delay, ok := scheduler.fireNext()
		require.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
		assert.Equal(t, 1, fetcher.callCount())
	})

	t.Run("rejects double start", func(t *testing.T) {
		poller, _, _ := newTestPoller(t, testPollerConfig(), &fakeFetcher{})

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		assert.Error(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
	})

	t.Run("requires resource key and callback", func(t *testing.T) {
		poller, _, _ := newTestPoller(t, testPollerConfig(), &fakeFetcher{})

		assert.Error(t, poller.Start("", func(json.RawMessage) {}, nil))
		assert.Error(t, poller.Start("sessions/timers", nil, nil))
	})
}

func TestAdaptivePoller_UnchangedBackoff(t *testing.T) {
	t.Run("two unchanged responses widen the third interval", func(t *testing.T) {
		// minInterval=5000ms, multiplier=1.5: after two unchanged polls
		// the next interval is 7500ms.
		fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		_, ok := scheduler.fireNext() // first poll: unchanged x1, no widening
		require.True(t, ok)
		delay, ok := scheduler.lastPendingDelay()
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, delay)

		_, ok = scheduler.fireNext() // second poll: unchanged x2, widen
		require.True(t, ok)
		delay, ok = scheduler.lastPendingDelay()
		require.True(t, ok)
		assert.Equal(t, 7500*time.Millisecond, delay)
	})

	t.Run("interval is non-decreasing and capped under sustained quiet", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		prev := time.Duration(0)
		for i := 0; i < 30; i++ {
			_, ok := scheduler.fireNext()
			require.True(t, ok)
			delay, ok := scheduler.lastPendingDelay()
			require.True(t, ok)
			assert.GreaterOrEqual(t, delay, prev)
			assert.LessOrEqual(t, delay, 60*time.Second)
			prev = delay
		}
		assert.Equal(t, 60*time.Second, prev)
	})
}

func TestAdaptivePoller_ChangedResponse(t *testing.T) {
	t.Run("resets interval, stores token, emits payload", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{
			unchangedStep(),
			unchangedStep(),
			changedStep(`{"timers":[]}`, "etag-1"),
			unchangedStep(),
		}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		var updates []string
		require.NoError(t, poller.Start("sessions/timers", func(payload json.RawMessage) {
			updates = append(updates, string(payload))
		}, nil))
		defer poller.Stop()

		scheduler.fireNext()
		scheduler.fireNext() // interval widened to 7500ms
		scheduler.fireNext() // changed: reset

		delay, ok := scheduler.lastPendingDelay()
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, delay)
		assert.Equal(t, []string{`{"timers":[]}`}, updates)

		// The next request must echo the stored validation token.
		scheduler.fireNext()
		fetcher.mu.Lock()
		tokens := append([]string(nil), fetcher.tokens...)
		fetcher.mu.Unlock()
		require.Len(t, tokens, 4)
		assert.Equal(t, "", tokens[0])
		assert.Equal(t, "etag-1", tokens[3])
	})
}

func TestAdaptivePoller_Failures(t *testing.T) {
	pollErr := errors.New("connection refused")

	t.Run("errors are forwarded and backoff is exponential", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{failedStep(pollErr)}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		var seen []error
		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, func(err error) {
			seen = append(seen, err)
		}))
		defer poller.Stop()

		scheduler.fireNext()
		delay, _ := scheduler.lastPendingDelay()
		assert.Equal(t, 5*time.Second, delay) // initial * 2^0

		scheduler.fireNext()
		delay, _ = scheduler.lastPendingDelay()
		assert.Equal(t, 10*time.Second, delay) // initial * 2^1

		assert.Len(t, seen, 2)
	})

	t.Run("degraded mode is entered exactly once and cleared on success", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{
			failedStep(pollErr),
			failedStep(pollErr),
			failedStep(pollErr),
			failedStep(pollErr),
			unchangedStep(),
		}}
		poller, scheduler, clock := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		scheduler.fireNext()
		scheduler.fireNext()
		assert.False(t, poller.Status().Degraded)

		scheduler.fireNext() // third consecutive failure: threshold reached
		status := poller.Status()
		require.True(t, status.Degraded)
		enteredAt := status.DegradedSince

		clock.advance(time.Minute)
		scheduler.fireNext() // fourth failure: still degraded, timestamp unchanged
		status = poller.Status()
		require.True(t, status.Degraded)
		assert.Equal(t, enteredAt, status.DegradedSince)

		scheduler.fireNext() // success: recovery
		status = poller.Status()
		assert.False(t, status.Degraded)
		assert.Equal(t, 0, status.ConsecutiveFailures)
	})

	t.Run("entering degraded mode replays last-known-good payload", func(t *testing.T) {
		config := testPollerConfig()
		config.FailureThreshold = 2
		fetcher := &fakeFetcher{steps: []fetchStep{
			changedStep(`{"timers":["t1"]}`, "etag-1"),
			failedStep(pollErr),
			failedStep(pollErr),
			failedStep(pollErr),
		}}
		poller, scheduler, _ := newTestPoller(t, config, fetcher)

		var updates []string
		require.NoError(t, poller.Start("sessions/timers", func(payload json.RawMessage) {
			updates = append(updates, string(payload))
		}, nil))
		defer poller.Stop()

		scheduler.fireNext() // live update
		scheduler.fireNext() // failure 1
		scheduler.fireNext() // failure 2: degraded, replay fires
		scheduler.fireNext() // failure 3: no second replay

		assert.Equal(t, []string{`{"timers":["t1"]}`, `{"timers":["t1"]}`}, updates)
	})

	t.Run("credential error suspends polling without retry", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{failedStep(&CredentialError{StatusCode: 401})}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		var seen []error
		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, func(err error) {
			seen = append(seen, err)
		}))
		defer poller.Stop()

		scheduler.fireNext()

		status := poller.Status()
		assert.True(t, status.Polling)
		assert.True(t, status.Paused)
		assert.Equal(t, 0, scheduler.pendingCount())
		require.Len(t, seen, 1)
		assert.True(t, IsCredentialError(seen[0]))

		// After an external token refresh the caller resumes.
		fetcher.mu.Lock()
		fetcher.steps = []fetchStep{unchangedStep()}
		fetcher.calls = 0
		fetcher.mu.Unlock()
		poller.Resume()
		delay, ok := scheduler.lastPendingDelay()
		require.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("lifetime error ceiling stops the poller with a terminal error", func(t *testing.T) {
		config := testPollerConfig()
		config.MaxLifetimeErrors = 2
		fetcher := &fakeFetcher{steps: []fetchStep{failedStep(pollErr)}}
		poller, scheduler, _ := newTestPoller(t, config, fetcher)

		var seen []error
		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, func(err error) {
			seen = append(seen, err)
		}))

		scheduler.fireNext()
		scheduler.fireNext()
		scheduler.fireNext() // third lifetime error exceeds the ceiling

		require.Len(t, seen, 3)
		assert.True(t, IsTerminalError(seen[2]))
		assert.False(t, poller.Status().Polling)
		assert.Equal(t, 0, scheduler.pendingCount())
	})
}

func TestAdaptivePoller_PauseResume(t *testing.T) {
	t.Run("pause cancels the pending timer and keeps backoff state", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()

		scheduler.fireNext()
		scheduler.fireNext() // widened to 7500ms
		require.Equal(t, 1, scheduler.pendingCount())

		poller.Pause()
		assert.Equal(t, 0, scheduler.pendingCount())
		assert.True(t, poller.Status().Paused)
		assert.Equal(t, 7500*time.Millisecond, poller.Status().CurrentInterval)

		poller.Resume()
		delay, ok := scheduler.lastPendingDelay()
		require.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
		assert.False(t, poller.Status().Paused)
	})

	t.Run("pause and resume while stopped are no-ops", func(t *testing.T) {
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), &fakeFetcher{})

		poller.Pause()
		poller.Resume()
		assert.Equal(t, 0, scheduler.pendingCount())
	})
}

func TestAdaptivePoller_ForcePoll(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
	poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

	require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
	defer poller.Stop()

	scheduler.fireNext()
	scheduler.fireNext() // widened to 7500ms

	poller.ForcePoll()
	delay, ok := scheduler.lastPendingDelay()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, testPollerConfig().MinInterval, poller.Status().CurrentInterval)
	assert.Equal(t, 1, scheduler.pendingCount())
}

func TestAdaptivePoller_Stop(t *testing.T) {
	t.Run("clears the validation token", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{changedStep(`{}`, "etag-1"), unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		scheduler.fireNext()
		poller.Stop()

		fetcher.mu.Lock()
		fetcher.steps = []fetchStep{unchangedStep()}
		fetcher.calls = 0
		fetcher.tokens = nil
		fetcher.mu.Unlock()

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		defer poller.Stop()
		scheduler.fireNext()

		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		require.Len(t, fetcher.tokens, 1)
		assert.Equal(t, "", fetcher.tokens[0])
	})

	t.Run("a late timer callback after stop is a no-op", func(t *testing.T) {
		fetcher := &fakeFetcher{steps: []fetchStep{unchangedStep()}}
		poller, scheduler, _ := newTestPoller(t, testPollerConfig(), fetcher)

		require.NoError(t, poller.Start("sessions/timers", func(json.RawMessage) {}, nil))
		scheduler.fireNext()

		scheduler.mu.Lock()
		stale := scheduler.timers[len(scheduler.timers)-1]
		scheduler.mu.Unlock()

		poller.Stop()

		// Simulate the canceled timer firing anyway: ordering between a
		// pending callback and Stop is not guaranteed.
		stale.fn()
		assert.Equal(t, 1, fetcher.callCount())
	})

	t.Run("stop while never started is a no-op", func(t *testing.T) {
		poller, _, _ := newTestPoller(t, testPollerConfig(), &fakeFetcher{})
		poller.Stop()
	})
}
