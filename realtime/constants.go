package realtime

import "time"

// Constants for polling and reconnection behavior
const (
	// DefaultMinInterval is the tightest polling cadence used while the
	// watched resource is changing.
	DefaultMinInterval = 5 * time.Second

	// DefaultMaxInterval is the widest polling cadence reached after a
	// sustained quiet period.
	DefaultMaxInterval = 60 * time.Second

	// DefaultInitialInterval is the polling cadence used on start, before
	// any volatility has been observed.
	DefaultInitialInterval = 10 * time.Second

	// DefaultBackoffMultiplier is applied to the current interval after
	// two consecutive unchanged responses.
	DefaultBackoffMultiplier = 1.5

	// DefaultJitterRange is the total width of the random offset applied
	// to every scheduled poll, preventing synchronized retry storms when
	// many clients are open at once.
	DefaultJitterRange = 2 * time.Second

	// DefaultFailureThreshold is the number of consecutive polling
	// failures before a poller enters degraded mode and falls back to
	// last-known-good data.
	DefaultFailureThreshold = 3

	// DefaultMaxLifetimeErrors is the lifetime error ceiling after which a
	// poller stops itself and reports a terminal error.
	DefaultMaxLifetimeErrors = 50

	// DefaultAlertInterval is the fixed polling cadence for pending
	// alerts. Alerts are time-critical, so the alert poller never widens
	// its interval.
	DefaultAlertInterval = 15 * time.Second

	// DefaultBaseDelay is the first reconnect delay for the stream client.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the stream client's reconnect delay.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitterCeiling bounds the random component added to each
	// reconnect delay.
	DefaultJitterCeiling = 1 * time.Second

	// DefaultMaxReconnectAttempts is how many times the stream client
	// retries before giving up and surfacing a terminal error.
	DefaultMaxReconnectAttempts = 10

	// DefaultDebounceWindow absorbs bursts of connect calls (e.g. rapid
	// tab focus/blur cycling) without opening redundant sockets.
	DefaultDebounceWindow = 500 * time.Millisecond
)
