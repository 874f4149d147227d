package realtime

import (
	"time"

	"github.com/pkg/errors"
)

// PollerConfig holds the timing knobs for an AdaptivePoller.
// All fields are fixed at construction; the poller never mutates them.
type PollerConfig struct {
	// MinInterval is the tightest polling cadence, used while the
	// resource is changing.
	MinInterval time.Duration

	// MaxInterval caps how far the polling cadence can widen.
	MaxInterval time.Duration

	// InitialInterval is the cadence used on start and the base for
	// error backoff.
	InitialInterval time.Duration

	// BackoffMultiplier widens the interval after two consecutive
	// unchanged responses.
	BackoffMultiplier float64

	// JitterRange is the total width of the symmetric random offset
	// applied to every scheduled poll.
	JitterRange time.Duration

	// FailureThreshold is the consecutive-failure count at which the
	// poller enters degraded mode.
	FailureThreshold int

	// MaxLifetimeErrors is the lifetime error ceiling after which the
	// poller stops itself.
	MaxLifetimeErrors int
}

// DefaultPollerConfig returns a PollerConfig with the recommended defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MinInterval:       DefaultMinInterval,
		MaxInterval:       DefaultMaxInterval,
		InitialInterval:   DefaultInitialInterval,
		BackoffMultiplier: DefaultBackoffMultiplier,
		JitterRange:       DefaultJitterRange,
		FailureThreshold:  DefaultFailureThreshold,
		MaxLifetimeErrors: DefaultMaxLifetimeErrors,
	}
}

// Validate checks the interval ordering invariant and all bounds.
func (c PollerConfig) Validate() error {
	if c.MinInterval <= 0 {
		return errors.New("min interval must be positive")
	}
	if c.MaxInterval <= 0 {
		return errors.New("max interval must be positive")
	}
	if c.InitialInterval <= 0 {
		return errors.New("initial interval must be positive")
	}
	if c.MinInterval > c.InitialInterval {
		return errors.Errorf("min interval %s exceeds initial interval %s", c.MinInterval, c.InitialInterval)
	}
	if c.InitialInterval > c.MaxInterval {
		return errors.Errorf("initial interval %s exceeds max interval %s", c.InitialInterval, c.MaxInterval)
	}
	if c.BackoffMultiplier < 1 {
		return errors.New("backoff multiplier must be at least 1")
	}
	if c.JitterRange < 0 {
		return errors.New("jitter range cannot be negative")
	}
	if c.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if c.MaxLifetimeErrors <= 0 {
		return errors.New("max lifetime errors must be positive")
	}
	return nil
}

// AlertPollerConfig holds the timing knobs for an AlertPoller.
// The alert cadence is fixed: alerts are time-critical, so the interval
// never widens during quiet periods.
type AlertPollerConfig struct {
	// Interval is the fixed polling cadence.
	Interval time.Duration

	// JitterRange is the total width of the symmetric random offset
	// applied to every scheduled poll.
	JitterRange time.Duration

	// FailureThreshold is the consecutive-failure count at which the
	// poller enters degraded mode and replays last-known-good alerts.
	FailureThreshold int

	// MaxLifetimeErrors is the lifetime error ceiling after which the
	// poller stops itself.
	MaxLifetimeErrors int
}

// DefaultAlertPollerConfig returns an AlertPollerConfig with the recommended defaults.
func DefaultAlertPollerConfig() AlertPollerConfig {
	return AlertPollerConfig{
		Interval:          DefaultAlertInterval,
		JitterRange:       DefaultJitterRange,
		FailureThreshold:  DefaultFailureThreshold,
		MaxLifetimeErrors: DefaultMaxLifetimeErrors,
	}
}

// Validate checks all bounds.
func (c AlertPollerConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.JitterRange < 0 {
		return errors.New("jitter range cannot be negative")
	}
	if c.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if c.MaxLifetimeErrors <= 0 {
		return errors.New("max lifetime errors must be positive")
	}
	return nil
}

// StreamConfig holds the reconnection knobs for a StreamClient.
type StreamConfig struct {
	// BaseDelay is the first reconnect delay.
	BaseDelay time.Duration

	// MaxDelay caps the reconnect delay.
	MaxDelay time.Duration

	// JitterCeiling bounds the random component added to each reconnect
	// delay.
	JitterCeiling time.Duration

	// MaxReconnectAttempts is how many times to retry before giving up.
	MaxReconnectAttempts int

	// DebounceWindow absorbs bursts of Connect calls arriving within a
	// short window of the previous attempt.
	DebounceWindow time.Duration
}

// DefaultStreamConfig returns a StreamConfig with the recommended defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseDelay:            DefaultBaseDelay,
		MaxDelay:             DefaultMaxDelay,
		JitterCeiling:        DefaultJitterCeiling,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		DebounceWindow:       DefaultDebounceWindow,
	}
}

// Validate checks all bounds.
func (c StreamConfig) Validate() error {
	if c.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.Errorf("max delay %s is below base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.JitterCeiling < 0 {
		return errors.New("jitter ceiling cannot be negative")
	}
	if c.MaxReconnectAttempts <= 0 {
		return errors.New("max reconnect attempts must be positive")
	}
	if c.DebounceWindow < 0 {
		return errors.New("debounce window cannot be negative")
	}
	return nil
}
