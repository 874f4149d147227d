package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// AdaptivePoller periodically fetches a changing resource using conditional
// caching to detect "no change" cheaply, widening its polling interval
// during quiet periods and narrowing it again when the resource changes.
//
// Each instance is owned by the view that needs it; there is no shared
// default poller. All callbacks are invoked outside the poller's lock, so
// they may call Stop, Pause, or ForcePoll.
type AdaptivePoller struct {
	config    PollerConfig
	fetcher   Fetcher
	scheduler Scheduler
	clock     Clock
	logger    hclog.Logger
	rnd       *rand.Rand

	mu                   sync.Mutex
	polling              bool
	paused               bool
	resourceKey          string
	onUpdate             UpdateFunc
	onError              ErrorFunc
	currentInterval      time.Duration
	lastValidationToken  string
	consecutiveUnchanged int
	errorCount           int
	consecutiveFailures  int
	degradedSince        *time.Time
	lastKnownGood        json.RawMessage
	pending              TimerHandle
	cancelFetch          context.CancelFunc

	// generation invalidates timer and fetch callbacks scheduled before
	// the most recent lifecycle transition. A late-arriving callback for
	// a stopped, paused, or rescheduled poller is a no-op.
	generation uint64
}

// PollerStatus is a point-in-time snapshot of a poller for dashboards.
type PollerStatus struct {
	Polling             bool          `json:"polling"`
	Paused              bool          `json:"paused"`
	ResourceKey         string        `json:"resourceKey"`
	CurrentInterval     time.Duration `json:"currentInterval"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	ErrorCount          int           `json:"errorCount"`
	Degraded            bool          `json:"degraded"`
	DegradedSince       time.Time     `json:"degradedSince"`
}

// NewAdaptivePoller creates a poller for the given fetcher. The config is
// validated and then immutable.
func NewAdaptivePoller(config PollerConfig, fetcher Fetcher, logger hclog.Logger) (*AdaptivePoller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid poller config")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &AdaptivePoller{
		config:    config,
		fetcher:   fetcher,
		scheduler: NewScheduler(),
		clock:     NewClock(),
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// SetScheduler sets a custom scheduler (useful for testing).
func (p *AdaptivePoller) SetScheduler(scheduler Scheduler) {
	p.scheduler = scheduler
}

// SetClock sets a custom clock (useful for testing).
func (p *AdaptivePoller) SetClock(clock Clock) {
	p.clock = clock
}

// Start begins polling the given resource. The first fetch is issued
// immediately. onUpdate receives the payload of every changed response;
// onError receives every failure and may be nil.
func (p *AdaptivePoller) Start(resourceKey string, onUpdate UpdateFunc, onError ErrorFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling {
		return errors.New("poller already running")
	}
	if resourceKey == "" {
		return errors.New("resource key is required")
	}
	if onUpdate == nil {
		return errors.New("update callback is required")
	}

	p.polling = true
	p.paused = false
	p.resourceKey = resourceKey
	p.onUpdate = onUpdate
	p.onError = onError
	p.currentInterval = p.config.InitialInterval
	p.consecutiveUnchanged = 0
	p.errorCount = 0
	p.consecutiveFailures = 0
	p.degradedSince = nil
	p.generation++

	p.logger.Info("poller started", "resource", resourceKey, "initialInterval", p.config.InitialInterval)
	p.scheduleLocked(0)
	return nil
}

// Stop cancels all pending work and clears accumulated state, including the
// cache-validation token and the last-known-good payload. An in-flight
// fetch is canceled; if its response still arrives, it is dropped.
func (p *AdaptivePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling {
		return
	}

	p.invalidateLocked()
	p.polling = false
	p.paused = false
	p.resourceKey = ""
	p.onUpdate = nil
	p.onError = nil
	p.lastValidationToken = ""
	p.consecutiveUnchanged = 0
	p.errorCount = 0
	p.consecutiveFailures = 0
	p.degradedSince = nil
	p.lastKnownGood = nil

	p.logger.Info("poller stopped")
}

// Pause suspends polling without losing accumulated backoff state. The
// pending timer is canceled synchronously.
func (p *AdaptivePoller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling || p.paused {
		return
	}

	p.invalidateLocked()
	p.paused = true
	p.logger.Debug("poller paused", "resource", p.resourceKey)
}

// Resume continues a paused poller and re-polls immediately.
func (p *AdaptivePoller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling || !p.paused {
		return
	}

	p.paused = false
	p.generation++
	p.logger.Debug("poller resumed", "resource", p.resourceKey)
	p.scheduleLocked(0)
}

// ForcePoll triggers an immediate fetch at the minimum interval, bypassing
// the current backoff. It is a no-op while stopped or paused.
func (p *AdaptivePoller) ForcePoll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling || p.paused {
		return
	}

	p.invalidateLocked()
	p.currentInterval = p.config.MinInterval
	p.scheduleLocked(0)
}

// Status returns a snapshot of the poller's current state.
func (p *AdaptivePoller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PollerStatus{
		Polling:             p.polling,
		Paused:              p.paused,
		ResourceKey:         p.resourceKey,
		CurrentInterval:     p.currentInterval,
		ConsecutiveFailures: p.consecutiveFailures,
		ErrorCount:          p.errorCount,
		Degraded:            p.degradedSince != nil,
	}
	if p.degradedSince != nil {
		status.DegradedSince = *p.degradedSince
	}
	return status
}

// invalidateLocked cancels the pending timer and any in-flight fetch, and
// bumps the generation so their callbacks become no-ops.
func (p *AdaptivePoller) invalidateLocked() {
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
	if p.cancelFetch != nil {
		p.cancelFetch()
		p.cancelFetch = nil
	}
	p.generation++
}

// scheduleLocked arms the single pending timer for the next poll cycle.
func (p *AdaptivePoller) scheduleLocked(delay time.Duration) {
	gen := p.generation
	p.pending = p.scheduler.Schedule(delay, func() {
		p.cycle(gen)
	})
}

// cycle executes one poll: a conditional fetch followed by interval
// adjustment and rescheduling. gen identifies the lifecycle epoch the cycle
// was scheduled in; a stale cycle returns without touching state.
func (p *AdaptivePoller) cycle(gen uint64) {
	p.mu.Lock()
	if !p.activeLocked(gen) {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	key := p.resourceKey
	token := p.lastValidationToken
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFetch = cancel
	p.mu.Unlock()

	result, err := p.fetcher.Fetch(ctx, key, token)
	cancel()

	var (
		emitPayload json.RawMessage
		emitErr     error
		onUpdate    UpdateFunc
		onError     ErrorFunc
	)

	p.mu.Lock()
	if !p.activeLocked(gen) {
		p.mu.Unlock()
		return
	}
	p.cancelFetch = nil

	if err != nil {
		emitErr, emitPayload = p.handleFailureLocked(err)
	} else {
		emitPayload = p.handleSuccessLocked(result)
	}

	if p.polling && !p.paused {
		p.scheduleLocked(jitter(p.rnd, p.currentInterval, p.config.JitterRange))
	}
	onUpdate = p.onUpdate
	onError = p.onError
	p.mu.Unlock()

	if emitPayload != nil && onUpdate != nil {
		onUpdate(emitPayload)
	}
	if emitErr != nil && onError != nil {
		onError(emitErr)
	}
}

func (p *AdaptivePoller) activeLocked(gen uint64) bool {
	return p.polling && !p.paused && gen == p.generation
}

// handleSuccessLocked applies the adaptive interval rules and returns the
// payload to emit, if any.
func (p *AdaptivePoller) handleSuccessLocked(result *FetchResult) json.RawMessage {
	p.consecutiveFailures = 0
	if p.degradedSince != nil {
		p.logger.Info("recovered from degraded mode",
			"resource", p.resourceKey,
			"degradedFor", p.clock.Now().Sub(*p.degradedSince).String())
		p.degradedSince = nil
	}

	if result.Changed {
		p.currentInterval = p.config.MinInterval
		p.consecutiveUnchanged = 0
		if result.Token != "" {
			p.lastValidationToken = result.Token
		}
		p.lastKnownGood = result.Payload
		p.logger.Debug("resource changed", "resource", p.resourceKey, "token", result.Token)
		return result.Payload
	}

	// A single unchanged sample is noise; only widen after two in a row.
	p.consecutiveUnchanged++
	if p.consecutiveUnchanged >= 2 {
		widened := time.Duration(float64(p.currentInterval) * p.config.BackoffMultiplier)
		if widened > p.config.MaxInterval {
			widened = p.config.MaxInterval
		}
		p.currentInterval = widened
	}
	return nil
}

// handleFailureLocked applies the shared failure policy: classify the
// error, adjust backoff, and decide what to forward and whether to replay
// the last-known-good payload. It returns the error to forward and an
// optional replay payload.
func (p *AdaptivePoller) handleFailureLocked(err error) (error, json.RawMessage) {
	p.errorCount++
	p.consecutiveFailures++

	if IsCredentialError(err) {
		// Token refresh is owned outside this core. Suspend until the
		// caller resumes after refreshing.
		p.paused = true
		p.logger.Warn("credential rejected, polling suspended", "resource", p.resourceKey)
		return err, nil
	}

	p.currentInterval = errorBackoff(p.config.InitialInterval, p.config.MaxInterval, p.errorCount)

	if p.errorCount > p.config.MaxLifetimeErrors {
		term := &TerminalError{Reason: "lifetime error ceiling reached", Err: err}
		p.logger.Error("poller self-stopping",
			"resource", p.resourceKey,
			"errorCount", p.errorCount,
			"error", err.Error())
		p.stopForTerminalLocked()
		return term, nil
	}

	var replay json.RawMessage
	if p.consecutiveFailures >= p.config.FailureThreshold && p.degradedSince == nil {
		now := p.clock.Now()
		p.degradedSince = &now
		p.logger.Warn("entering degraded mode",
			"resource", p.resourceKey,
			"consecutiveFailures", p.consecutiveFailures,
			"error", err.Error())
		if len(p.lastKnownGood) > 0 {
			replay = p.lastKnownGood
		}
	} else if p.consecutiveFailures == 1 {
		p.logger.Debug("poll cycle failed", "resource", p.resourceKey, "error", err.Error())
	} else {
		p.logger.Warn("poll cycle failed",
			"resource", p.resourceKey,
			"consecutiveFailures", p.consecutiveFailures,
			"error", err.Error())
	}

	return err, replay
}

// stopForTerminalLocked tears the poller down after a terminal error,
// keeping the Stop semantics (state cleared, callbacks detached) without
// re-entering the lock.
func (p *AdaptivePoller) stopForTerminalLocked() {
	p.invalidateLocked()
	p.polling = false
	p.paused = false
	p.lastValidationToken = ""
	p.consecutiveUnchanged = 0
	p.degradedSince = nil
	p.lastKnownGood = nil
}
