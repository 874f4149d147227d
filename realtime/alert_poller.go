package realtime

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// AlertPoller periodically fetches the pending-alert set at a fixed
// cadence, deduplicates it against what has already been surfaced this
// session, and falls back to last-known-good data under sustained failure.
//
// The cadence never widens: a delayed alert about a child's session is a
// product failure, so quiet periods do not reduce polling frequency.
type AlertPoller struct {
	config    AlertPollerConfig
	fetcher   AlertFetcher
	acker     Acknowledger
	scheduler Scheduler
	clock     Clock
	logger    hclog.Logger
	rnd       *rand.Rand

	mu                  sync.Mutex
	polling             bool
	paused              bool
	resourceKey         string
	onAlert             AlertFunc
	onError             ErrorFunc
	lastValidationToken string
	errorCount          int
	consecutiveFailures int
	degradedSince       *time.Time
	dedup               *Deduplicator
	lastKnownGood       []TimerAlert
	pending             TimerHandle
	cancelFetch         context.CancelFunc
	generation          uint64
}

// AlertPollerStatus is a point-in-time snapshot for dashboards.
type AlertPollerStatus struct {
	Polling             bool      `json:"polling"`
	Paused              bool      `json:"paused"`
	ResourceKey         string    `json:"resourceKey"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	ErrorCount          int       `json:"errorCount"`
	Degraded            bool      `json:"degraded"`
	DegradedSince       time.Time `json:"degradedSince"`
	ShownAlerts         int       `json:"shownAlerts"`
}

// NewAlertPoller creates an alert poller. acker may be nil if the caller
// never acknowledges alerts through this instance.
func NewAlertPoller(config AlertPollerConfig, fetcher AlertFetcher, acker Acknowledger, logger hclog.Logger) (*AlertPoller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid alert poller config")
	}
	if fetcher == nil {
		return nil, errors.New("alert fetcher is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &AlertPoller{
		config:    config,
		fetcher:   fetcher,
		acker:     acker,
		scheduler: NewScheduler(),
		clock:     NewClock(),
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		dedup:     NewDeduplicator(),
	}, nil
}

// SetScheduler sets a custom scheduler (useful for testing).
func (p *AlertPoller) SetScheduler(scheduler Scheduler) {
	p.scheduler = scheduler
}

// SetClock sets a custom clock (useful for testing).
func (p *AlertPoller) SetClock(clock Clock) {
	p.clock = clock
}

// Start begins polling for pending alerts. onAlert receives each alert at
// most once between Start and Stop; onError receives every failure and may
// be nil.
func (p *AlertPoller) Start(resourceKey string, onAlert AlertFunc, onError ErrorFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling {
		return errors.New("alert poller already running")
	}
	if resourceKey == "" {
		return errors.New("resource key is required")
	}
	if onAlert == nil {
		return errors.New("alert callback is required")
	}

	p.polling = true
	p.paused = false
	p.resourceKey = resourceKey
	p.onAlert = onAlert
	p.onError = onError
	p.errorCount = 0
	p.consecutiveFailures = 0
	p.degradedSince = nil
	p.generation++

	p.logger.Info("alert poller started", "resource", resourceKey, "interval", p.config.Interval)
	p.scheduleLocked(0)
	return nil
}

// Stop cancels all pending work and clears the shown-alert set, the
// validation token, and the cached last-known-good payload.
func (p *AlertPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling {
		return
	}

	p.invalidateLocked()
	p.polling = false
	p.paused = false
	p.resourceKey = ""
	p.onAlert = nil
	p.onError = nil
	p.lastValidationToken = ""
	p.errorCount = 0
	p.consecutiveFailures = 0
	p.degradedSince = nil
	p.lastKnownGood = nil
	p.dedup.Reset()

	p.logger.Info("alert poller stopped")
}

// Pause suspends polling; the shown-alert set and failure state survive.
func (p *AlertPoller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling || p.paused {
		return
	}

	p.invalidateLocked()
	p.paused = true
	p.logger.Debug("alert poller paused", "resource", p.resourceKey)
}

// Resume continues a paused poller and re-polls immediately.
func (p *AlertPoller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling || !p.paused {
		return
	}

	p.paused = false
	p.generation++
	p.logger.Debug("alert poller resumed", "resource", p.resourceKey)
	p.scheduleLocked(0)
}

// Acknowledge tells the server that the given alert threshold was handled.
// It is a side-channel write, independent of the read loop and of the
// dedup state: acknowledging never re-arms a threshold for notification.
func (p *AlertPoller) Acknowledge(ctx context.Context, timerID string, alertMinutes int) error {
	if p.acker == nil {
		return errors.New("no acknowledger configured")
	}
	if err := p.acker.AcknowledgeAlert(ctx, timerID, alertMinutes); err != nil {
		return errors.Wrapf(err, "failed to acknowledge alert %s-%d", timerID, alertMinutes)
	}
	p.logger.Debug("alert acknowledged", "timerId", timerID, "alertMinutes", alertMinutes)
	return nil
}

// Status returns a snapshot of the poller's current state.
func (p *AlertPoller) Status() AlertPollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := AlertPollerStatus{
		Polling:             p.polling,
		Paused:              p.paused,
		ResourceKey:         p.resourceKey,
		ConsecutiveFailures: p.consecutiveFailures,
		ErrorCount:          p.errorCount,
		Degraded:            p.degradedSince != nil,
		ShownAlerts:         p.dedup.Len(),
	}
	if p.degradedSince != nil {
		status.DegradedSince = *p.degradedSince
	}
	return status
}

func (p *AlertPoller) invalidateLocked() {
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

func (p *AlertPoller) scheduleLocked(delay time.Duration) {
	gen := p.generation
	p.pending = p.scheduler.Schedule(delay, func() {
		p.cycle(gen)
	})
}

// cycle executes one alert poll. Newly seen alerts are emitted outside the
// lock, in response order.
func (p *AlertPoller) cycle(gen uint64) {
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

	result, err := p.fetcher.FetchAlerts(ctx, key, token)
	cancel()

	var (
		emitAlerts []TimerAlert
		emitErr    error
		onAlert    AlertFunc
		onError    ErrorFunc
	)

	p.mu.Lock()
	if !p.activeLocked(gen) {
		p.mu.Unlock()
		return
	}
	p.cancelFetch = nil

	if err != nil {
		emitErr, emitAlerts = p.handleFailureLocked(err)
	} else {
		emitAlerts = p.handleSuccessLocked(result)
	}

	if p.polling && !p.paused {
		p.scheduleLocked(jitter(p.rnd, p.config.Interval, p.config.JitterRange))
	}
	onAlert = p.onAlert
	onError = p.onError
	p.mu.Unlock()

	if onAlert != nil {
		for _, alert := range emitAlerts {
			onAlert(alert)
		}
	}
	if emitErr != nil && onError != nil {
		onError(emitErr)
	}
}

func (p *AlertPoller) activeLocked(gen uint64) bool {
	return p.polling && !p.paused && gen == p.generation
}

// handleSuccessLocked diffs the response against the shown-alert set and
// returns the alerts to emit.
func (p *AlertPoller) handleSuccessLocked(result *AlertFetchResult) []TimerAlert {
	p.consecutiveFailures = 0
	if p.degradedSince != nil {
		p.logger.Info("recovered from degraded mode",
			"resource", p.resourceKey,
			"degradedFor", p.clock.Now().Sub(*p.degradedSince).String())
		p.degradedSince = nil
	}

	if !result.Changed {
		return nil
	}

	if result.Token != "" {
		p.lastValidationToken = result.Token
	}
	p.lastKnownGood = result.Alerts

	fresh := p.diffLocked(result.Alerts)
	if len(fresh) > 0 {
		p.logger.Debug("new alerts",
			"resource", p.resourceKey,
			"total", len(result.Alerts),
			"new", len(fresh))
	}
	return fresh
}

// diffLocked records each alert's dedup key and returns only the alerts
// whose key was not yet shown this session.
func (p *AlertPoller) diffLocked(alerts []TimerAlert) []TimerAlert {
	var fresh []TimerAlert
	for _, alert := range alerts {
		if p.dedup.Record(alert.DedupKey()) {
			fresh = append(fresh, alert)
		}
	}
	return fresh
}

// handleFailureLocked applies the shared failure policy. On entering
// degraded mode a non-empty last-known-good payload is replayed through the
// same dedup-and-emit path, so an operator who missed a live update because
// of a network blip still eventually sees it.
func (p *AlertPoller) handleFailureLocked(err error) (error, []TimerAlert) {
	p.errorCount++
	p.consecutiveFailures++

	if IsCredentialError(err) {
		p.paused = true
		p.logger.Warn("credential rejected, alert polling suspended", "resource", p.resourceKey)
		return err, nil
	}

	if p.errorCount > p.config.MaxLifetimeErrors {
		term := &TerminalError{Reason: "lifetime error ceiling reached", Err: err}
		p.logger.Error("alert poller self-stopping",
			"resource", p.resourceKey,
			"errorCount", p.errorCount,
			"error", err.Error())
		p.stopForTerminalLocked()
		return term, nil
	}

	var replay []TimerAlert
	if p.consecutiveFailures >= p.config.FailureThreshold && p.degradedSince == nil {
		now := p.clock.Now()
		p.degradedSince = &now
		p.logger.Warn("entering degraded mode",
			"resource", p.resourceKey,
			"consecutiveFailures", p.consecutiveFailures,
			"error", err.Error())
		if len(p.lastKnownGood) > 0 {
			replay = p.diffLocked(p.lastKnownGood)
			if len(replay) > 0 {
				p.logger.Info("replaying last-known-good alerts",
					"resource", p.resourceKey,
					"count", len(replay))
			}
		}
	} else if p.consecutiveFailures == 1 {
		p.logger.Debug("alert poll failed", "resource", p.resourceKey, "error", err.Error())
	} else {
		p.logger.Warn("alert poll failed",
			"resource", p.resourceKey,
			"consecutiveFailures", p.consecutiveFailures,
			"error", err.Error())
	}

	return err, replay
}

func (p *AlertPoller) stopForTerminalLocked() {
	p.invalidateLocked()
	p.polling = false
	p.paused = false
	p.lastValidationToken = ""
	p.degradedSince = nil
	p.lastKnownGood = nil
	p.dedup.Reset()
}
