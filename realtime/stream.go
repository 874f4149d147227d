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

// ConnState is the stream client's connection state.
type ConnState int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected ConnState = iota
	// Connecting means a dial is in progress.
	Connecting
	// Connected means the push channel is established.
	Connected
	// Closing means an intentional teardown is in progress.
	Closing
	// Reconnecting means the connection dropped and a retry is scheduled.
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn is an established push-channel connection.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or an error.
	ReadMessage() ([]byte, error)

	// Close tears the connection down; a blocked ReadMessage returns an
	// error.
	Close() error
}

// Dialer opens a push channel for a resource key and credential.
type Dialer interface {
	Dial(ctx context.Context, resourceKey, token string) (Conn, error)
}

// StreamClient maintains a persistent push channel with automatic
// reconnection: exponential backoff with additive jitter on unintentional
// drops, a debounce guard against connect bursts, and a hard attempt
// ceiling after which it gives up and surfaces a terminal error.
type StreamClient struct {
	config    StreamConfig
	dialer    Dialer
	tokens    TokenSource
	scheduler Scheduler
	clock     Clock
	logger    hclog.Logger
	rnd       *rand.Rand

	mu                  sync.Mutex
	state               ConnState
	resourceKey         string
	onMessage           MessageFunc
	onError             ErrorFunc
	conn                Conn
	attempts            int
	lastConnectAttempt  time.Time
	intentionallyClosed bool
	pending             TimerHandle

	// generation invalidates read loops and reconnect timers from before
	// the most recent Disconnect or Connect, so stale transport callbacks
	// can never fire into torn-down state.
	generation uint64
}

// StreamStatus is a point-in-time snapshot for dashboards.
type StreamStatus struct {
	State               string    `json:"state"`
	ResourceKey         string    `json:"resourceKey"`
	ReconnectAttempts   int       `json:"reconnectAttempts"`
	LastConnectAttempt  time.Time `json:"lastConnectAttempt"`
	IntentionallyClosed bool      `json:"intentionallyClosed"`
}

// NewStreamClient creates a stream client over the given dialer and
// credential source.
func NewStreamClient(config StreamConfig, dialer Dialer, tokens TokenSource, logger hclog.Logger) (*StreamClient, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid stream config")
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &StreamClient{
		config:    config,
		dialer:    dialer,
		tokens:    tokens,
		scheduler: NewScheduler(),
		clock:     NewClock(),
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     Disconnected,
	}, nil
}

// SetScheduler sets a custom scheduler (useful for testing).
func (c *StreamClient) SetScheduler(scheduler Scheduler) {
	c.scheduler = scheduler
}

// SetClock sets a custom clock (useful for testing).
func (c *StreamClient) SetClock(clock Clock) {
	c.clock = clock
}

// Connect opens the push channel. It is idempotent while a connection is
// being established or already open. Calls arriving within the debounce
// window of the previous attempt are rescheduled rather than dialed
// immediately, so rapid connect bursts never open redundant sockets. A
// missing credential is a hard precondition failure.
func (c *StreamClient) Connect(resourceKey string, onMessage MessageFunc, onError ErrorFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connecting || c.state == Connected || c.state == Reconnecting {
		return nil
	}
	if resourceKey == "" {
		return errors.New("resource key is required")
	}
	if onMessage == nil {
		return errors.New("message callback is required")
	}
	if c.tokens.Token() == "" {
		return errors.Wrap(ErrNoToken, "cannot connect stream")
	}

	c.resourceKey = resourceKey
	c.onMessage = onMessage
	c.onError = onError
	c.intentionallyClosed = false
	c.state = Connecting
	c.generation++
	gen := c.generation

	delay := time.Duration(0)
	now := c.clock.Now()
	if !c.lastConnectAttempt.IsZero() {
		if since := now.Sub(c.lastConnectAttempt); since < c.config.DebounceWindow {
			delay = c.config.DebounceWindow - since
		}
	}
	if delay > 0 {
		c.logger.Debug("connect debounced", "resource", resourceKey, "delay", delay)
	}

	c.pending = c.scheduler.Schedule(delay, func() {
		c.dial(gen)
	})
	return nil
}

// Disconnect tears the connection down and suppresses all automatic
// reconnection until Connect is called again. Transport callbacks are
// detached before it returns, so no stale callback can fire into torn-down
// caller state.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()

	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}

	c.state = Closing
	c.intentionallyClosed = true
	c.generation++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.onMessage = nil
	c.onError = nil
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("stream disconnected")
}

// State returns the current connection state.
func (c *StreamClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the client's current state.
func (c *StreamClient) Status() StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StreamStatus{
		State:               c.state.String(),
		ResourceKey:         c.resourceKey,
		ReconnectAttempts:   c.attempts,
		LastConnectAttempt:  c.lastConnectAttempt,
		IntentionallyClosed: c.intentionallyClosed,
	}
}

// dial attempts to open the transport. It runs off a scheduler callback,
// never on the caller's goroutine.
func (c *StreamClient) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || (c.state != Connecting && c.state != Reconnecting) {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.state = Connecting
	c.lastConnectAttempt = c.clock.Now()
	key := c.resourceKey
	token := c.tokens.Token()
	c.mu.Unlock()

	if token == "" {
		c.fail(gen, errors.Wrap(ErrNoToken, "cannot reconnect stream"))
		return
	}

	conn, err := c.dialer.Dial(context.Background(), key, token)
	if err != nil {
		if IsCredentialError(err) {
			c.fail(gen, err)
			return
		}
		c.handleDrop(gen, errors.Wrap(err, "dial failed"))
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		// Disconnected (or reconnected) while the dial was in flight;
		// this socket must not stay open alongside a newer one.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("stream connected", "resource", key)
	go c.readLoop(gen, conn)
}

// readLoop pumps inbound frames to the message callback until the
// connection drops or the generation moves on.
func (c *StreamClient) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, errors.Wrap(err, "stream read failed"))
			return
		}

		var msg StreamMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			c.mu.Lock()
			onError := c.onError
			stale := gen != c.generation
			c.mu.Unlock()
			if stale {
				return
			}
			c.logger.Warn("dropping unparseable frame", "error", jsonErr.Error())
			if onError != nil {
				onError(errors.Wrap(jsonErr, "failed to parse stream frame"))
			}
			continue
		}

		c.mu.Lock()
		onMessage := c.onMessage
		stale := gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// handleDrop runs the reconnection policy after an unintentional close or
// dial failure.
func (c *StreamClient) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.intentionallyClosed {
		c.mu.Unlock()
		return
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	onError := c.onError

	key := c.resourceKey
	if c.attempts >= c.config.MaxReconnectAttempts {
		c.state = Disconnected
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("stream giving up",
			"resource", key,
			"attempts", attempts,
			"error", cause.Error())
		if onError != nil {
			onError(&TerminalError{Reason: "reconnect attempts exhausted", Err: cause})
		}
		return
	}

	delay := reconnectDelay(c.rnd, c.config.BaseDelay, c.config.MaxDelay, c.config.JitterCeiling, c.attempts)
	c.attempts++
	c.state = Reconnecting
	c.pending = c.scheduler.Schedule(delay, func() {
		c.dial(gen)
	})
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Warn("stream dropped, reconnecting",
		"resource", key,
		"attempt", attempt,
		"delay", delay,
		"error", cause.Error())
	if onError != nil {
		onError(cause)
	}
}

// fail surfaces a non-retryable error and leaves the client disconnected.
func (c *StreamClient) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	onError := c.onError
	key := c.resourceKey
	c.mu.Unlock()

	c.logger.Error("stream connection failed", "resource", key, "error", err.Error())
	if onError != nil {
		onError(err)
	}
}
