// Package stream owns the long-lived event stream: dialing, fixed-delay
// reconnects, the heartbeat watchdog and decoding of inbound frames.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/pushmirror/internal/push"
)

const (
	DefaultURL        = "wss://stream.pushbullet.com/websocket/"
	DefaultRetryDelay = 30 * time.Second
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "disconnected"
	}
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventFrame
	eventClosed
	eventRetry
	eventWatchdog
)

// Event is produced by the manager's goroutines and must be handed back to
// Handle on the goroutine that owns the manager.
type Event struct {
	kind eventKind
	gen  uint64
	data []byte
	err  error
}

type InboundKind int

const (
	// InboundOpened: the connection is open; the caller should resynchronize.
	InboundOpened InboundKind = iota
	// InboundClosed: the connection failed or closed; a retry is scheduled.
	InboundClosed
	// InboundStale: the watchdog found no heartbeat and forced a reconnect.
	InboundStale
	InboundPush
	InboundTickle
)

// Inbound is what the engine sees of the stream.
type Inbound struct {
	Kind    InboundKind
	Push    push.Record
	Subtype string
	Err     error
}

type Options struct {
	URL        string
	RetryDelay time.Duration
	Dial       DialFunc
	Logger     *slog.Logger
	Now        func() time.Time
}

// Manager is driven from a single goroutine: Start, Stop, Connect and Handle
// must not be called concurrently. Only its internal goroutines touch the
// events channel from elsewhere.
type Manager struct {
	url        string
	retryDelay time.Duration
	dial       DialFunc
	logger     *slog.Logger
	now        func() time.Time
	events     chan Event

	token     string
	active    bool
	state     State
	gen       uint64
	connCtx   context.Context
	cancel    context.CancelFunc
	retry     *time.Timer
	latestNop time.Time

	watchdogGen    uint64
	watchdogCancel context.CancelFunc

	wg sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = DefaultURL
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	dial := opts.Dial
	if dial == nil {
		dial = WebsocketDialer(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		url:        url,
		retryDelay: retryDelay,
		dial:       dial,
		logger:     logger,
		now:        now,
		events:     make(chan Event, 16),
		state:      Disconnected,
	}
}

func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Active() bool {
	return m.active
}

func (m *Manager) LatestNop() time.Time {
	return m.latestNop
}

func (m *Manager) RetryDelay() time.Duration {
	return m.retryDelay
}

// Start activates the manager for token: it connects and arms the watchdog.
// Starting again with the same token is a no-op; a new token reconnects.
func (m *Manager) Start(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		m.Stop()
		return
	}
	if m.active && token == m.token {
		return
	}
	m.token = token
	m.active = true
	m.Connect()
	if m.watchdogCancel == nil {
		m.startWatchdog()
	}
}

// Stop leaves the manager idle: no connection, no pending retry, no watchdog.
func (m *Manager) Stop() {
	m.active = false
	m.token = ""
	m.detach()
	m.stopWatchdog()
	m.state = Disconnected
}

// Close stops the manager and waits for its goroutines to exit.
func (m *Manager) Close() {
	m.active = false
	m.token = ""
	m.state = Closing
	m.detach()
	m.stopWatchdog()
	m.wg.Wait()
	m.state = Disconnected
}

// Connect replaces the current connection. Events of the previous connection
// carry an older generation and are dropped by Handle.
func (m *Manager) Connect() {
	if !m.active || m.token == "" {
		return
	}
	m.detach()
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.connCtx = ctx
	m.cancel = cancel
	m.state = Connecting
	m.latestNop = m.now()
	m.logger.Info("stream connecting", "url", m.url)

	gen := m.gen
	target := m.url + m.token
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, gen, target)
	}()
}

func (m *Manager) run(ctx context.Context, gen uint64, target string) {
	conn, err := m.dial(ctx, target)
	if err != nil {
		m.emit(ctx, Event{kind: eventClosed, gen: gen, err: err})
		return
	}
	defer conn.Close()
	if !m.emit(ctx, Event{kind: eventOpen, gen: gen}) {
		return
	}
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.emit(ctx, Event{kind: eventClosed, gen: gen, err: err})
			return
		}
		if !m.emit(ctx, Event{kind: eventFrame, gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) detach() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.connCtx = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// Handle applies an event to the state machine and reports what, if anything,
// the engine has to act on. Events from superseded connections are ignored.
func (m *Manager) Handle(ev Event) (Inbound, bool) {
	if ev.kind == eventWatchdog {
		if ev.gen != m.watchdogGen || m.watchdogCancel == nil {
			return Inbound{}, false
		}
		if m.CheckLiveness(m.now()) {
			return Inbound{Kind: InboundStale}, true
		}
		return Inbound{}, false
	}
	if !m.active || ev.gen != m.gen {
		return Inbound{}, false
	}
	switch ev.kind {
	case eventOpen:
		m.state = Open
		m.latestNop = m.now()
		m.logger.Info("stream open")
		return Inbound{Kind: InboundOpened}, true
	case eventFrame:
		return m.handleFrame(ev.data)
	case eventClosed:
		err := ev.err
		if err == nil {
			err = errors.New("stream closed")
		}
		m.state = Disconnected
		m.logger.Warn("stream closed, reconnecting", "error", err, "delay", m.retryDelay.String())
		m.scheduleRetry()
		return Inbound{Kind: InboundClosed, Err: err}, true
	case eventRetry:
		m.retry = nil
		m.Connect()
	}
	return Inbound{}, false
}

func (m *Manager) handleFrame(data []byte) (Inbound, bool) {
	frame, err := push.DecodeFrame(data)
	if err != nil {
		m.logger.Debug("ignoring stream frame", "error", err)
		return Inbound{}, false
	}
	switch frame.Type {
	case push.FrameNop:
		m.latestNop = m.now()
	case push.FramePush:
		if frame.Push != nil {
			return Inbound{Kind: InboundPush, Push: *frame.Push}, true
		}
	case push.FrameTickle:
		return Inbound{Kind: InboundTickle, Subtype: frame.Subtype}, true
	default:
		m.logger.Debug("ignoring stream frame", "type", frame.Type)
	}
	return Inbound{}, false
}

// scheduleRetry arms the single reconnect timer. The delay is fixed; there is
// no exponential backoff.
func (m *Manager) scheduleRetry() {
	if m.retry != nil {
		m.retry.Stop()
	}
	ctx := m.connCtx
	if ctx == nil {
		return
	}
	gen := m.gen
	m.retry = time.AfterFunc(m.retryDelay, func() {
		m.emit(ctx, Event{kind: eventRetry, gen: gen})
	})
}

// CheckLiveness forces a reconnect when no heartbeat arrived for more than
// two retry intervals, even if the connection still looks open.
func (m *Manager) CheckLiveness(now time.Time) bool {
	if !m.active {
		return false
	}
	if now.Sub(m.latestNop) <= 2*m.retryDelay {
		return false
	}
	m.logger.Warn("stream heartbeat stale, reconnecting", "last_nop", m.latestNop.Format(time.RFC3339))
	m.Connect()
	return true
}

func (m *Manager) startWatchdog() {
	m.watchdogGen++
	gen := m.watchdogGen
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	interval := watchdogInterval(m.retryDelay)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.emit(ctx, Event{kind: eventWatchdog, gen: gen}) {
					return
				}
			}
		}
	}()
}

const minWatchdogInterval = time.Millisecond

// watchdogInterval is half the retry delay, never below a millisecond.
func watchdogInterval(retryDelay time.Duration) time.Duration {
	interval := retryDelay / 2
	if interval < minWatchdogInterval {
		return minWatchdogInterval
	}
	return interval
}

func (m *Manager) stopWatchdog() {
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		m.watchdogCancel = nil
	}
}
