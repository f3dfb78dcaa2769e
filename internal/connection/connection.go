// Package connection implements spec §4.5's Connection Manager: a
// framed bidirectional transport client with broadcast fan-out,
// request/response correlation, heartbeat, and exponential-backoff
// reconnect. Grounded on the teacher's signaling.Client
// (internal/network/signaling/client.go) — same gorilla/websocket
// dial/readLoop shape — generalized from a single-handler-per-type
// registry to a broadcast queue with many subscribers, per spec §9's
// "never subscribe to the raw transport more than once" design note.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/errs"
	"github.com/wisp-chat/wisp/internal/protocol"
)

// IdentityResetter is the one operation connect(endpoint, ephemeralReset:
// true) needs from the Identity Manager. Kept as a narrow interface so
// this package never imports internal/identity directly.
type IdentityResetter interface {
	DeleteIdentity(ctx context.Context) error
}

// EventKind enumerates the lifecycle notifications the Connection
// Manager pushes to an observer channel. Spec §9 calls for a channel
// rather than a direct callback, so the Connection Manager can notify
// background-event hooks without importing them at compile time.
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventDisconnected    EventKind = "disconnected"
	EventReconnecting    EventKind = "reconnecting"
	EventReconnectFailed EventKind = "reconnect_failed"
)

// Event is one lifecycle notification.
type Event struct {
	Kind    EventKind
	Attempt int
	Err     error
}

// InboundFrame is one fully-received wire frame, still raw — the
// Hub Client Protocol layer peeks its type and decodes further.
type InboundFrame struct {
	Type protocol.FrameType
	Raw  []byte
}

// Config tunes heartbeat and reconnect behavior (spec §4.5).
type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	ReconnectDelays   []time.Duration
	ReconnectMaxDelay time.Duration
	MaxAttempts       int
	RequestTimeout    time.Duration
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		PongTimeout:       10 * time.Second,
		ReconnectDelays:   []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second},
		ReconnectMaxDelay: 30 * time.Second,
		MaxAttempts:       5,
		RequestTimeout:    10 * time.Second,
	}
}

// Manager owns one framed transport connection's full lifecycle.
type Manager struct {
	cfg      Config
	identity IdentityResetter
	events   chan<- Event
	logger   zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	url              string
	connected        bool
	manualDisconnect bool
	ephemeralDone    bool
	reconnectAttempt int

	subMu       sync.Mutex
	subscribers map[int]chan InboundFrame
	nextSubID   int

	waitMu  sync.Mutex
	waiters map[protocol.FrameType][]chan InboundFrame

	heartbeatCancel context.CancelFunc
	lastPong        time.Time

	onReauth func(context.Context) error
}

// New creates a Manager bound to one endpoint URL.
func New(cfg Config, identity IdentityResetter, events chan<- Event, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		identity:    identity,
		events:      events,
		logger:      logger.With().Str("component", "connection").Logger(),
		subscribers: make(map[int]chan InboundFrame),
		waiters:     make(map[protocol.FrameType][]chan InboundFrame),
	}
}

// SetReauthenticator registers a hook run after every successful dial,
// the initial Connect as well as each reconnect. The Hub Client Protocol
// layer wires this to its own re-authentication flow, which does nothing
// when no identity is loaded.
func (m *Manager) SetReauthenticator(fn func(context.Context) error) {
	m.onReauth = fn
}

// Subscribe registers a new inbound-frame subscriber and returns a
// channel plus an unsubscribe function. Each subscriber sees frames at
// most once, in transport-arrival order; a frame that arrives while a
// subscriber's buffer is full is dropped for that subscriber, with a
// warning log.
func (m *Manager) Subscribe(buffer int) (<-chan InboundFrame, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan InboundFrame, buffer)
	m.subscribers[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing)
		}
	}
}

// Connect dials the transport. If ephemeralReset is true and has not
// already run this process lifetime, the identity is wiped first.
func (m *Manager) Connect(ctx context.Context, url string, ephemeralReset bool) error {
	if ephemeralReset && !m.ephemeralDone && m.identity != nil {
		if err := m.identity.DeleteIdentity(ctx); err != nil {
			return &errs.TransportError{Op: "ephemeral_reset", Err: err}
		}
		m.ephemeralDone = true
	}

	m.mu.Lock()
	m.url = url
	m.manualDisconnect = false
	m.mu.Unlock()

	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return &errs.TransportError{Op: "connect", Err: err}
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.reconnectAttempt = 0
	m.lastPong = time.Now()
	m.mu.Unlock()

	m.logger.Info().Str("url", m.url).Msg("connected")
	m.notify(Event{Kind: EventConnected})

	hbCtx, cancel := context.WithCancel(context.Background())
	m.heartbeatCancel = cancel
	go m.heartbeatLoop(hbCtx)
	go m.readLoop()

	if m.onReauth != nil {
		go func() {
			if err := m.onReauth(context.Background()); err != nil {
				m.logger.Warn().Err(err).Msg("re-authentication after reconnect failed")
			}
		}()
	}

	return nil
}

// Disconnect marks the connection as manually closed, stops background
// timers, and cancels all pending request() waiters.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualDisconnect = true
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}

	m.cancelAllWaiters()
	m.notify(Event{Kind: EventDisconnected})
}

// Connected reports whether the transport is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Send serializes and hands frame to the transport. If not connected,
// the frame is dropped with a warning log and a *errs.TransportError is
// returned.
func (m *Manager) Send(frame interface{}) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.logger.Warn().Msg("dropped outbound frame: not connected")
		return &errs.TransportError{Op: "send", Err: fmt.Errorf("not connected")}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return &errs.ProtocolError{Reason: fmt.Sprintf("marshal outbound frame: %v", err)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return &errs.TransportError{Op: "send", Err: fmt.Errorf("not connected")}
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &errs.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Request sends a frame and waits for the first inbound frame whose
// type equals expectType. Other frame types in the meantime are still
// delivered to other subscribers. Returns (nil, nil) on timeout.
func (m *Manager) Request(ctx context.Context, frame interface{}, expectType protocol.FrameType, timeout time.Duration) (*InboundFrame, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}

	waiter := make(chan InboundFrame, 1)
	m.waitMu.Lock()
	m.waiters[expectType] = append(m.waiters[expectType], waiter)
	m.waitMu.Unlock()

	if err := m.Send(frame); err != nil {
		m.removeWaiter(expectType, waiter)
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case f, ok := <-waiter:
		if !ok {
			return nil, nil
		}
		return &f, nil
	case <-reqCtx.Done():
		m.removeWaiter(expectType, waiter)
		return nil, nil
	}
}

func (m *Manager) removeWaiter(t protocol.FrameType, ch chan InboundFrame) {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	list := m.waiters[t]
	for i, w := range list {
		if w == ch {
			m.waiters[t] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (m *Manager) cancelAllWaiters() {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	for t, list := range m.waiters {
		for _, w := range list {
			close(w)
		}
		delete(m.waiters, t)
	}
}

func (m *Manager) readLoop() {
	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(err)
			return
		}

		typ, err := protocol.PeekType(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("dropped malformed inbound frame")
			continue
		}

		if typ == protocol.TypePong {
			m.mu.Lock()
			m.lastPong = time.Now()
			m.mu.Unlock()
		}

		frame := InboundFrame{Type: typ, Raw: data}
		m.broadcast(frame)
		m.resolveWaiters(typ, frame)
	}
}

func (m *Manager) broadcast(frame InboundFrame) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- frame:
		default:
			m.logger.Warn().Str("type", string(frame.Type)).Msg("subscriber channel full, dropping frame")
		}
	}
}

func (m *Manager) resolveWaiters(typ protocol.FrameType, frame InboundFrame) {
	m.waitMu.Lock()
	list := m.waiters[typ]
	if len(list) == 0 {
		m.waitMu.Unlock()
		return
	}
	waiter := list[0]
	m.waiters[typ] = list[1:]
	m.waitMu.Unlock()

	select {
	case waiter <- frame:
	default:
	}
}

func (m *Manager) handleReadError(err error) {
	m.mu.Lock()
	manual := m.manualDisconnect
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	if m.heartbeatCancel != nil {
		m.heartbeatCancel()
	}
	m.cancelAllWaiters()
	m.notify(Event{Kind: EventDisconnected, Err: err})

	if manual {
		return
	}
	go m.reconnectLoop()
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Send(protocol.PingFrame{Type: protocol.TypePing}); err != nil {
				return
			}

			m.mu.Lock()
			last := m.lastPong
			m.mu.Unlock()

			if time.Since(last) > m.cfg.HeartbeatInterval+m.cfg.PongTimeout {
				m.logger.Warn().Msg("missed pong, treating as disconnect")
				m.mu.Lock()
				conn := m.conn
				m.conn = nil
				m.connected = false
				m.mu.Unlock()
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
		}
	}
}

func (m *Manager) reconnectLoop() {
	maxAttempts := m.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		m.mu.Lock()
		manual := m.manualDisconnect
		m.mu.Unlock()
		if manual {
			return
		}

		delay := m.delayForAttempt(attempt)
		m.notify(Event{Kind: EventReconnecting, Attempt: attempt})
		time.Sleep(delay)

		m.mu.Lock()
		manual = m.manualDisconnect
		m.mu.Unlock()
		if manual {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}

	m.notify(Event{Kind: EventReconnectFailed})
}

func (m *Manager) delayForAttempt(attempt int) time.Duration {
	delays := m.cfg.ReconnectDelays
	if len(delays) == 0 {
		return m.cfg.ReconnectMaxDelay
	}
	idx := attempt - 1
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	d := delays[idx]
	if m.cfg.ReconnectMaxDelay > 0 && d > m.cfg.ReconnectMaxDelay {
		d = m.cfg.ReconnectMaxDelay
	}
	return d
}

func (m *Manager) notify(ev Event) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}
