package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// ErrNotConnected is returned by Send when the connection is not open.
var ErrNotConnected = errors.New("not connected")

// ErrSendBufferFull is returned when the outbound queue cannot accept a frame.
var ErrSendBufferFull = errors.New("send buffer full")

// State is the connection lifecycle state. There is exactly one connection per
// session and this manager owns it exclusively.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateErroring
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateErroring:
		return "erroring"
	default:
		return "unknown"
	}
}

// Backoff controls automatic reconnection after a transport failure. After
// MaxRetries failed attempts the manager stays in StateErroring and waits for
// a manual Open.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

type MessageHandler func(models.Message)
type StateHandler func(State)

// Manager owns the single persistent websocket connection, addressed by the
// identity's username. Inbound frames are decoded and delivered to message
// handlers in network-arrival order; no reordering or deduplication happens
// here.
type Manager struct {
	baseURL string
	dialer  *websocket.Dialer
	backoff Backoff
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped by Open, Close, and transport failure
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	identity models.Identity

	handlerMu     sync.RWMutex
	msgHandlers   []MessageHandler
	stateHandlers []StateHandler
}

func NewManager(baseURL string, dialTimeout time.Duration, backoff Backoff) *Manager {
	return &Manager{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		backoff: backoff,
		logger:  log.With().Str("component", "connection").Logger(),
	}
}

// OnMessage registers a handler invoked once per inbound frame.
func (m *Manager) OnMessage(h MessageHandler) {
	m.handlerMu.Lock()
	m.msgHandlers = append(m.msgHandlers, h)
	m.handlerMu.Unlock()
}

// OnStateChange registers a handler invoked on every state transition, so the
// presentation layer can show connection status and prompt a manual retry
// once automatic reconnection gives up.
func (m *Manager) OnStateChange(h StateHandler) {
	m.handlerMu.Lock()
	m.stateHandlers = append(m.stateHandlers, h)
	m.handlerMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open establishes the connection for the given identity. Any existing
// connection is torn down first. On transport failure the manager transitions
// to StateErroring and the error is returned; a later Open retries from
// scratch. If Close or another Open supersedes this attempt while the
// handshake is in flight, the dialed connection is discarded and the later
// call's state stands.
func (m *Manager) Open(ctx context.Context, identity models.Identity) error {
	m.mu.Lock()
	m.teardownLocked()
	m.identity = identity
	m.gen++
	gen := m.gen
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, _, err := m.dialer.DialContext(ctx, m.endpoint(identity.Username), nil)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		m.logger.Debug().Str("username", identity.Username).Msg("discarding superseded dial")
		return err
	}
	if err != nil {
		notify = m.setStateLocked(StateErroring)
		m.mu.Unlock()
		notify()
		m.logger.Error().Err(err).Str("username", identity.Username).Msg("dial failed")
		return err
	}
	notify = m.installLocked(conn)
	m.mu.Unlock()
	notify()
	m.logger.Info().Str("username", identity.Username).Msg("connected")
	return nil
}

// Send serializes the message as a flat wire record and queues it for
// transmission. It fails with ErrNotConnected unless the state is Open and
// has no side effect in that case. The optimistic local append is the
// caller's responsibility.
func (m *Manager) Send(msg models.Message) error {
	frame := struct {
		SenderID    int64  `json:"sender_id"`
		RecipientID int64  `json:"recipient_id"`
		Content     string `json:"content"`
	}{msg.SenderID, msg.RecipientID, msg.Content}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrNotConnected
	}
	select {
	case m.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the transport and transitions to Closed regardless of the
// prior state, invalidating any dial still in flight. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	notify := m.setStateLocked(StateClosed)
	m.mu.Unlock()
	notify()
}

func (m *Manager) endpoint(username string) string {
	return m.baseURL + "/ws/" + username
}

// installLocked adopts a freshly dialed connection and starts its pumps.
func (m *Manager) installLocked(conn *websocket.Conn) func() {
	m.conn = conn
	m.send = make(chan []byte, 256)
	m.done = make(chan struct{})
	notify := m.setStateLocked(StateOpen)
	go m.readPump(conn, m.done)
	go m.writePump(conn, m.send, m.done)
	return notify
}

// teardownLocked stops the pumps and closes the transport without changing
// state; callers decide the resulting state.
func (m *Manager) teardownLocked() {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.conn != nil {
		m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.conn.Close()
		m.conn = nil
	}
	m.send = nil
}

// setStateLocked records the transition and returns the handler invocation
// for the caller to run after releasing m.mu, so handlers may call back into
// the manager without deadlocking.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	m.handlerMu.RLock()
	handlers := make([]StateHandler, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.handlerMu.RUnlock()
	return func() {
		for _, h := range handlers {
			h(s)
		}
	}
}

func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate teardown, not a transport failure.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					m.logger.Error().Err(err).Msg("read error")
				}
				m.handleFailure(conn)
			}
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}

		// Delivery order equals arrival order: handlers run inline, one
		// frame at a time.
		m.handlerMu.RLock()
		handlers := make([]MessageHandler, len(m.msgHandlers))
		copy(handlers, m.msgHandlers)
		m.handlerMu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Error().Err(err).Msg("write error")
				m.handleFailure(conn)
				return
			}
		}
	}
}

// handleFailure moves an open connection into Erroring and kicks off the
// reconnect loop, unless the failed connection has already been replaced.
func (m *Manager) handleFailure(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.gen++
	gen := m.gen
	notify := m.setStateLocked(StateErroring)
	identity := m.identity
	m.mu.Unlock()
	notify()

	go m.reconnect(identity, gen)
}

// reconnect retries with exponential backoff up to the configured cap. Once
// retries are exhausted the state stays Erroring until an explicit Open or
// Close. An Open or Close issued meanwhile bumps the generation and ends the
// loop; a dial resolving after that is discarded.
func (m *Manager) reconnect(identity models.Identity, gen uint64) {
	delay := m.backoff.Base
	for attempt := 1; attempt <= m.backoff.MaxRetries; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > m.backoff.Cap {
			delay = m.backoff.Cap
		}

		m.mu.Lock()
		if m.gen != gen || m.state != StateErroring {
			// Closed or re-opened while we were waiting.
			m.mu.Unlock()
			return
		}
		notify := m.setStateLocked(StateConnecting)
		m.mu.Unlock()
		notify()

		m.logger.Info().Int("attempt", attempt).Str("username", identity.Username).Msg("reconnecting")
		conn, _, err := m.dialer.Dial(m.endpoint(identity.Username), nil)

		m.mu.Lock()
		if m.gen != gen || m.state != StateConnecting {
			m.mu.Unlock()
			if err == nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			notify = m.setStateLocked(StateErroring)
			m.mu.Unlock()
			notify()
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		notify = m.installLocked(conn)
		m.mu.Unlock()
		notify()
		m.logger.Info().Int("attempt", attempt).Msg("reconnected")
		return
	}
	m.logger.Error().Int("retries", m.backoff.MaxRetries).Msg("reconnect retries exhausted, manual retry required")
}
