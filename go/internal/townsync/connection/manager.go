// Package connection manages the lifecycle of the push channel: opening it,
// reconnecting with exponential backoff, and tearing it down.
package connection

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/models"
)

// StatusListener is notified after every observable status change. Listeners
// are called one at a time and never see an older status after a newer one.
// They must not call back into Close or ReconnectNow synchronously.
type StatusListener func(models.ConnectionStatus)

// Manager owns the push channel and its reconnect state machine:
//
//	connecting -> connected -> reconnecting -> connecting -> ...
//
// and disconnected, which is terminal and only reached through Close.
type Manager struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock

	mu       sync.Mutex
	state    models.ConnectionState
	attempts int
	nextIn   *int
	conn     Conn
	connID   string
	dialing  bool
	started  bool
	closed   bool

	// gen identifies the current channel. Callbacks carrying an older
	// generation belong to a channel that has already been replaced.
	gen uint64

	retryTimer    clockwork.Timer
	countdownStop chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	messages chan []byte

	// seq stamps each status read under mu; delivered is the newest stamp
	// handed to listeners and is guarded by notifyMu.
	seq       uint64
	notifyMu  sync.Mutex
	delivered uint64

	listenersMu sync.Mutex
	listeners   []StatusListener
}

// NewManager creates a connection manager. Nothing is dialed until Start.
func NewManager(cfg Config, dialer Dialer, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = DefaultConfig().MessageBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		clock:    clock,
		state:    models.ConnectionStateConnecting,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan []byte, cfg.MessageBuffer),
	}
}

// Messages delivers inbound frames in arrival order.
func (m *Manager) Messages() <-chan []byte {
	return m.messages
}

// OnStatusChange registers a listener for status changes.
func (m *Manager) OnStatusChange(fn StatusListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns a read-only projection of the manager state.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() models.ConnectionStatus {
	s := models.ConnectionStatus{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		Connected:         m.state == models.ConnectionStateConnected,
	}
	if m.nextIn != nil {
		v := *m.nextIn
		s.NextReconnectInSeconds = &v
	}
	return s
}

// Start opens the channel. Cancelling ctx tears the manager down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.openLocked()
	m.mu.Unlock()
	m.notify()

	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.ctx.Done():
		}
	}()
}

// ReconnectNow resets the attempt counter, cancels any pending backoff and
// opens a fresh channel immediately.
func (m *Manager) ReconnectNow() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.attempts = 0
	m.stopRetryLocked()
	if m.conn != nil {
		log.Info().Str("connection_id", m.connID).Msg("manual reconnect requested, replacing channel")
		_ = m.conn.Close()
		m.conn = nil
	}
	m.openLocked()
	m.mu.Unlock()
	m.notify()
}

// SendMessage writes payload as JSON. It returns false when the channel is not
// open or the write fails. Payloads of type []byte or json.RawMessage are sent
// verbatim.
func (m *Manager) SendMessage(payload any) bool {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal outbound message")
			return false
		}
		data = encoded
	}

	m.mu.Lock()
	conn := m.conn
	connID := m.connID
	open := conn != nil && m.state == models.ConnectionStateConnected
	m.mu.Unlock()
	if !open {
		return false
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to write to channel, closing")
		// The read loop observes the close and schedules the reconnect.
		_ = conn.Close()
		return false
	}
	return true
}

// Close tears the manager down: timers are cancelled, the channel is closed
// and no further reconnect happens.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	m.stopRetryLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.dialing = false
	m.state = models.ConnectionStateDisconnected
	m.cancel()
	m.mu.Unlock()

	log.Info().Msg("connection manager stopped")
	m.notify()
}

// openLocked starts a dial unless one is in flight or a channel is open.
func (m *Manager) openLocked() {
	if m.closed || m.dialing || m.conn != nil {
		return
	}
	m.stopRetryLocked()
	m.gen++
	m.dialing = true
	m.state = models.ConnectionStateConnecting
	go m.dial(m.gen)
}

func (m *Manager) dial(gen uint64) {
	connID := uuid.New().String()
	ctx := m.ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := m.dialer.Dial(ctx, BuildURL(m.cfg.URL, m.cfg.Token))

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.dialing = false
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", connID).
			Int("attempt", m.attempts+1).
			Msg("failed to open channel")
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.notify()
		return
	}

	m.conn = conn
	m.connID = connID
	m.attempts = 0
	m.nextIn = nil
	m.state = models.ConnectionStateConnected
	m.mu.Unlock()

	log.Info().Str("connection_id", connID).Str("url", m.cfg.URL).Msg("channel connected")
	m.notify()

	go m.readLoop(gen, conn, connID)
}

func (m *Manager) readLoop(gen uint64, conn Conn, connID string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, connID, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		select {
		case m.messages <- data:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.gen
}

// handleClose moves an unexpectedly closed channel into reconnecting.
func (m *Manager) handleClose(gen uint64, connID string, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	log.Warn().Err(err).Str("connection_id", connID).Msg("channel closed unexpectedly")
	m.scheduleReconnectLocked()
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) scheduleReconnectLocked() {
	m.stopRetryLocked()

	delay := BackoffDelay(m.attempts, m.cfg)
	m.attempts++
	m.state = models.ConnectionStateReconnecting
	secs := int(math.Ceil(delay.Seconds()))
	m.nextIn = &secs

	gen := m.gen
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(gen) })
	m.startCountdownLocked()

	log.Info().
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.state != models.ConnectionStateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.openLocked()
	m.mu.Unlock()
	m.notify()
}

// stopRetryLocked cancels the backoff timer and the countdown.
func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.countdownStop != nil {
		close(m.countdownStop)
		m.countdownStop = nil
	}
	m.nextIn = nil
}

// startCountdownLocked ticks nextIn down once per second. The countdown is
// purely informational; the retry timer alone decides when to reconnect.
func (m *Manager) startCountdownLocked() {
	stop := make(chan struct{})
	m.countdownStop = stop
	ticker := m.clock.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				m.mu.Lock()
				if m.countdownStop != stop {
					m.mu.Unlock()
					return
				}
				if m.nextIn != nil && *m.nextIn > 0 {
					v := *m.nextIn - 1
					m.nextIn = &v
				}
				m.mu.Unlock()
				m.notify()
			}
		}
	}()
}

// notify delivers the current status. Callers race for notifyMu from several
// goroutines, so a status overtaken by a newer delivery is dropped.
func (m *Manager) notify() {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	status := m.statusLocked()
	m.mu.Unlock()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if seq <= m.delivered {
		return
	}
	m.delivered = seq

	m.listenersMu.Lock()
	listeners := append([]StatusListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l(status)
	}
}
