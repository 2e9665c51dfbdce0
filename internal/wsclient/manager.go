package wsclient

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentstream/realtime/internal/ws"
)

// ErrManagerClosed is returned for operations on a manager after Close.
var ErrManagerClosed = errors.New("manager closed")

// Callbacks are invoked on connection lifecycle events. All fields are
// optional. OnMessage receives the decoded envelope when the frame parses;
// for frames outside the known vocabulary msg is the zero Message and raw
// carries the frame untouched.
type Callbacks struct {
	OnMessage func(msg ws.Message, raw []byte)
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
}

// Manager owns the single logical connection. At most one physical socket is
// live at a time; a failed socket is replaced with linearly capped backoff.
// All connection state and the pending queue sit behind one mutex so a Send
// racing a reconnect flush cannot corrupt ordering.
type Manager struct {
	cfg    Config
	cb     Callbacks
	logger *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	closed     bool
	attempt    int

	// epoch is bumped on every open, disconnect, and Close. Timers and loops
	// capture the epoch they were started under and become no-ops once it is
	// stale.
	epoch int

	pending        *pendingQueue
	subs           map[string]struct{}
	reconnectTimer *time.Timer
	connStop       chan struct{}
}

// New creates a reconnect manager. It does not connect; call Connect.
func New(cfg Config, cb Callbacks, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:     cfg,
		cb:      cb,
		logger:  logger.Named("wsclient"),
		pending: newPendingQueue(cfg.QueueLimit),
		subs:    make(map[string]struct{}),
	}
}

// Connect opens the connection. While a connection is open or an attempt is
// in flight, Connect is a no-op: the existing logical connection stands.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.logger.Debug("connect ignored, already open")
		m.mu.Unlock()
		return nil
	}
	if m.connecting {
		m.logger.Debug("connect ignored, attempt in flight")
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	m.attempt = 0
	m.connecting = true
	epoch := m.epoch
	m.mu.Unlock()

	return m.dial(ctx, epoch)
}

// IsConnected reports whether a physical socket is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// PendingCount returns the number of frames waiting for reconnection.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.len()
}

// Send writes the message immediately when connected, otherwise serializes
// and queues it. priority queues the message at the front so it jumps ahead
// of bulk traffic on the next flush.
func (m *Manager) Send(msg ws.Message, priority bool) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if m.conn != nil {
		if werr := m.writeLocked(data); werr != nil {
			// Transport failure: keep the message and drive the close path.
			m.pending.push(data, priority)
			epoch := m.epoch
			m.mu.Unlock()
			m.handleDisconnect(epoch, werr)
			return nil
		}
		m.mu.Unlock()
		return nil
	}

	if m.pending.push(data, priority) {
		m.logger.Warn("pending queue full, dropped oldest message")
	}
	m.mu.Unlock()
	return nil
}

// Subscribe registers interest in a topic. The subscription is asserted now
// when connected and re-asserted after every reconnect.
func (m *Manager) Subscribe(topic string) error {
	return m.setSubscription(topic, true)
}

// Unsubscribe withdraws interest in a topic.
func (m *Manager) Unsubscribe(topic string) error {
	return m.setSubscription(topic, false)
}

func (m *Manager) setSubscription(topic string, add bool) error {
	var msg ws.Message
	if add {
		msg = ws.NewSubscribeMessage(topic)
	} else {
		msg = ws.NewUnsubscribeMessage(topic)
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if add {
		m.subs[topic] = struct{}{}
	} else {
		delete(m.subs, topic)
	}

	if m.conn == nil {
		// Asserted during the next open, ahead of the queued backlog.
		m.mu.Unlock()
		return nil
	}

	if werr := m.writeLocked(data); werr != nil {
		epoch := m.epoch
		m.mu.Unlock()
		m.handleDisconnect(epoch, werr)
		return nil
	}
	m.mu.Unlock()
	return nil
}

// Close tears the manager down: both timers are cancelled, the socket is
// closed, and all state is cleared. Safe to call from any state; a later
// Connect starts fresh.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.connStop != nil {
		close(m.connStop)
		m.connStop = nil
	}

	var err error
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = m.conn.Close()
		m.conn = nil
	}

	m.connecting = false
	m.attempt = 0
	m.pending = newPendingQueue(m.cfg.QueueLimit)
	m.subs = make(map[string]struct{})
	m.mu.Unlock()

	m.logger.Info("manager closed")
	return err
}

// endpoint builds the dial URL with the admission query parameters.
func (m *Manager) endpoint() (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if m.cfg.ClientID != "" {
		q.Set("client_id", m.cfg.ClientID)
	}
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial opens a physical socket for the given epoch. On success it re-asserts
// subscriptions, flushes the pending queue in order, and starts the read and
// heartbeat loops; on failure it feeds the standard retry path.
func (m *Manager) dial(ctx context.Context, epoch int) error {
	endpoint, err := m.endpoint()
	if err != nil {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)

	m.mu.Lock()
	m.connecting = false

	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		m.mu.Unlock()
		m.handleDisconnect(epoch, err)
		return err
	}

	m.conn = conn
	m.epoch++
	openEpoch := m.epoch
	m.attempt = 0
	m.connStop = make(chan struct{})
	stop := m.connStop

	// Subscriptions go out first so filtering is restored before any backlog.
	var flushErr error
	for topic := range m.subs {
		data, encErr := ws.NewSubscribeMessage(topic).Encode()
		if encErr != nil {
			continue
		}
		if werr := m.writeLocked(data); werr != nil {
			flushErr = werr
			break
		}
	}

	if flushErr == nil {
		frames := m.pending.drain()
		for i, data := range frames {
			if werr := m.writeLocked(data); werr != nil {
				flushErr = werr
				for _, rest := range frames[i:] {
					m.pending.push(rest, false)
				}
				break
			}
		}
	}

	if flushErr != nil {
		m.mu.Unlock()
		m.handleDisconnect(openEpoch, flushErr)
		return flushErr
	}

	m.logger.Info("connected", zap.String("url", m.cfg.URL))
	m.mu.Unlock()

	go m.readLoop(conn, openEpoch)
	go m.heartbeatLoop(openEpoch, stop)

	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}
	return nil
}

// writeLocked writes one frame. Caller holds m.mu with m.conn non-nil.
func (m *Manager) writeLocked(data []byte) error {
	m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes frames until the socket fails, then drives the
// disconnect path. Decode failures are logged and the raw frame passed
// through; they are never fatal.
func (m *Manager) readLoop(conn *websocket.Conn, epoch int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(epoch, err)
			return
		}

		msg, derr := ws.DecodeMessage(data)
		if derr != nil {
			m.logger.Debug("frame outside known vocabulary, passing raw", zap.Error(derr))
			if m.cb.OnMessage != nil {
				m.cb.OnMessage(ws.Message{}, data)
			}
			continue
		}

		if msg.Type == ws.MessageTypePong {
			// Heartbeat reply; not application traffic.
			continue
		}

		if m.cb.OnMessage != nil {
			m.cb.OnMessage(msg, data)
		}
	}
}

// heartbeatLoop periodically sends application-level pings while the
// connection it was started for is open. A failed send stops the loop; the
// read loop's disconnect handling drives reconnection.
func (m *Manager) heartbeatLoop(epoch int, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.closed || epoch != m.epoch || m.conn == nil {
				m.mu.Unlock()
				return
			}
			data, err := ws.NewPingMessage().Encode()
			if err == nil {
				err = m.writeLocked(data)
			}
			m.mu.Unlock()

			if err != nil {
				m.logger.Warn("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// handleDisconnect processes the end of one physical connection exactly once
// per epoch: stale callers (old timers, both loops reporting the same
// failure) are no-ops. It schedules the next attempt with linearly capped
// backoff, or gives up after the configured maximum and invokes OnClose.
func (m *Manager) handleDisconnect(epoch int, cause error) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.connecting = false

	if m.connStop != nil {
		close(m.connStop)
		m.connStop = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	m.attempt++
	retry := m.cfg.AutoReconnect && m.attempt <= m.cfg.MaxReconnectAttempts

	if retry {
		delay := reconnectDelay(m.cfg.ReconnectInterval, m.attempt)
		nextEpoch := m.epoch
		m.logger.Info("scheduling reconnect",
			zap.Int("attempt", m.attempt),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		m.reconnectTimer = time.AfterFunc(delay, func() {
			m.retry(nextEpoch)
		})
	} else {
		m.logger.Warn("not reconnecting",
			zap.Int("attempts", m.attempt-1),
			zap.Bool("auto_reconnect", m.cfg.AutoReconnect),
			zap.Error(cause),
		)
	}
	m.mu.Unlock()

	if cause != nil && m.cb.OnError != nil {
		m.cb.OnError(cause)
	}
	if !retry && m.cb.OnClose != nil {
		m.cb.OnClose()
	}
}

// retry runs when the reconnect timer fires. The epoch check makes a timer
// that outlived a Close or a competing connection a guaranteed no-op.
func (m *Manager) retry(epoch int) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch || m.conn != nil || m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.mu.Unlock()

	m.dial(context.Background(), epoch)
}
