package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 65536
)

var (
	// ErrSessionClosed is returned when enqueueing to a session whose outbound
	// queue has been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when a session's outbound queue is at capacity.
	// The newest message is dropped; the session stays alive.
	ErrQueueFull = errors.New("outbound queue full")
)

// MessageHandler receives application messages that are not handled by the
// session itself (anything other than subscribe/unsubscribe/ping), keyed by
// the client identifier supplied at admission.
type MessageHandler func(clientID string, msg Message)

// Session owns one physical connection end to end. Its reader consumes
// inbound control frames; its writer drains the outbound queue to the socket.
// The topic set is mutated only inside the hub's control loop, on requests
// issued by this session's reader.
type Session struct {
	id         string
	clientID   string
	remoteAddr string

	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	outbound chan Message

	// topics is owned by the hub control loop; see Hub.subscribe.
	topics map[string]struct{}

	lastActive atomic.Int64 // unix nanos of the last received frame
	evicted    atomic.Bool

	mu     sync.Mutex
	closed bool

	teardownOnce sync.Once
}

// NewSession creates a session for an admitted connection.
func NewSession(hub *Hub, conn *websocket.Conn, clientID, remoteAddr string, queueSize int) *Session {
	s := &Session{
		id:         uuid.NewString(),
		clientID:   clientID,
		remoteAddr: remoteAddr,
		hub:        hub,
		conn:       conn,
		outbound:   make(chan Message, queueSize),
		topics:     make(map[string]struct{}),
	}
	s.logger = hub.logger.With(
		zap.String("session_id", s.id),
		zap.String("client_id", clientID),
	)
	s.touch()
	return s
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the caller-supplied client identifier. It is used for
// logging and the audit trail only, not as a security boundary.
func (s *Session) ClientID() string {
	return s.clientID
}

// touch records frame activity for the liveness sweep.
func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// idleFor reports how long the session has been silent.
func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// send enqueues a message without blocking. A full queue drops the newest
// message so a slow consumer never stalls the hub's broadcast loop.
func (s *Session) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.outbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// closeOutbound signals the writer to stop. Called only by the hub control
// loop when the session is unregistered.
func (s *Session) closeOutbound() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}

// teardown closes the socket and requests removal from the registry. It is
// idempotent and always routes removal through the hub's control loop, even
// when the hub itself initiated the close.
func (s *Session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.logger.Info("session closing", zap.String("reason", reason))
		if s.conn != nil {
			s.conn.Close()
		}
		s.hub.Unregister(s)
	})
}

// readPump consumes frames from the socket until it fails. Every received
// frame, including pong control frames, counts as liveness.
func (s *Session) readPump(handler MessageHandler) {
	defer s.teardown("read loop ended")

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		s.touch()

		msg, err := DecodeMessage(data)
		if err != nil {
			// Forward compatibility: a single bad frame is dropped, the
			// session stays alive.
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			if topic := msg.SubscriptionTopic(); topic != "" {
				s.hub.subscribe(s, topic)
			}
		case MessageTypeUnsubscribe:
			if topic := msg.SubscriptionTopic(); topic != "" {
				s.hub.unsubscribe(s, topic)
			}
		case MessageTypePing:
			if err := s.send(NewPongMessage()); err != nil {
				s.logger.Warn("pong not sent", zap.Error(err))
			}
		default:
			if handler != nil {
				handler(s.clientID, msg)
			}
		}
	}
}

// writePump drains the outbound queue to the socket in FIFO order. It exits
// when the queue is closed by the hub or a write fails.
func (s *Session) writePump() {
	defer s.teardown("write loop ended")

	for msg := range s.outbound {
		data, err := msg.Encode()
		if err != nil {
			s.logger.Error("encode outbound message", zap.Error(err))
			continue
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn("write failed", zap.Error(err))
			return
		}
	}

	// Queue closed by the hub: tell the peer we are done.
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// ping sends a protocol-level ping control frame. Safe to call concurrently
// with the write pump.
func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
