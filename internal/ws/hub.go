package ws

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentstream/realtime/internal/metrics"
	"github.com/agentstream/realtime/internal/model"
)

// EventRecorder persists session lifecycle events for the audit trail.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *model.ConnectionEvent) error
}

// HubConfig controls registry and liveness behavior.
type HubConfig struct {
	// QueueSize is the per-session outbound queue capacity.
	QueueSize int

	// SweepInterval is how often the liveness sweep runs.
	SweepInterval time.Duration

	// PingAfter is the silence threshold after which the sweep pings a session.
	PingAfter time.Duration

	// IdleTimeout is the silence threshold after which the sweep evicts a
	// session. Must be longer than PingAfter.
	IdleTimeout time.Duration
}

func (c *HubConfig) applyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.PingAfter == 0 {
		c.PingAfter = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// subscriptionRequest mutates a session's topic set inside the control loop.
// Only the session's own reader issues these.
type subscriptionRequest struct {
	session *Session
	topic   string
	add     bool
}

// Hub is the single authority over the set of live sessions. Register,
// unregister, broadcast, and subscription requests are serialized through one
// control loop, so the registry is never touched concurrently and needs no
// lock.
type Hub struct {
	cfg     HubConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   EventRecorder

	register      chan *Session
	unregister    chan *Session
	broadcast     chan Message
	subscriptions chan subscriptionRequest
	snapshots     chan chan []*Session

	// sessions is the registry, owned exclusively by the control loop.
	sessions map[string]*Session

	running atomic.Bool
	done    chan struct{}
}

// NewHub creates a Hub. The audit recorder may be nil.
func NewHub(cfg HubConfig, logger *zap.Logger, m *metrics.Metrics, audit EventRecorder) *Hub {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		cfg:           cfg,
		logger:        logger.Named("hub"),
		metrics:       m,
		audit:         audit,
		register:      make(chan *Session),
		unregister:    make(chan *Session),
		broadcast:     make(chan Message, 64),
		subscriptions: make(chan subscriptionRequest),
		snapshots:     make(chan chan []*Session),
		sessions:      make(map[string]*Session),
		done:          make(chan struct{}),
	}
}

// Run drives the control loop until ctx is cancelled. It owns the registry;
// no other goroutine reads or writes h.sessions.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)
	defer close(h.done)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go h.sweep(sweepCtx)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case s := <-h.register:
			h.sessions[s.id] = s
			if h.metrics != nil {
				h.metrics.SessionRegistered()
			}
			h.logger.Info("session registered",
				zap.String("session_id", s.id),
				zap.String("client_id", s.clientID),
				zap.Int("total", len(h.sessions)),
			)
			h.record(s, model.EventConnected, "")

		case s := <-h.unregister:
			if _, ok := h.sessions[s.id]; !ok {
				// Already removed; unregister is idempotent.
				continue
			}
			delete(h.sessions, s.id)
			s.closeOutbound()
			if h.metrics != nil {
				h.metrics.SessionUnregistered()
			}
			h.logger.Info("session unregistered",
				zap.String("session_id", s.id),
				zap.String("client_id", s.clientID),
				zap.Int("total", len(h.sessions)),
			)
			if s.evicted.Load() {
				h.record(s, model.EventEvicted, "liveness timeout")
			} else {
				h.record(s, model.EventDisconnected, "")
			}

		case req := <-h.subscriptions:
			if req.add {
				req.session.topics[req.topic] = struct{}{}
			} else {
				delete(req.session.topics, req.topic)
			}
			req.session.logger.Debug("subscription changed",
				zap.String("topic", req.topic),
				zap.Bool("subscribed", req.add),
			)

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case reply := <-h.snapshots:
			out := make([]*Session, 0, len(h.sessions))
			for _, s := range h.sessions {
				out = append(out, s)
			}
			reply <- out
		}
	}
}

// shutdown closes every live session when the control loop stops.
func (h *Hub) shutdown() {
	for id, s := range h.sessions {
		delete(h.sessions, id)
		s.closeOutbound()
		if s.conn != nil {
			s.conn.Close()
		}
	}
	h.logger.Info("hub stopped")
}

// fanOut delivers a message to every subscribed session. Delivery is a
// non-blocking enqueue: one slow consumer never delays the others.
func (h *Hub) fanOut(msg Message) {
	if h.metrics != nil {
		h.metrics.MessageBroadcast()
	}

	for _, s := range h.sessions {
		if !h.wants(s, msg) {
			continue
		}

		switch err := s.send(msg); err {
		case nil:
			if h.metrics != nil {
				h.metrics.MessageDelivered()
			}
		case ErrQueueFull:
			if h.metrics != nil {
				h.metrics.MessageDropped()
			}
			s.logger.Warn("outbound queue full, dropping message",
				zap.String("type", string(msg.Type)),
				zap.String("topic", msg.Topic),
			)
		case ErrSessionClosed:
			// Unregister already in flight for this session.
		}
	}
}

// wants reports whether a session should receive the message. An untargeted
// message goes to everyone; a session with zero subscriptions is treated as
// subscribed to everything, which preserves simple fire-hose consumers.
func (h *Hub) wants(s *Session, msg Message) bool {
	if msg.Topic == "" || len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[msg.Topic]
	return ok
}

// sweep pings quiet sessions and evicts dead ones. It never touches the
// registry directly: eviction goes through the same serialized unregister
// request as any other teardown.
func (h *Hub) sweep(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range h.snapshot() {
				idle := s.idleFor()

				if idle > h.cfg.IdleTimeout {
					s.evicted.Store(true)
					if h.metrics != nil {
						h.metrics.SessionEvicted()
					}
					s.logger.Warn("evicting silent session", zap.Duration("idle", idle))
					s.teardown("liveness timeout")
					continue
				}

				if idle > h.cfg.PingAfter {
					if err := s.ping(); err != nil {
						s.logger.Warn("ping failed", zap.Error(err))
						s.teardown("ping failed")
					}
				}
			}
		}
	}
}

// snapshot returns a loop-consistent copy of the live sessions.
func (h *Hub) snapshot() []*Session {
	if !h.running.Load() {
		return nil
	}
	reply := make(chan []*Session, 1)
	select {
	case h.snapshots <- reply:
		return <-reply
	case <-h.done:
		return nil
	}
}

// Running reports whether the control loop is active. The health endpoint
// keys off this.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// SessionCount returns the current registry size.
func (h *Hub) SessionCount() int {
	return len(h.snapshot())
}

// Register adds a session to the registry. Called by the admission handler
// after a successful upgrade.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.done:
	}
}

// Unregister removes a session from the registry. Safe to call more than
// once; removal of an absent session is a no-op.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish fans a message out to subscribed sessions.
func (h *Hub) Publish(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// subscribe adds a topic to the session's set via the control loop.
func (h *Hub) subscribe(s *Session, topic string) {
	select {
	case h.subscriptions <- subscriptionRequest{session: s, topic: topic, add: true}:
	case <-h.done:
	}
}

// unsubscribe removes a topic from the session's set via the control loop.
func (h *Hub) unsubscribe(s *Session, topic string) {
	select {
	case h.subscriptions <- subscriptionRequest{session: s, topic: topic, add: false}:
	case <-h.done:
	}
}

// PublishAgentStatus broadcasts an agent status update, scoped to the agent's
// topic. Producers use this instead of hand-building envelopes.
func (h *Hub) PublishAgentStatus(agentID, status, details string) error {
	msg, err := NewAgentStatusMessage(agentID, status, details)
	if err != nil {
		return err
	}
	h.Publish(msg)
	return nil
}

// PublishTransactionUpdate broadcasts a transaction update, scoped to the
// transaction's topic.
func (h *Hub) PublishTransactionUpdate(txID, status, amount, blockchain, fromAddr, toAddr string) error {
	msg, err := NewTransactionMessage(txID, status, amount, blockchain, fromAddr, toAddr)
	if err != nil {
		return err
	}
	h.Publish(msg)
	return nil
}

// record writes an audit event without blocking the control loop.
func (h *Hub) record(s *Session, typ model.ConnectionEventType, detail string) {
	if h.audit == nil {
		return
	}

	event := &model.ConnectionEvent{
		SessionID:  s.id,
		ClientID:   s.clientID,
		Type:       typ,
		RemoteAddr: s.remoteAddr,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}

	go func() {
		if err := h.audit.RecordEvent(context.Background(), event); err != nil {
			h.logger.Warn("audit event not recorded", zap.Error(err))
		}
	}()
}
