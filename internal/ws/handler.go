package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentstream/realtime/internal/auth"
	"github.com/agentstream/realtime/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the dashboard domains are final
		return true
	},
}

// Handler admits inbound connection requests and hands admitted connections
// to the hub. Admission requires a client identifier and a token that passes
// the external validity check; everything else is rejected before a session
// exists.
type Handler struct {
	hub       *Hub
	validator auth.TokenValidator
	onMessage MessageHandler
	logger    *zap.Logger
}

// NewHandler creates a connection handler. onMessage receives application
// messages the session does not handle itself; it may be nil.
func NewHandler(hub *Hub, validator auth.TokenValidator, onMessage MessageHandler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:       hub,
		validator: validator,
		onMessage: onMessage,
		logger:    logger.Named("ws-handler"),
	}
}

// HandleConnection upgrades an inbound request into a registered session.
// The request must carry client_id and token query parameters.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	clientID := r.URL.Query().Get("client_id")
	token := r.URL.Query().Get("token")

	if clientID == "" {
		h.reject(w, r, http.StatusBadRequest, "client_id is required")
		return model.ErrMissingClientID
	}

	if err := h.validator.Validate(r.Context(), token); err != nil {
		h.reject(w, r, http.StatusUnauthorized, "invalid token")
		return model.ErrUnauthorized
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		return err
	}

	session := NewSession(h.hub, conn, clientID, r.RemoteAddr, h.hub.cfg.QueueSize)
	h.hub.Register(session)

	go session.writePump()
	go session.readPump(h.onMessage)

	return nil
}

// reject refuses admission before any session state exists.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, status int, reason string) {
	if h.hub.metrics != nil {
		h.hub.metrics.AdmissionRejected()
	}
	h.logger.Warn("admission rejected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("reason", reason),
	)

	if h.hub.audit != nil {
		event := &model.ConnectionEvent{
			ClientID:   r.URL.Query().Get("client_id"),
			Type:       model.EventRejected,
			RemoteAddr: r.RemoteAddr,
			Detail:     reason,
			CreatedAt:  time.Now().UTC(),
		}
		go func() {
			// The request context dies with the response; the audit write
			// must outlive it.
			if err := h.hub.audit.RecordEvent(context.Background(), event); err != nil {
				h.logger.Warn("audit event not recorded", zap.Error(err))
			}
		}()
	}

	http.Error(w, reason, status)
}
