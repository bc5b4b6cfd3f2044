package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidleathers/evidence-vault/internal/domain/errors"
	"github.com/davidleathers/evidence-vault/internal/domain/pack"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
)

// WebSocketConfig holds progress stream settings
type WebSocketConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultWebSocketConfig returns default configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second, // must be less than PongTimeout
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// ProgressStream pushes pack generation progress over a websocket until the
// pack reaches a final state or the client leaves
type ProgressStream struct {
	handlers *Handlers
	config   WebSocketConfig
	upgrader websocket.Upgrader
}

func NewProgressStream(h *Handlers, config WebSocketConfig) *ProgressStream {
	return &ProgressStream{
		handlers: h,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

func (s *ProgressStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.handlers
	p, err := principalFrom(r.Context())
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	packID, err := pathUUID(r, "packID")
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	pk, err := h.packs.GetPack(r.Context(), p.TenantID, packID)
	if err != nil {
		h.base.writeError(w, r, err)
		return
	}
	if h.progress == nil {
		h.base.writeError(w, r, errors.NewUpstreamError("progress", "live progress is unavailable"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before reading the current state so no update is missed
	updates, err := h.progress.Subscribe(ctx, p.TenantID, packID)
	if err != nil {
		h.logger.WarnContext(ctx, "progress subscribe failed", "pack_id", packID.String(), "error", err)
		s.close(conn, websocket.CloseInternalServerErr, "progress unavailable")
		return
	}

	go s.readLoop(conn, cancel)

	current := h.currentProgress(ctx, p.TenantID, pk)
	if err := s.write(conn, current); err != nil {
		return
	}
	if isFinalProgress(current) {
		s.close(conn, websocket.CloseNormalClosure, current.Status)
		return
	}

	ticker := time.NewTicker(s.config.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				s.close(conn, websocket.CloseGoingAway, "subscription ended")
				return
			}
			if err := s.write(conn, update); err != nil {
				return
			}
			if isFinalProgress(update) {
				s.close(conn, websocket.CloseNormalClosure, update.Status)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed
func (s *ProgressStream) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(s.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *ProgressStream) write(conn *websocket.Conn, progress cache.Progress) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteJSON(progress)
}

func (s *ProgressStream) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout))
}

func isFinalProgress(p cache.Progress) bool {
	switch pack.Status(p.Status) {
	case pack.StatusCompleted, pack.StatusFailed, pack.StatusRevoked:
		return true
	}
	return false
}
