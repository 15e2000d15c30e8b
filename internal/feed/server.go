package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Handler serves a feed over websocket, in the format Client reads. Every
// client gets its own Source.
type Handler struct {
	open     func() (Source, error)
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler returns a handler that streams the updates of a fresh Source,
// obtained from open, to each client.
func NewHandler(open func() (Source, error), logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		open: open,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	src, err := h.open()
	if err != nil {
		h.logger.Error("opening feed source", zap.Error(err))
		h.closeWith(conn, websocket.CloseInternalServerErr, "source unavailable")
		return
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is required to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		update, err := src.Next(ctx)
		if errors.Is(err, ErrMalformedUpdate) {
			h.logger.Warn("skipping malformed update", zap.Error(err))
			continue
		}
		if errors.Is(err, ErrClosed) {
			h.closeWith(conn, websocket.CloseNormalClosure, "")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("feed source failed", zap.Error(err))
				h.closeWith(conn, websocket.CloseInternalServerErr, "source failed")
			}
			return
		}

		data, err := json.Marshal(update)
		if err != nil {
			h.logger.Error("encoding update", zap.Error(err))
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
