package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	myMiddleware "go-friendchat/internal/middleware"
)

type Handler struct {
	hub       *Hub
	lifecycle *Lifecycle
	frames    FrameHandler
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewHandler(hub *Hub, lifecycle *Lifecycle, frames FrameHandler, log zerolog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		lifecycle: lifecycle,
		frames:    frames,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients send no Origin; the bearer token is the gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWs handles GET /ws?userId=... . The connection lives until either
// side closes it; Connect and Disconnect bracket its lifetime.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	authUserID, _ := myMiddleware.UserID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := NewClient(uuid.NewString(), userID, conn)
	ctx := r.Context()

	if err := h.hub.Register(ctx, c); err != nil {
		h.log.Error().Err(err).Str("connection_id", c.ID).Msg("subscribe push channel")
		closeWith(conn, InternalError("failed to connect"))
		return
	}

	resp := h.lifecycle.Connect(ctx, ConnectEvent{ConnectionID: c.ID, UserID: userID, AuthUserID: authUserID})
	if !resp.OK() {
		h.hub.Unregister(ctx, c)
		closeWith(conn, resp)
		return
	}

	go c.writePump()
	c.readPump(ctx, h.frames, h.log)

	// The request context may already be cancelled here.
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	h.lifecycle.Disconnect(cleanup, c.ID)
	h.hub.Unregister(cleanup, c)
}

// closeWith ends the handshake with an application close code of 4000 plus
// the response status.
func closeWith(conn *websocket.Conn, resp Response) {
	msg := websocket.FormatCloseMessage(4000+resp.StatusCode, resp.Body)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}
