package api

import (
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"planning-poker-server/internal/hub"
)

// Registry is where live connections are registered for delivery.
type Registry interface {
	Register(conn hub.Connection)
	Unregister(connID string)
}

// SessionHandler is the session gateway as seen by the transport.
type SessionHandler interface {
	MessageHandler
	Disconnect(connID string)
}

type WsHandler struct {
	upgrader websocket.Upgrader
	registry Registry
	sessions SessionHandler
	opts     ClientOptions
}

func NewWsHandler(registry Registry, sessions SessionHandler, opts ClientOptions, allowedOrigins []string) *WsHandler {
	return &WsHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		registry: registry,
		sessions: sessions,
		opts:     opts,
	}
}

func (h *WsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade")
		return
	}

	id := uuid.NewString()
	client := NewClient(id, socket, h.sessions, h.opts, func() {
		h.sessions.Disconnect(id)
		h.registry.Unregister(id)
		log.Info().Str("conn", id).Msg("connection closed")
	})
	h.registry.Register(client)
	client.Start()

	log.Info().Str("conn", id).Str("remote", r.RemoteAddr).Msg("connection opened")
}

// checkOrigin accepts requests without an Origin header, and any origin
// when "*" is listed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
