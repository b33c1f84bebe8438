package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

type Handler struct {
	hub         *Hub
	authService *auth.Service
	upgrader    websocket.Upgrader
}

// NewHandler accepts upgrades from requests without an Origin header or
// whose origin is in allowedOrigins. A "*" entry allows any origin.
func NewHandler(hub *Hub, authService *auth.Service, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return &Handler{
		hub:         hub,
		authService: authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeWS handles GET /api/ws. Browsers cannot set headers on websocket
// requests, so the token may also arrive as ?token=.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userCtx, err := h.authService.Authenticate(r, true)
	if err != nil {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := NewClient(h.hub, conn, userCtx.UserID)
	if !h.hub.Register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
