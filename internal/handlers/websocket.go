package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/config"
	"github.com/stanstork/notification-api/internal/realtime"
)

const maxClientMessageBytes = 4096

// WebSocketHandler upgrades realtime connections and keeps each one
// registered under its userId until the client goes away.
type WebSocketHandler struct {
	registry     *realtime.Registry
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func NewWebSocketHandler(registry *realtime.Registry, allowedOrigins []string, push config.PushConfig, logger zerolog.Logger) *WebSocketHandler {
	pingInterval := push.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingInterval: pingInterval,
		writeTimeout: push.PublishTimeout,
		logger:       logger.With().Str("handler", "websocket").Logger(),
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), any origin when "*" is configured, and otherwise exact
// scheme://host matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	ws := realtime.NewWSConn(conn, h.writeTimeout)
	h.registry.Register(userID, ws)
	h.logger.Info().Str("user_id", userID).Str("remote_addr", r.RemoteAddr).Msg("client connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		h.registry.Unregister(userID, ws)
		_ = ws.Close()
		h.logger.Info().Str("user_id", userID).Msg("client disconnected")
	}()
	go h.keepAlive(ws, done)

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxClientMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// No client-to-server protocol exists; reading only services control
	// frames and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("websocket read ended")
			}
			return
		}
	}
}

func (h *WebSocketHandler) keepAlive(ws *realtime.WSConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.Ping(); err != nil {
				return
			}
		}
	}
}
