package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"taskflow/internal/events"
	"taskflow/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// registerRealtime mounts the per-user activityUpdate channel. Messages flow
// one way; anything the client sends is read and discarded.
func registerRealtime(r chi.Router, wsPath string, hub *events.Hub, origins []string) {
	if hub == nil {
		return
	}
	upgrader := newUpgrader(origins)
	r.Get(wsPath, func(w http.ResponseWriter, req *http.Request) {
		principal, authErr := principalFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn("websocket upgrade for %s: %v", principal.UserID, err)
			return
		}
		defer conn.Close()

		msgs, unsubscribe := hub.Subscribe(principal.UserID)
		defer unsubscribe()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Debug("websocket write for %s: %v", principal.UserID, err)
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
