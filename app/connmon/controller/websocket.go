package controller

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "state.changed", "ping"
	Payload interface{} `json:"payload"` // Event-specific data
}

// HandleWebSocket upgrades HTTP connection to WebSocket and streams
// connectivity state changes.
//
// Server sends:
// - {"type": "state.changed", "payload": {"state": "connected", "active": "https://..."}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	states := c.App.Client.SubscribeConnectivity()
	defer c.App.Client.UnsubscribeConnectivity(states)

	// Reader goroutine drains control frames and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("WebSocket reader panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			}
		}()
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current state immediately so clients render without
	// waiting for the next transition.
	initial := ServerMessage{Type: "state.changed", Payload: map[string]string{
		"state":  c.App.Client.State().String(),
		"active": c.App.Client.ActiveEndpoint(),
	}}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			msg := ServerMessage{Type: "state.changed", Payload: map[string]string{
				"state":  state.String(),
				"active": c.App.Client.ActiveEndpoint(),
			}}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-pings.C:
			msg := ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
