package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type    string      `json:"type"`
	Changed []string    `json:"changed,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Upgrader for HTTP -> WebSocket. Consider tightening CheckOrigin in production.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origins for production
}

// wsDevice streams snapshot updates for one device. A frame is pushed only
// when a poll or an optimistic write actually changes a watched field, so an
// idle pool stays quiet on the wire. ?fields=ph,orp limits the watch set.
func (h *Handler) wsDevice(c *gin.Context) {
	deviceID := c.Param("id")
	fields := parseFieldList(c.Query("fields"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Coalesce change notifications into a single pending signal; the write
	// loop always sends the latest snapshot anyway.
	changes := make(chan []string, 1)
	cancel, err := h.services.Monitoring.Subscribe(deviceID, fields, func(changed []string) {
		select {
		case changes <- changed:
		default:
		}
	})
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(wsEnvelope{Type: "error", Error: err.Error()})
		return
	}
	defer cancel()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// Send initial state immediately (if a snapshot exists yet).
	if err := h.sendSnapshot(conn, deviceID, nil); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case changed := <-changes:
			if err := h.sendSnapshot(conn, deviceID, changed); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

// Helper: startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// Helper: sendSnapshot writes the current snapshot with a write deadline.
func (h *Handler) sendSnapshot(conn *websocket.Conn, deviceID string, changed []string) error {
	snap, ok, err := h.services.Monitoring.Snapshot(deviceID)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		return conn.WriteJSON(wsEnvelope{Type: "pending"})
	}
	return conn.WriteJSON(wsEnvelope{Type: "state", Changed: changed, Data: snap})
}

func parseFieldList(q string) []string {
	if q == "" {
		return nil
	}
	parts := strings.Split(q, ",")
	fields := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}
