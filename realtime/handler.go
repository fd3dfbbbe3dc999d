package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHeartbeatInterval = 30 * time.Second

// StreamConfig configures the WebSocket stream handler.
type StreamConfig struct {
	// HeartbeatInterval is how often the server pings each connection. The
	// read deadline is twice this interval, refreshed on every inbound
	// frame and pong.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Logger            *slog.Logger
}

// StreamHandler serves the live streaming WebSocket endpoints. Each accepted
// connection is registered with the registry, subscribed to its initial
// topic, and then driven by a read loop handling the client protocol:
// ping, subscribe and unsubscribe actions in, ack, pong and error frames out.
type StreamHandler struct {
	registry     *Registry
	upgrader     websocket.Upgrader
	heartbeat    time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewStreamHandler creates a handler bound to the given registry.
func NewStreamHandler(registry *Registry, cfg StreamConfig) *StreamHandler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser dashboards connect cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		heartbeat:    cfg.HeartbeatInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
}

// ServeDevice handles a stream for one device. The route must carry a
// "device_id" path value.
func (h *StreamHandler) ServeDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		http.Error(w, "missing device_id", http.StatusBadRequest)
		return
	}
	h.serve(w, r, deviceID, fmt.Sprintf("Subscribed to device: %s", deviceID))
}

// ServeAll handles the all-devices stream.
func (h *StreamHandler) ServeAll(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, TopicAll, "Subscribed to all devices")
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, topic, ackMessage string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := newConnID()
	conn := NewWSConnection(ws, h.writeTimeout)
	h.registry.Register(conn)
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.logger.Info("stream client disconnected", "conn_id", connID, "topic", topic)
	}()

	if err := h.registry.Subscribe(conn, topic); err != nil {
		h.logger.Warn("initial subscribe failed", "conn_id", connID, "topic", topic, "error", err)
		return
	}
	h.sendAck(conn, ackMessage)
	h.logger.Info("stream client connected", "conn_id", connID, "topic", topic)

	done := make(chan struct{})
	defer close(done)
	go h.heartbeatLoop(conn, done)

	readDeadline := 2 * h.heartbeat
	_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readDeadline))

		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(conn, "Invalid JSON message", "INVALID_JSON")
			continue
		}
		h.handleCommand(conn, connID, cmd)
	}
}

func (h *StreamHandler) handleCommand(conn Connection, connID string, cmd ClientCommand) {
	switch cmd.Action {
	case ActionPing:
		if payload, err := EncodePong(); err == nil {
			_ = conn.Send(payload)
		}
	case ActionSubscribe:
		if cmd.DeviceID == "" {
			h.sendError(conn, "subscribe requires device_id", "INVALID_JSON")
			return
		}
		if err := h.registry.Subscribe(conn, cmd.DeviceID); err != nil {
			h.logger.Warn("subscribe failed", "conn_id", connID, "device_id", cmd.DeviceID, "error", err)
			return
		}
		h.sendAck(conn, fmt.Sprintf("Subscribed to device: %s", cmd.DeviceID))
	case ActionUnsubscribe:
		if cmd.DeviceID == "" {
			h.sendError(conn, "unsubscribe requires device_id", "INVALID_JSON")
			return
		}
		h.registry.Unsubscribe(conn, cmd.DeviceID)
		h.sendAck(conn, fmt.Sprintf("Unsubscribed from device: %s", cmd.DeviceID))
	default:
		h.sendError(conn, fmt.Sprintf("Unknown action: %s", cmd.Action), "UNKNOWN_ACTION")
	}
}

// heartbeatLoop pings the client until the connection's read loop exits.
func (h *StreamHandler) heartbeatLoop(conn *WSConnection, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) sendAck(conn Connection, message string) {
	payload, err := EncodeAck(message)
	if err != nil {
		return
	}
	if err := conn.Send(payload); err != nil {
		h.logger.Warn("failed to send ack", "error", err)
	}
}

func (h *StreamHandler) sendError(conn Connection, errMsg, code string) {
	payload, err := EncodeError(errMsg, code)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func newConnID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
