package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetry/types"
)

func newStreamServer(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()

	registry := NewRegistry(RegistryConfig{SendTimeout: time.Second})
	handler := NewStreamHandler(registry, StreamConfig{
		HeartbeatInterval: time.Second,
		WriteTimeout:      time.Second,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/devices/{device_id}", handler.ServeDevice)
	mux.HandleFunc("GET /stream/all", handler.ServeAll)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return registry, server
}

func dialStream(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStreamDeviceConnectAck(t *testing.T) {
	registry, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")

	frame := readFrame(t, ws)
	assert.Equal(t, "ack", frame["type"])
	assert.Contains(t, frame["message"], "sensor-001")

	require.Eventually(t, func() bool {
		return registry.SubscriptionCount("sensor-001") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamAllConnectAck(t *testing.T) {
	registry, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/all")

	frame := readFrame(t, ws)
	assert.Equal(t, "ack", frame["type"])
	assert.Equal(t, "Subscribed to all devices", frame["message"])

	require.Eventually(t, func() bool {
		return registry.SubscriptionCount(TopicAll) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamPingPong(t *testing.T) {
	_, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.NoError(t, ws.WriteJSON(map[string]string{"action": "ping"}))
	frame := readFrame(t, ws)
	assert.Equal(t, "pong", frame["type"])
}

func TestStreamInvalidJSON(t *testing.T) {
	_, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "INVALID_JSON", frame["code"])
}

func TestStreamUnknownAction(t *testing.T) {
	_, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.NoError(t, ws.WriteJSON(map[string]string{"action": "teleport"}))
	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "UNKNOWN_ACTION", frame["code"])
}

func TestStreamSubscribeAdditionalDevice(t *testing.T) {
	registry, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.NoError(t, ws.WriteJSON(map[string]string{
		"action":    "subscribe",
		"device_id": "sensor-002",
	}))
	frame := readFrame(t, ws)
	assert.Equal(t, "ack", frame["type"])
	assert.Contains(t, frame["message"], "sensor-002")

	require.Eventually(t, func() bool {
		return registry.SubscriptionCount("sensor-002") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteJSON(map[string]string{
		"action":    "unsubscribe",
		"device_id": "sensor-002",
	}))
	frame = readFrame(t, ws)
	assert.Equal(t, "ack", frame["type"])
	assert.Contains(t, frame["message"], "Unsubscribed")

	require.Eventually(t, func() bool {
		return registry.SubscriptionCount("sensor-002") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStreamReceivesBroadcastReading(t *testing.T) {
	registry, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.Eventually(t, func() bool {
		return registry.SubscriptionCount("sensor-001") == 1
	}, time.Second, 10*time.Millisecond)

	metrics, err := types.NewSensorMetrics(types.Float64(21.5), types.Float64(55.0), nil)
	require.NoError(t, err)
	reading := types.NewReading("sensor-001", metrics, time.Now().UTC())

	payload, err := EncodeReading(reading)
	require.NoError(t, err)
	registry.Broadcast(context.Background(), "sensor-001", payload)

	frame := readFrame(t, ws)
	assert.Equal(t, "reading", frame["type"])
	assert.Equal(t, "sensor-001", frame["device_id"])

	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sensor-001", data["device_id"])
}

func TestStreamDisconnectCleansUp(t *testing.T) {
	registry, server := newStreamServer(t)
	ws := dialStream(t, server, "/stream/devices/sensor-001")
	readFrame(t, ws) // ack

	require.Eventually(t, func() bool {
		return registry.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	ws.Close()

	require.Eventually(t, func() bool {
		return registry.ConnectionCount() == 0 && registry.SubscriptionCount("sensor-001") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
