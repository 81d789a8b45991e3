package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (Message, map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var raw struct {
		Message
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw.Message, raw.Data
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	defer hub.Close()

	first := dial(t, hub)
	second := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleResult(4, scanner.ProbeOutcome{Address: "10.0.0.1", Category: scanner.CategoryAntBox}))
	require.NoError(t, hub.HandleProgress(scanner.ProgressSnapshot{SessionID: 4, Percent: 50}))
	require.NoError(t, hub.HandleSummary(scanner.Summary{SessionID: 4, Status: scanner.SessionCompleted}))

	for _, conn := range []*websocket.Conn{first, second} {
		msg, data := readMessage(t, conn)
		assert.Equal(t, TypeDeviceFound, msg.Type)
		assert.EqualValues(t, 4, msg.ScanID)
		assert.Equal(t, "10.0.0.1", data["ip"])
		assert.Equal(t, "antbox", data["device_type"])

		msg, data = readMessage(t, conn)
		assert.Equal(t, TypeScanProgress, msg.Type)
		assert.EqualValues(t, 50, data["progress"])

		msg, data = readMessage(t, conn)
		assert.Equal(t, TypeScanCompleted, msg.Type)
		assert.Equal(t, "completed", data["status"])
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	defer hub.Close()

	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_NoClientsIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	defer hub.Close()

	for i := 0; i < broadcastSize*2; i++ {
		assert.NoError(t, hub.HandleProgress(scanner.ProgressSnapshot{SessionID: 1}))
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Close()
	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
