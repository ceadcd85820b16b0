package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

type feed struct {
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
	done   chan struct{}
}

func newFeed(t *testing.T) *feed {
	t.Helper()
	logger := infrastructure.NewLogger(io.Discard, "error")
	hub := NewHub(nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	server := httptest.NewServer(NewHandler(hub, config.Default().WebSocket, logger))
	f := &feed{hub: hub, server: server, cancel: cancel, done: done}
	t.Cleanup(func() {
		f.stop()
		server.Close()
	})
	return f
}

func (f *feed) stop() {
	f.cancel()
	<-f.done
}

func (f *feed) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func statusView(code domain.StatusCode, message string) domain.LicenseStatusView {
	return domain.LicenseStatusView{
		LicenseStatusCode: code,
		LicenseMessage:    message,
		MaxDevices:        5,
		InstallationID:    "inst-1",
	}
}

func TestHub_BroadcastsStatusToConnectedClients(t *testing.T) {
	f := newFeed(t)
	a := f.dial(t)
	b := f.dial(t)

	assert.Equal(t, TypeConnection, readMessage(t, a).Type)
	assert.Equal(t, TypeConnection, readMessage(t, b).Type)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	f.hub.PublishStatus(statusView(domain.StatusGracePeriod, "grace"))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeLicenseStatus, msg.Type)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "grace_period", data["license_status_code"])
		assert.Equal(t, "grace", data["license_message"])
	}
}

func TestHub_ReplaysLatestStatusOnConnect(t *testing.T) {
	f := newFeed(t)

	f.hub.PublishStatus(statusView(domain.StatusActive, "first"))
	f.hub.PublishStatus(statusView(domain.StatusDisabled, "latest"))

	conn := f.dial(t)
	assert.Equal(t, TypeConnection, readMessage(t, conn).Type)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeLicenseStatus, msg.Type)
	assert.Equal(t, "latest", msg.Data.(map[string]interface{})["license_message"])
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	f := newFeed(t)
	conn := f.dial(t)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, infrastructure.NewLogger(io.Discard, "error"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.PublishStatus(statusView(domain.StatusActive, "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishStatus blocked without a running hub")
	}
}

func TestHub_StopsCleanly(t *testing.T) {
	f := newFeed(t)
	conn := f.dial(t)
	readMessage(t, conn)

	f.stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	client := &Client{id: "late", send: make(chan []byte, 1)}
	assert.False(t, f.hub.Register(client))
}

func TestHandler_RejectsCrossOrigin(t *testing.T) {
	f := newFeed(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
