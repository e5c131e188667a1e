package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayFixture runs a WebSocket gateway behind httptest and a Listener over it
type gatewayFixture struct {
	http     *httptest.Server
	gateway  *WebSocketListener
	listener *Listener
}

func newGatewayFixture(t *testing.T, cfg Config, opts ...Option) *gatewayFixture {
	t.Helper()

	gateway := NewWebSocketListener(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	l, err := NewListener(cfg, gateway, append(opts, WithName("websocket"))...)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHTTPHandler(nil, gateway, "/ws", l))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("websocket listener did not stop")
		}
		srv.Close()
	})

	return &gatewayFixture{http: srv, gateway: gateway, listener: l}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	return string(data)
}

func TestWebSocketLogin(t *testing.T) {
	store := newCountingStore()
	f := newGatewayFixture(t, testConfig(), WithPresence(store))
	ws := f.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"userLogin","login":"bob","password":"secret"}`)))
	assert.Equal(t, loginAnswer, readMessage(t, ws))

	online, err := store.Online(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, online)

	// A close handshake ends the connection like a TCP FIN
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool { return f.listener.ActiveConnections() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), store.disconnects.Load())
}

func TestWebSocketMessagesAreOneStream(t *testing.T) {
	f := newGatewayFixture(t, testConfig())
	ws := f.dial(t)

	// Message boundaries do not have to line up with documents
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"a"}{"type":`)))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte(`"b"}`)))

	assert.Equal(t, `{"type":"aResponse"}`, readMessage(t, ws))
	assert.Equal(t, `{"type":"bResponse"}`, readMessage(t, ws))
}

func TestWebSocketIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ReceiveTimeout = 100 * time.Millisecond
	f := newGatewayFixture(t, cfg)
	ws := f.dial(t)

	require.Eventually(t, func() bool { return f.listener.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.listener.ActiveConnections() == 0 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketListenerAcceptDeadline(t *testing.T) {
	gateway := NewWebSocketListener(&net.TCPAddr{}, nil)
	require.NoError(t, gateway.SetDeadline(time.Now().Add(20*time.Millisecond)))

	_, err := gateway.Accept()
	require.Error(t, err)
	assert.True(t, isTimeout(err))

	require.NoError(t, gateway.Close())
	_, err = gateway.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, gateway.Close(), net.ErrClosed)
	assert.ErrorIs(t, gateway.SetDeadline(time.Time{}), net.ErrClosed)
}

func TestWebSocketGatewayClosedRejectsUpgrade(t *testing.T) {
	gateway := NewWebSocketListener(&net.TCPAddr{}, nil)
	require.NoError(t, gateway.Close())

	rec := httptest.NewRecorder()
	gateway.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPHandlerStatus(t *testing.T) {
	tcp := runningListener(t, testConfig())
	conn := dial(t, tcp)
	_, err := conn.Write([]byte(`{"type":"userLogin","login":"bob","password":"secret"}`))
	require.NoError(t, err)
	readDocs(t, conn, 1)

	handler := NewHTTPHandler(nil, nil, "", tcp)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Listeners, 1)
	assert.Equal(t, "tcp", status.Listeners[0].Name)
	assert.Equal(t, 1, status.Listeners[0].Active)
	assert.Equal(t, "bob", status.Listeners[0].Connections[0].Login)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}
