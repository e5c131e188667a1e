package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/jsonwire/internal/logging"
)

const (
	// Time allowed to write the close frame when a gateway connection ends
	closeWait = time.Second

	// Upgrades waiting for Accept before the gateway answers 503
	acceptBacklog = 64
)

// WebSocketListener is a net.Listener fed by HTTP upgrades. Mount it as an
// http.Handler and hand it to NewListener: every upgraded peer then runs
// through the same worker, framer and dispatcher as a TCP peer.
type WebSocketListener struct {
	addr     net.Addr
	log      *logging.Logger
	upgrader websocket.Upgrader

	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	deadline time.Time
}

// NewWebSocketListener creates a gateway reporting addr as its address
// (normally the address the HTTP server listens on)
func NewWebSocketListener(addr net.Addr, log *logging.Logger) *WebSocketListener {
	if log == nil {
		log = logging.Nop()
	}
	return &WebSocketListener{
		addr: addr,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are programs, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(chan net.Conn, acceptBacklog),
		closed: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and queues the connection for Accept
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		l.log.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := newWSConn(ws)
	select {
	case l.conns <- conn:
		l.log.Debug("WebSocket upgraded", zap.String("remote_addr", r.RemoteAddr))
	case <-l.closed:
		_ = conn.Close()
	default:
		l.log.Warn("WebSocket accept backlog full, dropping peer",
			zap.String("remote_addr", r.RemoteAddr),
		)
		_ = conn.Close()
	}
}

// Accept implements net.Listener
func (l *WebSocketListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	deadline := l.deadline
	l.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, l.opError(net.ErrClosed)
	case <-expired:
		return nil, l.opError(os.ErrDeadlineExceeded)
	}
}

// SetDeadline bounds subsequent Accept calls. The zero time means no deadline.
func (l *WebSocketListener) SetDeadline(t time.Time) error {
	select {
	case <-l.closed:
		return l.opError(net.ErrClosed)
	default:
	}
	l.mu.Lock()
	l.deadline = t
	l.mu.Unlock()
	return nil
}

// Close implements net.Listener. Upgraded peers not yet accepted are closed.
func (l *WebSocketListener) Close() error {
	first := false
	l.closeOnce.Do(func() {
		first = true
		close(l.closed)
	})
	if !first {
		return l.opError(net.ErrClosed)
	}

	for {
		select {
		case conn := <-l.conns:
			_ = conn.Close()
		default:
			return nil
		}
	}
}

// Addr implements net.Listener
func (l *WebSocketListener) Addr() net.Addr {
	return l.addr
}

func (l *WebSocketListener) opError(err error) error {
	return &net.OpError{Op: "accept", Net: "websocket", Addr: l.addr, Err: err}
}

// wsConn presents a WebSocket as a byte stream. Reads concatenate message
// payloads; each Write goes out as one text message.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, translateWSError(err)
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			// End of one message, not of the stream
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, translateWSError(err)
		}
		return n, nil
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// translateWSError maps an orderly close handshake to io.EOF so the worker
// treats it like a TCP FIN
func translateWSError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
