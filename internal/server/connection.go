package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/jsonwire/internal/logging"
	"github.com/muurk/jsonwire/internal/presence"
	"github.com/muurk/jsonwire/internal/protocol"
)

// State is the lifecycle state of a Connection
type State int32

const (
	StateActive State = iota
	StatePeerClosed
	StateTimeout
	StateIOError
	StateSendFailure
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePeerClosed:
		return "PEER_CLOSED"
	case StateTimeout:
		return "TIMEOUT"
	case StateIOError:
		return "IO_ERROR"
	case StateSendFailure:
		return "SEND_FAILURE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func stateFor(et ErrorType) State {
	switch et {
	case ErrTypePeerClosed:
		return StatePeerClosed
	case ErrTypeTimeout:
		return StateTimeout
	case ErrTypeSendFailure:
		return StateSendFailure
	default:
		return StateIOError
	}
}

// ConnectionInfo is a read-only view of a Connection
type ConnectionInfo struct {
	ID         uint64    `json:"id"`
	Session    string    `json:"session"`
	RemoteAddr string    `json:"remote_addr"`
	Login      string    `json:"login,omitempty"`
	State      string    `json:"state"`
	Created    time.Time `json:"created"`
}

// deps are the shared services a Connection borrows from its Listener
type deps struct {
	log        *logging.Logger
	dispatcher *protocol.Dispatcher
	presence   presence.Store
	clock      func() time.Time
}

// Connection is one accepted peer. It owns its socket and runs a single worker
// goroutine that receives, frames, dispatches and sends until the first
// terminal condition. The Listener joins the worker, then closes the socket.
type Connection struct {
	ID uint64

	session    string
	remoteAddr string
	socket     string
	created    time.Time

	conn net.Conn
	cfg  Config
	deps deps
	ctx  context.Context

	// Worker-only state
	buf      [protocol.ReceiveBufferSize]byte
	residual []byte
	inbound  [][]byte
	outbound [][]byte

	// pendingDelete goes false -> true exactly once and is never cleared
	pendingDelete atomic.Bool
	state         atomic.Int32

	mu    sync.Mutex
	err   *ConnError
	login string

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// newConnection validates the per-connection settings, arms the first receive
// deadline and starts the worker. On error the caller still owns conn.
func newConnection(ctx context.Context, id uint64, conn net.Conn, cfg Config, d deps) (*Connection, error) {
	if cfg.ReceiveTimeout <= 0 {
		return nil, newInitError(id, fmt.Sprintf("invalid receive timeout %s", cfg.ReceiveTimeout), nil)
	}
	if cfg.SendTimeout <= 0 {
		return nil, newInitError(id, fmt.Sprintf("invalid send timeout %s", cfg.SendTimeout), nil)
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	if d.dispatcher == nil {
		d.dispatcher = protocol.NewDispatcher()
	}

	if err := conn.SetReadDeadline(d.clock().Add(cfg.ReceiveTimeout)); err != nil {
		return nil, newInitError(id, "failed to set receive timeout", err)
	}
	if err := conn.SetWriteDeadline(d.clock().Add(cfg.SendTimeout)); err != nil {
		return nil, newInitError(id, "failed to set send timeout", err)
	}

	c := &Connection{
		ID:         id,
		session:    uuid.NewString(),
		remoteAddr: addrString(conn.RemoteAddr()),
		socket:     addrString(conn.LocalAddr()) + "->" + addrString(conn.RemoteAddr()),
		created:    d.clock(),
		conn:       conn,
		cfg:        cfg,
		deps:       d,
		// Presence calls outlive a cancelled Run; the store must still see the logout
		ctx:  context.WithoutCancel(ctx),
		done: make(chan struct{}),
	}

	go c.run()
	return c, nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}

// Session returns the log correlation id of the connection
func (c *Connection) Session() string { return c.session }

// RemoteAddr returns the peer address
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// PendingDelete reports whether the worker has reached a terminal state
func (c *Connection) PendingDelete() bool { return c.pendingDelete.Load() }

// State returns the current lifecycle state
func (c *Connection) State() State { return State(c.state.Load()) }

// Err returns the terminal error, or nil while the connection is active
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err
}

// Login returns the user name from the last successful userLogin, if any
func (c *Connection) Login() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login
}

// Done is closed when the worker goroutine has returned
func (c *Connection) Done() <-chan struct{} { return c.done }

// Join blocks until the worker goroutine has returned. Safe to call repeatedly.
func (c *Connection) Join() { <-c.done }

// Close closes the socket exactly once. A worker blocked in Read or Write
// returns with an error and reaches a terminal state.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Info returns a snapshot of the connection for status output
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:         c.ID,
		Session:    c.session,
		RemoteAddr: c.remoteAddr,
		Login:      c.Login(),
		State:      c.State().String(),
		Created:    c.created,
	}
}

func (c *Connection) fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("conn_id", c.ID),
		zap.String("session", c.session),
		zap.String("remote_addr", c.remoteAddr),
		zap.String("socket", c.socket),
	}
}

// run is the worker loop: one receive, then dispatch and send whatever the
// receive framed. The iteration that hits a terminal condition still completes.
func (c *Connection) run() {
	defer close(c.done)

	c.deps.log.Connection("worker_started", c.fields()...)

	for !c.pendingDelete.Load() {
		c.receive()
		c.dispatch()
		c.send()

		clear(c.inbound)
		clear(c.outbound)
		c.inbound = c.inbound[:0]
		c.outbound = c.outbound[:0]
	}

	c.deps.log.Connection("worker_exited", append(c.fields(),
		zap.String("state", c.State().String()),
		zap.Int("residual_bytes", len(c.residual)),
	)...)
}

func (c *Connection) receive() {
	if err := c.conn.SetReadDeadline(c.deps.clock().Add(c.cfg.ReceiveTimeout)); err != nil {
		c.fail(ClassifyReadError(err, c.ID))
		return
	}

	n, err := c.conn.Read(c.buf[:])

	// Bytes that arrived with an error are still framed
	if n > 0 {
		c.deps.log.RawBytes("Received chunk", c.buf[:n], c.fields()...)

		c.residual = append(c.residual, c.buf[:n]...)
		docs, rest := protocol.Extract(c.residual)
		c.inbound = append(c.inbound, docs...)
		c.residual = rest

		c.deps.log.Debug("Framed chunk", append(c.fields(),
			zap.Int("bytes", n),
			zap.Int("documents", len(docs)),
			zap.Int("residual_bytes", len(rest)),
		)...)
	}

	if err != nil {
		c.fail(ClassifyReadError(err, c.ID))
	}
}

func (c *Connection) dispatch() {
	for _, doc := range c.inbound {
		msg, data, err := c.deps.dispatcher.DispatchDocument(doc)
		if err != nil {
			c.deps.log.Warn("Dropping document that could not be dispatched", append(c.fields(),
				zap.ByteString("document", doc),
				zap.Error(err),
			)...)
			continue
		}

		c.outbound = append(c.outbound, data)

		if login, ok := protocol.LoginName(msg); ok {
			c.setLogin(login)
		}
	}
}

func (c *Connection) setLogin(login string) {
	c.mu.Lock()
	c.login = login
	c.mu.Unlock()

	c.deps.log.Info("User logged in", append(c.fields(), zap.String("login", login))...)

	if c.deps.presence == nil {
		return
	}
	if err := c.deps.presence.OnLogin(c.ctx, c.ID, login); err != nil {
		c.deps.log.Error("Failed to record login", append(c.fields(),
			zap.String("login", login),
			zap.Error(err),
		)...)
	}
}

func (c *Connection) send() {
	for i, msg := range c.outbound {
		if err := c.sendAll(msg); err != nil {
			c.fail(newSendError(c.ID, err))
			if dropped := len(c.outbound) - i - 1; dropped > 0 {
				c.deps.log.Warn("Dropped queued responses after send failure", append(c.fields(),
					zap.Int("dropped", dropped),
				)...)
			}
			return
		}
		c.deps.log.Debug("Sent response", append(c.fields(),
			zap.ByteString("response", msg),
		)...)
	}
}

// sendAll writes every byte of data within one send timeout window
func (c *Connection) sendAll(data []byte) error {
	if err := c.conn.SetWriteDeadline(c.deps.clock().Add(c.cfg.SendTimeout)); err != nil {
		return err
	}
	for len(data) > 0 {
		n, err := c.conn.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

// fail records the first terminal condition and flags the connection for
// reaping. Later conditions are logged and otherwise ignored.
func (c *Connection) fail(cerr *ConnError) {
	c.mu.Lock()
	first := c.pendingDelete.CompareAndSwap(false, true)
	if first {
		c.err = cerr
		c.state.Store(int32(stateFor(cerr.Type)))
	}
	c.mu.Unlock()

	fields := append(c.fields(), zap.String("error_type", cerr.Type.String()), zap.Error(cerr))
	if cerr.Code != 0 {
		fields = append(fields, zap.Int("errno", cerr.Code))
	}

	if !first {
		c.deps.log.Debug("Ignoring error after terminal state", fields...)
		return
	}

	switch {
	case IsTerminalClose(cerr):
		c.deps.log.Connection("connection_closed", fields...)
	case errors.Is(cerr, ErrTimeout):
		c.deps.log.Warn("Connection timed out", fields...)
	default:
		c.deps.log.Error("Connection failed", fields...)
	}
}
