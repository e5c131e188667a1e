package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/jsonwire/internal/config"
	"github.com/muurk/jsonwire/internal/logging"
	"github.com/muurk/jsonwire/internal/presence"
	"github.com/muurk/jsonwire/internal/protocol"
)

// Defaults applied when a Config leaves the field zero
const (
	DefaultAcceptPollInterval = 50 * time.Millisecond
	DefaultShutdownTimeout    = 10 * time.Second
)

// Config holds the listener and per-connection timing
type Config struct {
	ReceiveTimeout     time.Duration // Idle read window; expiry ends the connection
	SendTimeout        time.Duration // Write window for one response
	AcceptPollInterval time.Duration // Longest wait in Accept before the next reap scan
	ShutdownTimeout    time.Duration // Bound on joining workers after ctx is cancelled
}

// ConfigFrom converts the file/env configuration into listener settings
func ConfigFrom(c config.ServerConfig) Config {
	return Config{
		ReceiveTimeout:     c.ReceiveTimeout,
		SendTimeout:        c.SendTimeout,
		AcceptPollInterval: c.AcceptPollInterval,
		ShutdownTimeout:    c.ShutdownTimeout,
	}
}

// IDSource hands out process-unique connection ids. Listeners that share a
// presence store must share an IDSource.
type IDSource struct {
	last atomic.Uint64
}

// Next returns the next id. Ids start at 1 and are never reused.
func (s *IDSource) Next() uint64 {
	return s.last.Add(1)
}

// Option configures a Listener
type Option func(*Listener)

// WithLogger sets the logger shared by the listener and its connections
func WithLogger(log *logging.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithPresence sets the store notified of logins and reaped connections
func WithPresence(store presence.Store) Option {
	return func(l *Listener) { l.presence = store }
}

// WithDispatcher sets the dispatcher that answers inbound documents
func WithDispatcher(d *protocol.Dispatcher) Option {
	return func(l *Listener) { l.dispatcher = d }
}

// WithClock sets the time source used for connection deadlines and timestamps
func WithClock(clock func() time.Time) Option {
	return func(l *Listener) { l.clock = clock }
}

// WithIDSource shares a connection id sequence between listeners
func WithIDSource(ids *IDSource) Option {
	return func(l *Listener) { l.ids = ids }
}

// WithName labels the listener's log lines (for example "tcp" or "websocket")
func WithName(name string) Option {
	return func(l *Listener) { l.name = name }
}

// Listener accepts peers and owns the connection table. A single goroutine,
// the one calling Run, accepts, inserts and reaps; workers only ever flag
// themselves for deletion.
type Listener struct {
	cfg        Config
	ln         net.Listener
	name       string
	log        *logging.Logger
	presence   presence.Store
	dispatcher *protocol.Dispatcher
	clock      func() time.Time
	ids        *IDSource

	mu    sync.Mutex
	conns map[uint64]*Connection

	running atomic.Bool
}

// NewListener wraps an already bound net.Listener
func NewListener(cfg Config, ln net.Listener, opts ...Option) (*Listener, error) {
	if ln == nil {
		return nil, errors.New("listener is nil")
	}
	if cfg.ReceiveTimeout <= 0 {
		return nil, fmt.Errorf("invalid receive timeout %s: must be positive", cfg.ReceiveTimeout)
	}
	if cfg.SendTimeout <= 0 {
		return nil, fmt.Errorf("invalid send timeout %s: must be positive", cfg.SendTimeout)
	}
	if cfg.AcceptPollInterval <= 0 {
		cfg.AcceptPollInterval = DefaultAcceptPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	l := &Listener{
		cfg:   cfg,
		ln:    ln,
		name:  "tcp",
		conns: make(map[uint64]*Connection),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		l.log = logging.Nop()
	}
	if l.dispatcher == nil {
		l.dispatcher = protocol.NewDispatcher()
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.ids == nil {
		l.ids = &IDSource{}
	}
	l.log = l.log.With(zap.String("listener", l.name))

	return l, nil
}

// Listen binds a TCP socket on addr and wraps it in a Listener
func Listen(cfg Config, addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l, err := NewListener(cfg, ln, opts...)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return l, nil
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// ActiveConnections returns the number of connections in the table, including
// ones flagged but not yet reaped
func (l *Listener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Snapshot returns every connection in the table ordered by id
func (l *Listener) Snapshot() []ConnectionInfo {
	l.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(l.conns))
	for _, c := range l.conns {
		infos = append(infos, c.Info())
	}
	l.mu.Unlock()

	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return infos
}

// Run accepts and reaps until ctx is cancelled or the listening socket is
// closed, then shuts every connection down. Per-connection failures never end
// Run.
func (l *Listener) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("listener is already running")
	}

	l.log.Info("Listener started",
		zap.String("addr", l.Addr().String()),
		zap.Duration("receive_timeout", l.cfg.ReceiveTimeout),
		zap.Duration("send_timeout", l.cfg.SendTimeout),
	)

	// Unblocks Accept on listeners without deadline support
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.Close()
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			return l.shutdown(ctx)
		}

		if err := l.accept(ctx); err != nil {
			if ctx.Err() == nil {
				l.log.Warn("Listening socket closed", zap.Error(err))
			}
			return l.shutdown(ctx)
		}

		l.reap(ctx)
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// accept waits at most one poll interval for a peer. It returns an error only
// when the listening socket is gone.
func (l *Listener) accept(ctx context.Context) error {
	if d, ok := l.ln.(deadliner); ok {
		if err := d.SetDeadline(time.Now().Add(l.cfg.AcceptPollInterval)); err != nil && errors.Is(err, net.ErrClosed) {
			return err
		}
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}

		aerr := newAcceptError(err)
		fields := []zap.Field{zap.Error(aerr)}
		if aerr.Code != 0 {
			fields = append(fields, zap.Int("errno", aerr.Code))
		}
		l.log.Error("Failed to accept connection", fields...)

		// Persistent failures such as EMFILE return immediately; keep the loop from spinning
		time.Sleep(l.cfg.AcceptPollInterval)
		return nil
	}

	id := l.ids.Next()

	// Held across construction so no view of the table misses a running worker
	l.mu.Lock()
	c, err := newConnection(ctx, id, conn, l.cfg, deps{
		log:        l.log,
		dispatcher: l.dispatcher,
		presence:   l.presence,
		clock:      l.clock,
	})
	if err == nil {
		l.conns[id] = c
	}
	active := len(l.conns)
	l.mu.Unlock()

	if err != nil {
		_ = conn.Close()
		l.log.Error("Failed to initialize connection",
			zap.Uint64("conn_id", id),
			zap.String("remote_addr", addrString(conn.RemoteAddr())),
			zap.Error(err),
		)
		return nil
	}

	l.log.Connection("connection_accepted", append(c.fields(), zap.Int("active", active))...)
	return nil
}

// reap scans the table for flagged connections, then joins, notifies, closes
// and removes each one. Collecting first keeps the table stable while workers
// are joined.
func (l *Listener) reap(ctx context.Context) int {
	var flagged []uint64

	l.mu.Lock()
	for id, c := range l.conns {
		if c.PendingDelete() {
			flagged = append(flagged, id)
		}
	}
	l.mu.Unlock()

	for _, id := range flagged {
		l.reapOne(ctx, id)
	}
	return len(flagged)
}

func (l *Listener) reapOne(ctx context.Context, id uint64) {
	l.mu.Lock()
	c, ok := l.conns[id]
	l.mu.Unlock()
	if !ok {
		return
	}

	c.Join()

	if login := c.Login(); login != "" && l.presence != nil {
		if err := l.presence.OnDisconnect(context.WithoutCancel(ctx), id); err != nil {
			l.log.Error("Failed to record disconnect", append(c.fields(),
				zap.String("login", login),
				zap.Error(err),
			)...)
		}
	}

	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.Debug("Error closing socket", append(c.fields(), zap.Error(err))...)
	}

	l.mu.Lock()
	delete(l.conns, id)
	active := len(l.conns)
	l.mu.Unlock()

	fields := append(c.fields(),
		zap.String("state", c.State().String()),
		zap.Int("active", active),
	)
	if err := c.Err(); err != nil {
		fields = append(fields, zap.NamedError("cause", err))
	}
	l.log.Connection("connection_reaped", fields...)
}

// shutdown closes the listening socket and every connection, waits up to
// ShutdownTimeout for the workers, and reaps the ones that exited.
func (l *Listener) shutdown(ctx context.Context) error {
	l.log.Info("Shutting down listener...")

	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log.Error("Error closing listener", zap.Error(err))
	}

	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		for _, c := range conns {
			c.Join()
		}
		close(done)
	}()

	timer := time.NewTimer(l.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		l.log.Info("All connections closed gracefully", zap.Int("closed", len(conns)))
	case <-timer.C:
		l.log.Warn("Shutdown timeout, leaving unjoined workers behind",
			zap.Duration("timeout", l.cfg.ShutdownTimeout),
		)
	}

	for _, c := range conns {
		select {
		case <-c.Done():
			l.reapOne(ctx, c.ID)
		default:
		}
	}

	_ = l.log.Sync()
	return nil
}
