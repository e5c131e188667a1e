package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/muurk/jsonwire/internal/protocol"
)

const (
	// DefaultTimeout bounds each dial, send and receive
	DefaultTimeout = 10 * time.Second
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("client closed")

// Client speaks the jsonwire stream protocol: it writes JSON documents back to
// back and frames the replies with the same brace-depth framer the server uses.
//
// Send may be called concurrently with Receive. Concurrent Receive calls are
// serialized.
type Client struct {
	// Timeout bounds each Send and each Receive that has no earlier ctx deadline
	Timeout time.Duration

	conn net.Conn

	sendMu sync.Mutex

	recvMu  sync.Mutex
	framer  protocol.Framer
	pending [][]byte
	buf     []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a jsonwire server
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return New(conn, timeout), nil
}

// New wraps an established connection
func New(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Timeout: timeout,
		conn:    conn,
		buf:     make([]byte, protocol.ReceiveBufferSize),
		closed:  make(chan struct{}),
	}
}

// Send writes one document. []byte, json.RawMessage and string values are
// sent as-is; anything else is JSON-encoded first.
func (c *Client) Send(doc any) error {
	var data []byte
	switch v := doc.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}
		data = encoded
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}
	return nil
}

// Receive returns the next complete document from the server. It returns
// io.EOF once the server has closed the connection and every framed document
// has been returned.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for len(c.pending) == 0 {
		if c.isClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(c.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}

		// Cancellation interrupts a blocked Read by expiring its deadline
		stop := context.AfterFunc(ctx, func() {
			_ = c.conn.SetReadDeadline(time.Now())
		})
		n, err := c.conn.Read(c.buf)
		stop()

		if n > 0 {
			c.pending = append(c.pending, c.framer.Feed(c.buf[:n])...)
		}
		if err != nil {
			if len(c.pending) > 0 {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to receive: %w", err)
		}
	}

	doc := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return doc, nil
}

// Request sends doc and decodes the next reply
func (c *Client) Request(ctx context.Context, doc any) (protocol.Response, error) {
	if err := c.Send(doc); err != nil {
		return nil, err
	}
	data, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}

	var resp protocol.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode reply %q: %w", data, err)
	}
	return resp, nil
}

// Buffered returns the number of bytes received but not yet framed
func (c *Client) Buffered() int {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.framer.Len()
}

// LocalAddr returns the local end of the connection
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the server address
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the connection. Further calls return ErrClosed.
func (c *Client) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
