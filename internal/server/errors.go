package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of a connection or listener error
type ErrorType int

const (
	// ErrTypeAccept indicates the listening socket failed to accept a peer
	ErrTypeAccept ErrorType = iota
	// ErrTypeConnectionInit indicates a freshly accepted socket could not be set up
	ErrTypeConnectionInit
	// ErrTypePeerClosed indicates the peer closed its side of the connection
	ErrTypePeerClosed
	// ErrTypeTimeout indicates no bytes arrived within the receive timeout
	ErrTypeTimeout
	// ErrTypeIO indicates any other receive failure
	ErrTypeIO
	// ErrTypeSendFailure indicates a response could not be written completely
	ErrTypeSendFailure
)

// Sentinel errors, one per ErrorType, for use with errors.Is
var (
	ErrAccept         = errors.New("accept failed")
	ErrConnectionInit = errors.New("connection init failed")
	ErrPeerClosed     = errors.New("peer closed connection")
	ErrTimeout        = errors.New("receive timeout")
	ErrIO             = errors.New("receive failed")
	ErrSendFailure    = errors.New("send failed")
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeAccept:
		return "Accept Error"
	case ErrTypeConnectionInit:
		return "Connection Init Error"
	case ErrTypePeerClosed:
		return "Peer Closed"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeIO:
		return "IO Error"
	case ErrTypeSendFailure:
		return "Send Failure"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

func (et ErrorType) sentinel() error {
	switch et {
	case ErrTypeAccept:
		return ErrAccept
	case ErrTypeConnectionInit:
		return ErrConnectionInit
	case ErrTypePeerClosed:
		return ErrPeerClosed
	case ErrTypeTimeout:
		return ErrTimeout
	case ErrTypeIO:
		return ErrIO
	case ErrTypeSendFailure:
		return ErrSendFailure
	default:
		return nil
	}
}

// ConnError is an error confined to a single connection (or to a single accept)
type ConnError struct {
	Type    ErrorType // Category of error
	ConnID  uint64    // Connection the error belongs to (0 for accept errors)
	Message string    // Human-readable error message
	Code    int       // Platform errno, when the OS reported one
	Err     error     // Underlying error (if any)
}

// Error implements the error interface
func (e *ConnError) Error() string {
	prefix := e.Type.String()
	if e.ConnID != 0 {
		prefix = fmt.Sprintf("%s [conn %d]", e.Type, e.ConnID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of e's type
func (e *ConnError) Is(target error) bool {
	return target != nil && target == e.Type.sentinel()
}

// ClassifyReadError maps a receive error to its ConnError.
// io.EOF is an orderly close by the peer; an expired deadline is a timeout;
// everything else is an IO error carrying the errno when there is one.
func ClassifyReadError(err error, connID uint64) *ConnError {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return &ConnError{
			Type:    ErrTypePeerClosed,
			ConnID:  connID,
			Message: "Peer closed the connection",
			Err:     err,
		}
	}

	if isTimeout(err) {
		return &ConnError{
			Type:    ErrTypeTimeout,
			ConnID:  connID,
			Message: "No data received within the receive timeout",
			Err:     err,
		}
	}

	return &ConnError{
		Type:    ErrTypeIO,
		ConnID:  connID,
		Message: "Receive failed",
		Code:    errnoOf(err),
		Err:     err,
	}
}

func newSendError(connID uint64, err error) *ConnError {
	return &ConnError{
		Type:    ErrTypeSendFailure,
		ConnID:  connID,
		Message: "Failed to send response",
		Code:    errnoOf(err),
		Err:     err,
	}
}

func newInitError(connID uint64, message string, err error) *ConnError {
	return &ConnError{
		Type:    ErrTypeConnectionInit,
		ConnID:  connID,
		Message: message,
		Code:    errnoOf(err),
		Err:     err,
	}
}

func newAcceptError(err error) *ConnError {
	return &ConnError{
		Type:    ErrTypeAccept,
		Message: "Failed to accept connection",
		Code:    errnoOf(err),
		Err:     err,
	}
}

// IsTerminalClose reports whether err is a quiet end of a connection: the
// peer hung up or the socket was closed locally.
func IsTerminalClose(err error) bool {
	return errors.Is(err, ErrPeerClosed) || errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
