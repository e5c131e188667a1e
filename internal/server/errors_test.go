package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReadError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		sentinel error
		code     int
	}{
		{
			name:     "orderly close",
			err:      io.EOF,
			wantType: ErrTypePeerClosed,
			sentinel: ErrPeerClosed,
		},
		{
			name:     "wrapped eof",
			err:      fmt.Errorf("read: %w", io.EOF),
			wantType: ErrTypePeerClosed,
			sentinel: ErrPeerClosed,
		},
		{
			name:     "deadline exceeded",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded},
			wantType: ErrTypeTimeout,
			sentinel: ErrTimeout,
		},
		{
			name:     "connection reset",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			wantType: ErrTypeIO,
			sentinel: ErrIO,
			code:     int(syscall.ECONNRESET),
		},
		{
			name:     "closed locally",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed},
			wantType: ErrTypeIO,
			sentinel: ErrIO,
		},
		{
			name:     "unknown error",
			err:      errors.New("boom"),
			wantType: ErrTypeIO,
			sentinel: ErrIO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := ClassifyReadError(tt.err, 7)
			require.NotNil(t, cerr)

			assert.Equal(t, tt.wantType, cerr.Type)
			assert.Equal(t, uint64(7), cerr.ConnID)
			assert.Equal(t, tt.code, cerr.Code)
			assert.ErrorIs(t, cerr, tt.sentinel)
			assert.ErrorIs(t, cerr, tt.err, "underlying error must stay reachable")
		})
	}
}

func TestClassifyReadErrorNil(t *testing.T) {
	assert.Nil(t, ClassifyReadError(nil, 1))
}

func TestConnErrorMatchesOnlyItsSentinel(t *testing.T) {
	cerr := newSendError(3, syscall.EPIPE)

	assert.ErrorIs(t, cerr, ErrSendFailure)
	assert.ErrorIs(t, cerr, syscall.EPIPE)
	assert.NotErrorIs(t, cerr, ErrIO)
	assert.NotErrorIs(t, cerr, ErrTimeout)
	assert.Equal(t, int(syscall.EPIPE), cerr.Code)

	var target *ConnError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", cerr), &target)
	assert.Equal(t, ErrTypeSendFailure, target.Type)
}

func TestConnErrorMessage(t *testing.T) {
	cerr := &ConnError{Type: ErrTypeTimeout, ConnID: 12, Message: "idle"}
	assert.Equal(t, "Timeout [conn 12]: idle", cerr.Error())

	cerr = newAcceptError(errors.New("too many open files"))
	assert.Equal(t, "Accept Error: Failed to accept connection (caused by: too many open files)", cerr.Error())
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "Peer Closed", ErrTypePeerClosed.String())
	assert.Equal(t, "Send Failure", ErrTypeSendFailure.String())
	assert.Equal(t, "ErrorType(99)", ErrorType(99).String())
}

func TestIsTerminalClose(t *testing.T) {
	assert.True(t, IsTerminalClose(ClassifyReadError(io.EOF, 1)))
	assert.True(t, IsTerminalClose(ClassifyReadError(&net.OpError{Op: "read", Err: net.ErrClosed}, 1)))
	assert.False(t, IsTerminalClose(ClassifyReadError(os.ErrDeadlineExceeded, 1)))
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, StatePeerClosed, stateFor(ErrTypePeerClosed))
	assert.Equal(t, StateTimeout, stateFor(ErrTypeTimeout))
	assert.Equal(t, StateIOError, stateFor(ErrTypeIO))
	assert.Equal(t, StateSendFailure, stateFor(ErrTypeSendFailure))
	assert.Equal(t, "PEER_CLOSED", StatePeerClosed.String())
}
