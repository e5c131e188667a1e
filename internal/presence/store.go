package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/muurk/jsonwire/internal/config"
)

// ErrEmptyUser is returned when a login carries no user name
var ErrEmptyUser = errors.New("presence: empty user name")

// Store tracks which users are online across their connections. A user stays
// online while at least one of their connections is alive.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// OnLogin binds connID to user and marks the user online. Binding a
	// connection that already belongs to another user moves it.
	OnLogin(ctx context.Context, connID uint64, user string) error
	// OnDisconnect unbinds connID. The user is demoted to offline when this
	// was their last connection. Unknown ids are ignored.
	OnDisconnect(ctx context.Context, connID uint64) error
	// Online reports whether user has at least one live connection
	Online(ctx context.Context, user string) (bool, error)
	// Close releases backend resources
	Close() error
}

// New creates the Store selected by cfg.Backend
func New(ctx context.Context, cfg config.PresenceConfig) (Store, error) {
	switch cfg.Backend {
	case config.PresenceMemory, "":
		return NewMemory(), nil
	case config.PresenceRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.PresenceSQL:
		return NewSQL(cfg.SQL)
	default:
		return nil, fmt.Errorf("unknown presence backend %q", cfg.Backend)
	}
}

// Memory is an in-process Store
type Memory struct {
	mu       sync.Mutex
	sessions map[uint64]string            // conn id -> user
	users    map[string]map[uint64]struct{} // user -> live conn ids
}

// NewMemory creates an empty in-process Store
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[uint64]string),
		users:    make(map[string]map[uint64]struct{}),
	}
}

// OnLogin implements Store
func (m *Memory) OnLogin(_ context.Context, connID uint64, user string) error {
	if user == "" {
		return ErrEmptyUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unbind(connID)
	m.sessions[connID] = user
	if m.users[user] == nil {
		m.users[user] = make(map[uint64]struct{})
	}
	m.users[user][connID] = struct{}{}
	return nil
}

// OnDisconnect implements Store
func (m *Memory) OnDisconnect(_ context.Context, connID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unbind(connID)
	return nil
}

// Online implements Store
func (m *Memory) Online(_ context.Context, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.users[user]) > 0, nil
}

// Sessions returns the number of live connections bound to user
func (m *Memory) Sessions(user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.users[user])
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}

// unbind must be called with mu held
func (m *Memory) unbind(connID uint64) {
	user, ok := m.sessions[connID]
	if !ok {
		return
	}
	delete(m.sessions, connID)
	delete(m.users[user], connID)
	if len(m.users[user]) == 0 {
		delete(m.users, user)
	}
}
