package presence

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/jsonwire/internal/config"
)

// storeContract exercises the behaviour every backend must share
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("login marks user online", func(t *testing.T) {
		require.NoError(t, s.OnLogin(ctx, 1, "alice"))
		online, err := s.Online(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)
	})

	t.Run("user stays online until last session ends", func(t *testing.T) {
		require.NoError(t, s.OnLogin(ctx, 2, "alice"))
		require.NoError(t, s.OnDisconnect(ctx, 1))

		online, err := s.Online(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online, "alice still has connection 2")

		require.NoError(t, s.OnDisconnect(ctx, 2))
		online, err = s.Online(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("unknown connection is ignored", func(t *testing.T) {
		assert.NoError(t, s.OnDisconnect(ctx, 999))
	})

	t.Run("disconnect twice is harmless", func(t *testing.T) {
		require.NoError(t, s.OnLogin(ctx, 3, "bob"))
		require.NoError(t, s.OnDisconnect(ctx, 3))
		require.NoError(t, s.OnDisconnect(ctx, 3))
		online, err := s.Online(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("re-login moves connection to new user", func(t *testing.T) {
		require.NoError(t, s.OnLogin(ctx, 4, "carol"))
		require.NoError(t, s.OnLogin(ctx, 4, "dave"))

		carol, err := s.Online(ctx, "carol")
		require.NoError(t, err)
		dave, err := s.Online(ctx, "dave")
		require.NoError(t, err)
		assert.False(t, carol)
		assert.True(t, dave)

		require.NoError(t, s.OnDisconnect(ctx, 4))
	})

	t.Run("empty user rejected", func(t *testing.T) {
		assert.ErrorIs(t, s.OnLogin(ctx, 5, ""), ErrEmptyUser)
	})

	t.Run("never seen user is offline", func(t *testing.T) {
		online, err := s.Online(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("concurrent use", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				user := "user" + strconv.FormatUint(id%4, 10)
				assert.NoError(t, s.OnLogin(ctx, 100+id, user))
				assert.NoError(t, s.OnDisconnect(ctx, 100+id))
			}(uint64(i))
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			online, err := s.Online(ctx, "user"+strconv.Itoa(i))
			require.NoError(t, err)
			assert.False(t, online)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	storeContract(t, s)
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.OnLogin(ctx, 1, "alice"))
	require.NoError(t, s.OnLogin(ctx, 2, "alice"))
	assert.Equal(t, 2, s.Sessions("alice"))

	require.NoError(t, s.OnDisconnect(ctx, 1))
	assert.Equal(t, 1, s.Sessions("alice"))
}

func TestSQLStore(t *testing.T) {
	s, err := NewSQL(config.SQLConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "presence.db"),
	})
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestSQLStorePersistsLastSeen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "presence.db")

	s, err := NewSQL(config.SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.OnLogin(ctx, 1, "alice"))
	require.NoError(t, s.OnDisconnect(ctx, 1))
	require.NoError(t, s.Close())

	reopened, err := NewSQL(config.SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer reopened.Close()

	status, err := reopened.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.Online)
	assert.True(t, status.LastSeen.After(before))
}

func TestSQLStoreClearsSessionsOnReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "presence.db")

	s, err := NewSQL(config.SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	// The process dies without reaping connection 7
	require.NoError(t, s.OnLogin(ctx, 7, "alice"))
	before, err := s.Status(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQL(config.SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer reopened.Close()

	online, err := reopened.Online(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online, "no live connection after restart")

	status, err := reopened.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.LastSeen.Equal(before.LastSeen), "last seen is kept")

	// The new process reuses id 7 for someone else
	require.NoError(t, reopened.OnLogin(ctx, 7, "bob"))
	require.NoError(t, reopened.OnDisconnect(ctx, 7))

	bob, err := reopened.Online(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, bob)

	var sessions int64
	require.NoError(t, reopened.db.Model(&Session{}).Count(&sessions).Error)
	assert.Zero(t, sessions)
}

func TestSQLUnsupportedDriver(t *testing.T) {
	_, err := NewSQL(config.SQLConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("JSONWIRE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JSONWIRE_TEST_REDIS_ADDR not set")
	}

	prefix := "jsonwire-test:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"
	s, err := NewRedis(context.Background(), config.RedisConfig{Addr: addr, KeyPrefix: prefix})
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestRedisStoreClearsSessionsOnReopen(t *testing.T) {
	addr := os.Getenv("JSONWIRE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JSONWIRE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	cfg := config.RedisConfig{
		Addr:      addr,
		KeyPrefix: "jsonwire-test:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":",
	}

	s, err := NewRedis(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.OnLogin(ctx, 7, "alice"))
	require.NoError(t, s.Close())

	reopened, err := NewRedis(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	online, err := reopened.Online(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online, "no live connection after restart")

	n, err := reopened.client.Exists(ctx, reopened.connKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.PresenceConfig{Backend: config.PresenceMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(ctx, config.PresenceConfig{
		Backend: config.PresenceSQL,
		SQL:     config.SQLConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "p.db")},
	})
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, config.PresenceConfig{Backend: "etcd"})
	assert.Error(t, err)
}
