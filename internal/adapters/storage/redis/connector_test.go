package redis

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestConnector_StoreWhenReady(t *testing.T) {
	conn, _ := newTestConnector(t)

	store, err := conn.Store(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.True(t, conn.Ready())
}

func TestConnector_MarksDownAndBacksOff(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	conn := NewWithClient(client, Config{
		Addr:                 addr,
		DialTimeout:          200 * time.Millisecond,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 4 * time.Second,
	}, nil)
	t.Cleanup(func() { _ = conn.Close() })

	now := time.Unix(1_700_000_000, 0)
	conn.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	mr.Close()

	// a transport error from a command flips the connector to not ready
	_, err := conn.storage.Get(ctx, "anything")
	require.Error(t, err)
	assert.False(t, conn.Ready())

	// within the backoff window no ping is attempted
	_, err = conn.Store(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	now = now.Add(time.Second)
	_, err = conn.Store(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	conn.mu.Lock()
	assert.Equal(t, now.Add(2*time.Second), conn.nextAttempt)
	conn.mu.Unlock()

	require.NoError(t, mr.Restart())
	now = now.Add(2 * time.Second)

	store, err := conn.Store(ctx)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.True(t, conn.Ready())
}

func TestConnector_BackoffCapped(t *testing.T) {
	conn := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), Config{
		Addr:                 "127.0.0.1:0",
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 3 * time.Second,
	}, nil)
	t.Cleanup(func() { _ = conn.Close() })

	now := time.Unix(0, 0)
	conn.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		conn.markDown(assert.AnError)
		now = conn.nextAttempt
	}
	assert.Equal(t, 3*time.Second, conn.backoff)

	// failures before the scheduled retry leave it where it is
	scheduled := now.Add(time.Second)
	conn.nextAttempt = scheduled
	conn.markDown(assert.AnError)
	assert.Equal(t, scheduled, conn.nextAttempt)
}

func TestConnector_CancelledPingKeepsReady(t *testing.T) {
	conn, _ := newTestConnector(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = conn.Ping(ctx)
	assert.True(t, conn.Ready())

	_, err := conn.Store(context.Background())
	assert.NoError(t, err)
}

func TestConnector_CancelledCommandKeepsReady(t *testing.T) {
	conn, mr := newTestConnector(t)
	require.NoError(t, mr.Set("k", "v"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	value, err := conn.storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	assert.True(t, conn.Ready())
}

func TestConnector_OneRetryPerInterval(t *testing.T) {
	// accepts connections and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var (
		accepted atomic.Int32
		mu       sync.Mutex
		open     []net.Conn
	)
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range open {
			_ = c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			mu.Lock()
			open = append(open, c)
			mu.Unlock()
		}
	}()

	addr := ln.Addr().String()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 300 * time.Millisecond})
	conn := NewWithClient(client, Config{
		Addr:              addr,
		DialTimeout:       300 * time.Millisecond,
		ReconnectInterval: time.Minute,
	}, nil)
	t.Cleanup(func() { _ = conn.Close() })

	now := time.Unix(1_700_000_000, 0)
	conn.now = func() time.Time { return now }

	const callers = 30
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conn.Store(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	}
	require.Eventually(t, func() bool { return accepted.Load() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), accepted.Load())

	conn.mu.Lock()
	assert.Equal(t, now.Add(time.Minute), conn.nextAttempt)
	conn.mu.Unlock()
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(redis.Nil))
	assert.True(t, isConnectionError(redis.ErrClosed))
}
