package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	redisstore "github.com/2witstudios/pagespace-security/internal/adapters/storage/redis"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

var errBoom = errors.New("boom")

func newTestStores(t *testing.T) (*redisstore.Connector, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	conn := redisstore.NewWithClient(client, redisstore.Config{Addr: mr.Addr()}, nil)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Connect(context.Background()))
	return conn, mr
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// unavailableStores never hands out a store.
type unavailableStores struct{}

func (unavailableStores) Store(context.Context) (ports.Storage, error) {
	return nil, domain.ErrStoreUnavailable
}

func (unavailableStores) Ping(context.Context) error {
	return errBoom
}

// staticStores hands out a fixed storage, typically a failing wrapper.
type staticStores struct {
	store ports.Storage
}

func (s staticStores) Store(context.Context) (ports.Storage, error) { return s.store, nil }
func (s staticStores) Ping(context.Context) error                   { return nil }

// flakyStorage wraps a real storage and fails the operations listed in failing.
type flakyStorage struct {
	ports.Storage
	failing map[string]bool
}

func (f flakyStorage) Get(ctx context.Context, key string) (string, error) {
	if f.failing["Get"] {
		return "", errBoom
	}
	return f.Storage.Get(ctx, key)
}

func (f flakyStorage) Del(ctx context.Context, keys ...string) error {
	if f.failing["Del"] {
		return errBoom
	}
	return f.Storage.Del(ctx, keys...)
}

func (f flakyStorage) SetMembers(ctx context.Context, key string) ([]string, error) {
	if f.failing["SetMembers"] {
		return nil, errBoom
	}
	return f.Storage.SetMembers(ctx, key)
}

func (f flakyStorage) AppendWindow(ctx context.Context, key string, entry domain.WindowEntry, windowStart time.Time, ttl time.Duration) (int64, error) {
	if f.failing["AppendWindow"] {
		return 0, errBoom
	}
	return f.Storage.AppendWindow(ctx, key, entry, windowStart, ttl)
}

// recordingSink captures anomaly reports.
type recordingSink struct {
	mu      sync.Mutex
	reports []domain.AnomalyEvent
	err     error
}

func (s *recordingSink) LogAnomalyDetected(_ context.Context, userID, ip string, riskScore float64, flags []domain.AnomalyFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, domain.AnomalyEvent{UserID: userID, IPAddress: ip, RiskScore: riskScore, Flags: flags})
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
