package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

func newTestWindow(t *testing.T) (*SlidingWindowLimiter, *fakeClock) {
	t.Helper()

	stores, _ := newTestStores(t)
	clock := newFakeClock()
	limiter, err := NewSlidingWindowLimiter(stores, WithClock(clock.Now))
	require.NoError(t, err)
	return limiter, clock
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	limiter, clock := newTestWindow(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, "ip:login", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, result.Remaining)
		assert.Equal(t, i+1, result.TotalCount)
		assert.Equal(t, clock.Now().Add(time.Minute), result.ResetAt)
	}

	result, err := limiter.Check(ctx, "ip:login", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 6, result.TotalCount)
}

func TestSlidingWindow_RejectedAttemptIsNotKept(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := limiter.Check(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}

	status, err := limiter.Status(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalCount)
	assert.False(t, status.Allowed)
}

func TestSlidingWindow_RollsOver(t *testing.T) {
	limiter, clock := newTestWindow(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
	}
	result, err := limiter.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	clock.Advance(time.Minute)

	result, err = limiter.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)
}

func TestSlidingWindow_SlidesRatherThanResets(t *testing.T) {
	limiter, clock := newTestWindow(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	// only the first event has left the window
	result, err := limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.TotalCount)
}

func TestSlidingWindow_ResetForgetsKey(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, limiter.Reset(ctx, "k"))

	result, err := limiter.Check(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)
}

func TestSlidingWindow_KeysAreIsolated(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "a", 1, time.Minute)
		require.NoError(t, err)
	}

	result, err := limiter.Check(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindow_StatusDoesNotConsume(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		status, err := limiter.Status(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, status.TotalCount)
		assert.Equal(t, 2, status.Remaining)
		assert.True(t, status.Allowed)
	}

	result, err := limiter.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)
}

func TestSlidingWindow_ZeroLimitDenies(t *testing.T) {
	limiter, _ := newTestWindow(t)

	result, err := limiter.Check(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestSlidingWindow_RejectsInvalidWindow(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = limiter.Status(ctx, "k", 1, -time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestSlidingWindow_StoreUnavailable(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(unavailableStores{})
	require.NoError(t, err)

	_, err = limiter.Check(context.Background(), "k", 1, time.Minute)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestSlidingWindow_List(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	for _, id := range []string{"login:10.0.0.2", "login:10.0.0.1", "api:10.0.0.1"} {
		_, err := limiter.Check(ctx, id, 5, time.Minute)
		require.NoError(t, err)
	}

	statuses, err := limiter.List(ctx, "login:", 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "login:10.0.0.1", statuses[0].Identifier)
	assert.Equal(t, "login:10.0.0.2", statuses[1].Identifier)
	assert.Equal(t, 4, statuses[0].Result.Remaining)
}

func TestSlidingWindow_ListTreatsPrefixLiterally(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	for _, id := range []string{"user:a*b", "user:aXb", "user:a?c", "user:[x]1", "user:x1"} {
		_, err := limiter.Check(ctx, id, 5, time.Minute)
		require.NoError(t, err)
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"user:a*", []string{"user:a*b"}},
		{"user:a?", []string{"user:a?c"}},
		{"user:[x]", []string{"user:[x]1"}},
		{"*", nil},
	}
	for _, tt := range tests {
		statuses, err := limiter.List(ctx, tt.prefix, 5, time.Minute)
		require.NoError(t, err)
		var got []string
		for _, s := range statuses {
			got = append(got, s.Identifier)
		}
		assert.Equal(t, tt.want, got, tt.prefix)
	}
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `login:10.0.0.1`, escapeGlob("login:10.0.0.1"))
	assert.Equal(t, `a\*b\?\[c\]\\\\`, escapeGlob(`a*b?[c]\\`))
}

func TestSlidingWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	limiter, _ := newTestWindow(t)
	ctx := context.Background()

	const (
		limit   = 10
		callers = 50
	)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		errs    = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Check(ctx, "burst", limit, time.Minute)
			if err != nil {
				errs <- fmt.Errorf("check: %w", err)
				return
			}
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.EqualValues(t, limit, allowed.Load())
}
