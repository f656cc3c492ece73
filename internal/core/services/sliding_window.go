package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

// RateLimitKeyPrefix separa as chaves da janela deslizante dos namespaces de JTI e anomalias.
const RateLimitKeyPrefix = "ratelimit:"

// SlidingWindowLimiter conta eventos por chave em um sorted set no store.
type SlidingWindowLimiter struct {
	stores ports.StoreProvider
	clock  Clock
	logger *zap.Logger
}

var _ ports.RateLimitInspector = (*SlidingWindowLimiter)(nil)

// WindowStatus associa um identificador ao estado atual da sua janela.
type WindowStatus struct {
	Identifier string
	Result     domain.RateLimitResult
}

func NewSlidingWindowLimiter(stores ports.StoreProvider, opts ...Option) (*SlidingWindowLimiter, error) {
	if stores == nil {
		return nil, fmt.Errorf("store provider is required")
	}
	o := buildOptions(opts)
	return &SlidingWindowLimiter{stores: stores, clock: o.clock, logger: o.logger}, nil
}

// Check consome uma vaga para key. Uma requisição acima do limite é retirada da
// janela para que chamadores rejeitados não prolonguem o próprio bloqueio.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitResult, error) {
	if window <= 0 {
		return domain.RateLimitResult{}, domain.ErrInvalidWindow
	}
	store, err := l.stores.Store(ctx)
	if err != nil {
		return domain.RateLimitResult{}, err
	}

	now := l.clock()
	entry := domain.WindowEntry{
		Timestamp: now,
		Member:    fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
	}
	storeKey := RateLimitKeyPrefix + key

	total, err := store.AppendWindow(ctx, storeKey, entry, now.Add(-window), window)
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("sliding window check: %w", err)
	}

	result := buildResult(int(total), limit, now.Add(window))
	if !result.Allowed {
		if rmErr := store.RemoveWindowEntry(ctx, storeKey, entry.Member); rmErr != nil {
			l.logger.Warn("failed to remove rejected window entry", zap.String("key", key), zap.Error(rmErr))
		}
	}
	return result, nil
}

// Status informa a janela sem registrar evento. Allowed indica se mais um Check
// passaria agora.
func (l *SlidingWindowLimiter) Status(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitResult, error) {
	if window <= 0 {
		return domain.RateLimitResult{}, domain.ErrInvalidWindow
	}
	store, err := l.stores.Store(ctx)
	if err != nil {
		return domain.RateLimitResult{}, err
	}

	now := l.clock()
	count, err := store.CountWindow(ctx, RateLimitKeyPrefix+key, now.Add(-window))
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("sliding window status: %w", err)
	}

	result := buildResult(int(count), limit, now.Add(window))
	result.Allowed = int(count) < limit
	return result, nil
}

func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	store, err := l.stores.Store(ctx)
	if err != nil {
		return err
	}
	if err := store.Del(ctx, RateLimitKeyPrefix+key); err != nil {
		return fmt.Errorf("sliding window reset: %w", err)
	}
	return nil
}

// List retorna o status de cada identificador que começa com prefix, ordenado por identificador.
func (l *SlidingWindowLimiter) List(ctx context.Context, prefix string, limit int, window time.Duration) ([]WindowStatus, error) {
	if window <= 0 {
		return nil, domain.ErrInvalidWindow
	}
	store, err := l.stores.Store(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := store.Keys(ctx, RateLimitKeyPrefix+escapeGlob(prefix)+"*")
	if err != nil {
		return nil, fmt.Errorf("list rate limit keys: %w", err)
	}
	sort.Strings(keys)

	statuses := make([]WindowStatus, 0, len(keys))
	for _, k := range keys {
		identifier := strings.TrimPrefix(k, RateLimitKeyPrefix)
		result, err := l.Status(ctx, identifier, limit, window)
		if err != nil {
			return nil, err
		}
		if result.TotalCount == 0 {
			continue
		}
		statuses = append(statuses, WindowStatus{Identifier: identifier, Result: result})
	}
	return statuses, nil
}

// escapeGlob escapa os metacaracteres do padrão de SCAN para que um prefixo
// case apenas consigo mesmo.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func buildResult(total, limit int, resetAt time.Time) domain.RateLimitResult {
	remaining := limit - total
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:    total <= limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		TotalCount: total,
	}
}
