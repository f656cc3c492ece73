package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

const (
	defaultLocalMaxEntries      = 10000
	defaultLocalCleanupInterval = time.Minute
)

type LocalLimiterConfig struct {
	MaxEntries      int
	CleanupInterval time.Duration
}

type localEntry struct {
	count     int
	expiresAt time.Time
}

// LocalRateLimiter é a camada local ao processo usada fora de produção quando o
// store compartilhado está inacessível. Seu estado se perde ao reiniciar.
type LocalRateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*localEntry
	maxEntries int

	clock  Clock
	logger *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalRateLimiter inicia o loop de limpeza em background; Close o encerra.
func NewLocalRateLimiter(cfg LocalLimiterConfig, opts ...Option) *LocalRateLimiter {
	o := buildOptions(opts)
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultLocalMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultLocalCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &LocalRateLimiter{
		entries:    make(map[string]*localEntry),
		maxEntries: cfg.MaxEntries,
		clock:      o.clock,
		logger:     o.logger,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go l.cleanupLoop(ctx, cfg.CleanupInterval)
	return l
}

func (l *LocalRateLimiter) Check(identifier string, limit int, window time.Duration) domain.RateLimitResult {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[identifier]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &localEntry{expiresAt: now.Add(window)}
		l.entries[identifier] = entry
	}
	entry.count++
	total := entry.count

	result := buildResult(total, limit, entry.expiresAt)
	if !result.Allowed {
		entry.count--
	}
	return result
}

func (l *LocalRateLimiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}

// Cleanup descarta as entradas expiradas e depois remove entradas arbitrárias
// até o mapa caber em MaxEntries. Retorna quantas entradas foram removidas.
func (l *LocalRateLimiter) Cleanup() int {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, entry := range l.entries {
		if !now.Before(entry.expiresAt) {
			delete(l.entries, id)
			removed++
		}
	}
	for id := range l.entries {
		if len(l.entries) <= l.maxEntries {
			break
		}
		delete(l.entries, id)
		removed++
	}
	return removed
}

func (l *LocalRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalRateLimiter) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.done
	})
}

func (l *LocalRateLimiter) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				l.logger.Debug("local rate limiter cleanup", zap.Int("removed", n))
			}
		}
	}
}
