// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule domain.RateLimitRule) domain.Decision
	Reset(ctx context.Context, identifier string)
}

type RateLimitInspector interface {
	Status(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitResult, error)
}
