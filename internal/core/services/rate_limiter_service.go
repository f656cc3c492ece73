package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

// MaxProgressiveDelay limita o bloqueio progressivo.
const MaxProgressiveDelay = 30 * time.Minute

// RateLimiterService implementa a política de implantação sobre a janela
// deslizante: usa o store compartilhado quando acessível; sem ele, a camada
// local em desenvolvimento ou a negação em produção.
type RateLimiterService struct {
	window *SlidingWindowLimiter
	local  *LocalRateLimiter
	mode   domain.DeploymentMode
	clock  Clock
	logger *zap.Logger
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

func NewRateLimiterService(window *SlidingWindowLimiter, local *LocalRateLimiter, mode domain.DeploymentMode, opts ...Option) (*RateLimiterService, error) {
	if window == nil {
		return nil, fmt.Errorf("sliding window limiter is required")
	}
	if local == nil {
		return nil, fmt.Errorf("local rate limiter is required")
	}
	o := buildOptions(opts)
	return &RateLimiterService{
		window: window,
		local:  local,
		mode:   mode,
		clock:  o.clock,
		logger: o.logger,
	}, nil
}

// Initialize pinga o store na inicialização. Em produção, um store inacessível é fatal.
func (s *RateLimiterService) Initialize(ctx context.Context) (domain.BackendMode, error) {
	if err := s.window.stores.Ping(ctx); err != nil {
		if s.mode.IsProduction() {
			s.logger.Error("rate limiting backend unreachable in production", zap.Error(err))
			return domain.BackendNone, fmt.Errorf("%w: %v", domain.ErrRateLimitBackendRequired, err)
		}
		s.logger.Warn("rate limiting backend unreachable, using in-memory limiter", zap.Error(err))
		return domain.BackendMemory, nil
	}
	s.logger.Info("distributed rate limiting ready", zap.String("backend", string(domain.BackendRedis)))
	return domain.BackendRedis, nil
}

// Allow avalia e consome uma tentativa de identifier sob rule. Nunca retorna
// erro: problemas no store são resolvidos pela política de implantação.
func (s *RateLimiterService) Allow(ctx context.Context, identifier string, rule domain.RateLimitRule) domain.Decision {
	if err := rule.Validate(); err != nil {
		s.logger.Error("invalid rate limit rule", zap.String("identifier", identifier), zap.Error(err))
		return domain.Decision{Identifier: identifier, AppliedRule: rule, RetryAfter: time.Second, Backend: domain.BackendNone}
	}

	result, err := s.window.Check(ctx, identifier, rule.MaxAttempts, rule.Window)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			s.logger.Warn("rate limit store call failed",
				zap.String("identifier", identifier),
				zap.Error(err),
			)
		}
		return s.degrade(identifier, rule, err)
	}
	return s.decide(identifier, rule, result, domain.BackendRedis)
}

// Reset limpa as duas camadas. Falhas do store são logadas e ignoradas.
func (s *RateLimiterService) Reset(ctx context.Context, identifier string) {
	s.local.Reset(identifier)
	if err := s.window.Reset(ctx, identifier); err != nil {
		s.logger.Warn("failed to reset distributed rate limit",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
	}
}

func (s *RateLimiterService) degrade(identifier string, rule domain.RateLimitRule, cause error) domain.Decision {
	if s.mode.IsProduction() {
		s.logger.Error("rate limit store unavailable in production, denying request",
			zap.String("identifier", identifier),
			zap.Error(cause),
		)
		return domain.Decision{
			Allowed:     false,
			Identifier:  identifier,
			AppliedRule: rule,
			RetryAfter:  ceilSeconds(rule.Window),
			Backend:     domain.BackendNone,
		}
	}

	s.logger.Warn("rate limit store unavailable, using in-memory limiter",
		zap.String("identifier", identifier),
		zap.Error(cause),
	)
	result := s.local.Check(identifier, rule.MaxAttempts, rule.Window)
	return s.decide(identifier, rule, result, domain.BackendMemory)
}

func (s *RateLimiterService) decide(identifier string, rule domain.RateLimitRule, result domain.RateLimitResult, backend domain.BackendMode) domain.Decision {
	decision := domain.Decision{
		Allowed:           result.Allowed,
		Identifier:        identifier,
		AppliedRule:       rule,
		AttemptsRemaining: result.Remaining,
		Backend:           backend,
	}
	if result.Allowed {
		return decision
	}

	if rule.ProgressiveDelay {
		decision.RetryAfter = ProgressiveRetryAfter(result.TotalCount, rule)
	} else {
		decision.RetryAfter = ceilSeconds(result.ResetAt.Sub(s.clock()))
	}
	if decision.RetryAfter < time.Second {
		decision.RetryAfter = time.Second
	}
	return decision
}

// ProgressiveRetryAfter dobra a duração do bloqueio a cada tentativa acima do
// limite, até MaxProgressiveDelay, arredondando para segundos inteiros.
func ProgressiveRetryAfter(totalCount int, rule domain.RateLimitRule) time.Duration {
	excess := totalCount - rule.MaxAttempts
	if excess < 0 {
		excess = 0
	}
	delay := rule.BlockDuration
	if delay <= 0 {
		delay = rule.Window
	}
	for i := 0; i < excess && delay < MaxProgressiveDelay; i++ {
		delay *= 2
	}
	if delay > MaxProgressiveDelay {
		delay = MaxProgressiveDelay
	}
	return ceilSeconds(delay)
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
