// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

type TokenLedger interface {
	IsRevoked(ctx context.Context, jti string) bool
	Revoke(ctx context.Context, jti, reason string) (bool, error)
	Lookup(ctx context.Context, jti string) (domain.JTIInfo, error)
}

type AnomalyAnalyzer interface {
	Analyze(ctx context.Context, actx domain.AnomalyContext) domain.AnomalyResult
	IncrementActionCounter(ctx context.Context, userID, action string, window time.Duration) (int64, error)
	AddBadIP(ctx context.Context, ip string) bool
	RemoveBadIP(ctx context.Context, ip string) bool
}

type ServiceTokens interface {
	Issue(ctx context.Context, subject string, scopes []string, ttl time.Duration) (domain.ServiceToken, error)
	Verify(ctx context.Context, token string) (domain.ServicePrincipal, error)
}

// AuditSink recebe relatórios de anomalias de alto risco. Falhas são tratadas como best-effort.
type AuditSink interface {
	LogAnomalyDetected(ctx context.Context, userID, ip string, riskScore float64, flags []domain.AnomalyFlag) error
}
