package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const UserIDHeader = "X-User-ID"

type anomalyContextKey struct{}

// NewAnomalyMiddleware pontua as requisições de chamadores identificados sob action.
// O chamador é o principal verificado quando presente, senão o header X-User-ID.
// clientIP assume KeyByIP quando nil. A pontuação nunca faz a requisição falhar.
func NewAnomalyMiddleware(analyzer ports.AnomalyAnalyzer, action string, clientIP KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clientIP == nil {
		clientIP = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := callerID(r)
			if analyzer == nil || userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if _, err := analyzer.IncrementActionCounter(ctx, userID, action, 0); err != nil {
				logger.Debug("failed to increment action counter",
					zap.String("user_id", userID),
					zap.String("action", action),
					zap.Error(err),
				)
			}

			result := analyzer.Analyze(ctx, domain.AnomalyContext{
				UserID:    userID,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
				Action:    action,
			})
			if len(result.Flags) > 0 {
				logger.Info("request anomaly flags",
					zap.String("user_id", userID),
					zap.String("action", action),
					zap.Float64("risk_score", result.RiskScore),
					zap.Any("flags", result.Flags),
					zap.String("request_id", GetRequestID(ctx)),
				)
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, anomalyContextKey{}, result)))
		})
	}
}

// AnomalyFromContext retorna o score calculado para a requisição atual.
func AnomalyFromContext(ctx context.Context) (domain.AnomalyResult, bool) {
	result, ok := ctx.Value(anomalyContextKey{}).(domain.AnomalyResult)
	return result, ok
}

func callerID(r *http.Request) string {
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return principal.Subject
	}
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}
