// Package audit contém os destinos para eventos de anomalia de alto risco.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

// LogSink registra cada relatório como um evento estruturado de nível warn.
type LogSink struct {
	logger *zap.Logger
}

var _ ports.AuditSink = (*LogSink)(nil)

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) LogAnomalyDetected(_ context.Context, userID, ip string, riskScore float64, flags []domain.AnomalyFlag) error {
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	s.logger.Warn("anomaly detected",
		zap.String("user_id", userID),
		zap.String("ip", ip),
		zap.Float64("risk_score", riskScore),
		zap.Strings("flags", names),
	)
	return nil
}

// MultiSink repassa o relatório a todos os sinks e agrega seus erros.
type MultiSink []ports.AuditSink

var _ ports.AuditSink = MultiSink(nil)

func (m MultiSink) LogAnomalyDetected(ctx context.Context, userID, ip string, riskScore float64, flags []domain.AnomalyFlag) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.LogAnomalyDetected(ctx, userID, ip, riskScore, flags); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
