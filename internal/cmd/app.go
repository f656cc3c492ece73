package cmd

import (
	"context"
	"crypto/rand"
	"fmt"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/adapters/audit"
	"github.com/2witstudios/pagespace-security/internal/adapters/audit/sqlite"
	redisstore "github.com/2witstudios/pagespace-security/internal/adapters/storage/redis"
	"github.com/2witstudios/pagespace-security/internal/config"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
	"github.com/2witstudios/pagespace-security/internal/core/services"
	"github.com/2witstudios/pagespace-security/internal/observability"
)

// app reúne os componentes de longa duração montados a partir de uma configuração.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	connector *redisstore.Connector
	window    *services.SlidingWindowLimiter
	local     *services.LocalRateLimiter
	limiter   *services.RateLimiterService
	ledger    *services.JTILedger
	detector  *services.AnomalyDetector
	tokens    *services.ServiceTokenIssuer
	trail     *sqlite.Store
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := observability.NewLogger(level, cfg.Deployment)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	opts := []services.Option{services.WithLogger(a.logger)}

	connector, err := redisstore.New(redisstore.Config{
		Addr:                 cfg.Redis.Addr(),
		Password:             cfg.Redis.Password,
		DB:                   cfg.Redis.DB,
		DialTimeout:          cfg.Redis.DialTimeout,
		CommandTimeout:       cfg.Redis.CommandTimeout,
		ReconnectInterval:    cfg.Redis.ReconnectInterval,
		MaxReconnectInterval: cfg.Redis.MaxReconnectInterval,
	}, a.logger)
	if err != nil {
		return err
	}
	a.connector = connector
	// A primeira tentativa só define o estado do connector; cada chamador decide o que uma falha significa.
	_ = connector.Connect(ctx)

	if a.window, err = services.NewSlidingWindowLimiter(connector, opts...); err != nil {
		return err
	}
	a.local = services.NewLocalRateLimiter(services.LocalLimiterConfig{
		MaxEntries:      cfg.RateLimit.LocalMaxEntries,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	}, opts...)
	if a.limiter, err = services.NewRateLimiterService(a.window, a.local, cfg.Deployment, opts...); err != nil {
		return err
	}
	if a.ledger, err = services.NewJTILedger(connector, opts...); err != nil {
		return err
	}

	sinks := audit.MultiSink{audit.NewLogSink(a.logger)}
	if cfg.Audit.SQLitePath != "" {
		if a.trail, err = sqlite.Open(cfg.Audit.SQLitePath); err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		sinks = append(sinks, a.trail)
	}

	anomalyCfg := services.DefaultAnomalyConfig()
	anomalyCfg.RiskThreshold = cfg.Anomaly.RiskThreshold
	anomalyCfg.HighFrequencyThreshold = cfg.Anomaly.HighFrequencyThreshold
	anomalyCfg.CounterWindow = cfg.Anomaly.CounterWindow
	if a.detector, err = services.NewAnomalyDetector(connector, sinks, anomalyCfg, opts...); err != nil {
		return err
	}

	secret, err := a.serviceTokenSecret()
	if err != nil {
		return err
	}
	a.tokens, err = services.NewServiceTokenIssuer(a.ledger, services.ServiceTokenConfig{
		Issuer:     cfg.ServiceToken.Issuer,
		Audience:   cfg.ServiceToken.Audience,
		Secret:     secret,
		DefaultTTL: cfg.ServiceToken.DefaultTTL,
	}, opts...)
	return err
}

// serviceTokenSecret usa uma chave efêmera fora de produção.
func (a *app) serviceTokenSecret() ([]byte, error) {
	if a.cfg.ServiceToken.Secret != "" {
		return []byte(a.cfg.ServiceToken.Secret), nil
	}
	if a.cfg.Deployment.IsProduction() {
		return nil, fmt.Errorf("SERVICE_TOKEN_SECRET is required in production")
	}
	a.logger.Warn("SERVICE_TOKEN_SECRET not set, using an ephemeral key; issued tokens will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate service token secret: %w", err)
	}
	return secret, nil
}

// requireStore faz os comandos administrativos falharem logo quando o store está inacessível.
func (a *app) requireStore(ctx context.Context) (ports.Storage, error) {
	store, err := a.connector.Store(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis at %s: %w", a.cfg.Redis.Addr(), err)
	}
	return store, nil
}

func (a *app) Close() {
	if a.detector != nil {
		a.detector.Flush()
	}
	if a.local != nil {
		a.local.Close()
	}
	if a.trail != nil {
		if err := a.trail.Close(); err != nil {
			a.logger.Warn("failed to close audit trail", zap.Error(err))
		}
	}
	if a.connector != nil {
		if err := a.connector.Close(); err != nil {
			a.logger.Warn("failed to close redis connection", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
