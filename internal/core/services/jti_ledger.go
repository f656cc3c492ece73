package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const JTIKeyPrefix = "jti:"

// JTILedger acompanha os identificadores de tokens emitidos. O que não puder provar válido é tratado como revogado.
type JTILedger struct {
	stores ports.StoreProvider
	clock  Clock
	logger *zap.Logger
}

var _ ports.TokenLedger = (*JTILedger)(nil)

func NewJTILedger(stores ports.StoreProvider, opts ...Option) (*JTILedger, error) {
	if stores == nil {
		return nil, fmt.Errorf("store provider is required")
	}
	o := buildOptions(opts)
	return &JTILedger{stores: stores, clock: o.clock, logger: o.logger}, nil
}

// Record grava jti como válido por ttl, normalmente o tempo de vida do token.
func (l *JTILedger) Record(ctx context.Context, jti, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.ErrInvalidTTL
	}
	store, err := l.stores.Store(ctx)
	if err != nil {
		return err
	}

	record := domain.JTIRecord{
		Status:    domain.JTIStatusValid,
		UserID:    userID,
		CreatedAt: l.clock().UnixMilli(),
	}
	if err := l.write(ctx, store, jti, record, ttl); err != nil {
		return fmt.Errorf("record jti: %w", err)
	}
	return nil
}

// IsRevoked retorna true para registros revogados, desconhecidos, expirados ou
// ilegíveis e sempre que o store estiver inacessível.
func (l *JTILedger) IsRevoked(ctx context.Context, jti string) bool {
	store, err := l.stores.Store(ctx)
	if err != nil {
		l.logger.Warn("jti ledger unavailable, treating token as revoked", zap.Error(err))
		return true
	}

	record, err := l.read(ctx, store, jti)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.Warn("jti lookup failed, treating token as revoked",
				zap.Stringer("jti", domain.SensitiveToken(jti)),
				zap.Error(err),
			)
		}
		return true
	}
	return record.Status != domain.JTIStatusValid
}

// Revoke marca jti como revogado pelo resto do seu tempo de vida. Retorna
// false quando não há registro vivo.
func (l *JTILedger) Revoke(ctx context.Context, jti, reason string) (bool, error) {
	store, err := l.stores.Store(ctx)
	if err != nil {
		return false, err
	}

	ttl, err := store.TTL(ctx, JTIKeyPrefix+jti)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read jti ttl: %w", err)
	}
	if ttl <= 0 {
		return false, nil
	}

	previous, err := l.read(ctx, store, jti)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		l.logger.Debug("jti record unreadable, revoking without owner",
			zap.Stringer("jti", domain.SensitiveToken(jti)),
			zap.Error(err),
		)
	}

	now := l.clock().UnixMilli()
	record := domain.JTIRecord{
		Status:    domain.JTIStatusRevoked,
		UserID:    previous.UserID,
		CreatedAt: previous.CreatedAt,
		RevokedAt: now,
		Reason:    reason,
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	if err := l.write(ctx, store, jti, record, ttl); err != nil {
		return false, fmt.Errorf("revoke jti: %w", err)
	}

	l.logger.Info("jti revoked",
		zap.Stringer("jti", domain.SensitiveToken(jti)),
		zap.String("user_id", record.UserID),
		zap.String("reason", reason),
		zap.Duration("remaining_ttl", ttl),
	)
	return true, nil
}

// Lookup retorna o registro guardado e o tempo de vida restante, ou domain.ErrNotFound.
func (l *JTILedger) Lookup(ctx context.Context, jti string) (domain.JTIInfo, error) {
	store, err := l.stores.Store(ctx)
	if err != nil {
		return domain.JTIInfo{}, err
	}

	record, err := l.read(ctx, store, jti)
	if err != nil {
		return domain.JTIInfo{}, err
	}
	ttl, err := store.TTL(ctx, JTIKeyPrefix+jti)
	if err != nil {
		return domain.JTIInfo{}, err
	}
	return domain.JTIInfo{Record: record, TTL: ttl}, nil
}

func (l *JTILedger) read(ctx context.Context, store ports.Storage, jti string) (domain.JTIRecord, error) {
	raw, err := store.Get(ctx, JTIKeyPrefix+jti)
	if err != nil {
		return domain.JTIRecord{}, err
	}
	var record domain.JTIRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return domain.JTIRecord{}, fmt.Errorf("decode jti record: %w", err)
	}
	return record, nil
}

func (l *JTILedger) write(ctx context.Context, store ports.Storage, jti string, record domain.JTIRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, JTIKeyPrefix+jti, string(payload), ttl)
}
