package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const (
	anomalyLocationPrefix  = "anomaly:location:"
	anomalyUserAgentPrefix = "anomaly:ua:"
	anomalyFrequencyPrefix = "anomaly:freq:"
	anomalyBadIPKey        = "anomaly:bad_ips"
)

type AnomalyWeights struct {
	ImpossibleTravel float64
	NewUserAgent     float64
	HighFrequency    float64
	KnownBadIP       float64
}

type AnomalyConfig struct {
	// RiskThreshold é exclusivo: o score precisa ultrapassá-lo para ser reportado.
	RiskThreshold          float64
	HighFrequencyThreshold int64
	CounterWindow          time.Duration
	TravelWindow           time.Duration
	LocationTTL            time.Duration
	UserAgentTTL           time.Duration
	Weights                AnomalyWeights
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		RiskThreshold:          0.5,
		HighFrequencyThreshold: 100,
		CounterWindow:          time.Minute,
		TravelWindow:           time.Hour,
		LocationTTL:            24 * time.Hour,
		UserAgentTTL:           7 * 24 * time.Hour,
		Weights: AnomalyWeights{
			ImpossibleTravel: 0.4,
			NewUserAgent:     0.2,
			HighFrequency:    0.3,
			KnownBadIP:       0.5,
		},
	}
}

// AnomalyDetector pontua requisições a partir de sinais guardados no store
// compartilhado. Não mantém estado próprio por usuário.
type AnomalyDetector struct {
	stores ports.StoreProvider
	audit  ports.AuditSink
	cfg    AnomalyConfig
	clock  Clock
	logger *zap.Logger

	pending sync.WaitGroup
}

var _ ports.AnomalyAnalyzer = (*AnomalyDetector)(nil)

// NewAnomalyDetector aceita um sink nil; nesse caso resultados de alto risco são apenas retornados.
func NewAnomalyDetector(stores ports.StoreProvider, audit ports.AuditSink, cfg AnomalyConfig, opts ...Option) (*AnomalyDetector, error) {
	if stores == nil {
		return nil, fmt.Errorf("store provider is required")
	}
	if cfg.CounterWindow <= 0 || cfg.TravelWindow <= 0 || cfg.LocationTTL <= 0 || cfg.UserAgentTTL <= 0 {
		return nil, fmt.Errorf("anomaly windows must be positive")
	}
	o := buildOptions(opts)
	return &AnomalyDetector{stores: stores, audit: audit, cfg: cfg, clock: o.clock, logger: o.logger}, nil
}

// Analyze executa cada verificação de forma independente. Uma verificação que
// falha é ignorada; um store inacessível resulta em score zero.
func (d *AnomalyDetector) Analyze(ctx context.Context, actx domain.AnomalyContext) domain.AnomalyResult {
	result := domain.AnomalyResult{Flags: []domain.AnomalyFlag{}}

	store, err := d.stores.Store(ctx)
	if err != nil {
		d.logger.Debug("anomaly store unavailable, skipping analysis", zap.Error(err))
		return result
	}

	checks := []struct {
		flag   domain.AnomalyFlag
		weight float64
		run    func(context.Context, ports.Storage, domain.AnomalyContext) (bool, error)
	}{
		{domain.FlagImpossibleTravel, d.cfg.Weights.ImpossibleTravel, d.checkImpossibleTravel},
		{domain.FlagNewUserAgent, d.cfg.Weights.NewUserAgent, d.checkNewUserAgent},
		{domain.FlagHighFrequency, d.cfg.Weights.HighFrequency, d.checkHighFrequency},
		{domain.FlagKnownBadIP, d.cfg.Weights.KnownBadIP, d.checkKnownBadIP},
	}

	for _, check := range checks {
		fired, err := check.run(ctx, store, actx)
		if err != nil {
			d.logger.Debug("anomaly check failed",
				zap.String("check", string(check.flag)),
				zap.String("user_id", actx.UserID),
				zap.Error(err),
			)
			continue
		}
		if fired {
			result.RiskScore += check.weight
			result.Flags = append(result.Flags, check.flag)
		}
	}

	if result.RiskScore > d.cfg.RiskThreshold && d.audit != nil {
		if err := d.audit.LogAnomalyDetected(ctx, actx.UserID, actx.IPAddress, result.RiskScore, result.Flags); err != nil {
			d.logger.Warn("failed to report anomaly",
				zap.String("user_id", actx.UserID),
				zap.Error(err),
			)
		}
	}
	return result
}

// IncrementActionCounter alimenta a verificação de alta frequência. Uma janela não positiva usa o padrão configurado.
func (d *AnomalyDetector) IncrementActionCounter(ctx context.Context, userID, action string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = d.cfg.CounterWindow
	}
	store, err := d.stores.Store(ctx)
	if err != nil {
		return 0, err
	}
	return store.IncrementWithExpiry(ctx, frequencyKey(userID, action), window)
}

func (d *AnomalyDetector) AddBadIP(ctx context.Context, ip string) bool {
	return d.mutateBadIPs(ctx, ip, "add", func(store ports.Storage, addr string) error {
		return store.AddToSet(ctx, anomalyBadIPKey, 0, addr)
	})
}

func (d *AnomalyDetector) RemoveBadIP(ctx context.Context, ip string) bool {
	return d.mutateBadIPs(ctx, ip, "remove", func(store ports.Storage, addr string) error {
		return store.RemoveFromSet(ctx, anomalyBadIPKey, addr)
	})
}

// BadIPs lista os endereços sinalizados.
func (d *AnomalyDetector) BadIPs(ctx context.Context) ([]string, error) {
	store, err := d.stores.Store(ctx)
	if err != nil {
		return nil, err
	}
	return store.SetMembers(ctx, anomalyBadIPKey)
}

// Flush aguarda as escritas pendentes em background.
func (d *AnomalyDetector) Flush() {
	d.pending.Wait()
}

func (d *AnomalyDetector) mutateBadIPs(ctx context.Context, ip, op string, apply func(ports.Storage, string) error) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		d.logger.Warn("invalid bad ip", zap.String("ip", ip), zap.String("op", op))
		return false
	}
	store, err := d.stores.Store(ctx)
	if err == nil {
		err = apply(store, addr.Unmap().String())
	}
	if err != nil {
		d.logger.Warn("failed to update bad ip set", zap.String("ip", ip), zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}

func (d *AnomalyDetector) checkImpossibleTravel(ctx context.Context, store ports.Storage, actx domain.AnomalyContext) (bool, error) {
	key := anomalyLocationPrefix + actx.UserID
	now := d.clock()

	fired := false
	raw, err := store.Get(ctx, key)
	switch {
	case err == nil:
		var last domain.LastLocation
		if jsonErr := json.Unmarshal([]byte(raw), &last); jsonErr == nil {
			elapsed := now.Sub(time.UnixMilli(last.Timestamp))
			fired = last.IP != actx.IPAddress &&
				elapsed < d.cfg.TravelWindow &&
				ipPrefix(last.IP) != ipPrefix(actx.IPAddress)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return false, err
	}

	payload, err := json.Marshal(domain.LastLocation{IP: actx.IPAddress, Timestamp: now.UnixMilli()})
	if err != nil {
		return fired, err
	}
	if err := store.Set(ctx, key, string(payload), d.cfg.LocationTTL); err != nil {
		d.logger.Debug("failed to refresh last location", zap.String("user_id", actx.UserID), zap.Error(err))
	}
	return fired, nil
}

func (d *AnomalyDetector) checkNewUserAgent(ctx context.Context, store ports.Storage, actx domain.AnomalyContext) (bool, error) {
	// um agente vazio é tratado como qualquer outro: registrado, e novo quando inédito
	key := anomalyUserAgentPrefix + actx.UserID

	known, err := store.SetMembers(ctx, key)
	if err != nil {
		return false, err
	}
	d.recordUserAgentAsync(ctx, store, key, actx)

	if len(known) == 0 {
		return false, nil
	}
	for _, ua := range known {
		if ua == actx.UserAgent {
			return false, nil
		}
	}
	return true, nil
}

// recordUserAgentAsync adiciona o agente em background. O contexto da requisição
// é desvinculado para que uma requisição encerrada não cancele a escrita.
func (d *AnomalyDetector) recordUserAgentAsync(ctx context.Context, store ports.Storage, key string, actx domain.AnomalyContext) {
	ctx = context.WithoutCancel(ctx)
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		if err := store.AddToSet(ctx, key, d.cfg.UserAgentTTL, actx.UserAgent); err != nil {
			d.logger.Debug("failed to record user agent", zap.String("user_id", actx.UserID), zap.Error(err))
		}
	}()
}

func (d *AnomalyDetector) checkHighFrequency(ctx context.Context, store ports.Storage, actx domain.AnomalyContext) (bool, error) {
	raw, err := store.Get(ctx, frequencyKey(actx.UserID, actx.Action))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return count > d.cfg.HighFrequencyThreshold, nil
}

func (d *AnomalyDetector) checkKnownBadIP(ctx context.Context, store ports.Storage, actx domain.AnomalyContext) (bool, error) {
	ip := actx.IPAddress
	if addr, err := netip.ParseAddr(ip); err == nil {
		ip = addr.Unmap().String()
	}
	return store.IsSetMember(ctx, anomalyBadIPKey, ip)
}

func frequencyKey(userID, action string) string {
	return anomalyFrequencyPrefix + userID + ":" + action
}

// ipPrefix retorna a rede aproximada de um endereço: os dois primeiros octetos
// no IPv4 e os dois primeiros hextetos no IPv6.
func ipPrefix(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		parts := strings.SplitN(ip, ".", 3)
		if len(parts) < 2 {
			return ip
		}
		return parts[0] + "." + parts[1]
	}
	addr = addr.Unmap()
	bits := 16
	if addr.Is6() {
		bits = 32
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.String()
}
