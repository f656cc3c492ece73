// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

type Config struct {
	Deployment   domain.DeploymentMode
	Server       ServerConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Anomaly      AnomalyConfig
	Audit        AuditConfig
	ServiceToken ServiceTokenConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	AdminToken      string
	ShutdownTimeout time.Duration
	// TrustedProxies são os únicos peers cujo X-Forwarded-For é aceito.
	TrustedProxies []netip.Prefix
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	DialTimeout          time.Duration
	CommandTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RateLimitConfig struct {
	LocalMaxEntries int
	CleanupInterval time.Duration
	Presets         map[domain.Preset]domain.RateLimitRule
}

type AnomalyConfig struct {
	RiskThreshold          float64
	HighFrequencyThreshold int64
	CounterWindow          time.Duration
}

type AuditConfig struct {
	// SQLitePath habilita a trilha persistente de anomalias quando definido.
	SQLitePath string
}

type ServiceTokenConfig struct {
	Issuer     string
	Audience   string
	Secret     string
	DefaultTTL time.Duration
}

type LoggingConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.command_timeout", 2*time.Second)
	v.SetDefault("redis.reconnect_interval", time.Second)
	v.SetDefault("redis.max_reconnect_interval", 30*time.Second)

	v.SetDefault("rate_limit.local_max_entries", 10000)
	v.SetDefault("rate_limit.cleanup_interval", time.Minute)

	v.SetDefault("anomaly.risk_threshold", 0.5)
	v.SetDefault("anomaly.high_frequency_threshold", 100)
	v.SetDefault("anomaly.counter_window", time.Minute)

	v.SetDefault("service_token.issuer", "pagespace")
	v.SetDefault("service_token.default_ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
}

// Load lê o .env quando presente e depois o ambiente do processo pela instância
// global do viper, de modo que flags do cobra vinculadas a ela têm precedência.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (Config, error) {
	_ = godotenv.Load()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	server, err := buildServerConfig(v)
	if err != nil {
		return Config{}, err
	}
	redisConfig, err := buildRedisConfig(v)
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := buildRateLimitConfig(v)
	if err != nil {
		return Config{}, err
	}
	anomaly, err := buildAnomalyConfig(v)
	if err != nil {
		return Config{}, err
	}
	serviceToken, err := buildServiceTokenConfig(v)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Deployment:   domain.ParseDeploymentMode(v.GetString("app.env")),
		Server:       server,
		Redis:        redisConfig,
		RateLimit:    rateLimit,
		Anomaly:      anomaly,
		Audit:        AuditConfig{SQLitePath: strings.TrimSpace(v.GetString("audit.sqlite_path"))},
		ServiceToken: serviceToken,
		Logging:      LoggingConfig{Level: v.GetString("logging.level")},
	}, nil
}

func buildServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := v.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return ServerConfig{}, fmt.Errorf("invalid SERVER_PORT: %d", port)
	}
	proxies, err := buildTrustedProxies(v.GetString("server.trusted_proxies"))
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Host:            v.GetString("server.host"),
		Port:            port,
		AdminToken:      strings.TrimSpace(v.GetString("admin.token")),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		TrustedProxies:  proxies,
	}, nil
}

// buildTrustedProxies aceita uma lista separada por vírgulas de endereços e prefixos CIDR.
func buildTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid SERVER_TRUSTED_PROXIES entry %q: %w", item, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_TRUSTED_PROXIES entry %q: %w", item, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func buildRedisConfig(v *viper.Viper) (RedisConfig, error) {
	port := v.GetInt("redis.port")
	if port <= 0 || port > 65535 {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %d", port)
	}
	db := v.GetInt("redis.db")
	if db < 0 {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %d", db)
	}
	cfg := RedisConfig{
		Host:                 v.GetString("redis.host"),
		Port:                 port,
		Password:             v.GetString("redis.password"),
		DB:                   db,
		DialTimeout:          v.GetDuration("redis.dial_timeout"),
		CommandTimeout:       v.GetDuration("redis.command_timeout"),
		ReconnectInterval:    v.GetDuration("redis.reconnect_interval"),
		MaxReconnectInterval: v.GetDuration("redis.max_reconnect_interval"),
	}
	if cfg.CommandTimeout <= 0 {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_COMMAND_TIMEOUT: %s", cfg.CommandTimeout)
	}
	return cfg, nil
}

func buildRateLimitConfig(v *viper.Viper) (RateLimitConfig, error) {
	presets, err := buildPresetOverrides(v.GetString("rate_limit.presets"))
	if err != nil {
		return RateLimitConfig{}, err
	}
	return RateLimitConfig{
		LocalMaxEntries: v.GetInt("rate_limit.local_max_entries"),
		CleanupInterval: v.GetDuration("rate_limit.cleanup_interval"),
		Presets:         presets,
	}, nil
}

// buildPresetOverrides interpreta entradas NAME:MAX:WINDOW_SECONDS[:BLOCK_SECONDS]
// separadas por vírgula sobre os presets embutidos.
func buildPresetOverrides(raw string) (map[domain.Preset]domain.RateLimitRule, error) {
	presets := domain.DefaultPresets()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return presets, nil
	}

	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("preset override must follow NAME:MAX:WINDOW_SECONDS[:BLOCK_SECONDS]: %s", item)
		}

		name := domain.ParsePreset(parts[0])
		maxAttempts, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid max attempts for preset %s: %w", name, err)
		}
		windowSeconds, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid window seconds for preset %s: %w", name, err)
		}

		rule := presets[name]
		rule.MaxAttempts = maxAttempts
		rule.Window = time.Duration(windowSeconds) * time.Second
		if len(parts) == 4 {
			blockSeconds, err := strconv.Atoi(parts[3])
			if err != nil {
				return nil, fmt.Errorf("invalid block seconds for preset %s: %w", name, err)
			}
			rule.BlockDuration = time.Duration(blockSeconds) * time.Second
		} else if rule.BlockDuration == 0 {
			rule.BlockDuration = rule.Window
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid preset %s: %w", name, err)
		}
		presets[name] = rule
	}
	return presets, nil
}

func buildAnomalyConfig(v *viper.Viper) (AnomalyConfig, error) {
	cfg := AnomalyConfig{
		RiskThreshold:          v.GetFloat64("anomaly.risk_threshold"),
		HighFrequencyThreshold: v.GetInt64("anomaly.high_frequency_threshold"),
		CounterWindow:          v.GetDuration("anomaly.counter_window"),
	}
	if cfg.CounterWindow <= 0 {
		return AnomalyConfig{}, fmt.Errorf("invalid ANOMALY_COUNTER_WINDOW: %s", cfg.CounterWindow)
	}
	return cfg, nil
}

func buildServiceTokenConfig(v *viper.Viper) (ServiceTokenConfig, error) {
	cfg := ServiceTokenConfig{
		Issuer:     v.GetString("service_token.issuer"),
		Audience:   v.GetString("service_token.audience"),
		Secret:     v.GetString("service_token.secret"),
		DefaultTTL: v.GetDuration("service_token.default_ttl"),
	}
	if cfg.Secret != "" && len(cfg.Secret) < 32 {
		return ServiceTokenConfig{}, fmt.Errorf("SERVICE_TOKEN_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}
