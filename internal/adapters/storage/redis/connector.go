package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultCommandTimeout    = 2 * time.Second
	defaultReconnectInterval = time.Second
	defaultMaxReconnect      = 30 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// ReconnectInterval é a primeira espera após um ping falho; dobra até MaxReconnectInterval.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxReconnectInterval < c.ReconnectInterval {
		c.MaxReconnectInterval = defaultMaxReconnect
		if c.MaxReconnectInterval < c.ReconnectInterval {
			c.MaxReconnectInterval = c.ReconnectInterval
		}
	}
	return c
}

// Connector controla o cliente Redis e acompanha se ele está utilizável. Com o
// store fora do ar, nunca bloqueia um chamador por mais de um ping.
type Connector struct {
	client  *redis.Client
	storage *Storage
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	ready       bool
	backoff     time.Duration
	nextAttempt time.Time
}

var _ ports.StoreProvider = (*Connector)(nil)

func New(cfg Config, logger *zap.Logger) (*Connector, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		MaxRetries:   1,
	})

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient envolve um cliente existente. O connector começa não pronto; chame Connect ou Ping.
func NewWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Connector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connector{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		backoff: cfg.ReconnectInterval,
	}
	c.storage = &Storage{client: client, timeout: cfg.CommandTimeout, observe: c.observe}
	return c
}

// Connect pinga o store uma vez, limitado pelo dial timeout. Um ping abandonado
// porque ctx terminou nada diz sobre o store e não altera o estado.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.ping(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("redis ping abandoned: %w", err)
		}
		c.markDown(err)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	c.markUp()
	return nil
}

// Ping verifica diretamente um store pronto. Com o store fora do ar passa por
// Store, para que ninguém contorne o backoff de reconexão.
func (c *Connector) Ping(ctx context.Context) error {
	if c.Ready() {
		return c.Connect(ctx)
	}
	_, err := c.Store(ctx)
	return err
}

// Store retorna o handle do storage. Com o store fora do ar, um único chamador
// por intervalo de reconexão refaz o ping; os demais falham imediatamente.
func (c *Connector) Store(ctx context.Context) (ports.Storage, error) {
	ready, claimed := c.claimRetry()
	if ready {
		return c.storage, nil
	}
	if !claimed {
		return nil, domain.ErrStoreUnavailable
	}

	// a nova tentativa pertence ao connector, não à requisição que a disparou
	if err := c.Connect(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return c.storage, nil
}

func (c *Connector) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Connector) Close() error {
	return c.client.Close()
}

func (c *Connector) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// claimRetry informa se o store está pronto e, se não, se o chamador ficou com
// a próxima tentativa de reconexão. Reivindicar adianta nextAttempt.
func (c *Connector) claimRetry() (ready, claimed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return true, false
	}
	now := c.now()
	if now.Before(c.nextAttempt) {
		return false, false
	}
	c.scheduleRetry(now)
	return false, true
}

func (c *Connector) markUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		c.logger.Info("redis connection established", zap.String("addr", c.cfg.Addr))
	}
	c.ready = true
	c.backoff = c.cfg.ReconnectInterval
	c.nextAttempt = time.Time{}
}

// markDown registra uma falha. Falhas com uma tentativa já agendada não a
// empurram para depois.
func (c *Connector) markDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.ready {
		c.logger.Warn("redis connection lost", zap.String("addr", c.cfg.Addr), zap.Error(err))
		c.ready = false
		c.backoff = c.cfg.ReconnectInterval
	} else if now.Before(c.nextAttempt) {
		return
	}
	c.scheduleRetry(now)
}

// scheduleRetry exige mu travado.
func (c *Connector) scheduleRetry(now time.Time) {
	c.nextAttempt = now.Add(c.backoff)
	c.backoff *= 2
	if c.backoff > c.cfg.MaxReconnectInterval {
		c.backoff = c.cfg.MaxReconnectInterval
	}
}

// observe marca o store como fora do ar em falhas de transporte. Erros de
// comando como WRONGTYPE não afetam a conexão.
func (c *Connector) observe(err error) {
	if isConnectionError(err) {
		c.markDown(err)
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
