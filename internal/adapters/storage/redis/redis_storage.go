// Package redis disponibiliza a implementação do storage baseada em Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const scanBatchSize = 200

type Storage struct {
	client  *redis.Client
	timeout time.Duration
	// observe recebe cada erro de comando para que o connector possa marcar o store como fora do ar.
	observe func(error)
}

var _ ports.Storage = (*Storage)(nil)

// withTimeout desvincula os comandos do cancelamento do chamador, de modo que
// só o próprio store pode falhá-los; o timeout de comando continua valendo.
func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Storage) fail(err error) error {
	if err != nil && s.observe != nil {
		s.observe(err)
	}
	return err
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", s.fail(err)
	}
	return value, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.fail(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Storage) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.fail(s.client.Del(ctx, keys...).Err())
}

func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, s.fail(err)
	}
	switch ttl {
	case -2:
		return 0, domain.ErrNotFound
	case -1:
		return ports.NoExpiry, nil
	}
	return ttl, nil
}

// Keys percorre o keyspace com SCAN em vez de KEYS para não travar stores grandes.
func (s *Storage) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, s.fail(err)
	}
	return keys, nil
}

// IncrementWithExpiry só define a expiração quando a chave não tem uma, então
// um contador movimentado ainda zera quando sua janela passa.
func (s *Storage) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	counter := pipe.Incr(ctx, key)
	remaining := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail(err)
	}

	if remaining.Val() < 0 && ttl > 0 {
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, s.fail(err)
		}
	}
	return counter.Val(), nil
}

func (s *Storage) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, values...)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return s.fail(err)
}

func (s *Storage) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.fail(err)
	}
	return members, nil
}

func (s *Storage) IsSetMember(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, s.fail(err)
	}
	return ok, nil
}

func (s *Storage) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}
	return s.fail(s.client.SRem(ctx, key, values...).Err())
}

func (s *Storage) AppendWindow(ctx context.Context, key string, entry domain.WindowEntry, windowStart time.Time, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.Timestamp.UnixMilli()), Member: entry.Member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail(fmt.Errorf("append window: %w", err))
	}
	return card.Val(), nil
}

func (s *Storage) CountWindow(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail(fmt.Errorf("count window: %w", err))
	}
	return card.Val(), nil
}

func (s *Storage) RemoveWindowEntry(ctx context.Context, key, member string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.fail(s.client.ZRem(ctx, key, member).Err())
}
