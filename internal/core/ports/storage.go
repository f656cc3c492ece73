// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

// NoExpiry é retornado por Storage.TTL para chaves que existem sem expiração.
const NoExpiry time.Duration = -1

// Storage é o store chave-valor compartilhado. Operações de janela com vários
// passos devem ser aplicadas atomicamente pela implementação.
type Storage interface {
	// Get retorna domain.ErrNotFound quando a chave não existe.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// TTL retorna domain.ErrNotFound para chaves ausentes e NoExpiry para as persistentes.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	IsSetMember(ctx context.Context, key, member string) (bool, error)
	RemoveFromSet(ctx context.Context, key string, members ...string) error

	// AppendWindow remove as entradas com score até windowStart, adiciona entry,
	// renova a expiração da chave e retorna a cardinalidade resultante.
	AppendWindow(ctx context.Context, key string, entry domain.WindowEntry, windowStart time.Time, ttl time.Duration) (int64, error)
	// CountWindow remove e conta sem adicionar.
	CountWindow(ctx context.Context, key string, windowStart time.Time) (int64, error)
	RemoveWindowEntry(ctx context.Context, key, member string) error
}

// StoreProvider fornece um handle de Storage ou domain.ErrStoreUnavailable.
type StoreProvider interface {
	Store(ctx context.Context) (Storage, error)
	Ping(ctx context.Context) error
}
