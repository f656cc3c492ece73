package domain

import "errors"

var (
	// ErrStoreUnavailable indica que não foi possível obter conexão com o store compartilhado.
	ErrStoreUnavailable = errors.New("security store unavailable")
	ErrNotFound         = errors.New("key not found")
	ErrInvalidWindow    = errors.New("rate limit window must be positive")
	ErrInvalidTTL       = errors.New("ttl must be positive")

	// ErrRateLimitBackendRequired é retornado no boot em produção quando o store está inacessível.
	ErrRateLimitBackendRequired = errors.New("rate limiting backend required in production")

	ErrInvalidToken = errors.New("invalid service token")
	ErrTokenRevoked = errors.New("service token revoked")
)

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
