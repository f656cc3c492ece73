// Package services implementa as regras de rate limiting, revogação de tokens e detecção de anomalias.
package services

import (
	"time"

	"go.uber.org/zap"
)

// Clock retorna o horário atual. Os testes injetam um relógio fixo.
type Clock func() time.Time

type options struct {
	clock  Clock
	logger *zap.Logger
}

// Option configura um serviço na construção.
type Option func(*options)

func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
