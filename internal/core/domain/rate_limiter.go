// Package domain concentra entidades e estruturas centrais do subsistema de segurança.
package domain

import (
	"fmt"
	"time"
)

// RateLimitRule descreve quantas tentativas um identificador pode fazer dentro de uma janela.
type RateLimitRule struct {
	MaxAttempts      int
	Window           time.Duration
	BlockDuration    time.Duration
	ProgressiveDelay bool
}

// Validate rejeita regras que a janela deslizante não consegue avaliar.
func (r RateLimitRule) Validate() error {
	if r.Window <= 0 {
		return ErrInvalidWindow
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative: %d", r.MaxAttempts)
	}
	if r.BlockDuration < 0 {
		return fmt.Errorf("block duration must not be negative: %s", r.BlockDuration)
	}
	return nil
}

// RateLimitResult é o resultado de uma avaliação da janela deslizante.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	TotalCount int
}

// WindowEntry é um evento guardado no sorted set de uma chave.
type WindowEntry struct {
	Timestamp time.Time
	Member    string
}

// BackendMode indica qual camada respondeu a uma decisão de rate limit.
type BackendMode string

const (
	BackendRedis  BackendMode = "redis"
	BackendMemory BackendMode = "memory"
	// BackendNone é reportado quando produção nega porque o store sumiu.
	BackendNone BackendMode = "none"
)

type Decision struct {
	Allowed           bool
	Identifier        string
	AppliedRule       RateLimitRule
	AttemptsRemaining int
	// RetryAfter é zero quando permitido e um número inteiro de segundos caso contrário.
	RetryAfter time.Duration
	Backend    BackendMode
}

// RetryAfterSeconds retorna RetryAfter como inteiro adequado ao header Retry-After.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}
