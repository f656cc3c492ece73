package domain

import (
	"strings"
	"time"
)

// Preset nomeia uma regra de rate limit com a qual os chamadores podem contar.
type Preset string

const (
	PresetLogin         Preset = "login"
	PresetSignup        Preset = "signup"
	PresetPasswordReset Preset = "password_reset"
	PresetRefresh       Preset = "refresh"
	PresetAPI           Preset = "api"
	PresetFileUpload    Preset = "file_upload"
	PresetServiceToken  Preset = "service_token"
	PresetContactForm   Preset = "contact_form"
	PresetEmailResend   Preset = "email_resend"
)

// DefaultPresets retorna uma cópia nova das regras embutidas.
func DefaultPresets() map[Preset]RateLimitRule {
	return map[Preset]RateLimitRule{
		PresetLogin:         {MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute, ProgressiveDelay: true},
		PresetSignup:        {MaxAttempts: 3, Window: time.Hour, BlockDuration: time.Hour, ProgressiveDelay: true},
		PresetPasswordReset: {MaxAttempts: 3, Window: time.Hour, BlockDuration: time.Hour, ProgressiveDelay: true},
		PresetRefresh:       {MaxAttempts: 10, Window: 5 * time.Minute, BlockDuration: 5 * time.Minute, ProgressiveDelay: true},
		PresetAPI:           {MaxAttempts: 100, Window: time.Minute, BlockDuration: time.Minute, ProgressiveDelay: true},
		PresetFileUpload:    {MaxAttempts: 20, Window: time.Minute, BlockDuration: time.Minute, ProgressiveDelay: true},
		PresetServiceToken:  {MaxAttempts: 1000, Window: time.Minute, BlockDuration: time.Minute, ProgressiveDelay: true},
		PresetContactForm:   {MaxAttempts: 5, Window: time.Hour, BlockDuration: time.Hour},
		PresetEmailResend:   {MaxAttempts: 3, Window: time.Hour, BlockDuration: time.Hour},
	}
}

// ParsePreset normaliza entradas como "PASSWORD_RESET" ou "password-reset".
func ParsePreset(name string) Preset {
	name = strings.ToLower(strings.TrimSpace(name))
	return Preset(strings.ReplaceAll(name, "-", "_"))
}

// Identifier prefixa subject com o preset, por exemplo "login:10.0.0.1". O subject
// vai para minúsculas para que a caixa de um header não divida um chamador em janelas.
func (p Preset) Identifier(subject string) string {
	return string(p) + ":" + strings.ToLower(strings.TrimSpace(subject))
}
