// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

// KeyFunc extrai da requisição o sujeito do rate limit.
type KeyFunc func(r *http.Request) string

// KeyByIP limita pelo endereço do peer TCP. Headers de encaminhamento são
// ignorados; atrás de um proxy reverso use ClientIPResolver.
func KeyByIP(r *http.Request) string {
	return peerIP(r)
}

// ClientIPResolver só lê headers de encaminhamento quando o peer TCP é um dos
// proxies confiáveis.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trusted []netip.Prefix) *ClientIPResolver {
	return &ClientIPResolver{trusted: trusted}
}

// Key é uma KeyFunc.
func (c *ClientIPResolver) Key(r *http.Request) string {
	return c.ClientIP(r)
}

// ClientIP percorre o X-Forwarded-For da direita para a esquerda e retorna o
// primeiro salto que não é proxy confiável. Sem nenhum, usa o X-Real-IP.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	if c == nil || !c.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := normalizeIP(hops[i])
		if hop == "" {
			continue
		}
		if !c.isTrusted(hop) {
			return hop
		}
	}

	if real := normalizeIP(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return peer
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// KeyByHeader limita por um header, como uma API key, e recorre ao endereço
// do cliente quando o header está ausente.
func KeyByHeader(name string) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return name + ":" + v
		}
		return peerIP(r)
	}
}

// NewRateLimiterMiddleware aplica rule no namespace do preset. Em produção, a
// queda do store produz o mesmo 429 de um estouro real.
func NewRateLimiterMiddleware(limiter ports.RateLimiter, preset domain.Preset, rule domain.RateLimitRule, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision := limiter.Allow(r.Context(), preset.Identifier(keyFn(r)), rule)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.MaxAttempts))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.AttemptsRemaining))

			if !decision.Allowed {
				writeTooManyRequests(w, r, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := normalizeIP(host); ip != "" {
		return ip
	}
	return host
}

// normalizeIP retorna a forma canônica sem mapeamento, ou "" quando não é um endereço.
func normalizeIP(value string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, decision domain.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
	WriteError(w, r, http.StatusTooManyRequests, "rate_limited", rateLimitExceededMessage)
}
