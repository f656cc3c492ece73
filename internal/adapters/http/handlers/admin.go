// Package handlers agrupa os handlers HTTP administrativos e de autenticação de serviço.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/middleware"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

type AdminDeps struct {
	Limiter   ports.RateLimiter
	Inspector ports.RateLimitInspector
	Presets   map[domain.Preset]domain.RateLimitRule
	Ledger    ports.TokenLedger
	Analyzer  ports.AnomalyAnalyzer
	Logger    *zap.Logger
}

type Admin struct {
	deps AdminDeps
}

func NewAdmin(deps AdminDeps) *Admin {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Presets == nil {
		deps.Presets = domain.DefaultPresets()
	}
	return &Admin{deps: deps}
}

// Routes monta a API administrativa. A autenticação fica a cargo de quem chama.
func (a *Admin) Routes(r chi.Router) {
	r.Get("/rate-limits/{identifier}", a.rateLimitStatus)
	r.Delete("/rate-limits/{identifier}", a.resetRateLimit)
	r.Get("/jti/{jti}", a.jtiStatus)
	r.Post("/jti/{jti}/revoke", a.revokeJTI)
	r.Put("/bad-ips/{ip}", a.addBadIP)
	r.Delete("/bad-ips/{ip}", a.removeBadIP)
}

type rateLimitStatusResponse struct {
	Identifier string    `json:"identifier"`
	Preset     string    `json:"preset"`
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	TotalCount int       `json:"total_count"`
	ResetAt    time.Time `json:"reset_at"`
}

func (a *Admin) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	preset := domain.ParsePreset(r.URL.Query().Get("preset"))
	if preset == "" {
		preset = domain.ParsePreset(strings.SplitN(identifier, ":", 2)[0])
	}
	rule, ok := a.deps.Presets[preset]
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "unknown_preset", "unknown rate limit preset")
		return
	}

	result, err := a.deps.Inspector.Status(r.Context(), identifier, rule.MaxAttempts, rule.Window)
	if err != nil {
		a.storeError(w, r, "rate limit status failed", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, rateLimitStatusResponse{
		Identifier: identifier,
		Preset:     string(preset),
		Allowed:    result.Allowed,
		Remaining:  result.Remaining,
		TotalCount: result.TotalCount,
		ResetAt:    result.ResetAt.UTC(),
	})
}

func (a *Admin) resetRateLimit(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	a.deps.Limiter.Reset(r.Context(), identifier)
	a.deps.Logger.Info("rate limit reset", zap.String("identifier", identifier))
	w.WriteHeader(http.StatusNoContent)
}

type jtiStatusResponse struct {
	Status     domain.JTIStatus `json:"status"`
	Revoked    bool             `json:"revoked"`
	UserID     string           `json:"user_id"`
	CreatedAt  int64            `json:"created_at"`
	RevokedAt  int64            `json:"revoked_at,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	TTLSeconds int64            `json:"ttl_seconds"`
}

func (a *Admin) jtiStatus(w http.ResponseWriter, r *http.Request) {
	info, err := a.deps.Ledger.Lookup(r.Context(), chi.URLParam(r, "jti"))
	if errors.Is(err, domain.ErrNotFound) {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "jti not found or expired")
		return
	}
	if err != nil {
		a.storeError(w, r, "jti lookup failed", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, jtiStatusResponse{
		Status:     info.Record.Status,
		Revoked:    info.Record.Status != domain.JTIStatusValid,
		UserID:     info.Record.UserID,
		CreatedAt:  info.Record.CreatedAt,
		RevokedAt:  info.Record.RevokedAt,
		Reason:     info.Record.Reason,
		TTLSeconds: int64(info.TTL / time.Second),
	})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (a *Admin) revokeJTI(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "admin"
	}

	ok, err := a.deps.Ledger.Revoke(r.Context(), chi.URLParam(r, "jti"), req.Reason)
	if err != nil {
		a.storeError(w, r, "jti revoke failed", err)
		return
	}
	if !ok {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "jti not found or expired")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (a *Admin) addBadIP(w http.ResponseWriter, r *http.Request) {
	a.mutateBadIP(w, r, a.deps.Analyzer.AddBadIP)
}

func (a *Admin) removeBadIP(w http.ResponseWriter, r *http.Request) {
	a.mutateBadIP(w, r, a.deps.Analyzer.RemoveBadIP)
}

func (a *Admin) mutateBadIP(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) bool) {
	addr, err := netip.ParseAddr(chi.URLParam(r, "ip"))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_ip", "invalid IP address")
		return
	}
	if !apply(r.Context(), addr.String()) {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", "security store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) storeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if domain.IsStoreUnavailable(err) {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", "security store unavailable")
		return
	}
	a.deps.Logger.Error(msg, zap.Error(err), zap.String("request_id", middleware.GetRequestID(r.Context())))
	middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
}
