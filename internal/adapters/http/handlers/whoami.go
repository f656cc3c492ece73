package handlers

import (
	"net/http"
	"time"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/middleware"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

type whoAmIResponse struct {
	Subject   string               `json:"subject"`
	Scopes    []string             `json:"scopes"`
	ExpiresAt time.Time            `json:"expires_at"`
	RiskScore float64              `json:"risk_score"`
	Flags     []domain.AnomalyFlag `json:"flags"`
}

// WhoAmI devolve o principal verificado e o score de anomalia da chamada.
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing service token")
		return
	}

	resp := whoAmIResponse{
		Subject:   principal.Subject,
		Scopes:    principal.Scopes,
		ExpiresAt: principal.ExpiresAt.UTC(),
		Flags:     []domain.AnomalyFlag{},
	}
	if result, ok := middleware.AnomalyFromContext(r.Context()); ok {
		resp.RiskScore = result.RiskScore
		resp.Flags = result.Flags
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
