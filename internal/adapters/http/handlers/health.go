package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/middleware"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const healthCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status    string             `json:"status"`
	Mode      string             `json:"mode"`
	Backend   domain.BackendMode `json:"backend"`
	Timestamp string             `json:"timestamp"`
}

// Health informa se o store compartilhado responde. Sem ele, produção fica
// unhealthy e desenvolvimento cai para a camada em memória.
func Health(stores ports.StoreProvider, mode domain.DeploymentMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// um cliente que desconecta não pode abortar o ping e derrubar um store saudável
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), healthCheckTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:    "healthy",
			Mode:      mode.String(),
			Backend:   domain.BackendRedis,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		if err := stores.Ping(ctx); err != nil {
			if mode.IsProduction() {
				resp.Status = "unhealthy"
				resp.Backend = domain.BackendNone
				status = http.StatusServiceUnavailable
			} else {
				resp.Status = "degraded"
				resp.Backend = domain.BackendMemory
			}
		}
		middleware.WriteJSON(w, status, resp)
	}
}
