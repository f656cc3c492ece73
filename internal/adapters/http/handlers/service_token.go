package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/middleware"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

type issueTokenRequest struct {
	Subject    string   `json:"subject"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	JTI       string    `json:"jti"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueServiceToken emite um token para o subject informado no corpo JSON.
func IssueServiceToken(tokens ports.ServiceTokens, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body must be JSON")
			return
		}
		if strings.TrimSpace(req.Subject) == "" || req.TTLSeconds < 0 {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid_request", "subject is required and ttl_seconds must not be negative")
			return
		}

		token, err := tokens.Issue(r.Context(), req.Subject, req.Scopes, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			if domain.IsStoreUnavailable(err) {
				middleware.WriteError(w, r, http.StatusServiceUnavailable, "store_unavailable", "security store unavailable")
				return
			}
			logger.Error("service token issue failed", zap.Error(err), zap.String("subject", req.Subject))
			middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
			return
		}

		middleware.WriteJSON(w, http.StatusCreated, issueTokenResponse{
			Token:     token.Token.Reveal(),
			JTI:       token.JTI.Reveal(),
			Subject:   token.Subject,
			Scopes:    token.Scopes,
			ExpiresAt: token.ExpiresAt.UTC(),
		})
	}
}
