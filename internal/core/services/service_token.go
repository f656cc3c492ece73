package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const minServiceTokenSecret = 32

type ServiceTokenConfig struct {
	Issuer     string
	Audience   string
	Secret     []byte
	DefaultTTL time.Duration
}

type scopeClaims struct {
	Scopes []string `json:"scopes,omitempty"`
}

// ServiceTokenIssuer assina service tokens HS256 e registra cada um no ledger de JTI.
type ServiceTokenIssuer struct {
	ledger *JTILedger
	cfg    ServiceTokenConfig
	signer jose.Signer
	clock  Clock
	logger *zap.Logger
}

var _ ports.ServiceTokens = (*ServiceTokenIssuer)(nil)

func NewServiceTokenIssuer(ledger *JTILedger, cfg ServiceTokenConfig, opts ...Option) (*ServiceTokenIssuer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("jti ledger is required")
	}
	if len(cfg.Secret) < minServiceTokenSecret {
		return nil, fmt.Errorf("service token secret must be at least %d bytes", minServiceTokenSecret)
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("service token issuer is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: cfg.Secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	o := buildOptions(opts)
	return &ServiceTokenIssuer{ledger: ledger, cfg: cfg, signer: signer, clock: o.clock, logger: o.logger}, nil
}

// Issue assina um token para subject e registra seu jti pelo tempo de vida do
// token. Um ttl não positivo usa o padrão configurado.
func (s *ServiceTokenIssuer) Issue(ctx context.Context, subject string, scopes []string, ttl time.Duration) (domain.ServiceToken, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.ServiceToken{}, fmt.Errorf("service token subject is required")
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	now := s.clock()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()

	claims := jwt.Claims{
		Issuer:   s.cfg.Issuer,
		Subject:  subject,
		ID:       jti,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiresAt),
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.Audience{s.cfg.Audience}
	}

	raw, err := jwt.Signed(s.signer).Claims(claims).Claims(scopeClaims{Scopes: scopes}).CompactSerialize()
	if err != nil {
		return domain.ServiceToken{}, fmt.Errorf("sign service token: %w", err)
	}

	if err := s.ledger.Record(ctx, jti, subject, ttl); err != nil {
		return domain.ServiceToken{}, fmt.Errorf("record service token: %w", err)
	}

	s.logger.Info("service token issued",
		zap.String("subject", subject),
		zap.Strings("scopes", scopes),
		zap.Stringer("jti", domain.SensitiveToken(jti)),
		zap.Time("expires_at", expiresAt),
	)
	return domain.ServiceToken{
		Token:     domain.SensitiveToken(raw),
		JTI:       domain.SensitiveToken(jti),
		Subject:   subject,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify confere assinatura, issuer, audience e expiração e depois exige que o
// jti esteja válido no ledger.
func (s *ServiceTokenIssuer) Verify(ctx context.Context, token string) (domain.ServicePrincipal, error) {
	claims, extra, err := s.parse(token)
	if err != nil {
		return domain.ServicePrincipal{}, err
	}

	expected := jwt.Expected{Issuer: s.cfg.Issuer, Time: s.clock()}
	if s.cfg.Audience != "" {
		expected.Audience = jwt.Audience{s.cfg.Audience}
	}
	if err := claims.ValidateWithLeeway(expected, 0); err != nil {
		return domain.ServicePrincipal{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Expiry == nil {
		return domain.ServicePrincipal{}, fmt.Errorf("%w: missing jti or expiry", domain.ErrInvalidToken)
	}

	if s.ledger.IsRevoked(ctx, claims.ID) {
		return domain.ServicePrincipal{}, domain.ErrTokenRevoked
	}

	return domain.ServicePrincipal{
		Subject:   claims.Subject,
		Scopes:    extra.Scopes,
		JTI:       domain.SensitiveToken(claims.ID),
		ExpiresAt: claims.Expiry.Time(),
	}, nil
}

// Revoke revoga o jti de um token corretamente assinado. A expiração não é
// verificada; um token expirado apenas não tem mais registro vivo.
func (s *ServiceTokenIssuer) Revoke(ctx context.Context, token, reason string) (bool, error) {
	claims, _, err := s.parse(token)
	if err != nil {
		return false, err
	}
	if claims.ID == "" {
		return false, fmt.Errorf("%w: missing jti", domain.ErrInvalidToken)
	}
	return s.ledger.Revoke(ctx, claims.ID, reason)
}

func (s *ServiceTokenIssuer) parse(token string) (jwt.Claims, scopeClaims, error) {
	var (
		claims jwt.Claims
		extra  scopeClaims
	)

	parsed, err := jwt.ParseSigned(strings.TrimSpace(token))
	if err != nil {
		return claims, extra, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	for _, h := range parsed.Headers {
		if h.Algorithm != string(jose.HS256) {
			return claims, extra, fmt.Errorf("%w: unexpected algorithm %q", domain.ErrInvalidToken, h.Algorithm)
		}
	}
	if err := parsed.Claims(s.cfg.Secret, &claims, &extra); err != nil {
		return claims, extra, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return claims, extra, nil
}
