package domain

import "time"

// ServiceToken é uma credencial serviço a serviço recém-emitida.
type ServiceToken struct {
	Token     SensitiveToken
	JTI       SensitiveToken
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

// ServicePrincipal é o que um service token verificado afirma.
type ServicePrincipal struct {
	Subject   string
	Scopes    []string
	JTI       SensitiveToken
	ExpiresAt time.Time
}
