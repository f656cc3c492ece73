package domain

import "time"

type JTIStatus string

const (
	JTIStatusValid   JTIStatus = "valid"
	JTIStatusRevoked JTIStatus = "revoked"
)

// JTIRecord é o valor JSON guardado para o identificador de um token emitido.
// Os timestamps são unix em milissegundos.
type JTIRecord struct {
	Status    JTIStatus `json:"status"`
	UserID    string    `json:"userId"`
	CreatedAt int64     `json:"createdAt"`
	RevokedAt int64     `json:"revokedAt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// JTIInfo é o resultado de uma consulta ao ledger para uso administrativo.
type JTIInfo struct {
	Record JTIRecord
	TTL    time.Duration
}

const redacted = "[REDACTED]"

// SensitiveToken envolve valores do tipo bearer para que formatação e logs nunca os imprimam.
type SensitiveToken string

func (t SensitiveToken) String() string   { return redacted }
func (t SensitiveToken) GoString() string { return redacted }

func (t SensitiveToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Reveal retorna o valor bruto. Só chaves do store e assinaturas devem precisar dele.
func (t SensitiveToken) Reveal() string {
	return string(t)
}
