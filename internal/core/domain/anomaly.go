package domain

import "time"

type AnomalyFlag string

const (
	FlagImpossibleTravel AnomalyFlag = "impossible_travel"
	FlagNewUserAgent     AnomalyFlag = "new_user_agent"
	FlagHighFrequency    AnomalyFlag = "high_frequency"
	FlagKnownBadIP       AnomalyFlag = "known_bad_ip"
)

type AnomalyContext struct {
	UserID    string
	IPAddress string
	UserAgent string
	Action    string
}

// AnomalyResult carrega a soma dos pesos de cada flag disparada. Não é limitado a 1.
type AnomalyResult struct {
	RiskScore float64
	Flags     []AnomalyFlag
}

func (r AnomalyResult) HasFlag(flag AnomalyFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// LastLocation é o valor por usuário usado pela heurística de viagem impossível.
type LastLocation struct {
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"`
}

// AnomalyEvent é um relatório de alto risco persistido por um sink de auditoria.
type AnomalyEvent struct {
	ID         string
	UserID     string
	IPAddress  string
	RiskScore  float64
	Flags      []AnomalyFlag
	DetectedAt time.Time
}
