package domain

import "strings"

// DeploymentMode escolhe entre fail-open e fail-closed quando o store some.
type DeploymentMode int

const (
	Development DeploymentMode = iota
	Production
)

// ParseDeploymentMode só trata "production"/"prod" como produção.
func ParseDeploymentMode(value string) DeploymentMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

func (m DeploymentMode) IsProduction() bool {
	return m == Production
}

func (m DeploymentMode) String() string {
	if m == Production {
		return "production"
	}
	return "development"
}
