package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("debug", domain.Development)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("", domain.Production)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = NewLogger("WARN", domain.Production)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("loud", domain.Development)
	assert.Error(t, err)
}
