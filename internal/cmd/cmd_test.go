package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2witstudios/pagespace-security/internal/adapters/audit/sqlite"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	t.Setenv("LOGGING_LEVEL", "error")
	return mr
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	rateLimitPreset, rateLimitPrefix, rateLimitOutput = "", "", formatTable
	jtiOutput, jtiReason = formatTable, "admin"
	badIPOutput = formatTable
	anomalyUser, anomalyLimit, anomalyOutput = "", 50, formatTable

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRateLimitStatusAndReset(t *testing.T) {
	mr := useMiniredis(t)
	now := float64(time.Now().UnixMilli())
	_, err := mr.ZAdd("ratelimit:login:10.0.0.1", now, "a")
	require.NoError(t, err)
	_, err = mr.ZAdd("ratelimit:login:10.0.0.1", now, "b")
	require.NoError(t, err)
	_, err = mr.ZAdd("ratelimit:api:10.0.0.1", now, "c")
	require.NoError(t, err)

	out, err := runCLI(t, "rate-limit", "status", "--preset", "login", "--output-format", "json")
	require.NoError(t, err)

	var rows []rateLimitRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "login:10.0.0.1", rows[0].Identifier)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, 3, rows[0].Remaining)
	assert.True(t, rows[0].Allowed)

	out, err = runCLI(t, "rate-limit", "reset", "--preset", "login", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "reset login:10.0.0.1")
	assert.False(t, mr.Exists("ratelimit:login:10.0.0.1"))
	assert.True(t, mr.Exists("ratelimit:api:10.0.0.1"))
}

func TestRateLimitStatusRequiresKnownPreset(t *testing.T) {
	useMiniredis(t)

	_, err := runCLI(t, "rate-limit", "status", "--preset", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

func TestJTIRevokeAndStatus(t *testing.T) {
	mr := useMiniredis(t)
	require.NoError(t, mr.Set("jti:abc", `{"status":"valid","userId":"svc-billing","createdAt":1700000000000}`))
	mr.SetTTL("jti:abc", time.Hour)

	out, err := runCLI(t, "jti", "revoke", "abc", "--reason", "leaked")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked")

	out, err = runCLI(t, "jti", "status", "abc", "--output-format", "json")
	require.NoError(t, err)

	var row jtiRow
	require.NoError(t, json.Unmarshal([]byte(out), &row))
	assert.True(t, row.Revoked)
	assert.Equal(t, "svc-billing", row.UserID)
	assert.Equal(t, "leaked", row.Reason)
	assert.Greater(t, row.TTLSeconds, int64(0))

	_, err = runCLI(t, "jti", "revoke", "missing")
	assert.Error(t, err)
}

func TestBadIPLifecycle(t *testing.T) {
	mr := useMiniredis(t)

	_, err := runCLI(t, "bad-ip", "add", "203.0.113.7")
	require.NoError(t, err)
	member, err := mr.SIsMember("anomaly:bad_ips", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, member)

	out, err := runCLI(t, "bad-ip", "list", "--output-format", "json")
	require.NoError(t, err)
	var ips []string
	require.NoError(t, json.Unmarshal([]byte(out), &ips))
	assert.Equal(t, []string{"203.0.113.7"}, ips)

	_, err = runCLI(t, "bad-ip", "remove", "203.0.113.7")
	require.NoError(t, err)
	member, err = mr.SIsMember("anomaly:bad_ips", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, member)

	_, err = runCLI(t, "bad-ip", "add", "not-an-ip")
	assert.Error(t, err)
}

func TestAdminCommandsFailWhenStoreDown(t *testing.T) {
	mr := useMiniredis(t)
	mr.Close()

	_, err := runCLI(t, "jti", "status", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis at")
}

func TestAnomalyRecent(t *testing.T) {
	useMiniredis(t)
	path := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("AUDIT_SQLITE_PATH", path)

	trail, err := sqlite.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, trail.LogAnomalyDetected(ctx, "u1", "203.0.113.7", 0.7, []domain.AnomalyFlag{domain.FlagKnownBadIP, domain.FlagNewUserAgent}))
	require.NoError(t, trail.LogAnomalyDetected(ctx, "u2", "198.51.100.1", 0.8, []domain.AnomalyFlag{domain.FlagKnownBadIP, domain.FlagHighFrequency}))
	require.NoError(t, trail.Close())

	out, err := runCLI(t, "anomaly", "recent", "--user", "u1", "--output-format", "json")
	require.NoError(t, err)

	var rows []anomalyRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "203.0.113.7", rows[0].IPAddress)
	assert.Equal(t, []string{"known_bad_ip", "new_user_agent"}, rows[0].Flags)
}

func TestAnomalyRecentRequiresTrail(t *testing.T) {
	useMiniredis(t)
	t.Setenv("AUDIT_SQLITE_PATH", "")

	_, err := runCLI(t, "anomaly", "recent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIT_SQLITE_PATH")
}
