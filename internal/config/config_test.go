package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dmrv.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "0xorchestrator", cfg.Addresses.Orchestrator)
	assert.Equal(t, "0xcouncil", cfg.Addresses.Council)
	assert.Equal(t, int64(100), cfg.Pool.MinStake)
	assert.Equal(t, "weighted", cfg.Pool.Selection)
	assert.Equal(t, 3, cfg.Arbitration.JurySize)
	assert.Equal(t, 72*time.Hour, cfg.Arbitration.VotingPeriod())
	assert.Equal(t, 14*24*time.Hour, cfg.Arbitration.ChallengeWindow())
	assert.Equal(t, int64(6600), cfg.Reputation.QuorumBps)
	assert.InDelta(t, 0.05, cfg.Reputation.Tolerance, 0.0001)
	assert.Equal(t, time.Hour, cfg.Oracle.MaxStaleness())
	assert.Equal(t, "holder_balance", cfg.Ledger.ReversalPolicy)
	assert.Equal(t, "dmrv-keeper", cfg.Temporal.TaskQueue)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	assert.NoError(t, cfg.Validate("cli"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/dmrv
log:
  level: debug
  format: console
roles:
  admin: ["0xadmin"]
  governance: ["0xgov", "0xgov2"]
oracle:
  operator: 0xoperator
  feeds:
    soil: 0xfeed-soil
  sources:
    - feed: soil
      url: http://feeds.local/soil
      rate_per_sec: 2
delegated:
  - address: 0xdelegated
    name: partner
    target: 0xreputation
ledger:
  reversal_policy: clawback
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"0xgov", "0xgov2"}, cfg.Roles["governance"])
	assert.Equal(t, "0xfeed-soil", cfg.Oracle.Feeds["soil"])
	require.Len(t, cfg.Oracle.Sources, 1)
	assert.InDelta(t, 2.0, cfg.Oracle.Sources[0].RatePerSec, 0.001)
	require.Len(t, cfg.Delegated, 1)
	assert.Equal(t, "0xreputation", cfg.Delegated[0].Target)
	assert.Equal(t, "clawback", cfg.Ledger.ReversalPolicy)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Arbitration.JurySize)

	assert.NoError(t, cfg.Validate("cli"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DMRV_STORE_DRIVER", "postgres")
	t.Setenv("DMRV_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DMRV_SERVER_PORT", "3000")
	t.Setenv("DMRV_ARBITRATION_JURY_SIZE", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Arbitration.JurySize)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "file:test.db"
	cfg.Server.Port = 8080
	cfg.Server.JWTSecret = "secret"
	cfg.Addresses = AddressConfig{Orchestrator: "0xo", Council: "0xc", MethodologyRegistry: "0xm"}
	cfg.Pool.Selection = "weighted"
	cfg.Arbitration.JurySize = 3
	cfg.Arbitration.Quorum = 2
	cfg.Reputation.QuorumBps = 6600
	cfg.Ledger.ReversalPolicy = "holder_balance"
	cfg.Temporal.HostPort = "localhost:7233"
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"cli", "serve", "keeper"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Arbitration.Quorum = 4
	cfg.Reputation.QuorumBps = 10001
	cfg.Ledger.ReversalPolicy = "forgive"

	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "arbitration.quorum must not exceed")
	assert.Contains(t, err.Error(), "reputation.quorum_bps must be between 1 and 10000")
	assert.Contains(t, err.Error(), `reversal_policy must be holder_balance or clawback, got "forgive"`)
}

func TestValidate_JurySize(t *testing.T) {
	cfg := validDefaults()
	cfg.Arbitration.JurySize = 0
	cfg.Arbitration.Quorum = 0

	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jury_size must be >= 1")
}

func TestValidate_Serve(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Server.JWTSecret = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "server.jwt_secret is required")

	assert.NoError(t, cfg.Validate("cli"), "cli does not need the server section")
}

func TestValidate_OracleSourceFeed(t *testing.T) {
	cfg := validDefaults()
	cfg.Oracle.Feeds = map[string]string{"soil": "0xfeed"}
	cfg.Oracle.Sources = []SourceConfig{{Feed: "water", URL: "http://x"}}

	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown feed "water"`)
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
