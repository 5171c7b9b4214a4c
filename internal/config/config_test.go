package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
mode = "replicate"

[replication]
target_actor_address = "0xabcd000000000000000000000000000000000001"

[execution]
simulated = true
`

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, "0xabcd000000000000000000000000000000000001", cfg.Replication.TargetActorAddress)

	// Untouched fields keep their defaults.
	require.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	require.Equal(t, 137, cfg.Polymarket.ChainID)
	require.Equal(t, "goldsky", cfg.Replication.FeedSource)
	require.Equal(t, 0.2, cfg.Replication.CopyRatio)
	require.Equal(t, 3, cfg.Replication.RetryLimit)
	require.Equal(t, 300, cfg.Replication.MaxTradeAgeSec)
	require.Equal(t, 5.0, cfg.Replication.MinOrderSize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[polymarket]
chain_id = 80002

[redis]
addr = "redis.internal:6380"
`))
	require.NoError(t, err)
	require.Equal(t, 80002, cfg.Polymarket.ChainID)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("POLYCOPY_REPLICATION_COPY_RATIO", "0.75")
	t.Setenv("POLYCOPY_POSTGRES_PASSWORD", "env-secret")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.Equal(t, 0.75, cfg.Replication.CopyRatio)
	require.Equal(t, "env-secret", cfg.Postgres.Password)
}

func TestValidateAcceptsSimulatedReplication(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Replication.TargetActorAddress = ""
	cfg.Replication.CopyRatio = 1.5
	cfg.Replication.TickSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "unknown mode")
	require.ErrorContains(t, err, "target_actor_address")
	require.ErrorContains(t, err, "copy_ratio")
	require.ErrorContains(t, err, "tick_size")
}

func TestValidateLiveExecutionNeedsWalletKey(t *testing.T) {
	cfg := Defaults()
	cfg.Replication.TargetActorAddress = "0xabc"
	cfg.Execution.Simulated = false

	err := cfg.Validate()
	require.ErrorContains(t, err, "private_key or encrypted_key_path")

	cfg.Wallet.PrivateKey = "deadbeef"
	require.NoError(t, cfg.Validate())
}

func TestValidatePartialAPICredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Replication.TargetActorAddress = "0xabc"
	cfg.Execution.Simulated = true
	cfg.Polymarket.ApiKey = "key-only"

	err := cfg.Validate()
	require.ErrorContains(t, err, "must all be set together")
}

func TestValidateCopyRatioBounds(t *testing.T) {
	tests := []struct {
		ratio float64
		ok    bool
	}{
		{0.0, false},
		{-0.1, false},
		{0.2, true},
		{1.0, true},
		{1.01, false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Replication.TargetActorAddress = "0xabc"
		cfg.Execution.Simulated = true
		cfg.Replication.CopyRatio = tt.ratio
		err := cfg.Validate()
		if tt.ok {
			require.NoError(t, err, "ratio %g", tt.ratio)
		} else {
			require.Error(t, err, "ratio %g", tt.ratio)
		}
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "supersecret"
	cfg.Postgres.Password = "dbpass"
	cfg.Polymarket.ApiSecret = "apisecret"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Wallet.PrivateKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Polymarket.ApiSecret)

	// The original is untouched.
	require.Equal(t, "supersecret", cfg.Wallet.PrivateKey)

	// Empty secrets stay empty so redaction does not invent values.
	require.Empty(t, red.Redis.Password)
}
