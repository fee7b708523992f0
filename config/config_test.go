package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.ListenAddress)
	require.Equal(t, ":9464", cfg.MetricsAddress)
	require.Equal(t, "./labgrid-data", cfg.DataDir)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// The written file round-trips.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, again.ListenAddress)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
ListenAddress = ":9000"
Environment = "prod"
BackendJWTSecret = "topsecret"

[Reservations]
PendingTTLSeconds = 7200
MaxActivePerUser = 5
MinCancellationFee = "450"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "topsecret", cfg.BackendJWTSecret)
	// Unset fields keep their defaults.
	require.Equal(t, ":9464", cfg.MetricsAddress)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.EqualValues(t, 7_200, params.PendingTTL)
	require.Equal(t, 5, params.MaxActivePerUser)
	require.Zero(t, params.MinCancellationFee.Cmp(big.NewInt(450)))
	// Defaults survive where no override is given.
	require.EqualValues(t, 300, params.MinStartLead)
	require.Equal(t, 50, params.MaxReleaseBatch)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddres = \":9000\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestEngineParamsRejectsMalformedAmounts(t *testing.T) {
	cfg := defaultConfig()
	cfg.Reservations.MinCancellationFee = "not-a-number"
	_, err := cfg.EngineParams()
	require.Error(t, err)

	cfg = defaultConfig()
	cfg.Reservations.PerLabStake = "-5"
	_, err = cfg.EngineParams()
	require.Error(t, err)
}
