package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stablevault.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stablevault.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ZUSD", cfg.StableSymbol)
	require.Equal(t, 2, cfg.Oracle.QuorumSources)
	require.Equal(t, uint64(12_500), cfg.Liquidation.ThresholdBps)
	require.Contains(t, cfg.Assets, "BTC")

	// The default file was written and loads back identically.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadAppliesPartialDefaults(t *testing.T) {
	path := writeConfig(t, `
StableSymbol = "ZUSD"

[oracle]
QuorumSources = 3

[assets.BTC]
LTVBps = 6000
MinCollateral = "0.05"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Oracle.QuorumSources)
	require.Equal(t, 300, cfg.Oracle.MaxQuoteAgeSeconds)
	require.Equal(t, uint64(1_000), cfg.Liquidation.BonusBps)
	require.Equal(t, uint64(6_000), cfg.Assets["BTC"].LTVBps)

	settings := cfg.OracleSettings()
	require.Equal(t, 5*time.Minute, settings.MaxQuoteAge)

	params, err := cfg.VaultParams()
	require.NoError(t, err)
	require.Equal(t, "5000000", params.Assets["BTC"].MinCollateral.String())
}

func TestValidateRejectsUnrestorableThreshold(t *testing.T) {
	path := writeConfig(t, `
[liquidation]
ThresholdBps = 10500
BonusBps = 1000
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "threshold")
}

func TestValidateRejectsThresholdAboveLTVInverse(t *testing.T) {
	// 13500 * 7500 >= 10000^2: a vault minted at max LTV would be born
	// liquidatable.
	path := writeConfig(t, `
[liquidation]
ThresholdBps = 13500

[assets.BTC]
LTVBps = 7500
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicts with LTV")
}

func TestValidateRejectsBadMinCollateral(t *testing.T) {
	path := writeConfig(t, `
[assets.BTC]
LTVBps = 7500
MinCollateral = "0.000000001"
`)

	_, err := Load(path)
	require.Error(t, err)
}
