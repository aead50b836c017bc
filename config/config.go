package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"stablevault/native/common"
	"stablevault/native/liquidation"
	"stablevault/native/oracle"
	"stablevault/native/vault"
)

// Config is the on-disk protocol configuration. Monetary fields are decimal
// strings parsed into fixed-point; rates are basis points.
type Config struct {
	StableSymbol string                 `toml:"StableSymbol"`
	Oracle       OracleConfig           `toml:"oracle"`
	Liquidation  LiquidationConfig      `toml:"liquidation"`
	Assets       map[string]AssetConfig `toml:"assets"`
}

// OracleConfig configures the price aggregator.
type OracleConfig struct {
	QuorumSources      int    `toml:"QuorumSources"`
	MaxQuoteAgeSeconds int    `toml:"MaxQuoteAgeSeconds"`
	MaxDeviationBps    uint64 `toml:"MaxDeviationBps"`
}

// LiquidationConfig configures the liquidation engine.
type LiquidationConfig struct {
	ThresholdBps   uint64 `toml:"ThresholdBps"`
	BonusBps       uint64 `toml:"BonusBps"`
	CloseFactorBps uint64 `toml:"CloseFactorBps"`
}

// AssetConfig configures one collateral asset.
type AssetConfig struct {
	LTVBps        uint64 `toml:"LTVBps"`
	MinCollateral string `toml:"MinCollateral"`
}

// Default returns the protocol defaults: BTC/ETH/ICP collateral at 75% LTV, a
// five minute staleness window, 5% deviation ceiling, 2-of-N quorum, and a
// 1.25 liquidation threshold with a 10% keeper bonus.
func Default() *Config {
	return &Config{
		StableSymbol: "ZUSD",
		Oracle: OracleConfig{
			QuorumSources:      2,
			MaxQuoteAgeSeconds: 300,
			MaxDeviationBps:    500,
		},
		Liquidation: LiquidationConfig{
			ThresholdBps:   12_500,
			BonusBps:       1_000,
			CloseFactorBps: 10_000,
		},
		Assets: map[string]AssetConfig{
			"BTC": {LTVBps: 7_500, MinCollateral: "0.001"},
			"ETH": {LTVBps: 7_500, MinCollateral: "0.01"},
			"ICP": {LTVBps: 7_500, MinCollateral: "1"},
		},
	}
}

// Load loads the configuration from the given path, writing defaults when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create default config: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if strings.TrimSpace(cfg.StableSymbol) == "" {
		cfg.StableSymbol = defaults.StableSymbol
	}
	if cfg.Oracle.QuorumSources == 0 {
		cfg.Oracle.QuorumSources = defaults.Oracle.QuorumSources
	}
	if cfg.Oracle.MaxQuoteAgeSeconds == 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = defaults.Oracle.MaxQuoteAgeSeconds
	}
	if cfg.Oracle.MaxDeviationBps == 0 {
		cfg.Oracle.MaxDeviationBps = defaults.Oracle.MaxDeviationBps
	}
	if cfg.Liquidation.ThresholdBps == 0 {
		cfg.Liquidation.ThresholdBps = defaults.Liquidation.ThresholdBps
	}
	if cfg.Liquidation.BonusBps == 0 {
		cfg.Liquidation.BonusBps = defaults.Liquidation.BonusBps
	}
	if cfg.Liquidation.CloseFactorBps == 0 {
		cfg.Liquidation.CloseFactorBps = defaults.Liquidation.CloseFactorBps
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = defaults.Assets
	}
}

// Validate checks the cross-field constraints the engines rely on. The
// liquidation threshold must exceed 1 plus the keeper bonus (or no repayment
// restores the ratio) and must stay below the inverse of every asset's LTV
// (or freshly-minted vaults would be born liquidatable).
func (c *Config) Validate() error {
	if c.Oracle.QuorumSources < 1 {
		return fmt.Errorf("oracle quorum must be at least 1")
	}
	if c.Oracle.MaxQuoteAgeSeconds <= 0 {
		return fmt.Errorf("oracle quote age must be positive")
	}
	threshold := c.Liquidation.ThresholdBps
	if threshold <= 10_000+c.Liquidation.BonusBps {
		return fmt.Errorf("liquidation threshold %d must exceed 10000 + bonus %d bps", threshold, c.Liquidation.BonusBps)
	}
	if c.Liquidation.CloseFactorBps == 0 || c.Liquidation.CloseFactorBps > 10_000 {
		return fmt.Errorf("close factor must be within (0, 10000] bps")
	}
	for symbol, asset := range c.Assets {
		if asset.LTVBps == 0 || asset.LTVBps >= 10_000 {
			return fmt.Errorf("asset %s: LTV must be within (0, 10000) bps", symbol)
		}
		// threshold < 10000^2 / LTV keeps a max-LTV mint above the threshold.
		if threshold*asset.LTVBps >= 10_000*10_000 {
			return fmt.Errorf("asset %s: liquidation threshold %d conflicts with LTV %d bps", symbol, threshold, asset.LTVBps)
		}
		if asset.MinCollateral != "" {
			if _, err := common.ParseFixed8(asset.MinCollateral); err != nil {
				return fmt.Errorf("asset %s: invalid MinCollateral: %w", symbol, err)
			}
		}
	}
	return nil
}

// OracleSettings converts the oracle section into aggregator policy.
func (c *Config) OracleSettings() oracle.Config {
	return oracle.Config{
		MaxQuoteAge:     time.Duration(c.Oracle.MaxQuoteAgeSeconds) * time.Second,
		MaxDeviationBps: c.Oracle.MaxDeviationBps,
		QuorumSources:   c.Oracle.QuorumSources,
	}
}

// VaultParams converts the asset section into ledger parameters.
func (c *Config) VaultParams() (vault.Params, error) {
	params := vault.Params{
		StableSymbol: c.StableSymbol,
		Assets:       make(map[string]vault.AssetParams, len(c.Assets)),
	}
	for symbol, asset := range c.Assets {
		assetParams := vault.AssetParams{LTVBps: asset.LTVBps}
		if asset.MinCollateral != "" {
			minimum, err := common.ParseFixed8(asset.MinCollateral)
			if err != nil {
				return vault.Params{}, fmt.Errorf("asset %s: %w", symbol, err)
			}
			assetParams.MinCollateral = minimum
		}
		params.Assets[symbol] = assetParams
	}
	return params, nil
}

// LiquidationParams converts the liquidation section into engine parameters.
func (c *Config) LiquidationParams() liquidation.Params {
	return liquidation.Params{
		ThresholdBps:   c.Liquidation.ThresholdBps,
		BonusBps:       c.Liquidation.BonusBps,
		CloseFactorBps: c.Liquidation.CloseFactorBps,
	}
}
