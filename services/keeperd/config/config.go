package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the keeper daemon: where protocol
// state lives, how often to poll venues and scan vaults, and the HTTP surface.
type Config struct {
	ListenAddress  string        `yaml:"listen"`
	DataDir        string        `yaml:"data_dir"`
	RecordsPath    string        `yaml:"records_path"`
	CooldownPath   string        `yaml:"cooldown_path"`
	ProtocolConfig string        `yaml:"protocol_config"`
	Keeper         KeeperConfig  `yaml:"keeper"`
	Sources        SourcesConfig `yaml:"sources"`
	Log            LogConfig     `yaml:"log"`
	Telemetry      Telemetry     `yaml:"telemetry"`
}

// KeeperConfig controls the liquidation scan loop.
type KeeperConfig struct {
	// Identity is the account the keeper liquidates as; it funds repayments
	// and receives seized collateral.
	Identity     string        `yaml:"identity"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// AttemptsPerSecond rate-limits liquidation submissions.
	AttemptsPerSecond float64 `yaml:"attempts_per_second"`
	// Cooldown is the per-vault back-off after a failed attempt.
	Cooldown time.Duration `yaml:"cooldown"`
	// MinProfit is the smallest keeper bonus (stable units, decimal string)
	// worth acting on. Empty or "0" liquidates everything eligible.
	MinProfit string `yaml:"min_profit"`
}

// SourcesConfig enables venue adapters.
type SourcesConfig struct {
	CoinGecko bool `yaml:"coingecko"`
	Binance   bool `yaml:"binance"`
	Kraken    bool `yaml:"kraken"`
}

// LogConfig controls the optional rotated log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Telemetry controls the OTLP exporters.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:  ":8643",
		DataDir:        "./keeperd-data",
		RecordsPath:    "./keeperd-data/liquidations.db",
		CooldownPath:   "./keeperd-data/cooldown.db",
		ProtocolConfig: "./stablevault.toml",
		Keeper: KeeperConfig{
			ScanInterval:      15 * time.Second,
			PollInterval:      30 * time.Second,
			AttemptsPerSecond: 1,
			Cooldown:          time.Minute,
		},
		Sources: SourcesConfig{CoinGecko: true, Binance: true, Kraken: true},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ListenAddress = strings.TrimSpace(c.ListenAddress)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.RecordsPath = strings.TrimSpace(c.RecordsPath)
	c.CooldownPath = strings.TrimSpace(c.CooldownPath)
	c.ProtocolConfig = strings.TrimSpace(c.ProtocolConfig)
	c.Keeper.Identity = strings.TrimSpace(c.Keeper.Identity)
	c.Keeper.MinProfit = strings.TrimSpace(c.Keeper.MinProfit)
}

func (c *Config) validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	if c.Keeper.Identity == "" {
		return fmt.Errorf("keeper identity required")
	}
	if c.Keeper.ScanInterval <= 0 {
		return fmt.Errorf("scan_interval must be positive")
	}
	if c.Keeper.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Keeper.AttemptsPerSecond <= 0 {
		return fmt.Errorf("attempts_per_second must be positive")
	}
	return nil
}
