package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	BaseURL     string
	Chain       string
	LogEnv      string
	MetricsAddr string
	Timeouts    TimeoutConfig
	Wallet      WalletConfig
}

// TimeoutConfig holds per-request backend deadlines
type TimeoutConfig struct {
	Aggregate   time.Duration `mapstructure:"aggregate"`
	Risk        time.Duration `mapstructure:"risk"`
	Refresh     time.Duration `mapstructure:"refresh"`
	GasEstimate time.Duration `mapstructure:"gas_estimate"`
	Build       time.Duration `mapstructure:"build"`
	Execute     time.Duration `mapstructure:"execute"`
}

// WalletConfig holds the local signing wallets
type WalletConfig struct {
	EVM    map[string]EVMNetwork `mapstructure:"evm"`
	Solana SolanaConfig          `mapstructure:"solana"`
}

// EVMNetwork holds the configuration for one EVM chain
type EVMNetwork struct {
	RPCUrl     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id"`
}

// SolanaConfig holds the Solana wallet configuration
type SolanaConfig struct {
	RPCUrl     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
	Commitment string `mapstructure:"commitment"`
}

// HasEVM reports whether a signing key is configured for the named chain
func (w WalletConfig) HasEVM(chainName string) bool {
	n, ok := w.EVM[chainName]
	return ok && n.PrivateKey != ""
}

// HasSolana reports whether a Solana signing key is configured
func (w WalletConfig) HasSolana() bool {
	return w.Solana.PrivateKey != ""
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".dex-console")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("base_url", "http://localhost:8000")
	viper.SetDefault("chain", "ethereum")
	viper.SetDefault("log_env", "quiet")
	viper.SetDefault("timeouts.aggregate", "10s")
	viper.SetDefault("timeouts.risk", "10s")
	viper.SetDefault("timeouts.refresh", "5s")
	viper.SetDefault("timeouts.gas_estimate", "5s")
	viper.SetDefault("timeouts.build", "30s")
	viper.SetDefault("timeouts.execute", "30s")
	viper.SetDefault("wallet.solana.commitment", "confirmed")

	// Read from environment variables
	viper.SetEnvPrefix("DEX_CONSOLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		BaseURL:     strings.TrimSpace(viper.GetString("base_url")),
		Chain:       strings.ToLower(strings.TrimSpace(viper.GetString("chain"))),
		LogEnv:      viper.GetString("log_env"),
		MetricsAddr: viper.GetString("metrics_addr"),
		Timeouts: TimeoutConfig{
			Aggregate:   viper.GetDuration("timeouts.aggregate"),
			Risk:        viper.GetDuration("timeouts.risk"),
			Refresh:     viper.GetDuration("timeouts.refresh"),
			GasEstimate: viper.GetDuration("timeouts.gas_estimate"),
			Build:       viper.GetDuration("timeouts.build"),
			Execute:     viper.GetDuration("timeouts.execute"),
		},
	}

	if err := viper.UnmarshalKey("wallet", &cfg.Wallet); err != nil {
		return nil, fmt.Errorf("invalid wallet configuration: %w", err)
	}
	// Single-chain env overrides, e.g. DEX_CONSOLE_WALLET_EVM_ETHEREUM_PRIVATE_KEY
	for name, network := range cfg.Wallet.EVM {
		if key := viper.GetString("wallet.evm." + name + ".private_key"); key != "" {
			network.PrivateKey = key
		}
		cfg.Wallet.EVM[name] = network
	}
	if key := viper.GetString("wallet.solana.private_key"); key != "" {
		cfg.Wallet.Solana.PrivateKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks the fields every command depends on
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("backend URL not found. Please set DEX_CONSOLE_BASE_URL environment variable or create a .dex-console.yaml config file")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid base_url %q: must be an http(s) URL", c.BaseURL)
	}
	for name, d := range map[string]time.Duration{
		"aggregate":    c.Timeouts.Aggregate,
		"risk":         c.Timeouts.Risk,
		"refresh":      c.Timeouts.Refresh,
		"gas_estimate": c.Timeouts.GasEstimate,
		"build":        c.Timeouts.Build,
		"execute":      c.Timeouts.Execute,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
