package config

import (
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/chainclaw/chainclaw/pkg/errs"
)

// Config represents application configuration
type Config struct {
	Wallet    WalletConfig    `envconfig:"WALLET"`
	Chains    ChainsConfig    `envconfig:"CHAINS"`
	LLM       LLMConfig       `envconfig:"LLM"`
	Security  SecurityConfig  `envconfig:"SECURITY"`
	Simulator SimulatorConfig `envconfig:"SIMULATOR"`
	Channels  ChannelsConfig  `envconfig:"CHANNELS"`
	Data      DataConfig      `envconfig:"DATA"`
	Logging   LoggingConfig   `envconfig:"LOGGING"`
}

// WalletConfig controls the local encrypted keystore
type WalletConfig struct {
	Password  string `envconfig:"WALLET_PASSWORD" required:"false"`
	Directory string `envconfig:"WALLET_DIR" default:"./wallets"`
}

// ChainsConfig maps chain ids to RPC endpoints; public defaults apply for
// chains not overridden by CHAIN_RPC_URLS ("1:https://...,137:https://...")
type ChainsConfig struct {
	RPCURLs map[string]string `envconfig:"CHAIN_RPC_URLS"`
	Default int64             `envconfig:"CHAIN_DEFAULT" default:"1"`
}

var defaultRPCURLs = map[string]string{
	"1":     "https://eth.llamarpc.com",
	"10":    "https://mainnet.optimism.io",
	"56":    "https://bsc-dataseed.binance.org",
	"137":   "https://polygon-rpc.com",
	"8453":  "https://mainnet.base.org",
	"42161": "https://arb1.arbitrum.io/rpc",
}

// LLMConfig selects and configures the intent-parsing provider
type LLMConfig struct {
	Provider  string `envconfig:"LLM_PROVIDER" default:"anthropic"` // anthropic, openai or ollama
	APIKey    string `envconfig:"LLM_API_KEY" required:"false"`
	Model     string `envconfig:"LLM_MODEL" required:"false"`
	OllamaURL string `envconfig:"LLM_OLLAMA_URL" default:"http://localhost:11434"`
}

// SecurityConfig controls who may talk to the assistant
type SecurityConfig struct {
	Mode      string   `envconfig:"SECURITY_MODE" default:"open"` // open or allowlist
	Allowlist []string `envconfig:"SECURITY_ALLOWLIST" required:"false"`
}

// SimulatorConfig holds optional bundle-simulator and aggregator credentials
type SimulatorConfig struct {
	SimulatorKey  string `envconfig:"SIMULATOR_API_KEY" required:"false"`
	AggregatorKey string `envconfig:"AGGREGATOR_API_KEY" required:"false"`
	SafetyAPIKey  string `envconfig:"TOKEN_SAFETY_API_KEY" required:"false"`
}

// ChannelsConfig configures the inbound chat adapters
type ChannelsConfig struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	WebPort       int    `envconfig:"WEB_PORT" default:"8080"`
	WebEnabled    bool   `envconfig:"WEB_ENABLED" default:"true"`
}

// DataConfig locates the durable state
type DataConfig struct {
	Dir               string        `envconfig:"DATA_DIR" default:"./data"`
	LockMaxAge        time.Duration `envconfig:"DATA_LOCK_MAX_AGE" default:"24h"`
	RetentionInterval time.Duration `envconfig:"DATA_RETENTION_INTERVAL" default:"1h"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" required:"false"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errs.Wrap(errs.ClassConfig, "failed to process config", err)
	}

	// Merge chain RPC defaults under any explicit overrides.
	merged := make(map[string]string, len(defaultRPCURLs))
	for id, url := range defaultRPCURLs {
		merged[id] = url
	}
	for id, url := range cfg.Chains.RPCURLs {
		merged[id] = url
	}
	cfg.Chains.RPCURLs = merged

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if configuration is valid. Every failure is a config-class
// error naming the offending field.
func (c *Config) Validate() error {
	if c.Wallet.Password == "" {
		return errs.Config("WALLET_PASSWORD", "is required")
	}
	if len(c.Wallet.Password) < 8 {
		return errs.Config("WALLET_PASSWORD", "must be at least 8 characters")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return errs.Config("LLM_PROVIDER", "must be one of anthropic, openai, ollama")
	}
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return errs.Config("LLM_API_KEY", "is required for provider "+c.LLM.Provider)
	}

	switch c.Security.Mode {
	case "open":
	case "allowlist":
		if len(c.Security.Allowlist) == 0 {
			return errs.Config("SECURITY_ALLOWLIST", "must not be empty in allowlist mode")
		}
	default:
		return errs.Config("SECURITY_MODE", "must be open or allowlist")
	}

	if c.Data.Dir == "" {
		return errs.Config("DATA_DIR", "must not be empty")
	}
	if c.Channels.WebEnabled && (c.Channels.WebPort < 1 || c.Channels.WebPort > 65535) {
		return errs.Config("WEB_PORT", "must be a valid TCP port")
	}
	if _, ok := c.Chains.RPCURLs[strconv.FormatInt(c.Chains.Default, 10)]; !ok {
		return errs.Config("CHAIN_DEFAULT", "no RPC URL configured for default chain")
	}

	return nil
}

// EnsureDirs creates the data and wallet directories if missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Data.Dir, c.Wallet.Directory} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errs.Wrap(errs.ClassConfig, "failed to create directory "+dir, err)
		}
	}
	return nil
}

// RPCURLFor returns the RPC endpoint for a chain id, or "" when unknown.
func (c *ChainsConfig) RPCURLFor(chainID int64) string {
	return c.RPCURLs[strconv.FormatInt(chainID, 10)]
}

// ChainIDs lists all configured chain ids.
func (c *ChainsConfig) ChainIDs() []int64 {
	ids := make([]int64, 0, len(c.RPCURLs))
	for key := range c.RPCURLs {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Allowed reports whether a user may interact given the security mode.
func (c *SecurityConfig) Allowed(userID string) bool {
	if c.Mode != "allowlist" {
		return true
	}
	for _, id := range c.Allowlist {
		if id == userID {
			return true
		}
	}
	return false
}
