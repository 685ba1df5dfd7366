// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional, archive uses in-memory if not set)
	DatabaseURL string

	// Blockchain settings
	RPCURL             string
	ChainID            int64
	EscrowContract     string
	ArbitratorContract string // optional; dispute enrichment degrades without it

	// Reconciliation settings
	FeeTimeout        time.Duration // fallback when the contract accessor fails
	WatcherPoll       time.Duration
	WatcherStartBlock uint64

	// Collaborator endpoints
	IPFSGateway string // evidence object store gateway
	MirrorURL   string // optional GraphQL read-replica mirror

	// Observability
	OTLPEndpoint string

	// API limits
	RateLimitRPM   int // requests per minute per client IP
	RateLimitBurst int
}

// Defaults
const (
	DefaultRPCURL      = "https://rpc.ankr.com/eth"
	DefaultChainID     = 1
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultFeeTimeout  = 24 * time.Hour
	DefaultWatcherPoll = 15 * time.Second
	DefaultIPFSGateway = "https://ipfs.io"

	DefaultRateLimitRPM   = 120
	DefaultRateLimitBurst = 20
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		EscrowContract:     os.Getenv("ESCROW_CONTRACT"), // Required, no default
		ArbitratorContract: os.Getenv("ARBITRATOR_CONTRACT"),
		FeeTimeout:         getEnvSeconds("FEE_TIMEOUT_SECONDS", DefaultFeeTimeout),
		WatcherPoll:        getEnvSeconds("WATCHER_POLL_SECONDS", DefaultWatcherPoll),
		WatcherStartBlock:  uint64(getEnvInt64("WATCHER_START_BLOCK", 0)),
		IPFSGateway:        getEnv("IPFS_GATEWAY", DefaultIPFSGateway),
		MirrorURL:          os.Getenv("MIRROR_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.EscrowContract == "" {
		return fmt.Errorf("ESCROW_CONTRACT is required")
	}
	if !common.IsHexAddress(c.EscrowContract) {
		return fmt.Errorf("ESCROW_CONTRACT must be a hex contract address")
	}

	if c.ArbitratorContract != "" && !common.IsHexAddress(c.ArbitratorContract) {
		return fmt.Errorf("ARBITRATOR_CONTRACT must be a hex contract address")
	}

	if c.FeeTimeout <= 0 {
		return fmt.Errorf("FEE_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
