// Package config provides configuration management for the volume adapter services.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chains   ChainsConfig
	Subgraph SubgraphConfig
	Volume   VolumeConfig
	Pricing  PricingConfig
	Cache    CacheConfig
	Backfill BackfillConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	RPS  int // Requests per second per client
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	SubgraphURL string
	RPCURL      string // used to resolve timestamps to blocks
	GasToken    string // fully qualified price token when the subgraph reports native units
}

// SubgraphConfig holds query executor configuration
type SubgraphConfig struct {
	Timeout      time.Duration
	RPS          float64
	Burst        int
	MaxAttempts  int
	InitialDelay time.Duration
}

// VolumeConfig holds the entity and field names queried on every subgraph
type VolumeConfig struct {
	FactoriesName    string
	DayData          string
	TotalVolumeField string
	DailyVolumeField string
	DateField        string
	HasTotalVolume   bool

	// used instead of the fields above on chains with a gas token
	GasTotalVolumeField string
	GasDailyVolumeField string
}

// PricingConfig holds price source configuration
type PricingConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	BlockTTL  time.Duration
	VolumeTTL time.Duration // closed days only
}

// BackfillConfig holds backfill tuning
type BackfillConfig struct {
	BatchDays   int
	Concurrency int

	// daily sync worker run by the API server
	SyncEnabled  bool
	SyncInterval time.Duration
	SyncMaxDays  int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			RPS:  getEnvAsInt("SERVER_RPS", 20),
		},
		Database: DatabaseConfig{
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "dex_volume"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Subgraph: SubgraphConfig{
			Timeout:      getEnvAsDuration("SUBGRAPH_TIMEOUT", 30*time.Second),
			RPS:          getEnvAsFloat("SUBGRAPH_RPS", 5),
			Burst:        getEnvAsInt("SUBGRAPH_BURST", 5),
			MaxAttempts:  getEnvAsInt("SUBGRAPH_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvAsDuration("SUBGRAPH_RETRY_DELAY", 500*time.Millisecond),
		},
		Volume: VolumeConfig{
			FactoriesName:    getEnv("VOLUME_FACTORIES_NAME", "uniswapFactories"),
			DayData:          getEnv("VOLUME_DAY_DATA", "uniswapDayData"),
			TotalVolumeField: getEnv("VOLUME_TOTAL_FIELD", "totalVolumeUSD"),
			DailyVolumeField: getEnv("VOLUME_DAILY_FIELD", "dailyVolumeUSD"),
			DateField:        getEnv("VOLUME_DATE_FIELD", "date"),
			HasTotalVolume:   getEnvAsBool("VOLUME_HAS_TOTAL", true),

			GasTotalVolumeField: getEnv("VOLUME_GAS_TOTAL_FIELD", "totalVolumeETH"),
			GasDailyVolumeField: getEnv("VOLUME_GAS_DAILY_FIELD", "dailyVolumeETH"),
		},
		Pricing: PricingConfig{
			BaseURL: getEnv("PRICING_BASE_URL", "https://coins.llama.fi"),
			Timeout: getEnvAsDuration("PRICING_TIMEOUT", 15*time.Second),
		},
		Cache: CacheConfig{
			BlockTTL:  getEnvAsDuration("BLOCK_CACHE_TTL", 24*time.Hour),
			VolumeTTL: getEnvAsDuration("VOLUME_CACHE_TTL", 7*24*time.Hour),
		},
		Backfill: BackfillConfig{
			BatchDays:    getEnvAsInt("BACKFILL_BATCH_DAYS", 30),
			Concurrency:  getEnvAsInt("BACKFILL_CONCURRENCY", 4),
			SyncEnabled:  getEnvAsBool("DAILY_SYNC_ENABLED", false),
			SyncInterval: getEnvAsDuration("DAILY_SYNC_INTERVAL", time.Hour),
			SyncMaxDays:  getEnvAsInt("DAILY_SYNC_MAX_DAYS", 30),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	var enabled []string
	chains := make(map[string]ChainConfig)
	for _, chain := range strings.Split(getEnv("ENABLED_CHAINS", "ethereum"), ",") {
		chain = strings.ToLower(strings.TrimSpace(chain))
		if chain == "" {
			continue
		}
		enabled = append(enabled, chain)

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			SubgraphURL: getEnv(prefix+"_SUBGRAPH_URL", ""),
			RPCURL:      getEnv(prefix+"_RPC_URL", ""),
			GasToken:    getEnv(prefix+"_GAS_TOKEN", ""),
		}
	}

	return ChainsConfig{
		Enabled: enabled,
		Chains:  chains,
	}
}

// Endpoints returns the subgraph URL of every enabled chain that has one
func (c ChainsConfig) Endpoints() map[string]string {
	endpoints := make(map[string]string, len(c.Chains))
	for name, chain := range c.Chains {
		if chain.SubgraphURL != "" {
			endpoints[name] = chain.SubgraphURL
		}
	}
	return endpoints
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
