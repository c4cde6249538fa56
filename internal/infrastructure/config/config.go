package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// Config holds all configuration for the settlement worker
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	AWS         AWSConfig      `mapstructure:"aws"`
	Queue       QueueConfig    `mapstructure:"queue"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Pooling     PoolingConfig  `mapstructure:"pooling"`
	Chains      ChainsConfig   `mapstructure:"chains"`
	Security    SecurityConfig `mapstructure:"security"`
	Risk        RiskConfig     `mapstructure:"risk"`
	Janitor     JanitorConfig  `mapstructure:"janitor"`
	Rates       RatesConfig    `mapstructure:"rates"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	DepositTopic  string   `mapstructure:"deposit_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// AWSConfig covers SNS notifications and the Secrets Manager provider
type AWSConfig struct {
	Region             string `mapstructure:"region"`
	NotificationsTopic string `mapstructure:"notifications_topic"`
}

// QueueConfig selects and tunes the outbound message broker
type QueueConfig struct {
	Driver       string `mapstructure:"driver"` // redis or memory
	Prefix       string `mapstructure:"prefix"`
	Concurrency  int    `mapstructure:"concurrency"`
	PollInterval int    `mapstructure:"poll_interval_ms"`
	// ConsumerID names this process to the broker. Empty picks a random id.
	ConsumerID string `mapstructure:"consumer_id"`
	// ConsumerTTL is how long, in seconds, a silent consumer keeps its
	// in-flight messages before peers re-queue them.
	ConsumerTTL int `mapstructure:"consumer_ttl"`
}

// PipelineConfig tunes the outbound state machine
type PipelineConfig struct {
	SendDelayMs           int     `mapstructure:"send_delay_ms"`
	BroadcastsPerSecond   float64 `mapstructure:"broadcasts_per_second"`
	ConfirmationDelay     int     `mapstructure:"confirmation_delay"`
	MaxConfirmationChecks int     `mapstructure:"max_confirmation_checks"`
	MaxAttempts           int     `mapstructure:"max_attempts"`
	MaxBumps              int     `mapstructure:"max_bumps"`
	BumpIncrease          float64 `mapstructure:"bump_increase"`
	WithdrawalPriority    int     `mapstructure:"withdrawal_priority"`
	PoolingPriority       int     `mapstructure:"pooling_priority"`
}

// SendDelay is the pause applied before every broadcast
func (c PipelineConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMs) * time.Millisecond
}

// ConfirmationWait is the delay before a confirmation check is delivered
func (c PipelineConfig) ConfirmationWait() time.Duration {
	return time.Duration(c.ConfirmationDelay) * time.Second
}

// PoolingConfig tunes the sweep orchestrator
type PoolingConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Schedule           string  `mapstructure:"schedule"`
	BatchSize          int     `mapstructure:"batch_size"`
	ActiveMultiplier   float64 `mapstructure:"active_multiplier"`
	InactiveMultiplier float64 `mapstructure:"inactive_multiplier"`
	ActiveWindowHours  int     `mapstructure:"active_window_hours"`
	FundMargin         float64 `mapstructure:"fund_margin"`
	CycleTimeout       int     `mapstructure:"cycle_timeout"`
}

type ChainsConfig struct {
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Tron     TronConfig     `mapstructure:"tron"`
	Ripple   RippleConfig   `mapstructure:"ripple"`
}

type EthereumConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	RPCURL                string            `mapstructure:"rpc_url"`
	ChainID               int64             `mapstructure:"chain_id"`
	TreasuryIndex         uint32            `mapstructure:"treasury_index"`
	RequiredConfirmations int               `mapstructure:"required_confirmations"`
	TransferGasLimit      uint64            `mapstructure:"transfer_gas_limit"`
	TokenGasLimit         uint64            `mapstructure:"token_gas_limit"`
	Tokens                map[string]string `mapstructure:"tokens"` // symbol -> contract
}

type TronConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	GRPCURL               string            `mapstructure:"grpc_url"`
	APIKey                string            `mapstructure:"api_key"`
	TreasuryIndex         uint32            `mapstructure:"treasury_index"`
	RequiredConfirmations int               `mapstructure:"required_confirmations"`
	FeeLimit              int64             `mapstructure:"fee_limit"`
	TransferFee           int64             `mapstructure:"transfer_fee"`
	Tokens                map[string]string `mapstructure:"tokens"`
}

type RippleConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	RPCURL                string `mapstructure:"rpc_url"`
	TreasuryAddress       string `mapstructure:"treasury_address"`
	TreasurySecretKey     string `mapstructure:"treasury_secret_key"`
	RequiredConfirmations int    `mapstructure:"required_confirmations"`
	ReserveDrops          int64  `mapstructure:"reserve_drops"`
	Timeout               int    `mapstructure:"timeout"`
}

type SecurityConfig struct {
	SecretsProvider string `mapstructure:"secrets_provider"` // env or aws
	SecretsPrefix   string `mapstructure:"secrets_prefix"`
	MnemonicKey     string `mapstructure:"mnemonic_key"`
	EncryptionKey   string `mapstructure:"encryption_key"`
	SecretsCacheTTL int    `mapstructure:"secrets_cache_ttl"`
}

type RiskConfig struct {
	MaxAutoCreditUSD float64 `mapstructure:"max_auto_credit_usd"`
}

type JanitorConfig struct {
	Schedule     string `mapstructure:"schedule"`
	LeaseMinutes int    `mapstructure:"lease_minutes"`
	BatchSize    int    `mapstructure:"batch_size"`
	// RequeueAfter is how long a deferred withdrawal waits before it is
	// offered to the pipeline again, in seconds.
	RequeueAfter int `mapstructure:"requeue_after"`
}

// minLeaseChecks is how many confirmation delays a sweep row lease spans
const minLeaseChecks = 10

// Lease is how long a sweep row may go untouched before it is released
func (c JanitorConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// RatesConfig holds reference USD prices. Keys are token symbols and are
// matched case-insensitively.
type RatesConfig struct {
	Static   map[string]float64 `mapstructure:"static"`
	CacheTTL int                `mapstructure:"cache_ttl"`
}

// TTL is how long a resolved rate stays cached
func (c RatesConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "settlement")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.deposit_topic", "crypto.deposits")
	viper.SetDefault("kafka.consumer_group", "settlement-deposits")

	viper.SetDefault("aws.region", "us-east-1")

	// Queue defaults
	viper.SetDefault("queue.driver", "redis")
	viper.SetDefault("queue.prefix", "settlement")
	viper.SetDefault("queue.concurrency", 4)
	viper.SetDefault("queue.poll_interval_ms", 500)
	viper.SetDefault("queue.consumer_ttl", 30)

	// Pipeline defaults
	viper.SetDefault("pipeline.send_delay_ms", 1000)
	viper.SetDefault("pipeline.broadcasts_per_second", 5)
	viper.SetDefault("pipeline.confirmation_delay", 15)
	viper.SetDefault("pipeline.max_confirmation_checks", 240)
	viper.SetDefault("pipeline.max_attempts", 5)
	viper.SetDefault("pipeline.max_bumps", 10)
	viper.SetDefault("pipeline.bump_increase", 0.5)
	viper.SetDefault("pipeline.withdrawal_priority", 8)
	viper.SetDefault("pipeline.pooling_priority", 2)

	// Pooling defaults
	viper.SetDefault("pooling.enabled", true)
	viper.SetDefault("pooling.schedule", "@every 5m")
	viper.SetDefault("pooling.batch_size", 200)
	viper.SetDefault("pooling.active_multiplier", 2.0)
	viper.SetDefault("pooling.inactive_multiplier", 1.5)
	viper.SetDefault("pooling.active_window_hours", 168)
	viper.SetDefault("pooling.fund_margin", 1.5)
	viper.SetDefault("pooling.cycle_timeout", 240)

	// Chain defaults
	viper.SetDefault("chains.ethereum.enabled", true)
	viper.SetDefault("chains.ethereum.chain_id", 1)
	viper.SetDefault("chains.ethereum.treasury_index", 0)
	viper.SetDefault("chains.ethereum.required_confirmations", 12)
	viper.SetDefault("chains.ethereum.transfer_gas_limit", 21000)
	viper.SetDefault("chains.ethereum.token_gas_limit", 100000)
	viper.SetDefault("chains.ethereum.tokens", map[string]string{
		"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	})
	viper.SetDefault("chains.tron.enabled", true)
	viper.SetDefault("chains.tron.grpc_url", "grpc.trongrid.io:50051")
	viper.SetDefault("chains.tron.treasury_index", 0)
	viper.SetDefault("chains.tron.required_confirmations", 19)
	viper.SetDefault("chains.tron.fee_limit", 30000000)
	viper.SetDefault("chains.tron.transfer_fee", 1100000)
	viper.SetDefault("chains.tron.tokens", map[string]string{
		"USDT_TRC20": "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
	})
	viper.SetDefault("chains.ripple.enabled", true)
	viper.SetDefault("chains.ripple.rpc_url", "https://s1.ripple.com:51234")
	viper.SetDefault("chains.ripple.required_confirmations", 1)
	viper.SetDefault("chains.ripple.reserve_drops", 10000000)
	viper.SetDefault("chains.ripple.timeout", 30)
	viper.SetDefault("chains.ripple.treasury_secret_key", "RIPPLE_TREASURY_SECRET")

	// Security defaults
	viper.SetDefault("security.secrets_provider", "env")
	viper.SetDefault("security.mnemonic_key", "WALLET_MASTER_MNEMONIC")
	viper.SetDefault("security.secrets_cache_ttl", 300)

	viper.SetDefault("risk.max_auto_credit_usd", 50000)

	viper.SetDefault("janitor.schedule", "@every 10m")
	viper.SetDefault("janitor.lease_minutes", 60)
	viper.SetDefault("janitor.batch_size", 500)
	viper.SetDefault("janitor.requeue_after", 300)

	viper.SetDefault("rates.cache_ttl", 60)
	viper.SetDefault("rates.static", map[string]float64{
		"ETH":        3000,
		"USDT":       1,
		"USDC":       1,
		"TRX":        0.25,
		"USDT_TRC20": 1,
		"XRP":        2.5,
	})

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_rate", 0.1)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		var list []string
		for _, b := range strings.Split(brokers, ",") {
			if trimmed := strings.TrimSpace(b); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		if len(list) > 0 {
			viper.Set("kafka.brokers", list)
		}
	}

	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		viper.Set("security.encryption_key", encKey)
	}

	if rpc := os.Getenv("ETHEREUM_RPC_URL"); rpc != "" {
		viper.Set("chains.ethereum.rpc_url", rpc)
	}
	if rpc := os.Getenv("TRON_GRPC_URL"); rpc != "" {
		viper.Set("chains.tron.grpc_url", rpc)
	}
	if key := os.Getenv("TRON_API_KEY"); key != "" {
		viper.Set("chains.tron.api_key", key)
	}
	if rpc := os.Getenv("RIPPLE_RPC_URL"); rpc != "" {
		viper.Set("chains.ripple.rpc_url", rpc)
	}
	if addr := os.Getenv("RIPPLE_TREASURY_ADDRESS"); addr != "" {
		viper.Set("chains.ripple.treasury_address", addr)
	}

	if topic := os.Getenv("NOTIFICATIONS_TOPIC_ARN"); topic != "" {
		viper.Set("aws.notifications_topic", topic)
	}
}

func validate(config *Config) error {
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.Security.MnemonicKey == "" {
		return fmt.Errorf("mnemonic secret key name is required")
	}

	if config.Chains.Ethereum.Enabled && config.Chains.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum rpc url is required when ethereum is enabled")
	}

	if config.Chains.Ripple.Enabled && config.Chains.Ripple.TreasuryAddress == "" {
		return fmt.Errorf("ripple treasury address is required when ripple is enabled")
	}

	if config.Pipeline.BumpIncrease <= 0 {
		return fmt.Errorf("pipeline bump increase must be positive")
	}

	if config.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline max attempts must be positive")
	}

	if config.Pipeline.MaxAttempts > entities.MaxSendAttempts {
		return fmt.Errorf("pipeline max attempts must not exceed %d", entities.MaxSendAttempts)
	}

	// Rows are touched on every confirmation check, so the lease only has
	// to outlast the gap between two checks.
	if lease := config.Janitor.Lease(); lease > 0 && lease < minLeaseChecks*config.Pipeline.ConfirmationWait() {
		return fmt.Errorf("janitor lease %s must cover at least %d confirmation delays", lease, minLeaseChecks)
	}

	if config.Pooling.InactiveMultiplier <= 0 || config.Pooling.ActiveMultiplier <= 0 {
		return fmt.Errorf("pooling multipliers must be positive")
	}

	if config.Pooling.FundMargin < 1 {
		return fmt.Errorf("pooling fund margin must be at least 1")
	}

	if config.Queue.ConsumerTTL < 0 {
		return fmt.Errorf("queue consumer ttl must not be negative")
	}

	switch config.Queue.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported queue driver: %s", config.Queue.Driver)
	}

	return nil
}
