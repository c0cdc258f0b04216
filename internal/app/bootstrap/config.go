package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
	StorageDriverMemory   = "memory"
)

// Config is the resolved runtime configuration for M91.
type Config struct {
	ServiceID string
	LogLevel  slog.Level

	HTTPPort int
	GRPCPort int

	StorageDriver     string
	DatabaseURL       string
	MaxDBConns        int32
	RedisURL          string
	RedisKeyPrefix    string
	LedgerMaxAttempts int

	KafkaBrokers []string
	KafkaTopics  map[string]string

	JWTPublicKeyPEM   string
	JWTIssuer         string
	AllowEphemeralJWT bool

	CreateRateLimit int
	RevokeRateLimit int
	RateLimitWindow time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Storage struct {
		Driver            string `yaml:"driver"`
		LedgerMaxAttempts int    `yaml:"ledger_max_attempts"`
		RedisKeyPrefix    string `yaml:"redis_key_prefix"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Events struct {
		Topics map[string]string `yaml:"topics"`
	} `yaml:"events"`
	Auth struct {
		Issuer         string `yaml:"issuer"`
		AllowEphemeral *bool  `yaml:"allow_ephemeral"`
	} `yaml:"auth"`
	RateLimit struct {
		CreatePerWindow int `yaml:"create_per_window"`
		RevokePerWindow int `yaml:"revoke_per_window"`
		WindowSeconds   int `yaml:"window_seconds"`
	} `yaml:"rate_limit"`
	Outbox struct {
		PollSeconds     int `yaml:"poll_seconds"`
		BatchSize       int `yaml:"batch_size"`
		ClaimTTLSeconds int `yaml:"claim_ttl_seconds"`
		MaxRetries      int `yaml:"max_retries"`
	} `yaml:"outbox"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "M91-License-Service",
		LogLevel:           slog.LevelInfo,
		HTTPPort:           8080,
		GRPCPort:           9090,
		StorageDriver:      StorageDriverPostgres,
		MaxDBConns:         20,
		RedisKeyPrefix:     "license",
		LedgerMaxAttempts:  16,
		AllowEphemeralJWT:  true,
		CreateRateLimit:    30,
		RevokeRateLimit:    30,
		RateLimitWindow:    time.Minute,
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxClaimTTL:     30 * time.Second,
		OutboxMaxRetries:   5,
	}
	logLevel := ""

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		logLevel = f.Service.LogLevel
		if f.Storage.Driver != "" {
			cfg.StorageDriver = f.Storage.Driver
		}
		if f.Storage.LedgerMaxAttempts > 0 {
			cfg.LedgerMaxAttempts = f.Storage.LedgerMaxAttempts
		}
		if f.Storage.RedisKeyPrefix != "" {
			cfg.RedisKeyPrefix = f.Storage.RedisKeyPrefix
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if len(f.Events.Topics) > 0 {
			cfg.KafkaTopics = f.Events.Topics
		}
		if f.Auth.Issuer != "" {
			cfg.JWTIssuer = f.Auth.Issuer
		}
		if f.Auth.AllowEphemeral != nil {
			cfg.AllowEphemeralJWT = *f.Auth.AllowEphemeral
		}
		if f.RateLimit.CreatePerWindow > 0 {
			cfg.CreateRateLimit = f.RateLimit.CreatePerWindow
		}
		if f.RateLimit.RevokePerWindow > 0 {
			cfg.RevokeRateLimit = f.RateLimit.RevokePerWindow
		}
		if f.RateLimit.WindowSeconds > 0 {
			cfg.RateLimitWindow = time.Duration(f.RateLimit.WindowSeconds) * time.Second
		}
		if f.Outbox.PollSeconds > 0 {
			cfg.OutboxPollInterval = time.Duration(f.Outbox.PollSeconds) * time.Second
		}
		if f.Outbox.BatchSize > 0 {
			cfg.OutboxBatchSize = f.Outbox.BatchSize
		}
		if f.Outbox.ClaimTTLSeconds > 0 {
			cfg.OutboxClaimTTL = time.Duration(f.Outbox.ClaimTTLSeconds) * time.Second
		}
		if f.Outbox.MaxRetries > 0 {
			cfg.OutboxMaxRetries = f.Outbox.MaxRetries
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("LICENSE_STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisKeyPrefix = envOrDefault("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	logLevel = envOrDefault("LOG_LEVEL", logLevel)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.LedgerMaxAttempts = envInt("LEDGER_MAX_ATTEMPTS", cfg.LedgerMaxAttempts)
	cfg.CreateRateLimit = envInt("RATE_LIMIT_CREATE", cfg.CreateRateLimit)
	cfg.RevokeRateLimit = envInt("RATE_LIMIT_REVOKE", cfg.RevokeRateLimit)
	cfg.RateLimitWindow = time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", int(cfg.RateLimitWindow.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
			return Config{}, fmt.Errorf("parse log level %q: %w", logLevel, err)
		}
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL for postgres storage")
		}
	case StorageDriverRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing REDIS_URL for redis storage")
		}
	case StorageDriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if cfg.JWTPublicKeyPEM == "" && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PUBLIC_KEY_PEM")
	}

	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and drops empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
