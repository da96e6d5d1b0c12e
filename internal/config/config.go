// Package config loads service configuration from the environment with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string   `mapstructure:"PORT"`
	Env          string   `mapstructure:"ENV"`
	LogLevel     string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL  string   `mapstructure:"DATABASE_URL"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`

	// API keys map key->client id, supplied as "key1:client1,key2:client2"
	APIKeys map[string]string

	VerifyBaseURL  string        `mapstructure:"VERIFY_BASE_URL"`
	VerifyWindow   time.Duration `mapstructure:"VERIFY_EXPIRY_WINDOW"`
	SweepWindow    time.Duration `mapstructure:"SWEEP_EXPIRY_WINDOW"`
	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize int           `mapstructure:"SWEEP_BATCH_SIZE"`

	SMSGatewayURL    string        `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayAPIKey string        `mapstructure:"SMS_GATEWAY_API_KEY"`
	SMSSender        string        `mapstructure:"SMS_SENDER"`
	SMSTimeout       time.Duration `mapstructure:"SMS_TIMEOUT"`

	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("VERIFY_BASE_URL", "https://veriscript.app")
	v.SetDefault("VERIFY_EXPIRY_WINDOW", "720h")
	v.SetDefault("SWEEP_EXPIRY_WINDOW", "720h")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_BATCH_SIZE", 500)
	v.SetDefault("SMS_SENDER", "VERISCRIPT")
	v.SetDefault("SMS_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("API_KEYS")
	v.BindEnv("VERIFY_BASE_URL")
	v.BindEnv("VERIFY_EXPIRY_WINDOW")
	v.BindEnv("SWEEP_EXPIRY_WINDOW")
	v.BindEnv("SWEEP_INTERVAL")
	v.BindEnv("SWEEP_BATCH_SIZE")
	v.BindEnv("SMS_GATEWAY_URL")
	v.BindEnv("SMS_GATEWAY_API_KEY")
	v.BindEnv("SMS_SENDER")
	v.BindEnv("SMS_TIMEOUT")
	v.BindEnv("OTLP_ENDPOINT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.KafkaBrokers) <= 1 {
		brokers := v.GetString("KAFKA_BROKERS")
		if brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	cfg.APIKeys = ParseAPIKeys(v.GetString("API_KEYS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.VerifyWindow <= 0 {
		return nil, fmt.Errorf("VERIFY_EXPIRY_WINDOW must be positive")
	}
	if cfg.SweepWindow <= 0 {
		return nil, fmt.Errorf("SWEEP_EXPIRY_WINDOW must be positive")
	}

	return cfg, nil
}

// ParseAPIKeys parses "key:client,key:client" pairs. Entries without a
// client id use the key itself as the client id.
func ParseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, client, found := strings.Cut(pair, ":")
		if !found {
			client = key
		}
		keys[key] = client
	}
	return keys
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
