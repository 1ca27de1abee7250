package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"rcie/domain/core"
	"rcie/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Config represents the complete application configuration
type Config struct {
	Gateway  GatewayConfig  `validate:"required"`
	History  HistoryConfig  `validate:"required"`
	Workflow WorkflowConfig `validate:"required"`
	Status   StatusConfig
	Log      LogConfig
}

// GatewayConfig holds remote inference gateway settings
type GatewayConfig struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
	Breaker BreakerConfig
}

// BreakerConfig controls the circuit breaker around gateway calls
type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32        `validate:"gte=0"`
	OpenTimeout time.Duration `validate:"gte=0"`
}

// HistoryConfig selects where analysis history is persisted
type HistoryConfig struct {
	Backend     string `validate:"oneof=gateway postgres"`
	DatabaseURL string `validate:"required_if=Backend postgres"`
}

// WorkflowConfig holds orchestration defaults
type WorkflowConfig struct {
	DefaultDataset    core.DatasetRef `validate:"required"`
	DiscoveryOrdering string          `validate:"oneof=resolved issued"`
}

// StatusConfig holds the optional read-only status server settings
type StatusConfig struct {
	Addr string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string `validate:"oneof=json console"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Gateway:  *loadGatewayConfig(),
		History:  *loadHistoryConfig(),
		Workflow: *loadWorkflowConfig(),
		Status:   StatusConfig{Addr: getEnvOrDefault("RCIE_STATUS_ADDR", "")},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
		},
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks struct constraints on an assembled configuration.
func Validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return errors.ConfigInvalid(verrs[0].Namespace() + " failed " + verrs[0].Tag())
		}
		return errors.ConfigInvalid(err.Error())
	}
	return nil
}

func loadGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		BaseURL: strings.TrimRight(getEnvOrDefault("RCIE_GATEWAY_URL", "http://localhost:8000"), "/"),
		Timeout: getEnvDurationOrDefault("RCIE_GATEWAY_TIMEOUT", 2*time.Minute),
		Breaker: BreakerConfig{
			Enabled:     getEnvBoolOrDefault("RCIE_BREAKER_ENABLED", true),
			MaxFailures: uint32(getEnvIntOrDefault("RCIE_BREAKER_FAILURES", 5)),
			OpenTimeout: getEnvDurationOrDefault("RCIE_BREAKER_TIMEOUT", 30*time.Second),
		},
	}
}

func loadHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		Backend:     strings.ToLower(getEnvOrDefault("RCIE_HISTORY_BACKEND", "gateway")),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
	}
}

func loadWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		DefaultDataset:    core.DatasetRef(getEnvOrDefault("RCIE_DEFAULT_DATASET", string(core.DefaultDataset))),
		DiscoveryOrdering: strings.ToLower(getEnvOrDefault("RCIE_DISCOVERY_ORDERING", "resolved")),
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue >= 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
