package config

import (
	"context"
	"time"
)

// ConfigService defines the interface for configuration lookups
type ConfigService interface {
	// GetConfig retrieves a configuration value by key, returns error if not found
	GetConfig(ctx context.Context, key string) (string, error)

	// GetConfigWithDefault retrieves a configuration value by key with fallback to default
	GetConfigWithDefault(ctx context.Context, key, defaultValue string) string

	// GetConfigInt retrieves a configuration value as integer
	GetConfigInt(ctx context.Context, key string) (int, error)

	// GetConfigIntWithDefault retrieves a configuration value as integer with default
	GetConfigIntWithDefault(ctx context.Context, key string, defaultValue int) int

	// GetConfigBool retrieves a configuration value as boolean
	GetConfigBool(ctx context.Context, key string) (bool, error)

	// GetConfigBoolWithDefault retrieves a configuration value as boolean with default
	GetConfigBoolWithDefault(ctx context.Context, key string, defaultValue bool) bool

	// GetConfigDuration retrieves a configuration value as time.Duration
	GetConfigDuration(ctx context.Context, key string) (time.Duration, error)

	// GetConfigDurationWithDefault retrieves a configuration value as duration with default
	GetConfigDurationWithDefault(ctx context.Context, key string, defaultValue time.Duration) time.Duration

	// GetAllConfigs retrieves all non-secret configurations as a key-value map
	GetAllConfigs(ctx context.Context) (map[string]string, error)

	// ValidateConfig validates a configuration key-value pair
	ValidateConfig(key, value string) error
}

// ConfigError represents configuration-related errors
type ConfigError struct {
	Key     string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error
func NewConfigError(key, message string, cause error) *ConfigError {
	return &ConfigError{
		Key:     key,
		Message: message,
		Cause:   cause,
	}
}
