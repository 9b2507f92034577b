package config

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SecureConfigKeys defines configuration keys that must remain in environment variables for security reasons
var SecureConfigKeys = map[string]bool{
	"BOT_TOKEN":       true,
	"GEMINI_API_KEY":  true,
	"BLACKBOX_COOKIE": true,
	"SIBYL_API_KEY":   true,
	"UFOP_API_KEY":    true,
	"MYSQL_USERNAME":  true,
	"MYSQL_PASSWORD":  true,
}

// HybridConfigService implements ConfigService with environment-first lookups and config file fallback.
// Secure keys are only ever read from the environment.
type HybridConfigService struct {
	fileValues map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewHybridConfigService creates a configuration service over file values and the process environment
func NewHybridConfigService(fileValues map[string]string) *HybridConfigService {
	if fileValues == nil {
		fileValues = make(map[string]string)
	}
	return &HybridConfigService{
		fileValues: fileValues,
		lookupEnv:  os.LookupEnv,
	}
}

// GetConfig retrieves a configuration value by key, returns error if not found
func (s *HybridConfigService) GetConfig(ctx context.Context, key string) (string, error) {
	// For secure keys, always use environment variables
	if SecureConfigKeys[key] {
		value, ok := s.lookupEnv(key)
		if !ok || value == "" {
			return "", NewConfigError(key, "secure configuration not found in environment variables", nil)
		}
		return value, nil
	}

	if value, ok := s.lookupEnv(key); ok && value != "" {
		return value, nil
	}

	// Fall back to the config file
	if value, ok := s.fileValues[key]; ok && value != "" {
		return value, nil
	}

	return "", NewConfigError(key, "configuration not found", nil)
}

// GetConfigWithDefault retrieves a configuration value by key with fallback to default
func (s *HybridConfigService) GetConfigWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := s.GetConfig(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetConfigInt retrieves a configuration value as integer
func (s *HybridConfigService) GetConfigInt(ctx context.Context, key string) (int, error) {
	value, err := s.GetConfig(ctx, key)
	if err != nil {
		return 0, err
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, NewConfigError(key, "invalid integer value", err)
	}

	return intValue, nil
}

// GetConfigIntWithDefault retrieves a configuration value as integer with default
func (s *HybridConfigService) GetConfigIntWithDefault(ctx context.Context, key string, defaultValue int) int {
	value, err := s.GetConfigInt(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// parseBool accepts the same spellings the validator does
func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "enabled":
		return true, nil
	case "false", "0", "no", "off", "disabled":
		return false, nil
	default:
		return false, NewConfigError(key, "invalid boolean value", nil)
	}
}

// GetConfigBool retrieves a configuration value as boolean
func (s *HybridConfigService) GetConfigBool(ctx context.Context, key string) (bool, error) {
	value, err := s.GetConfig(ctx, key)
	if err != nil {
		return false, err
	}
	return parseBool(key, value)
}

// GetConfigBoolWithDefault retrieves a configuration value as boolean with default
func (s *HybridConfigService) GetConfigBoolWithDefault(ctx context.Context, key string, defaultValue bool) bool {
	value, err := s.GetConfigBool(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetConfigDuration retrieves a configuration value as time.Duration
func (s *HybridConfigService) GetConfigDuration(ctx context.Context, key string) (time.Duration, error) {
	value, err := s.GetConfig(ctx, key)
	if err != nil {
		return 0, err
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewConfigError(key, "invalid duration value", err)
	}

	return duration, nil
}

// GetConfigDurationWithDefault retrieves a configuration value as duration with default
func (s *HybridConfigService) GetConfigDurationWithDefault(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := s.GetConfigDuration(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetAllConfigs returns every known non-secret key with its effective value
func (s *HybridConfigService) GetAllConfigs(ctx context.Context) (map[string]string, error) {
	keys := make(map[string]bool, len(s.fileValues)+len(knownKeys))
	for key := range s.fileValues {
		keys[key] = true
	}
	for _, key := range knownKeys {
		keys[key] = true
	}

	result := make(map[string]string)
	for key := range keys {
		if SecureConfigKeys[key] {
			continue
		}
		if value, err := s.GetConfig(ctx, key); err == nil {
			result[key] = value
		}
	}
	return result, nil
}

// ValidateConfig validates a configuration key-value pair
func (s *HybridConfigService) ValidateConfig(key, value string) error {
	return ValidateConfig(key, value)
}

// ValidateConfig applies the key-pattern rules shared by file and environment values
func ValidateConfig(key, value string) error {
	// Basic validation rules
	if key == "" {
		return NewConfigError(key, "configuration key cannot be empty", nil)
	}

	if len(key) > 255 {
		return NewConfigError(key, "configuration key too long (max 255 characters)", nil)
	}

	if len(value) > 65535 {
		return NewConfigError(key, "configuration value too long (max 65535 characters)", nil)
	}

	// Additional validation based on key patterns
	if strings.HasSuffix(key, "_PERSIST_HISTORY") {
		if _, err := parseBool(key, value); err != nil {
			return NewConfigError(key, "boolean configuration values must be true/false, 1/0, yes/no, on/off, or enabled/disabled", nil)
		}
	}

	if strings.HasSuffix(key, "_TIMEOUT") || strings.HasSuffix(key, "_TTL") {
		if _, err := time.ParseDuration(value); err != nil {
			return NewConfigError(key, "duration values must look like 30s, 5m or 1h", err)
		}
	}

	if key == "DATABASE_TYPE" {
		switch value {
		case "sqlite", "mysql", "bolt", "memory":
		default:
			return NewConfigError(key, "database type must be sqlite, mysql, bolt or memory", nil)
		}
	}

	return nil
}

// sortedKeys returns the keys of m in order, for stable log output
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
