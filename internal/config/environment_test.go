package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(file map[string]string, env map[string]string) *HybridConfigService {
	service := NewHybridConfigService(file)
	service.lookupEnv = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	return service
}

func TestHybridConfigService_SecureKeys(t *testing.T) {
	service := newTestService(
		map[string]string{"BOT_TOKEN": "from_file"},
		map[string]string{"GEMINI_API_KEY": "env_key"},
	)
	ctx := context.Background()

	value, err := service.GetConfig(ctx, "GEMINI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "env_key", value)

	// A secure key present only in the file is never returned
	_, err = service.GetConfig(ctx, "BOT_TOKEN")
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "BOT_TOKEN", configErr.Key)
}

func TestHybridConfigService_EnvironmentOverridesFile(t *testing.T) {
	service := newTestService(
		map[string]string{"GEMINI_MODEL": "file_model", "DATABASE_TYPE": "bolt"},
		map[string]string{"GEMINI_MODEL": "env_model"},
	)
	ctx := context.Background()

	assert.Equal(t, "env_model", service.GetConfigWithDefault(ctx, "GEMINI_MODEL", "default"))
	assert.Equal(t, "bolt", service.GetConfigWithDefault(ctx, "DATABASE_TYPE", "sqlite"))
	assert.Equal(t, "default", service.GetConfigWithDefault(ctx, "MISSING", "default"))
}

func TestHybridConfigService_EmptyEnvironmentFallsBack(t *testing.T) {
	service := newTestService(
		map[string]string{"COMMAND_PREFIX": "?"},
		map[string]string{"COMMAND_PREFIX": ""},
	)
	assert.Equal(t, "?", service.GetConfigWithDefault(context.Background(), "COMMAND_PREFIX", "!"))
}

func TestHybridConfigService_TypedGetters(t *testing.T) {
	service := newTestService(nil, map[string]string{
		"INT_KEY":      "42",
		"BAD_INT":      "forty-two",
		"BOOL_KEY":     "yes",
		"BAD_BOOL":     "maybe",
		"DURATION_KEY": "90s",
	})
	ctx := context.Background()

	intValue, err := service.GetConfigInt(ctx, "INT_KEY")
	require.NoError(t, err)
	assert.Equal(t, 42, intValue)
	assert.Equal(t, 7, service.GetConfigIntWithDefault(ctx, "BAD_INT", 7))

	boolValue, err := service.GetConfigBool(ctx, "BOOL_KEY")
	require.NoError(t, err)
	assert.True(t, boolValue)
	assert.True(t, service.GetConfigBoolWithDefault(ctx, "BAD_BOOL", true))
	assert.False(t, service.GetConfigBoolWithDefault(ctx, "MISSING", false))

	duration, err := service.GetConfigDuration(ctx, "DURATION_KEY")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, duration)
	assert.Equal(t, time.Minute, service.GetConfigDurationWithDefault(ctx, "MISSING", time.Minute))
}

func TestHybridConfigService_GetAllConfigsHidesSecrets(t *testing.T) {
	service := newTestService(
		map[string]string{"CUSTOM_KEY": "x"},
		map[string]string{"BOT_TOKEN": "secret", "LOG_LEVEL": "debug"},
	)

	all, err := service.GetAllConfigs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", all["CUSTOM_KEY"])
	assert.Equal(t, "debug", all["LOG_LEVEL"])
	assert.NotContains(t, all, "BOT_TOKEN")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"LOG_LEVEL", "debug", false},
		{"", "value", true},
		{"BLACKBOX_PERSIST_HISTORY", "off", false},
		{"BLACKBOX_PERSIST_HISTORY", "sometimes", true},
		{"HTTP_TIMEOUT", "45s", false},
		{"HTTP_TIMEOUT", "45", true},
		{"LOCK_IDLE_TTL", "10m", false},
		{"DATABASE_TYPE", "bolt", false},
		{"DATABASE_TYPE", "mongo", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := ValidateConfig(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewConfigError("KEY", "failed", cause)

	assert.Equal(t, "failed: boom", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "plain", NewConfigError("KEY", "plain", nil).Error())
}
