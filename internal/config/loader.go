package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ryuzaki-bot/internal/monitor"
	"ryuzaki-bot/internal/service"
	"ryuzaki-bot/internal/storage"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML config file
const ConfigFileEnv = "RYUZAKI_CONFIG_FILE"

const (
	DefaultDatabasePath  = "./data/ryuzaki.db"
	DefaultCommandPrefix = "!"
)

// knownKeys lists every key Load reads, so file typos surface as warnings
var knownKeys = []string{
	"BOT_TOKEN", "COMMAND_PREFIX", "ADMIN_ROLE_NAMES", "LOG_LEVEL", "LOG_FORMAT",
	"DATABASE_TYPE", "DATABASE_PATH",
	"MYSQL_HOST", "MYSQL_PORT", "MYSQL_DATABASE", "MYSQL_USERNAME", "MYSQL_PASSWORD", "MYSQL_TIMEOUT",
	"GEMINI_API_BASE", "GEMINI_API_VERSION", "GEMINI_MODEL", "GEMINI_METHOD", "GEMINI_API_KEY",
	"ORACLE_PERSONA", "ORACLE_PERSONA_FILE",
	"BLACKBOX_URL", "BLACKBOX_ORIGIN", "BLACKBOX_USER_AGENT", "BLACKBOX_COOKIE", "BLACKBOX_PERSIST_HISTORY",
	"SIBYL_API_KEY", "UFOP_API_KEY",
	"HTTP_TIMEOUT", "LOCK_IDLE_TTL",
}

// Config is the resolved application configuration
type Config struct {
	BotToken       string
	CommandPrefix  string
	AdminRoleNames []string

	LogLevel  string
	LogFormat string

	Database storage.Options

	Gemini        service.GeminiConfig
	OraclePersona string
	Blackbox      service.BlackboxConfig

	SibylAPIKey string
	UFoPAPIKey  string

	HTTPTimeout time.Duration
	LockIdleTTL time.Duration

	// UnknownKeys are config file keys Load does not recognise
	UnknownKeys []string
}

// LoadFile reads a flat YAML mapping of configuration keys.
// Keys are upper-cased; lists are joined with commas. Secure keys are refused.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("", "failed to read config file", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewConfigError("", "failed to parse config file", err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		if SecureConfigKeys[key] {
			return nil, NewConfigError(key, "secure configuration must be set in environment variables, not the config file", nil)
		}

		switch v := value.(type) {
		case nil:
			continue
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			values[key] = strings.Join(items, ",")
		case map[string]any:
			return nil, NewConfigError(key, "nested configuration sections are not supported", nil)
		default:
			values[key] = fmt.Sprint(v)
		}
	}

	return values, nil
}

// Load resolves configuration from defaults, the optional YAML file at path and the environment.
// An empty path falls back to $RYUZAKI_CONFIG_FILE.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}

	var fileValues map[string]string
	if path != "" {
		var err error
		fileValues, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	return FromService(context.Background(), NewHybridConfigService(fileValues))
}

// FromService builds and validates a Config from any ConfigService
func FromService(ctx context.Context, svc ConfigService) (*Config, error) {
	all, err := svc.GetAllConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(all) {
		if err := svc.ValidateConfig(key, all[key]); err != nil {
			return nil, err
		}
	}

	get := func(key, def string) string {
		return svc.GetConfigWithDefault(ctx, key, def)
	}

	cfg := &Config{
		BotToken:      get("BOT_TOKEN", ""),
		CommandPrefix: get("COMMAND_PREFIX", DefaultCommandPrefix),
		LogLevel:      get("LOG_LEVEL", "info"),
		LogFormat:     get("LOG_FORMAT", "text"),
		Database: storage.Options{
			Type: get("DATABASE_TYPE", storage.TypeSQLite),
			Path: get("DATABASE_PATH", DefaultDatabasePath),
			MySQL: storage.MySQLConfig{
				Host:     get("MYSQL_HOST", "localhost"),
				Port:     get("MYSQL_PORT", "3306"),
				Database: get("MYSQL_DATABASE", "ryuzaki"),
				Username: get("MYSQL_USERNAME", ""),
				Password: get("MYSQL_PASSWORD", ""),
				Timeout:  get("MYSQL_TIMEOUT", "30s"),
			},
		},
		Gemini: service.GeminiConfig{
			APIBase: get("GEMINI_API_BASE", service.DefaultGeminiAPIBase),
			Version: get("GEMINI_API_VERSION", service.DefaultGeminiVersion),
			Model:   get("GEMINI_MODEL", service.DefaultGeminiModel),
			Method:  get("GEMINI_METHOD", service.DefaultGeminiMethod),
			APIKey:  get("GEMINI_API_KEY", ""),
		},
		SibylAPIKey: get("SIBYL_API_KEY", ""),
		UFoPAPIKey:  get("UFOP_API_KEY", ""),
		HTTPTimeout: svc.GetConfigDurationWithDefault(ctx, "HTTP_TIMEOUT", service.DefaultHTTPTimeout),
		LockIdleTTL: svc.GetConfigDurationWithDefault(ctx, "LOCK_IDLE_TTL", monitor.DefaultLockIdleTTL),
	}

	blackbox := service.DefaultBlackboxConfig()
	blackbox.URL = get("BLACKBOX_URL", blackbox.URL)
	blackbox.Origin = get("BLACKBOX_ORIGIN", blackbox.Origin)
	blackbox.UserAgent = get("BLACKBOX_USER_AGENT", blackbox.UserAgent)
	blackbox.Cookie = get("BLACKBOX_COOKIE", "")
	blackbox.PersistHistory = svc.GetConfigBoolWithDefault(ctx, "BLACKBOX_PERSIST_HISTORY", true)
	cfg.Blackbox = blackbox

	for _, name := range strings.Split(get("ADMIN_ROLE_NAMES", ""), ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.AdminRoleNames = append(cfg.AdminRoleNames, name)
		}
	}

	persona, err := loadPersona(ctx, svc)
	if err != nil {
		return nil, err
	}
	cfg.OraclePersona = persona

	known := make(map[string]bool, len(knownKeys))
	for _, key := range knownKeys {
		known[key] = true
	}
	for _, key := range sortedKeys(all) {
		if !known[key] {
			cfg.UnknownKeys = append(cfg.UnknownKeys, key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPersona prefers ORACLE_PERSONA and falls back to the contents of ORACLE_PERSONA_FILE
func loadPersona(ctx context.Context, svc ConfigService) (string, error) {
	if persona := svc.GetConfigWithDefault(ctx, "ORACLE_PERSONA", ""); persona != "" {
		return persona, nil
	}

	path := svc.GetConfigWithDefault(ctx, "ORACLE_PERSONA_FILE", "")
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewConfigError("ORACLE_PERSONA_FILE", "failed to read persona file", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks cross-key requirements
func (c *Config) Validate() error {
	if c.CommandPrefix == "" {
		return NewConfigError("COMMAND_PREFIX", "command prefix cannot be empty", nil)
	}
	if c.Database.Type == storage.TypeMySQL && c.Database.MySQL.Username == "" {
		return NewConfigError("MYSQL_USERNAME", "MYSQL_USERNAME is required when DATABASE_TYPE is mysql", nil)
	}
	if c.HTTPTimeout <= 0 {
		return NewConfigError("HTTP_TIMEOUT", "HTTP timeout must be positive", nil)
	}
	return nil
}

// OracleEnabled reports whether a persona is configured
func (c *Config) OracleEnabled() bool {
	return c.OraclePersona != ""
}
