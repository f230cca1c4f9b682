package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Analyzer names accepted for search.analyzer
const (
	AnalyzerSimple   = "simple"
	AnalyzerStandard = "standard"
	AnalyzerKeyword  = "keyword"
	AnalyzerEnglish  = "en"
)

// Search defaults
const (
	DefaultAnalyzer    = AnalyzerSimple
	DefaultMaxResults  = 100
	DefaultBatchSize   = 100
	DefaultLockTimeout = 5 * time.Second
)

// SupportedAnalyzers lists the analyzer names the engine accepts.
var SupportedAnalyzers = []string{AnalyzerSimple, AnalyzerStandard, AnalyzerKeyword, AnalyzerEnglish}

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SearchSettings configuration for the entity store and its indexes
type SearchSettings struct {
	DataDir     string        `mapstructure:"data_dir"`
	Analyzer    string        `mapstructure:"analyzer"`
	MaxResults  int           `mapstructure:"max_results"`
	BatchSize   int           `mapstructure:"batch_size"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// StorePath returns the path of the entity database file.
func (s *SearchSettings) StorePath() string {
	return filepath.Join(s.DataDir, "store.db")
}

// Settings application settings
type Settings struct {
	Transport string         `mapstructure:"transport"`
	Host      string         `mapstructure:"host"`
	Port      int            `mapstructure:"port"`
	Auth      AuthSettings   `mapstructure:"auth"`
	Search    SearchSettings `mapstructure:"search"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	v.SetDefault("search.data_dir", defaultDataDir())
	v.SetDefault("search.analyzer", DefaultAnalyzer)
	v.SetDefault("search.max_results", DefaultMaxResults)
	v.SetDefault("search.batch_size", DefaultBatchSize)
	v.SetDefault("search.lock_timeout", DefaultLockTimeout)

	v.SetEnvPrefix("RELIC_SEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("auth.type", "RELIC_SEARCH_AUTH_TYPE")
	_ = v.BindEnv("auth.basic.username", "RELIC_SEARCH_AUTH_BASIC_USERNAME")
	_ = v.BindEnv("auth.basic.password", "RELIC_SEARCH_AUTH_BASIC_PASSWORD")
	_ = v.BindEnv("auth.api_keys", "RELIC_SEARCH_AUTH_API_KEYS")

	_ = v.BindEnv("search.data_dir", "RELIC_SEARCH_DATA_DIR")
	_ = v.BindEnv("search.analyzer", "RELIC_SEARCH_ANALYZER")
	_ = v.BindEnv("search.max_results", "RELIC_SEARCH_MAX_RESULTS")
	_ = v.BindEnv("search.batch_size", "RELIC_SEARCH_BATCH_SIZE")
	_ = v.BindEnv("search.lock_timeout", "RELIC_SEARCH_LOCK_TIMEOUT")

	if flags != nil {
		bindFlag(v, flags, "transport", "transport")
		bindFlag(v, flags, "host", "host")
		bindFlag(v, flags, "port", "port")
		bindFlag(v, flags, "auth.type", "auth-type")
		bindFlag(v, flags, "auth.basic.username", "auth-basic-username")
		bindFlag(v, flags, "auth.basic.password", "auth-basic-password")
		bindFlag(v, flags, "auth.api_keys", "auth-api-keys")

		bindFlag(v, flags, "search.data_dir", "data-dir")
		bindFlag(v, flags, "search.analyzer", "analyzer")
		bindFlag(v, flags, "search.max_results", "max-results")
		bindFlag(v, flags, "search.batch_size", "batch-size")
		bindFlag(v, flags, "search.lock_timeout", "lock-timeout")
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Comma-separated API keys arrive from the environment as a single value
	apiKeysEnv := os.Getenv("RELIC_SEARCH_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}

	settings.Search.DataDir = expandHomeDir(settings.Search.DataDir)
	settings.Search.Analyzer = strings.ToLower(strings.TrimSpace(settings.Search.Analyzer))

	return &settings, nil
}

// bindFlag binds a flag when the command registered it. Subcommands only
// register the flags they use.
func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// defaultDataDir returns the default data directory
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relic-search"
	}
	return filepath.Join(home, ".relic-search")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	return ValidateSearchSettings(&s.Search)
}

// ValidateSearchSettings validates the store and index configuration
func ValidateSearchSettings(s *SearchSettings) error {
	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}

	if !slices.Contains(SupportedAnalyzers, s.Analyzer) {
		return fmt.Errorf("analyzer must be one of %s, got: %q", strings.Join(SupportedAnalyzers, ", "), s.Analyzer)
	}

	if s.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}

	if s.BatchSize <= 0 {
		return errors.New("batch-size must be positive")
	}

	if s.LockTimeout < 0 {
		return errors.New("lock-timeout cannot be negative")
	}

	return nil
}
