package dov_fixtures

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds the settings for refreshing fixtures.
//
// Values come from (in order of precedence) command-line flags, environment
// variables prefixed with DOV_FIXTURES_, a dov-fixtures.yaml config file, and
// finally the defaults.
type Config struct {
	// Root of the DOV web services.
	BaseURL string `mapstructure:"base-url"`
	// The fixture root that resource paths are relative to.
	OutputDir string `mapstructure:"output-dir"`
	// A YAML dataset table to use instead of the built-in one.
	Datasets string `mapstructure:"datasets"`
	// Timeout for a single request.
	Timeout time.Duration `mapstructure:"timeout"`
	// Maximum requests per second. Zero means unlimited.
	Rate      float64 `mapstructure:"rate"`
	UserAgent string  `mapstructure:"user-agent"`
	// The sqlite database run history is saved to. Defaults to a file in
	// the XDG data directory.
	DB        string `mapstructure:"db"`
	NoHistory bool   `mapstructure:"no-history"`
}

// NewViper creates a viper instance with this tool's defaults, config file
// locations and environment variable bindings.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("dov-fixtures")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(xdg.ConfigHome, "dov-fixtures"))

	v.SetEnvPrefix("DOV_FIXTURES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// The variable pydov itself uses to point at another DOV instance.
	_ = v.BindEnv("base-url", "DOV_FIXTURES_BASE_URL", "PYDOV_BASE_URL")

	v.SetDefault("base-url", DefaultBaseURL)
	v.SetDefault("output-dir", filepath.Join("tests", "data"))
	v.SetDefault("datasets", "")
	v.SetDefault("timeout", time.Minute)
	v.SetDefault("rate", 5.0)
	v.SetDefault("user-agent", defaultUserAgent)
	v.SetDefault("db", "")
	v.SetDefault("no-history", false)

	return v
}

// LoadConfig reads the config file (if there is one) and decodes the
// settings.
func LoadConfig(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("unable to read the config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	base, err := NormaliseBaseURL(cfg.BaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid base URL: %w", err)
	}
	cfg.BaseURL = base

	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("the timeout must not be negative, found %s", cfg.Timeout)
	}
	if cfg.Rate < 0 {
		return Config{}, fmt.Errorf("the rate must not be negative, found %v", cfg.Rate)
	}

	return cfg, nil
}

// Table loads the configured dataset table.
func (c Config) Table() (Table, error) {
	if c.Datasets == "" {
		return DefaultTable()
	}

	return LoadTable(c.Datasets)
}
