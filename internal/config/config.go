package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the collector.
type Config struct {
	Vendor     VendorConfig     `mapstructure:"vendor"`
	Identities []IdentityConfig `mapstructure:"identities"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// VendorConfig carries the vendor endpoint and its crypto material.
// The key material ships with the vendor's public clients; it is
// configuration, not a secret, but stays out of the source tree.
type VendorConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Channel      string        `mapstructure:"channel"` // "web" or "app"
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	AESKey       string        `mapstructure:"aes_key"`
	AESIV        string        `mapstructure:"aes_iv"`
	RSAPublicKey string        `mapstructure:"rsa_public_key"`
}

// IdentityConfig is one vendor login. Each identity gets its own
// client, session file and scheduler.
type IdentityConfig struct {
	Name        string `mapstructure:"name"`
	AccountID   string `mapstructure:"account_id"` // phone number
	Password    string `mapstructure:"password"`
	AreaCode    string `mapstructure:"area_code"`
	SessionFile string `mapstructure:"session_file"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	UpdateTimeout time.Duration `mapstructure:"update_timeout"`
}

type DatabaseConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Name              string `mapstructure:"name"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads YAML configuration from path. ${VAR} references are
// expanded from the environment before parsing, so passwords can live
// outside the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Identities) == 0 {
		return fmt.Errorf("at least one identity is required")
	}
	for i, id := range c.Identities {
		if id.AccountID == "" {
			return fmt.Errorf("identity %d: account_id is required", i)
		}
		if id.Password == "" {
			return fmt.Errorf("identity %q: password is required", id.AccountID)
		}
	}
	if c.Vendor.Channel != "web" && c.Vendor.Channel != "app" {
		return fmt.Errorf("vendor.channel must be \"web\" or \"app\", got %q", c.Vendor.Channel)
	}
	if len(c.Vendor.AESKey) != 16 || len(c.Vendor.AESIV) != 16 {
		return fmt.Errorf("vendor.aes_key and vendor.aes_iv must be 16 bytes")
	}
	if c.Vendor.RSAPublicKey == "" {
		return fmt.Errorf("vendor.rsa_public_key is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vendor.base_url", "https://95598.csg.cn")
	v.SetDefault("vendor.channel", "web")
	v.SetDefault("vendor.timeout", "30s")
	v.SetDefault("vendor.rate_limit", 2.0)
	v.SetDefault("vendor.rate_burst", 5)

	v.SetDefault("scheduler.poll_interval", "4h")
	v.SetDefault("scheduler.update_timeout", "5m")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9108")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
