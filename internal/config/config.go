// Package config loads process configuration from defaults, an optional config file,
// flags and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Azarenkov/aitu-keeper/internal/provider"
)

// EnvPrefix prefixes every environment override, e.g. KEEPER_DATABASE_DSN.
const EnvPrefix = "KEEPER"

// legacyEnv maps unprefixed variable names of older deployments onto config keys.
var legacyEnv = map[string]string{
	"database.dsn":             "MONGODB_URI",
	"provider.base_url":        "BASE_URL",
	"provider.format":          "FORMAT_URL",
	"scheduler.batch_size":     "BATCH_SIZE",
	"push.service_account_key": "SERVICE_ACCOUNT_KEY",
}

// Config is the resolved process configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Push      PushConfig      `mapstructure:"push"`
	Health    HealthConfig    `mapstructure:"health"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProviderConfig configures the Moodle client and its request pacing.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Format  string        `mapstructure:"format"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"` // 0 disables pacing
	Burst   int           `mapstructure:"burst"`
}

type SchedulerConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Workers   int           `mapstructure:"workers"`
	IdleDelay time.Duration `mapstructure:"idle_delay"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// PushConfig selects the push sender. Without service account credentials
// notifications are only logged.
type PushConfig struct {
	ServiceAccountKey  string `mapstructure:"service_account_key"` // base64 JSON
	ServiceAccountFile string `mapstructure:"service_account_file"`
	ProjectID          string `mapstructure:"project_id"`
	Endpoint           string `mapstructure:"endpoint"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("database.dsn", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.format", provider.DefaultFormat)
	v.SetDefault("provider.timeout", provider.DefaultTimeout)
	v.SetDefault("provider.rps", 10.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.idle_delay", time.Second)
	v.SetDefault("sweeper.interval", 6*time.Hour)
	v.SetDefault("push.service_account_key", "")
	v.SetDefault("push.service_account_file", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.endpoint", "https://fcm.googleapis.com")
	v.SetDefault("health.addr", ":50051")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// BindFlags registers the flags shared by every command and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("config", "", "path to a YAML or TOML config file")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("dsn", "", "PostgreSQL DSN")

	for key, flag := range map[string]string{
		"config":       "config",
		"log.level":    "log-level",
		"database.dsn": "dsn",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings in place.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return v, nil
}

// Load reads the optional config file named by the "config" key and decodes v.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command that touches storage needs.
func (c *Config) Validate() error {
	var problems []error
	switch dsn := strings.ToLower(strings.TrimSpace(c.Database.DSN)); {
	case dsn == "":
		problems = append(problems, errors.New("database.dsn is required"))
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		// MONGODB_URI is still read, but only a PostgreSQL DSN works behind it
		problems = append(problems, errors.New("database.dsn is a MongoDB URI; set a postgres:// DSN in KEEPER_DATABASE_DSN"))
	}
	if c.Provider.BaseURL == "" {
		problems = append(problems, errors.New("provider.base_url is required"))
	}
	if c.Scheduler.BatchSize <= 0 {
		problems = append(problems, fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize))
	}
	if c.Scheduler.Workers <= 0 {
		problems = append(problems, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	if c.Provider.RPS < 0 {
		problems = append(problems, fmt.Errorf("provider.rps must not be negative, got %v", c.Provider.RPS))
	}
	return errors.Join(problems...)
}
