package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"querybridge/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. QUERYBRIDGE_LOGGING_LEVEL.
const EnvPrefix = "QUERYBRIDGE"

type Config struct {
	Logging     LoggingConfig            `mapstructure:"logging"`
	Security    SecurityConfig           `mapstructure:"security"`
	Executor    ExecutorConfig           `mapstructure:"executor"`
	Cache       CacheConfig              `mapstructure:"cache"`
	Connections []model.ConnectionConfig `mapstructure:"connections" validate:"dive"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type SecurityConfig struct {
	MasterKeyEnv   string `mapstructure:"master_key_env"`
	KeyringService string `mapstructure:"keyring_service"`
	KeyringUser    string `mapstructure:"keyring_user"`
}

type ExecutorConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	ConnectRate      float64       `mapstructure:"connect_rate" validate:"gte=0"`
	ConnectBurst     int           `mapstructure:"connect_burst" validate:"gte=1"`
	StrictValidation bool          `mapstructure:"strict_validation"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

var structValidator = validator.New()

// Load reads querybridge.yaml from path, or from ./configs and the working
// directory when path is empty. A missing file is not an error; defaults and
// environment overrides still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("querybridge")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Security defaults
	v.SetDefault("security.master_key_env", EnvPrefix+"_MASTER_KEY")
	v.SetDefault("security.keyring_service", "querybridge")
	v.SetDefault("security.keyring_user", "master-key")

	// Executor defaults
	v.SetDefault("executor.connect_timeout", "10s")
	v.SetDefault("executor.connect_rate", 0)
	v.SetDefault("executor.connect_burst", 1)
	v.SetDefault("executor.strict_validation", false)

	// Cache defaults
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.sweep_interval", "10m")
}

// Validate checks field ranges, every connection and id uniqueness.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Connections))
	for i := range c.Connections {
		conn := &c.Connections[i]
		if seen[conn.ID] {
			return fmt.Errorf("invalid configuration: duplicate connection id %q", conn.ID)
		}
		seen[conn.ID] = true

		if !model.IsValidDatabaseType(string(conn.Type)) {
			return fmt.Errorf("invalid configuration: connection %q has unknown type %q", conn.ID, conn.Type)
		}
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// Connection returns the configured connection with the given id
func (c *Config) Connection(id string) (*model.ConnectionConfig, error) {
	for i := range c.Connections {
		if c.Connections[i].ID == id {
			return &c.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("connection %q is not configured", id)
}
