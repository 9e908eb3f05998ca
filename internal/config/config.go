package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped onto
// config keys. A double underscore separates sections:
// FRIENDCHAT_REDIS__ADDR -> redis.addr.
const EnvPrefix = "FRIENDCHAT_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/friendchat/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
	Registry RegistryConfig `koanf:"registry"`
	Push     PushConfig     `koanf:"push"`
	Tables   TablesConfig   `koanf:"tables"`
	Fanout   FanoutConfig   `koanf:"fanout"`
	Changes  ChangesConfig  `koanf:"changes"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	Issuer    string `koanf:"issuer"`
}

type RegistryConfig struct {
	KeyPrefix string `koanf:"key_prefix" validate:"required"`
}

// PushConfig describes the push endpoint. ChannelPrefix names the Redis
// pub/sub namespace every gateway node subscribes its connections under.
type PushConfig struct {
	ChannelPrefix    string        `koanf:"channel_prefix" validate:"required"`
	BreakerFailures  uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerOpenFor   time.Duration `koanf:"breaker_open_for" validate:"gt=0"`
	BreakerHalfOpenN uint32        `koanf:"breaker_half_open_requests" validate:"gt=0"`
}

// TablesConfig names the source tables the change listener dispatches on.
type TablesConfig struct {
	Users          string `koanf:"users" validate:"required,identifier"`
	Friends        string `koanf:"friends" validate:"required,identifier"`
	FriendRequests string `koanf:"friend_requests" validate:"required,identifier"`
}

type FanoutConfig struct {
	MaxConcurrency int           `koanf:"max_concurrency" validate:"gt=0"`
	HandlerTimeout time.Duration `koanf:"handler_timeout" validate:"gt=0"`
}

type ChangesConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Channel     string        `koanf:"channel" validate:"required,identifier"`
	BatchSize   int           `koanf:"batch_size" validate:"gt=0"`
	BatchWindow time.Duration `koanf:"batch_window" validate:"gt=0"`
	RetryDelay  time.Duration `koanf:"retry_delay" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			Issuer: "go-friendchat",
		},
		Registry: RegistryConfig{
			KeyPrefix: "friendchat",
		},
		Push: PushConfig{
			ChannelPrefix:    "friendchat:push",
			BreakerFailures:  5,
			BreakerOpenFor:   10 * time.Second,
			BreakerHalfOpenN: 1,
		},
		Tables: TablesConfig{
			Users:          "users",
			Friends:        "friends",
			FriendRequests: "friend_requests",
		},
		Fanout: FanoutConfig{
			MaxConcurrency: 32,
			HandlerTimeout: 10 * time.Second,
		},
		Changes: ChangesConfig{
			Enabled:     true,
			Channel:     "table_changes",
			BatchSize:   100,
			BatchWindow: 50 * time.Millisecond,
			RetryDelay:  2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, an optional YAML file and FRIENDCHAT_* environment
// variables, in that order of precedence, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// identifier matches the unquoted SQL names used for tables and the notify
// channel; they are interpolated into DDL.
var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks every required setting. A missing value is a deployment
// defect and must stop the process.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifier.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("register identifier validation: %w", err)
	}

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
