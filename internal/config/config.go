package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/go_lanatus/internal/cache"
	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreTypeSQLite = "sqlite"
	StoreTypeJSON   = "json"
	StoreTypeMemory = "memory"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Cache    CacheConfig
	Defaults DefaultsConfig
	Misc     MiscConfig
}

type ServerConfig struct {
	Port               int           `validate:"min=1,max=65535"`
	ReadTimeout        time.Duration `validate:"gt=0"`
	WriteTimeout       time.Duration `validate:"gt=0"`
	IdleTimeout        time.Duration `validate:"gt=0"`
	ShutDownTimeout    time.Duration `validate:"gt=0"`
	RequestTimeout     time.Duration `validate:"gte=0"`
	CORSAllowedOrigins string
}

type StoreConfig struct {
	Type       string `validate:"oneof=sqlite json memory"`
	SQLitePath string
	JSONPath   string
}

// CacheConfig holds snapshot cache settings. A TTL of 0 disables caching,
// cache.NeverExpire keeps entries until invalidated.
type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration `validate:"gte=0"`
	Namespaces    map[string]time.Duration
}

// DefaultsConfig holds the values of accounts that do not exist yet.
type DefaultsConfig struct {
	Melons   int64  `validate:"gte=0"`
	LastRank string `validate:"max=64"`
}

type MiscConfig struct {
	GinMode  string
	LogLevel string
}

// TTLFor returns the TTL for a cache namespace, falling back to the global TTL.
func (c CacheConfig) TTLFor(namespace string) time.Duration {
	if ttl, ok := c.Namespaces[namespace]; ok {
		return ttl
	}
	return c.TTL
}

// LoadConfig reads config.yaml from GO_LANATUS_CONFIG_PATH (default ./config),
// an optional .env file and GO_LANATUS_* environment variables, in increasing
// order of precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithComponent("config").Warnf("cannot read .env file: %v", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(getEnvOrDefault("GO_LANATUS_CONFIG_PATH", "./config"))

	setDefaults()

	// Environment variables like GO_LANATUS_SERVER_PORT override server.port
	viper.SetEnvPrefix("GO_LANATUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.WithComponent("config").Info("No config file found, using defaults and env vars")
		} else {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	cfg, err := fromViper()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "5s")
	viper.SetDefault("server.request_timeout", "2s")
	viper.SetDefault("server.cors_allowed_origins", "*")

	viper.SetDefault("store.type", StoreTypeSQLite)
	viper.SetDefault("store.sqlite_path", "./data/lanatus.db")
	viper.SetDefault("store.json_path", "./data/accounts.json")

	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("cache.sweep_interval", "1m")

	viper.SetDefault("defaults.melons", 0)
	viper.SetDefault("defaults.last_rank", "")

	viper.SetDefault("misc.gin_mode", "release")
	viper.SetDefault("misc.log_level", "info")
}

func fromViper() (*Config, error) {
	port, err := getEnvOrViperPort("PORT", "server.port")
	if err != nil {
		return nil, err
	}

	ttl, err := parseTTL(viper.GetString("cache.ttl"))
	if err != nil {
		return nil, fmt.Errorf("cache.ttl: %w", err)
	}

	namespaces := map[string]time.Duration{}
	for name, raw := range viper.GetStringMapString("cache.namespaces") {
		nsTTL, err := parseTTL(raw)
		if err != nil {
			return nil, fmt.Errorf("cache.namespaces.%s: %w", name, err)
		}
		namespaces[name] = nsTTL
	}

	return &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        viper.GetDuration("server.read_timeout"),
			WriteTimeout:       viper.GetDuration("server.write_timeout"),
			IdleTimeout:        viper.GetDuration("server.idle_timeout"),
			ShutDownTimeout:    viper.GetDuration("server.shutdown_timeout"),
			RequestTimeout:     viper.GetDuration("server.request_timeout"),
			CORSAllowedOrigins: viper.GetString("server.cors_allowed_origins"),
		},
		Store: StoreConfig{
			Type:       strings.ToLower(viper.GetString("store.type")),
			SQLitePath: viper.GetString("store.sqlite_path"),
			JSONPath:   viper.GetString("store.json_path"),
		},
		Cache: CacheConfig{
			TTL:           ttl,
			SweepInterval: viper.GetDuration("cache.sweep_interval"),
			Namespaces:    namespaces,
		},
		Defaults: DefaultsConfig{
			Melons:   viper.GetInt64("defaults.melons"),
			LastRank: viper.GetString("defaults.last_rank"),
		},
		Misc: MiscConfig{
			GinMode:  viper.GetString("misc.gin_mode"),
			LogLevel: viper.GetString("misc.log_level"),
		},
	}, nil
}

// parseTTL accepts a Go duration, "0" to disable caching, or "never"/"-1" for no expiry.
func parseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "never", "-1":
		return cache.NeverExpire, nil
	case "", "0":
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", raw, err)
	}
	if d < 0 {
		return cache.NeverExpire, nil
	}
	return d, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Store.Type {
	case StoreTypeSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite store")
		}
	case StoreTypeJSON:
		if c.Store.JSONPath == "" {
			return errors.New("store.json_path is required for the json store")
		}
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// getEnvOrViperPort prefers a plain env var (e.g. PORT set by a PaaS) over the config key.
func getEnvOrViperPort(envKey, viperKey string) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", envKey, err)
		}
		return port, nil
	}
	return viper.GetInt(viperKey), nil
}
