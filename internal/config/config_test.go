package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bassista/go_lanatus/internal/cache"
	"github.com/spf13/viper"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			IdleTimeout:        120 * time.Second,
			ShutDownTimeout:    5 * time.Second,
			RequestTimeout:     1000 * time.Millisecond,
			CORSAllowedOrigins: "*",
		},
		Store: StoreConfig{
			Type:       StoreTypeSQLite,
			SQLitePath: "/tmp/lanatus.db",
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Defaults: DefaultsConfig{Melons: 0, LastRank: "guest"},
		Misc:     MiscConfig{GinMode: "release", LogLevel: "info"},
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"too high port", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port
			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for port %d", tt.port)
			}
		})
	}
}

func TestConfig_Validate_InvalidTimeouts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"zero read timeout", func(s *ServerConfig) { s.ReadTimeout = 0 }},
		{"zero write timeout", func(s *ServerConfig) { s.WriteTimeout = 0 }},
		{"zero idle timeout", func(s *ServerConfig) { s.IdleTimeout = 0 }},
		{"zero shutdown timeout", func(s *ServerConfig) { s.ShutDownTimeout = 0 }},
		{"negative request timeout", func(s *ServerConfig) { s.RequestTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Server)
			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestConfig_Validate_Store(t *testing.T) {
	tests := []struct {
		name    string
		store   StoreConfig
		wantErr bool
	}{
		{"sqlite with path", StoreConfig{Type: StoreTypeSQLite, SQLitePath: "a.db"}, false},
		{"sqlite without path", StoreConfig{Type: StoreTypeSQLite}, true},
		{"json with path", StoreConfig{Type: StoreTypeJSON, JSONPath: "a.json"}, false},
		{"json without path", StoreConfig{Type: StoreTypeJSON}, true},
		{"memory", StoreConfig{Type: StoreTypeMemory}, false},
		{"unknown", StoreConfig{Type: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Store = tt.store
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Defaults(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.Melons = -5
	if err := cfg.validate(); err == nil {
		t.Error("expected error for negative default melons")
	}
}

func TestConfig_Validate_NegativeSweepInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.SweepInterval = -time.Second
	if err := cfg.validate(); err == nil {
		t.Error("expected error for negative sweep interval")
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{"0", 0, false},
		{"", 0, false},
		{"never", cache.NeverExpire, false},
		{"NEVER", cache.NeverExpire, false},
		{"-1", cache.NeverExpire, false},
		{"-3s", cache.NeverExpire, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTTL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTTL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTTL(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCacheConfig_TTLFor(t *testing.T) {
	c := CacheConfig{
		TTL:        time.Minute,
		Namespaces: map[string]time.Duration{"accounts": cache.NeverExpire},
	}

	if got := c.TTLFor("accounts"); got != cache.NeverExpire {
		t.Errorf("expected namespace override, got %v", got)
	}
	if got := c.TTLFor("other"); got != time.Minute {
		t.Errorf("expected global ttl, got %v", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	_ = os.Setenv("TEST_ENV_VAR", "custom_value")
	defer func() { _ = os.Unsetenv("TEST_ENV_VAR") }()

	if result := getEnvOrDefault("TEST_ENV_VAR", "default_value"); result != "custom_value" {
		t.Errorf("expected 'custom_value', got '%s'", result)
	}
	if result := getEnvOrDefault("NONEXISTENT_VAR", "default_value"); result != "default_value" {
		t.Errorf("expected 'default_value', got '%s'", result)
	}
}

func TestGetEnvOrViperPort_FromEnv(t *testing.T) {
	_ = os.Setenv("TEST_PORT", "9090")
	defer func() { _ = os.Unsetenv("TEST_PORT") }()

	port, err := getEnvOrViperPort("TEST_PORT", "server.port")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if port != 9090 {
		t.Errorf("expected 9090, got %d", port)
	}
}

func TestGetEnvOrViperPort_InvalidEnv(t *testing.T) {
	_ = os.Setenv("TEST_PORT_INVALID", "not_a_number")
	defer func() { _ = os.Unsetenv("TEST_PORT_INVALID") }()

	if _, err := getEnvOrViperPort("TEST_PORT_INVALID", "server.port"); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	content := `
server:
  port: 9191
store:
  type: json
  json_path: ` + filepath.Join(dir, "accounts.json") + `
cache:
  ttl: never
  namespaces:
    accounts: 30s
defaults:
  melons: 10
  last_rank: guest
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("GO_LANATUS_CONFIG_PATH", dir)
	t.Setenv("GO_LANATUS_MISC_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.Server.Port)
	}
	if cfg.Store.Type != StoreTypeJSON {
		t.Errorf("expected json store, got %s", cfg.Store.Type)
	}
	if cfg.Cache.TTL != cache.NeverExpire {
		t.Errorf("expected never-expiring ttl, got %v", cfg.Cache.TTL)
	}
	if got := cfg.Cache.TTLFor("accounts"); got != 30*time.Second {
		t.Errorf("expected accounts ttl 30s, got %v", got)
	}
	if cfg.Defaults.Melons != 10 || cfg.Defaults.LastRank != "guest" {
		t.Errorf("unexpected defaults: %+v", cfg.Defaults)
	}
	if cfg.Misc.LogLevel != "debug" {
		t.Errorf("expected env override of log level, got %s", cfg.Misc.LogLevel)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected default read timeout, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("GO_LANATUS_CONFIG_PATH", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Type != StoreTypeSQLite {
		t.Errorf("expected sqlite default, got %s", cfg.Store.Type)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected 5m default ttl, got %v", cfg.Cache.TTL)
	}
}
