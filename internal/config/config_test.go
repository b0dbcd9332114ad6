package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timezone != "Europe/Moscow" || cfg.MaxLessons != 10 || cfg.HorizonDays != 14 {
		t.Fatalf("defaults: %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: \":9000\"\nlog_level: DEBUG\nstorage:\n  backend: Memory\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.LogLevel != "debug" || cfg.Storage.Backend != BackendMemory {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.MaintenanceCron != "0 19 * * *" || cfg.SessionTTLMinutes != 30 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ShowEmptySlots = true
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ShowEmptySlots || got.BasicAuth == nil || got.BasicAuth.Password != "secret" {
		t.Fatalf("round trip: %+v", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "Backend"},
		{"postgres without url", func(c *Config) { c.Storage.Backend = BackendPostgres }, "DatabaseURL"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "Token"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "Timezone"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"too many lessons", func(c *Config) { c.MaxLessons = 40 }, "MaxLessons"},
		{"incomplete basic auth", func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "u"} }, "Password"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("error %q does not mention %s", err, tc.field)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(EnvDatabaseURL+"=postgres://from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvTelegramToken, "123:abc")
	// godotenv.Load never overrides variables that are already set, so make
	// sure the file value is the one that lands.
	t.Setenv(EnvDatabaseURL, "")
	os.Unsetenv(EnvDatabaseURL)

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(envFile); err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" || !cfg.Telegram.Enabled {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if cfg.Storage.DatabaseURL != "postgres://from-file" {
		t.Fatalf("database url: %q", cfg.Storage.DatabaseURL)
	}

	if err := DefaultConfig().ApplyEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Location().String() != "Europe/Moscow" {
		t.Fatalf("got %s", cfg.Location())
	}
	cfg.Timezone = "nowhere"
	if cfg.Location() == nil {
		t.Fatal("nil location")
	}
}
