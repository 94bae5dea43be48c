package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.Port != 7001 {
		t.Errorf("Port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.Server.Workers != runtime.NumCPU() {
		t.Errorf("Workers = %d, want %d", cfg.Server.Workers, runtime.NumCPU())
	}
	if cfg.Server.RequestTimeout != "30s" {
		t.Errorf("RequestTimeout = %q, want %q", cfg.Server.RequestTimeout, "30s")
	}
	if cfg.Server.ShutdownTimeout != "10s" {
		t.Errorf("ShutdownTimeout = %q, want %q", cfg.Server.ShutdownTimeout, "10s")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			Workers:         2,
			RequestTimeout:  "5s",
			ShutdownTimeout: "3s",
			LogLevel:        "warn",
		},
		Metrics: MetricsConfig{Path: "/internal/metrics"},
	}

	cfg.SetDefaults()

	if cfg.Server.Port != 9090 {
		t.Errorf("Port was overwritten: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Workers != 2 {
		t.Errorf("Workers was overwritten: got %d, want 2", cfg.Server.Workers)
	}
	if cfg.Server.RequestTimeout != "5s" {
		t.Errorf("RequestTimeout was overwritten: got %q, want %q", cfg.Server.RequestTimeout, "5s")
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel was overwritten: got %q, want %q", cfg.Server.LogLevel, "warn")
	}
	if cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics.Path was overwritten: got %q, want %q", cfg.Metrics.Path, "/internal/metrics")
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.Workers != 1 {
		t.Errorf("Workers = %d, want 1 in dev mode", cfg.Server.Workers)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q in dev mode", cfg.Server.LogLevel, "debug")
	}
}

func TestConfig_SetDevDefaults_Disabled(t *testing.T) {
	t.Parallel()

	cfg := Config{Server: ServerConfig{Workers: 8, LogLevel: "info"}}
	cfg.SetDevDefaults()

	if cfg.Server.Workers != 8 {
		t.Errorf("Workers = %d, want 8 (dev mode off)", cfg.Server.Workers)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q (dev mode off)", cfg.Server.LogLevel, "info")
	}
}

func TestConfig_RequestTimeoutDuration(t *testing.T) {
	t.Parallel()

	cfg := Config{Server: ServerConfig{RequestTimeout: "2s"}}
	if got := cfg.RequestTimeoutDuration(); got != 2*time.Second {
		t.Errorf("RequestTimeoutDuration = %v, want 2s", got)
	}

	// Malformed and non-positive values fall back to 30s.
	for _, bad := range []string{"", "soon", "-1s", "0s"} {
		cfg.Server.RequestTimeout = bad
		if got := cfg.RequestTimeoutDuration(); got != 30*time.Second {
			t.Errorf("RequestTimeoutDuration(%q) = %v, want 30s fallback", bad, got)
		}
	}
}

func TestConfig_ShutdownTimeoutDuration(t *testing.T) {
	t.Parallel()

	cfg := Config{Server: ServerConfig{ShutdownTimeout: "500ms"}}
	if got := cfg.ShutdownTimeoutDuration(); got != 500*time.Millisecond {
		t.Errorf("ShutdownTimeoutDuration = %v, want 500ms", got)
	}

	cfg.Server.ShutdownTimeout = "nope"
	if got := cfg.ShutdownTimeoutDuration(); got != 10*time.Second {
		t.Errorf("ShutdownTimeoutDuration(malformed) = %v, want 10s fallback", got)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "egg.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  port: 9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "egg.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  port: 9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "egg" with no extension
	_ = os.WriteFile(filepath.Join(dir, "egg"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "egg.yaml")
	ymlPath := filepath.Join(dir, "egg.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  port: 8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  port: 9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
