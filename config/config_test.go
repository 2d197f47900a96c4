package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettingsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goxfeed.yaml")
	content := `
currency: EUR
useHttpApi: false
thresholds:
  primarySilence: 90s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("currency: got %q", cfg.Currency)
	}
	if cfg.UseHTTPAPI {
		t.Fatal("useHttpApi override lost")
	}
	if cfg.Thresholds.PrimarySilence != 90*time.Second {
		t.Fatalf("primarySilence: got %v", cfg.Thresholds.PrimarySilence)
	}
	// Untouched values keep their defaults.
	if cfg.Thresholds.SupervisorPeriod != 15*time.Second {
		t.Fatalf("supervisorPeriod default lost: %v", cfg.Thresholds.SupervisorPeriod)
	}
	if cfg.Endpoints.HTTPBaseURL == "" {
		t.Fatal("endpoint default lost")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, fromFile, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if fromFile {
		t.Fatal("claims a file was read")
	}
	if cfg.Currency != "USD" {
		t.Fatalf("defaults not returned: %+v", cfg)
	}
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("GOX_API_KEY", "env-key")
	t.Setenv("GOX_API_SECRET", "env-secret")
	t.Setenv("GOX_CURRENCY", "JPY")

	cfg, _, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Credentials.Key != "env-key" || cfg.Credentials.Secret != "env-secret" {
		t.Fatalf("credentials not applied: %+v", cfg.Credentials)
	}
	if !cfg.Credentials.Configured() {
		t.Fatal("Configured false with both halves set")
	}
	if cfg.Currency != "JPY" {
		t.Fatalf("currency: got %q", cfg.Currency)
	}
}

func TestValidateRejectsBrokenSettings(t *testing.T) {
	cases := map[string]func(*Settings){
		"empty currency":        func(s *Settings) { s.Currency = "" },
		"missing endpoint":      func(s *Settings) { s.Endpoints.WebsocketURL = "" },
		"zero supervisor tick":  func(s *Settings) { s.Thresholds.SupervisorPeriod = 0 },
		"zero silence":          func(s *Settings) { s.Thresholds.PrimarySilence = 0 },
		"inverted depth stales": func(s *Settings) { s.Thresholds.FullDepthStale = time.Second },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", name)
		}
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("currency: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid YAML accepted")
	}
}
