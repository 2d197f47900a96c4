// Package config centralises runtime configuration for the goxfeed
// client.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials captures API credentials used for authenticated requests.
// Key is the public key id, Secret the base64-encoded signing key.
// Decryption of stored secrets happens outside this package; by the time
// settings reach the client both fields are plaintext or empty.
type Credentials struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

// Configured reports whether both halves of the credential pair are set.
func (c Credentials) Configured() bool {
	return c.Key != "" && c.Secret != ""
}

// Endpoints lists the exchange connection points.
type Endpoints struct {
	// SessionURL is the handshake host for the primary transport; the
	// negotiated session id is appended to form the upgraded URL.
	SessionURL string `yaml:"sessionUrl"`
	// WebsocketURL is the direct host for the backup transport.
	WebsocketURL string `yaml:"websocketUrl"`
	// HTTPBaseURL prefixes all REST and signed HTTP calls.
	HTTPBaseURL string `yaml:"httpBaseUrl"`
}

// Thresholds holds the operational timing constants. The defaults are
// empirically chosen against the live feed; they are configuration, not
// behaviour to hard-code.
type Thresholds struct {
	// PrimarySilence is how long the primary may be frame-silent before
	// the supervisor force-restarts it.
	PrimarySilence time.Duration `yaml:"primarySilence"`
	// FullDepthStale triggers a full snapshot reload on reconnect.
	FullDepthStale time.Duration `yaml:"fullDepthStale"`
	// PartialDepthStale triggers a partial snapshot refresh on reconnect.
	PartialDepthStale time.Duration `yaml:"partialDepthStale"`
	// BackupDepthRefresh is the snapshot age that makes the supervisor
	// request a partial refresh while the primary is silent.
	BackupDepthRefresh time.Duration `yaml:"backupDepthRefresh"`
	// SupervisorPeriod is the failover watchdog tick.
	SupervisorPeriod time.Duration `yaml:"supervisorPeriod"`
	// KeepaliveInterval is the primary transport's application-level
	// keepalive tick.
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	// BackupReconnectDelay is the fixed wait between backup dials.
	BackupReconnectDelay time.Duration `yaml:"backupReconnectDelay"`
	// PrimaryBackoffMax caps the primary's exponential reconnect delay.
	PrimaryBackoffMax time.Duration `yaml:"primaryBackoffMax"`
	// HandshakeTimeout bounds dials and the session negotiation.
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	// HTTPTimeout bounds every REST and signed HTTP call.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// Telemetry configures the OpenTelemetry metrics pipeline.
type Telemetry struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// Settings contains the full configuration tree.
type Settings struct {
	// Currency is the quote currency; every market and account event is
	// filtered to it.
	Currency string `yaml:"currency"`
	// UseHTTPAPI routes authenticated calls through the HTTP worker
	// instead of signed socket calls.
	UseHTTPAPI bool `yaml:"useHttpApi"`
	// LoadFullDepth enables the initial full snapshot download.
	LoadFullDepth bool `yaml:"loadFullDepth"`
	// LoadHistory enables the 24h trade-history download.
	LoadHistory bool `yaml:"loadHistory"`

	Credentials Credentials `yaml:"credentials"`
	Endpoints   Endpoints   `yaml:"endpoints"`
	Thresholds  Thresholds  `yaml:"thresholds"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Currency:      "USD",
		UseHTTPAPI:    true,
		LoadFullDepth: true,
		LoadHistory:   true,
		Credentials:   Credentials{},
		Endpoints: Endpoints{
			SessionURL:   "wss://socketio.mtgox.com/socket.io/1",
			WebsocketURL: "wss://websocket.mtgox.com",
			HTTPBaseURL:  "https://data.mtgox.com/api/2",
		},
		Thresholds: Thresholds{
			PrimarySilence:       60 * time.Second,
			FullDepthStale:       120 * time.Second,
			PartialDepthStale:    15 * time.Second,
			BackupDepthRefresh:   20 * time.Second,
			SupervisorPeriod:     15 * time.Second,
			KeepaliveInterval:    60 * time.Second,
			BackupReconnectDelay: time.Second,
			PrimaryBackoffMax:    20 * time.Second,
			HandshakeTimeout:     10 * time.Second,
			HTTPTimeout:          10 * time.Second,
		},
		Telemetry: Telemetry{
			Enabled:        false,
			OTLPEndpoint:   "localhost:4318",
			OTLPInsecure:   true,
			MetricInterval: 15 * time.Second,
		},
	}
}

// Load reads settings from a YAML file layered over the defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// LoadOrDefault reads settings from path when the file exists; otherwise
// it returns the defaults. The boolean reports whether a file was read.
func LoadOrDefault(path string) (Settings, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			settings := Default()
			settings.applyEnv()
			return settings, false, nil
		}
		return Settings{}, false, fmt.Errorf("stat config %s: %w", path, err)
	}
	settings, err := Load(path)
	if err != nil {
		return Settings{}, false, err
	}
	return settings, true, nil
}

// applyEnv lets credentials be injected without writing them to disk.
func (s *Settings) applyEnv() {
	if key := os.Getenv("GOX_API_KEY"); key != "" {
		s.Credentials.Key = key
	}
	if secret := os.Getenv("GOX_API_SECRET"); secret != "" {
		s.Credentials.Secret = secret
	}
	if currency := os.Getenv("GOX_CURRENCY"); currency != "" {
		s.Currency = currency
	}
}

// Validate rejects settings that cannot produce a working client.
func (s Settings) Validate() error {
	if s.Currency == "" {
		return fmt.Errorf("config: currency must not be empty")
	}
	if s.Endpoints.SessionURL == "" || s.Endpoints.WebsocketURL == "" || s.Endpoints.HTTPBaseURL == "" {
		return fmt.Errorf("config: all three endpoints must be set")
	}
	if s.Thresholds.SupervisorPeriod <= 0 {
		return fmt.Errorf("config: supervisor period must be positive")
	}
	if s.Thresholds.PrimarySilence <= 0 {
		return fmt.Errorf("config: primary silence threshold must be positive")
	}
	if s.Thresholds.FullDepthStale < s.Thresholds.PartialDepthStale {
		return fmt.Errorf("config: full depth staleness must not be below partial depth staleness")
	}
	return nil
}
