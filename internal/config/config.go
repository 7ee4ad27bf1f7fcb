// Package config manages torsentry configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/torsentry/torsentry/internal/crypto"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
)

const configFile = "config.json"

// ProxyConfig describes where the local anonymizing proxy may listen and how
// it is probed.
type ProxyConfig struct {
	Host           string `json:"host"`
	CandidatePorts []int  `json:"candidate_ports"` // probed in order
	ProbeURL       string `json:"probe_url"`       // used during discovery
	VerifyURL      string `json:"verify_url"`      // second, independent probe

	ProbeTimeoutSeconds   int `json:"probe_timeout_seconds"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// ScanConfig configures network scans and their cadence.
type ScanConfig struct {
	MetricsURL    string   `json:"metrics_url"`
	DirectoryURLs []string `json:"directory_urls"`
	Schedule      string   `json:"schedule"` // "every 5m", "hourly", cron
	LiveInterval  int      `json:"live_interval_seconds"`

	RetryAttempts     int `json:"retry_attempts"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
}

// ThreatCategoryConfig overrides one catalog entry.
type ThreatCategoryConfig struct {
	Name          string  `json:"name"`
	Severity      string  `json:"severity"`
	MaxLikelihood float64 `json:"max_likelihood"`
}

// ThreatConfig holds the heuristic threat parameters.
type ThreatConfig struct {
	ActivationFloor float64                `json:"activation_floor"`
	HistorySize     int                    `json:"history_size"`
	Categories      []ThreatCategoryConfig `json:"categories,omitempty"`
	Seed            uint64                 `json:"seed,omitempty"` // 0 = time-seeded
}

// EstimatorConfig holds the ranges used for network size estimates. These are
// placeholders, not measurements.
type EstimatorConfig struct {
	BaseRelays      int `json:"base_relays"`
	RelayVariance   int `json:"relay_variance"`
	ExitMin         int `json:"exit_min"`
	ExitSpread      int `json:"exit_spread"`
	BandwidthMin    int `json:"bandwidth_min_gbps"`
	BandwidthSpread int `json:"bandwidth_spread_gbps"`
}

// TrafficConfig configures the traffic window.
type TrafficConfig struct {
	WindowCapacity int `json:"window_capacity"`
}

// LedgerConfig configures evidence persistence and signing.
type LedgerConfig struct {
	Path       string `json:"path,omitempty"` // empty = in-memory only
	SignBlocks bool   `json:"sign_blocks"`

	PublicKey  []byte                `json:"public_key,omitempty"`
	PrivateKey []byte                `json:"private_key,omitempty"`
	SealedKey  *crypto.EncryptedData `json:"sealed_private_key,omitempty"`
}

// RedisConfig configures the optional evidence/traffic mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr        string  `json:"listen_addr"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	// APIKey guards mutating endpoints and RPCs. Empty leaves them open.
	APIKey string `json:"api_key,omitempty"`
}

// Config represents the torsentry configuration
type Config struct {
	Proxy     ProxyConfig     `json:"proxy"`
	Scan      ScanConfig      `json:"scan"`
	Threat    ThreatConfig    `json:"threat"`
	Estimator EstimatorConfig `json:"estimator"`
	Traffic   TrafficConfig   `json:"traffic"`
	Ledger    LedgerConfig    `json:"ledger"`
	Redis     RedisConfig     `json:"redis"`
	API       APIConfig       `json:"api"`
	Logging   logging.Config  `json:"logging"`

	// Paths (not serialized)
	ConfigDir string `json:"-"`
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	if dir := os.Getenv("TORSENTRY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".torsentry")
}

// Default returns a config usable without a config file: Tor Browser's port
// first, then the system Tor service.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Host:                  "127.0.0.1",
			CandidatePorts:        []int{9150, 9050},
			ProbeURL:              "https://check.torproject.org/",
			VerifyURL:             "https://check.torproject.org/",
			ProbeTimeoutSeconds:   5,
			RequestTimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			MetricsURL: "https://metrics.torproject.org/",
			DirectoryURLs: []string{
				"https://check.torproject.org/",
				"https://www.torproject.org/",
			},
			Schedule:          "every 5m",
			LiveInterval:      2,
			RetryAttempts:     2,
			RetryDelaySeconds: 30,
		},
		Threat: ThreatConfig{
			ActivationFloor: 0.1,
			HistorySize:     50,
		},
		Estimator: EstimatorConfig{
			BaseRelays:      7000,
			RelayVariance:   1500,
			ExitMin:         1200,
			ExitSpread:      800,
			BandwidthMin:    200,
			BandwidthSpread: 400,
		},
		Traffic: TrafficConfig{WindowCapacity: 1000},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "torsentry",
		},
		API: APIConfig{
			ListenAddr:        ":8090",
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Logging:   logging.DefaultConfig(),
		ConfigDir: DefaultConfigDir(),
	}
}

// Load loads configuration from the config directory. Missing fields keep
// their defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	data, err := os.ReadFile(filepath.Join(configDir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrNotInitialized
		}
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	cfg.ConfigDir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Exists checks if a config exists
func Exists(configDir string) bool {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	_, err := os.Stat(filepath.Join(configDir, configFile))
	return err == nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}

	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(c.ConfigDir, configFile), data, 0600)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if len(c.Proxy.CandidatePorts) == 0 {
		return invalid("proxy.candidate_ports is empty")
	}
	for _, p := range c.Proxy.CandidatePorts {
		if p <= 0 || p > 65535 {
			return invalid("proxy port %d out of range", p)
		}
	}
	if c.Proxy.ProbeTimeoutSeconds <= 0 || c.Proxy.RequestTimeoutSeconds <= 0 {
		return invalid("proxy timeouts must be positive")
	}
	if c.Traffic.WindowCapacity <= 0 {
		return invalid("traffic.window_capacity must be positive")
	}
	if c.Threat.ActivationFloor < 0 || c.Threat.ActivationFloor >= 1 {
		return invalid("threat.activation_floor must be in [0,1)")
	}
	if c.Scan.LiveInterval <= 0 {
		return invalid("scan.live_interval_seconds must be positive")
	}
	return nil
}

// ProbeTimeout returns the per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Proxy.ProbeTimeoutSeconds) * time.Second
}

// RequestTimeout returns the timeout for monitored requests.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Proxy.RequestTimeoutSeconds) * time.Second
}

// LiveInterval returns the live feed cadence.
func (c *Config) LiveInterval() time.Duration {
	return time.Duration(c.Scan.LiveInterval) * time.Second
}

// ResolveListenAddr applies TORSENTRY_ADDR over the configured address.
func (c *Config) ResolveListenAddr() string {
	addr := os.Getenv("TORSENTRY_ADDR")
	if addr == "" {
		addr = c.API.ListenAddr
	}
	if addr == "" {
		addr = ":8090"
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

// ResolveAPIKey applies TORSENTRY_API_KEY over the configured key.
func (c *Config) ResolveAPIKey() string {
	if key := os.Getenv("TORSENTRY_API_KEY"); key != "" {
		return key
	}
	return c.API.APIKey
}

// LedgerPath returns the absolute ledger file path, or "" for in-memory.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Ledger.Path) {
		return c.Ledger.Path
	}
	return filepath.Join(c.ConfigDir, c.Ledger.Path)
}
