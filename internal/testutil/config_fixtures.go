package testutil

import (
	"testing"

	"github.com/torsentry/torsentry/internal/config"
)

// ConfigFixture represents a test configuration setup
type ConfigFixture struct {
	// Dir is the config directory path
	Dir string
	// Config is the loaded configuration
	Config *config.Config
	// Signer is the ledger key fixture (if signing is enabled)
	Signer *SignerFixture
}

// ConfigFixtureBuilder constructs config fixtures
type ConfigFixtureBuilder struct {
	t          *testing.T
	dir        string
	site       *TorSite
	ports      []int
	ledgerPath string
	signing    bool
	passphrase string
	redisAddr  string
	listenAddr string
	seed       uint64
}

// NewConfigFixture starts building a config fixture
func NewConfigFixture(t *testing.T) *ConfigFixtureBuilder {
	return &ConfigFixtureBuilder{
		t:   t,
		dir: t.TempDir(),
	}
}

// WithSite points probes, metrics, and directory URLs at site
func (b *ConfigFixtureBuilder) WithSite(site *TorSite) *ConfigFixtureBuilder {
	b.site = site
	return b
}

// WithPorts sets the candidate proxy ports
func (b *ConfigFixtureBuilder) WithPorts(ports ...int) *ConfigFixtureBuilder {
	b.ports = ports
	return b
}

// WithLedgerFile persists the ledger under the config directory
func (b *ConfigFixtureBuilder) WithLedgerFile(name string) *ConfigFixtureBuilder {
	b.ledgerPath = name
	return b
}

// WithSigning generates a signing key. A non-empty passphrase stores the
// private key sealed.
func (b *ConfigFixtureBuilder) WithSigning(passphrase string) *ConfigFixtureBuilder {
	b.signing = true
	b.passphrase = passphrase
	return b
}

// WithRedis enables the redis mirror at addr
func (b *ConfigFixtureBuilder) WithRedis(addr string) *ConfigFixtureBuilder {
	b.redisAddr = addr
	return b
}

// WithListenAddr sets the API listen address
func (b *ConfigFixtureBuilder) WithListenAddr(addr string) *ConfigFixtureBuilder {
	b.listenAddr = addr
	return b
}

// WithSeed seeds the placeholder threat and estimator sources
func (b *ConfigFixtureBuilder) WithSeed(seed uint64) *ConfigFixtureBuilder {
	b.seed = seed
	return b
}

// Build creates the config fixture, writing files to disk
func (b *ConfigFixtureBuilder) Build() (*ConfigFixture, error) {
	fixture := &ConfigFixture{Dir: b.dir}

	cfg := config.Default()
	cfg.ConfigDir = b.dir
	if b.site != nil {
		cfg.Proxy = b.site.ProxyConfig()
		cfg.Scan.MetricsURL = b.site.URL(PathMetrics)
		cfg.Scan.DirectoryURLs = []string{b.site.URL(PathCheck), b.site.URL(PathRelay)}
	}
	if len(b.ports) > 0 {
		cfg.Proxy.CandidatePorts = b.ports
	}
	cfg.Ledger.Path = b.ledgerPath
	if b.redisAddr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = b.redisAddr
	}
	if b.listenAddr != "" {
		cfg.API.ListenAddr = b.listenAddr
	}
	cfg.Threat.Seed = b.seed

	if b.signing {
		key, err := NewSignerFixture()
		if err != nil {
			return nil, err
		}
		fixture.Signer = key
		cfg.Ledger.SignBlocks = true
		cfg.Ledger.PublicKey = key.PublicKey
		if b.passphrase != "" {
			sealed, err := key.Sealed(b.passphrase)
			if err != nil {
				return nil, err
			}
			cfg.Ledger.SealedKey = sealed
		} else {
			cfg.Ledger.PrivateKey = key.PrivateKey
		}
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}

	loaded, err := config.Load(b.dir)
	if err != nil {
		return nil, err
	}
	fixture.Config = loaded

	return fixture, nil
}

// MustBuild creates the fixture or fails the test
func (b *ConfigFixtureBuilder) MustBuild() *ConfigFixture {
	f, err := b.Build()
	if err != nil {
		b.t.Fatalf("Failed to build config fixture: %v", err)
	}
	return f
}
