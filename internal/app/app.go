// Package app wires the torsentry components from a loaded configuration.
// The CLI, the HTTP API, and the RPC handlers all work through an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/crypto"
	"github.com/torsentry/torsentry/internal/fingerprint"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/metrics"
	"github.com/torsentry/torsentry/internal/netscan"
	"github.com/torsentry/torsentry/internal/orchestrator"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/scheduler"
	"github.com/torsentry/torsentry/internal/store/redismirror"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

// PassphraseEnv holds the passphrase for a sealed ledger signing key.
const PassphraseEnv = "TORSENTRY_KEY_PASSPHRASE"

// ErrNoPassphrase is returned when the signing key is sealed and no
// passphrase is available.
var ErrNoPassphrase = errors.New("signing key is sealed; set " + PassphraseEnv)

// App holds every wired component.
type App struct {
	Config       *config.Config
	Connector    *proxy.Connector
	Monitor      *traffic.Monitor
	Scanner      *netscan.Scanner
	Engine       *fingerprint.Engine
	Threats      *threat.Aggregator
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Collector
	Registry     *prometheus.Registry

	// Mirror is nil unless Redis is enabled.
	Mirror *redismirror.Mirror
	// Signer is nil unless block signing is enabled.
	Signer *crypto.HashSigner

	log *zap.Logger
}

type options struct {
	prober        proxy.Prober
	clientFactory func(string, time.Duration) (*http.Client, error)
	threatSource  threat.Source
	estimator     netscan.NetworkEstimator
	passphrase    string
	hasPassphrase bool
	verifyOnly    bool
}

// Option customizes New.
type Option func(*options)

// WithProber replaces the SOCKS prober.
func WithProber(p proxy.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithClientFactory replaces how proxied HTTP clients are built.
func WithClientFactory(f func(proxyAddr string, timeout time.Duration) (*http.Client, error)) Option {
	return func(o *options) { o.clientFactory = f }
}

// WithThreatSource replaces the seeded random likelihood source.
func WithThreatSource(src threat.Source) Option {
	return func(o *options) { o.threatSource = src }
}

// WithEstimator replaces the seeded random network estimator.
func WithEstimator(est netscan.NetworkEstimator) Option {
	return func(o *options) { o.estimator = est }
}

// WithPassphrase unseals the signing key with p instead of reading the
// environment.
func WithPassphrase(p string) Option {
	return func(o *options) {
		o.passphrase = p
		o.hasPassphrase = true
	}
}

// VerifyOnly loads the public key only; new blocks are left unsigned but
// existing signatures are still checked.
func VerifyOnly() Option {
	return func(o *options) { o.verifyOnly = true }
}

// New builds an App. The caller must Close it to release the ledger lock and
// the Redis connection.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if !o.hasPassphrase {
		o.passphrase = os.Getenv(PassphraseEnv)
	}

	a := &App{Config: cfg, log: logging.Named("app")}

	signer, err := loadSigner(cfg.Ledger, o.passphrase, o.verifyOnly)
	if err != nil {
		return nil, err
	}
	a.Signer = signer

	var proxyOpts []proxy.Option
	if o.prober != nil {
		proxyOpts = append(proxyOpts, proxy.WithProber(o.prober))
	}
	if o.clientFactory != nil {
		proxyOpts = append(proxyOpts, proxy.WithClientFactory(o.clientFactory))
	}
	a.Connector = proxy.NewConnector(cfg.Proxy, proxyOpts...)

	a.Monitor = traffic.NewMonitor(a.Connector, traffic.Options{
		Capacity: cfg.Traffic.WindowCapacity,
		Timeout:  cfg.RequestTimeout(),
	})

	if cfg.Redis.Enabled {
		mirror, err := redismirror.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Mirror = mirror
		a.Monitor.AddSink(mirror)
	}

	ledgerOpts := []ledger.Option{}
	if signer != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSigner(signer))
	}
	if a.Mirror != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(a.Mirror))
	}
	if path := cfg.LedgerPath(); path != "" {
		l, err := ledger.Open(path, ledgerOpts...)
		if err != nil {
			a.closeMirror()
			return nil, err
		}
		a.Ledger = l
	} else {
		a.Ledger = ledger.New(ledgerOpts...)
	}

	src := o.threatSource
	if src == nil {
		src = threat.NewRandomSource(cfg.Threat.Seed)
	}
	a.Threats = threat.NewAggregator(cfg.Threat, src)

	est := o.estimator
	if est == nil {
		est = netscan.NewRandomEstimator(cfg.Estimator, cfg.Threat.Seed)
	}
	a.Scanner = netscan.NewScanner(cfg.Scan, a.Monitor, est)
	a.Engine = fingerprint.NewEngine()

	a.Metrics = metrics.New(metrics.Sources{
		Threats: a.Threats,
		Chain:   a.Ledger,
		Proxy:   a.Connector,
	})
	a.Monitor.AddSink(a.Metrics)
	a.Registry = metrics.NewRegistry(a.Metrics)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Proxy:    a.Connector,
		Scanner:  a.Scanner,
		Traffic:  a.Monitor,
		Engine:   a.Engine,
		Threats:  a.Threats,
		Evidence: a.Ledger,
		Observer: a.Metrics,
	})

	a.log.Debug("components wired",
		zap.Bool("persistent_ledger", cfg.LedgerPath() != ""),
		zap.Bool("signing", signer != nil && signer.CanSign()),
		zap.Bool("redis", a.Mirror != nil))
	return a, nil
}

// loadSigner returns nil when signing is off. A sealed key needs the
// passphrase unless verifyOnly is set.
func loadSigner(cfg config.LedgerConfig, passphrase string, verifyOnly bool) (*crypto.HashSigner, error) {
	if !cfg.SignBlocks {
		return nil, nil
	}
	if len(cfg.PublicKey) == 0 {
		return nil, fmt.Errorf("ledger signing enabled without a public key")
	}
	if verifyOnly {
		return crypto.NewHashSigner(cfg.PublicKey, nil)
	}

	private := cfg.PrivateKey
	if cfg.SealedKey != nil {
		if passphrase == "" {
			return nil, ErrNoPassphrase
		}
		opened, err := crypto.Open(cfg.SealedKey, passphrase)
		if err != nil {
			return nil, fmt.Errorf("unseal signing key: %w", err)
		}
		private = opened
	}
	return crypto.NewHashSigner(cfg.PublicKey, private)
}

// NewScheduler returns a scheduler that runs a full cycle on the configured
// schedule with the configured retries.
func (a *App) NewScheduler(callbacks *scheduler.Callbacks) (*scheduler.Scheduler, error) {
	sched, err := scheduler.ParseSchedule(a.Config.Scan.Schedule)
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	opts := scheduler.FromConfig(a.Config.Scan)
	opts.Callbacks = callbacks
	return scheduler.NewScheduler(sched, a.RunCycleJob, opts), nil
}

// RunCycleJob runs one cycle and discards the snapshot.
func (a *App) RunCycleJob(ctx context.Context) error {
	_, err := a.Orchestrator.RunCycle(ctx)
	return err
}

// Close releases the ledger file lock and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.Connector != nil {
		a.Connector.Close()
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeMirror(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeMirror() error {
	if a.Mirror == nil {
		return nil
	}
	return a.Mirror.Close()
}
