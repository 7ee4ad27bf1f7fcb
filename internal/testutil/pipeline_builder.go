package testutil

import (
	"testing"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/fingerprint"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/netscan"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

// FixedThreatSource gives every category the same likelihood and confidence.
type FixedThreatSource struct {
	Prob float64
	Conf int
}

// Likelihood implements threat.Source.
func (f FixedThreatSource) Likelihood(threat.Category, threat.ScanContext) float64 { return f.Prob }

// Confidence implements threat.Source.
func (f FixedThreatSource) Confidence(threat.Category, threat.ScanContext) int { return f.Conf }

// Pipeline holds every analysis component wired against a TorSite.
type Pipeline struct {
	Site      *TorSite
	Config    *config.Config
	Connector *proxy.Connector
	Monitor   *traffic.Monitor
	Scanner   *netscan.Scanner
	Engine    *fingerprint.Engine
	Threats   *threat.Aggregator
	Ledger    *ledger.Ledger
}

// PipelineBuilder constructs pipelines
type PipelineBuilder struct {
	t          *testing.T
	proberErr  error
	source     threat.Source
	ledgerOpts []ledger.Option
	seed       uint64
}

// NewPipeline starts building a pipeline
func NewPipeline(t *testing.T) *PipelineBuilder {
	return &PipelineBuilder{
		t:      t,
		source: FixedThreatSource{Prob: 0.5, Conf: 90},
		seed:   1,
	}
}

// WithProberError makes every proxy probe return err
func (b *PipelineBuilder) WithProberError(err error) *PipelineBuilder {
	b.proberErr = err
	return b
}

// WithThreatSource replaces the fixed threat source
func (b *PipelineBuilder) WithThreatSource(src threat.Source) *PipelineBuilder {
	b.source = src
	return b
}

// WithLedgerOptions passes options to the in-memory ledger
func (b *PipelineBuilder) WithLedgerOptions(opts ...ledger.Option) *PipelineBuilder {
	b.ledgerOpts = append(b.ledgerOpts, opts...)
	return b
}

// WithSeed seeds the network estimator
func (b *PipelineBuilder) WithSeed(seed uint64) *PipelineBuilder {
	b.seed = seed
	return b
}

// Build wires the pipeline. The monitor takes its clients from the
// connector, so requests fail until a Verify has selected an endpoint.
func (b *PipelineBuilder) Build() *Pipeline {
	b.t.Helper()

	site := NewTorSite(b.t)
	cfg := config.Default()
	cfg.ConfigDir = b.t.TempDir()
	cfg.Proxy = site.ProxyConfig()
	cfg.Scan.MetricsURL = site.URL(PathMetrics)
	cfg.Scan.DirectoryURLs = []string{site.URL(PathCheck), site.URL(PathRelay)}

	connector := site.Connector(b.proberErr)
	monitor := traffic.NewMonitor(connector, traffic.Options{
		Capacity: cfg.Traffic.WindowCapacity,
		Timeout:  cfg.RequestTimeout(),
	})

	return &Pipeline{
		Site:      site,
		Config:    cfg,
		Connector: connector,
		Monitor:   monitor,
		Scanner:   netscan.NewScanner(cfg.Scan, monitor, netscan.NewRandomEstimator(cfg.Estimator, b.seed)),
		Engine:    fingerprint.NewEngine(),
		Threats:   threat.NewAggregator(cfg.Threat, b.source),
		Ledger:    ledger.New(b.ledgerOpts...),
	}
}
