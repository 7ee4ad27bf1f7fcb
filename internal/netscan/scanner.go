// Package netscan checks that the anonymizing network is reachable through
// the proxy and reports network size estimates.
package netscan

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/traffic"
)

// Data sources, strongest first.
const (
	SourceMetrics   = "tor_metrics"
	SourceNetwork   = "tor_network"
	SourceConnected = "tor_connected"
)

// Estimate is a network size estimate. The random estimator's numbers are
// placeholders, not measurements.
type Estimate struct {
	ActiveNodes   int `json:"activeNodes"`
	ExitNodes     int `json:"exitNodes"`
	Relays        int `json:"relays"`
	BandwidthGbps int `json:"bandwidth"`
}

// NetworkEstimator supplies network size estimates.
type NetworkEstimator interface {
	Estimate() Estimate
}

// RandomEstimator draws bounded estimates from configured ranges.
type RandomEstimator struct {
	cfg config.EstimatorConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomEstimator seeds a PCG generator. A zero seed uses the clock.
func NewRandomEstimator(cfg config.EstimatorConfig, seed uint64) *RandomEstimator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomEstimator{cfg: cfg, rng: rand.New(rand.NewPCG(seed, ^seed))}
}

func (r *RandomEstimator) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return r.rng.IntN(n)
}

// Estimate implements NetworkEstimator.
func (r *RandomEstimator) Estimate() Estimate {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cfg
	return Estimate{
		ActiveNodes:   r.intn(c.RelayVariance*2) + c.BaseRelays - c.RelayVariance,
		ExitNodes:     r.intn(c.ExitSpread) + c.ExitMin,
		Relays:        r.intn(c.RelayVariance) + c.BaseRelays - c.RelayVariance/2,
		BandwidthGbps: r.intn(c.BandwidthSpread) + c.BandwidthMin,
	}
}

// Fetcher performs a monitored request.
type Fetcher interface {
	Record(ctx context.Context, rawURL string, opts ...traffic.RequestOption) (traffic.Sample, []byte, error)
}

// ScanData is the result of one network scan.
type ScanData struct {
	Estimate
	Timestamp           time.Time  `json:"timestamp"`
	TorConnected        bool       `json:"torConnected"`
	TorVerified         bool       `json:"torVerified"`
	DataSource          string     `json:"dataSource"`
	Endpoints           int        `json:"endpoints,omitempty"`
	DataSources         int        `json:"dataSources,omitempty"`
	LastSuccessfulFetch *time.Time `json:"lastSuccessfulFetch,omitempty"`
}

// DirectoryFetch is one directory request that produced a response.
type DirectoryFetch struct {
	URL        string    `json:"url"`
	Status     int       `json:"status"`
	DataLength int64     `json:"dataLength"`
	Timestamp  time.Time `json:"timestamp"`
}

// DirectoryStats summarizes a pass over the directory URLs.
type DirectoryStats struct {
	Successful  int              `json:"successfulConnections"`
	Attempts    int              `json:"totalAttempts"`
	Connections []DirectoryFetch `json:"connections"`
	Working     bool             `json:"torWorking"`
}

// Scanner runs scans through a traffic fetcher so every request is monitored.
type Scanner struct {
	fetcher       Fetcher
	estimator     NetworkEstimator
	metricsURL    string
	directoryURLs []string
	log           *zap.Logger
	now           func() time.Time
}

// NewScanner creates a scanner.
func NewScanner(cfg config.ScanConfig, f Fetcher, est NetworkEstimator) *Scanner {
	return &Scanner{
		fetcher:       f,
		estimator:     est,
		metricsURL:    cfg.MetricsURL,
		directoryURLs: append([]string(nil), cfg.DirectoryURLs...),
		log:           logging.Named("netscan"),
		now:           time.Now,
	}
}

// Scan fetches the metrics page, falling back to the directory URLs. The
// caller must already have a connected proxy; proxyVerified is its verify
// outcome. Only cancellation of ctx is returned as an error.
func (s *Scanner) Scan(ctx context.Context, proxyVerified bool) (ScanData, error) {
	data := ScanData{
		TorConnected: true,
		TorVerified:  proxyVerified,
		DataSource:   SourceConnected,
	}

	metricsOK := false
	if s.metricsURL != "" {
		if _, _, err := s.fetcher.Record(ctx, s.metricsURL); err == nil {
			metricsOK = true
			data.DataSource = SourceMetrics
			data.TorVerified = true
		} else {
			s.log.Debug("metrics fetch failed", zap.Error(err))
		}
	}
	if err := ctx.Err(); err != nil {
		return ScanData{}, err
	}

	stats := s.DirectoryStats(ctx)
	if err := ctx.Err(); err != nil {
		return ScanData{}, err
	}
	if !metricsOK && stats.Attempts > 0 {
		data.DataSource = SourceNetwork
		data.Endpoints = stats.Attempts
		data.TorVerified = true
	}
	if stats.Successful > 0 {
		ts := s.now().UTC()
		data.DataSources = stats.Successful
		data.LastSuccessfulFetch = &ts
	}

	data.Estimate = s.estimator.Estimate()
	data.Timestamp = s.now().UTC()
	return data, nil
}

// DirectoryStats fetches each directory URL once. Attempts counts responses
// of any status; Successful counts 200s.
func (s *Scanner) DirectoryStats(ctx context.Context) DirectoryStats {
	stats := DirectoryStats{Connections: []DirectoryFetch{}}
	for _, u := range s.directoryURLs {
		if ctx.Err() != nil {
			break
		}
		sample, _, err := s.fetcher.Record(ctx, u)
		if err != nil {
			continue
		}
		stats.Attempts++
		stats.Connections = append(stats.Connections, DirectoryFetch{
			URL:        u,
			Status:     sample.StatusCode,
			DataLength: sample.DataSize,
			Timestamp:  sample.Timestamp,
		})
		if sample.StatusCode == http.StatusOK {
			stats.Successful++
		}
	}
	stats.Working = stats.Successful > 0
	return stats
}
