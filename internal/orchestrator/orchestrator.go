// Package orchestrator runs analysis cycles: verify the proxy, scan, derive
// fingerprints, classify threats, and commit the result as evidence.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/fingerprint"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/netscan"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

// Connectivity verifies the proxy.
type Connectivity interface {
	Verify(ctx context.Context) proxy.Result
}

// NetworkScanner produces scan data through a connected proxy.
type NetworkScanner interface {
	Scan(ctx context.Context, proxyVerified bool) (netscan.ScanData, error)
}

// TrafficSource exposes the monitored traffic window.
type TrafficSource interface {
	Series() traffic.Series
}

// EvidenceLog is where finished cycles are committed.
type EvidenceLog interface {
	Append(ctx context.Context, p ledger.Payload) (ledger.Block, error)
	Verify() ledger.Verification
}

// CycleObserver is told about every finished or failed cycle.
type CycleObserver interface {
	ObserveCycle(snap *Snapshot, err error, took time.Duration)
}

// Fingerprints holds one cycle's fingerprint results.
type Fingerprints struct {
	Jitter      fingerprint.JitterResult     `json:"jitter"`
	Burst       fingerprint.BurstResult      `json:"burst"`
	Entropy     fingerprint.EntropyResult    `json:"entropy"`
	SilenceGaps fingerprint.SilenceGapResult `json:"silenceGaps"`
}

// ScanEvidence is the payload committed for each cycle.
type ScanEvidence struct {
	ScanData     netscan.ScanData `json:"scanData"`
	Threats      []threat.Event   `json:"threats"`
	Fingerprints Fingerprints     `json:"fingerprints"`
	ProxyPort    int              `json:"proxyPort"`
	ProxyWarning string           `json:"proxyWarning,omitempty"`
}

// Kind implements ledger.Payload.
func (ScanEvidence) Kind() string { return ledger.KindNetworkScan }

// Snapshot is everything one cycle produced.
type Snapshot struct {
	Proxy         proxy.Result        `json:"proxy"`
	ScanData      netscan.ScanData    `json:"scanData"`
	Threats       []threat.Event      `json:"threats"`
	ThreatSummary threat.Summary      `json:"threatSummary"`
	Fingerprints  Fingerprints        `json:"fingerprints"`
	Evidence      ledger.Block        `json:"evidence"`
	Verification  ledger.Verification `json:"verification"`
	Warning       string              `json:"warning,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	DurationMs    int64               `json:"durationMs"`
}

// LiveSnapshot is the fast feed that never touches the ledger.
type LiveSnapshot struct {
	Jitter        fingerprint.JitterResult `json:"jitter"`
	Burst         fingerprint.BurstResult  `json:"burst"`
	ThreatSummary threat.Summary           `json:"threatSummary"`
	Traffic       traffic.Series           `json:"-"`
	Timestamp     time.Time                `json:"timestamp"`
}

// Deps are the components a cycle composes.
type Deps struct {
	Proxy    Connectivity
	Scanner  NetworkScanner
	Traffic  TrafficSource
	Engine   *fingerprint.Engine
	Threats  *threat.Aggregator
	Evidence EvidenceLog
	Observer CycleObserver
}

// Orchestrator serializes cycles: at most one runs at a time.
type Orchestrator struct {
	deps Deps
	slot chan struct{}
	log  *zap.Logger

	mu   sync.RWMutex
	last *Snapshot
	runs uint64
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		deps: d,
		slot: make(chan struct{}, 1),
		log:  logging.Named("orchestrator"),
	}
}

// RunCycle runs one full cycle. It waits for any cycle in flight; giving up
// through ctx while waiting returns ErrCycleCanceled. A disconnected proxy
// ends the cycle with a *proxy.ConnectivityError and appends no evidence.
func (o *Orchestrator) RunCycle(ctx context.Context) (*Snapshot, error) {
	select {
	case o.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCycleCanceled, ctx.Err())
	}
	defer func() { <-o.slot }()

	start := time.Now()
	snap, err := o.runCycle(ctx, start)
	took := time.Since(start)

	if o.deps.Observer != nil {
		o.deps.Observer.ObserveCycle(snap, err, took)
	}
	if err != nil {
		o.log.Warn("scan cycle failed", zap.Error(err), zap.Duration("took", took))
		return nil, err
	}

	snap.DurationMs = took.Milliseconds()
	o.mu.Lock()
	o.last = snap
	o.runs++
	o.mu.Unlock()

	o.log.Info("scan cycle complete",
		zap.Uint64("block", snap.Evidence.Index),
		zap.Int("threats", len(snap.Threats)),
		zap.String("source", snap.ScanData.DataSource),
		zap.Duration("took", took))
	return snap, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, start time.Time) (*Snapshot, error) {
	res := o.deps.Proxy.Verify(ctx)
	if !res.Connected {
		return nil, &proxy.ConnectivityError{Reason: res.Reason}
	}

	scan, err := o.deps.Scanner.Scan(ctx, res.Verified)
	if err != nil {
		return nil, fmt.Errorf("network scan: %w", err)
	}

	fp := o.fingerprint()

	events := o.deps.Threats.Classify(threat.ScanContext{
		ProxyVerified: res.Verified,
		DataSource:    scan.DataSource,
		JitterAnomaly: fp.Jitter.Anomaly,
		TorPattern:    fp.Burst.IsTorPattern,
		GapClass:      fp.SilenceGaps.Classification,
	})
	o.deps.Threats.Record(events)

	// Once analysis is done the cycle is committed even if the caller left.
	block, err := o.deps.Evidence.Append(context.WithoutCancel(ctx), ScanEvidence{
		ScanData:     scan,
		Threats:      events,
		Fingerprints: fp,
		ProxyPort:    res.Port,
		ProxyWarning: res.Warning,
	})
	if err != nil {
		return nil, fmt.Errorf("append evidence: %w", err)
	}

	return &Snapshot{
		Proxy:         res,
		ScanData:      scan,
		Threats:       events,
		ThreatSummary: o.deps.Threats.Summary(),
		Fingerprints:  fp,
		Evidence:      block,
		Verification:  o.deps.Evidence.Verify(),
		Warning:       res.Warning,
		StartedAt:     start.UTC(),
	}, nil
}

// fingerprint runs all four analyses over the monitored window. Sizes are
// fed in KiB.
func (o *Orchestrator) fingerprint() Fingerprints {
	series := o.deps.Traffic.Series()
	e := o.deps.Engine
	return Fingerprints{
		Jitter:      e.AnalyzeJitter(series.Timestamps),
		Burst:       e.DetectMicroBursts(kibPackets(series.Sizes)),
		Entropy:     e.TrackEntropyVariance(series.Payloads),
		SilenceGaps: e.ClassifySilenceGaps(series.Gaps),
	}
}

func kibPackets(sizes []float64) []fingerprint.Packet {
	scaled := make([]float64, len(sizes))
	for i, s := range sizes {
		scaled[i] = s / 1024
	}
	return fingerprint.PacketsFromSizes(scaled)
}

// LiveFeed computes jitter, bursts, and the threat summary without running a
// cycle. It does not wait for a cycle in flight.
func (o *Orchestrator) LiveFeed() LiveSnapshot {
	series := o.deps.Traffic.Series()
	return LiveSnapshot{
		Jitter:        o.deps.Engine.AnalyzeJitter(series.Timestamps),
		Burst:         o.deps.Engine.DetectMicroBursts(kibPackets(series.Sizes)),
		ThreatSummary: o.deps.Threats.Summary(),
		Traffic:       series,
		Timestamp:     time.Now().UTC(),
	}
}

// Last returns the most recent successful snapshot, or nil.
func (o *Orchestrator) Last() *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Runs returns the number of successful cycles.
func (o *Orchestrator) Runs() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs
}
