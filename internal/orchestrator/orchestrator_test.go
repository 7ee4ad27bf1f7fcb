package orchestrator

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/config"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/fingerprint"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/netscan"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/testutil"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

func testThreatConfig() config.ThreatConfig {
	return config.Default().Threat
}

func fromPipeline(p *testutil.Pipeline) Deps {
	return Deps{
		Proxy:    p.Connector,
		Scanner:  p.Scanner,
		Traffic:  p.Monitor,
		Engine:   p.Engine,
		Threats:  p.Threats,
		Evidence: p.Ledger,
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	snaps []*Snapshot
	errs  []error
}

func (r *recordingObserver) ObserveCycle(snap *Snapshot, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	r.errs = append(r.errs, err)
}

func TestRunCycle(t *testing.T) {
	p := testutil.NewPipeline(t).Build()
	obs := &recordingObserver{}
	d := fromPipeline(p)
	d.Observer = obs
	o := New(d)

	snap, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Proxy.Connected)
	assert.True(t, snap.Proxy.Verified)
	assert.Empty(t, snap.Warning)
	assert.Equal(t, netscan.SourceMetrics, snap.ScanData.DataSource)
	assert.Len(t, snap.Threats, len(threat.DefaultCatalog()))
	assert.Equal(t, len(snap.Threats), snap.ThreatSummary.Total)
	assert.Equal(t, 90, snap.ThreatSummary.AverageConfidence)

	assert.Equal(t, uint64(1), snap.Evidence.Index)
	assert.Equal(t, ledger.KindNetworkScan, snap.Evidence.Data.Type)
	assert.True(t, snap.Verification.Valid)
	assert.Equal(t, 2, p.Ledger.Len())

	var ev ScanEvidence
	require.NoError(t, snap.Evidence.Data.Decode(&ev))
	assert.Equal(t, snap.ScanData.DataSource, ev.ScanData.DataSource)
	assert.Len(t, ev.Threats, len(snap.Threats))
	assert.Equal(t, snap.Proxy.Port, ev.ProxyPort)

	// metrics page plus two directory URLs
	assert.Equal(t, 3, p.Monitor.Stats().Count)
	assert.Equal(t, 3, snap.Fingerprints.Entropy.Samples)

	assert.Same(t, snap, o.Last())
	assert.Equal(t, uint64(1), o.Runs())
	require.Len(t, obs.snaps, 1)
	assert.NoError(t, obs.errs[0])
}

func TestRunCycleDisconnected(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	p := testutil.NewPipeline(t).WithProberError(refused).Build()
	obs := &recordingObserver{}
	d := fromPipeline(p)
	d.Observer = obs
	o := New(d)

	snap, err := o.RunCycle(context.Background())
	assert.Nil(t, snap)

	var ce *proxy.ConnectivityError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Reason)
	assert.ErrorIs(t, err, apperrors.ErrProxyUnavailable)

	assert.Equal(t, 1, p.Ledger.Len(), "no evidence without a proxy")
	assert.Zero(t, p.Site.Hits(), "no scan without a proxy")
	assert.Empty(t, p.Threats.Active())
	assert.Nil(t, o.Last())

	require.Len(t, obs.errs, 1)
	assert.Error(t, obs.errs[0])
	assert.Nil(t, obs.snaps[0])
}

func TestRunCycleDegraded(t *testing.T) {
	p := testutil.NewPipeline(t).WithProberError(errors.New("circuit not built")).Build()
	o := New(fromPipeline(p))

	snap, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Proxy.Connected)
	assert.False(t, snap.Proxy.Verified)
	assert.NotEmpty(t, snap.Warning)
	assert.Equal(t, 2, p.Ledger.Len())

	var ev ScanEvidence
	require.NoError(t, snap.Evidence.Data.Decode(&ev))
	assert.Equal(t, snap.Warning, ev.ProxyWarning)
}

func TestRunCycleBelowFloor(t *testing.T) {
	p := testutil.NewPipeline(t).
		WithThreatSource(testutil.FixedThreatSource{Prob: 0.1, Conf: 90}).
		Build()
	o := New(fromPipeline(p))

	snap, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Threats)
	assert.Zero(t, snap.ThreatSummary.Total)
	assert.NotNil(t, snap.ThreatSummary.LastScan)
	assert.Equal(t, 2, p.Ledger.Len(), "a quiet cycle is still evidence")
}

func TestConcurrentCyclesStayOrdered(t *testing.T) {
	p := testutil.NewPipeline(t).Build()
	o := New(fromPipeline(p))

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.RunCycle(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, n+1, p.Ledger.Len())
	assert.True(t, p.Ledger.Verify().Valid)
	assert.Equal(t, uint64(n), o.Runs())
}

type connectedProxy struct{}

func (connectedProxy) Verify(context.Context) proxy.Result {
	return proxy.Result{State: proxy.StateConnected, Connected: true, Verified: true, Port: 9150}
}

type blockingScanner struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingScanner) Scan(context.Context, bool) (netscan.ScanData, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return netscan.ScanData{TorConnected: true, DataSource: netscan.SourceConnected}, nil
}

type staticSeries traffic.Series

func (s staticSeries) Series() traffic.Series { return traffic.Series(s) }

func TestRunCycleWaitsForSlot(t *testing.T) {
	scanner := &blockingScanner{started: make(chan struct{}), release: make(chan struct{})}
	l := ledger.New()
	o := New(Deps{
		Proxy:    connectedProxy{},
		Scanner:  scanner,
		Traffic:  staticSeries{},
		Engine:   fingerprint.NewEngine(),
		Threats:  threat.NewAggregator(testThreatConfig(), testutil.FixedThreatSource{Prob: 0.5, Conf: 90}),
		Evidence: l,
	})

	first := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		first <- err
	}()
	<-scanner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := o.RunCycle(ctx)
	assert.ErrorIs(t, err, apperrors.ErrCycleCanceled)
	assert.Equal(t, 1, l.Len())

	close(scanner.release)
	require.NoError(t, <-first)
	assert.Equal(t, 2, l.Len())
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, ledger.Payload) (ledger.Block, error) {
	return ledger.Block{}, apperrors.ErrLedgerLocked
}

func (failingLedger) Verify() ledger.Verification { return ledger.Verification{} }

func TestRunCycleAppendFailure(t *testing.T) {
	scanner := &blockingScanner{started: make(chan struct{}), release: make(chan struct{})}
	close(scanner.release)
	o := New(Deps{
		Proxy:    connectedProxy{},
		Scanner:  scanner,
		Traffic:  staticSeries{},
		Engine:   fingerprint.NewEngine(),
		Threats:  threat.NewAggregator(testThreatConfig(), testutil.FixedThreatSource{Prob: 0.5, Conf: 90}),
		Evidence: failingLedger{},
	})

	_, err := o.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrLedgerLocked)
	assert.Nil(t, o.Last())
	assert.Zero(t, o.Runs())
}

func TestLiveFeed(t *testing.T) {
	series := traffic.Series{
		Timestamps: testutil.AlternatingTimestamps(12, 10, 400),
		Sizes:      []float64{1024, 1024, 1024},
	}
	aggr := threat.NewAggregator(testThreatConfig(), testutil.FixedThreatSource{Prob: 0.5, Conf: 90})
	aggr.Record(aggr.Classify(threat.ScanContext{}))

	l := ledger.New()
	o := New(Deps{
		Proxy:    connectedProxy{},
		Scanner:  &blockingScanner{started: make(chan struct{}), release: make(chan struct{})},
		Traffic:  staticSeries(series),
		Engine:   fingerprint.NewEngine(),
		Threats:  aggr,
		Evidence: l,
	})

	live := o.LiveFeed()
	assert.True(t, live.Jitter.Anomaly)
	assert.Equal(t, len(threat.DefaultCatalog()), live.ThreatSummary.Total)
	assert.False(t, live.Burst.Detected)
	assert.False(t, live.Timestamp.IsZero())
	assert.Equal(t, 1, l.Len(), "live feed never touches the ledger")
}
