package netscan

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/traffic"
)

// fakeFetcher answers per URL with a status, or fails when status is 0.
type fakeFetcher struct {
	mu     sync.Mutex
	status map[string]int
	calls  []string
}

func (f *fakeFetcher) Record(_ context.Context, u string, _ ...traffic.RequestOption) (traffic.Sample, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	code := f.status[u]
	if code == 0 {
		return traffic.Sample{URL: u, Error: "unreachable"}, nil, errors.New("unreachable")
	}
	return traffic.Sample{URL: u, StatusCode: code, DataSize: 10}, []byte("0123456789"), nil
}

type fixedEstimator Estimate

func (f fixedEstimator) Estimate() Estimate { return Estimate(f) }

func testScanConfig() config.ScanConfig {
	cfg := config.Default().Scan
	cfg.MetricsURL = "https://metrics.example/"
	cfg.DirectoryURLs = []string{"https://dir1.example/", "https://dir2.example/"}
	return cfg
}

func TestScan(t *testing.T) {
	est := fixedEstimator{ActiveNodes: 7000, ExitNodes: 1500, Relays: 6500, BandwidthGbps: 300}

	t.Run("metrics reachable", func(t *testing.T) {
		f := &fakeFetcher{status: map[string]int{
			"https://metrics.example/": 200,
			"https://dir1.example/":    200,
		}}
		data, err := NewScanner(testScanConfig(), f, est).Scan(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, SourceMetrics, data.DataSource)
		assert.True(t, data.TorVerified)
		assert.Equal(t, 1, data.DataSources)
		assert.NotNil(t, data.LastSuccessfulFetch)
		assert.Equal(t, 7000, data.ActiveNodes)
	})

	t.Run("falls back to directories", func(t *testing.T) {
		f := &fakeFetcher{status: map[string]int{
			"https://dir1.example/": 503,
			"https://dir2.example/": 200,
		}}
		data, err := NewScanner(testScanConfig(), f, est).Scan(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, data.DataSource)
		assert.Equal(t, 2, data.Endpoints)
		assert.Equal(t, 1, data.DataSources)
	})

	t.Run("nothing reachable", func(t *testing.T) {
		f := &fakeFetcher{status: map[string]int{}}
		data, err := NewScanner(testScanConfig(), f, est).Scan(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, SourceConnected, data.DataSource)
		assert.True(t, data.TorConnected)
		assert.True(t, data.TorVerified)
		assert.Zero(t, data.DataSources)
		assert.Nil(t, data.LastSuccessfulFetch)
		assert.Len(t, f.calls, 3)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewScanner(testScanConfig(), &fakeFetcher{}, est).Scan(ctx, true)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDirectoryStats(t *testing.T) {
	f := &fakeFetcher{status: map[string]int{
		"https://dir1.example/": http.StatusOK,
		"https://dir2.example/": http.StatusNotFound,
	}}
	stats := NewScanner(testScanConfig(), f, fixedEstimator{}).DirectoryStats(context.Background())

	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 2, stats.Attempts)
	assert.True(t, stats.Working)
	require.Len(t, stats.Connections, 2)
	assert.Equal(t, int64(10), stats.Connections[0].DataLength)
}

func TestRandomEstimatorRanges(t *testing.T) {
	cfg := config.Default().Estimator
	est := NewRandomEstimator(cfg, 99)

	for i := 0; i < 1000; i++ {
		e := est.Estimate()
		assert.GreaterOrEqual(t, e.ActiveNodes, 5500)
		assert.Less(t, e.ActiveNodes, 8500)
		assert.GreaterOrEqual(t, e.ExitNodes, 1200)
		assert.Less(t, e.ExitNodes, 2000)
		assert.GreaterOrEqual(t, e.Relays, 6250)
		assert.Less(t, e.Relays, 7750)
		assert.GreaterOrEqual(t, e.BandwidthGbps, 200)
		assert.Less(t, e.BandwidthGbps, 600)
	}

	t.Run("zero spreads are constant", func(t *testing.T) {
		e := NewRandomEstimator(config.EstimatorConfig{BaseRelays: 10, ExitMin: 3, BandwidthMin: 1}, 1).Estimate()
		assert.Equal(t, Estimate{ActiveNodes: 10, ExitNodes: 3, Relays: 10, BandwidthGbps: 1}, e)
	})
}
