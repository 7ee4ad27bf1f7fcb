package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/orchestrator"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

type fixedThreats threat.Summary

func (f fixedThreats) Summary() threat.Summary { return threat.Summary(f) }

type fixedProxy proxy.Result

func (f fixedProxy) Last() proxy.Result { return proxy.Result(f) }

func TestObserveSample(t *testing.T) {
	c := New(Sources{})
	ctx := context.Background()

	c.ObserveSample(ctx, traffic.Sample{StatusCode: 200, DataSize: 1000, DurationMs: 120})
	c.ObserveSample(ctx, traffic.Sample{StatusCode: 200, DataSize: 500, DurationMs: 80})
	c.ObserveSample(ctx, traffic.Sample{StatusCode: 404, DataSize: 20})
	c.ObserveSample(ctx, traffic.Sample{Error: "connection reset"})

	assert.Equal(t, 2.0, promtest.ToFloat64(c.requests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.requests.WithLabelValues("http_error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.requests.WithLabelValues("error")))
	assert.Equal(t, 1520.0, promtest.ToFloat64(c.bytes))
	assert.Equal(t, 1, promtest.CollectAndCount(c.latency))
}

func TestObserveCycle(t *testing.T) {
	c := New(Sources{})
	started := time.Unix(1_760_000_000, 0).UTC()

	c.ObserveCycle(&orchestrator.Snapshot{StartedAt: started}, nil, 2*time.Second)
	c.ObserveCycle(nil, &proxy.ConnectivityError{Reason: "nothing listening"}, time.Millisecond)
	c.ObserveCycle(nil, errors.New("append evidence: disk full"), time.Second)

	assert.Equal(t, 1.0, promtest.ToFloat64(c.cycles.WithLabelValues(CycleOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.cycles.WithLabelValues(CycleDisconnected)))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.cycles.WithLabelValues(CycleFailed)))
	assert.Equal(t, float64(started.Unix()), promtest.ToFloat64(c.lastCycle))
}

func TestScrapeReadsSources(t *testing.T) {
	l := ledger.New()
	_, err := l.Append(context.Background(), ledger.ManualPayload{Label: "note"})
	require.NoError(t, err)

	c := New(Sources{
		Threats: fixedThreats{Total: 3, BySeverity: threat.BySeverity{Critical: 1, High: 2}, AverageConfidence: 91},
		Chain:   l,
		Proxy:   fixedProxy{State: proxy.StateConnected, Connected: true},
	})

	expected := `
# HELP torsentry_evidence_blocks Blocks in the evidence chain including genesis.
# TYPE torsentry_evidence_blocks gauge
torsentry_evidence_blocks 2
# HELP torsentry_evidence_chain_valid 1 when the evidence chain verifies.
# TYPE torsentry_evidence_chain_valid gauge
torsentry_evidence_chain_valid 1
# HELP torsentry_threat_active Active threat events by severity.
# TYPE torsentry_threat_active gauge
torsentry_threat_active{severity="critical"} 1
torsentry_threat_active{severity="high"} 2
torsentry_threat_active{severity="low"} 0
torsentry_threat_active{severity="medium"} 0
# HELP torsentry_threat_average_confidence Average confidence of active threat events.
# TYPE torsentry_threat_average_confidence gauge
torsentry_threat_average_confidence 91
# HELP torsentry_proxy_state 1 for the current proxy state.
# TYPE torsentry_proxy_state gauge
torsentry_proxy_state{state="connected"} 1
torsentry_proxy_state{state="disconnected"} 0
torsentry_proxy_state{state="discovering"} 0
torsentry_proxy_state{state="unverified"} 0
`
	err = promtest.CollectAndCompare(c, strings.NewReader(expected),
		"torsentry_evidence_blocks",
		"torsentry_evidence_chain_valid",
		"torsentry_threat_active",
		"torsentry_threat_average_confidence",
		"torsentry_proxy_state",
	)
	assert.NoError(t, err)
}

func TestHandler(t *testing.T) {
	c := New(Sources{Chain: ledger.New()})
	c.ObserveSample(context.Background(), traffic.Sample{StatusCode: 200, DataSize: 10})

	srv := httptest.NewServer(Handler(NewRegistry(c)))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `torsentry_traffic_requests_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), "torsentry_evidence_blocks 1")
	assert.Contains(t, string(body), "go_goroutines")
}
