package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/testutil"
	"github.com/torsentry/torsentry/internal/threat"
)

type testEnv struct {
	site   *testutil.TorSite
	app    *app.App
	server *Server
	http   *httptest.Server
}

type envOption func(*config.Config)

func newTestEnv(t *testing.T, proberErr error, opts ...envOption) *testEnv {
	t.Helper()
	site := testutil.NewTorSite(t)
	fx := testutil.NewConfigFixture(t).WithSite(site).MustBuild()
	for _, opt := range opts {
		opt(fx.Config)
	}

	a, err := app.New(context.Background(), fx.Config,
		app.WithProber(testutil.StaticProber(proberErr)),
		app.WithClientFactory(site.ClientFactory()),
		app.WithThreatSource(testutil.FixedThreatSource{Prob: 0.5, Conf: 90}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := NewServer(a, "127.0.0.1:0", &ServerOptions{LiveInterval: 20 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testEnv{site: site, app: a, server: srv, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type proxyView struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestProxyEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, "GET", "/api/proxy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[proxyView](t, body)
	assert.Equal(t, "connected", p.State)
	assert.True(t, p.Verified)

	down := newTestEnv(t, testutil.Refused())
	resp, body = down.do(t, "GET", "/api/proxy", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	p = decode[proxyView](t, body)
	assert.False(t, p.Connected)
	assert.NotEmpty(t, p.Reason)
}

func TestScan(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, "GET", "/api/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	snap := decode[struct {
		Proxy         proxyView      `json:"proxy"`
		Threats       []threat.Event `json:"threats"`
		ThreatSummary threat.Summary `json:"threatSummary"`
		Evidence      ledger.Block   `json:"evidence"`
		Verification  ledger.Verification
	}](t, body)
	assert.True(t, snap.Proxy.Connected)
	assert.Len(t, snap.Threats, len(threat.DefaultCatalog()))
	assert.Equal(t, uint64(1), snap.Evidence.Index)
	assert.Equal(t, ledger.KindNetworkScan, snap.Evidence.Data.Type)
	assert.Equal(t, 2, env.app.Ledger.Len())

	resp, body = env.do(t, "GET", "/api/threats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threats := decode[ThreatsDTO](t, body)
	assert.Equal(t, len(threat.DefaultCatalog()), threats.Summary.Total)
	assert.Len(t, threats.Active, threats.Summary.Total)

	resp, body = env.do(t, "GET", "/api/fingerprints", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "entropyTracking")
}

func TestScanDisconnected(t *testing.T) {
	env := newTestEnv(t, testutil.Refused())
	resp, body := env.do(t, "GET", "/api/scan", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	e := decode[ErrorResponse](t, body)
	assert.Equal(t, "proxy_unavailable", e.Code)
	assert.NotEmpty(t, e.Error)
	assert.Equal(t, 1, env.app.Ledger.Len())
	assert.Zero(t, env.site.Hits())
}

func TestBrowse(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "POST", "/api/browse", BrowseBody{URL: env.site.URL(testutil.PathRelay)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	got := decode[struct {
		Sample struct {
			URL        string `json:"url"`
			StatusCode int    `json:"status"`
		} `json:"sample"`
		Stats struct {
			Count int `json:"totalRequests"`
		} `json:"stats"`
	}](t, body)
	assert.Equal(t, env.site.URL(testutil.PathRelay), got.Sample.URL)
	assert.Equal(t, http.StatusOK, got.Sample.StatusCode)
	assert.Equal(t, 1, got.Stats.Count)

	resp, body = env.do(t, "GET", "/api/browse", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"topDomains"`)

	resp, _ = env.do(t, "POST", "/api/traffic/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, env.app.Monitor.Stats().Count)
}

func TestBrowseErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing url", BrowseBody{}, http.StatusBadRequest, "invalid_request"},
		{"bad method", BrowseBody{URL: "https://example.org", Method: "DELETE"}, http.StatusBadRequest, "invalid_request"},
		{"unsupported scheme", BrowseBody{URL: "ftp://example.org/file"}, http.StatusBadRequest, "invalid_url"},
		{"upstream dropped", BrowseBody{URL: env.site.URL(testutil.PathBroken)}, http.StatusBadGateway, "request_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, "POST", "/api/browse", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.code, decode[ErrorResponse](t, body).Code)
		})
	}

	down := newTestEnv(t, testutil.Refused())
	resp, body := down.do(t, "POST", "/api/browse", BrowseBody{URL: down.site.URL(testutil.PathRelay)})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, string(body))
	assert.Zero(t, down.app.Monitor.Stats().Count)
}

func TestEvidence(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, "POST", "/api/evidence", map[string]interface{}{
		"type": "operator_note",
		"data": map[string]string{"note": "exit relay flapping"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	block := decode[ledger.Block](t, body)
	assert.Equal(t, uint64(1), block.Index)
	assert.Equal(t, ledger.KindManual, block.Data.Type)

	var manual ledger.ManualPayload
	require.NoError(t, block.Data.Decode(&manual))
	assert.Equal(t, "operator_note", manual.Label)

	resp, body = env.do(t, "GET", "/api/evidence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[ledger.Report](t, body)
	assert.Equal(t, 2, report.ChainLength)
	assert.Equal(t, ledger.StatusIntact, report.IntegrityStatus)
	assert.True(t, report.CourtReady)

	resp, body = env.do(t, "GET", "/api/evidence/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[ledger.Verification](t, body).Valid)

	resp, body = env.do(t, "GET", "/api/evidence/query?type=manual", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[EvidenceQueryDTO](t, body).Count)

	resp, body = env.do(t, "GET", "/api/evidence/query?type=network_scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[EvidenceQueryDTO](t, body).Count)

	resp, body = env.do(t, "GET", "/api/evidence/query", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[EvidenceQueryDTO](t, body).Count)

	future := time.Now().Add(time.Hour).UnixMilli()
	resp, body = env.do(t, "GET", "/api/evidence/query?start="+strconv.FormatInt(future, 10), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, _ = env.do(t, "GET", "/api/evidence/query?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "POST", "/api/evidence", map[string]string{"data": "{}"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKey(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.API.APIKey = "hunter2" })

	resp, _ := env.do(t, "POST", "/api/evidence", map[string]string{"type": "note"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, env.app.Ledger.Len())

	resp, _ = env.do(t, "POST", "/api/evidence", map[string]string{"type": "note"}, "X-API-Key", "hunter2")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/api/evidence", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads stay open")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) {
		c.API.RequestsPerSecond = 0.001
		c.API.Burst = 1
	})

	resp, _ := env.do(t, "GET", "/api/threats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, "GET", "/api/threats", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is exempt")
}

func TestStatusAndSchedule(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "GET", "/api/scan", nil)

	resp, body := env.do(t, "GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[struct {
		Cycles      uint64     `json:"cycles"`
		LastCycle   *time.Time `json:"lastCycle"`
		ChainLength int        `json:"chainLength"`
		ChainValid  bool       `json:"chainValid"`
		Mirror      bool       `json:"mirror"`
	}](t, body)
	assert.Equal(t, uint64(1), st.Cycles)
	assert.NotNil(t, st.LastCycle)
	assert.Equal(t, 2, st.ChainLength)
	assert.True(t, st.ChainValid)
	assert.False(t, st.Mirror)

	resp, body = env.do(t, "GET", "/api/schedule", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"enabled":false`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "GET", "/api/scan", nil)

	resp, body := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "torsentry_evidence_blocks 2")
	assert.Contains(t, string(body), `torsentry_scan_cycles_total{result="ok"} 1`)
}

func TestLiveFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.StartLive()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		frame := decode[struct {
			Timestamp     time.Time      `json:"timestamp"`
			ThreatSummary threat.Summary `json:"threatSummary"`
		}](t, data)
		assert.False(t, frame.Timestamp.IsZero())
	}
	assert.Equal(t, 1, env.server.live.count())

	require.NoError(t, env.server.Shutdown(context.Background()))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Zero(t, env.server.live.count())
}
