package testutil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/proxy"
)

// Paths served by TorSite
const (
	PathCheck   = "/check"
	PathMetrics = "/metrics"
	PathRelay   = "/relay"
	PathMissing = "/missing"
	PathBroken  = "/broken"
)

// Refused is the probe error for a port with nothing listening.
func Refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

// StaticProber answers every probe with err.
func StaticProber(err error) proxy.ProberFunc {
	return func(context.Context, string, string) error { return err }
}

// StaticClients hands out the same client for every timeout.
type StaticClients struct {
	HTTP *http.Client
	Err  error
}

// Client implements traffic.ClientSource.
func (s StaticClients) Client(time.Duration) (*http.Client, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.HTTP, nil
}

// TorSite is an httptest server standing in for the sites reached through
// the proxy. PathBroken hijacks and drops the connection.
type TorSite struct {
	*httptest.Server
	hits atomic.Int64
}

// NewTorSite starts a site and closes it when the test ends.
func NewTorSite(t *testing.T) *TorSite {
	t.Helper()

	s := &TorSite{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathCheck, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Congratulations. This browser is configured to use Tor.</body></html>"))
	})
	mux.HandleFunc(PathMetrics, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + strings.Repeat("relays bandwidth exits ", 64) + "</body></html>"))
	})
	mux.HandleFunc(PathRelay, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"relays":[{"nickname":"moria1","flags":["Authority","Running"]}]}`))
	})
	mux.HandleFunc(PathMissing, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc(PathBroken, func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// URL returns the absolute URL of path on the site.
func (s *TorSite) URL(path string) string {
	return s.Server.URL + path
}

// Hits returns the number of requests served.
func (s *TorSite) Hits() int64 {
	return s.hits.Load()
}

// Clients returns a client source whose requests go straight to the site.
func (s *TorSite) Clients() StaticClients {
	return StaticClients{HTTP: s.Client()}
}

// ProxyConfig returns a proxy config whose probes point at the site.
func (s *TorSite) ProxyConfig() config.ProxyConfig {
	cfg := config.Default().Proxy
	cfg.ProbeURL = s.URL(PathCheck)
	cfg.VerifyURL = s.URL(PathCheck)
	cfg.ProbeTimeoutSeconds = 1
	cfg.RequestTimeoutSeconds = 2
	return cfg
}

// ClientFactory ignores the proxy address and returns the site's client.
func (s *TorSite) ClientFactory() func(string, time.Duration) (*http.Client, error) {
	return func(string, time.Duration) (*http.Client, error) {
		return s.Client(), nil
	}
}

// Connector returns a connector whose probes all return proberErr and whose
// clients reach the site directly.
func (s *TorSite) Connector(proberErr error) *proxy.Connector {
	return proxy.NewConnector(s.ProxyConfig(),
		proxy.WithProber(StaticProber(proberErr)),
		proxy.WithClientFactory(s.ClientFactory()),
	)
}
