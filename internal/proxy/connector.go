// Package proxy discovers and verifies the local anonymizing SOCKS proxy and
// hands out HTTP clients that dial through it.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/config"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
)

// State is the connectivity state of the proxy endpoint.
type State int

const (
	StateUnverified State = iota
	StateDiscovering
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Discovery is the endpoint selected by DiscoverPort.
type Discovery struct {
	Port     int    `json:"port"`
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// Result is the outcome of Verify. Connected results carry a port; an
// unverified connection also carries a warning. Disconnected results carry a
// reason.
type Result struct {
	State     State     `json:"state"`
	Connected bool      `json:"connected"`
	Port      int       `json:"port,omitempty"`
	Address   string    `json:"address,omitempty"`
	Verified  bool      `json:"verified"`
	Warning   string    `json:"warning,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Degraded reports a connection that was found but not verified end to end.
func (r Result) Degraded() bool { return r.Connected && !r.Verified }

// Err converts the result into the error taxonomy: nil when verified,
// ErrProxyDegraded when unverified, and a *ConnectivityError when
// disconnected.
func (r Result) Err() error {
	switch {
	case !r.Connected:
		return &ConnectivityError{Reason: r.Reason}
	case !r.Verified:
		return fmt.Errorf("%w: %s", apperrors.ErrProxyDegraded, r.Warning)
	default:
		return nil
	}
}

// ConnectivityError means no candidate port accepted a connection.
type ConnectivityError struct {
	Tried  []string
	Reason string
	Cause  error
}

func (e *ConnectivityError) Error() string {
	return "proxy unavailable: " + e.Reason
}

// Unwrap exposes both the sentinel and the last underlying cause.
func (e *ConnectivityError) Unwrap() []error {
	if e.Cause == nil {
		return []error{apperrors.ErrProxyUnavailable}
	}
	return []error{apperrors.ErrProxyUnavailable, e.Cause}
}

// Option configures a Connector.
type Option func(*Connector)

// WithProber replaces the SOCKS prober.
func WithProber(p Prober) Option {
	return func(c *Connector) { c.prober = p }
}

// WithClientFactory replaces how HTTP clients are built for an endpoint.
func WithClientFactory(f func(proxyAddr string, timeout time.Duration) (*http.Client, error)) Option {
	return func(c *Connector) { c.newClient = f }
}

// Connector owns the shared proxy endpoint. Only DiscoverPort and Verify
// change it; locks guard that state and are never held during a probe.
type Connector struct {
	host         string
	ports        []int
	probeURL     string
	verifyURL    string
	probeTimeout time.Duration

	prober    Prober
	newClient func(proxyAddr string, timeout time.Duration) (*http.Client, error)
	log       *zap.Logger

	mu       sync.RWMutex
	state    State
	endpoint *Discovery
	last     Result

	// clients are shared per timeout and belong to clientAddr
	clientMu   sync.Mutex
	clientAddr string
	clients    map[time.Duration]*http.Client
}

// NewConnector creates a connector in the Unverified state.
func NewConnector(cfg config.ProxyConfig, opts ...Option) *Connector {
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Connector{
		host:         cfg.Host,
		ports:        append([]int(nil), cfg.CandidatePorts...),
		probeURL:     cfg.ProbeURL,
		verifyURL:    cfg.VerifyURL,
		probeTimeout: timeout,
		prober:       SOCKSProber{Timeout: timeout},
		newClient:    NewSOCKSClient,
		log:          logging.Named("proxy"),
		state:        StateUnverified,
	}
	if c.verifyURL == "" {
		c.verifyURL = c.probeURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connectivity state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Last returns the most recent Verify result.
func (c *Connector) Last() Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Endpoint returns the selected endpoint, if any.
func (c *Connector) Endpoint() (Discovery, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.endpoint == nil {
		return Discovery{}, false
	}
	return *c.endpoint, true
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// DiscoverPort probes each candidate port in order. A refused connection
// moves on to the next candidate. Any other probe failure still selects the
// port, unverified. Exhausting every candidate returns a *ConnectivityError.
func (c *Connector) DiscoverPort(ctx context.Context) (Discovery, error) {
	c.setState(StateDiscovering)

	tried := make([]string, 0, len(c.ports))
	var lastErr error
	for _, port := range c.ports {
		if err := ctx.Err(); err != nil {
			return Discovery{}, c.disconnect(tried, "discovery canceled: "+err.Error(), err)
		}

		addr := net.JoinHostPort(c.host, strconv.Itoa(port))
		tried = append(tried, addr)

		pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		err := c.prober.Probe(pctx, addr, c.probeURL)
		cancel()

		// A canceled caller is not a port that accepted a connection.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Discovery{}, c.disconnect(tried, "discovery canceled: "+ctxErr.Error(), ctxErr)
		}

		if err != nil && isRefused(err) {
			c.log.Debug("proxy port refused", zap.String("addr", addr))
			lastErr = err
			continue
		}

		d := Discovery{Port: port, Address: addr, Verified: err == nil}
		if err != nil {
			c.log.Info("proxy port accepted but probe failed", zap.String("addr", addr), zap.Error(err))
		}

		c.mu.Lock()
		c.endpoint = &d
		c.state = StateConnected
		c.mu.Unlock()
		c.dropClients(addr)
		return d, nil
	}

	reason := fmt.Sprintf("no anonymizing proxy is listening on %s; start the Tor client and wait for it to connect",
		strings.Join(tried, ", "))
	if len(tried) == 0 {
		reason = "no candidate proxy ports configured"
	}
	return Discovery{}, c.disconnect(tried, reason, lastErr)
}

func (c *Connector) disconnect(tried []string, reason string, cause error) *ConnectivityError {
	c.mu.Lock()
	c.endpoint = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.dropClients("")
	return &ConnectivityError{Tried: tried, Reason: reason, Cause: cause}
}

// Verify restarts discovery and then runs a second, independent probe against
// the verify target. It never returns an error; failures are in the Result.
func (c *Connector) Verify(ctx context.Context) Result {
	res := c.verify(ctx)

	c.mu.Lock()
	c.last = res
	c.mu.Unlock()

	switch {
	case !res.Connected:
		c.log.Warn("proxy disconnected", zap.String("reason", res.Reason))
	case !res.Verified:
		c.log.Warn("proxy connected but unverified", zap.Int("port", res.Port), zap.String("warning", res.Warning))
	default:
		c.log.Debug("proxy verified", zap.Int("port", res.Port))
	}
	return res
}

func (c *Connector) verify(ctx context.Context) Result {
	d, err := c.DiscoverPort(ctx)
	if err != nil {
		reason := err.Error()
		var ce *ConnectivityError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		return Result{State: StateDisconnected, Reason: reason, CheckedAt: time.Now().UTC()}
	}

	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	err = c.prober.Probe(pctx, d.Address, c.verifyURL)
	cancel()

	res := Result{
		State:     StateConnected,
		Connected: true,
		Port:      d.Port,
		Address:   d.Address,
		Verified:  err == nil,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		res.Warning = "proxy port found but the connection test failed; the client may still be connecting"
	}
	return res
}

// Client returns an HTTP client that dials through the selected endpoint.
// Clients are reused until discovery selects a different endpoint.
func (c *Connector) Client(timeout time.Duration) (*http.Client, error) {
	d, ok := c.Endpoint()
	if !ok {
		return nil, apperrors.ErrProxyUnavailable
	}

	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.clientAddr != d.Address {
		c.closeClientsLocked()
		c.clientAddr = d.Address
	}
	if client, ok := c.clients[timeout]; ok {
		return client, nil
	}
	client, err := c.newClient(d.Address, timeout)
	if err != nil {
		return nil, err
	}
	if c.clients == nil {
		c.clients = make(map[time.Duration]*http.Client)
	}
	c.clients[timeout] = client
	return client, nil
}

// dropClients releases cached clients unless they already dial keep.
func (c *Connector) dropClients(keep string) {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if keep != "" && c.clientAddr == keep {
		return
	}
	c.closeClientsLocked()
}

func (c *Connector) closeClientsLocked() {
	for _, client := range c.clients {
		client.CloseIdleConnections()
	}
	c.clients = nil
	c.clientAddr = ""
}

// Close releases idle connections held by cached clients.
func (c *Connector) Close() {
	c.dropClients("")
}
