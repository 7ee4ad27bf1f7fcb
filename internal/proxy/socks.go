package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Prober issues one test request to target through the SOCKS endpoint at
// proxyAddr. Implementations must honor ctx.
type Prober interface {
	Probe(ctx context.Context, proxyAddr, target string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, proxyAddr, target string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, proxyAddr, target string) error {
	return f(ctx, proxyAddr, target)
}

// SOCKSProber probes with a real HTTP GET through a SOCKS5 dialer.
type SOCKSProber struct {
	Timeout time.Duration
}

// Probe succeeds when any HTTP response comes back through the proxy. Each
// probe uses its own transport without keep-alives and releases it on return.
func (p SOCKSProber) Probe(ctx context.Context, proxyAddr, target string) error {
	transport, err := newSOCKSTransport(proxyAddr, p.Timeout)
	if err != nil {
		return err
	}
	transport.DisableKeepAlives = true
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: p.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// NewSOCKSClient returns an HTTP client whose connections are dialed through
// the SOCKS5 proxy at proxyAddr. Callers that build many clients should share
// one; Connector.Client caches them per endpoint.
func NewSOCKSClient(proxyAddr string, timeout time.Duration) (*http.Client, error) {
	transport, err := newSOCKSTransport(proxyAddr, timeout)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func newSOCKSTransport(proxyAddr string, timeout time.Duration) (*http.Transport, error) {
	dialer, err := xproxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", proxyAddr, err)
	}
	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", proxyAddr)
	}

	return &http.Transport{
		DialContext:           cd.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}

// isRefused reports whether err means nothing is listening at the proxy port:
// the local dial to the proxy was refused. A SOCKS reply saying the target
// refused arrives as a different error and means the port is alive.
func isRefused(err error) bool {
	for err != nil {
		var op *net.OpError
		if !errors.As(err, &op) {
			return false
		}
		if op.Op == "dial" && errors.Is(op.Err, syscall.ECONNREFUSED) {
			return true
		}
		err = op.Err
	}
	return false
}
