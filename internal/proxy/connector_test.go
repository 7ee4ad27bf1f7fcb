package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/config"
	apperrors "github.com/torsentry/torsentry/internal/errors"
)

func testConfig(ports ...int) config.ProxyConfig {
	cfg := config.Default().Proxy
	cfg.CandidatePorts = ports
	cfg.ProbeTimeoutSeconds = 1
	return cfg
}

// scriptedProber answers per address and records every call.
type scriptedProber struct {
	mu      sync.Mutex
	answers map[string]error
	calls   []string
}

func (p *scriptedProber) Probe(_ context.Context, addr, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, addr+" "+target)
	return p.answers[addr]
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

func TestDiscoverPort(t *testing.T) {
	tests := []struct {
		name         string
		answers      map[string]error
		wantPort     int
		wantVerified bool
		wantErr      bool
	}{
		{
			name:         "first port verified",
			answers:      map[string]error{},
			wantPort:     9150,
			wantVerified: true,
		},
		{
			name:         "refused falls through to next port",
			answers:      map[string]error{"127.0.0.1:9150": errRefused},
			wantPort:     9050,
			wantVerified: true,
		},
		{
			name:         "non-refused failure selects unverified",
			answers:      map[string]error{"127.0.0.1:9150": errors.New("tls handshake timeout")},
			wantPort:     9150,
			wantVerified: false,
		},
		{
			name: "all refused",
			answers: map[string]error{
				"127.0.0.1:9150": errRefused,
				"127.0.0.1:9050": fmt.Errorf("socks connect: %w", errRefused),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &scriptedProber{answers: tt.answers}
			c := NewConnector(testConfig(9150, 9050), WithProber(prober))

			d, err := c.DiscoverPort(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrProxyUnavailable)
				var ce *ConnectivityError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, []string{"127.0.0.1:9150", "127.0.0.1:9050"}, ce.Tried)
				assert.NotEmpty(t, ce.Reason)
				assert.Equal(t, StateDisconnected, c.State())
				_, ok := c.Endpoint()
				assert.False(t, ok)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, d.Port)
			assert.Equal(t, tt.wantVerified, d.Verified)
			assert.Equal(t, StateConnected, c.State())
		})
	}
}

func TestDiscoverPortCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prober := ProberFunc(func(ctx context.Context, _, _ string) error {
		cancel()
		return ctx.Err()
	})
	c := NewConnector(testConfig(9150, 9050), WithProber(prober))

	_, err := c.DiscoverPort(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apperrors.ErrProxyUnavailable)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestVerify(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		c := NewConnector(testConfig(9150), WithProber(&scriptedProber{answers: map[string]error{}}))
		assert.Equal(t, StateUnverified, c.State())

		res := c.Verify(context.Background())
		assert.True(t, res.Connected)
		assert.True(t, res.Verified)
		assert.Empty(t, res.Warning)
		assert.NoError(t, res.Err())
		assert.Equal(t, res, c.Last())
	})

	t.Run("second probe fails", func(t *testing.T) {
		calls := 0
		prober := ProberFunc(func(context.Context, string, string) error {
			calls++
			if calls == 2 {
				return errors.New("timeout")
			}
			return nil
		})
		c := NewConnector(testConfig(9150), WithProber(prober))

		res := c.Verify(context.Background())
		assert.True(t, res.Connected)
		assert.False(t, res.Verified)
		assert.True(t, res.Degraded())
		assert.NotEmpty(t, res.Warning)
		assert.ErrorIs(t, res.Err(), apperrors.ErrProxyDegraded)
	})

	t.Run("disconnected", func(t *testing.T) {
		prober := ProberFunc(func(context.Context, string, string) error { return errRefused })
		c := NewConnector(testConfig(9150, 9050), WithProber(prober))

		res := c.Verify(context.Background())
		assert.False(t, res.Connected)
		assert.Equal(t, StateDisconnected, res.State)
		assert.NotEmpty(t, res.Reason)
		assert.ErrorIs(t, res.Err(), apperrors.ErrProxyUnavailable)
	})

	t.Run("every call rediscovers", func(t *testing.T) {
		prober := &scriptedProber{answers: map[string]error{}}
		c := NewConnector(testConfig(9150), WithProber(prober))

		c.Verify(context.Background())
		c.Verify(context.Background())
		assert.Len(t, prober.calls, 4)
	})
}

func TestVerifyWithNothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := NewConnector(testConfig(port))
	res := c.Verify(context.Background())

	assert.False(t, res.Connected)
	assert.Equal(t, StateDisconnected, res.State)
	assert.NotEmpty(t, res.Reason)
}

func TestClient(t *testing.T) {
	var gotAddr string
	factory := func(addr string, timeout time.Duration) (*http.Client, error) {
		gotAddr = addr
		return &http.Client{Timeout: timeout}, nil
	}
	c := NewConnector(testConfig(9050),
		WithProber(&scriptedProber{answers: map[string]error{}}),
		WithClientFactory(factory))

	_, err := c.Client(time.Second)
	assert.ErrorIs(t, err, apperrors.ErrProxyUnavailable)

	c.Verify(context.Background())
	client, err := c.Client(3 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.Timeout)
	assert.Equal(t, "127.0.0.1:9050", gotAddr)
}

func TestIsRefused(t *testing.T) {
	// shape of a refused local dial through the SOCKS dialer and http.Client
	localDial := &url.Error{Op: "Get", URL: "http://example.invalid/", Err: &net.OpError{
		Op: "connect", Net: "tcp",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
	}}
	// the proxy answered with reply 0x05 (target refused)
	targetRefused := &url.Error{Op: "Get", URL: "http://example.invalid/", Err: &net.OpError{
		Op: "connect", Net: "tcp", Err: errors.New("unknown error connection refused"),
	}}

	assert.True(t, isRefused(errRefused))
	assert.True(t, isRefused(localDial))
	assert.False(t, isRefused(targetRefused))
	assert.False(t, isRefused(errors.New("dial tcp 127.0.0.1:9050: connect: connection refused")))
	assert.False(t, isRefused(errors.New("i/o timeout")))
	assert.False(t, isRefused(nil))
}

// refusingSOCKS5 accepts SOCKS5 handshakes and answers every CONNECT with
// reply 0x05, as a live proxy does when the target refuses.
func refusingSOCKS5(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

				hdr := make([]byte, 2)
				if _, err := io.ReadFull(conn, hdr); err != nil {
					return
				}
				if _, err := io.ReadFull(conn, make([]byte, hdr[1])); err != nil {
					return
				}
				if _, err := conn.Write([]byte{5, 0}); err != nil {
					return
				}

				req := make([]byte, 4)
				if _, err := io.ReadFull(conn, req); err != nil {
					return
				}
				var addrLen int
				switch req[3] {
				case 1:
					addrLen = 4
				case 4:
					addrLen = 16
				case 3:
					n := make([]byte, 1)
					if _, err := io.ReadFull(conn, n); err != nil {
						return
					}
					addrLen = int(n[0])
				}
				if _, err := io.ReadFull(conn, make([]byte, addrLen+2)); err != nil {
					return
				}
				_, _ = conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestVerifyProxyRefusingTarget(t *testing.T) {
	port := refusingSOCKS5(t)
	cfg := testConfig(port)
	cfg.ProbeURL = "http://example.invalid/"
	cfg.VerifyURL = "http://example.invalid/"

	c := NewConnector(cfg)
	res := c.Verify(context.Background())

	assert.True(t, res.Connected, "a port that completed the SOCKS handshake is selected: %s", res.Reason)
	assert.Equal(t, StateConnected, res.State)
	assert.Equal(t, port, res.Port)
	assert.False(t, res.Verified)
	assert.NotEmpty(t, res.Warning)
}

func TestSOCKSProberRefusingTarget(t *testing.T) {
	port := refusingSOCKS5(t)
	err := SOCKSProber{Timeout: time.Second}.Probe(context.Background(),
		fmt.Sprintf("127.0.0.1:%d", port), "http://example.invalid/")
	require.Error(t, err)
	assert.False(t, isRefused(err))
}

func TestClientReusedPerEndpoint(t *testing.T) {
	var built atomic.Int32
	factory := func(addr string, timeout time.Duration) (*http.Client, error) {
		built.Add(1)
		return &http.Client{Timeout: timeout}, nil
	}
	prober := &scriptedProber{answers: map[string]error{}}
	c := NewConnector(testConfig(9150, 9050), WithProber(prober), WithClientFactory(factory))
	c.Verify(context.Background())

	a, err := c.Client(time.Second)
	require.NoError(t, err)
	b, err := c.Client(time.Second)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), built.Load())

	other, err := c.Client(2 * time.Second)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, int32(2), built.Load())

	// rediscovering the same endpoint keeps the clients
	c.Verify(context.Background())
	again, err := c.Client(time.Second)
	require.NoError(t, err)
	assert.Same(t, a, again)

	// a new endpoint gets fresh clients
	prober.mu.Lock()
	prober.answers["127.0.0.1:9150"] = errRefused
	prober.mu.Unlock()
	c.Verify(context.Background())
	moved, err := c.Client(time.Second)
	require.NoError(t, err)
	assert.NotSame(t, a, moved)
	assert.Equal(t, int32(3), built.Load())

	c.Close()
}

func TestClientAfterDisconnectingVerify(t *testing.T) {
	var refuse atomic.Bool
	prober := ProberFunc(func(context.Context, string, string) error {
		if refuse.Load() {
			return errRefused
		}
		return nil
	})
	c := NewConnector(testConfig(9150), WithProber(prober),
		WithClientFactory(func(string, time.Duration) (*http.Client, error) { return &http.Client{}, nil }))

	require.True(t, c.Verify(context.Background()).Connected)
	_, err := c.Client(time.Second)
	require.NoError(t, err)

	// any Verify that ends disconnected clears the shared endpoint
	refuse.Store(true)
	require.False(t, c.Verify(context.Background()).Connected)
	_, err = c.Client(time.Second)
	assert.ErrorIs(t, err, apperrors.ErrProxyUnavailable)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	text, err := StateDisconnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "disconnected", string(text))
}
