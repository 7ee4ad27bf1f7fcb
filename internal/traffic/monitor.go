// Package traffic records every request sent through the anonymizing proxy
// and keeps a bounded window of samples with rolling statistics.
package traffic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
)

const (
	// DefaultCapacity is the number of samples kept in the window.
	DefaultCapacity = 1000

	recentSamples  = 20
	payloadSamples = 50
	payloadPrefix  = 512
	defaultMaxBody = 8 << 20
	defaultTimeout = 30 * time.Second
	defaultUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Sample is one recorded request outcome. A sample carries either a status
// code or an error, never both.
type Sample struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration"`
	DataSize   int64     `json:"dataSize"`
	Timestamp  time.Time `json:"timestamp"`
}

// Failed reports whether the request failed.
func (s Sample) Failed() bool { return s.Error != "" }

// ClientSource hands out HTTP clients that dial through the proxy.
type ClientSource interface {
	Client(timeout time.Duration) (*http.Client, error)
}

// Sink observes each sample after it is recorded. Sinks run outside the
// monitor's lock and must not block for long.
type Sink interface {
	ObserveSample(ctx context.Context, s Sample)
}

// RequestError is returned for a failed request after it has been recorded.
type RequestError struct {
	Sample Sample
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Sample.URL, e.Err)
}

// Unwrap exposes ErrRequestFailed and the underlying cause.
func (e *RequestError) Unwrap() []error {
	return []error{apperrors.ErrRequestFailed, e.Err}
}

// Options configures a Monitor.
type Options struct {
	Capacity int
	Timeout  time.Duration
	MaxBody  int64
	Sinks    []Sink
}

// Monitor exclusively owns its window of samples.
type Monitor struct {
	clients  ClientSource
	capacity int
	timeout  time.Duration
	maxBody  int64
	sinks    []Sink
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	window   []Sample
	bytes    int64
	start    time.Time
	last     time.Time
	payloads [][]byte
}

// NewMonitor creates a monitor that sends requests with clients from src.
func NewMonitor(src ClientSource, opts Options) *Monitor {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	m := &Monitor{
		clients:  src,
		capacity: opts.Capacity,
		timeout:  opts.Timeout,
		maxBody:  opts.MaxBody,
		sinks:    opts.Sinks,
		log:      logging.Named("traffic"),
		now:      time.Now,
	}
	m.start = m.now()
	return m
}

// AddSink registers another sample observer. Call before recording starts.
func (m *Monitor) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Capacity returns the window size.
func (m *Monitor) Capacity() int { return m.capacity }

type requestOptions struct {
	method string
	header http.Header
}

// RequestOption customizes a monitored request.
type RequestOption func(*requestOptions)

// WithMethod sets the HTTP method. The default is GET.
func WithMethod(method string) RequestOption {
	return func(o *requestOptions) { o.method = method }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Add(key, value) }
}

// Record performs the request through the proxy and appends its outcome to
// the window. Failures are recorded first and then returned as a
// *RequestError. A request abandoned through ctx is recorded as failed.
func (m *Monitor) Record(ctx context.Context, rawURL string, opts ...RequestOption) (Sample, []byte, error) {
	o := requestOptions{method: http.MethodGet, header: http.Header{}}
	o.header.Set("User-Agent", defaultUA)
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	body, status, err := m.do(ctx, rawURL, o)
	s := Sample{
		ID:         uuid.NewString(),
		URL:        rawURL,
		Method:     o.method,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.Error = err.Error()
	} else {
		s.StatusCode = status
		s.DataSize = int64(len(body))
	}

	s = m.insert(s, body)
	for _, sink := range m.sinks {
		sink.ObserveSample(ctx, s)
	}

	if err != nil {
		m.log.Debug("monitored request failed", zap.String("url", rawURL), zap.Error(err))
		return s, nil, &RequestError{Sample: s, Err: err}
	}
	return s, body, nil
}

func (m *Monitor) do(ctx context.Context, rawURL string, o requestOptions) ([]byte, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, 0, fmt.Errorf("%w: %q", apperrors.ErrInvalidURL, rawURL)
	}

	client, err := m.clients.Client(m.timeout)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, o.method, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header = o.header

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBody))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// insert stamps and appends a sample, evicting the oldest past capacity.
func (m *Monitor) insert(s Sample, body []byte) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	if ts.Before(m.last) {
		ts = m.last
	}
	m.last = ts
	s.Timestamp = ts

	m.window = append(m.window, s)
	m.bytes += s.DataSize
	if len(m.window) > m.capacity {
		evicted := m.window[0]
		m.bytes -= evicted.DataSize
		copy(m.window, m.window[1:])
		m.window = m.window[:m.capacity]
	}

	if len(body) > 0 {
		n := len(body)
		if n > payloadPrefix {
			n = payloadPrefix
		}
		m.payloads = append(m.payloads, append([]byte(nil), body[:n]...))
		if len(m.payloads) > payloadSamples {
			m.payloads = m.payloads[len(m.payloads)-payloadSamples:]
		}
	}
	return s
}

// Reset clears the window and counters and restarts the elapsed-time origin.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = nil
	m.payloads = nil
	m.bytes = 0
	m.start = m.now()
	m.last = time.Time{}
	m.log.Info("traffic window reset")
}
