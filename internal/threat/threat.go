// Package threat classifies scan cycles into threat events and keeps a
// bounded rolling view of active threats.
package threat

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torsentry/torsentry/internal/config"
)

// Severity is the threat taxonomy.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps a string to a Severity, falling back to medium.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Status of an event.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

const (
	// DefaultHistory is the number of events retained.
	DefaultHistory = 50
	// DefaultFloor is the likelihood a category must exceed to emit an event.
	DefaultFloor = 0.1

	minConfidence = 85
	maxConfidence = 99
)

// Category is one catalog entry. Likelihoods are drawn from [0, MaxLikelihood).
type Category struct {
	Name          string   `json:"name"`
	Severity      Severity `json:"severity"`
	MaxLikelihood float64  `json:"maxLikelihood"`
}

// DefaultCatalog returns the built-in categories.
func DefaultCatalog() []Category {
	return []Category{
		{Name: "Malicious Exit Node", Severity: SeverityHigh, MaxLikelihood: 0.3},
		{Name: "Traffic Analysis Attack", Severity: SeverityMedium, MaxLikelihood: 0.4},
		{Name: "DDoS Pattern Detected", Severity: SeverityCritical, MaxLikelihood: 0.2},
		{Name: "Data Exfiltration Attempt", Severity: SeverityHigh, MaxLikelihood: 0.25},
		{Name: "Tor Bridge Compromise", Severity: SeverityCritical, MaxLikelihood: 0.15},
	}
}

// Event is one classified threat. Events are never mutated once emitted.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Severity   Severity  `json:"severity"`
	Confidence int       `json:"confidence"`
	Likelihood float64   `json:"probability"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
}

// ScanContext is what a classifier may look at for one cycle.
type ScanContext struct {
	ProxyVerified bool   `json:"proxyVerified"`
	DataSource    string `json:"dataSource"`
	JitterAnomaly bool   `json:"jitterAnomaly"`
	TorPattern    bool   `json:"torPattern"`
	GapClass      string `json:"gapClass"`
}

// Source supplies category likelihoods and event confidences. The random
// source is a placeholder for a real detector.
type Source interface {
	Likelihood(c Category, sc ScanContext) float64
	Confidence(c Category, sc ScanContext) int
}

// RandomSource draws likelihoods uniformly up to each category's maximum.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource seeds a PCG generator. A zero seed uses the clock.
func NewRandomSource(seed uint64) *RandomSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Likelihood implements Source.
func (r *RandomSource) Likelihood(c Category, _ ScanContext) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() * c.MaxLikelihood
}

// Confidence implements Source.
func (r *RandomSource) Confidence(Category, ScanContext) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return minConfidence + r.rng.IntN(maxConfidence-minConfidence+1)
}

// BySeverity counts events per severity.
type BySeverity struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Summary is recomputed on every call and never stored.
type Summary struct {
	Total             int        `json:"total"`
	BySeverity        BySeverity `json:"bySeverity"`
	AverageConfidence int        `json:"averageConfidence"`
	LastScan          *time.Time `json:"lastScan,omitempty"`
}

// Aggregator owns the rolling event list.
type Aggregator struct {
	catalog []Category
	floor   float64
	limit   int
	source  Source
	now     func() time.Time

	mu       sync.RWMutex
	events   []Event
	lastScan time.Time
}

// NewAggregator builds an aggregator from configuration. Configured
// categories replace the built-in catalog.
func NewAggregator(cfg config.ThreatConfig, src Source) *Aggregator {
	a := &Aggregator{
		catalog: DefaultCatalog(),
		floor:   cfg.ActivationFloor,
		limit:   cfg.HistorySize,
		source:  src,
		now:     time.Now,
	}
	if len(cfg.Categories) > 0 {
		a.catalog = a.catalog[:0]
		for _, c := range cfg.Categories {
			a.catalog = append(a.catalog, Category{
				Name:          c.Name,
				Severity:      ParseSeverity(c.Severity),
				MaxLikelihood: c.MaxLikelihood,
			})
		}
	}
	if a.limit <= 0 {
		a.limit = DefaultHistory
	}
	if a.source == nil {
		a.source = NewRandomSource(cfg.Seed)
	}
	return a
}

// Catalog returns a copy of the categories evaluated by Classify.
func (a *Aggregator) Catalog() []Category {
	return append([]Category(nil), a.catalog...)
}

// Classify evaluates every category and emits an active event for each whose
// likelihood exceeds the floor. It does not record them.
func (a *Aggregator) Classify(sc ScanContext) []Event {
	now := a.now().UTC()
	events := make([]Event, 0, len(a.catalog))
	for _, c := range a.catalog {
		p := a.source.Likelihood(c, sc)
		if p <= a.floor {
			continue
		}
		conf := a.source.Confidence(c, sc)
		if conf < minConfidence {
			conf = minConfidence
		} else if conf > maxConfidence {
			conf = maxConfidence
		}
		events = append(events, Event{
			ID:         uuid.NewString(),
			Name:       c.Name,
			Severity:   c.Severity,
			Confidence: conf,
			Likelihood: p,
			Timestamp:  now,
			Status:     StatusActive,
		})
	}
	return events
}

// Record appends events, dropping the oldest beyond the history limit.
func (a *Aggregator) Record(events []Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, events...)
	if len(a.events) > a.limit {
		a.events = append([]Event(nil), a.events[len(a.events)-a.limit:]...)
	}
	a.lastScan = a.now().UTC()
}

// Active returns the active events, oldest first.
func (a *Aggregator) Active() []Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := make([]Event, 0, len(a.events))
	for _, e := range a.events {
		if e.Status == StatusActive {
			active = append(active, e)
		}
	}
	return active
}

// Summary counts active events by severity and averages their confidence.
func (a *Aggregator) Summary() Summary {
	active := a.Active()

	var s Summary
	a.mu.RLock()
	if !a.lastScan.IsZero() {
		ts := a.lastScan
		s.LastScan = &ts
	}
	a.mu.RUnlock()

	sum := 0
	for _, e := range active {
		switch e.Severity {
		case SeverityCritical:
			s.BySeverity.Critical++
		case SeverityHigh:
			s.BySeverity.High++
		case SeverityMedium:
			s.BySeverity.Medium++
		case SeverityLow:
			s.BySeverity.Low++
		}
		sum += e.Confidence
	}
	s.Total = len(active)
	if s.Total > 0 {
		s.AverageConfidence = int(float64(sum)/float64(s.Total) + 0.5)
	}
	return s
}

var knownNames = []struct {
	severity Severity
	names    []string
}{
	{SeverityCritical, []string{"DDoS Pattern Detected", "Tor Bridge Compromise", "Network Infiltration"}},
	{SeverityHigh, []string{"Malicious Exit Node", "Data Exfiltration Attempt", "Traffic Interception"}},
	{SeverityMedium, []string{"Traffic Analysis Attack", "Suspicious Activity", "Anomaly Detected"}},
	{SeverityLow, []string{"Minor Anomaly", "Unusual Pattern", "Potential Risk"}},
}

// SeverityForName returns the severity of the first known threat name
// contained in name, checked from critical down. Unknown names get fallback,
// or medium when fallback is empty.
func SeverityForName(name string, fallback Severity) Severity {
	for _, group := range knownNames {
		for _, n := range group.names {
			if strings.Contains(name, n) {
				return group.severity
			}
		}
	}
	if fallback == "" {
		return SeverityMedium
	}
	return fallback
}
