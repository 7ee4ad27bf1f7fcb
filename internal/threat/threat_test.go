package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/config"
)

// fixedSource returns the same likelihood for every category unless
// overridden by name.
type fixedSource struct {
	likelihood float64
	byName     map[string]float64
	confidence int
}

func (f fixedSource) Likelihood(c Category, _ ScanContext) float64 {
	if p, ok := f.byName[c.Name]; ok {
		return p
	}
	return f.likelihood
}

func (f fixedSource) Confidence(Category, ScanContext) int { return f.confidence }

func newAggregator(src Source) *Aggregator {
	return NewAggregator(config.Default().Threat, src)
}

func TestClassify(t *testing.T) {
	t.Run("all categories above floor", func(t *testing.T) {
		a := newAggregator(fixedSource{likelihood: 0.5, confidence: 90})
		events := a.Classify(ScanContext{})
		require.Len(t, events, len(DefaultCatalog()))

		ids := map[string]bool{}
		for _, e := range events {
			assert.Equal(t, StatusActive, e.Status)
			assert.Equal(t, 90, e.Confidence)
			assert.False(t, ids[e.ID], "duplicate id")
			ids[e.ID] = true
		}
	})

	t.Run("floor is exclusive", func(t *testing.T) {
		a := newAggregator(fixedSource{likelihood: 0.1, confidence: 90})
		assert.Empty(t, a.Classify(ScanContext{}))
	})

	t.Run("only likely categories emit", func(t *testing.T) {
		src := fixedSource{byName: map[string]float64{"DDoS Pattern Detected": 0.15}, confidence: 90}
		events := newAggregator(src).Classify(ScanContext{})
		require.Len(t, events, 1)
		assert.Equal(t, SeverityCritical, events[0].Severity)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		events := newAggregator(fixedSource{likelihood: 0.5, confidence: 120}).Classify(ScanContext{})
		for _, e := range events {
			assert.Equal(t, 99, e.Confidence)
		}
	})

	t.Run("classify does not record", func(t *testing.T) {
		a := newAggregator(fixedSource{likelihood: 0.5, confidence: 90})
		a.Classify(ScanContext{})
		assert.Zero(t, a.Summary().Total)
	})
}

func TestRandomSource(t *testing.T) {
	src := NewRandomSource(42)
	c := Category{Name: "x", MaxLikelihood: 0.3}
	for i := 0; i < 500; i++ {
		p := src.Likelihood(c, ScanContext{})
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 0.3)

		conf := src.Confidence(c, ScanContext{})
		assert.GreaterOrEqual(t, conf, 85)
		assert.LessOrEqual(t, conf, 99)
	}

	a := NewRandomSource(7)
	b := NewRandomSource(7)
	assert.Equal(t, a.Likelihood(c, ScanContext{}), b.Likelihood(c, ScanContext{}))
}

func TestRecordKeepsLatest(t *testing.T) {
	a := newAggregator(fixedSource{likelihood: 0.5, confidence: 90})
	for i := 0; i < 12; i++ {
		a.Record(a.Classify(ScanContext{}))
	}

	active := a.Active()
	assert.Len(t, active, DefaultHistory)
	assert.Equal(t, DefaultHistory, a.Summary().Total)
}

func TestSummary(t *testing.T) {
	a := newAggregator(nil)

	empty := a.Summary()
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.AverageConfidence)
	assert.Nil(t, empty.LastScan)

	a.Record([]Event{
		{ID: "1", Severity: SeverityCritical, Confidence: 90, Status: StatusActive},
		{ID: "2", Severity: SeverityHigh, Confidence: 91, Status: StatusActive},
		{ID: "3", Severity: SeverityHigh, Confidence: 95, Status: StatusActive},
		{ID: "4", Severity: SeverityLow, Confidence: 99, Status: StatusResolved},
	})

	s := a.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, BySeverity{Critical: 1, High: 2}, s.BySeverity)
	assert.Equal(t, 92, s.AverageConfidence)
	assert.NotNil(t, s.LastScan)
}

func TestConfiguredCatalog(t *testing.T) {
	cfg := config.Default().Threat
	cfg.Categories = []config.ThreatCategoryConfig{
		{Name: "Rogue Guard", Severity: "CRITICAL", MaxLikelihood: 0.9},
		{Name: "Odd Timing", Severity: "bogus", MaxLikelihood: 0.5},
	}
	a := NewAggregator(cfg, nil)

	cat := a.Catalog()
	require.Len(t, cat, 2)
	assert.Equal(t, SeverityCritical, cat[0].Severity)
	assert.Equal(t, SeverityMedium, cat[1].Severity)
}

func TestSeverityForName(t *testing.T) {
	tests := []struct {
		name     string
		fallback Severity
		want     Severity
	}{
		{"DDoS Pattern Detected", "", SeverityCritical},
		{"Possible Traffic Interception on guard", "", SeverityHigh},
		{"Anomaly Detected", SeverityLow, SeverityMedium},
		{"Minor Anomaly", "", SeverityLow},
		{"Something new", SeverityHigh, SeverityHigh},
		{"Something new", "", SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityForName(tt.name, tt.fallback))
		})
	}
}
