// Package fingerprint derives statistical traffic fingerprints: timing
// jitter, micro-bursts, payload entropy, and silence gaps.
//
// Every analysis is deterministic in its input. Too little input yields a
// neutral result, never an error.
package fingerprint

import (
	"math"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// JitterThreshold is the jitter ratio above which timing is anomalous.
	JitterThreshold = 0.3

	// BurstWindow is the number of consecutive packets summed per window.
	BurstWindow = 5
	// BurstThreshold is the window sum above which a burst is recorded.
	BurstThreshold = 100
	// TorBurstIntensity is the window sum one burst must exceed for the Tor pattern.
	TorBurstIntensity = 200
	// TorBurstCount is the burst count that must be exceeded for the Tor pattern.
	TorBurstCount = 3

	burstConfidenceFloor = 85
	burstConfidenceCap   = 99

	reportSize   = 10
	historyLimit = 100
)

// Silence gap classifications
const (
	GapNormal     = "normal"
	GapSuspicious = "suspicious"
	GapMalicious  = "malicious"
)

// JitterResult is the outcome of AnalyzeJitter.
type JitterResult struct {
	Anomaly   bool      `json:"anomaly"`
	Score     float64   `json:"score"`
	Jitter    float64   `json:"jitter"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stdDev"`
	Timestamp time.Time `json:"timestamp"`
}

// Packet is one observed packet or response size.
type Packet struct {
	Size float64 `json:"size"`
}

// Burst is one window whose summed size exceeded BurstThreshold.
type Burst struct {
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Intensity float64 `json:"intensity"`
}

// BurstResult is the outcome of DetectMicroBursts.
type BurstResult struct {
	Detected     bool      `json:"detected"`
	IsTorPattern bool      `json:"isTorPattern"`
	Confidence   int       `json:"confidence"`
	BurstCount   int       `json:"burstCount"`
	Bursts       []Burst   `json:"bursts,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EntropyResult aggregates per-payload Shannon entropy.
type EntropyResult struct {
	MeanEntropy float64   `json:"meanEntropy"`
	Variance    float64   `json:"variance"`
	StdDev      float64   `json:"stdDev"`
	Samples     int       `json:"samples"`
	Timestamp   time.Time `json:"timestamp"`
}

// SilenceGapResult classifies idle intervals between events.
type SilenceGapResult struct {
	Classification string    `json:"classification"`
	Confidence     int       `json:"confidence"`
	MeanGap        float64   `json:"meanGap"`
	StdDev         float64   `json:"stdDev"`
	Timestamp      time.Time `json:"timestamp"`
}

// Report exposes the most recent results of each history.
type Report struct {
	JitterAnalysis  []JitterResult  `json:"jitterAnalysis"`
	BurstDetection  []BurstResult   `json:"burstDetection"`
	EntropyTracking []EntropyResult `json:"entropyTracking"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Engine runs the analyses and keeps a bounded history of their results.
// It never holds references to its inputs.
type Engine struct {
	now func() time.Time

	mu      sync.Mutex
	jitter  []JitterResult
	bursts  []BurstResult
	entropy []EntropyResult
}

// NewEngine creates an engine with empty histories.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// AnalyzeJitter computes the coefficient of variation of the intervals
// between consecutive timestamps (in ms). Fewer than two timestamps yield a
// zero result that is not recorded.
func (e *Engine) AnalyzeJitter(timestamps []float64) JitterResult {
	if len(timestamps) < 2 {
		return JitterResult{}
	}

	intervals := make([]float64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals[i-1] = timestamps[i] - timestamps[i-1]
	}
	mean, stdDev := meanStdDev(intervals)

	var jitter float64
	if mean != 0 {
		jitter = stdDev / mean
	}

	res := JitterResult{
		Anomaly:   jitter > JitterThreshold,
		Score:     clamp(jitter*100, 0, 100),
		Jitter:    jitter,
		Mean:      mean,
		StdDev:    stdDev,
		Timestamp: e.now().UTC(),
	}

	e.mu.Lock()
	e.jitter = appendBounded(e.jitter, res)
	e.mu.Unlock()
	return res
}

// DetectMicroBursts slides a BurstWindow-packet window across packets and
// records every window whose size sum exceeds BurstThreshold.
func (e *Engine) DetectMicroBursts(packets []Packet) BurstResult {
	if len(packets) == 0 {
		return BurstResult{}
	}

	var bursts []Burst
	strong := false
	for i := 0; i+BurstWindow <= len(packets); i++ {
		var sum float64
		for _, p := range packets[i : i+BurstWindow] {
			sum += p.Size
		}
		if sum > BurstThreshold {
			bursts = append(bursts, Burst{Start: i, End: i + BurstWindow, Intensity: sum})
			if sum > TorBurstIntensity {
				strong = true
			}
		}
	}

	res := BurstResult{
		Detected:     len(bursts) > 0,
		IsTorPattern: len(bursts) > TorBurstCount && strong,
		BurstCount:   len(bursts),
		Bursts:       bursts,
		Timestamp:    e.now().UTC(),
	}
	if res.Detected {
		bonus := 0
		if res.IsTorPattern {
			bonus = 15
		}
		res.Confidence = int(clamp(float64(burstConfidenceFloor+len(bursts)*10+bonus), burstConfidenceFloor, burstConfidenceCap))
	}

	e.mu.Lock()
	e.bursts = appendBounded(e.bursts, res)
	e.mu.Unlock()
	return res
}

// PacketsFromSizes wraps raw sizes as packets.
func PacketsFromSizes(sizes []float64) []Packet {
	packets := make([]Packet, len(sizes))
	for i, s := range sizes {
		packets[i] = Packet{Size: s}
	}
	return packets
}

// CalculateEntropy returns the Shannon entropy in bits of the symbol
// distribution of s. Valid UTF-8 is counted per character, anything else per
// byte. The empty string has entropy 0.
func CalculateEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	var freq map[rune]int
	var n int
	if utf8.ValidString(s) {
		freq = make(map[rune]int)
		for _, r := range s {
			freq[r]++
			n++
		}
	} else {
		freq = make(map[rune]int, 256)
		for i := 0; i < len(s); i++ {
			freq[rune(s[i])]++
		}
		n = len(s)
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// TrackEntropyVariance aggregates per-payload entropy. An empty payload set
// yields zeros. Every call is cached.
func (e *Engine) TrackEntropyVariance(payloads []string) EntropyResult {
	values := make([]float64, len(payloads))
	for i, p := range payloads {
		values[i] = CalculateEntropy(p)
	}
	mean, stdDev := meanStdDev(values)

	res := EntropyResult{
		MeanEntropy: mean,
		Variance:    stdDev * stdDev,
		StdDev:      stdDev,
		Samples:     len(payloads),
		Timestamp:   e.now().UTC(),
	}

	e.mu.Lock()
	e.entropy = appendBounded(e.entropy, res)
	e.mu.Unlock()
	return res
}

// ClassifySilenceGaps applies the gap ladder, strongest tier first:
// malicious (mean > 10000ms, stdDev < 50), suspicious (mean > 5000ms,
// stdDev < 100), irregular normal (stdDev > 2000), then normal.
func (e *Engine) ClassifySilenceGaps(gaps []float64) SilenceGapResult {
	if len(gaps) == 0 {
		return SilenceGapResult{Classification: GapNormal}
	}

	mean, stdDev := meanStdDev(gaps)
	res := SilenceGapResult{
		Classification: GapNormal,
		Confidence:     50,
		MeanGap:        mean,
		StdDev:         stdDev,
		Timestamp:      e.now().UTC(),
	}
	switch {
	case mean > 10000 && stdDev < 50:
		res.Classification, res.Confidence = GapMalicious, 95
	case mean > 5000 && stdDev < 100:
		res.Classification, res.Confidence = GapSuspicious, 85
	case stdDev > 2000:
		res.Confidence = 70
	}
	return res
}

// Report returns the last ten results of each history.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Report{
		JitterAnalysis:  tail(e.jitter, reportSize),
		BurstDetection:  tail(e.bursts, reportSize),
		EntropyTracking: tail(e.entropy, reportSize),
		Timestamp:       e.now().UTC(),
	}
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > historyLimit {
		s = append(s[:0:0], s[len(s)-historyLimit:]...)
	}
	return s
}

func tail[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]T{}, s...)
}
