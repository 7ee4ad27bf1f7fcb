package traffic

import (
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Stats is derived from the current window only.
type Stats struct {
	Count             int      `json:"totalRequests"`
	Failed            int      `json:"failedRequests"`
	BytesTotal        int64    `json:"totalDataTransferred"`
	DataTransferredMB float64  `json:"dataTransferredMB"`
	ElapsedMs         int64    `json:"uptime"`
	RequestsPerSecond float64  `json:"requestsPerSecond"`
	Recent            []Sample `json:"recentRequests"`
}

// DomainCount is one entry of the top-domains list.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// Patterns groups the window by domain, status, and hour of day.
type Patterns struct {
	TopDomains  []DomainCount  `json:"topDomains"`
	StatusCodes map[string]int `json:"statusCodes"`
	HourOfDay   map[int]int    `json:"timePatterns"`
}

// Series is a snapshot of the window shaped for fingerprinting.
type Series struct {
	Timestamps []float64 // unix ms, insertion order
	Sizes      []float64 // response sizes of successful samples
	Gaps       []float64 // ms between consecutive samples
	Payloads   []string  // response prefixes
}

// Stats returns counts and rates for the current window.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Count:      len(m.window),
		BytesTotal: m.bytes,
		ElapsedMs:  m.now().Sub(m.start).Milliseconds(),
	}
	for _, s := range m.window {
		if s.Failed() {
			st.Failed++
		}
	}
	st.DataTransferredMB = float64(m.bytes) / (1024 * 1024)
	if st.ElapsedMs > 0 {
		st.RequestsPerSecond = float64(st.Count) / (float64(st.ElapsedMs) / 1000)
	}

	from := len(m.window) - recentSamples
	if from < 0 {
		from = 0
	}
	st.Recent = append([]Sample{}, m.window[from:]...)
	return st
}

// Patterns groups the window. Samples with unparseable URLs are left out of
// the domain counts.
func (m *Monitor) Patterns() Patterns {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domains := make(map[string]int)
	p := Patterns{
		StatusCodes: make(map[string]int),
		HourOfDay:   make(map[int]int),
	}
	for _, s := range m.window {
		if u, err := url.Parse(s.URL); err == nil && u.Hostname() != "" {
			domains[u.Hostname()]++
		}
		if s.Failed() {
			p.StatusCodes["error"]++
		} else {
			p.StatusCodes[strconv.Itoa(s.StatusCode)]++
		}
		p.HourOfDay[s.Timestamp.Local().Hour()]++
	}

	p.TopDomains = make([]DomainCount, 0, len(domains))
	for d, c := range domains {
		p.TopDomains = append(p.TopDomains, DomainCount{Domain: d, Count: c})
	}
	sort.Slice(p.TopDomains, func(i, j int) bool {
		if p.TopDomains[i].Count != p.TopDomains[j].Count {
			return p.TopDomains[i].Count > p.TopDomains[j].Count
		}
		return p.TopDomains[i].Domain < p.TopDomains[j].Domain
	})
	if len(p.TopDomains) > 10 {
		p.TopDomains = p.TopDomains[:10]
	}
	return p
}

// Series returns timing, size, gap, and payload sequences from the window.
func (m *Monitor) Series() Series {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Series
	var prev time.Time
	for i, sample := range m.window {
		s.Timestamps = append(s.Timestamps, float64(sample.Timestamp.UnixMilli()))
		if !sample.Failed() {
			s.Sizes = append(s.Sizes, float64(sample.DataSize))
		}
		if i > 0 {
			s.Gaps = append(s.Gaps, float64(sample.Timestamp.Sub(prev).Milliseconds()))
		}
		prev = sample.Timestamp
	}
	for _, p := range m.payloads {
		s.Payloads = append(s.Payloads, string(p))
	}
	return s
}
