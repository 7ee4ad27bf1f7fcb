package api

import (
	"time"

	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/scheduler"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

// StatusDTO is the /api/status response
type StatusDTO struct {
	Proxy          proxy.Result      `json:"proxy"`
	Cycles         uint64            `json:"cycles"`
	LastCycle      *time.Time        `json:"lastCycle,omitempty"`
	ChainLength    int               `json:"chainLength"`
	ChainValid     bool              `json:"chainValid"`
	ThreatSummary  threat.Summary    `json:"threatSummary"`
	TrafficSamples int               `json:"trafficSamples"`
	Signing        bool              `json:"signing"`
	Mirror         bool              `json:"mirror"`
	Scheduler      *scheduler.Status `json:"scheduler,omitempty"`
}

// BrowseDTO is returned after a monitored fetch
type BrowseDTO struct {
	Sample   traffic.Sample   `json:"sample"`
	Proxy    proxy.Result     `json:"proxy"`
	Stats    traffic.Stats    `json:"stats"`
	Patterns traffic.Patterns `json:"patterns"`
}

// TrafficDTO is the GET /api/browse response
type TrafficDTO struct {
	Stats    traffic.Stats    `json:"stats"`
	Patterns traffic.Patterns `json:"patterns"`
}

// ThreatsDTO is the /api/threats response
type ThreatsDTO struct {
	Summary threat.Summary    `json:"summary"`
	Active  []threat.Event    `json:"active"`
	Catalog []threat.Category `json:"catalog"`
}

// EvidenceQueryDTO is the /api/evidence/query response
type EvidenceQueryDTO struct {
	Count  int            `json:"count"`
	Blocks []ledger.Block `json:"blocks"`
}
