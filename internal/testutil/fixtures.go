package testutil

import (
	"strings"

	"github.com/torsentry/torsentry/internal/fingerprint"
)

// RegularTimestamps returns n unix-ms timestamps spaced exactly interval ms
// apart, starting at start.
func RegularTimestamps(n int, start, interval float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = start + float64(i)*interval
	}
	return ts
}

// JitteredTimestamps returns n timestamps whose intervals are drawn
// uniformly from [interval-spread, interval+spread].
func JitteredTimestamps(n int, interval, spread float64, opts ...FixtureOption) []float64 {
	r := newRand(opts...)
	ts := make([]float64, n)
	for i := 1; i < n; i++ {
		ts[i] = ts[i-1] + interval - spread + r.Float64()*2*spread
	}
	return ts
}

// AlternatingTimestamps returns timestamps whose intervals alternate between
// short and long, which always yields a high coefficient of variation.
func AlternatingTimestamps(n int, short, long float64) []float64 {
	ts := make([]float64, n)
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			ts[i] = ts[i-1] + short
		} else {
			ts[i] = ts[i-1] + long
		}
	}
	return ts
}

// BurstPackets returns n packets of size quiet with a run of burstLen packets
// of size loud starting at offset.
func BurstPackets(n int, quiet float64, offset, burstLen int, loud float64) []fingerprint.Packet {
	sizes := make([]float64, n)
	for i := range sizes {
		sizes[i] = quiet
		if i >= offset && i < offset+burstLen {
			sizes[i] = loud
		}
	}
	return fingerprint.PacketsFromSizes(sizes)
}

// UniformGaps returns n gaps of the same length.
func UniformGaps(n int, gap float64) []float64 {
	gaps := make([]float64, n)
	for i := range gaps {
		gaps[i] = gap
	}
	return gaps
}

// Payloads returns n payloads built by repeating unit size times.
func Payloads(n int, unit string, size int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.Repeat(unit, size)
	}
	return out
}
