// Package testutil provides shared test fixtures for torsentry: timing, size
// and payload series for the fingerprint engine, signing keys, an httptest
// site that stands in for the Tor network, config directories, and wired
// analysis pipelines.
package testutil

import (
	"math/rand/v2"
	"os"
	"strconv"
	"testing"
)

// SeedEnv overrides the seed of randomized fixtures.
const SeedEnv = "TORSENTRY_TEST_SEED"

// FixtureOption configures fixture creation
type FixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	seed   uint64
	seeded bool
}

// WithSeed makes a randomized fixture reproducible.
func WithSeed(seed uint64) FixtureOption {
	return func(c *fixtureConfig) {
		c.seed = seed
		c.seeded = true
	}
}

// GetTestSeed returns SeedEnv when set, otherwise a fresh non-zero seed. The
// seed is logged so a failing run can be repeated.
func GetTestSeed(t *testing.T) uint64 {
	t.Helper()

	if s := os.Getenv(SeedEnv); s != "" {
		if seed, err := strconv.ParseUint(s, 10, 64); err == nil {
			t.Logf("using seed from %s: %d", SeedEnv, seed)
			return seed
		}
	}

	seed := rand.Uint64()>>1 + 1
	t.Logf("test seed %d (set %s=%d to reproduce)", seed, SeedEnv, seed)
	return seed
}

func newRand(opts ...FixtureOption) *rand.Rand {
	cfg := &fixtureConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.seeded {
		cfg.seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(cfg.seed, cfg.seed))
}
