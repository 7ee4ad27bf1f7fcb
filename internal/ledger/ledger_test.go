package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsentry/torsentry/internal/crypto"
	apperrors "github.com/torsentry/torsentry/internal/errors"
)

type scanPayload struct {
	Relays int `json:"relays"`
}

func (scanPayload) Kind() string { return KindNetworkScan }

type bogusPayload struct{}

func (bogusPayload) Kind() string { return "bogus" }

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func appendN(t *testing.T, l *Ledger, n int) []Block {
	t.Helper()
	var out []Block
	for i := 0; i < n; i++ {
		b, err := l.Append(context.Background(), scanPayload{Relays: i})
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestGenesis(t *testing.T) {
	l := New()
	require.Equal(t, 1, l.Len())

	g := l.Last()
	assert.Equal(t, uint64(0), g.Index)
	assert.Equal(t, GenesisPreviousHash, g.PreviousHash)
	assert.Equal(t, KindGenesis, g.Data.Type)
	assert.Len(t, g.Hash, 64)

	v := l.Verify()
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.BlockCount)
}

func TestAppendOrdering(t *testing.T) {
	l := New(WithClock(newClock().now))
	appendN(t, l, 25)

	chain := l.Blocks()
	require.Len(t, chain, 26)
	for i := range chain {
		assert.Equal(t, uint64(i), chain[i].Index)
		if i > 0 {
			assert.Equal(t, chain[i-1].Hash, chain[i].PreviousHash)
			assert.False(t, chain[i].Timestamp.Before(chain[i-1].Timestamp))
		}
	}
}

func TestAppendThenVerify(t *testing.T) {
	l := New()
	for i := 0; i < 10; i++ {
		_, err := l.Append(context.Background(), scanPayload{Relays: i})
		require.NoError(t, err)
		assert.True(t, l.Verify().Valid)
	}
}

func TestAppendRejectsUnknownKind(t *testing.T) {
	l := New()

	_, err := l.Append(context.Background(), bogusPayload{})
	assert.ErrorIs(t, err, apperrors.ErrUnknownPayload)
	_, err = l.Append(context.Background(), GenesisPayload{})
	assert.ErrorIs(t, err, apperrors.ErrUnknownPayload)
	_, err = l.Append(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownPayload)
	assert.Equal(t, 1, l.Len())

	extended := New(WithKinds("bogus"))
	_, err = extended.Append(context.Background(), bogusPayload{})
	assert.NoError(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		index  int
		mutate func(b *Block)
		reason string
	}{
		{
			name:   "data changed",
			index:  3,
			mutate: func(b *Block) { b.Data.Body = json.RawMessage(`{"relays":9999}`) },
			reason: ReasonHashMismatch,
		},
		{
			name:   "genesis data changed",
			index:  0,
			mutate: func(b *Block) { b.Data.Body = json.RawMessage(`{"message":"forged"}`) },
			reason: ReasonHashMismatch,
		},
		{
			name:  "relinked with fresh hash",
			index: 2,
			mutate: func(b *Block) {
				b.PreviousHash = strings.Repeat("f", 64)
				b.Hash, _ = b.recomputeHash()
			},
			reason: ReasonPreviousHashMismatch,
		},
		{
			name:   "timestamp changed",
			index:  4,
			mutate: func(b *Block) { b.Timestamp = b.Timestamp.Add(time.Hour) },
			reason: ReasonHashMismatch,
		},
		{
			name:   "index changed",
			index:  5,
			mutate: func(b *Block) { b.Index = 50 },
			reason: ReasonIndexMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(WithClock(newClock().now))
			appendN(t, l, 5)

			l.mu.Lock()
			tt.mutate(&l.chain[tt.index])
			l.mu.Unlock()

			v := l.Verify()
			assert.False(t, v.Valid)
			require.NotNil(t, v.BlockIndex)
			assert.Equal(t, uint64(tt.index), *v.BlockIndex)
			assert.Equal(t, tt.reason, v.Reason)

			r := l.Report()
			assert.Equal(t, StatusCompromised, r.IntegrityStatus)
			assert.False(t, r.CourtReady)
			assert.Equal(t, 6, l.Len(), "chain is never repaired")
		})
	}
}

func TestWhitespaceInBodyDoesNotChangeHash(t *testing.T) {
	l := New()
	appendN(t, l, 1)

	l.mu.Lock()
	l.chain[1].Data.Body = json.RawMessage("{ \"relays\" : 0 }")
	l.mu.Unlock()

	assert.True(t, l.Verify().Valid)
}

func TestReport(t *testing.T) {
	l := New(WithClock(newClock().now))
	appendN(t, l, 30)

	r := l.Report()
	assert.Equal(t, 31, r.ChainLength)
	assert.Len(t, r.RecentEvidence, 20)
	assert.Equal(t, uint64(30), r.RecentEvidence[19].Index)
	assert.Equal(t, StatusIntact, r.IntegrityStatus)
	assert.True(t, r.CourtReady)
	assert.Equal(t, l.Last().Timestamp, r.LastUpdate)
}

func TestQueries(t *testing.T) {
	clock := newClock()
	l := New(WithClock(clock.now))
	blocks := appendN(t, l, 4)
	manual, err := l.Append(context.Background(), ManualPayload{Label: "operator note", Data: json.RawMessage(`{"note":"x"}`)})
	require.NoError(t, err)

	assert.Len(t, l.ByType(KindNetworkScan), 4)
	assert.Len(t, l.ByType(KindGenesis), 1)
	require.Len(t, l.ByType(KindManual), 1)
	assert.Empty(t, l.ByType("nothing"))

	var got ManualPayload
	require.NoError(t, l.ByType(KindManual)[0].Data.Decode(&got))
	assert.Equal(t, "operator note", got.Label)

	var wrong scanPayload
	assert.ErrorIs(t, manual.Data.Decode(&wrong), apperrors.ErrUnknownPayload)

	inRange := l.ByTimeRange(blocks[1].Timestamp, blocks[3].Timestamp)
	require.Len(t, inRange, 3)
	assert.Equal(t, blocks[1].Index, inRange[0].Index)
	assert.Equal(t, blocks[3].Index, inRange[2].Index)
}

type recordingMirror struct {
	mu     sync.Mutex
	blocks []Block
	err    error
}

func (m *recordingMirror) MirrorBlock(_ context.Context, b Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, b)
	return m.err
}

func TestMirrorsAreBestEffort(t *testing.T) {
	ok := &recordingMirror{}
	failing := &recordingMirror{err: errors.New("redis down")}
	l := New(WithMirror(ok), WithMirror(failing))

	appendN(t, l, 3)
	assert.Len(t, ok.blocks, 3)
	assert.Len(t, failing.blocks, 3)
	assert.Equal(t, 4, l.Len())
}

func TestSignedBlocks(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signer, err := crypto.NewHashSigner(pub, priv)
	require.NoError(t, err)

	l := New(WithSigner(signer))
	appendN(t, l, 3)

	for _, b := range l.Blocks() {
		assert.NotEmpty(t, b.Signature)
		assert.Equal(t, signer.KeyID(), b.KeyID)
	}
	v := l.Verify()
	assert.True(t, v.Valid)
	assert.Equal(t, 4, v.SignedBlocks)

	l.mu.Lock()
	l.chain[2].Signature = l.chain[1].Signature
	l.mu.Unlock()

	v = l.Verify()
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonSignatureMismatch, v.Reason)
	assert.Equal(t, uint64(2), *v.BlockIndex)
}

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence", "ledger.jsonl")

	l, err := Open(path)
	require.NoError(t, err)
	appendN(t, l, 3)
	want := l.Blocks()
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.Blocks()
	require.Len(t, got, 4)
	for i := range want {
		assert.Equal(t, want[i].Hash, got[i].Hash)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}
	assert.True(t, reopened.Verify().Valid)

	b, err := reopened.Append(context.Background(), scanPayload{Relays: 42})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), b.Index)
	assert.Equal(t, got[3].Hash, b.PreviousHash)
}

func TestOpenIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, apperrors.ErrLedgerLocked)

	require.NoError(t, l.Close())
	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := Open(path)
	require.NoError(t, err)
	appendN(t, l, 3)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"relays":1`, `"relays":7`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v := reopened.Verify()
	assert.False(t, v.Valid)
	require.NotNil(t, v.BlockIndex)
	assert.Equal(t, uint64(2), *v.BlockIndex)
	assert.Equal(t, ReasonHashMismatch, v.Reason)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0600))

	_, err := Open(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptLedger)

	// the lock was released on failure
	require.NoError(t, os.WriteFile(path, nil, 0600))
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
