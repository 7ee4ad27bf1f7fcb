// Package ledger is a local, single-writer, hash-chained evidence log.
//
// Block 0 is a genesis block whose previous hash is "0". Every later block
// links to its predecessor's hash. Verify walks the chain and reports the
// first broken block as data; tampering is surfaced, never repaired.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/crypto"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
)

// Verification failure reasons
const (
	ReasonIndexMismatch        = "Index mismatch"
	ReasonHashMismatch         = "Hash mismatch"
	ReasonPreviousHashMismatch = "Previous hash mismatch"
	ReasonSignatureMismatch    = "Signature mismatch"
)

// Integrity status labels
const (
	StatusIntact      = "INTACT"
	StatusCompromised = "COMPROMISED"
)

const recentBlocks = 20

// Mirror receives each appended block after the ledger lock is released.
// Mirror failures are logged and never fail an append.
type Mirror interface {
	MirrorBlock(ctx context.Context, b Block) error
}

// Verification is the outcome of Verify.
type Verification struct {
	Valid        bool      `json:"valid"`
	BlockIndex   *uint64   `json:"blockIndex,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	BlockCount   int       `json:"blockCount"`
	SignedBlocks int       `json:"signedBlocks"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

// Report is a compact audit view of the chain.
type Report struct {
	ChainLength     int          `json:"chainLength"`
	Verification    Verification `json:"verification"`
	RecentEvidence  []Block      `json:"recentEvidence"`
	IntegrityStatus string       `json:"integrityStatus"`
	LastUpdate      time.Time    `json:"lastUpdate"`
	CourtReady      bool         `json:"courtReady"`
	KeyID           string       `json:"keyId,omitempty"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSigner signs every new block hash and checks signatures in Verify.
// A verify-only signer checks without signing.
func WithSigner(s *crypto.HashSigner) Option {
	return func(l *Ledger) { l.signer = s }
}

// WithMirror adds a best-effort block mirror.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirrors = append(l.mirrors, m) }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithKinds accepts extra payload kinds on Append.
func WithKinds(kinds ...string) Option {
	return func(l *Ledger) {
		for _, k := range kinds {
			l.kinds[k] = true
		}
	}
}

// Ledger exclusively owns the chain and is its only writer.
type Ledger struct {
	signer  *crypto.HashSigner
	mirrors []Mirror
	kinds   map[string]bool
	now     func() time.Time
	log     *zap.Logger

	mu    sync.RWMutex
	chain []Block
	store *fileStore
}

func newLedger(opts []Option) *Ledger {
	l := &Ledger{
		kinds: map[string]bool{KindNetworkScan: true, KindManual: true},
		now:   time.Now,
		log:   logging.Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New creates an in-memory ledger holding only the genesis block.
func New(opts ...Option) *Ledger {
	l := newLedger(opts)
	genesis, err := l.genesis()
	if err != nil {
		// GenesisPayload always marshals
		panic(err)
	}
	l.chain = []Block{genesis}
	return l
}

// Open loads the ledger persisted at path, creating it with a genesis block
// if empty. The file stays exclusively locked until Close; a second opener
// gets ErrLedgerLocked. A chain that fails verification is kept as loaded.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := newLedger(opts)

	store, err := openFileStore(path)
	if err != nil {
		return nil, err
	}
	blocks, err := store.load()
	if err != nil {
		store.close()
		return nil, err
	}

	if len(blocks) == 0 {
		genesis, err := l.genesis()
		if err != nil {
			store.close()
			return nil, err
		}
		if err := store.append(genesis); err != nil {
			store.close()
			return nil, err
		}
		blocks = []Block{genesis}
	}

	l.chain = blocks
	l.store = store

	if v := l.Verify(); !v.Valid {
		l.log.Warn("persisted ledger failed verification",
			zap.String("path", path), zap.Uint64p("block", v.BlockIndex), zap.String("reason", v.Reason))
	} else {
		l.log.Info("ledger loaded", zap.String("path", path), zap.Int("blocks", v.BlockCount))
	}
	return l, nil
}

// Close releases the file lock. In-memory ledgers need no Close.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.close()
	l.store = nil
	return err
}

func (l *Ledger) genesis() (Block, error) {
	env, err := NewEnvelope(GenesisPayload{Message: "Evidence Chain Initialized"})
	if err != nil {
		return Block{}, err
	}
	return l.seal(0, l.now(), env, GenesisPreviousHash)
}

func (l *Ledger) seal(index uint64, ts time.Time, env Envelope, prev string) (Block, error) {
	b := Block{
		Index:        index,
		Timestamp:    ts.UTC().Truncate(time.Millisecond),
		Data:         env,
		PreviousHash: prev,
	}
	hash, err := b.recomputeHash()
	if err != nil {
		return Block{}, err
	}
	b.Hash = hash

	if l.signer != nil && l.signer.CanSign() {
		sig, err := l.signer.SignHash(hash)
		if err != nil {
			return Block{}, fmt.Errorf("sign block %d: %w", index, err)
		}
		b.Signature = sig
		b.KeyID = l.signer.KeyID()
	}
	return b, nil
}

// Append adds a block for p after the last block. It is the only mutation.
func (l *Ledger) Append(ctx context.Context, p Payload) (Block, error) {
	if p == nil || !l.kinds[p.Kind()] {
		kind := "<nil>"
		if p != nil {
			kind = p.Kind()
		}
		return Block{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownPayload, kind)
	}
	env, err := NewEnvelope(p)
	if err != nil {
		return Block{}, err
	}

	b, err := l.appendEnvelope(env)
	if err != nil {
		return Block{}, err
	}

	for _, m := range l.mirrors {
		if err := m.MirrorBlock(ctx, b); err != nil {
			l.log.Warn("evidence mirror failed", zap.Uint64("block", b.Index), zap.Error(err))
		}
	}
	return b, nil
}

func (l *Ledger) appendEnvelope(env Envelope) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.chain[len(l.chain)-1]
	ts := l.now()
	if ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	b, err := l.seal(last.Index+1, ts, env, last.Hash)
	if err != nil {
		return Block{}, err
	}

	if l.store != nil {
		if err := l.store.append(b); err != nil {
			return Block{}, err
		}
	}
	l.chain = append(l.chain, b)
	l.log.Debug("evidence appended", zap.Uint64("index", b.Index), zap.String("type", env.Type))
	return b, nil
}

// Verify recomputes every block hash and checks every link, stopping at the
// first failure. It never returns an error.
func (l *Ledger) Verify() Verification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verifyLocked()
}

func (l *Ledger) verifyLocked() Verification {
	v := Verification{BlockCount: len(l.chain), VerifiedAt: l.now().UTC()}
	fail := func(i int, reason string) Verification {
		idx := uint64(i)
		v.Valid = false
		v.BlockIndex = &idx
		v.Reason = reason
		return v
	}

	for i, b := range l.chain {
		if b.Index != uint64(i) {
			return fail(i, ReasonIndexMismatch)
		}
		hash, err := b.recomputeHash()
		if err != nil || hash != b.Hash {
			return fail(i, ReasonHashMismatch)
		}
		expected := GenesisPreviousHash
		if i > 0 {
			expected = l.chain[i-1].Hash
		}
		if b.PreviousHash != expected {
			return fail(i, ReasonPreviousHashMismatch)
		}
		if b.Signature != "" && l.signer != nil {
			if b.KeyID != l.signer.KeyID() || !l.signer.VerifyHash(b.Hash, b.Signature) {
				return fail(i, ReasonSignatureMismatch)
			}
			v.SignedBlocks++
		}
	}
	v.Valid = true
	return v
}

// Report verifies the chain and returns the last 20 blocks.
func (l *Ledger) Report() Report {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := l.verifyLocked()
	from := len(l.chain) - recentBlocks
	if from < 0 {
		from = 0
	}
	r := Report{
		ChainLength:     len(l.chain),
		Verification:    v,
		RecentEvidence:  append([]Block{}, l.chain[from:]...),
		IntegrityStatus: StatusCompromised,
		LastUpdate:      l.chain[len(l.chain)-1].Timestamp,
		CourtReady:      v.Valid,
	}
	if v.Valid {
		r.IntegrityStatus = StatusIntact
	}
	if l.signer != nil {
		r.KeyID = l.signer.KeyID()
	}
	return r
}

// ByType returns the blocks whose payload is of the given kind.
func (l *Ledger) ByType(kind string) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Block{}
	for _, b := range l.chain {
		if b.Data.Type == kind {
			out = append(out, b)
		}
	}
	return out
}

// ByTimeRange returns blocks with start <= timestamp <= end.
func (l *Ledger) ByTimeRange(start, end time.Time) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Block{}
	for _, b := range l.chain {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of blocks including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Last returns the newest block.
func (l *Ledger) Last() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1]
}

// Blocks returns a copy of the whole chain.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Block(nil), l.chain...)
}
