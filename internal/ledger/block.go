package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/torsentry/torsentry/internal/errors"
)

// Payload kinds
const (
	KindGenesis     = "genesis"
	KindNetworkScan = "network_scan"
	KindManual      = "manual"
)

// GenesisPreviousHash is the previous hash stored in block 0.
const GenesisPreviousHash = "0"

// Payload is a typed evidence body.
type Payload interface {
	Kind() string
}

// GenesisPayload is the body of block 0.
type GenesisPayload struct {
	Message string `json:"message"`
}

// Kind implements Payload.
func (GenesisPayload) Kind() string { return KindGenesis }

// ManualPayload is evidence submitted by an operator.
type ManualPayload struct {
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Kind implements Payload.
func (ManualPayload) Kind() string { return KindManual }

// Envelope is the stored, tagged form of a payload. Body is compact JSON.
type Envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewEnvelope serializes p into its tagged form.
func NewEnvelope(p Payload) (Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return Envelope{Type: p.Kind(), Body: body}, nil
}

// Decode unmarshals the body into p, which must be of the envelope's kind.
func (e Envelope) Decode(p Payload) error {
	if p.Kind() != e.Type {
		return fmt.Errorf("%w: envelope holds %q, not %q", apperrors.ErrUnknownPayload, e.Type, p.Kind())
	}
	return json.Unmarshal(e.Body, p)
}

// canonical returns the compact serialization covered by the block hash.
func (e Envelope) canonical() ([]byte, error) {
	var body bytes.Buffer
	if len(e.Body) > 0 {
		if err := json.Compact(&body, e.Body); err != nil {
			return nil, err
		}
	} else {
		body.WriteString("null")
	}
	return json.Marshal(struct {
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	}{e.Type, body.Bytes()})
}

// Block is one immutable, hash-linked ledger entry.
type Block struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Data         Envelope  `json:"data"`
	PreviousHash string    `json:"previousHash"`
	Hash         string    `json:"hash"`
	Signature    string    `json:"signature,omitempty"`
	KeyID        string    `json:"keyId,omitempty"`
}

// ComputeHash returns SHA-256 over index, RFC 3339 timestamp, canonical
// envelope, and previous hash, hex encoded.
func ComputeHash(index uint64, ts time.Time, data Envelope, previousHash string) (string, error) {
	canon, err := data.canonical()
	if err != nil {
		return "", fmt.Errorf("canonicalize block %d: %w", index, err)
	}

	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(index, 10)))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write(canon)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (b Block) recomputeHash() (string, error) {
	return ComputeHash(b.Index, b.Timestamp, b.Data, b.PreviousHash)
}
