// Package redismirror copies evidence blocks and traffic samples to Redis so
// other processes can read them. The local ledger stays authoritative.
package redismirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/traffic"
)

const (
	sampleRetention = time.Hour
	counterTTL      = time.Hour
	writeTimeout    = 2 * time.Second
)

// ErrNotFound means the mirror holds no such block.
var ErrNotFound = errors.New("not found in mirror")

// Mirror writes to Redis under a key prefix.
type Mirror struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// New connects to the configured Redis and pings it.
func New(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Mirror {
	if prefix == "" {
		prefix = "torsentry"
	}
	return &Mirror{client: client, prefix: prefix, log: logging.Named("redismirror")}
}

func (m *Mirror) key(parts ...string) string {
	k := m.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Channel is where new blocks are published.
func (m *Mirror) Channel() string {
	return m.key("evidence", "events")
}

// MirrorBlock implements ledger.Mirror. It stores the block by index, indexes
// it by time, moves the head, and publishes it.
func (m *Mirror) MirrorBlock(ctx context.Context, b ledger.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	idx := strconv.FormatUint(b.Index, 10)

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, m.key("evidence", "blocks"), idx, data)
	pipe.ZAdd(ctx, m.key("evidence", "timeline"), redis.Z{
		Score:  float64(b.Timestamp.UnixMilli()),
		Member: idx,
	})
	pipe.HSet(ctx, m.key("evidence", "head"), "index", idx, "hash", b.Hash)
	pipe.Publish(ctx, m.Channel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror block %d: %w", b.Index, err)
	}
	return nil
}

// Block reads a mirrored block.
func (m *Mirror) Block(ctx context.Context, index uint64) (ledger.Block, error) {
	raw, err := m.client.HGet(ctx, m.key("evidence", "blocks"), strconv.FormatUint(index, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return ledger.Block{}, fmt.Errorf("block %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return ledger.Block{}, err
	}
	var b ledger.Block
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return ledger.Block{}, fmt.Errorf("decode block %d: %w", index, err)
	}
	return b, nil
}

// Head returns the index and hash of the newest mirrored block.
func (m *Mirror) Head(ctx context.Context) (uint64, string, error) {
	vals, err := m.client.HGetAll(ctx, m.key("evidence", "head")).Result()
	if err != nil {
		return 0, "", err
	}
	if len(vals) == 0 {
		return 0, "", ErrNotFound
	}
	idx, err := strconv.ParseUint(vals["index"], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("decode head index: %w", err)
	}
	return idx, vals["hash"], nil
}

// BlocksBetween returns the indexes of blocks stamped in [start, end].
func (m *Mirror) BlocksBetween(ctx context.Context, start, end time.Time) ([]uint64, error) {
	members, err := m.client.ZRangeByScore(ctx, m.key("evidence", "timeline"), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(members))
	for _, s := range members {
		idx, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out, nil
}

// ObserveSample implements traffic.Sink. Samples older than the retention
// are trimmed and per-minute counters expire. Failures are logged.
func (m *Mirror) ObserveSample(ctx context.Context, s traffic.Sample) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	key := m.key("traffic", "samples")
	minute := m.key("traffic", "minute", strconv.FormatInt(s.Timestamp.Truncate(time.Minute).Unix(), 10))
	cutoff := s.Timestamp.Add(-sampleRetention).UnixMilli()

	pipe := m.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(s.Timestamp.UnixMilli()), Member: data})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.HIncrBy(ctx, minute, "requests", 1)
	pipe.HIncrBy(ctx, minute, "bytes", s.DataSize)
	if s.Failed() {
		pipe.HIncrBy(ctx, minute, "failed", 1)
	}
	pipe.Expire(ctx, minute, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("traffic mirror failed", zap.String("id", s.ID), zap.Error(err))
	}
}

// RecentSamples returns mirrored samples stamped at or after since.
func (m *Mirror) RecentSamples(ctx context.Context, since time.Time) ([]traffic.Sample, error) {
	results, err := m.client.ZRangeByScore(ctx, m.key("traffic", "samples"), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	samples := make([]traffic.Sample, 0, len(results))
	for _, r := range results {
		var s traffic.Sample
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// MinuteCounters returns the request, byte, and failure counters for the
// minute containing t.
func (m *Mirror) MinuteCounters(ctx context.Context, t time.Time) (map[string]int64, error) {
	vals, err := m.client.HGetAll(ctx, m.key("traffic", "minute", strconv.FormatInt(t.Truncate(time.Minute).Unix(), 10))).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(vals))
	for k, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Ping checks the connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}
