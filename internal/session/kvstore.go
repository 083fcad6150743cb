package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// KVStoreConfig configures the JetStream-backed store.
type KVStoreConfig struct {
	// Bucket is the JetStream key-value bucket name (default: "sessions").
	Bucket string

	// TTL expires idle sessions. Zero keeps them forever; retention is the
	// store's concern, the orchestrator never deletes.
	TTL time.Duration
}

// DefaultKVStoreConfig returns sensible defaults.
func DefaultKVStoreConfig() *KVStoreConfig {
	return &KVStoreConfig{Bucket: "sessions"}
}

// KVStore persists session snapshots as JSON values in a NATS JetStream
// key-value bucket, keyed by thread id.
type KVStore struct {
	kv     nats.KeyValue
	logger *zap.Logger
}

// NewKVStore creates (or binds to) the configured bucket.
func NewKVStore(cfg *KVStoreConfig, nc *nats.Conn, logger *zap.Logger) (*KVStore, error) {
	if cfg == nil {
		cfg = DefaultKVStoreConfig()
	}
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: cfg.Bucket,
			TTL:    cfg.TTL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("key-value bucket %q: %w", cfg.Bucket, err)
	}

	return &KVStore{kv: kv, logger: logger}, nil
}

// Load retrieves and decodes the snapshot for a thread.
func (s *KVStore) Load(_ context.Context, threadID string) (*State, error) {
	entry, err := s.kv.Get(threadID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", threadID, err)
	}

	var st State
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", threadID, err)
	}
	return &st, nil
}

// Save encodes and stores the snapshot for a thread.
func (s *KVStore) Save(_ context.Context, threadID string, st *State) error {
	if st == nil {
		return errors.New("state is required")
	}
	cp := st.Clone()
	cp.UpdatedAt = time.Now()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", threadID, err)
	}
	if _, err := s.kv.Put(threadID, data); err != nil {
		return fmt.Errorf("save session %q: %w", threadID, err)
	}

	s.logger.Debug("saved session",
		zap.String("thread_id", threadID),
		zap.String("phase", string(cp.Phase)),
		zap.Int("iteration", cp.IterationCount),
	)
	return nil
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *KVStore) Close() error { return nil }
