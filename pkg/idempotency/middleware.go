package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Processed reports whether key was marked done by Mark.
func (s *Store) Processed(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records key as done. Call it only once the work under key has an
// outcome that must not be repeated.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}

// record is the value stored under a request key.
type record struct {
	Fingerprint string `json:"fingerprint"`
	Done        bool   `json:"done"`
	Body        string `json:"body,omitempty"`
}

// Claim is the outcome of Begin.
type Claim struct {
	// Fresh is true when this caller now owns the key.
	Fresh bool
	// Mismatch is true when the key is held by a request with a different
	// fingerprint.
	Mismatch bool
	// Value is the stored result of an earlier request for the same key.
	Value string

	done bool
}

// InFlight reports that another request holds the key and has not finished.
func (c Claim) InFlight() bool {
	return !c.Fresh && !c.done
}

// Fingerprint hashes the JSON encoding of v.
func Fingerprint(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) RequestKey(scope, key string) string {
	return fmt.Sprintf("idem:req:%s:%s", scope, key)
}

// Begin claims key for a request with the given fingerprint. When the key is
// already held, the stored state is returned instead.
func (s *Store) Begin(ctx context.Context, key, fingerprint string) (Claim, error) {
	pending, err := json.Marshal(record{Fingerprint: fingerprint})
	if err != nil {
		return Claim{}, err
	}
	ok, err := s.rdb.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil {
		return Claim{}, err
	}
	if ok {
		return Claim{Fresh: true}, nil
	}

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, key, fingerprint)
	}
	if err != nil {
		return Claim{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Claim{}, fmt.Errorf("idempotency record %s: %w", key, err)
	}
	return Claim{Mismatch: rec.Fingerprint != fingerprint, Value: rec.Body, done: rec.Done}, nil
}

// Complete records the result for a key claimed with Begin.
func (s *Store) Complete(ctx context.Context, key, fingerprint, value string) error {
	body, err := json.Marshal(record{Fingerprint: fingerprint, Done: true, Body: value})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, body, s.ttl).Err()
}

// Release drops a claim so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
