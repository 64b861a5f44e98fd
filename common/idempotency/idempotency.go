package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/careforall/donation-platform/common/cache"
)

// ErrNotFound is returned by Records when a key has no stored response.
var ErrNotFound = errors.New("idempotency record not found")

// Response is the stored outcome of the first request with a key. A
// replay returns it byte-for-byte.
type Response struct {
	Body   []byte `json:"body"`
	Status int    `json:"status"`
}

// Cache is the L1 hot layer (sub-10ms lookups, TTL eviction).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Records is the L2 persistent layer, authoritative across restarts.
type Records interface {
	Find(ctx context.Context, key string) (*Response, error)
	// Insert stores the response; a conflicting insert for the same key
	// must be tolerated silently (another concurrent handler won).
	Insert(ctx context.Context, key string, resp Response, expiresAt time.Time) error
}

// Store is the dual-layer idempotency store: L1 cache in front of the
// persistent records table.
type Store struct {
	prefix  string
	cache   Cache
	records Records
	ttl     time.Duration
	hits    func(layer string)
}

// NewStore builds a Store. prefix namespaces the cache keys (for
// example "idem:" or "transfer:"). onHit, if non-nil, is invoked with
// "cache" or "database" on replay hits.
func NewStore(prefix string, c Cache, r Records, ttl time.Duration, onHit func(layer string)) *Store {
	if onHit == nil {
		onHit = func(string) {}
	}
	return &Store{prefix: prefix, cache: c, records: r, ttl: ttl, hits: onHit}
}

// DeriveKey returns the client-supplied key, or the SHA-256 hex of the
// raw body when the header is absent. Hashing the body (never the
// clock) keeps genuine retries on the same key.
func DeriveKey(headerValue string, body []byte) string {
	if headerValue != "" {
		return headerValue
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Check looks the key up in L1 then L2. An L2 hit warms L1. A miss in
// both layers returns (nil, nil). L1 failures degrade to L2.
func (s *Store) Check(ctx context.Context, key string) (*Response, error) {
	data, err := s.cache.Get(ctx, s.prefix+key)
	if err == nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			s.hits("cache")
			return &resp, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		// Cache down: fall through to the persistent layer.
	}

	resp, err := s.records.Find(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	s.hits("database")
	s.warm(ctx, key, *resp)
	return resp, nil
}

// Save persists the response to L1 then L2. The L2 insert conflict is
// tolerated; a failed L1 write never fails the request.
func (s *Store) Save(ctx context.Context, key string, resp Response) error {
	s.warm(ctx, key, resp)

	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.records.Insert(ctx, key, resp, expiresAt); err != nil {
		return fmt.Errorf("idempotency save failed: %w", err)
	}
	return nil
}

func (s *Store) warm(ctx context.Context, key string, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	// Best effort only.
	_ = s.cache.Set(ctx, s.prefix+key, data, s.ttl)
}
