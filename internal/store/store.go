// Package store implements keyz's concurrent in-memory key/value map:
// sharded locking, lazy + eager TTL expiration, and transparent
// gzip compression above a configurable threshold.
package store

import (
	"sync/atomic"
	"time"
)

// Options configures a Store at construction time. The zero value is
// valid: no compression and no default TTL.
type Options struct {
	// CompressionThreshold is the plaintext length, in bytes, at or
	// above which an inserted value is gzip-compressed. Zero (or a
	// negative value) disables compression.
	CompressionThreshold int
	// DefaultTTL is used for an Insert that specifies no TTL of its
	// own. Zero means inserted values have no expiration by default.
	DefaultTTL time.Duration
}

// Store is a concurrent map of key to value entry, safe for use from
// many goroutines at once. All mutation goes through its exported
// methods; none of them suspend, so no goroutine ever holds a shard
// lock across an I/O wait.
type Store struct {
	shards  []*shard
	opts    Options
	count   atomic.Int64
	compCnt atomic.Int64
	byteCnt atomic.Int64
}

// New builds an empty Store.
func New(opts Options) *Store {
	return &Store{
		shards: newShards(),
		opts:   opts,
	}
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[shardIndex(key)]
}

// Insert stores value under key, replacing any prior entry outright
// (the old entry's TTL is discarded along with its bytes). When ttl is
// zero, the store's configured DefaultTTL applies if any; a positive
// ttl always wins over the default.
func (s *Store) Insert(key string, value []byte, ttl time.Duration) error {
	effectiveTTL := ttl
	if effectiveTTL == 0 {
		effectiveTTL = s.opts.DefaultTTL
	}

	e := &entry{}
	if s.opts.CompressionThreshold > 0 && len(value) >= s.opts.CompressionThreshold {
		compressed, err := compress(value)
		if err != nil {
			return err
		}
		e.bytes = compressed
		e.compressed = true
	} else {
		// Copy: the store owns all value bytes for its lifetime; the
		// caller's slice is a transient borrowed buffer.
		e.bytes = append([]byte(nil), value...)
		e.compressed = false
	}

	if effectiveTTL > 0 {
		e.hasExpiry = true
		e.expiresAt = time.Now().Add(effectiveTTL)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	old, existed := sh.entries[key]
	sh.entries[key] = e
	sh.mu.Unlock()

	if existed {
		s.byteCnt.Add(-int64(len(old.bytes)))
		if old.compressed {
			s.compCnt.Add(-1)
		}
	} else {
		s.count.Add(1)
	}
	if e.compressed {
		s.compCnt.Add(1)
	}
	s.byteCnt.Add(int64(len(e.bytes)))
	return nil
}

// Get returns the plaintext bytes stored under key, or (nil, false) if
// the key is absent or expired. An expired entry is removed as a side
// effect of the lookup (lazy expiration).
func (s *Store) Get(key string) ([]byte, bool, error) {
	now := time.Now()
	sh := s.shardFor(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(now) {
		s.removeExpired(sh, key, e)
		return nil, false, nil
	}

	if !e.compressed {
		return e.bytes, true, nil
	}
	plaintext, err := decompress(e.bytes)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}

// Delete removes key, returning true if a live entry was removed.
// An already-expired entry is also removed, but reports false.
func (s *Store) Delete(key string) bool {
	now := time.Now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return false
	}
	delete(sh.entries, key)
	sh.mu.Unlock()

	s.accountForRemoval(e)

	if e.expired(now) {
		return false
	}
	return true
}

// ExpiresIn returns the seconds remaining before key expires. It
// returns (0, false) if the key is absent, already expired, or has no
// expiration at all.
func (s *Store) ExpiresIn(key string) (int64, bool) {
	now := time.Now()
	sh := s.shardFor(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if e.expired(now) {
		s.removeExpired(sh, key, e)
		return 0, false
	}
	if !e.hasExpiry {
		return 0, false
	}

	remaining := e.expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return int64(remaining.Round(time.Second) / time.Second), true
}

// removeExpired deletes e from sh under lock, but only if it is still
// the current entry for key — guards against a concurrent overwrite
// racing a lazy-expiration lookup.
func (s *Store) removeExpired(sh *shard, key string, e *entry) {
	sh.mu.Lock()
	cur, ok := sh.entries[key]
	removed := ok && cur == e
	if removed {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	if removed {
		s.accountForRemoval(e)
	}
}

func (s *Store) accountForRemoval(e *entry) {
	s.count.Add(-1)
	s.byteCnt.Add(-int64(len(e.bytes)))
	if e.compressed {
		s.compCnt.Add(-1)
	}
}

// Len reports the number of entries currently held in the store. It
// is diagnostic only and may include entries that have expired but
// not yet been swept.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Stats is the diagnostic snapshot returned by Store.Stats.
type Stats struct {
	Count           int64
	BytesInMemory   int64
	CompressedCount int64
}

// Stats returns a point-in-time snapshot of store occupancy.
func (s *Store) Stats() Stats {
	return Stats{
		Count:           s.count.Load(),
		BytesInMemory:   s.byteCnt.Load(),
		CompressedCount: s.compCnt.Load(),
	}
}

// IsCompressed reports whether the live entry for key is stored
// gzip-compressed. Used by tests to assert the one-shot compression
// decision without exposing it over the wire.
func (s *Store) IsCompressed(key string) (bool, bool) {
	now := time.Now()
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[key]
	if !ok || e.expired(now) {
		return false, false
	}
	return e.compressed, true
}

// sweepExpired removes every entry whose expiration has passed as of
// now. It is called by the background cleaner and once more during
// shutdown; it is safe to call concurrently with any other Store method.
func (s *Store) sweepExpired(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, key)
				removed++
				s.accountForRemoval(e)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
