package store

import "time"

// entry is one stored value record: the payload (verbatim or
// gzip-compressed), the compression flag, and an optional absolute
// expiration. Entries are immutable once built — overwrite always
// replaces the whole record, never mutates it in place, so a reader
// that loaded a *entry pointer never observes a torn write.
type entry struct {
	bytes      []byte
	compressed bool
	expiresAt  time.Time
	hasExpiry  bool
}

func (e *entry) expired(now time.Time) bool {
	return e.hasExpiry && !e.expiresAt.After(now)
}
