// Package cache stores finished answers keyed by a fingerprint of the
// question and the schema version, so a repeated question skips the whole
// generation loop while the schema is unchanged.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Entry is one cached pipeline outcome.
type Entry struct {
	Answer        string    `json:"answer"`
	SQL           string    `json:"sql"`
	Columns       []string  `json:"columns"`
	Rows          [][]any   `json:"rows"`
	Truncated     bool      `json:"truncated"`
	SchemaVersion string    `json:"schema_version"`
	Attempts      int       `json:"attempts"`
	Degraded      bool      `json:"degraded"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the answer cache. Get returns ok=false on a miss; a failing
// backend must degrade to a miss rather than an error surfaced to callers.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, entry Entry)
}

// Fingerprint derives the cache key. The question is lowercased and has its
// whitespace collapsed so trivial rephrasings share an entry; the schema
// version and config epoch are mixed in so either changing invalidates every
// prior answer.
func Fingerprint(question, schemaVersion, configEpoch string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + schemaVersion + "|" + configEpoch))
	return hex.EncodeToString(sum[:])
}

// Noop is the disabled cache.
type Noop struct{}

func (Noop) Get(context.Context, string) (Entry, bool) { return Entry{}, false }
func (Noop) Put(context.Context, string, Entry)        {}
