package schema

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iriajul/LLM-model/internal/observability"
)

// Introspector loads the table structure of one schema from the database.
type Introspector interface {
	Introspect(ctx context.Context, schemaName string) ([]Table, error)
}

// Catalog caches the current Snapshot process-wide. Readers load it without
// locking; refreshes are serialized and publish a complete snapshot with an
// atomic swap, so a reader sees either the old or the new one, never a mix.
type Catalog struct {
	introspector Introspector
	schemaName   string
	staleAfter   time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewCatalog(introspector Introspector, schemaName string, staleAfter time.Duration, logger *slog.Logger) *Catalog {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		introspector: introspector,
		schemaName:   schemaName,
		staleAfter:   staleAfter,
		logger:       logger,
		now:          time.Now,
	}
}

// Fetch returns the cached snapshot when it is fresh enough, otherwise
// refreshes from the database. A schema with zero tables is a FetchError,
// not an empty snapshot.
func (c *Catalog) Fetch(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if snap := c.current.Load(); snap != nil && c.fresh(snap) {
			return snap, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !force {
		if snap := c.current.Load(); snap != nil && c.fresh(snap) {
			return snap, nil
		}
	}

	tables, err := c.introspector.Introspect(ctx, c.schemaName)
	if err != nil {
		return nil, &FetchError{Schema: c.schemaName, Err: err}
	}
	if len(tables) == 0 {
		return nil, &FetchError{Schema: c.schemaName, Err: errors.New("schema has no tables")}
	}

	snap := NewSnapshot(c.schemaName, tables, c.now())
	c.current.Store(snap)
	observability.IncrementSchemaRefresh()
	c.logger.InfoContext(ctx, "schema snapshot refreshed",
		slog.String("schema", c.schemaName),
		slog.String("version", snap.Version),
		slog.Int("tables", len(snap.Tables)),
	)
	return snap, nil
}

// Current returns the cached snapshot without refreshing. Nil before the
// first successful Fetch.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

func (c *Catalog) fresh(snap *Snapshot) bool {
	return c.now().Sub(snap.FetchedAt) < c.staleAfter
}
