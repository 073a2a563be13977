package core

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

const schemaFileName = "__schema.tdb"
const lockFileName = "__lock.tdb"

// arraySnapshot is one immutable, consistent view of an array's schema
// and open fragment set. Array swaps snapshots atomically so concurrent
// readers never observe a torn fragment list, grounded on diskstore.go's
// atomic.Pointer-based hot-swap of its in-memory directory.
type arraySnapshot struct {
	schema    *Schema
	fragments []*Fragment // sorted by TimestampLo ascending
}

// Array is an open handle to a schema plus its current fragment set. All
// reads go through Snapshot(), a lock-free pointer load; writes and
// Refresh publish a new snapshot with an atomic store (the last store
// wins) without blocking concurrent readers.
type Array struct {
	vfs     VFS
	uri     string
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	cache   *TileCache

	snap atomic.Pointer[arraySnapshot]
}

// CreateArray finalizes schema (if not already) and persists it as a
// new, empty array at uri. Fails if a schema already exists there.
func CreateArray(ctx context.Context, vfs VFS, uri string, schema *Schema) error {
	exists, err := vfs.Exists(ctx, uri+"/"+schemaFileName)
	if err != nil {
		return err
	}
	if exists {
		return errf(ErrSchema, nil, "array already exists at %s", uri)
	}
	if !schema.IsFinalized() {
		if err := schema.Finalize(); err != nil {
			return err
		}
	}
	data, err := schema.Serialize()
	if err != nil {
		return err
	}
	return vfs.WriteAppend(ctx, uri+"/"+schemaFileName, data)
}

// OpenArray loads an array's schema and currently-committed fragment
// set. logger and cfg may be nil/zero-value; sensible defaults apply.
func OpenArray(ctx context.Context, vfs VFS, uri string, cfg Config, logger *zap.Logger) (*Array, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := ReadAll(ctx, vfs, uri+"/"+schemaFileName)
	if err != nil {
		return nil, errf(ErrSchema, err, "open array %s: read schema", uri)
	}
	schema, err := DeserializeSchema(data)
	if err != nil {
		return nil, errf(ErrSchema, err, "open array %s: parse schema", uri)
	}

	a := &Array{vfs: vfs, uri: uri, cfg: cfg, logger: logger}
	if cfg.TileCacheBytes > 0 {
		cache, err := NewTileCache(cfg.TileCacheBytes)
		if err != nil {
			return nil, err
		}
		a.cache = cache
	}

	fragments, err := a.listFragments(ctx, schema)
	if err != nil {
		return nil, err
	}
	a.snap.Store(&arraySnapshot{schema: schema, fragments: fragments})
	return a, nil
}

// listFragments scans the array directory for committed fragments,
// silently skipping in-progress ones (no commit marker yet) rather than
// failing the whole open, and sorts the result by start timestamp.
func (a *Array) listFragments(ctx context.Context, schema *Schema) ([]*Fragment, error) {
	entries, err := a.vfs.Ls(ctx, a.uri)
	if err != nil {
		return nil, errf(ErrIO, err, "list array directory %s", a.uri)
	}
	var fragments []*Fragment
	for _, name := range entries {
		if !strings.HasPrefix(name, "__") || name == schemaFileName || name == lockFileName {
			continue
		}
		f, err := OpenFragment(ctx, a.vfs, a.uri, name, schema)
		if err != nil {
			a.logger.Debug("skipping incomplete fragment", zap.String("fragment", name), zap.Error(err))
			continue
		}
		fragments = append(fragments, f)
	}
	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].Meta.TimestampLo < fragments[j].Meta.TimestampLo
	})
	return fragments, nil
}

// Snapshot returns the array's current schema and open fragment set. The
// returned slice must be treated as read-only.
func (a *Array) Snapshot() (*Schema, []*Fragment) {
	s := a.snap.Load()
	return s.schema, s.fragments
}

// Refresh re-lists fragments and atomically publishes a new snapshot,
// picking up fragments committed by other writers since Open/the last
// Refresh.
func (a *Array) Refresh(ctx context.Context) error {
	schema, _ := a.Snapshot()
	fragments, err := a.listFragments(ctx, schema)
	if err != nil {
		return err
	}
	a.snap.Store(&arraySnapshot{schema: schema, fragments: fragments})
	return nil
}

// AddFragment publishes a newly committed fragment into the live
// snapshot without a full directory re-list, used by writers that
// already know exactly what they just committed.
func (a *Array) AddFragment(ctx context.Context, fragURI string) error {
	schema, fragments := a.Snapshot()
	f, err := OpenFragment(ctx, a.vfs, a.uri, fragURI, schema)
	if err != nil {
		return err
	}
	next := append(append([]*Fragment(nil), fragments...), f)
	sort.Slice(next, func(i, j int) bool { return next[i].Meta.TimestampLo < next[j].Meta.TimestampLo })
	a.snap.Store(&arraySnapshot{schema: schema, fragments: next})
	if a.metrics != nil {
		a.metrics.FragmentsOpened.Inc()
	}
	a.logger.Info("fragment committed", fieldsForFragment(a.uri, fragURI)...)
	return nil
}

// SetMetrics attaches a Metrics instance observed by subsequent
// operations.
func (a *Array) SetMetrics(m *Metrics) { a.metrics = m }

// URI returns the array's storage location.
func (a *Array) URI() string { return a.uri }

// Close releases resources (the tile cache's background goroutines).
func (a *Array) Close() error {
	if a.cache != nil {
		a.cache.Close()
	}
	return nil
}
