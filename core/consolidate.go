package core

import (
	"context"

	"github.com/schollz/progressbar/v3"
)

// Consolidator merges a set of a single array's fragments into one new
// fragment, grounded on pmtiles/cluster.go's single-pass rewrite and
// pmtiles/merge.go's newest-wins disjoint-entry merge, generalized from
// PMTiles' flat tile-ID space to TileDB-style coordinate dedup across
// overlapping fragment MBRs.
type Consolidator struct {
	vfs      VFS
	arrayURI string
	schema   *Schema
	progress bool
}

func NewConsolidator(vfs VFS, arrayURI string, schema *Schema) *Consolidator {
	return &Consolidator{vfs: vfs, arrayURI: arrayURI, schema: schema}
}

// ShowProgress enables a progressbar/v3 indicator during Consolidate,
// matching pmtiles/cluster.go's Cluster() UX for long-running rewrites.
func (c *Consolidator) ShowProgress(v bool) { c.progress = v }

// Consolidate rewrites fragments into a single new fragment spanning
// their combined timestamp range, and returns its directory name. It
// does not delete the input fragments; Vacuum does that once no open
// array snapshot can still reference them.
func (c *Consolidator) Consolidate(ctx context.Context, fragments []*Fragment) (string, error) {
	if len(fragments) < 2 {
		return "", errf(ErrBookkeeping, nil, "consolidation requires at least two fragments")
	}
	tLo, tHi := fragments[0].Meta.TimestampLo, fragments[0].Meta.TimestampHi
	for _, f := range fragments[1:] {
		if f.Meta.TimestampLo < tLo {
			tLo = f.Meta.TimestampLo
		}
		if f.Meta.TimestampHi > tHi {
			tHi = f.Meta.TimestampHi
		}
	}

	if c.schema.ArrayType() == Sparse {
		return c.consolidateSparse(ctx, fragments, tLo, tHi)
	}
	return c.consolidateDense(ctx, fragments, tLo, tHi)
}

func (c *Consolidator) consolidateSparse(ctx context.Context, fragments []*Fragment, tLo, tHi uint64) (string, error) {
	dm := c.schema.Domain()
	lo, hi := domainBounds(dm)

	attrNames := make([]string, 0, len(c.schema.Attributes()))
	for _, a := range c.schema.Attributes() {
		attrNames = append(attrNames, a.Name())
	}

	reader := NewSparseReader(c.vfs, c.schema, fragments)
	coords, attrs, err := reader.Read(ctx, lo, hi, nil, attrNames)
	if err != nil {
		return "", errf(ErrBookkeeping, err, "consolidation: read merged cells")
	}

	var bar *progressbar.ProgressBar
	if c.progress {
		n := 0
		if len(dm.Dimensions()) > 0 {
			n = len(coords[dm.Dimension(0).Name()].Data) / dm.Dimension(0).datatype.ByteWidth()
		}
		bar = progressbar.Default(int64(n))
	}

	w := NewFragmentWriter(c.vfs, c.arrayURI, c.schema, tHi)
	w.tLo = tLo
	if err := w.WriteSparseCells(ctx, coords, attrs, GlobalOrder); err != nil {
		return "", errf(ErrBookkeeping, err, "consolidation: write merged fragment")
	}
	if bar != nil {
		bar.Finish()
	}
	w.meta.TimestampLo, w.meta.TimestampHi = tLo, tHi
	return w.Commit(ctx)
}

func (c *Consolidator) consolidateDense(ctx context.Context, fragments []*Fragment, tLo, tHi uint64) (string, error) {
	dm := c.schema.Domain()
	lo, hi := domainBounds(dm)

	attrNames := make([]string, 0, len(c.schema.Attributes()))
	for _, a := range c.schema.Attributes() {
		attrNames = append(attrNames, a.Name())
	}

	reader := NewDenseReader(c.vfs, c.schema, fragments)
	merged, err := reader.Read(ctx, lo, hi, nil, attrNames)
	if err != nil {
		return "", errf(ErrBookkeeping, err, "consolidation: read merged domain")
	}

	w := NewFragmentWriter(c.vfs, c.arrayURI, c.schema, tHi)
	w.tLo = tLo
	if err := w.WriteDenseCells(ctx, lo, hi, merged); err != nil {
		return "", errf(ErrBookkeeping, err, "consolidation: write merged fragment")
	}
	w.meta.TimestampLo, w.meta.TimestampHi = tLo, tHi
	return w.Commit(ctx)
}

func domainBounds(dm *Domain) ([]int64, []int64) {
	lo := make([]int64, dm.NumDimensions())
	hi := make([]int64, dm.NumDimensions())
	for i, d := range dm.Dimensions() {
		if d.IsString() {
			continue
		}
		lo[i] = dimValueInt64(d.datatype, d.lo)
		hi[i] = dimValueInt64(d.datatype, d.hi)
	}
	return lo, hi
}
