package core

import "context"

// DenseReader answers dense subarray reads by walking the subarray's
// tile decomposition (DenseCellRangeIter) and, per tile, taking the
// newest fragment that covers it — later writes fully shadow earlier
// ones at tile granularity, matching spec.md §4.7's overwrite
// semantics. Tiles never written by any open fragment read back as the
// attribute's fill value.
type DenseReader struct {
	vfs       VFS
	schema    *Schema
	fragments []*Fragment // oldest first; Read scans newest-to-oldest
	tileCache map[tileCacheKey][]byte
	shared    *TileCache // optional process-wide cache, set via SetCache
}

// SetCache attaches a process-wide TileCache consulted before any VFS
// read; it survives across Read calls, unlike the per-call tileCache map.
func (r *DenseReader) SetCache(c *TileCache) { r.shared = c }

type tileCacheKey struct {
	fragURI string
	attr    string
	pos     int
}

func NewDenseReader(vfs VFS, schema *Schema, fragments []*Fragment) *DenseReader {
	return &DenseReader{vfs: vfs, schema: schema, fragments: fragments, tileCache: make(map[tileCacheKey][]byte)}
}

// denseCellValues adapts a materialized dense result buffer (plus
// whatever extra condition-only attributes were pulled in alongside
// it) to the CellValues interface QueryCondition.Eval expects.
type denseCellValues struct {
	schema *Schema
	out    map[string]*CellBuffer
}

func (cv *denseCellValues) Datatype(field string) Datatype {
	if a := cv.schema.AttributeByName(field); a != nil {
		return a.Datatype()
	}
	return cv.schema.Domain().DimensionByName(field).Datatype()
}

func (cv *denseCellValues) Value(field string, cell int) ([]byte, bool) {
	a := cv.schema.AttributeByName(field)
	cb := cv.out[field]
	if cb.Validity != nil && cb.Validity[cell] == 0 {
		return nil, false
	}
	width := a.datatype.ByteWidth()
	return cb.Data[cell*width : (cell+1)*width], true
}

// Read materializes the subarray [lo,hi] for the named attributes,
// fixed-width attributes only (the reader's counterpart to
// FragmentWriter.WriteDenseCells's tile-aligned simplification: var-
// length dense attributes are out of scope here, recorded in
// DESIGN.md). If cond is non-nil, it's evaluated per cell (pulling in
// whichever of its referenced attributes weren't already requested)
// and failing cells are zero-filled back to the attribute's fill value
// (validity 0, if nullable), per spec.md §4.7.
func (r *DenseReader) Read(ctx context.Context, lo, hi []int64, cond *QueryCondition, attrNames []string) (map[string]*CellBuffer, error) {
	dm := r.schema.Domain()
	if len(lo) != dm.NumDimensions() || len(hi) != dm.NumDimensions() {
		return nil, errf(ErrQuery, nil, "subarray bounds must have one pair per dimension")
	}
	if cond != nil {
		if err := cond.Validate(r.schema); err != nil {
			return nil, err
		}
	}
	subShape := make([]uint64, dm.NumDimensions())
	n := 1
	for i := range lo {
		if lo[i] > hi[i] {
			return nil, errf(ErrQuery, nil, "dimension %d: lo > hi", i)
		}
		subShape[i] = uint64(hi[i]-lo[i]) + 1
		n *= int(subShape[i])
	}

	needed := map[string]bool{}
	for _, name := range attrNames {
		needed[name] = true
	}
	if cond != nil {
		for _, f := range cond.Fields() {
			if r.schema.AttributeByName(f) != nil {
				needed[f] = true
			}
		}
	}

	out := make(map[string]*CellBuffer, len(needed))
	attrs := make(map[string]*Attribute, len(needed))
	for name := range needed {
		a := r.schema.AttributeByName(name)
		if a == nil {
			return nil, errf(ErrQuery, nil, "unknown attribute %q", name)
		}
		if a.IsVar() {
			return nil, errf(ErrQuery, nil, "attribute %q: variable-length dense reads are not supported", name)
		}
		attrs[name] = a
		width := a.datatype.ByteWidth()
		buf := make([]byte, n*width)
		fill := a.FillValue()
		for c := 0; c < n; c++ {
			copy(buf[c*width:(c+1)*width], fill)
		}
		cb := &CellBuffer{Data: buf}
		if a.Nullable() {
			cb.Validity = make([]byte, n) // fill-initialized cells start out null
		}
		out[name] = cb
	}

	order := r.schema.CellOrder()
	tileOrder := r.schema.TileOrder()
	iter, err := NewDenseCellRangeIter(dm, lo, hi, order)
	if err != nil {
		return nil, err
	}
	for {
		rng, ok := iter.Next()
		if !ok {
			break
		}
		linear := dm.TileLinearIndex(rng.TileCoords, tileOrder)
		frag, pos := r.newestFragmentCovering(linear, rng.TileCoords, dm)

		for name, a := range attrs {
			width := a.datatype.ByteWidth()
			dst := out[name].Data
			dstOff := int(gridLinearIndex(subCoordsOf(rng.StartCoords, lo), subShape, order)) * width

			if frag == nil {
				continue // already fill-initialized (and null, if nullable)
			}
			tileData, err := r.loadTile(ctx, frag, name, pos, a)
			if err != nil {
				return nil, err
			}
			tileShape := tileShapeOf(dm, rng.TileCoords)
			localStart := make([]uint64, dm.NumDimensions())
			for i, d := range dm.Dimensions() {
				tLo := tileStartCoord(d, rng.TileCoords[i])
				localStart[i] = uint64(rng.StartCoords[i] - tLo)
			}
			srcOff := int(gridLinearIndex(localStart, tileShape, order)) * width
			copy(dst[dstOff:dstOff+int(rng.Length)*width], tileData[srcOff:srcOff+int(rng.Length)*width])

			if a.Nullable() {
				validityData, err := r.loadValidityTile(ctx, frag, a, pos)
				if err != nil {
					return nil, err
				}
				dstCellOff := dstOff / width
				srcCellOff := srcOff / width
				copy(out[name].Validity[dstCellOff:dstCellOff+int(rng.Length)], validityData[srcCellOff:srcCellOff+int(rng.Length)])
			}
		}
	}

	if cond != nil {
		cv := &denseCellValues{schema: r.schema, out: out}
		for c := 0; c < n; c++ {
			if cond.Eval(cv, c) {
				continue
			}
			for name, a := range attrs {
				width := a.datatype.ByteWidth()
				cb := out[name]
				copy(cb.Data[c*width:(c+1)*width], a.FillValue())
				if cb.Validity != nil {
					cb.Validity[c] = 0
				}
			}
		}
	}

	result := make(map[string]*CellBuffer, len(attrNames))
	for _, name := range attrNames {
		result[name] = out[name]
	}
	return result, nil
}

func subCoordsOf(start, lo []int64) []uint64 {
	out := make([]uint64, len(start))
	for i := range start {
		out[i] = uint64(start[i] - lo[i])
	}
	return out
}

func tileShapeOf(dm *Domain, tileCoords []uint64) []uint64 {
	shape := make([]uint64, dm.NumDimensions())
	for i, d := range dm.Dimensions() {
		lo := tileStartCoord(d, tileCoords[i])
		hi := tileEndCoord(d, tileCoords[i])
		domHi := dimValueInt64(d.datatype, d.hi)
		if hi > domHi {
			hi = domHi
		}
		shape[i] = uint64(hi-lo) + 1
	}
	return shape
}

// newestFragmentCovering finds the most recently written fragment whose
// dense coverage includes tileCoords, and that tile's position within
// the fragment's per-attribute Tiles slices.
func (r *DenseReader) newestFragmentCovering(linear uint64, tileCoords []uint64, dm *Domain) (*Fragment, int) {
	for i := len(r.fragments) - 1; i >= 0; i-- {
		f := r.fragments[i]
		if f.Meta.Sparse || f.Meta.DenseLo == nil {
			continue
		}
		covered := true
		for d, tc := range tileCoords {
			tLo := tileStartCoord(dm.Dimension(d), tc)
			tHi := tileEndCoord(dm.Dimension(d), tc)
			if tHi < f.Meta.DenseLo[d] || tLo > f.Meta.DenseHi[d] {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		for pos, l := range f.Meta.DenseTileOrder {
			if l == linear {
				return f, pos
			}
		}
	}
	return nil, -1
}

func (r *DenseReader) loadTile(ctx context.Context, f *Fragment, attrName string, pos int, a *Attribute) ([]byte, error) {
	return r.loadRawTile(ctx, f, attrName, pos, a.datatype, a.Filters())
}

// loadValidityTile reads a nullable attribute's companion validity
// tile, which (like sparsereader.go's readTile) is written through an
// empty filter list regardless of the attribute's own compression.
func (r *DenseReader) loadValidityTile(ctx context.Context, f *Fragment, a *Attribute, pos int) ([]byte, error) {
	return r.loadRawTile(ctx, f, validityTileName(a), pos, Uint8, NewFilterList())
}

func (r *DenseReader) loadRawTile(ctx context.Context, f *Fragment, name string, pos int, dt Datatype, filters *FilterList) ([]byte, error) {
	key := tileCacheKey{fragURI: f.URI, attr: name, pos: pos}
	if cached, ok := r.tileCache[key]; ok {
		return cached, nil
	}
	if r.shared != nil {
		if cached, ok := r.shared.Get(f.URI, name, pos); ok {
			r.tileCache[key] = cached
			return cached, nil
		}
	}
	infos := f.Meta.Tiles[name]
	if pos < 0 || pos >= len(infos) {
		return nil, errf(ErrBookkeeping, nil, "fragment %s: no tile bookkeeping for %q at position %d", f.URI, name, pos)
	}
	info := infos[pos]
	fileName := f.Dir + "/" + name + ".tdb"
	raw := make([]byte, info.Size)
	if _, err := r.vfs.Read(ctx, fileName, info.Offset, raw); err != nil {
		return nil, err
	}
	decoded, err := filters.Unapply(dt, raw)
	if err != nil {
		return nil, err
	}
	r.tileCache[key] = decoded
	if r.shared != nil {
		r.shared.Set(f.URI, name, pos, decoded)
	}
	return decoded, nil
}
