package core

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// sparseCellValues adapts one materialized coord+attribute tile set to
// the CellValues interface QueryCondition.Eval expects.
type sparseCellValues struct {
	dm       *Domain
	perDim   [][][]byte // [dimIndex][cellIndex] -> raw coordinate bytes
	attrData map[string]*decodedAttr
}

type decodedAttr struct {
	dt       Datatype
	fixed    bool
	width    int
	data     []byte
	offsets  []uint64
	validity []byte
}

func (cv *sparseCellValues) Datatype(field string) Datatype {
	if d := cv.dm.DimensionByName(field); d != nil {
		return d.Datatype()
	}
	return cv.attrData[field].dt
}

func (cv *sparseCellValues) Value(field string, cell int) ([]byte, bool) {
	if d := cv.dm.DimensionByName(field); d != nil {
		for i, dd := range cv.dm.Dimensions() {
			if dd == d {
				return cv.perDim[i][cell], true
			}
		}
	}
	a := cv.attrData[field]
	if a.validity != nil && a.validity[cell] == 0 {
		return nil, false
	}
	if a.fixed {
		return a.data[cell*a.width : (cell+1)*a.width], true
	}
	start := uint64(0)
	if cell > 0 {
		start = a.offsets[cell-1]
	}
	return a.data[start:a.offsets[cell]], true
}

// sparseCell is one surviving result cell, flattened out of its source
// tile so dedup/sort/output can operate without holding the whole tile
// set alive.
type sparseCell struct {
	coordBytes []byte // concatenated fixed-width dim values, for dedup key / sort; string dims handled via rawCoords
	rawCoords  [][]byte
	fragIdx    int
	attrs      map[string][]byte
	validity   map[string]bool
}

// SparseReader answers sparse subarray reads by scanning each
// fragment's coord tiles whose MBR overlaps the query range, filtering
// qualifying cells with a RoaringBitmap (grounded on pmtiles/bitmap.go's
// role as a compact matched-position set), evaluating the query
// condition per surviving cell, and deduplicating/overwriting by
// fragment recency when the schema disallows duplicate coordinates.
type SparseReader struct {
	vfs       VFS
	schema    *Schema
	fragments []*Fragment // oldest first
	shared    *TileCache  // optional process-wide cache, set via SetCache
}

func NewSparseReader(vfs VFS, schema *Schema, fragments []*Fragment) *SparseReader {
	return &SparseReader{vfs: vfs, schema: schema, fragments: fragments}
}

// SetCache attaches a process-wide TileCache consulted before any VFS
// read, the same cache a DenseReader over the same Array can share.
func (r *SparseReader) SetCache(c *TileCache) { r.shared = c }

// Read returns coordinate buffers (one per dimension) and attribute
// buffers (one per requested name) for all cells in [lo,hi] (per-
// dimension inclusive ranges) that satisfy cond (nil for none), sorted
// by coordinates in row-major order, or column-major when the schema's
// cell order is COL_MAJOR (other cell orders also sort row-major).
func (r *SparseReader) Read(ctx context.Context, lo, hi []int64, cond *QueryCondition, attrNames []string) (map[string]*CellBuffer, map[string]*CellBuffer, error) {
	dm := r.schema.Domain()
	if len(lo) != dm.NumDimensions() || len(hi) != dm.NumDimensions() {
		return nil, nil, errf(ErrQuery, nil, "subarray bounds must have one pair per dimension")
	}
	if cond != nil {
		if err := cond.Validate(r.schema); err != nil {
			return nil, nil, err
		}
	}

	needed := map[string]bool{}
	for _, n := range attrNames {
		needed[n] = true
	}
	if cond != nil {
		for _, f := range cond.Fields() {
			needed[f] = true
		}
	}

	byKey := make(map[string]*sparseCell)
	var order []string

	for fragIdx, f := range r.fragments {
		if !f.Meta.Sparse {
			continue
		}
		for tilePos, mbr := range f.Meta.MBRs {
			if !mbrOverlaps(dm, mbr, lo, hi) {
				continue
			}
			cells, err := r.scanTile(ctx, dm, f, tilePos, needed, lo, hi, cond)
			if err != nil {
				return nil, nil, err
			}
			for _, c := range cells {
				c.fragIdx = fragIdx
				key := string(c.coordBytes)
				if !r.schema.AllowsDups() {
					if _, exists := byKey[key]; !exists {
						order = append(order, key)
					}
					byKey[key] = c // later fragment overwrites earlier (fragments scanned oldest-first)
				} else {
					key = key + "#" + uniqueSuffix(len(order))
					order = append(order, key)
					byKey[key] = c
				}
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		return compareSparseCells(dm, r.schema.CellOrder(), byKey[order[i]], byKey[order[j]]) < 0
	})

	return r.assembleOutput(dm, order, byKey, attrNames)
}

func uniqueSuffix(n int) string {
	b := make([]byte, 0, 12)
	for n > 0 || len(b) == 0 {
		b = append(b, byte('a'+n%26))
		n /= 26
	}
	return string(b)
}

func mbrOverlaps(dm *Domain, mbr MBR, lo, hi []int64) bool {
	for i, d := range dm.Dimensions() {
		if d.IsString() {
			continue // string-dimension range filtering happens per-cell
		}
		loBytes := make([]byte, d.datatype.ByteWidth())
		putLE(loBytes, lo[i], d.datatype)
		hiBytes := make([]byte, d.datatype.ByteWidth())
		putLE(hiBytes, hi[i], d.datatype)
		if CompareValues(d.datatype, mbr.Hi[i], loBytes) < 0 || CompareValues(d.datatype, mbr.Lo[i], hiBytes) > 0 {
			return false
		}
	}
	return true
}

func putLE(buf []byte, v int64, dt Datatype) {
	if dt.IsSigned() {
		putIntLE(buf, v, len(buf))
	} else {
		putUintLE(buf, uint64(v), len(buf))
	}
}

// scanTile decodes one coord tile (plus the needed attribute tiles) and
// returns the cells whose coordinates fall in [lo,hi] and that satisfy
// cond, selected via a RoaringBitmap over local cell positions.
func (r *SparseReader) scanTile(ctx context.Context, dm *Domain, f *Fragment, tilePos int, needed map[string]bool, lo, hi []int64, cond *QueryCondition) ([]*sparseCell, error) {
	coordsRaw, err := r.readTile(ctx, f, CoordsAttributeName, tilePos, Uint8)
	if err != nil {
		return nil, err
	}
	perDim, numCells, err := unzipCoords(dm, coordsRaw)
	if err != nil {
		return nil, err
	}

	decoded := make(map[string]*decodedAttr, len(needed))
	for name := range needed {
		a := r.schema.AttributeByName(name)
		if a == nil {
			continue
		}
		raw, err := r.readTile(ctx, f, name, tilePos, a.datatype)
		if err != nil {
			return nil, err
		}
		da := splitAttrTile(a, raw, numCells)
		if a.Nullable() {
			vraw, err := r.readTile(ctx, f, validityTileName(a), tilePos, Uint8)
			if err != nil {
				return nil, err
			}
			da.validity = vraw
		}
		decoded[name] = da
	}

	bm := roaring.New()
	for i := 0; i < numCells; i++ {
		if !cellInRange(dm, perDim, i, lo, hi) {
			continue
		}
		bm.Add(uint32(i))
	}

	cv := &sparseCellValues{dm: dm, perDim: perDim, attrData: decoded}
	var out []*sparseCell
	it := bm.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if cond != nil && !cond.Eval(cv, i) {
			continue
		}
		c := &sparseCell{attrs: map[string][]byte{}, validity: map[string]bool{}}
		c.rawCoords = make([][]byte, dm.NumDimensions())
		keyBuf := NewBuffer(dm.CoordsSize())
		for d := range perDim {
			c.rawCoords[d] = perDim[d][i]
			keyBuf.WriteBytes(perDim[d][i])
		}
		c.coordBytes = keyBuf.Bytes()
		for name := range decoded {
			v, valid := cv.Value(name, i)
			c.attrs[name] = v
			c.validity[name] = valid
		}
		out = append(out, c)
	}
	return out, nil
}

func cellInRange(dm *Domain, perDim [][][]byte, cell int, lo, hi []int64) bool {
	for d, dim := range dm.Dimensions() {
		if dim.IsString() {
			continue
		}
		loB := make([]byte, dim.datatype.ByteWidth())
		putLE(loB, lo[d], dim.datatype)
		hiB := make([]byte, dim.datatype.ByteWidth())
		putLE(hiB, hi[d], dim.datatype)
		v := perDim[d][cell]
		if CompareValues(dim.datatype, v, loB) < 0 || CompareValues(dim.datatype, v, hiB) > 0 {
			return false
		}
	}
	return true
}

// unzipCoords splits a sparse coords tile's raw zipped bytes into one
// slice-of-cell-values per dimension. Fixed-width dimensions decode at
// a known stride; a string dimension's value is length-prefixed (a u32
// written by writeSparseTile), so a domain with any string dimension
// decodes by walking records until raw is exhausted rather than
// dividing by a fixed cell size.
func unzipCoords(dm *Domain, raw []byte) ([][][]byte, int, error) {
	dims := dm.Dimensions()
	var perDim [][][]byte
	numCells := 0

	if !dm.HasVarLengthDimension() {
		cellSize := dm.CoordsSize()
		if cellSize == 0 || len(raw)%cellSize != 0 {
			return nil, 0, errf(ErrCodec, nil, "coords tile size %d is not a multiple of cell size %d", len(raw), cellSize)
		}
		numCells = len(raw) / cellSize
		perDim = make([][][]byte, len(dims))
		for d := range perDim {
			perDim[d] = make([][]byte, numCells)
		}
		for i := 0; i < numCells; i++ {
			off := i * cellSize
			for d, dim := range dims {
				w := dim.datatype.ByteWidth()
				perDim[d][i] = raw[off : off+w]
				off += w
			}
		}
		return perDim, numCells, nil
	}

	perDim = make([][][]byte, len(dims))
	off := 0
	for off < len(raw) {
		for d, dim := range dims {
			if dim.IsString() {
				if off+4 > len(raw) {
					return nil, 0, errf(ErrCodec, nil, "coords tile: truncated string-dimension length prefix")
				}
				n := int(binary.LittleEndian.Uint32(raw[off : off+4]))
				off += 4
				if off+n > len(raw) {
					return nil, 0, errf(ErrCodec, nil, "coords tile: truncated string-dimension value")
				}
				perDim[d] = append(perDim[d], raw[off:off+n])
				off += n
			} else {
				w := dim.datatype.ByteWidth()
				if off+w > len(raw) {
					return nil, 0, errf(ErrCodec, nil, "coords tile: truncated fixed-width coordinate")
				}
				perDim[d] = append(perDim[d], raw[off:off+w])
				off += w
			}
		}
		numCells++
	}
	return perDim, numCells, nil
}

func splitAttrTile(a *Attribute, raw []byte, numCells int) *decodedAttr {
	if !a.IsVar() {
		w := a.datatype.ByteWidth()
		return &decodedAttr{dt: a.datatype, fixed: true, width: w, data: raw}
	}
	// Variable-length attribute tiles are stored as a fixed-width offsets
	// prefix followed by the packed value bytes (SPEC_FULL.md §4.2).
	c := NewConstBuffer(raw)
	offsets := make([]uint64, numCells)
	for i := range offsets {
		v, _ := c.ReadUint64()
		offsets[i] = v
	}
	data := raw[c.Pos():]
	return &decodedAttr{dt: a.datatype, fixed: false, offsets: offsets, data: data}
}

func (r *SparseReader) readTile(ctx context.Context, f *Fragment, name string, pos int, dt Datatype) ([]byte, error) {
	if r.shared != nil {
		if cached, ok := r.shared.Get(f.URI, name, pos); ok {
			return cached, nil
		}
	}
	infos := f.Meta.Tiles[name]
	if pos < 0 || pos >= len(infos) {
		return nil, errf(ErrBookkeeping, nil, "fragment %s: no tile for %q at position %d", f.URI, name, pos)
	}
	info := infos[pos]
	fileName := f.Dir + "/" + name + ".tdb"
	raw := make([]byte, info.Size)
	if _, err := r.vfs.Read(ctx, fileName, info.Offset, raw); err != nil {
		return nil, err
	}
	var filters *FilterList
	if name == CoordsAttributeName {
		filters = NewFilterList()
	} else if a := r.schema.AttributeByName(name); a != nil {
		filters = a.Filters()
	} else {
		filters = NewFilterList()
	}
	decoded, err := filters.Unapply(dt, raw)
	if err != nil {
		return nil, err
	}
	if r.shared != nil {
		r.shared.Set(f.URI, name, pos, decoded)
	}
	return decoded, nil
}

func compareSparseCells(dm *Domain, order CellOrder, a, b *sparseCell) int {
	dims := dm.Dimensions()
	if order == ColMajor {
		for k := len(dims) - 1; k >= 0; k-- {
			if c := CompareValues(dims[k].datatype, a.rawCoords[k], b.rawCoords[k]); c != 0 {
				return c
			}
		}
		return 0
	}
	for k := range dims {
		if c := CompareValues(dims[k].datatype, a.rawCoords[k], b.rawCoords[k]); c != 0 {
			return c
		}
	}
	return 0
}

func (r *SparseReader) assembleOutput(dm *Domain, order []string, byKey map[string]*sparseCell, attrNames []string) (map[string]*CellBuffer, map[string]*CellBuffer, error) {
	n := len(order)
	coordsOut := make(map[string]*CellBuffer, dm.NumDimensions())
	for _, d := range dm.Dimensions() {
		coordsOut[d.Name()] = &CellBuffer{Data: make([]byte, 0, n*d.datatype.ByteWidth())}
	}
	attrsOut := make(map[string]*CellBuffer, len(attrNames))
	for _, name := range attrNames {
		attrsOut[name] = &CellBuffer{}
	}

	for _, key := range order {
		c := byKey[key]
		for d, dim := range dm.Dimensions() {
			cb := coordsOut[dim.Name()]
			cb.Data = append(cb.Data, c.rawCoords[d]...)
		}
		for _, name := range attrNames {
			cb := attrsOut[name]
			v := c.attrs[name]
			a := r.schema.AttributeByName(name)
			if a != nil && a.IsVar() {
				cb.Offsets = append(cb.Offsets, uint64(len(cb.Data)+len(v)))
			}
			cb.Data = append(cb.Data, v...)
			if a != nil && a.Nullable() {
				valid := byte(0)
				if c.validity[name] {
					valid = 1
				}
				cb.Validity = append(cb.Validity, valid)
			}
		}
	}
	return coordsOut, attrsOut, nil
}
