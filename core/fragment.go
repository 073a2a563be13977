package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// FragmentMarkerFile is the file written last to publish a fragment
// atomically; its presence is the sole commit signal.
const FragmentMarkerFile = "__fragment.tdb"

const fragmentMetadataFile = "__fragment_metadata.tdb"
const fragmentFormatVersion = 1

// TileInfo is one tile's bookkeeping record: its byte span within the
// attribute's data file. A var-length attribute's tile holds its offsets
// prefix and its value bytes together in that one span, so the writer
// leaves VarOffset and VarSize at zero.
type TileInfo struct {
	Offset, Size       uint64
	VarOffset, VarSize uint64 // always zero as written by FragmentWriter
}

// MBR is the tight bounding rectangle, one [lo,hi] pair per dimension,
// of the cells in one sparse coord tile.
type MBR struct {
	Lo, Hi [][]byte
}

// FragmentMeta is the bookkeeping persisted per fragment: per-attribute
// tile offsets/sizes, per-tile MBRs (sparse), non-empty domain and tile
// count. No last-cell coordinates are kept: GLOBAL_ORDER monotonicity is
// checked only among the cells of one WriteSparseCells call.
type FragmentMeta struct {
	Sparse         bool
	TileCount      uint64
	Tiles          map[string][]TileInfo // by attribute/dimension name; "__coords" for sparse
	MBRs           []MBR                 // sparse only, one per coord tile
	NonEmptyDomain MBR
	TimestampLo    uint64
	TimestampHi    uint64

	// DenseLo/DenseHi are the subarray this fragment covers (dense only).
	// A dense read only consults a fragment for tiles whose coordinates
	// fall within this range; tiles never written by any fragment read
	// back as the attribute's fill value.
	DenseLo, DenseHi []int64
	// DenseTileOrder maps a tile's linear index (per Domain.TileLinearIndex)
	// to its position within this fragment's per-attribute Tiles slices.
	DenseTileOrder []uint64
}

// FragmentURI builds the `__<t_lo>_<t_hi>_<uuid>_<version>` directory
// name, matching SPEC_FULL.md §6.1's on-disk layout.
func FragmentURI(tLo, tHi uint64) string {
	return fmt.Sprintf("__%d_%d_%s_%d", tLo, tHi, uuid.NewString(), fragmentFormatVersion)
}

// Fragment is one committed write's persistent handle: its directory
// name, full path, and loaded bookkeeping.
type Fragment struct {
	URI    string // directory name, e.g. "__10_10_<uuid>_1"
	Dir    string // full path: arrayURI + "/" + URI
	Schema *Schema
	Meta   *FragmentMeta
}

// OpenFragment loads a fragment's bookkeeping. Returns an error if the
// commit marker is absent (the fragment is not yet visible).
func OpenFragment(ctx context.Context, vfs VFS, arrayURI, fragURI string, schema *Schema) (*Fragment, error) {
	dir := arrayURI + "/" + fragURI
	ok, err := vfs.Exists(ctx, dir+"/"+FragmentMarkerFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errf(ErrBookkeeping, nil, "fragment %s has no commit marker", fragURI)
	}
	raw, err := ReadAll(ctx, vfs, dir+"/"+fragmentMetadataFile)
	if err != nil {
		return nil, errf(ErrBookkeeping, err, "read bookkeeping for %s", fragURI)
	}
	meta, err := deserializeFragmentMeta(raw)
	if err != nil {
		return nil, errf(ErrBookkeeping, err, "corrupt bookkeeping for %s", fragURI)
	}
	return &Fragment{URI: fragURI, Dir: dir, Schema: schema, Meta: meta}, nil
}

func serializeFragmentMeta(m *FragmentMeta) []byte {
	b := NewBuffer(4096)
	b.WriteByte(boolByte(m.Sparse))
	b.WriteUint64(m.TileCount)
	b.WriteUint64(m.TimestampLo)
	b.WriteUint64(m.TimestampHi)

	names := make([]string, 0, len(m.Tiles))
	for name := range m.Tiles {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteUint32(uint32(len(names)))
	for _, name := range names {
		writeName(b, name)
		tiles := m.Tiles[name]
		b.WriteUint32(uint32(len(tiles)))
		for _, t := range tiles {
			b.WriteUint64(t.Offset)
			b.WriteUint64(t.Size)
			b.WriteUint64(t.VarOffset)
			b.WriteUint64(t.VarSize)
		}
	}

	b.WriteUint32(uint32(len(m.MBRs)))
	for _, mbr := range m.MBRs {
		writeMBR(b, mbr)
	}
	writeMBR(b, m.NonEmptyDomain)

	b.WriteUint32(uint32(len(m.DenseLo)))
	for _, v := range m.DenseLo {
		b.WriteVarint(v)
	}
	for _, v := range m.DenseHi {
		b.WriteVarint(v)
	}
	b.WriteUint32(uint32(len(m.DenseTileOrder)))
	for _, v := range m.DenseTileOrder {
		b.WriteUint64(v)
	}
	return b.Bytes()
}

func writeMBR(b *Buffer, mbr MBR) {
	b.WriteUint32(uint32(len(mbr.Lo)))
	for i := range mbr.Lo {
		writeSized(b, mbr.Lo[i])
		writeSized(b, mbr.Hi[i])
	}
}

func readMBR(c *ConstBuffer) (MBR, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return MBR{}, err
	}
	mbr := MBR{Lo: make([][]byte, n), Hi: make([][]byte, n)}
	for i := uint32(0); i < n; i++ {
		lo, err := readSized(c)
		if err != nil {
			return MBR{}, err
		}
		hi, err := readSized(c)
		if err != nil {
			return MBR{}, err
		}
		mbr.Lo[i], mbr.Hi[i] = lo, hi
	}
	return mbr, nil
}

func deserializeFragmentMeta(data []byte) (*FragmentMeta, error) {
	c := NewConstBuffer(data)
	sparseB, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	m := &FragmentMeta{Sparse: sparseB != 0, Tiles: make(map[string][]TileInfo)}
	m.TileCount, err = c.ReadUint64()
	if err != nil {
		return nil, err
	}
	m.TimestampLo, err = c.ReadUint64()
	if err != nil {
		return nil, err
	}
	m.TimestampHi, err = c.ReadUint64()
	if err != nil {
		return nil, err
	}
	attrCount, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < attrCount; i++ {
		name, err := readName(c)
		if err != nil {
			return nil, err
		}
		tileCount, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		tiles := make([]TileInfo, tileCount)
		for j := uint32(0); j < tileCount; j++ {
			off, _ := c.ReadUint64()
			sz, _ := c.ReadUint64()
			voff, _ := c.ReadUint64()
			vsz, err := c.ReadUint64()
			if err != nil {
				return nil, err
			}
			tiles[j] = TileInfo{Offset: off, Size: sz, VarOffset: voff, VarSize: vsz}
		}
		m.Tiles[name] = tiles
	}
	mbrCount, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	m.MBRs = make([]MBR, mbrCount)
	for i := uint32(0); i < mbrCount; i++ {
		mbr, err := readMBR(c)
		if err != nil {
			return nil, err
		}
		m.MBRs[i] = mbr
	}
	m.NonEmptyDomain, err = readMBR(c)
	if err != nil {
		return nil, err
	}

	ndims, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	m.DenseLo = make([]int64, ndims)
	for i := range m.DenseLo {
		v, err := c.ReadVarint()
		if err != nil {
			return nil, err
		}
		m.DenseLo[i] = v
	}
	m.DenseHi = make([]int64, ndims)
	for i := range m.DenseHi {
		v, err := c.ReadVarint()
		if err != nil {
			return nil, err
		}
		m.DenseHi[i] = v
	}
	tileOrderCount, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	m.DenseTileOrder = make([]uint64, tileOrderCount)
	for i := range m.DenseTileOrder {
		v, err := c.ReadUint64()
		if err != nil {
			return nil, err
		}
		m.DenseTileOrder[i] = v
	}
	return m, nil
}

// CellBuffer is the caller-supplied data for one attribute or
// dimension: raw (fixed) or packed (var) values, optional offsets
// (var-length cell boundaries), optional validity.
type CellBuffer struct {
	Data     []byte
	Offsets  []uint64 // len == num cells, for var-length attributes/dims
	Validity []byte   // len == num cells, for nullable attributes
}

// NumCells reports the cell count this buffer represents, for a given
// attribute's fixed-width size (0 if variable-length).
func (c *CellBuffer) NumCells(fixedWidth int) int {
	if c.Offsets != nil {
		return len(c.Offsets)
	}
	if fixedWidth == 0 {
		return 0
	}
	return len(c.Data) / fixedWidth
}

// FragmentWriter accumulates one write operation's cells into a new
// fragment directory, grounded on pmtiles/writer.go's preallocate-
// accumulate-commit structure, generalized from PMTiles' single
// Z/X/Y-addressed tile stream to arbitrary per-attribute tile runs.
type FragmentWriter struct {
	vfs      VFS
	arrayURI string
	schema   *Schema
	fragURI  string
	dir      string
	tLo, tHi uint64

	meta       *FragmentMeta
	dedup      map[uint64]TileInfo // xxhash(file name, tile bytes) -> already-written tile, within this fragment
	lastCoords [][]byte            // not read: the GLOBAL_ORDER check compares cells within one WriteSparseCells call
}

// NewFragmentWriter opens a new fragment directory under arrayURI for a
// write at timestamp ts (both tLo and tHi are ts until a consolidator
// widens the range).
func NewFragmentWriter(vfs VFS, arrayURI string, schema *Schema, ts uint64) *FragmentWriter {
	fragURI := FragmentURI(ts, ts)
	return &FragmentWriter{
		vfs:      vfs,
		arrayURI: arrayURI,
		schema:   schema,
		fragURI:  fragURI,
		dir:      arrayURI + "/" + fragURI,
		tLo:      ts,
		tHi:      ts,
		meta: &FragmentMeta{
			Sparse: schema.ArrayType() == Sparse,
			Tiles:  make(map[string][]TileInfo),
		},
		dedup: make(map[uint64]TileInfo),
	}
}

// WriteSparseCells validates and tiles a sparse write: coords (one
// CellBuffer per dimension, keyed by dimension name) and attrs (one per
// attribute name), per SPEC_FULL.md/spec.md §4.4 steps 1-3.
func (w *FragmentWriter) WriteSparseCells(ctx context.Context, coords map[string]*CellBuffer, attrs map[string]*CellBuffer, layout CellOrder) error {
	if !w.meta.Sparse {
		return errf(ErrQuery, nil, "WriteSparseCells called on a dense schema")
	}
	dm := w.schema.Domain()
	n := w.cellCountFromCoords(coords, dm)
	if err := w.validateBuffers(attrs, n); err != nil {
		return err
	}

	order, err := w.orderIndices(coords, dm, layout, n)
	if err != nil {
		return err
	}

	cap_ := int(w.schema.Capacity())
	if cap_ <= 0 {
		cap_ = n
	}
	for start := 0; start < n; start += cap_ {
		end := start + cap_
		if end > n {
			end = n
		}
		idx := order[start:end]
		if err := w.writeSparseTile(ctx, dm, coords, attrs, idx); err != nil {
			return err
		}
	}
	w.meta.TileCount = uint64(len(w.meta.Tiles[CoordsAttributeName]))
	return nil
}

func (w *FragmentWriter) cellCountFromCoords(coords map[string]*CellBuffer, dm *Domain) int {
	for _, d := range dm.Dimensions() {
		cb := coords[d.name]
		if cb == nil {
			continue
		}
		return cb.NumCells(d.datatype.ByteWidth())
	}
	return 0
}

func (w *FragmentWriter) validateBuffers(attrs map[string]*CellBuffer, n int) error {
	for _, a := range w.schema.Attributes() {
		cb := attrs[a.name]
		if cb == nil {
			return errf(ErrQuery, nil, "missing buffer for attribute %q", a.name)
		}
		fw := a.datatype.ByteWidth()
		if a.IsVar() {
			if len(cb.Offsets) != n {
				return errf(ErrQuery, nil, "attribute %q: expected %d offsets, got %d", a.name, n, len(cb.Offsets))
			}
		} else if cb.NumCells(fw) != n {
			return errf(ErrQuery, nil, "attribute %q: expected %d cells, got %d", a.name, n, cb.NumCells(fw))
		}
		if a.nullable && len(cb.Validity) != n {
			return errf(ErrQuery, nil, "attribute %q: validity buffer must have exactly %d bytes", a.name, n)
		}
	}
	return nil
}

// orderIndices returns a permutation of [0,n) in the schema's cell
// order for UNORDERED writes, validates monotonicity for GLOBAL_ORDER,
// and rejects duplicate coordinates unless allows_dups.
func (w *FragmentWriter) orderIndices(coords map[string]*CellBuffer, dm *Domain, layout CellOrder, n int) ([]int, error) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	cellAt := func(i int, dimIdx int) []byte {
		d := dm.Dimension(dimIdx)
		cb := coords[d.name]
		if d.IsString() {
			start := uint64(0)
			if i > 0 {
				start = cb.Offsets[i-1]
			}
			end := cb.Offsets[i]
			return cb.Data[start:end]
		}
		w := d.datatype.ByteWidth()
		return cb.Data[i*w : (i+1)*w]
	}

	compareCells := func(i, j int, order CellOrder) int {
		dims := dm.Dimensions()
		if order == ColMajor {
			for k := len(dims) - 1; k >= 0; k-- {
				if c := CompareValues(dims[k].datatype, cellAt(i, k), cellAt(j, k)); c != 0 {
					return c
				}
			}
			return 0
		}
		for k := range dims {
			if c := CompareValues(dims[k].datatype, cellAt(i, k), cellAt(j, k)); c != 0 {
				return c
			}
		}
		return 0
	}

	switch layout {
	case Unordered:
		effective := w.schema.CellOrder()
		if effective == Hilbert {
			hc, err := NewHilbertCurve(w.schema.HilbertBits(), dm.NumDimensions())
			if err != nil {
				return nil, err
			}
			keys := make([]uint64, n)
			for i := 0; i < n; i++ {
				pt := make([]int64, dm.NumDimensions())
				for k, d := range dm.Dimensions() {
					if !d.IsString() {
						pt[k] = int64(valueAsUint64(d.datatype, cellAt(i, k)))
					}
				}
				keys[i] = hc.CoordsToHilbert(pt)
			}
			sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
		} else {
			sort.SliceStable(idx, func(a, b int) bool { return compareCells(idx[a], idx[b], effective) < 0 })
		}
	case GlobalOrder:
		for i := 1; i < n; i++ {
			if compareCells(i-1, i, w.schema.CellOrder()) > 0 {
				return nil, errf(ErrQuery, nil, "GLOBAL_ORDER write: cell %d is out of order", i)
			}
		}
	default:
		return nil, errf(ErrQuery, nil, "sparse writes require UNORDERED or GLOBAL_ORDER layout")
	}

	if !w.schema.AllowsDups() {
		for i := 1; i < n; i++ {
			a, b := idx[i-1], idx[i]
			if compareCells(a, b, RowMajor) == 0 {
				return nil, errf(ErrQuery, nil, "duplicate coordinate at position %d in a schema with allows_dups=false", i)
			}
		}
	}
	return idx, nil
}

func (w *FragmentWriter) writeSparseTile(ctx context.Context, dm *Domain, coords map[string]*CellBuffer, attrs map[string]*CellBuffer, idx []int) error {
	mbr := MBR{Lo: make([][]byte, dm.NumDimensions()), Hi: make([][]byte, dm.NumDimensions())}
	coordsBuf := NewBuffer(len(idx) * dm.CoordsSize())
	for _, i := range idx {
		for k, d := range dm.Dimensions() {
			cb := coords[d.name]
			var v []byte
			if d.IsString() {
				start := uint64(0)
				if i > 0 {
					start = cb.Offsets[i-1]
				}
				v = cb.Data[start:cb.Offsets[i]]
				// String-dimension coordinates are variable-length, so the
				// zipped coords tile length-prefixes them (unzipCoords
				// decodes by walking records until the tile is exhausted,
				// rather than dividing by a fixed cell size).
				coordsBuf.WriteUint32(uint32(len(v)))
			}
			coordsBuf.WriteBytes(v)
			if mbr.Lo[k] == nil || CompareValues(d.datatype, v, mbr.Lo[k]) < 0 {
				mbr.Lo[k] = append([]byte(nil), v...)
			}
			if mbr.Hi[k] == nil || CompareValues(d.datatype, v, mbr.Hi[k]) > 0 {
				mbr.Hi[k] = append([]byte(nil), v...)
			}
		}
	}
	if err := w.appendTile(ctx, CoordsAttributeName, NewFilterList(), coordsBuf.Bytes()); err != nil {
		return err
	}
	w.meta.MBRs = append(w.meta.MBRs, mbr)
	w.mergeNonEmptyDomain(mbr)

	for _, a := range w.schema.Attributes() {
		cb := attrs[a.name]
		if a.IsVar() {
			if err := w.appendVarTile(ctx, a, cb, idx); err != nil {
				return err
			}
		} else {
			tileBuf := NewBuffer(len(idx) * a.datatype.ByteWidth())
			for _, i := range idx {
				wdt := a.datatype.ByteWidth()
				tileBuf.WriteBytes(cb.Data[i*wdt : (i+1)*wdt])
			}
			if err := w.appendTile(ctx, a.name, a.Filters(), tileBuf.Bytes()); err != nil {
				return err
			}
		}
		if a.Nullable() {
			if err := w.appendValidityTile(ctx, a, cb, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// validityTileName is the reserved companion tile name holding one
// validity byte per cell for a nullable attribute (spec.md §6.1's
// `<attr>_validity.tdb`).
func validityTileName(a *Attribute) string { return a.name + "_validity" }

// appendValidityTile writes the selected cells' validity bytes (0=null,
// 1=valid) in the same order as the attribute's own data tile.
func (w *FragmentWriter) appendValidityTile(ctx context.Context, a *Attribute, cb *CellBuffer, idx []int) error {
	buf := make([]byte, len(idx))
	for j, i := range idx {
		buf[j] = cb.Validity[i]
	}
	return w.appendTile(ctx, validityTileName(a), NewFilterList(), buf)
}

// appendVarTile packs a variable-length attribute's selected cells as a
// fixed-width cumulative-offset prefix (one uint64 per cell, matching
// sparsereader.go's splitAttrTile) followed by the packed value bytes.
func (w *FragmentWriter) appendVarTile(ctx context.Context, a *Attribute, cb *CellBuffer, idx []int) error {
	tileBuf := NewBuffer(len(idx)*8 + len(cb.Data))
	packed := NewBuffer(len(cb.Data))
	var cum uint64
	for _, i := range idx {
		start := uint64(0)
		if i > 0 {
			start = cb.Offsets[i-1]
		}
		v := cb.Data[start:cb.Offsets[i]]
		packed.WriteBytes(v)
		cum += uint64(len(v))
		tileBuf.WriteUint64(cum)
	}
	tileBuf.WriteBytes(packed.Bytes())
	return w.appendTile(ctx, a.name, a.Filters(), tileBuf.Bytes())
}

func (w *FragmentWriter) mergeNonEmptyDomain(mbr MBR) {
	ned := w.meta.NonEmptyDomain
	if ned.Lo == nil {
		w.meta.NonEmptyDomain = MBR{
			Lo: append([][]byte(nil), mbr.Lo...),
			Hi: append([][]byte(nil), mbr.Hi...),
		}
		return
	}
	for k := range mbr.Lo {
		if compareBytes(mbr.Lo[k], ned.Lo[k]) < 0 {
			ned.Lo[k] = mbr.Lo[k]
		}
		if compareBytes(mbr.Hi[k], ned.Hi[k]) > 0 {
			ned.Hi[k] = mbr.Hi[k]
		}
	}
	w.meta.NonEmptyDomain = ned
}

// appendTile runs name's filter list forward over raw, deduplicates
// against tiles already written to name's file in this fragment by
// content hash (xxhash/v2, upgrading writer.go's fnv64a), and records
// bookkeeping.
func (w *FragmentWriter) appendTile(ctx context.Context, name string, filters *FilterList, raw []byte) error {
	var dt Datatype
	if d := w.schema.Domain().DimensionByName(name); d != nil {
		dt = d.datatype
	} else if a := w.schema.AttributeByName(name); a != nil {
		dt = a.datatype
	} else if name == CoordsAttributeName {
		dt = Uint8
	}

	encoded, err := filters.Apply(dt, raw)
	if err != nil {
		return err
	}

	// The hash covers the file name too, so a reused TileInfo always
	// points into name's own .tdb file.
	d := xxhash.New()
	d.WriteString(name)
	d.Write([]byte{0})
	d.Write(encoded)
	h := d.Sum64()
	if existing, ok := w.dedup[h]; ok {
		w.meta.Tiles[name] = append(w.meta.Tiles[name], existing)
		return nil
	}

	fileName := w.dir + "/" + name + ".tdb"
	priorSize, err := fileSizeOrZero(ctx, w.vfs, fileName)
	if err != nil {
		return err
	}
	if err := w.vfs.WriteAppend(ctx, fileName, encoded); err != nil {
		return err
	}
	info := TileInfo{Offset: priorSize, Size: uint64(len(encoded))}
	w.dedup[h] = info
	w.meta.Tiles[name] = append(w.meta.Tiles[name], info)
	return nil
}

// WriteDenseCells writes a dense subarray given as one flat CellBuffer
// per attribute, laid out in the schema's cell order across the whole
// subarray. The subarray must be tile-aligned (lo/hi each fall on tile
// boundaries, except where hi meets the domain's own upper bound) -
// TileDB's general dense writer supports unaligned partial-tile writes
// via a read-modify-write merge step that is out of scope here; this
// simplification is recorded in DESIGN.md.
func (w *FragmentWriter) WriteDenseCells(ctx context.Context, lo, hi []int64, attrs map[string]*CellBuffer) error {
	if w.meta.Sparse {
		return errf(ErrQuery, nil, "WriteDenseCells called on a sparse schema")
	}
	dm := w.schema.Domain()
	if len(lo) != dm.NumDimensions() || len(hi) != dm.NumDimensions() {
		return errf(ErrQuery, nil, "subarray bounds must have one pair per dimension")
	}
	subShape := make([]uint64, dm.NumDimensions())
	n := 1
	for i, d := range dm.Dimensions() {
		if err := w.validateTileAlignment(d, lo[i], hi[i]); err != nil {
			return err
		}
		subShape[i] = uint64(hi[i]-lo[i]) + 1
		n *= int(subShape[i])
	}
	if err := w.validateBuffers(attrs, n); err != nil {
		return err
	}
	w.meta.DenseLo, w.meta.DenseHi = lo, hi

	order := w.schema.CellOrder()
	tileLoIdx := make([]uint64, dm.NumDimensions())
	tileHiIdx := make([]uint64, dm.NumDimensions())
	for i, d := range dm.Dimensions() {
		tileLoIdx[i] = tileIndexOf(d, lo[i])
		tileHiIdx[i] = tileIndexOf(d, hi[i])
	}

	return w.forEachTileCoord(tileLoIdx, tileHiIdx, func(tileCoords []uint64) error {
		tileLo := make([]int64, dm.NumDimensions())
		tileShape := make([]uint64, dm.NumDimensions())
		for i, d := range dm.Dimensions() {
			tLo := lo[i]
			if t := tileStartCoord(d, tileCoords[i]); t > tLo {
				tLo = t
			}
			tHi := hi[i]
			if t := tileEndCoord(d, tileCoords[i]); t < tHi {
				tHi = t
			}
			tileLo[i] = tLo
			tileShape[i] = uint64(tHi-tLo) + 1
		}
		totalTileCells := uint64(1)
		for _, s := range tileShape {
			totalTileCells *= s
		}

		for _, a := range w.schema.Attributes() {
			cb := attrs[a.name]
			width := a.datatype.ByteWidth()
			tileBuf := make([]byte, int(totalTileCells)*width)
			var validityBuf []byte
			if a.Nullable() {
				validityBuf = make([]byte, totalTileCells)
			}
			for localIdx := uint64(0); localIdx < totalTileCells; localIdx++ {
				localCoords := gridDecodeIndex(localIdx, tileShape, order)
				subCoords := make([]uint64, dm.NumDimensions())
				for i := range localCoords {
					subCoords[i] = uint64(tileLo[i]-lo[i]) + localCoords[i]
				}
				subIdx := gridLinearIndex(subCoords, subShape, order)
				copy(tileBuf[int(localIdx)*width:int(localIdx+1)*width], cb.Data[int(subIdx)*width:int(subIdx+1)*width])
				if validityBuf != nil {
					validityBuf[localIdx] = cb.Validity[subIdx]
				}
			}
			if err := w.appendTile(ctx, a.name, a.Filters(), tileBuf); err != nil {
				return err
			}
			if validityBuf != nil {
				if err := w.appendTile(ctx, validityTileName(a), NewFilterList(), validityBuf); err != nil {
					return err
				}
			}
		}
		linear := dm.TileLinearIndex(tileCoords, w.schema.TileOrder())
		w.meta.DenseTileOrder = append(w.meta.DenseTileOrder, linear)
		w.meta.TileCount++
		return nil
	})
}

func (w *FragmentWriter) validateTileAlignment(d *Dimension, lo, hi int64) error {
	if !d.hasExtent {
		return errf(ErrSchema, nil, "dimension %q has no tile extent", d.name)
	}
	domLo := tileStartCoord(d, 0)
	if (lo-domLo)%int64(valueAsUint64(d.datatype, d.extent)) != 0 {
		return errf(ErrQuery, nil, "dimension %q: subarray lo is not tile-aligned", d.name)
	}
	domHi := dimValueInt64(d.datatype, d.hi)
	if hi != domHi && (hi+1-domLo)%int64(valueAsUint64(d.datatype, d.extent)) != 0 {
		return errf(ErrQuery, nil, "dimension %q: subarray hi is not tile-aligned", d.name)
	}
	return nil
}

func dimValueInt64(dt Datatype, v []byte) int64 {
	if dt.IsSigned() {
		return int64FromLE(v, true)
	}
	return int64(getUintLE(v))
}

func tileStartCoord(d *Dimension, tileIdx uint64) int64 {
	lo := dimValueInt64(d.datatype, d.lo)
	ext := int64(valueAsUint64(d.datatype, d.extent))
	return lo + int64(tileIdx)*ext
}

// forEachTileCoord enumerates every tile coordinate vector in
// [loIdx,hiIdx] inclusive, row-major, invoking fn for each.
func (w *FragmentWriter) forEachTileCoord(loIdx, hiIdx []uint64, fn func([]uint64) error) error {
	cur := append([]uint64(nil), loIdx...)
	for {
		if err := fn(append([]uint64(nil), cur...)); err != nil {
			return err
		}
		pos := len(cur) - 1
		for pos >= 0 {
			cur[pos]++
			if cur[pos] <= hiIdx[pos] {
				break
			}
			cur[pos] = loIdx[pos]
			pos--
		}
		if pos < 0 {
			return nil
		}
	}
}

func fileSizeOrZero(ctx context.Context, vfs VFS, uri string) (uint64, error) {
	exists, err := vfs.Exists(ctx, uri)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	return vfs.FileSize(ctx, uri)
}

// Commit writes the bookkeeping file, then the __fragment.tdb marker
// last, matching spec.md §4.4 step 5's fsync/flush-before-rename
// discipline: failure before the marker leaves the fragment invisible.
func (w *FragmentWriter) Commit(ctx context.Context) (string, error) {
	meta := serializeFragmentMeta(w.meta)
	if err := w.vfs.WriteAppend(ctx, w.dir+"/"+fragmentMetadataFile, meta); err != nil {
		return "", errf(ErrIO, err, "write bookkeeping")
	}
	if err := w.vfs.WriteAppend(ctx, w.dir+"/"+FragmentMarkerFile, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return "", errf(ErrIO, err, "write commit marker")
	}
	return w.fragURI, nil
}
