package core

// DenseCellRange is one contiguous run of cells, in the domain's global
// cell order, that fall within a single tile and a single subarray
// range along every dimension. Dense reads/writes decompose a subarray
// into a sequence of these before touching tile data, so the inner
// copy loop never has to reason about dimensionality again.
type DenseCellRange struct {
	TileCoords  []uint64 // per-dimension tile index
	StartCoords []int64  // per-dimension starting global coordinate of the run
	Length      uint64   // number of contiguous cells (along the fastest-varying free dimension)
}

// DenseCellRangeIter walks a subarray's intersection with a Domain's
// tiling, yielding DenseCellRanges in the schema's cell order. There is
// no library seam here: this is pure coordinate arithmetic over the
// Domain's tile grid (spec.md §4.5), not a concern any example repo's
// dependencies address.
type DenseCellRangeIter struct {
	dm         *Domain
	lo, hi     []int64 // subarray bounds, one pair per dimension, inclusive
	order      CellOrder
	cur        []int64 // current position, one per dimension
	done       bool
	fastestDim int
}

// NewDenseCellRangeIter builds an iterator over the subarray [lo,hi]
// (inclusive bounds per dimension, same length as dm.Dimensions()).
func NewDenseCellRangeIter(dm *Domain, lo, hi []int64, order CellOrder) (*DenseCellRangeIter, error) {
	if len(lo) != dm.NumDimensions() || len(hi) != dm.NumDimensions() {
		return nil, errf(ErrQuery, nil, "subarray bounds must have one pair per dimension")
	}
	for i := range lo {
		if lo[i] > hi[i] {
			return nil, errf(ErrQuery, nil, "dimension %d: subarray lo > hi", i)
		}
	}
	fastest := dm.NumDimensions() - 1
	if order == ColMajor {
		fastest = 0
	}
	cur := append([]int64(nil), lo...)
	return &DenseCellRangeIter{dm: dm, lo: lo, hi: hi, order: order, cur: cur, fastestDim: fastest}, nil
}

// Next returns the next cell range, or ok=false once the subarray is
// exhausted.
func (it *DenseCellRangeIter) Next() (DenseCellRange, bool) {
	if it.done {
		return DenseCellRange{}, false
	}

	start := append([]int64(nil), it.cur...)
	runLen := it.runLengthFrom(start)

	tileCoords := make([]uint64, it.dm.NumDimensions())
	for i, d := range it.dm.Dimensions() {
		tileCoords[i] = tileIndexOf(d, start[i])
	}

	rng := DenseCellRange{TileCoords: tileCoords, StartCoords: start, Length: runLen}
	it.advance(runLen)
	return rng, true
}

// runLengthFrom computes how far the run along fastestDim extends
// before either the subarray bound or a tile boundary is hit,
// whichever comes first (a run never crosses a tile edge, since tiles
// are filtered/read as whole units).
func (it *DenseCellRangeIter) runLengthFrom(start []int64) uint64 {
	d := it.dm.Dimension(it.fastestDim)
	tileIdx := tileIndexOf(d, start[it.fastestDim])
	tileEnd := tileEndCoord(d, tileIdx)
	limit := it.hi[it.fastestDim]
	if tileEnd < limit {
		limit = tileEnd
	}
	return uint64(limit-start[it.fastestDim]) + 1
}

func tileIndexOf(d *Dimension, coord int64) uint64 {
	if !d.hasExtent {
		return 0
	}
	lo := int64(valueAsUint64(d.datatype, d.lo))
	if d.datatype.IsSigned() {
		lo = int64FromLE(d.lo, true)
	}
	ext := int64(valueAsUint64(d.datatype, d.extent))
	if ext <= 0 {
		return 0
	}
	return uint64((coord - lo) / ext)
}

func tileEndCoord(d *Dimension, tileIdx uint64) int64 {
	lo := int64(valueAsUint64(d.datatype, d.lo))
	if d.datatype.IsSigned() {
		lo = int64FromLE(d.lo, true)
	}
	ext := int64(valueAsUint64(d.datatype, d.extent))
	return lo + int64(tileIdx+1)*ext - 1
}

// advance moves the cursor past a run of runLen cells along
// fastestDim, carrying into slower dimensions per the iterator's cell
// order, TileDB's standard odometer traversal.
func (it *DenseCellRangeIter) advance(runLen uint64) {
	dims := it.dm.Dimensions()
	_ = dims
	it.cur[it.fastestDim] += int64(runLen)
	if it.cur[it.fastestDim] <= it.hi[it.fastestDim] {
		return
	}

	order := it.dimOrderSlowToFast()
	pos := len(order) - 1 // fastestDim is last in this ordering
	for pos >= 0 {
		dimIdx := order[pos]
		if dimIdx == it.fastestDim {
			it.cur[dimIdx] = it.lo[dimIdx]
			pos--
			continue
		}
		it.cur[dimIdx]++
		if it.cur[dimIdx] <= it.hi[dimIdx] {
			return
		}
		it.cur[dimIdx] = it.lo[dimIdx]
		pos--
	}
	it.done = true
}

// dimOrderSlowToFast returns dimension indices ordered from slowest- to
// fastest-varying, matching RowMajor ([0..n) ascending) or ColMajor
// (descending).
func (it *DenseCellRangeIter) dimOrderSlowToFast() []int {
	n := it.dm.NumDimensions()
	order := make([]int, n)
	if it.order == ColMajor {
		for i := 0; i < n; i++ {
			order[i] = n - 1 - i
		}
	} else {
		for i := 0; i < n; i++ {
			order[i] = i
		}
	}
	return order
}

// gridLinearIndex flattens per-dimension coordinates within a
// rectangular shape into one linear cell index, in row-major (last
// dimension fastest) or column-major (first dimension fastest) order.
// Shared by the dense writer and reader to address both a tile's local
// cells and a caller-supplied subarray buffer with the same arithmetic.
func gridLinearIndex(coords, shape []uint64, order CellOrder) uint64 {
	n := len(coords)
	var idx uint64
	if order == ColMajor {
		stride := uint64(1)
		for i := 0; i < n; i++ {
			idx += coords[i] * stride
			stride *= shape[i]
		}
		return idx
	}
	for i := 0; i < n; i++ {
		idx = idx*shape[i] + coords[i]
	}
	return idx
}

// gridDecodeIndex is gridLinearIndex's inverse: recovers per-dimension
// coordinates from a linear index and shape.
func gridDecodeIndex(idx uint64, shape []uint64, order CellOrder) []uint64 {
	n := len(shape)
	coords := make([]uint64, n)
	if order == ColMajor {
		for i := 0; i < n; i++ {
			coords[i] = idx % shape[i]
			idx /= shape[i]
		}
		return coords
	}
	for i := n - 1; i >= 0; i-- {
		coords[i] = idx % shape[i]
		idx /= shape[i]
	}
	return coords
}
