package core

import "context"

// QueryKind distinguishes a read from a write query.
type QueryKind uint8

const (
	QueryRead QueryKind = iota
	QueryWrite
)

// Query binds a subarray, an optional condition, and a requested
// attribute set to an open Array's current snapshot. Reads page through
// results via Submit, which returns StatusOK once the whole subarray
// has been delivered or StatusIncomplete if the caller's batch size cut
// it short — the cursor it returns can be persisted and handed back to
// a later Query to resume, the behavior described in original_source's
// read_state.cc and generalized here into an explicit, serializable
// value rather than hidden query-object state.
type Query struct {
	array     *Array
	schema    *Schema
	layout    CellOrder
	lo, hi    []int64
	cond      *QueryCondition
	attrNames []string

	materialized bool
	coords       map[string]*CellBuffer
	attrs        map[string]*CellBuffer
	total        int
	cursor       int
}

// NewReadQuery builds a read query over [lo,hi] for attrNames, evaluated
// against array's current snapshot at construction time (a Query does
// not see fragments committed after it's built; call Refresh+NewReadQuery
// again to pick those up).
func NewReadQuery(array *Array, lo, hi []int64, cond *QueryCondition, attrNames []string) (*Query, error) {
	schema, _ := array.Snapshot()
	if cond != nil {
		if err := cond.Validate(schema); err != nil {
			return nil, err
		}
	}
	return &Query{array: array, schema: schema, lo: lo, hi: hi, cond: cond, attrNames: attrNames, layout: schema.CellOrder()}, nil
}

// QueryCursor is the resumable position within a paged read, opaque to
// callers beyond Serialize/DeserializeQueryCursor.
type QueryCursor struct {
	Position int
}

func (c *QueryCursor) Serialize() []byte {
	b := NewBuffer(8)
	b.WriteUint64(uint64(c.Position))
	return b.Bytes()
}

func DeserializeQueryCursor(data []byte) (*QueryCursor, error) {
	c := NewConstBuffer(data)
	v, err := c.ReadUint64()
	if err != nil {
		return nil, errf(ErrBookkeeping, err, "corrupt query cursor")
	}
	return &QueryCursor{Position: int(v)}, nil
}

// Resume seeks the query to a previously returned cursor before the
// first Submit call.
func (q *Query) Resume(c *QueryCursor) { q.cursor = c.Position }

// Cursor returns the query's current resume position.
func (q *Query) Cursor() *QueryCursor { return &QueryCursor{Position: q.cursor} }

func (q *Query) materialize(ctx context.Context) error {
	if q.materialized {
		return nil
	}
	_, fragments := q.array.Snapshot()
	if q.schema.ArrayType() == Sparse {
		reader := NewSparseReader(q.array.vfs, q.schema, fragments)
		if q.array.cache != nil {
			reader.SetCache(q.array.cache)
		}
		coords, attrs, err := reader.Read(ctx, q.lo, q.hi, q.cond, q.attrNames)
		if err != nil {
			return err
		}
		q.coords, q.attrs = coords, attrs
		if len(q.schema.Domain().Dimensions()) > 0 {
			firstDim := q.schema.Domain().Dimension(0)
			cb := coords[firstDim.Name()]
			if cb.Offsets != nil {
				q.total = len(cb.Offsets)
			} else if w := firstDim.Datatype().ByteWidth(); w > 0 {
				q.total = len(cb.Data) / w
			}
		}
	} else {
		reader := NewDenseReader(q.array.vfs, q.schema, fragments)
		if q.array.cache != nil {
			reader.SetCache(q.array.cache)
		}
		attrs, err := reader.Read(ctx, q.lo, q.hi, q.cond, q.attrNames)
		if err != nil {
			return err
		}
		q.attrs = attrs
		n := 1
		for i := range q.lo {
			n *= int(q.hi[i]-q.lo[i]) + 1
		}
		q.total = n
	}
	q.materialized = true
	return nil
}

// Submit delivers up to maxCells cells starting at the query's current
// cursor, advancing the cursor by however many were actually returned.
// Returns StatusOK once every cell through the end of the subarray has
// been delivered across this and prior Submit calls, or
// StatusIncomplete if more remain.
func (q *Query) Submit(ctx context.Context, maxCells int) (coords map[string]*CellBuffer, attrs map[string]*CellBuffer, status Status, err error) {
	if err := q.materialize(ctx); err != nil {
		return nil, nil, StatusCancelled, err
	}
	if maxCells <= 0 || q.cursor >= q.total {
		return emptySlice(q.schema, q.attrNames), emptySlice(q.schema, nil), StatusOK, nil
	}
	end := q.cursor + maxCells
	if end > q.total {
		end = q.total
	}
	outCoords := q.sliceFields(q.coords, q.cursor, end, true)
	outAttrs := q.sliceFields(q.attrs, q.cursor, end, false)
	q.cursor = end
	st := StatusOK
	if q.cursor < q.total {
		st = StatusIncomplete
	}
	return outCoords, outAttrs, st, nil
}

func emptySlice(schema *Schema, names []string) map[string]*CellBuffer {
	out := map[string]*CellBuffer{}
	if schema != nil {
		for _, d := range schema.Domain().Dimensions() {
			out[d.Name()] = &CellBuffer{}
		}
	}
	for _, n := range names {
		out[n] = &CellBuffer{}
	}
	return out
}

// fieldWidth returns the fixed byte width of the dimension or attribute
// named name (0 for variable-length fields, where Offsets drives slicing
// instead).
func (q *Query) fieldWidth(name string, isCoord bool) int {
	if isCoord {
		if d := q.schema.Domain().DimensionByName(name); d != nil && !d.IsString() {
			return d.Datatype().ByteWidth()
		}
		return 0
	}
	if a := q.schema.AttributeByName(name); a != nil && !a.IsVar() {
		return a.Datatype().ByteWidth() * int(a.CellValNum())
	}
	return 0
}

// sliceFields extracts cells [start,end) from every buffer in in,
// dispatching to offset-based slicing for variable-length fields and
// byte-range slicing for fixed-width ones.
func (q *Query) sliceFields(in map[string]*CellBuffer, start, end int, isCoord bool) map[string]*CellBuffer {
	out := make(map[string]*CellBuffer, len(in))
	for name, cb := range in {
		if cb.Offsets != nil {
			startOff := uint64(0)
			if start > 0 {
				startOff = cb.Offsets[start-1]
			}
			endOff := cb.Offsets[end-1]
			newOffsets := make([]uint64, end-start)
			for i := range newOffsets {
				newOffsets[i] = cb.Offsets[start+i] - startOff
			}
			nb := &CellBuffer{Data: append([]byte(nil), cb.Data[startOff:endOff]...), Offsets: newOffsets}
			if cb.Validity != nil {
				nb.Validity = append([]byte(nil), cb.Validity[start:end]...)
			}
			out[name] = nb
			continue
		}
		width := q.fieldWidth(name, isCoord)
		nb := &CellBuffer{}
		if width > 0 {
			nb.Data = append([]byte(nil), cb.Data[start*width:end*width]...)
		}
		if cb.Validity != nil {
			nb.Validity = append([]byte(nil), cb.Validity[start:end]...)
		}
		out[name] = nb
	}
	return out
}
