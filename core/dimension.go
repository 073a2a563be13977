package core

// Dimension is a named axis of a Domain: a Datatype (numeric or ASCII
// string), a domain [lo, hi], and an optional tile extent. Dimensions
// are created by the schema builder and become immutable once the
// owning Schema is finalized.
type Dimension struct {
	name       string
	datatype   Datatype
	lo, hi     []byte // absent (nil) for string dimensions
	hasExtent  bool
	extent     []byte
	cellValNum uint32 // 1 for numeric dims, VarLen for string dims
}

// VarLen marks a variable cell-val-num, used for string dimensions and
// variable-length attributes, matching the legacy UINT_MAX-1 sentinel.
const VarLen uint32 = 0xFFFFFFFE

// NewNumericDimension builds a fixed-domain dimension. lo and hi are the
// little-endian encoded bounds; extent, if non-nil, is the tile extent
// in the same encoding.
//
// Invariants enforced here (the stricter of the two legacy
// implementations, per the design note on dual Dimension copies):
//   - lo <= hi
//   - for integer types: extent <= hi - lo + 1
//   - for float types:   extent <= hi - lo
func NewNumericDimension(name string, dt Datatype, lo, hi, extent []byte) (*Dimension, error) {
	if dt.IsVariableLength() {
		return nil, errf(ErrSchema, nil, "dimension %q: use NewStringDimension for variable-length types", name)
	}
	if CompareValues(dt, lo, hi) > 0 {
		return nil, errf(ErrSchema, nil, "dimension %q: lo must be <= hi", name)
	}
	d := &Dimension{name: name, datatype: dt, lo: lo, hi: hi, cellValNum: 1}
	if extent != nil {
		if err := d.validateExtent(extent); err != nil {
			return nil, err
		}
		d.hasExtent = true
		d.extent = extent
	}
	return d, nil
}

// NewStringDimension builds a string (ASCII) dimension: no domain
// bounds, no tile extent, cell-val-num is variable.
func NewStringDimension(name string) *Dimension {
	return &Dimension{name: name, datatype: StringASCII, cellValNum: VarLen}
}

func (d *Dimension) validateExtent(extent []byte) error {
	span := domainSpan(d.datatype, d.lo, d.hi)
	extentVal := valueAsUint64(d.datatype, extent)
	limit := span
	if d.datatype.IsInteger() {
		limit = span + 1
	}
	if extentVal > limit {
		return errf(ErrSchema, nil, "dimension %q: tile extent exceeds domain span", d.name)
	}
	if extentVal == 0 {
		return errf(ErrSchema, nil, "dimension %q: tile extent must be positive", d.name)
	}
	return nil
}

// domainSpan returns hi - lo, as an unsigned integer count, used for
// extent validation. Only meaningful for numeric dimensions.
func domainSpan(dt Datatype, lo, hi []byte) uint64 {
	if dt.IsSigned() {
		return uint64(int64FromLE(hi, true) - int64FromLE(lo, true))
	}
	return getUintLE(hi) - getUintLE(lo)
}

func valueAsUint64(dt Datatype, v []byte) uint64 {
	if dt.IsSigned() {
		return uint64(int64FromLE(v, true))
	}
	return getUintLE(v)
}

func (d *Dimension) Name() string       { return d.name }
func (d *Dimension) Datatype() Datatype { return d.datatype }
func (d *Dimension) Lo() []byte         { return d.lo }
func (d *Dimension) Hi() []byte         { return d.hi }
func (d *Dimension) HasExtent() bool    { return d.hasExtent }
func (d *Dimension) Extent() []byte     { return d.extent }
func (d *Dimension) IsString() bool     { return d.datatype == StringASCII }

// TileNum returns the number of tiles along this dimension, ceil((hi -
// lo + 1) / extent). Only valid for numeric dimensions with an extent.
func (d *Dimension) TileNum() uint64 {
	if d.IsString() || !d.hasExtent {
		return 1
	}
	span := domainSpan(d.datatype, d.lo, d.hi) + 1
	ext := valueAsUint64(d.datatype, d.extent)
	return (span + ext - 1) / ext
}
