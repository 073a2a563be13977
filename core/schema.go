package core

import (
	"encoding/binary"
	"strings"
)

// ArrayType distinguishes dense from sparse arrays.
type ArrayType uint8

const (
	Dense ArrayType = iota
	Sparse
)

func (t ArrayType) String() string {
	if t == Sparse {
		return "sparse"
	}
	return "dense"
}

const schemaMagic uint32 = 0x54444200 // "TDB\0"
const schemaFormatVersion uint32 = 1

// Schema binds a Domain and an attribute list together with the array's
// type and layout configuration. Schemas are built incrementally via
// AddDimension/AddAttribute, then frozen by Finalize; they are
// immutable and shared read-only across all Queries once an Array is
// open.
type Schema struct {
	arrayType   ArrayType
	domain      *Domain
	dimsPending []*Dimension
	cellOrder   CellOrder
	tileOrder   TileOrder
	capacity    uint64
	allowsDups  bool
	attrs       []*Attribute
	attrNames   map[string]int
	enums       map[string]*Enumeration
	finalized   bool
	hilbertBits int
}

// NewSchemaBuilder starts a schema of the given array type. Dimensions
// and attributes are added with AddDimension/AddAttribute, then the
// builder is frozen with Finalize.
func NewSchemaBuilder(at ArrayType) *Schema {
	return &Schema{
		arrayType: at,
		attrNames: make(map[string]int),
		enums:     make(map[string]*Enumeration),
		capacity:  10000,
		cellOrder: RowMajor,
		tileOrder: TileRowMajor,
	}
}

// AddDimension appends a dimension to the domain under construction.
// Rejects duplicate names.
func (s *Schema) AddDimension(d *Dimension) error {
	if s.finalized {
		return errf(ErrSchema, nil, "schema already finalized")
	}
	for _, existing := range s.dimsPending {
		if existing.name == d.name {
			return errf(ErrSchema, nil, "duplicate dimension name %q", d.name)
		}
	}
	if !d.IsString() && d.cellValNum != 1 {
		return errf(ErrSchema, nil, "dimension %q: cell_val_num must be 1 for non-string dimensions", d.name)
	}
	s.dimsPending = append(s.dimsPending, d)
	return nil
}

// AddAttribute appends an attribute. Rejects names starting with "__"
// (reserved) and duplicates.
func (s *Schema) AddAttribute(a *Attribute) error {
	if s.finalized {
		return errf(ErrSchema, nil, "schema already finalized")
	}
	if strings.HasPrefix(a.name, "__") {
		return errf(ErrSchema, nil, "attribute name %q is reserved", a.name)
	}
	if _, ok := s.attrNames[a.name]; ok {
		return errf(ErrSchema, nil, "duplicate attribute name %q", a.name)
	}
	s.attrNames[a.name] = len(s.attrs)
	s.attrs = append(s.attrs, a)
	return nil
}

// AddEnumeration registers a named enumeration available for attributes
// to reference.
func (s *Schema) AddEnumeration(e *Enumeration) error {
	if _, ok := s.enums[e.name]; ok {
		return errf(ErrSchema, nil, "duplicate enumeration name %q", e.name)
	}
	s.enums[e.name] = e
	return nil
}

func (s *Schema) SetCellOrder(c CellOrder) error {
	if c == Hilbert && s.arrayType == Dense {
		return errf(ErrSchema, nil, "HILBERT cell order is sparse-only")
	}
	s.cellOrder = c
	return nil
}

func (s *Schema) SetTileOrder(t TileOrder) { s.tileOrder = t }
func (s *Schema) SetCapacity(c uint64)     { s.capacity = c }

func (s *Schema) SetAllowsDups(v bool) error {
	if s.arrayType == Dense && v {
		return errf(ErrSchema, nil, "dense arrays cannot allow duplicates")
	}
	s.allowsDups = v
	return nil
}

// SetHilbertBits configures the per-dimension bit width used when
// cellOrder == Hilbert; defaults to 16 if unset.
func (s *Schema) SetHilbertBits(bits int) { s.hilbertBits = bits }

// Finalize validates the accumulated configuration and freezes the
// schema: domain non-empty, array type/cell-order compatibility, all
// fixed-width attributes have resolved fill values. Filter lists are not
// checked here.
func (s *Schema) Finalize() error {
	if s.finalized {
		return nil
	}
	if len(s.dimsPending) == 0 {
		return errf(ErrSchema, nil, "schema: domain must be non-empty")
	}
	dm, err := NewDomain(s.dimsPending)
	if err != nil {
		return err
	}
	s.domain = dm

	if s.arrayType == Dense {
		if s.cellOrder == Unordered || s.cellOrder == Hilbert {
			return errf(ErrSchema, nil, "dense arrays require ROW_MAJOR/COL_MAJOR/GLOBAL_ORDER cell order")
		}
		if s.allowsDups {
			return errf(ErrSchema, nil, "dense arrays cannot allow duplicates")
		}
		for _, d := range s.domain.Dimensions() {
			if !d.hasExtent {
				return errf(ErrSchema, nil, "dense arrays require a tile extent on every dimension")
			}
		}
	}
	if s.cellOrder == Hilbert && s.hilbertBits == 0 {
		s.hilbertBits = 16
	}
	for _, a := range s.attrs {
		if a.fillValue == nil && !a.datatype.IsVariableLength() && a.cellValNum != VarLen {
			return errf(ErrSchema, nil, "attribute %q: no resolved fill value", a.name)
		}
	}
	s.finalized = true
	return nil
}

func (s *Schema) ArrayType() ArrayType     { return s.arrayType }
func (s *Schema) Domain() *Domain          { return s.domain }
func (s *Schema) CellOrder() CellOrder     { return s.cellOrder }
func (s *Schema) TileOrder() TileOrder     { return s.tileOrder }
func (s *Schema) Capacity() uint64         { return s.capacity }
func (s *Schema) AllowsDups() bool         { return s.allowsDups }
func (s *Schema) Attributes() []*Attribute { return s.attrs }
func (s *Schema) HilbertBits() int         { return s.hilbertBits }
func (s *Schema) IsFinalized() bool        { return s.finalized }

func (s *Schema) AttributeByName(name string) *Attribute {
	if i, ok := s.attrNames[name]; ok {
		return s.attrs[i]
	}
	return nil
}

func (s *Schema) Enumeration(name string) *Enumeration {
	return s.enums[name]
}

// Serialize produces the stable binary schema format described in
// SPEC_FULL.md §6.2: a magic number and format version followed by the
// fields in a fixed order (no per-field markers), little-endian
// throughout, grounded on the teacher's SerializeHeader fixed-layout
// approach.
func (s *Schema) Serialize() ([]byte, error) {
	if !s.finalized {
		return nil, errf(ErrSchema, nil, "cannot serialize an unfinalized schema")
	}
	b := NewBuffer(256)
	b.WriteUint32(schemaMagic)
	b.WriteUint32(schemaFormatVersion)
	b.WriteByte(byte(s.arrayType))
	b.WriteByte(byte(s.tileOrder))
	b.WriteByte(byte(s.cellOrder))
	b.WriteUint64(s.capacity)
	b.WriteByte(boolByte(s.allowsDups))
	b.WriteUint32(uint32(s.hilbertBits))

	dims := s.domain.Dimensions()
	b.WriteUint32(uint32(len(dims)))
	for _, d := range dims {
		writeName(b, d.name)
		b.WriteByte(byte(d.datatype))
		b.WriteUint32(d.cellValNum)
		if d.IsString() {
			b.WriteByte(0)
		} else {
			b.WriteByte(1)
			writeSized(b, d.lo)
			writeSized(b, d.hi)
		}
		b.WriteByte(boolByte(d.hasExtent))
		if d.hasExtent {
			writeSized(b, d.extent)
		}
	}

	b.WriteUint32(uint32(len(s.attrs)))
	for _, a := range s.attrs {
		writeName(b, a.name)
		b.WriteByte(byte(a.datatype))
		b.WriteUint32(a.cellValNum)
		b.WriteByte(boolByte(a.nullable))
		writeSized(b, a.fillValue)
		if a.enumeration != "" {
			b.WriteByte(1)
			writeName(b, a.enumeration)
		} else {
			b.WriteByte(0)
		}
		if err := writeFilterList(b, a.Filters()); err != nil {
			return nil, err
		}
	}

	b.WriteUint32(uint32(len(s.enums)))
	for name, e := range s.enums {
		writeName(b, name)
		b.WriteByte(byte(e.datatype))
		b.WriteUint32(e.cellValNum)
		b.WriteUint32(uint32(len(e.variants)))
		for _, v := range e.variants {
			writeSized(b, v)
		}
	}

	return b.Bytes(), nil
}

// DeserializeSchema parses the format produced by Schema.Serialize.
func DeserializeSchema(data []byte) (*Schema, error) {
	c := NewConstBuffer(data)
	magic, err := c.ReadUint32()
	if err != nil || magic != schemaMagic {
		return nil, errf(ErrBookkeeping, err, "schema: bad magic")
	}
	version, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if version > schemaFormatVersion {
		return nil, errf(ErrBookkeeping, nil, "schema: unsupported format version %d", version)
	}
	at, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	s := NewSchemaBuilder(ArrayType(at))

	toB, _ := c.ReadByte()
	s.tileOrder = TileOrder(toB)
	coB, _ := c.ReadByte()
	s.cellOrder = CellOrder(coB)
	cap_, err := c.ReadUint64()
	if err != nil {
		return nil, err
	}
	s.capacity = cap_
	dupsB, _ := c.ReadByte()
	s.allowsDups = dupsB != 0
	hbits, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	s.hilbertBits = int(hbits)

	dimCount, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < dimCount; i++ {
		name, err := readName(c)
		if err != nil {
			return nil, err
		}
		dtB, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		dt := Datatype(dtB)
		cellValNum, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		hasDomain, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		var dim *Dimension
		if hasDomain == 0 {
			dim = NewStringDimension(name)
		} else {
			lo, err := readSized(c)
			if err != nil {
				return nil, err
			}
			hi, err := readSized(c)
			if err != nil {
				return nil, err
			}
			dim = &Dimension{name: name, datatype: dt, lo: lo, hi: hi, cellValNum: cellValNum}
		}
		hasExtent, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		if hasExtent != 0 {
			extent, err := readSized(c)
			if err != nil {
				return nil, err
			}
			dim.hasExtent = true
			dim.extent = extent
		}
		s.dimsPending = append(s.dimsPending, dim)
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
		dtB, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		cellValNum, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		nullableB, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		fillValue, err := readSized(c)
		if err != nil {
			return nil, err
		}
		hasEnum, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		var enumName string
		if hasEnum != 0 {
			enumName, err = readName(c)
			if err != nil {
				return nil, err
			}
		}
		fl, err := readFilterList(c)
		if err != nil {
			return nil, err
		}
		a := &Attribute{
			name:        name,
			datatype:    Datatype(dtB),
			cellValNum:  cellValNum,
			nullable:    nullableB != 0,
			fillValue:   fillValue,
			filters:     fl,
			enumeration: enumName,
		}
		s.attrNames[name] = len(s.attrs)
		s.attrs = append(s.attrs, a)
	}

	enumCount, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < enumCount; i++ {
		name, err := readName(c)
		if err != nil {
			return nil, err
		}
		dtB, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		cellValNum, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		variantCount, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		variants := make([][]byte, variantCount)
		for j := uint32(0); j < variantCount; j++ {
			v, err := readSized(c)
			if err != nil {
				return nil, err
			}
			variants[j] = v
		}
		s.enums[name] = &Enumeration{name: name, datatype: Datatype(dtB), cellValNum: cellValNum, variants: variants}
	}

	if err := s.Finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func writeName(b *Buffer, name string) {
	b.WriteUint32(uint32(len(name)))
	b.WriteBytes([]byte(name))
}

func readName(c *ConstBuffer) (string, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return "", err
	}
	bs, err := c.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

func writeSized(b *Buffer, v []byte) {
	b.WriteUint32(uint32(len(v)))
	b.WriteBytes(v)
}

func readSized(c *ConstBuffer) ([]byte, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return c.ReadBytes(int(n))
}

var _ = binary.LittleEndian
