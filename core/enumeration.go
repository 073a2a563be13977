package core

// Enumeration is an ordered list of variants of one Datatype. An
// attribute that references an Enumeration stores a small integer index
// per cell; the schema carries the variant table out-of-line.
type Enumeration struct {
	name       string
	datatype   Datatype
	cellValNum uint32
	variants   [][]byte
}

// NewEnumeration builds an Enumeration from its ordered variant values.
func NewEnumeration(name string, dt Datatype, cellValNum uint32, variants [][]byte) (*Enumeration, error) {
	if len(variants) == 0 {
		return nil, errf(ErrSchema, nil, "enumeration %q: at least one variant required", name)
	}
	return &Enumeration{name: name, datatype: dt, cellValNum: cellValNum, variants: variants}, nil
}

func (e *Enumeration) Name() string       { return e.name }
func (e *Enumeration) Datatype() Datatype { return e.datatype }
func (e *Enumeration) NumVariants() int   { return len(e.variants) }

// Variant returns the raw bytes of variant i, or nil if out of range.
func (e *Enumeration) Variant(i int) []byte {
	if i < 0 || i >= len(e.variants) {
		return nil
	}
	return e.variants[i]
}

// IndexOf returns the index of a variant matching value, or -1.
func (e *Enumeration) IndexOf(value []byte) int {
	for i, v := range e.variants {
		if compareBytes(v, value) == 0 {
			return i
		}
	}
	return -1
}
