package core

import "strings"

// Attribute is a named per-cell value bound to a Schema's domain: a
// Datatype, a cell-val-num (1..N, or VarLen for variable-length),
// nullability, a fill value, a filter list, and an optional
// Enumeration reference.
type Attribute struct {
	name        string
	datatype    Datatype
	cellValNum  uint32
	nullable    bool
	fillValue   []byte
	filters     *FilterList
	enumeration string // enumeration name, resolved at Array open; "" if none
}

// CoordsAttributeName is the reserved pseudo-attribute holding zipped
// sparse coordinates.
const CoordsAttributeName = "__coords"

// NewAttribute builds an Attribute. Names beginning with "__" are
// reserved for internal pseudo-attributes and rejected here; callers
// that need __coords construct it via newCoordsAttribute.
func NewAttribute(name string, dt Datatype, cellValNum uint32, nullable bool, filters *FilterList) (*Attribute, error) {
	if strings.HasPrefix(name, "__") {
		return nil, errf(ErrSchema, nil, "attribute name %q is reserved", name)
	}
	return newAttributeUnchecked(name, dt, cellValNum, nullable, filters)
}

func newAttributeUnchecked(name string, dt Datatype, cellValNum uint32, nullable bool, filters *FilterList) (*Attribute, error) {
	if cellValNum == 0 {
		return nil, errf(ErrSchema, nil, "attribute %q: cell_val_num must be positive", name)
	}
	a := &Attribute{name: name, datatype: dt, cellValNum: cellValNum, nullable: nullable, filters: filters}
	a.fillValue = dt.FillValue()
	return a, nil
}

func newCoordsAttribute(dm *Domain) *Attribute {
	return &Attribute{
		name:       CoordsAttributeName,
		datatype:   Uint8, // zipped raw bytes; interpretation is per-dimension
		cellValNum: VarLen,
		filters:    NewFilterList(),
	}
}

func (a *Attribute) Name() string       { return a.name }
func (a *Attribute) Datatype() Datatype { return a.datatype }
func (a *Attribute) CellValNum() uint32 { return a.cellValNum }
func (a *Attribute) Nullable() bool     { return a.nullable }
func (a *Attribute) FillValue() []byte  { return a.fillValue }
func (a *Attribute) Filters() *FilterList {
	if a.filters == nil {
		return NewFilterList()
	}
	return a.filters
}
func (a *Attribute) IsVar() bool         { return a.cellValNum == VarLen || a.datatype.IsVariableLength() }
func (a *Attribute) Enumeration() string { return a.enumeration }

// SetFillValue overrides the type-default fill value, e.g. the "fill=-1"
// override used in the dense scenario test.
func (a *Attribute) SetFillValue(v []byte) { a.fillValue = v }

// SetEnumeration binds this attribute to a named Enumeration; resolved
// against the Schema's enumeration table at Array open time.
func (a *Attribute) SetEnumeration(name string) { a.enumeration = name }
