package core

// CompareOp is a QueryCondition leaf comparison operator.
type CompareOp uint8

const (
	OpLT CompareOp = iota
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE
	OpIsNull
	OpIsNotNull
)

// CombineOp joins two QueryConditions.
type CombineOp uint8

const (
	CombineAND CombineOp = iota
	CombineOR
	CombineNOT
)

// QueryCondition is a predicate tree over attribute values, evaluated
// per-cell against a materialized tile during a read, per spec.md
// §4.8. A condition is either a leaf (field/op/value) or a combination
// of sub-conditions.
type QueryCondition struct {
	isLeaf bool

	field string
	op    CompareOp
	value []byte

	combine CombineOp
	parts   []*QueryCondition
}

// NewComparison builds a leaf condition: fieldName op value.
func NewComparison(fieldName string, op CompareOp, value []byte) *QueryCondition {
	return &QueryCondition{isLeaf: true, field: fieldName, op: op, value: value}
}

// IsNull and IsNotNull build the two null-test leaves spec.md §4.8
// calls out as the only operators NULL participates in.
func IsNull(fieldName string) *QueryCondition {
	return &QueryCondition{isLeaf: true, field: fieldName, op: OpIsNull}
}

func IsNotNull(fieldName string) *QueryCondition {
	return &QueryCondition{isLeaf: true, field: fieldName, op: OpIsNotNull}
}

// And/Or combine two or more conditions.
func And(parts ...*QueryCondition) *QueryCondition {
	return &QueryCondition{combine: CombineAND, parts: parts}
}

func Or(parts ...*QueryCondition) *QueryCondition {
	return &QueryCondition{combine: CombineOR, parts: parts}
}

// Not negates a single condition.
func Not(c *QueryCondition) *QueryCondition {
	return &QueryCondition{combine: CombineNOT, parts: []*QueryCondition{c}}
}

// Validate checks every referenced field exists in the schema and every
// leaf's datatype matches its field's, per spec.md §4.8's edge case
// rejecting unknown fields or incompatible value encodings.
func (c *QueryCondition) Validate(s *Schema) error {
	if c.isLeaf {
		a := s.AttributeByName(c.field)
		var dt Datatype
		if a != nil {
			dt = a.Datatype()
			if a.IsVar() && c.op != OpEQ && c.op != OpNE {
				return errf(ErrQuery, nil, "field %q: only EQ/NE are supported on variable-length attributes", c.field)
			}
		} else if d := s.Domain().DimensionByName(c.field); d != nil {
			dt = d.Datatype()
		} else {
			return errf(ErrQuery, nil, "condition references unknown field %q", c.field)
		}
		if c.op == OpIsNull || c.op == OpIsNotNull {
			return nil
		}
		if !dt.IsVariableLength() && dt.ByteWidth() != 0 && len(c.value) != dt.ByteWidth() {
			return errf(ErrQuery, nil, "field %q: value has %d bytes, want %d", c.field, len(c.value), dt.ByteWidth())
		}
		return nil
	}
	for _, p := range c.parts {
		if err := p.Validate(s); err != nil {
			return err
		}
	}
	return nil
}

// CellValues is the per-field raw-bytes lookup a condition evaluates
// against for one cell; callers supply a closure (or a simple map) over
// a materialized tile's decoded attribute/dimension buffers.
type CellValues interface {
	// Value returns the raw bytes for field at the given cell index, and
	// whether the cell is non-null (false only possible for nullable
	// attributes).
	Value(field string, cell int) (value []byte, valid bool)
	Datatype(field string) Datatype
}

// Eval evaluates the condition against one cell, short-circuiting
// AND/OR per usual boolean semantics. A comparison against a null
// (invalid) value is always false, matching spec.md §4.8's null
// handling.
func (c *QueryCondition) Eval(cv CellValues, cell int) bool {
	if c.isLeaf {
		v, valid := cv.Value(c.field, cell)
		if c.op == OpIsNull {
			return !valid
		}
		if c.op == OpIsNotNull {
			return valid
		}
		if !valid {
			return false
		}
		dt := cv.Datatype(c.field)
		cmp := CompareValues(dt, v, c.value)
		switch c.op {
		case OpLT:
			return cmp < 0
		case OpLE:
			return cmp <= 0
		case OpGT:
			return cmp > 0
		case OpGE:
			return cmp >= 0
		case OpEQ:
			return cmp == 0
		case OpNE:
			return cmp != 0
		}
		return false
	}
	switch c.combine {
	case CombineNOT:
		return !c.parts[0].Eval(cv, cell)
	case CombineOR:
		for _, p := range c.parts {
			if p.Eval(cv, cell) {
				return true
			}
		}
		return false
	default: // CombineAND
		for _, p := range c.parts {
			if !p.Eval(cv, cell) {
				return false
			}
		}
		return true
	}
}

// Fields returns the set of distinct field names this condition
// references, used by a Query to pull in extra attribute buffers that
// weren't otherwise requested (spec.md §4.8: condition fields need not
// be in the result set).
func (c *QueryCondition) Fields() []string {
	seen := make(map[string]bool)
	var collect func(*QueryCondition)
	collect = func(n *QueryCondition) {
		if n.isLeaf {
			seen[n.field] = true
			return
		}
		for _, p := range n.parts {
			collect(p)
		}
	}
	collect(c)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}
