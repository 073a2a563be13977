package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCellValues struct {
	dt     map[string]Datatype
	values map[string][][]byte
	valid  map[string][]bool
}

func (f *fakeCellValues) Datatype(field string) Datatype { return f.dt[field] }

func (f *fakeCellValues) Value(field string, cell int) ([]byte, bool) {
	valid := f.valid[field] == nil || f.valid[field][cell]
	return f.values[field][cell], valid
}

func TestQueryConditionComparisons(t *testing.T) {
	cv := &fakeCellValues{
		dt:     map[string]Datatype{"c": Int32},
		values: map[string][][]byte{"c": {encodeI32(0), encodeI32(5), encodeI32(10)}},
	}
	cond := NewComparison("c", OpGE, encodeI32(5))
	assert.False(t, cond.Eval(cv, 0))
	assert.True(t, cond.Eval(cv, 1))
	assert.True(t, cond.Eval(cv, 2))
}

func TestQueryConditionIsNull(t *testing.T) {
	cv := &fakeCellValues{
		dt:     map[string]Datatype{"a": Int32},
		values: map[string][][]byte{"a": {encodeI32(0), encodeI32(2), encodeI32(0)}},
		valid:  map[string][]bool{"a": {false, true, false}},
	}
	isNull := IsNull("a")
	assert.True(t, isNull.Eval(cv, 0))
	assert.False(t, isNull.Eval(cv, 1))
	assert.True(t, isNull.Eval(cv, 2))

	isNotNull := IsNotNull("a")
	assert.False(t, isNotNull.Eval(cv, 0))
	assert.True(t, isNotNull.Eval(cv, 1))
}

func TestQueryConditionComparisonAgainstNullIsFalse(t *testing.T) {
	cv := &fakeCellValues{
		dt:     map[string]Datatype{"a": Int32},
		values: map[string][][]byte{"a": {encodeI32(0)}},
		valid:  map[string][]bool{"a": {false}},
	}
	cond := NewComparison("a", OpEQ, encodeI32(0))
	assert.False(t, cond.Eval(cv, 0))
}

func TestQueryConditionAndOrNot(t *testing.T) {
	cv := &fakeCellValues{
		dt: map[string]Datatype{"x": Int32, "y": Int32},
		values: map[string][][]byte{
			"x": {encodeI32(1), encodeI32(5)},
			"y": {encodeI32(1), encodeI32(5)},
		},
	}
	and := And(NewComparison("x", OpGE, encodeI32(1)), NewComparison("y", OpLT, encodeI32(3)))
	assert.True(t, and.Eval(cv, 0))
	assert.False(t, and.Eval(cv, 1))

	or := Or(NewComparison("x", OpGE, encodeI32(10)), NewComparison("y", OpLT, encodeI32(3)))
	assert.True(t, or.Eval(cv, 0))
	assert.False(t, or.Eval(cv, 1))

	not := Not(NewComparison("x", OpGE, encodeI32(10)))
	assert.True(t, not.Eval(cv, 0))
}

func TestQueryConditionValidateRejectsUnknownField(t *testing.T) {
	s := NewSchemaBuilder(Sparse)
	d, err := NewNumericDimension("id", Int32, encodeI32(0), encodeI32(99), encodeI32(10))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddDimension(d); err != nil {
		t.Fatal(err)
	}
	a, err := NewAttribute("v", Int32, 1, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddAttribute(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatal(err)
	}

	cond := NewComparison("nope", OpEQ, encodeI32(0))
	assert.Error(t, cond.Validate(s))

	ok := NewComparison("v", OpEQ, encodeI32(0))
	assert.NoError(t, ok.Validate(s))
}

func encodeI32(v int32) []byte {
	return EncodeInt(Int32, int64(v))
}
