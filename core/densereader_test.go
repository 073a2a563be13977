package core

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDenseScenario1(t *testing.T) (*Array, VFS) {
	t.Helper()
	s := NewSchemaBuilder(Dense)
	dim, err := NewNumericDimension("i", Int32, EncodeInt(Int32, 0), EncodeInt(Int32, 9), EncodeInt(Int32, 10))
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(dim))

	a, err := NewAttribute("a", Int32, 1, true, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddAttribute(a))

	c, err := NewAttribute("c", Int32, 1, false, nil)
	require.NoError(t, err)
	c.SetFillValue(EncodeInt(Int32, -1))
	require.NoError(t, s.AddAttribute(c))

	d, err := NewAttribute("d", Float32, 1, false, nil)
	require.NoError(t, err)
	d.SetFillValue(EncodeFloat(Float32, 0.0))
	require.NoError(t, s.AddAttribute(d))

	require.NoError(t, s.Finalize())

	vfs := NewFileVFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, CreateArray(ctx, vfs, "arr", s))

	aVals := []int32{0, 2, 0, 4, 0, 6, 0, 8, 0, 10}
	aValid := []byte{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	cVals := []int32{0, 0, 0, 0, 0, 0, 1, 2, 3, 4}
	dVals := []float32{4.1, 3.4, 5.6, 3.7, 2.3, 1.7, 3.8, 4.9, 3.2, 3.1}

	attrs := map[string]*CellBuffer{
		"a": {Data: packInt32(aVals), Validity: aValid},
		"c": {Data: packInt32(cVals)},
		"d": {Data: packFloat32(dVals)},
	}

	w := NewFragmentWriter(vfs, "arr", s, 1)
	require.NoError(t, w.WriteDenseCells(ctx, []int64{0}, []int64{9}, attrs))
	fragURI, err := w.Commit(ctx)
	require.NoError(t, err)

	arr, err := OpenArray(ctx, vfs, "arr", DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, arr.AddFragment(ctx, fragURI))
	return arr, vfs
}

func packInt32(vs []int32) []byte {
	buf := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		buf = append(buf, EncodeInt(Int32, int64(v))...)
	}
	return buf
}

func packFloat32(vs []float32) []byte {
	buf := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		buf = append(buf, EncodeFloat(Float32, float64(v))...)
	}
	return buf
}

func int32At(cb *CellBuffer, i int) int32 {
	return int32(binaryLE32(cb.Data[i*4 : i*4+4]))
}

func binaryLE32(b []byte) int32 {
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

func TestDenseReaderConditionIsNull(t *testing.T) {
	arr, vfs := buildDenseScenario1(t)
	schema, fragments := arr.Snapshot()
	reader := NewDenseReader(vfs, schema, fragments)

	out, err := reader.Read(context.Background(), []int64{0}, []int64{9}, IsNull("a"), []string{"a"})
	require.NoError(t, err)
	cb := out["a"]
	// Cells failing the condition are reset to a's fill value (and are
	// null too), so survivors are the cells that kept their written data.
	var got []int
	for i := 0; i < 10; i++ {
		if int32At(cb, i) != math.MaxInt32 {
			got = append(got, i)
		}
	}
	require.Equal(t, []int{0, 2, 4, 6, 8}, got)
}

func TestDenseReaderConditionCGE(t *testing.T) {
	arr, vfs := buildDenseScenario1(t)
	schema, fragments := arr.Snapshot()
	reader := NewDenseReader(vfs, schema, fragments)

	cond := NewComparison("c", OpGE, EncodeInt(Int32, 1))
	out, err := reader.Read(context.Background(), []int64{0}, []int64{9}, cond, []string{"c"})
	require.NoError(t, err)
	cb := out["c"]
	var survivors []int
	for i := 0; i < 10; i++ {
		if int32At(cb, i) != -1 {
			survivors = append(survivors, i)
		}
	}
	require.Equal(t, []int{6, 7, 8, 9}, survivors)
}

func TestDenseReaderConditionDBetween(t *testing.T) {
	arr, vfs := buildDenseScenario1(t)
	schema, fragments := arr.Snapshot()
	reader := NewDenseReader(vfs, schema, fragments)

	cond := And(
		NewComparison("d", OpGE, EncodeFloat(Float32, 3.0)),
		NewComparison("d", OpLE, EncodeFloat(Float32, 4.0)),
	)
	out, err := reader.Read(context.Background(), []int64{0}, []int64{9}, cond, []string{"d"})
	require.NoError(t, err)
	cb := out["d"]
	var survivors []int
	for i := 0; i < 10; i++ {
		if binaryLE32(cb.Data[i*4:i*4+4]) != 0 {
			survivors = append(survivors, i)
		}
	}
	require.Equal(t, []int{1, 3, 6, 8, 9}, survivors)
}

func TestDenseReaderCombinedCondition(t *testing.T) {
	arr, vfs := buildDenseScenario1(t)
	schema, fragments := arr.Snapshot()
	reader := NewDenseReader(vfs, schema, fragments)

	cond := And(
		NewComparison("d", OpGE, EncodeFloat(Float32, 3.0)),
		NewComparison("d", OpLE, EncodeFloat(Float32, 4.0)),
		IsNotNull("a"),
	)
	out, err := reader.Read(context.Background(), []int64{0}, []int64{9}, cond, []string{"a"})
	require.NoError(t, err)
	cb := out["a"]
	var survivors []int
	for i := 0; i < 10; i++ {
		if cb.Validity[i] != 0 {
			survivors = append(survivors, i)
		}
	}
	require.Equal(t, []int{1, 3, 9}, survivors)
}

func TestDenseReaderNoConditionReturnsAllWrittenValues(t *testing.T) {
	arr, vfs := buildDenseScenario1(t)
	schema, fragments := arr.Snapshot()
	reader := NewDenseReader(vfs, schema, fragments)

	out, err := reader.Read(context.Background(), []int64{0}, []int64{9}, nil, []string{"c"})
	require.NoError(t, err)
	cb := out["c"]
	expected := []int32{0, 0, 0, 0, 0, 0, 1, 2, 3, 4}
	for i, v := range expected {
		require.Equal(t, v, int32At(cb, i))
	}
}

func TestDenseReaderUnwrittenTileReadsAsFillValue(t *testing.T) {
	s := NewSchemaBuilder(Dense)
	dim, err := NewNumericDimension("i", Int32, EncodeInt(Int32, 0), EncodeInt(Int32, 9), EncodeInt(Int32, 10))
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(dim))
	c, err := NewAttribute("c", Int32, 1, false, nil)
	require.NoError(t, err)
	c.SetFillValue(EncodeInt(Int32, -1))
	require.NoError(t, s.AddAttribute(c))
	require.NoError(t, s.Finalize())

	vfs := NewFileVFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, CreateArray(ctx, vfs, "arr", s))

	reader := NewDenseReader(vfs, s, nil)
	out, err := reader.Read(ctx, []int64{0}, []int64{9}, nil, []string{"c"})
	require.NoError(t, err)
	cb := out["c"]
	for i := 0; i < 10; i++ {
		require.Equal(t, int32(-1), int32At(cb, i))
	}
}
