package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDenseGrid4x4(t *testing.T) (*Schema, VFS, []*Fragment) {
	t.Helper()
	s := NewSchemaBuilder(Dense)
	row, err := NewNumericDimension("row", Int32, EncodeInt(Int32, 0), EncodeInt(Int32, 3), EncodeInt(Int32, 2))
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(row))
	col, err := NewNumericDimension("col", Int32, EncodeInt(Int32, 0), EncodeInt(Int32, 3), EncodeInt(Int32, 2))
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(col))
	v, err := NewAttribute("v", Int32, 1, false, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddAttribute(v))
	require.NoError(t, s.Finalize())

	vfs := NewFileVFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, CreateArray(ctx, vfs, "arr", s))

	write := func(ts uint64, lo, hi []int64, val int32) {
		n := int(hi[0]-lo[0]+1) * int(hi[1]-lo[1]+1)
		vals := make([]int32, n)
		for i := range vals {
			vals[i] = val
		}
		w := NewFragmentWriter(vfs, "arr", s, ts)
		require.NoError(t, w.WriteDenseCells(ctx, lo, hi, map[string]*CellBuffer{"v": {Data: packInt32(vals)}}))
		_, err := w.Commit(ctx)
		require.NoError(t, err)
	}

	write(1, []int64{0, 0}, []int64{3, 3}, 1)
	write(2, []int64{2, 0}, []int64{3, 3}, 2)
	write(3, []int64{0, 2}, []int64{1, 3}, 3)

	arr, err := OpenArray(ctx, vfs, "arr", DefaultConfig(), nil)
	require.NoError(t, err)
	_, fragments := arr.Snapshot()
	require.Len(t, fragments, 3)
	return s, vfs, fragments
}

func expectedGrid() []int32 {
	// row-major 4x4: rows 0-1 from write1/write3, rows 2-3 from write2 (newest wins per tile).
	return []int32{
		1, 1, 3, 3,
		1, 1, 3, 3,
		2, 2, 2, 2,
		2, 2, 2, 2,
	}
}

func TestConsolidationPreservesReadEquivalence(t *testing.T) {
	s, vfs, fragments := buildDenseGrid4x4(t)
	ctx := context.Background()

	preReader := NewDenseReader(vfs, s, fragments)
	preOut, err := preReader.Read(ctx, []int64{0, 0}, []int64{3, 3}, nil, []string{"v"})
	require.NoError(t, err)
	expected := expectedGrid()
	for i, want := range expected {
		require.Equal(t, want, int32At(preOut["v"], i), "pre-consolidation cell %d", i)
	}

	consolidator := NewConsolidator(vfs, "arr", s)
	fragURI, err := consolidator.Consolidate(ctx, fragments)
	require.NoError(t, err)

	merged, err := OpenFragment(ctx, vfs, "arr", fragURI, s)
	require.NoError(t, err)

	postReader := NewDenseReader(vfs, s, []*Fragment{merged})
	postOut, err := postReader.Read(ctx, []int64{0, 0}, []int64{3, 3}, nil, []string{"v"})
	require.NoError(t, err)
	for i, want := range expected {
		require.Equal(t, want, int32At(postOut["v"], i), "post-consolidation cell %d", i)
	}
}
