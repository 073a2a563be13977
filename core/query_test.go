package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSparseManyCells(t *testing.T, n int) (*Array, VFS) {
	t.Helper()
	s := NewSchemaBuilder(Sparse)
	id, err := NewNumericDimension("id", Int32, EncodeInt(Int32, 0), EncodeInt(Int32, int64(n-1)), EncodeInt(Int32, 1))
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(id))
	v, err := NewAttribute("v", Int32, 1, false, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddAttribute(v))
	require.NoError(t, s.Finalize())

	vfs := NewFileVFS(t.TempDir())
	ctx := context.Background()
	require.NoError(t, CreateArray(ctx, vfs, "arr", s))

	ids := make([]int32, n)
	vals := make([]int32, n)
	for i := 0; i < n; i++ {
		ids[i] = int32(i)
		vals[i] = int32(i * 2)
	}
	coords := map[string]*CellBuffer{"id": {Data: packInt32(ids)}}
	attrs := map[string]*CellBuffer{"v": {Data: packInt32(vals)}}

	w := NewFragmentWriter(vfs, "arr", s, 1)
	require.NoError(t, w.WriteSparseCells(ctx, coords, attrs, GlobalOrder))
	fragURI, err := w.Commit(ctx)
	require.NoError(t, err)

	arr, err := OpenArray(ctx, vfs, "arr", DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, arr.AddFragment(ctx, fragURI))
	return arr, vfs
}

func TestQueryIncompleteResumptionMatchesSingleRead(t *testing.T) {
	const n = 23
	arr, _ := buildSparseManyCells(t, n)
	ctx := context.Background()

	full, err := NewReadQuery(arr, []int64{0}, []int64{n - 1}, nil, []string{"v"})
	require.NoError(t, err)
	fullCoords, fullAttrs, status, err := full.Submit(ctx, n)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	paged, err := NewReadQuery(arr, []int64{0}, []int64{n - 1}, nil, []string{"v"})
	require.NoError(t, err)

	var gotIDs []int32
	var gotVals []int32
	for {
		coords, attrs, status, err := paged.Submit(ctx, 4)
		require.NoError(t, err)
		idCB := coords["id"]
		vCB := attrs["v"]
		for i := 0; i*4 < len(idCB.Data); i++ {
			gotIDs = append(gotIDs, int32At(idCB, i))
			gotVals = append(gotVals, int32At(vCB, i))
		}
		if status == StatusOK {
			break
		}
	}

	require.Len(t, gotIDs, n)
	for i := 0; i < n; i++ {
		require.Equal(t, int32At(fullCoords["id"], i), gotIDs[i])
		require.Equal(t, int32At(fullAttrs["v"], i), gotVals[i])
	}
}

func TestQueryResumeFromPersistedCursor(t *testing.T) {
	const n = 10
	arr, _ := buildSparseManyCells(t, n)
	ctx := context.Background()

	q, err := NewReadQuery(arr, []int64{0}, []int64{n - 1}, nil, []string{"v"})
	require.NoError(t, err)
	_, _, status, err := q.Submit(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, StatusIncomplete, status)

	cursorBytes := q.Cursor().Serialize()
	cursor, err := DeserializeQueryCursor(cursorBytes)
	require.NoError(t, err)

	resumed, err := NewReadQuery(arr, []int64{0}, []int64{n - 1}, nil, []string{"v"})
	require.NoError(t, err)
	resumed.Resume(cursor)
	coords, _, status, err := resumed.Submit(ctx, n)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	idCB := coords["id"]
	require.Equal(t, int32(3), int32At(idCB, 0))
}
