package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeIntSeq(dt Datatype, vs []int64) []byte {
	buf := make([]byte, 0, len(vs)*dt.ByteWidth())
	for _, v := range vs {
		buf = append(buf, EncodeInt(dt, v)...)
	}
	return buf
}

func TestDoubleDeltaRoundTripAcrossIntegerTypesAndPatterns(t *testing.T) {
	types := []Datatype{Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64}
	patterns := map[string][]int64{
		"strictly_increasing": {1, 2, 3, 5, 8, 13, 21, 34},
		"random":              {5, 1, 9, 2, 8, 0, 7, 3},
		"all_equal":           {4, 4, 4, 4, 4, 4, 4, 4},
	}

	for _, dt := range types {
		for name, vs := range patterns {
			vals := vs
			raw := encodeIntSeq(dt, vals)
			fl := NewFilterList(NewDoubleDeltaFilter())
			encoded, err := fl.Apply(dt, raw)
			require.NoError(t, err, "type %v pattern %s", dt, name)
			decoded, err := fl.Unapply(dt, encoded)
			require.NoError(t, err, "type %v pattern %s", dt, name)
			require.Equal(t, raw, decoded, "type %v pattern %s", dt, name)
		}
	}
}

func TestDoubleDeltaRoundTripEmptyAndSingleValue(t *testing.T) {
	fl := NewFilterList(NewDoubleDeltaFilter())

	encoded, err := fl.Apply(Int32, nil)
	require.NoError(t, err)
	decoded, err := fl.Unapply(Int32, encoded)
	require.NoError(t, err)
	require.Empty(t, decoded)

	single := encodeIntSeq(Int32, []int64{42})
	encoded, err = fl.Apply(Int32, single)
	require.NoError(t, err)
	decoded, err = fl.Unapply(Int32, encoded)
	require.NoError(t, err)
	require.Equal(t, single, decoded)
}
