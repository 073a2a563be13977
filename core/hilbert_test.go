package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHilbertSpecificValues(t *testing.T) {
	hc, err := NewHilbertCurve(4, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hc.CoordsToHilbert([]int64{1, 1}))
	assert.Equal(t, []int64{2, 3}, hc.HilbertToCoords(9))
}

func TestHilbertRoundTrip(t *testing.T) {
	hc, err := NewHilbertCurve(4, 2)
	require.NoError(t, err)
	for x := int64(0); x < 16; x++ {
		for y := int64(0); y < 16; y++ {
			h := hc.CoordsToHilbert([]int64{x, y})
			coords := hc.HilbertToCoords(h)
			assert.Equal(t, []int64{x, y}, coords)
		}
	}
}

func TestHilbertRejectsOutOfRangeConfig(t *testing.T) {
	_, err := NewHilbertCurve(32, 2)
	assert.Error(t, err)
	_, err = NewHilbertCurve(4, 0)
	assert.Error(t, err)
}
