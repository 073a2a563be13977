package core

// DoubleDeltaFilter implements the bit-packed sign+magnitude
// double-delta codec, grounded on original_source/core/src/compressors/
// dd_compressor.cc. For an integer stream v_0..v_{n-1} it writes a
// per-chunk header (bitsize, count, first two raw values) followed by
// packed double-deltas dd_i = v_i - 2*v_{i-1} + v_{i-2} for i >= 2.
//
// Overflow contract: if any double-delta does not fit in 63 bits the
// forward pass fails (matching dd_compressor.cc's CompressionError on
// overflow) rather than silently truncating.
type DoubleDeltaFilter struct{}

func NewDoubleDeltaFilter() *DoubleDeltaFilter { return &DoubleDeltaFilter{} }

func (f *DoubleDeltaFilter) Kind() FilterKind { return FilterDoubleDelta }

// ddOverhead mirrors dd_compressor.cc's DoubleDelta::OVERHEAD: bitsize
// byte + count + two raw seed values, sized generously for the widest
// supported type (uint64).
const ddOverhead = 1 + 4 + 8 + 8

func (f *DoubleDeltaFilter) Forward(dt Datatype, chunk []byte) (filtered, metadata []byte, err error) {
	if !dt.IsInteger() {
		return nil, nil, errf(ErrCodec, nil, "double-delta requires an integer datatype, got %v", dt)
	}
	w := dt.ByteWidth()
	if w == 0 || len(chunk)%w != 0 {
		return nil, nil, errf(ErrCodec, nil, "double-delta: chunk not a multiple of type width %d", w)
	}
	n := len(chunk) / w
	vals := make([]int64, n)
	for i := 0; i < n; i++ {
		vals[i] = int64FromLE(chunk[i*w:(i+1)*w], dt.IsSigned())
	}
	if n == 0 {
		b := NewBuffer(4)
		b.WriteUint32(0)
		return b.Bytes(), []byte{0}, nil
	}
	if n == 1 {
		b := NewBuffer(ddOverhead)
		b.WriteUint32(uint32(n))
		b.WriteUint64(uint64(vals[0]))
		return b.Bytes(), []byte{64}, nil // bitsize=64 sentinel: copy-through
	}

	dds := make([]int64, n-2)
	maxAbs := int64(0)
	overflow := false
	for i := 2; i < n; i++ {
		dd := vals[i] - 2*vals[i-1] + vals[i-2]
		dds[i-2] = dd
		abs := dd
		if abs < 0 {
			if abs == -abs { // math.MinInt64 cannot be negated
				overflow = true
			}
			abs = -abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	if overflow {
		return nil, nil, errf(ErrCodec, nil, "double-delta: a double-delta does not fit in 63 bits")
	}
	bitsize := calculateBitsize(maxAbs)
	if bitsize >= 63 {
		// Values don't double-delta-compress cleanly; copy through
		// verbatim, matching dd_compressor.cc's bitsize>=wordbits-1 path.
		b := NewBuffer(len(chunk) + ddOverhead)
		b.WriteUint32(uint32(n))
		b.WriteBytes(chunk)
		return b.Bytes(), []byte{64}, nil
	}

	b := NewBuffer(len(chunk) + ddOverhead)
	b.WriteUint32(uint32(n))
	b.WriteUint64(uint64(vals[0]))
	b.WriteUint64(uint64(vals[1]))
	writeDoubleDeltas(b, dds, bitsize)

	return b.Bytes(), []byte{byte(bitsize)}, nil
}

func (f *DoubleDeltaFilter) Reverse(dt Datatype, filtered, metadata []byte, originalSize int) ([]byte, error) {
	if len(metadata) < 1 {
		return nil, errf(ErrCodec, nil, "double-delta: missing metadata")
	}
	bitsize := int(metadata[0])
	w := dt.ByteWidth()
	c := NewConstBuffer(filtered)
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	if bitsize >= 63 {
		if n == 1 {
			v, err := c.ReadUint64()
			if err != nil {
				return nil, err
			}
			out := make([]byte, w)
			putUintLE(out, v, w)
			return out, nil
		}
		raw, err := c.ReadBytes(int(n) * w)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), raw...), nil
	}

	v0u, err := c.ReadUint64()
	if err != nil {
		return nil, err
	}
	v1u, err := c.ReadUint64()
	if err != nil {
		return nil, err
	}
	v0, v1 := int64(v0u), int64(v1u)

	dds, err := readDoubleDeltas(c, int(n)-2, bitsize)
	if err != nil {
		return nil, err
	}

	vals := make([]int64, n)
	vals[0], vals[1] = v0, v1
	for i := 2; i < int(n); i++ {
		vals[i] = dds[i-2] + 2*vals[i-1] - vals[i-2]
	}

	out := make([]byte, int(n)*w)
	for i, v := range vals {
		putIntLE(out[i*w:(i+1)*w], v, w)
	}
	return out, nil
}

// calculateBitsize returns the minimum number of magnitude bits needed
// to represent maxAbs (sign bit is separate), matching dd_compressor.cc's
// calculate_bitsize.
func calculateBitsize(maxAbs int64) int {
	bitsize := 0
	for (int64(1) << uint(bitsize)) <= maxAbs {
		bitsize++
		if bitsize >= 63 {
			return 63
		}
	}
	return bitsize
}

// writeDoubleDeltas packs (sign bit + bitsize-bit magnitude) per value
// into a rolling 64-bit chunk, flushing 64 bits at a time.
func writeDoubleDeltas(b *Buffer, dds []int64, bitsize int) {
	var chunk uint64
	var bitInChunk uint
	totalBits := bitsize + 1
	for _, dd := range dds {
		sign := uint64(0)
		mag := dd
		if dd < 0 {
			sign = 1
			mag = -dd
		}
		val := (sign << uint(bitsize)) | uint64(mag)
		remaining := totalBits
		for remaining > 0 {
			space := 64 - bitInChunk
			take := uint(remaining)
			if take > space {
				take = space
			}
			shift := uint(remaining) - take
			piece := (val >> shift) & ((1 << take) - 1)
			chunk |= piece << (space - take)
			bitInChunk += take
			remaining -= int(take)
			if bitInChunk == 64 {
				b.WriteUint64(chunk)
				chunk = 0
				bitInChunk = 0
			}
		}
	}
	if bitInChunk > 0 {
		b.WriteUint64(chunk)
	}
}

func readDoubleDeltas(c *ConstBuffer, count int, bitsize int) ([]int64, error) {
	if count <= 0 {
		return nil, nil
	}
	totalBits := bitsize + 1
	out := make([]int64, count)
	var chunk uint64
	var bitInChunk uint
	var err error
	loadChunk := func() error {
		chunk, err = c.ReadUint64()
		bitInChunk = 64
		return err
	}
	for i := 0; i < count; i++ {
		var val uint64
		remaining := totalBits
		for remaining > 0 {
			if bitInChunk == 0 {
				if err := loadChunk(); err != nil {
					return nil, err
				}
			}
			take := uint(remaining)
			if take > bitInChunk {
				take = bitInChunk
			}
			shift := bitInChunk - take
			piece := (chunk >> shift) & ((1 << take) - 1)
			val = (val << take) | piece
			bitInChunk -= take
			remaining -= int(take)
		}
		sign := (val >> uint(bitsize)) & 1
		mag := int64(val & ((1 << uint(bitsize)) - 1))
		if sign != 0 {
			mag = -mag
		}
		out[i] = mag
	}
	return out, nil
}
