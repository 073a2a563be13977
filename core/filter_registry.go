package core

import "github.com/klauspost/compress/zstd"

// marshalFilterOptions/unmarshalFilter serialize the small option set
// each filter needs to be reconstructed from a persisted schema, per
// the closed FilterKind dispatch (no open filter registry).

func marshalFilterOptions(f Filter) ([]byte, error) {
	switch v := f.(type) {
	case *GzipFilter:
		return []byte{byte(v.Level)}, nil
	case *ZstdFilter:
		return []byte{byte(v.Level)}, nil
	case *LZ4Filter:
		return nil, nil
	case *BZip2Filter:
		return []byte{byte(v.Level)}, nil
	case *SnappyFilter:
		return nil, nil
	case *ZlibFilter:
		return []byte{byte(v.Level)}, nil
	case *BloscFilter:
		return []byte{byte(v.Sub), byte(v.TypeSize)}, nil
	case *RLEFilter:
		return []byte{byte(v.TypeSize)}, nil
	case *ByteShuffleFilter:
		return []byte{byte(v.TypeSize)}, nil
	case *BitShuffleFilter:
		return []byte{byte(v.TypeSize)}, nil
	case *BitWidthReductionFilter:
		return []byte{byte(v.TypeSize)}, nil
	case *PositiveDeltaFilter:
		return nil, nil
	case *DoubleDeltaFilter:
		return nil, nil
	case *ChecksumMD5Filter:
		return nil, nil
	case *ChecksumSHA256Filter:
		return nil, nil
	case *WebPFilter:
		b := NewBuffer(16)
		b.WriteUint32(uint32(v.Width))
		b.WriteUint32(uint32(v.Height))
		b.WriteByte(boolByte(v.Lossless))
		b.WriteByte(byte(v.Quality))
		return b.Bytes(), nil
	default:
		return nil, errf(ErrSchema, nil, "unknown filter type %T", f)
	}
}

func unmarshalFilter(kind FilterKind, opts []byte) (Filter, error) {
	switch kind {
	case FilterDoubleDelta:
		return NewDoubleDeltaFilter(), nil
	case FilterGzip:
		return NewGzipFilter(optByte(opts, 0)), nil
	case FilterZstd:
		return NewZstdFilter(zstd.EncoderLevel(optByte(opts, 0))), nil
	case FilterLZ4:
		return NewLZ4Filter(), nil
	case FilterBlosc:
		sub := BloscSubCodec(0)
		ts := 4
		if len(opts) >= 2 {
			sub = BloscSubCodec(opts[0])
			ts = int(opts[1])
		}
		return NewBloscFilter(sub, ts), nil
	case FilterBZip2:
		return NewBZip2Filter(optByte(opts, 0)), nil
	case FilterRLE:
		return NewRLEFilter(optByte(opts, 1)), nil
	case FilterWebP:
		c := NewConstBuffer(opts)
		w, _ := c.ReadUint32()
		h, _ := c.ReadUint32()
		lossless, _ := c.ReadByte()
		quality, _ := c.ReadByte()
		return NewWebPFilter(int(w), int(h), lossless != 0, float32(quality)), nil
	case FilterBitWidthReduction:
		return NewBitWidthReductionFilter(optByte(opts, 4)), nil
	case FilterPositiveDelta:
		return NewPositiveDeltaFilter(), nil
	case FilterBitShuffle:
		return NewBitShuffleFilter(optByte(opts, 4)), nil
	case FilterByteShuffle:
		return NewByteShuffleFilter(optByte(opts, 4)), nil
	case FilterChecksumMD5:
		return NewChecksumMD5Filter(), nil
	case FilterChecksumSHA256:
		return NewChecksumSHA256Filter(), nil
	case FilterSnappy:
		return NewSnappyFilter(), nil
	case FilterZlib:
		return NewZlibFilter(optByte(opts, 0)), nil
	default:
		return nil, errf(ErrSchema, nil, "unknown filter kind %d", kind)
	}
}

func optByte(opts []byte, def int) int {
	if len(opts) == 0 {
		return def
	}
	return int(opts[0])
}
