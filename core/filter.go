package core

// FilterKind identifies a filter implementation for serialization and
// dispatch; a closed enum per the "variant dispatch" design note (no
// open filter registry).
type FilterKind uint8

const (
	FilterDoubleDelta FilterKind = iota
	FilterGzip
	FilterZstd
	FilterLZ4
	FilterBlosc
	FilterBZip2
	FilterRLE
	FilterWebP
	FilterBitWidthReduction
	FilterPositiveDelta
	FilterBitShuffle
	FilterByteShuffle
	FilterChecksumMD5
	FilterChecksumSHA256
	FilterSnappy
	FilterZlib
)

// BloscSubCodec selects which codec Blosc's container delegates to.
type BloscSubCodec uint8

const (
	BloscLZ BloscSubCodec = iota
	BloscLZ4
	BloscLZ4HC
	BloscSnappy
	BloscZlib
	BloscZstd
)

// DefaultChunkSize is the default fixed chunk size the pipeline splits
// a tile into before filtering, per SPEC_FULL.md §4.1.
const DefaultChunkSize = 64 * 1024

// Filter is a pure transform over a byte chunk, with an independent
// forward (write) and reverse (read) direction. Implementations close
// over whatever per-filter options they need (quality, sub-codec,
// bitsize hint) at construction time.
type Filter interface {
	Kind() FilterKind
	// Forward compresses/encodes chunk, producing filtered bytes plus
	// small filter-specific metadata carried in the chunk header.
	Forward(datatype Datatype, chunk []byte) (filtered, metadata []byte, err error)
	// Reverse reconstructs the original chunk of originalSize bytes from
	// filtered bytes and the metadata produced by Forward.
	Reverse(datatype Datatype, filtered, metadata []byte, originalSize int) ([]byte, error)
}

// FilterList is an ordered sequence of filters applied on write in
// order and on read in reverse.
type FilterList struct {
	filters   []Filter
	chunkSize int
}

func NewFilterList(filters ...Filter) *FilterList {
	return &FilterList{filters: filters, chunkSize: DefaultChunkSize}
}

func (fl *FilterList) Append(f Filter)   { fl.filters = append(fl.filters, f) }
func (fl *FilterList) Filters() []Filter { return fl.filters }
func (fl *FilterList) SetChunkSize(n int) {
	if n > 0 {
		fl.chunkSize = n
	}
}
func (fl *FilterList) ChunkSize() int {
	if fl.chunkSize == 0 {
		return DefaultChunkSize
	}
	return fl.chunkSize
}

// chunkRecord is one entry of the pipeline output layout from
// SPEC_FULL.md §4.1: [original_size, filtered_size, metadata_size,
// metadata, filtered_bytes].
type chunkRecord struct {
	originalSize int
	filtered     []byte
	metadata     []byte
}

// Apply runs the filter list forward over tile, chunked into
// fl.ChunkSize()-byte pieces, each filtered independently through every
// filter in order so sub-ranges remain independently decodable.
func (fl *FilterList) Apply(datatype Datatype, tile []byte) ([]byte, error) {
	chunkSize := fl.ChunkSize()
	var records []chunkRecord
	for off := 0; off < len(tile) || (len(tile) == 0 && len(records) == 0); off += chunkSize {
		end := off + chunkSize
		if end > len(tile) {
			end = len(tile)
		}
		chunk := tile[off:end]
		originalSize := len(chunk)
		data := append([]byte(nil), chunk...)
		var meta []byte
		for _, f := range fl.filters {
			fwd, m, err := f.Forward(datatype, data)
			if err != nil {
				return nil, errf(ErrCodec, err, "filter %d forward failed", f.Kind())
			}
			data = fwd
			meta = appendMetaFrame(meta, m)
		}
		records = append(records, chunkRecord{originalSize: originalSize, filtered: data, metadata: meta})
		if len(tile) == 0 {
			break
		}
	}
	out := NewBuffer(len(tile) + 64)
	out.WriteUint32(uint32(len(records)))
	for _, r := range records {
		out.WriteUint32(uint32(r.originalSize))
		out.WriteUint32(uint32(len(r.filtered)))
		out.WriteUint32(uint32(len(r.metadata)))
		out.WriteBytes(r.metadata)
		out.WriteBytes(r.filtered)
	}
	return out.Bytes(), nil
}

// Unapply reverses Apply: any chunk failure fails the whole tile read.
func (fl *FilterList) Unapply(datatype Datatype, encoded []byte) ([]byte, error) {
	c := NewConstBuffer(encoded)
	numChunks, err := c.ReadUint32()
	if err != nil {
		return nil, errf(ErrCodec, err, "malformed pipeline header")
	}
	out := NewBuffer(len(encoded))
	for i := uint32(0); i < numChunks; i++ {
		originalSize, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		filteredSize, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		metaSize, err := c.ReadUint32()
		if err != nil {
			return nil, err
		}
		metaBytes, err := c.ReadBytes(int(metaSize))
		if err != nil {
			return nil, err
		}
		data, err := c.ReadBytes(int(filteredSize))
		if err != nil {
			return nil, err
		}
		metaFrames := splitMetaFrames(metaBytes, len(fl.filters))
		cur := append([]byte(nil), data...)
		for j := len(fl.filters) - 1; j >= 0; j-- {
			f := fl.filters[j]
			prevSize := int(originalSize)
			if j > 0 {
				// Intermediate sizes aren't tracked explicitly; filters
				// that need an exact reverse length encode it in their
				// own metadata frame.
				prevSize = -1
			}
			cur, err = f.Reverse(datatype, cur, metaFrames[j], prevSize)
			if err != nil {
				return nil, errf(ErrCodec, err, "filter %d reverse failed", f.Kind())
			}
		}
		if len(cur) != int(originalSize) {
			return nil, errf(ErrCodec, nil, "chunk %d: reconstructed %d bytes, want %d", i, len(cur), originalSize)
		}
		out.WriteBytes(cur)
	}
	return out.Bytes(), nil
}

// appendMetaFrame/splitMetaFrames let each filter in the list carry its
// own length-prefixed metadata blob within one chunk metadata region.
func appendMetaFrame(existing, frame []byte) []byte {
	b := NewBuffer(len(existing) + len(frame) + 4)
	b.WriteBytes(existing)
	b.WriteUint32(uint32(len(frame)))
	b.WriteBytes(frame)
	return b.Bytes()
}

func splitMetaFrames(meta []byte, n int) [][]byte {
	frames := make([][]byte, n)
	c := NewConstBuffer(meta)
	for i := 0; i < n; i++ {
		if c.Remaining() < 4 {
			break
		}
		sz, err := c.ReadUint32()
		if err != nil {
			break
		}
		b, err := c.ReadBytes(int(sz))
		if err != nil {
			break
		}
		frames[i] = b
	}
	return frames
}

// writeFilterList/readFilterList serialize a FilterList as part of the
// schema format (§6.2's embedded filter_list fields).
func writeFilterList(b *Buffer, fl *FilterList) error {
	b.WriteUint32(uint32(len(fl.filters)))
	for _, f := range fl.filters {
		b.WriteByte(byte(f.Kind()))
		opts, err := marshalFilterOptions(f)
		if err != nil {
			return err
		}
		writeSized(b, opts)
	}
	b.WriteUint32(uint32(fl.ChunkSize()))
	return nil
}

func readFilterList(c *ConstBuffer) (*FilterList, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	fl := NewFilterList()
	for i := uint32(0); i < n; i++ {
		kindB, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		opts, err := readSized(c)
		if err != nil {
			return nil, err
		}
		f, err := unmarshalFilter(FilterKind(kindB), opts)
		if err != nil {
			return nil, err
		}
		fl.Append(f)
	}
	chunkSize, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	fl.SetChunkSize(int(chunkSize))
	return fl, nil
}
