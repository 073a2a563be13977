package core

import "encoding/binary"

// Buffer is a growable byte buffer with a write cursor, used by codecs
// and serializers that need to append primitive values without
// allocating a new slice per field. Mirrors the legacy Buffer/
// ConstBuffer split: Buffer for writing, ConstBuffer for reading.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty Buffer with the given initial capacity hint.
func NewBuffer(capHint int) *Buffer {
	return &Buffer{data: make([]byte, 0, capHint)}
}

func (b *Buffer) Bytes() []byte { return b.data }
func (b *Buffer) Len() int      { return len(b.data) }

func (b *Buffer) WriteByte(v byte) { b.data = append(b.data, v) }

func (b *Buffer) WriteBytes(v []byte) { b.data = append(b.data, v...) }

func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// WriteVarint appends a zigzag-encoded varint, the scheme used for
// delta-coded fields throughout the bookkeeping serializer.
func (b *Buffer) WriteVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	b.data = append(b.data, tmp[:n]...)
}

func (b *Buffer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.data = append(b.data, tmp[:n]...)
}

// ConstBuffer is a read cursor over an immutable byte slice.
type ConstBuffer struct {
	data []byte
	pos  int
}

func NewConstBuffer(data []byte) *ConstBuffer {
	return &ConstBuffer{data: data}
}

func (c *ConstBuffer) Remaining() int { return len(c.data) - c.pos }
func (c *ConstBuffer) Pos() int       { return c.pos }

func (c *ConstBuffer) ReadByte() (byte, error) {
	if c.Remaining() < 1 {
		return 0, errf(ErrBookkeeping, nil, "buffer underrun reading byte")
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

func (c *ConstBuffer) ReadBytes(n int) ([]byte, error) {
	if c.Remaining() < n {
		return nil, errf(ErrBookkeeping, nil, "buffer underrun reading %d bytes", n)
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func (c *ConstBuffer) ReadUint32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *ConstBuffer) ReadUint64() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *ConstBuffer) ReadVarint() (int64, error) {
	v, n := binary.Varint(c.data[c.pos:])
	if n <= 0 {
		return 0, errf(ErrBookkeeping, nil, "malformed varint at offset %d", c.pos)
	}
	c.pos += n
	return v, nil
}

func (c *ConstBuffer) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(c.data[c.pos:])
	if n <= 0 {
		return 0, errf(ErrBookkeeping, nil, "malformed uvarint at offset %d", c.pos)
	}
	c.pos += n
	return v, nil
}
