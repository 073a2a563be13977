package core

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"time"

	"go.uber.org/zap"
)

// KV is a convenience layer over a 2D sparse uint64 array, following
// original_source/core/src/kv/kv.cc's scheme of hashing each key with
// MD5 and splitting the digest into two uint64 coordinates rather than
// giving the array a dedicated key-indexed storage format. Value
// attributes are whatever the caller declared via NewKVSchema; the key
// bytes themselves are kept alongside as a reserved attribute so a
// coordinate collision (two distinct keys hashing to the same point,
// astronomically unlikely at 128 bits but not impossible) can be
// detected on Get rather than silently returning the wrong value.
type KV struct {
	array  *Array
	schema *Schema
}

const (
	kvKeyAttr     = "kv_key"
	kvKeyTypeAttr = "kv_key_type"
)

// NewKVSchema builds the 2D sparse schema a KV array uses: two uint64
// dimensions spanning the full hash space, plus the reserved key/
// key-type bookkeeping attributes and the caller's value attributes.
func NewKVSchema(valueAttrs []*Attribute) (*Schema, error) {
	s := NewSchemaBuilder(Sparse)
	full := make([]byte, 8)
	binary.LittleEndian.PutUint64(full, ^uint64(0))
	zero := make([]byte, 8)
	for _, name := range []string{"hash0", "hash1"} {
		d, err := NewNumericDimension(name, Uint64, zero, full, nil)
		if err != nil {
			return nil, err
		}
		if err := s.AddDimension(d); err != nil {
			return nil, err
		}
	}
	keyAttr, err := newAttributeUnchecked(kvKeyAttr, StringASCII, VarLen, false, NewFilterList())
	if err != nil {
		return nil, err
	}
	if err := s.AddAttribute(keyAttr); err != nil {
		return nil, err
	}
	keyTypeAttr, err := newAttributeUnchecked(kvKeyTypeAttr, Uint8, 1, false, NewFilterList())
	if err != nil {
		return nil, err
	}
	if err := s.AddAttribute(keyTypeAttr); err != nil {
		return nil, err
	}
	for _, a := range valueAttrs {
		if err := s.AddAttribute(a); err != nil {
			return nil, err
		}
	}
	if err := s.Finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateKV creates a new KV-backed array at uri.
func CreateKV(ctx context.Context, vfs VFS, uri string, valueAttrs []*Attribute) error {
	schema, err := NewKVSchema(valueAttrs)
	if err != nil {
		return err
	}
	return CreateArray(ctx, vfs, uri, schema)
}

// OpenKV opens a previously created KV array.
func OpenKV(ctx context.Context, vfs VFS, uri string, cfg Config, logger *zap.Logger) (*KV, error) {
	a, err := OpenArray(ctx, vfs, uri, cfg, logger)
	if err != nil {
		return nil, err
	}
	schema, _ := a.Snapshot()
	if schema.ArrayType() != Sparse || schema.AttributeByName(kvKeyAttr) == nil {
		return nil, errf(ErrSchema, nil, "array %s is not a KV array", uri)
	}
	return &KV{array: a, schema: schema}, nil
}

// keyCoords hashes key (tagged with keyType, per compute_subarray/
// compute_coords in kv.cc, so that e.g. the int64 1 and the float64
// 1.0 never collide just because their raw bytes overlap) into the
// array's two uint64 dimension values.
func keyCoords(keyType Datatype, key []byte) (uint64, uint64) {
	h := md5.New()
	h.Write([]byte{byte(keyType)})
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(key)))
	h.Write(sizeBuf[:])
	h.Write(key)
	digest := h.Sum(nil)
	return binary.LittleEndian.Uint64(digest[:8]), binary.LittleEndian.Uint64(digest[8:])
}

// Put writes one key/value record. values must cover every attribute
// the schema was created with besides the reserved key bookkeeping
// ones.
func (kv *KV) Put(ctx context.Context, key []byte, keyType Datatype, values map[string][]byte) error {
	c0, c1 := keyCoords(keyType, key)
	var b0, b1 [8]byte
	binary.LittleEndian.PutUint64(b0[:], c0)
	binary.LittleEndian.PutUint64(b1[:], c1)

	coords := map[string]*CellBuffer{
		"hash0": {Data: b0[:]},
		"hash1": {Data: b1[:]},
	}
	attrs := map[string]*CellBuffer{
		kvKeyAttr:     {Data: append([]byte(nil), key...), Offsets: []uint64{uint64(len(key))}},
		kvKeyTypeAttr: {Data: []byte{byte(keyType)}},
	}
	for _, a := range kv.schema.Attributes() {
		if a.Name() == kvKeyAttr || a.Name() == kvKeyTypeAttr {
			continue
		}
		v, ok := values[a.Name()]
		if !ok {
			return errf(ErrQuery, nil, "put: missing value for attribute %q", a.Name())
		}
		if a.IsVar() {
			attrs[a.Name()] = &CellBuffer{Data: v, Offsets: []uint64{uint64(len(v))}}
		} else {
			attrs[a.Name()] = &CellBuffer{Data: v}
		}
	}

	w := NewFragmentWriter(kv.array.vfs, kv.array.uri, kv.schema, uint64(time.Now().UnixNano()))
	if err := w.WriteSparseCells(ctx, coords, attrs, Unordered); err != nil {
		return err
	}
	fragURI, err := w.Commit(ctx)
	if err != nil {
		return err
	}
	return kv.array.AddFragment(ctx, fragURI)
}

// Get looks up key, returning its value attributes and whether it was
// found. A coordinate collision between key and some other previously
// stored key is reported as not-found rather than returning the wrong
// value.
func (kv *KV) Get(ctx context.Context, key []byte, keyType Datatype, attrNames []string) (map[string][]byte, bool, error) {
	c0, c1 := keyCoords(keyType, key)
	schema, fragments := kv.array.Snapshot()
	reader := NewSparseReader(kv.array.vfs, schema, fragments)

	needed := append([]string{kvKeyAttr}, attrNames...)
	coords, attrs, err := reader.Read(ctx, []int64{int64(c0), int64(c1)}, []int64{int64(c0), int64(c1)}, nil, needed)
	if err != nil {
		return nil, false, err
	}
	_ = coords
	keyBuf := attrs[kvKeyAttr]
	if keyBuf == nil || len(keyBuf.Offsets) == 0 {
		return nil, false, nil
	}
	n := len(keyBuf.Offsets)
	// Sparse reads within a single collapsed point may still return
	// more than one cell if allows_dups were ever set; the newest
	// write for this exact key is the last one whose stored key bytes
	// match.
	for i := n - 1; i >= 0; i-- {
		start := uint64(0)
		if i > 0 {
			start = keyBuf.Offsets[i-1]
		}
		end := keyBuf.Offsets[i]
		if string(keyBuf.Data[start:end]) != string(key) {
			continue
		}
		out := make(map[string][]byte, len(attrNames))
		for _, name := range attrNames {
			cb := attrs[name]
			if cb == nil {
				continue
			}
			if cb.Offsets != nil {
				s := uint64(0)
				if i > 0 {
					s = cb.Offsets[i-1]
				}
				out[name] = cb.Data[s:cb.Offsets[i]]
				continue
			}
			w := schema.AttributeByName(name).Datatype().ByteWidth() * int(schema.AttributeByName(name).CellValNum())
			out[name] = cb.Data[i*w : (i+1)*w]
		}
		return out, true, nil
	}
	return nil, false, nil
}

// Close releases the underlying array's resources.
func (kv *KV) Close() error { return kv.array.Close() }
