package core

import "math"

// Datatype is the closed enumeration of value types a Dimension or
// Attribute may carry. Each has a fixed byte width, a total order, and
// one fill value used for unwritten dense cells.
type Datatype uint8

const (
	Int8 Datatype = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	Char
	// Time/date family, each an integer at a fixed resolution.
	DatetimeYear
	DatetimeMonth
	DatetimeWeek
	DatetimeDay
	DatetimeHour
	DatetimeMin
	DatetimeSec
	DatetimeMS
	DatetimeUS
	DatetimeNS
	DatetimePS
	DatetimeFS
	DatetimeAS
	// StringASCII is variable-length only; it has no fixed ByteWidth.
	StringASCII
)

// ByteWidth returns the fixed storage width in bytes. Variable-length
// types (StringASCII) return 0; callers must check IsVariableLength.
func (d Datatype) ByteWidth() int {
	switch d {
	case Int8, Uint8, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32, DatetimeYear, DatetimeMonth, DatetimeWeek, DatetimeDay:
		return 4
	case Int64, Uint64, Float64,
		DatetimeHour, DatetimeMin, DatetimeSec, DatetimeMS,
		DatetimeUS, DatetimeNS, DatetimePS, DatetimeFS, DatetimeAS:
		return 8
	case StringASCII:
		return 0
	default:
		return 0
	}
}

// IsVariableLength reports whether values of this type are stored as
// offsets + packed bytes rather than fixed-width cells.
func (d Datatype) IsVariableLength() bool {
	return d == StringASCII
}

// IsInteger reports whether the type's fill value and arithmetic are
// integer-domain (as opposed to float or raw bytes).
func (d Datatype) IsInteger() bool {
	switch d {
	case Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64,
		DatetimeYear, DatetimeMonth, DatetimeWeek, DatetimeDay, DatetimeHour,
		DatetimeMin, DatetimeSec, DatetimeMS, DatetimeUS, DatetimeNS,
		DatetimePS, DatetimeFS, DatetimeAS:
		return true
	default:
		return false
	}
}

// IsSigned reports whether the integer type is signed; meaningless for
// non-integer types.
func (d Datatype) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	default:
		return false
	}
}

// FillValue returns the default fill-value bytes (little-endian) used
// for unwritten dense cells of this type: the largest representable
// value per spec, matching the legacy INT*_MAX/CHAR_MAX/FLT_MAX/DBL_MAX
// convention.
func (d Datatype) FillValue() []byte {
	w := d.ByteWidth()
	if w == 0 {
		return nil
	}
	buf := make([]byte, w)
	switch d {
	case Int8:
		buf[0] = byte(int8(math.MaxInt8))
	case Uint8, Char:
		buf[0] = math.MaxUint8
	case Int16:
		putIntLE(buf, int64(math.MaxInt16), 2)
	case Uint16:
		putUintLE(buf, math.MaxUint16, 2)
	case Int32, DatetimeYear, DatetimeMonth, DatetimeWeek, DatetimeDay:
		putIntLE(buf, int64(math.MaxInt32), 4)
	case Uint32:
		putUintLE(buf, math.MaxUint32, 4)
	case Int64:
		putIntLE(buf, math.MaxInt64, 8)
	case Uint64, DatetimeHour, DatetimeMin, DatetimeSec, DatetimeMS,
		DatetimeUS, DatetimeNS, DatetimePS, DatetimeFS, DatetimeAS:
		putUintLE(buf, math.MaxUint64, 8)
	case Float32:
		putUintLE(buf, uint64(math.Float32bits(math.MaxFloat32)), 4)
	case Float64:
		putUintLE(buf, math.Float64bits(math.MaxFloat64), 8)
	}
	return buf
}

var datatypeNames = map[string]Datatype{
	"int8": Int8, "uint8": Uint8, "int16": Int16, "uint16": Uint16,
	"int32": Int32, "uint32": Uint32, "int64": Int64, "uint64": Uint64,
	"float32": Float32, "float64": Float64, "char": Char, "string": StringASCII,
}

// ParseDatatype maps a CLI/config-friendly name (e.g. "int64",
// "string") to its Datatype.
func ParseDatatype(name string) (Datatype, error) {
	dt, ok := datatypeNames[name]
	if !ok {
		return 0, errf(ErrSchema, nil, "unknown datatype %q", name)
	}
	return dt, nil
}

// EncodeInt encodes a signed value into dt's little-endian fixed-width
// representation, exported for callers outside the package building
// dimension bounds or attribute values from user input (e.g. the CLI).
func EncodeInt(dt Datatype, v int64) []byte {
	buf := make([]byte, dt.ByteWidth())
	putIntLE(buf, v, len(buf))
	return buf
}

// EncodeUint encodes an unsigned value into dt's little-endian
// fixed-width representation.
func EncodeUint(dt Datatype, v uint64) []byte {
	buf := make([]byte, dt.ByteWidth())
	putUintLE(buf, v, len(buf))
	return buf
}

// EncodeFloat encodes a floating-point value into dt's little-endian
// fixed-width representation (Float32 or Float64).
func EncodeFloat(dt Datatype, v float64) []byte {
	buf := make([]byte, dt.ByteWidth())
	if dt == Float32 {
		putUintLE(buf, uint64(math.Float32bits(float32(v))), len(buf))
	} else {
		putUintLE(buf, math.Float64bits(v), len(buf))
	}
	return buf
}

func putIntLE(buf []byte, v int64, w int) {
	putUintLE(buf, uint64(v), w)
}

func putUintLE(buf []byte, v uint64, w int) {
	for i := 0; i < w; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func getUintLE(buf []byte) uint64 {
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * uint(i))
	}
	return v
}

// CompareValues performs a total-order comparison between two raw
// fixed-width values of type d, returning -1, 0, or 1. String/char
// values compare lexicographically over raw bytes.
func CompareValues(d Datatype, a, b []byte) int {
	if d.IsVariableLength() || d == Char {
		return compareBytes(a, b)
	}
	if !d.IsInteger() {
		return compareFloat(d, a, b)
	}
	if d.IsSigned() {
		return compareInt(int64FromLE(a, d.IsSigned()), int64FromLE(b, d.IsSigned()))
	}
	au, bu := getUintLE(a), getUintLE(b)
	switch {
	case au < bu:
		return -1
	case au > bu:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(d Datatype, a, b []byte) int {
	var fa, fb float64
	if d == Float32 {
		fa = float64(math.Float32frombits(uint32(getUintLE(a))))
		fb = float64(math.Float32frombits(uint32(getUintLE(b))))
	} else {
		fa = math.Float64frombits(getUintLE(a))
		fb = math.Float64frombits(getUintLE(b))
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func int64FromLE(buf []byte, signed bool) int64 {
	u := getUintLE(buf)
	if !signed {
		return int64(u)
	}
	switch len(buf) {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}
