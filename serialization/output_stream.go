// Package serialization provides the typed binary streams the RPC port layer
// writes its call objects to. Primitives are fixed-size big-endian, strings
// and byte slices are length-prefixed, durations travel as nanoseconds.
// Arbitrary user types fall back to a self-describing gob section unless they
// implement Serializable. Streams carry a sticky error so call sites can
// chain writes and reads and check once at the end.
package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"
	"reflect"
	"time"
)

type (
	// Serializable is implemented by user types that provide their own wire
	// encoding instead of the gob fallback.
	Serializable interface {
		SerializeTo(out *OutputStream)
		DeserializeFrom(in *InputStream)
	}

	// OutputStream encodes typed values into a byte buffer.
	OutputStream struct {
		buf bytes.Buffer
		err error
	}
)

// NewOutputStream returns an empty output stream.
func NewOutputStream() *OutputStream {
	return &OutputStream{}
}

// Err returns the first error any write produced.
func (out *OutputStream) Err() error {
	return out.err
}

// Bytes returns the encoded contents.
func (out *OutputStream) Bytes() []byte {
	return out.buf.Bytes()
}

// Len returns the number of encoded bytes.
func (out *OutputStream) Len() int {
	return out.buf.Len()
}

func (out *OutputStream) write(p []byte) {
	if out.err != nil {
		return
	}
	_, out.err = out.buf.Write(p)
}

// WriteUint8 writes a single byte.
func (out *OutputStream) WriteUint8(v uint8) {
	out.write([]byte{v})
}

// WriteBool writes a bool as one byte.
func (out *OutputStream) WriteBool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	out.write([]byte{b})
}

// WriteUint16 writes a big-endian uint16.
func (out *OutputStream) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	out.write(b[:])
}

// WriteUint32 writes a big-endian uint32.
func (out *OutputStream) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	out.write(b[:])
}

// WriteUint64 writes a big-endian uint64.
func (out *OutputStream) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	out.write(b[:])
}

// WriteInt64 writes a big-endian int64.
func (out *OutputStream) WriteInt64(v int64) {
	out.WriteUint64(uint64(v))
}

// WriteFloat64 writes an IEEE-754 double.
func (out *OutputStream) WriteFloat64(v float64) {
	out.WriteUint64(math.Float64bits(v))
}

// WriteFloat32 writes an IEEE-754 float.
func (out *OutputStream) WriteFloat32(v float32) {
	out.WriteUint32(math.Float32bits(v))
}

// WriteDuration writes a duration as nanoseconds.
func (out *OutputStream) WriteDuration(d time.Duration) {
	out.WriteInt64(d.Nanoseconds())
}

// WriteString writes a length-prefixed string.
func (out *OutputStream) WriteString(s string) {
	out.WriteUint32(uint32(len(s)))
	out.write([]byte(s))
}

// WriteBytes writes a length-prefixed byte slice.
func (out *OutputStream) WriteBytes(p []byte) {
	out.WriteUint32(uint32(len(p)))
	out.write(p)
}

// WriteValue encodes an arbitrary value. Fixed-size kinds use their typed
// writers; Serializable implementations encode themselves; everything else
// goes through a length-prefixed gob section.
func (out *OutputStream) WriteValue(v any) {
	if out.err != nil {
		return
	}
	switch x := v.(type) {
	case bool:
		out.WriteBool(x)
	case int:
		out.WriteInt64(int64(x))
	case int8:
		out.WriteUint8(uint8(x))
	case int16:
		out.WriteUint16(uint16(x))
	case int32:
		out.WriteUint32(uint32(x))
	case int64:
		out.WriteInt64(x)
	case uint8:
		out.WriteUint8(x)
	case uint16:
		out.WriteUint16(x)
	case uint32:
		out.WriteUint32(x)
	case uint64:
		out.WriteUint64(x)
	case uint:
		out.WriteUint64(uint64(x))
	case float32:
		out.WriteFloat32(x)
	case float64:
		out.WriteFloat64(x)
	case string:
		out.WriteString(x)
	case []byte:
		out.WriteBytes(x)
	case time.Duration:
		out.WriteDuration(x)
	case Serializable:
		x.SerializeTo(out)
	default:
		// value types with pointer-receiver SerializeTo still encode themselves
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer && reflect.PointerTo(rv.Type()).Implements(serializableType) {
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			p.Interface().(Serializable).SerializeTo(out)
			return
		}
		out.writeGob(v)
	}
}

func (out *OutputStream) writeGob(v any) {
	var section bytes.Buffer
	if err := gob.NewEncoder(&section).Encode(v); err != nil {
		out.err = err
		return
	}
	out.WriteBytes(section.Bytes())
}
