package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// ErrShortBuffer is recorded when a read runs past the end of the stream.
var ErrShortBuffer = errors.New("serialization: read past end of buffer")

// maxSectionLen bounds length prefixes so a corrupt stream cannot trigger a
// huge allocation.
const maxSectionLen = 64 << 20

// InputStream decodes typed values from a byte buffer.
type InputStream struct {
	buf []byte
	pos int
	err error
}

// NewInputStream returns a stream reading from p. The stream does not copy p.
func NewInputStream(p []byte) *InputStream {
	return &InputStream{buf: p}
}

// Err returns the first error any read produced.
func (in *InputStream) Err() error {
	return in.err
}

// Remaining returns the number of unread bytes.
func (in *InputStream) Remaining() int {
	return len(in.buf) - in.pos
}

func (in *InputStream) next(n int) []byte {
	if in.err != nil {
		return nil
	}
	if in.Remaining() < n {
		in.err = ErrShortBuffer
		return nil
	}
	p := in.buf[in.pos : in.pos+n]
	in.pos += n
	return p
}

// ReadUint8 reads a single byte.
func (in *InputStream) ReadUint8() uint8 {
	p := in.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

// ReadBool reads a one-byte bool.
func (in *InputStream) ReadBool() bool {
	return in.ReadUint8() != 0
}

// ReadUint16 reads a big-endian uint16.
func (in *InputStream) ReadUint16() uint16 {
	p := in.next(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

// ReadUint32 reads a big-endian uint32.
func (in *InputStream) ReadUint32() uint32 {
	p := in.next(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

// ReadUint64 reads a big-endian uint64.
func (in *InputStream) ReadUint64() uint64 {
	p := in.next(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

// ReadInt64 reads a big-endian int64.
func (in *InputStream) ReadInt64() int64 {
	return int64(in.ReadUint64())
}

// ReadFloat64 reads an IEEE-754 double.
func (in *InputStream) ReadFloat64() float64 {
	return math.Float64frombits(in.ReadUint64())
}

// ReadFloat32 reads an IEEE-754 float.
func (in *InputStream) ReadFloat32() float32 {
	return math.Float32frombits(in.ReadUint32())
}

// ReadDuration reads a duration encoded as nanoseconds.
func (in *InputStream) ReadDuration() time.Duration {
	return time.Duration(in.ReadInt64())
}

// ReadString reads a length-prefixed string.
func (in *InputStream) ReadString() string {
	n := in.ReadUint32()
	if in.err != nil {
		return ""
	}
	if n > maxSectionLen {
		in.err = fmt.Errorf("serialization: string length %d exceeds limit", n)
		return ""
	}
	p := in.next(int(n))
	if p == nil {
		return ""
	}
	return string(p)
}

// ReadBytes reads a length-prefixed byte slice. The result is a copy.
func (in *InputStream) ReadBytes() []byte {
	n := in.ReadUint32()
	if in.err != nil {
		return nil
	}
	if n > maxSectionLen {
		in.err = fmt.Errorf("serialization: section length %d exceeds limit", n)
		return nil
	}
	p := in.next(int(n))
	if p == nil {
		return nil
	}
	return bytes.Clone(p)
}

var serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()

// ReadValue decodes a value of type t encoded by WriteValue. The result has
// exactly type t.
func (in *InputStream) ReadValue(t reflect.Type) any {
	if in.err != nil {
		return zeroOf(t)
	}
	switch t {
	case reflect.TypeOf(false):
		return in.ReadBool()
	case reflect.TypeOf(int(0)):
		return int(in.ReadInt64())
	case reflect.TypeOf(int8(0)):
		return int8(in.ReadUint8())
	case reflect.TypeOf(int16(0)):
		return int16(in.ReadUint16())
	case reflect.TypeOf(int32(0)):
		return int32(in.ReadUint32())
	case reflect.TypeOf(int64(0)):
		return in.ReadInt64()
	case reflect.TypeOf(uint8(0)):
		return in.ReadUint8()
	case reflect.TypeOf(uint16(0)):
		return in.ReadUint16()
	case reflect.TypeOf(uint32(0)):
		return in.ReadUint32()
	case reflect.TypeOf(uint64(0)):
		return in.ReadUint64()
	case reflect.TypeOf(uint(0)):
		return uint(in.ReadUint64())
	case reflect.TypeOf(float32(0)):
		return in.ReadFloat32()
	case reflect.TypeOf(float64(0)):
		return in.ReadFloat64()
	case reflect.TypeOf(""):
		return in.ReadString()
	case reflect.TypeOf([]byte(nil)):
		return in.ReadBytes()
	case reflect.TypeOf(time.Duration(0)):
		return in.ReadDuration()
	}
	if t.Implements(serializableType) && t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		v.Interface().(Serializable).DeserializeFrom(in)
		return v.Interface()
	}
	if reflect.PointerTo(t).Implements(serializableType) {
		v := reflect.New(t)
		v.Interface().(Serializable).DeserializeFrom(in)
		return v.Elem().Interface()
	}
	return in.readGob(t)
}

func (in *InputStream) readGob(t reflect.Type) any {
	section := in.ReadBytes()
	if in.err != nil {
		return zeroOf(t)
	}
	v := reflect.New(t)
	if err := gob.NewDecoder(bytes.NewReader(section)).Decode(v.Interface()); err != nil {
		in.err = err
		return zeroOf(t)
	}
	return v.Elem().Interface()
}

func zeroOf(t reflect.Type) any {
	return reflect.Zero(t).Interface()
}
