package serialization

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	out := NewOutputStream()
	out.WriteUint8(0x7f)
	out.WriteBool(true)
	out.WriteUint16(0xbeef)
	out.WriteUint32(0xdeadbeef)
	out.WriteUint64(1 << 60)
	out.WriteInt64(-42)
	out.WriteFloat64(3.25)
	out.WriteDuration(1500 * time.Millisecond)
	out.WriteString("forty-two")
	out.WriteBytes([]byte{1, 2, 3})
	require.NoError(t, out.Err())

	in := NewInputStream(out.Bytes())
	assert.Equal(t, uint8(0x7f), in.ReadUint8())
	assert.True(t, in.ReadBool())
	assert.Equal(t, uint16(0xbeef), in.ReadUint16())
	assert.Equal(t, uint32(0xdeadbeef), in.ReadUint32())
	assert.Equal(t, uint64(1<<60), in.ReadUint64())
	assert.Equal(t, int64(-42), in.ReadInt64())
	assert.Equal(t, 3.25, in.ReadFloat64())
	assert.Equal(t, 1500*time.Millisecond, in.ReadDuration())
	assert.Equal(t, "forty-two", in.ReadString())
	assert.Equal(t, []byte{1, 2, 3}, in.ReadBytes())
	require.NoError(t, in.Err())
	assert.Zero(t, in.Remaining())
}

func TestBigEndianLayout(t *testing.T) {
	out := NewOutputStream()
	out.WriteUint32(0x01020304)
	require.Equal(t, []byte{1, 2, 3, 4}, out.Bytes())
}

func TestValueRoundTrip(t *testing.T) {
	type pose struct {
		X, Y, Yaw float64
	}
	for _, v := range []any{
		int(7), int64(-9), uint64(11), "hello", 2.5, true,
		500 * time.Millisecond, []byte{9, 8}, pose{X: 1, Y: 2, Yaw: 0.5},
	} {
		out := NewOutputStream()
		out.WriteValue(v)
		require.NoError(t, out.Err())

		in := NewInputStream(out.Bytes())
		got := in.ReadValue(reflect.TypeOf(v))
		require.NoError(t, in.Err())
		assert.Equal(t, v, got)
		assert.Zero(t, in.Remaining())
	}
}

type wheelState struct {
	Velocity float64
	Stalled  bool
}

func (w *wheelState) SerializeTo(out *OutputStream) {
	out.WriteFloat64(w.Velocity)
	out.WriteBool(w.Stalled)
}

func (w *wheelState) DeserializeFrom(in *InputStream) {
	w.Velocity = in.ReadFloat64()
	w.Stalled = in.ReadBool()
}

func TestSerializableRoundTrip(t *testing.T) {
	out := NewOutputStream()
	out.WriteValue(&wheelState{Velocity: 1.5, Stalled: true})
	require.NoError(t, out.Err())
	// custom encoding, not a gob section
	require.Equal(t, 9, out.Len())

	in := NewInputStream(out.Bytes())
	got := in.ReadValue(reflect.TypeOf(&wheelState{}))
	require.NoError(t, in.Err())
	assert.Equal(t, &wheelState{Velocity: 1.5, Stalled: true}, got)
}

func TestSerializableValueReceiverSymmetry(t *testing.T) {
	out := NewOutputStream()
	out.WriteValue(wheelState{Velocity: -0.5})
	require.NoError(t, out.Err())
	require.Equal(t, 9, out.Len())

	in := NewInputStream(out.Bytes())
	got := in.ReadValue(reflect.TypeOf(wheelState{}))
	require.NoError(t, in.Err())
	assert.Equal(t, wheelState{Velocity: -0.5}, got)
}

func TestShortBufferSticks(t *testing.T) {
	in := NewInputStream([]byte{1, 2})
	in.ReadUint64()
	assert.ErrorIs(t, in.Err(), ErrShortBuffer)
	assert.Equal(t, "", in.ReadString())
	assert.ErrorIs(t, in.Err(), ErrShortBuffer)
}

func TestCorruptLengthPrefixRejected(t *testing.T) {
	out := NewOutputStream()
	out.WriteUint32(0xffffffff)
	in := NewInputStream(out.Bytes())
	in.ReadString()
	assert.Error(t, in.Err())
	assert.NotErrorIs(t, in.Err(), ErrShortBuffer)
}
