package bio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterFreezeRejectsWrites(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteU32(1))
	w.Freeze()
	require.True(t, w.Frozen())

	err := w.WriteU32(2)
	require.Error(t, err)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteU8(0xAB))
	require.NoError(t, w.WriteU16(0x1234))
	require.NoError(t, w.WriteU32(0xDEADBEEF))
	require.NoError(t, w.WriteU64(0x0102030405060708))
	g := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, w.WriteGUID(g))
	require.NoError(t, w.WriteCompressedUint(0x4000))
	require.NoError(t, w.WriteIndex(42, 2))

	r := NewReader(w.Bytes())
	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, u8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, u16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, u64)

	gotG, err := r.ReadGUID()
	require.NoError(t, err)
	require.Equal(t, g, gotG)

	cu, err := r.ReadCompressedUint()
	require.NoError(t, err)
	require.EqualValues(t, 0x4000, cu)

	idx, err := r.ReadIndex(2)
	require.NoError(t, err)
	require.EqualValues(t, 42, idx)
}

func TestIndexWidth(t *testing.T) {
	require.Equal(t, 2, IndexWidth(0))
	require.Equal(t, 2, IndexWidth(1<<16-1))
	require.Equal(t, 4, IndexWidth(1<<16))
}

func TestHeapStringAndBlob(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteU8(0)) // offset 0 reserved empty
	require.NoError(t, w.WriteBytes([]byte("Hello\x00")))
	heap := w.Bytes()

	s, err := ReadStringAt(heap, 0)
	require.NoError(t, err)
	require.Equal(t, "", s)

	s, err = ReadStringAt(heap, 1)
	require.NoError(t, err)
	require.Equal(t, "Hello", s)
}

func TestUserStringRoundTrip(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.WriteU8(0))
	text := EncodeUTF16LE("hi")
	require.NoError(t, w.WriteCompressedUint(uint32(len(text)+1)))
	require.NoError(t, w.WriteBytes(text))
	require.NoError(t, w.WriteU8(0)) // terminal flag
	heap := w.Bytes()

	got, err := ReadUserStringAt(heap, 1)
	require.NoError(t, err)
	require.Equal(t, "hi", got)
}
