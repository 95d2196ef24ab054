package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternStringDedup(t *testing.T) {
	m := NewManager()
	require.EqualValues(t, 0, m.InternString(""))
	off1 := m.InternString("Hello")
	off2 := m.InternString("Hello")
	require.Equal(t, off1, off2)
	off3 := m.InternString("World")
	require.NotEqual(t, off1, off3)

	s, err := (&LoadManager{StringsHeap: m.StringsBytes()}).String(off1)
	require.NoError(t, err)
	require.Equal(t, "Hello", s)
}

func TestInternBlobDedup(t *testing.T) {
	m := NewManager()
	require.EqualValues(t, 0, m.InternBlob(nil))
	b1 := []byte{0x06, 0x01, 0x02}
	off1 := m.InternBlob(b1)
	off2 := m.InternBlob(append([]byte{}, b1...))
	require.Equal(t, off1, off2)

	got, err := (&LoadManager{BlobHeap: m.BlobBytes()}).Blob(off1)
	require.NoError(t, err)
	require.Equal(t, b1, got)
}

func TestInternUserStringRoundTrip(t *testing.T) {
	m := NewManager()
	off := m.InternUserString("hi")
	off2 := m.InternUserString("hi")
	require.Equal(t, off, off2)

	got, err := (&LoadManager{USHeap: m.USBytes()}).UserString(off)
	require.NoError(t, err)
	require.Equal(t, "hi", got)
}

func TestInternGUIDDedup(t *testing.T) {
	m := NewManager()
	g1 := [16]byte{1, 2, 3}
	o1 := m.InternGUID(g1)
	o2 := m.InternGUID(g1)
	require.Equal(t, o1, o2)
	require.EqualValues(t, 1, o1)

	g2 := [16]byte{9, 9, 9}
	o3 := m.InternGUID(g2)
	require.EqualValues(t, 2, o3)

	got, err := (&LoadManager{GUIDHeap: m.GUIDBytes()}).GUID(o1)
	require.NoError(t, err)
	require.Equal(t, g1, got)
}

func TestHeapSizesFlagSmallHeaps(t *testing.T) {
	m := NewManager()
	m.InternString("x")
	require.EqualValues(t, 0, m.HeapSizesFlag())
	require.Equal(t, 2, m.StringIndexWidth())
}

func TestNewMVIDStable(t *testing.T) {
	m := NewManager()
	o1 := m.NewMVID()
	o2 := m.NewMVID()
	require.Equal(t, o1, o2)
}
