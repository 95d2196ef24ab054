package bio

import "testing"

import "github.com/stretchr/testify/require"

func TestCompressedUintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFE}
	for _, v := range values {
		enc, err := CompressUint(v)
		require.NoError(t, err)
		switch {
		case v < 0x80:
			require.Len(t, enc, 1)
		case v < 0x4000:
			require.Len(t, enc, 2)
		default:
			require.Len(t, enc, 4)
		}
		got, n, err := DecompressUint(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestCompressedUintOutOfRange(t *testing.T) {
	_, err := CompressUint(0x20000000)
	require.Error(t, err)
}

func TestCompressedIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 63, -64, 64, -65, 8191, -8192, 8192, -8193, 0xFFFFFFF - 1, -0xFFFFFFF}
	for _, v := range values {
		enc, err := CompressInt(v)
		require.NoError(t, err)
		got, n, err := DecompressInt(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestDecompressUintTruncated(t *testing.T) {
	_, _, err := DecompressUint([]byte{0x80})
	require.Error(t, err)
	_, _, err = DecompressUint([]byte{0xC0, 0, 0})
	require.Error(t, err)
	_, _, err = DecompressUint(nil)
	require.Error(t, err)
}
