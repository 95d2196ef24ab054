package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildThenOpenRoundTrip(t *testing.T) {
	meta := []byte("BSJB-fake-metadata-root-bytes-padded-out")
	code := []byte{0x00, 0x2A} // nop, ret

	b := &Builder{Metadata: meta, Code: code, EntryPointToken: 0x06000001}
	img, err := b.Build()
	require.NoError(t, err)
	require.NotEmpty(t, img)

	env, err := Open(bytes.NewReader(img))
	require.NoError(t, err)

	root, err := env.MetadataRoot()
	require.NoError(t, err)
	require.Equal(t, meta, root)

	ep, err := env.EntryPointToken()
	require.NoError(t, err)
	require.Equal(t, uint32(0x06000001), ep)
}

func TestBuildWithResourcesRoundTrip(t *testing.T) {
	meta := []byte("metadata-bytes")
	code := []byte{0x2A}
	res := []byte("resource-blob")

	b := &Builder{Metadata: meta, Code: code, Resources: res}
	img, err := b.Build()
	require.NoError(t, err)

	env, err := Open(bytes.NewReader(img))
	require.NoError(t, err)
	require.Len(t, env.sections, 2)

	root, err := env.MetadataRoot()
	require.NoError(t, err)
	require.Equal(t, meta, root)
}

func TestRVAFileOffsetRoundTrip(t *testing.T) {
	b := &Builder{Metadata: []byte("x"), Code: []byte{0x2A}}
	img, err := b.Build()
	require.NoError(t, err)

	env, err := Open(bytes.NewReader(img))
	require.NoError(t, err)

	s := env.SectionContaining(env.sections[0].VirtualAddress)
	require.NotNil(t, s)

	fo, err := env.RVAToFileOffset(s.VirtualAddress + 4)
	require.NoError(t, err)
	rva, err := env.FileOffsetToRVA(fo)
	require.NoError(t, err)
	require.Equal(t, s.VirtualAddress+4, rva)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	_, err := Open(bytes.NewReader(make([]byte, 128)))
	require.Error(t, err)
}
