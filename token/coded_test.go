package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodedIndexRoundTripAllSpaces(t *testing.T) {
	spaces := []CodedIndexSpace{
		TypeDefOrRef, HasConstant, HasCustomAttribute, HasFieldMarshal,
		HasDeclSecurity, MemberRefParent, HasSemantics, MethodDefOrRef,
		MemberForwarded, Implementation, ResolutionScope, TypeOrMethodDef,
	}
	for _, space := range spaces {
		for _, tbl := range Tables(space) {
			v, err := Encode(space, tbl, 7)
			require.NoError(t, err)
			gotTable, gotRow, err := Decode(space, v)
			require.NoError(t, err)
			require.Equal(t, tbl, gotTable)
			require.EqualValues(t, 7, gotRow)
		}
	}
}

func TestCodedIndexNullRow(t *testing.T) {
	v, err := Encode(TypeDefOrRef, TypeDef, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)

	tbl, row, err := Decode(TypeDefOrRef, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, tbl)
	require.EqualValues(t, 0, row)
}

func TestCodedIndexRejectsForeignTable(t *testing.T) {
	_, err := Encode(HasConstant, Method, 1)
	require.Error(t, err)
}

func TestCustomAttributeTypeRoundTrip(t *testing.T) {
	for _, tbl := range []TableID{Method, MemberRef} {
		v, err := Encode(CustomAttributeType, tbl, 7)
		require.NoError(t, err)
		gotTable, gotRow, err := Decode(CustomAttributeType, v)
		require.NoError(t, err)
		require.Equal(t, tbl, gotTable)
		require.EqualValues(t, 7, gotRow)
	}
}

func TestCustomAttributeTypeReservedTagsRejected(t *testing.T) {
	for _, tag := range []uint32{0, 1, 4} {
		_, _, err := Decode(CustomAttributeType, (7<<3)|tag)
		require.Error(t, err)
	}
}

func TestCodedIndexWidthEscalatesPastThreshold(t *testing.T) {
	small := map[TableID]uint32{TypeDef: 10, TypeRef: 10, TypeSpec: 10}
	require.Equal(t, 2, Width(TypeDefOrRef, small))

	large := map[TableID]uint32{TypeDef: 1 << 15, TypeRef: 10, TypeSpec: 10}
	require.Equal(t, 4, Width(TypeDefOrRef, large))
}
