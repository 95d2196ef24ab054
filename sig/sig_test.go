package sig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/token"
)

func roundTripType(t *testing.T, typ *Type) *Type {
	w := bio.NewWriter()
	require.NoError(t, WriteType(w, typ))
	r := bio.NewReader(w.Bytes())
	got, err := ReadType(r)
	require.NoError(t, err)
	require.Equal(t, r.Pos(), r.Len())
	return got
}

func TestPrimitiveTypeRoundTrip(t *testing.T) {
	in := &Type{Kind: KindPrimitive, Primitive: ElementI4}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}

func TestClassRefTypeRoundTrip(t *testing.T) {
	in := &Type{Kind: KindClassRef, ClassToken: token.NewToken(token.TypeRef, 3)}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
	require.Equal(t, token.TypeRef, out.ClassToken.Table())
	require.EqualValues(t, 3, out.ClassToken.Row())
}

func TestSZArrayTypeRoundTrip(t *testing.T) {
	in := &Type{Kind: KindSZArray, Element: &Type{Kind: KindPrimitive, Primitive: ElementString}}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}

func TestGeneralArrayTypeRoundTrip(t *testing.T) {
	in := &Type{
		Kind:    KindArray,
		Element: &Type{Kind: KindPrimitive, Primitive: ElementI4},
		Shape:   &ArrayShape{Rank: 2, Sizes: []uint32{3, 4}, LoBounds: []int32{0, 1}},
	}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}

func TestGenericParamVarAndMVarRoundTrip(t *testing.T) {
	v := &Type{Kind: KindGenericParam, GenericParamIndex: 0}
	out := roundTripType(t, v)
	require.True(t, v.Equal(out))
	require.False(t, out.GenericParamIsMethod)

	mv := &Type{Kind: KindGenericParam, GenericParamIndex: 1, GenericParamIsMethod: true}
	out2 := roundTripType(t, mv)
	require.True(t, mv.Equal(out2))
	require.True(t, out2.GenericParamIsMethod)
}

func TestGenericInstRoundTrip(t *testing.T) {
	in := &Type{
		Kind:        KindGenericInst,
		GenericBase: &Type{Kind: KindClassRef, ClassToken: token.NewToken(token.TypeDef, 5)},
		GenericArgs: []*Type{
			{Kind: KindPrimitive, Primitive: ElementString},
		},
	}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}

func TestCustomModRoundTrip(t *testing.T) {
	in := &Type{
		Kind:      KindPrimitive,
		Primitive: ElementI4,
		Mods:      []CustomMod{{Required: true, Type: token.NewToken(token.TypeDef, 1)}},
	}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}

func TestFieldSigRoundTrip(t *testing.T) {
	in := &FieldSig{Type: &Type{Kind: KindPrimitive, Primitive: ElementI4}}
	w := bio.NewWriter()
	require.NoError(t, WriteFieldSig(w, in))
	out, err := ReadFieldSig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.True(t, in.Type.Equal(out.Type))
}

func TestMethodSigRoundTripSimple(t *testing.T) {
	in := &MethodSig{
		HasThis: true,
		RetVoid: true,
		Params: []*Type{
			{Kind: KindPrimitive, Primitive: ElementString},
		},
		SentinelAt: -1,
	}
	w := bio.NewWriter()
	require.NoError(t, WriteMethodSig(w, in))
	out, err := ReadMethodSig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.True(t, in.Equal(out))
	require.True(t, out.RetVoid)
	require.Len(t, out.Params, 1)
}

func TestMethodSigRoundTripVarArg(t *testing.T) {
	in := &MethodSig{
		CallConv: CallVarArg,
		RetType:  &Type{Kind: KindPrimitive, Primitive: ElementI4},
		Params: []*Type{
			{Kind: KindPrimitive, Primitive: ElementI4},
		},
		SentinelAt: 1,
		ExtraParams: []*Type{
			{Kind: KindPrimitive, Primitive: ElementString},
		},
	}
	w := bio.NewWriter()
	require.NoError(t, WriteMethodSig(w, in))
	out, err := ReadMethodSig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, out.Params, 1)
	require.Len(t, out.ExtraParams, 1)
	require.EqualValues(t, 1, out.SentinelAt)
}

func TestLocalVarSigRoundTrip(t *testing.T) {
	in := &LocalVarSig{Locals: []*LocalVar{
		{Type: &Type{Kind: KindPrimitive, Primitive: ElementI4}},
		{Pinned: true, Type: &Type{Kind: KindClassRef, ClassToken: token.NewToken(token.TypeDef, 2)}},
		{TypedByRef: true},
	}}
	w := bio.NewWriter()
	require.NoError(t, WriteLocalVarSig(w, in))
	out, err := ReadLocalVarSig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, out.Locals, 3)
	require.True(t, out.Locals[1].Pinned)
	require.True(t, out.Locals[2].TypedByRef)
}

func TestPropertySigRoundTrip(t *testing.T) {
	in := &PropertySig{
		HasThis: true,
		Type:    &Type{Kind: KindPrimitive, Primitive: ElementI4},
		Params:  []*Type{{Kind: KindPrimitive, Primitive: ElementString}},
	}
	w := bio.NewWriter()
	require.NoError(t, WritePropertySig(w, in))
	out, err := ReadPropertySig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.True(t, out.HasThis)
	require.Len(t, out.Params, 1)
}

func TestMethodSpecSigRoundTrip(t *testing.T) {
	in := &MethodSpecSig{Args: []*Type{{Kind: KindPrimitive, Primitive: ElementI4}}}
	w := bio.NewWriter()
	require.NoError(t, WriteMethodSpecSig(w, in))
	out, err := ReadMethodSpecSig(bio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Len(t, out.Args, 1)
}

func TestFnPtrTypeRoundTrip(t *testing.T) {
	in := &Type{Kind: KindFnPtr, FnPtrSig: &MethodSig{
		RetVoid:    true,
		SentinelAt: -1,
	}}
	out := roundTripType(t, in)
	require.True(t, in.Equal(out))
}
