package sig

import (
	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/token"
)

// Kind tags the Type variant (spec.md §4.7/§9's "tagged variant" hint,
// replacing a deep class hierarchy).
type Kind int

const (
	KindPrimitive Kind = iota
	KindClassRef        // ELEMENT_TYPE_CLASS: reference to a TypeRef/TypeDef row
	KindValueType       // ELEMENT_TYPE_VALUETYPE: same encoding as ClassRef, value semantics
	KindArray           // GENERAL_ARRAY
	KindSZArray         // vector
	KindPointer
	KindByRef
	KindGenericParam // VAR or MVAR
	KindGenericInst
	KindFnPtr
)

// ArrayShape is the GENERAL_ARRAY rank/bounds payload (spec.md §4.5).
type ArrayShape struct {
	Rank     uint32
	Sizes    []uint32
	LoBounds []int32
}

// CustomMod is one cmod_reqd/cmod_opt entry preceding a type (spec.md §4.5:
// "preceding their base type and preserved exactly").
type CustomMod struct {
	Required bool
	Type     token.Token // TypeDefOrRef coded index target
}

// Type is the shared tagged-variant type used both by signatures and by
// the object model (spec.md §4.7). FnPtr carries a *MethodSig rather than
// importing the object model, so this package has no dependency on the
// root clrmeta package.
type Type struct {
	Kind Kind

	Primitive ElementType // KindPrimitive

	ClassToken token.Token // KindClassRef / KindValueType: TypeDefOrRef target

	Element *Type       // KindArray / KindSZArray / KindPointer / KindByRef
	Shape   *ArrayShape // KindArray

	GenericParamIndex   uint32 // KindGenericParam
	GenericParamIsMethod bool  // KindGenericParam: VAR (false) vs MVAR (true)

	GenericBase *Type   // KindGenericInst: the open generic type
	GenericArgs []*Type // KindGenericInst

	FnPtrSig *MethodSig // KindFnPtr

	Mods []CustomMod // custom modifiers preceding this type
}

// Equal reports structural equality (same variant + equal children),
// required for MemberRef signature deduplication (spec.md §4.7).
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind || !modsEqual(t.Mods, o.Mods) {
		return false
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive == o.Primitive
	case KindClassRef, KindValueType:
		return t.ClassToken == o.ClassToken
	case KindArray:
		return t.Element.Equal(o.Element) && shapeEqual(t.Shape, o.Shape)
	case KindSZArray, KindPointer, KindByRef:
		return t.Element.Equal(o.Element)
	case KindGenericParam:
		return t.GenericParamIndex == o.GenericParamIndex && t.GenericParamIsMethod == o.GenericParamIsMethod
	case KindGenericInst:
		if !t.GenericBase.Equal(o.GenericBase) || len(t.GenericArgs) != len(o.GenericArgs) {
			return false
		}
		for i := range t.GenericArgs {
			if !t.GenericArgs[i].Equal(o.GenericArgs[i]) {
				return false
			}
		}
		return true
	case KindFnPtr:
		return t.FnPtrSig.Equal(o.FnPtrSig)
	default:
		return false
	}
}

func modsEqual(a, b []CustomMod) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shapeEqual(a, b *ArrayShape) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Rank != b.Rank || len(a.Sizes) != len(b.Sizes) || len(a.LoBounds) != len(b.LoBounds) {
		return false
	}
	for i := range a.Sizes {
		if a.Sizes[i] != b.Sizes[i] {
			return false
		}
	}
	for i := range a.LoBounds {
		if a.LoBounds[i] != b.LoBounds[i] {
			return false
		}
	}
	return true
}

// ReadCustomMods consumes zero or more cmod_reqd/cmod_opt entries.
func ReadCustomMods(r *bio.Reader) ([]CustomMod, error) {
	var mods []CustomMod
	for {
		b, err := r.PeekU8()
		if err != nil {
			return mods, err
		}
		et := ElementType(b)
		if et != ElementCModReqd && et != ElementCModOpt {
			return mods, nil
		}
		if _, err := r.ReadU8(); err != nil {
			return mods, err
		}
		coded, err := r.ReadCompressedUint()
		if err != nil {
			return mods, err
		}
		table, row, err := token.Decode(token.TypeDefOrRef, coded)
		if err != nil {
			return mods, err
		}
		mods = append(mods, CustomMod{Required: et == ElementCModReqd, Type: token.NewToken(table, row)})
	}
}

// WriteCustomMods emits mods in order, each preceding the base type.
func WriteCustomMods(w *bio.Writer, mods []CustomMod) error {
	for _, m := range mods {
		et := ElementCModOpt
		if m.Required {
			et = ElementCModReqd
		}
		if err := w.WriteU8(byte(et)); err != nil {
			return err
		}
		coded, err := token.Encode(token.TypeDefOrRef, m.ClassTokenTable(), m.Type.Row())
		if err != nil {
			return err
		}
		if err := w.WriteCompressedUint(coded); err != nil {
			return err
		}
	}
	return nil
}

// ClassTokenTable is a small helper so WriteCustomMods can re-derive the
// coded-index table tag from the stored token without a second field.
func (m CustomMod) ClassTokenTable() token.TableID { return m.Type.Table() }

// ReadType decodes one type encoding, including any preceding custom
// modifiers (spec.md §4.5).
func ReadType(r *bio.Reader) (*Type, error) {
	mods, err := ReadCustomMods(r)
	if err != nil {
		return nil, err
	}
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	et := ElementType(b)

	var t *Type
	switch {
	case isPrimitive(et):
		t = &Type{Kind: KindPrimitive, Primitive: et}
	case et == ElementClass || et == ElementValueType:
		coded, err := r.ReadCompressedUint()
		if err != nil {
			return nil, err
		}
		table, row, err := token.Decode(token.TypeDefOrRef, coded)
		if err != nil {
			return nil, err
		}
		kind := KindClassRef
		if et == ElementValueType {
			kind = KindValueType
		}
		t = &Type{Kind: kind, ClassToken: token.NewToken(table, row)}
	case et == ElementPtr:
		elem, err := readPtrOrByRefElement(r)
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindPointer, Element: elem}
	case et == ElementByRef:
		elem, err := ReadType(r)
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindByRef, Element: elem}
	case et == ElementSZArray:
		elem, err := ReadType(r)
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindSZArray, Element: elem}
	case et == ElementArray:
		elem, err := ReadType(r)
		if err != nil {
			return nil, err
		}
		shape, err := readArrayShape(r)
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindArray, Element: elem, Shape: shape}
	case et == ElementVar, et == ElementMVar:
		idx, err := r.ReadCompressedUint()
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindGenericParam, GenericParamIndex: idx, GenericParamIsMethod: et == ElementMVar}
	case et == ElementGenericInst:
		base, err := ReadType(r)
		if err != nil {
			return nil, err
		}
		n, err := r.ReadCompressedUint()
		if err != nil {
			return nil, err
		}
		args := make([]*Type, n)
		for i := range args {
			args[i], err = ReadType(r)
			if err != nil {
				return nil, err
			}
		}
		t = &Type{Kind: KindGenericInst, GenericBase: base, GenericArgs: args}
	case et == ElementFnPtr:
		ms, err := ReadMethodSig(r)
		if err != nil {
			return nil, err
		}
		t = &Type{Kind: KindFnPtr, FnPtrSig: ms}
	default:
		return nil, mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("unrecognised ELEMENT_TYPE byte %#x", b).Build()
	}
	t.Mods = mods
	return t, nil
}

// readPtrOrByRefElement reads PTR's child, which may itself be VOID (an
// untyped pointer) rather than a full recursive type.
func readPtrOrByRefElement(r *bio.Reader) (*Type, error) {
	return ReadType(r)
}

func readArrayShape(r *bio.Reader) (*ArrayShape, error) {
	rank, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	numSizes, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	sizes := make([]uint32, numSizes)
	for i := range sizes {
		sizes[i], err = r.ReadCompressedUint()
		if err != nil {
			return nil, err
		}
	}
	numLo, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	los := make([]int32, numLo)
	for i := range los {
		los[i], err = r.ReadCompressedInt()
		if err != nil {
			return nil, err
		}
	}
	return &ArrayShape{Rank: rank, Sizes: sizes, LoBounds: los}, nil
}

// WriteType emits t's custom modifiers followed by its type encoding.
func WriteType(w *bio.Writer, t *Type) error {
	if err := WriteCustomMods(w, t.Mods); err != nil {
		return err
	}
	switch t.Kind {
	case KindPrimitive:
		return w.WriteU8(byte(t.Primitive))
	case KindClassRef, KindValueType:
		et := ElementClass
		if t.Kind == KindValueType {
			et = ElementValueType
		}
		if err := w.WriteU8(byte(et)); err != nil {
			return err
		}
		coded, err := token.Encode(token.TypeDefOrRef, t.ClassToken.Table(), t.ClassToken.Row())
		if err != nil {
			return err
		}
		return w.WriteCompressedUint(coded)
	case KindPointer:
		if err := w.WriteU8(byte(ElementPtr)); err != nil {
			return err
		}
		return WriteType(w, t.Element)
	case KindByRef:
		if err := w.WriteU8(byte(ElementByRef)); err != nil {
			return err
		}
		return WriteType(w, t.Element)
	case KindSZArray:
		if err := w.WriteU8(byte(ElementSZArray)); err != nil {
			return err
		}
		return WriteType(w, t.Element)
	case KindArray:
		if err := w.WriteU8(byte(ElementArray)); err != nil {
			return err
		}
		if err := WriteType(w, t.Element); err != nil {
			return err
		}
		return writeArrayShape(w, t.Shape)
	case KindGenericParam:
		et := ElementVar
		if t.GenericParamIsMethod {
			et = ElementMVar
		}
		if err := w.WriteU8(byte(et)); err != nil {
			return err
		}
		return w.WriteCompressedUint(t.GenericParamIndex)
	case KindGenericInst:
		if err := w.WriteU8(byte(ElementGenericInst)); err != nil {
			return err
		}
		if err := WriteType(w, t.GenericBase); err != nil {
			return err
		}
		if err := w.WriteCompressedUint(uint32(len(t.GenericArgs))); err != nil {
			return err
		}
		for _, a := range t.GenericArgs {
			if err := WriteType(w, a); err != nil {
				return err
			}
		}
		return nil
	case KindFnPtr:
		if err := w.WriteU8(byte(ElementFnPtr)); err != nil {
			return err
		}
		return WriteMethodSig(w, t.FnPtrSig)
	default:
		return mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("unknown Type kind %d", t.Kind).Build()
	}
}

func writeArrayShape(w *bio.Writer, s *ArrayShape) error {
	if err := w.WriteCompressedUint(s.Rank); err != nil {
		return err
	}
	if err := w.WriteCompressedUint(uint32(len(s.Sizes))); err != nil {
		return err
	}
	for _, sz := range s.Sizes {
		if err := w.WriteCompressedUint(sz); err != nil {
			return err
		}
	}
	if err := w.WriteCompressedUint(uint32(len(s.LoBounds))); err != nil {
		return err
	}
	for _, lo := range s.LoBounds {
		if err := w.WriteCompressedInt(lo); err != nil {
			return err
		}
	}
	return nil
}
