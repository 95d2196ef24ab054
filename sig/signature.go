package sig

import (
	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
)

// CallingConvention is the low nibble of a MethodSig/StandAloneMethodSig's
// leading byte (ECMA-335 §II.23.2.3).
type CallingConvention byte

const (
	CallDefault   CallingConvention = 0x0
	CallC         CallingConvention = 0x1
	CallStdCall   CallingConvention = 0x2
	CallThisCall  CallingConvention = 0x3
	CallFastCall  CallingConvention = 0x4
	CallVarArg    CallingConvention = 0x5
	CallGeneric   CallingConvention = 0x10
)

const (
	flagHasThis       byte = 0x20
	flagExplicitThis  byte = 0x40
	flagGeneric       byte = 0x10
	callConvMask      byte = 0x0F
)

const (
	sigTagField  byte = 0x06
	sigTagLocal  byte = 0x07
	sigTagProp   byte = 0x08
)

// FieldSig is spec.md §4.5's FieldSig: a leading FIELD tag plus a Type.
type FieldSig struct {
	Type *Type
}

func ReadFieldSig(r *bio.Reader) (*FieldSig, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if tag != sigTagField {
		return nil, mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("FieldSig expected tag %#x, got %#x", sigTagField, tag).Build()
	}
	t, err := ReadType(r)
	if err != nil {
		return nil, err
	}
	return &FieldSig{Type: t}, nil
}

func WriteFieldSig(w *bio.Writer, s *FieldSig) error {
	if err := w.WriteU8(sigTagField); err != nil {
		return err
	}
	return WriteType(w, s.Type)
}

// MethodSig is spec.md §4.5's MethodSig, covering the vararg/generic/
// callconv variants and the retval's own custom-mods/BYREF/TYPEDBYREF/VOID
// forms.
type MethodSig struct {
	CallConv      CallingConvention
	HasThis       bool
	ExplicitThis  bool
	GenParamCount uint32 // valid iff CallConv&CallGeneric != 0

	RetMods  []CustomMod
	RetByRef bool
	RetVoid  bool
	RetType  *Type // nil iff RetVoid

	Params      []*Type
	SentinelAt  int // index into Params where a VARARG sentinel precedes extra args; -1 if none
	ExtraParams []*Type
}

func (m *MethodSig) Equal(o *MethodSig) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.CallConv != o.CallConv || m.HasThis != o.HasThis || m.ExplicitThis != o.ExplicitThis {
		return false
	}
	if m.RetVoid != o.RetVoid || m.RetByRef != o.RetByRef || !m.RetType.Equal(o.RetType) {
		return false
	}
	if len(m.Params) != len(o.Params) {
		return false
	}
	for i := range m.Params {
		if !m.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

func ReadMethodSig(r *bio.Reader) (*MethodSig, error) {
	first, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	m := &MethodSig{
		CallConv:     CallingConvention(first & callConvMask),
		HasThis:      first&flagHasThis != 0,
		ExplicitThis: first&flagExplicitThis != 0,
		SentinelAt:   -1,
	}
	if first&flagGeneric != 0 {
		m.CallConv |= CallGeneric
		m.GenParamCount, err = r.ReadCompressedUint()
		if err != nil {
			return nil, err
		}
	}
	paramCount, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}

	retMods, err := ReadCustomMods(r)
	if err != nil {
		return nil, err
	}
	m.RetMods = retMods
	b, err := r.PeekU8()
	if err != nil {
		return nil, err
	}
	switch ElementType(b) {
	case ElementVoid:
		r.ReadU8()
		m.RetVoid = true
	case ElementByRef:
		r.ReadU8()
		m.RetByRef = true
		m.RetType, err = ReadType(r)
		if err != nil {
			return nil, err
		}
	default:
		m.RetType, err = ReadType(r)
		if err != nil {
			return nil, err
		}
	}

	sawSentinel := false
	for read := uint32(0); read < paramCount; read++ {
		peek, err := r.PeekU8()
		if err != nil {
			return nil, err
		}
		if ElementType(peek) == ElementSentinel {
			r.ReadU8()
			m.SentinelAt = len(m.Params)
			sawSentinel = true
		}
		pt, err := ReadType(r)
		if err != nil {
			return nil, err
		}
		if sawSentinel {
			m.ExtraParams = append(m.ExtraParams, pt)
		} else {
			m.Params = append(m.Params, pt)
		}
	}
	return m, nil
}

func WriteMethodSig(w *bio.Writer, m *MethodSig) error {
	first := byte(m.CallConv) & callConvMask
	if m.HasThis {
		first |= flagHasThis
	}
	if m.ExplicitThis {
		first |= flagExplicitThis
	}
	if m.CallConv&CallGeneric != 0 {
		first |= flagGeneric
	}
	if err := w.WriteU8(first); err != nil {
		return err
	}
	if m.CallConv&CallGeneric != 0 {
		if err := w.WriteCompressedUint(m.GenParamCount); err != nil {
			return err
		}
	}
	total := uint32(len(m.Params) + len(m.ExtraParams))
	if err := w.WriteCompressedUint(total); err != nil {
		return err
	}
	if err := WriteCustomMods(w, m.RetMods); err != nil {
		return err
	}
	switch {
	case m.RetVoid:
		if err := w.WriteU8(byte(ElementVoid)); err != nil {
			return err
		}
	case m.RetByRef:
		if err := w.WriteU8(byte(ElementByRef)); err != nil {
			return err
		}
		if err := WriteType(w, m.RetType); err != nil {
			return err
		}
	default:
		if err := WriteType(w, m.RetType); err != nil {
			return err
		}
	}
	vararg := m.CallConv&CallingConvention(callConvMask) == CallVarArg
	for i, p := range m.Params {
		if vararg && m.SentinelAt == i {
			if err := w.WriteU8(byte(ElementSentinel)); err != nil {
				return err
			}
		}
		if err := WriteType(w, p); err != nil {
			return err
		}
	}
	if vararg && m.SentinelAt == len(m.Params) && len(m.ExtraParams) > 0 {
		if err := w.WriteU8(byte(ElementSentinel)); err != nil {
			return err
		}
	}
	for _, p := range m.ExtraParams {
		if err := WriteType(w, p); err != nil {
			return err
		}
	}
	return nil
}

// LocalVarSig is spec.md §4.5's LocalVarSig.
type LocalVarSig struct {
	Locals []*LocalVar
}

type LocalVar struct {
	Mods    []CustomMod
	Pinned  bool
	ByRef   bool
	Type    *Type // nil iff TypedByRef
	TypedByRef bool
}

func ReadLocalVarSig(r *bio.Reader) (*LocalVarSig, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if tag != sigTagLocal {
		return nil, mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("LocalVarSig expected tag %#x, got %#x", sigTagLocal, tag).Build()
	}
	count, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	out := &LocalVarSig{Locals: make([]*LocalVar, count)}
	for i := range out.Locals {
		lv := &LocalVar{}
		mods, err := ReadCustomMods(r)
		if err != nil {
			return nil, err
		}
		lv.Mods = mods
		for {
			b, err := r.PeekU8()
			if err != nil {
				return nil, err
			}
			if ElementType(b) == ElementPinned {
				r.ReadU8()
				lv.Pinned = true
				continue
			}
			break
		}
		b, err := r.PeekU8()
		if err != nil {
			return nil, err
		}
		switch ElementType(b) {
		case ElementTypedByRef:
			r.ReadU8()
			lv.TypedByRef = true
		case ElementByRef:
			r.ReadU8()
			lv.ByRef = true
			lv.Type, err = ReadType(r)
			if err != nil {
				return nil, err
			}
		default:
			lv.Type, err = ReadType(r)
			if err != nil {
				return nil, err
			}
		}
		out.Locals[i] = lv
	}
	return out, nil
}

func WriteLocalVarSig(w *bio.Writer, s *LocalVarSig) error {
	if err := w.WriteU8(sigTagLocal); err != nil {
		return err
	}
	if err := w.WriteCompressedUint(uint32(len(s.Locals))); err != nil {
		return err
	}
	for _, lv := range s.Locals {
		if err := WriteCustomMods(w, lv.Mods); err != nil {
			return err
		}
		if lv.Pinned {
			if err := w.WriteU8(byte(ElementPinned)); err != nil {
				return err
			}
		}
		switch {
		case lv.TypedByRef:
			if err := w.WriteU8(byte(ElementTypedByRef)); err != nil {
				return err
			}
		case lv.ByRef:
			if err := w.WriteU8(byte(ElementByRef)); err != nil {
				return err
			}
			if err := WriteType(w, lv.Type); err != nil {
				return err
			}
		default:
			if err := WriteType(w, lv.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// PropertySig is spec.md §4.5's PropertySig.
type PropertySig struct {
	HasThis bool
	Type    *Type
	Params  []*Type
}

func ReadPropertySig(r *bio.Reader) (*PropertySig, error) {
	first, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if first&callConvMask != sigTagProp {
		return nil, mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("PropertySig expected tag %#x, got %#x", sigTagProp, first).Build()
	}
	p := &PropertySig{HasThis: first&flagHasThis != 0}
	count, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	p.Type, err = ReadType(r)
	if err != nil {
		return nil, err
	}
	p.Params = make([]*Type, count)
	for i := range p.Params {
		p.Params[i], err = ReadType(r)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func WritePropertySig(w *bio.Writer, p *PropertySig) error {
	first := byte(sigTagProp)
	if p.HasThis {
		first |= flagHasThis
	}
	if err := w.WriteU8(first); err != nil {
		return err
	}
	if err := w.WriteCompressedUint(uint32(len(p.Params))); err != nil {
		return err
	}
	if err := WriteType(w, p.Type); err != nil {
		return err
	}
	for _, pt := range p.Params {
		if err := WriteType(w, pt); err != nil {
			return err
		}
	}
	return nil
}

// MethodSpecSig is the GenericInst signature attached to a MethodSpec row.
type MethodSpecSig struct {
	Args []*Type
}

const sigTagGenericInst = byte(ElementGenericInst)

func ReadMethodSpecSig(r *bio.Reader) (*MethodSpecSig, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if tag != sigTagGenericInst {
		return nil, mderr.New(mderr.PhaseSig, mderr.KindSignatureError).
			Detail("MethodSpecSig expected tag %#x, got %#x", sigTagGenericInst, tag).Build()
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
	return &MethodSpecSig{Args: args}, nil
}

func WriteMethodSpecSig(w *bio.Writer, s *MethodSpecSig) error {
	if err := w.WriteU8(sigTagGenericInst); err != nil {
		return err
	}
	if err := w.WriteCompressedUint(uint32(len(s.Args))); err != nil {
		return err
	}
	for _, a := range s.Args {
		if err := WriteType(w, a); err != nil {
			return err
		}
	}
	return nil
}

// StandAloneMethodSig is a StandAloneSig row's method-call signature: the
// same grammar as MethodSig but its calling convention may additionally be
// one of the unmanaged conventions (C, StdCall, ThisCall, FastCall).
type StandAloneMethodSig = MethodSig

func ReadStandAloneMethodSig(r *bio.Reader) (*StandAloneMethodSig, error) {
	return ReadMethodSig(r)
}

func WriteStandAloneMethodSig(w *bio.Writer, s *StandAloneMethodSig) error {
	return WriteMethodSig(w, s)
}

// TypeSpecSig is a TypeSpec row's blob: a single Type with no leading tag.
func ReadTypeSpecSig(r *bio.Reader) (*Type, error) { return ReadType(r) }
func WriteTypeSpecSig(w *bio.Writer, t *Type) error { return WriteType(w, t) }
