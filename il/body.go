package il

import (
	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/token"
)

const (
	headerTinyFormat = 0x02
	headerFatFormat  = 0x03
	headerFormatMask = 0x03
	headerMoreSects  = 0x08
	headerInitLocals = 0x10
)

const (
	sectEHTable    = 0x01
	sectFatFormat  = 0x40
	sectMoreSects  = 0x80
)

// ClauseKind is an exception-handler clause's kind flag (spec.md §4.6).
type ClauseKind uint32

const (
	ClauseException ClauseKind = 0
	ClauseFilter    ClauseKind = 1
	ClauseFinally   ClauseKind = 2
	ClauseFault     ClauseKind = 4
)

// EHClause is one exception-handler region, in the widened (fat-capable)
// in-memory shape regardless of which wire form it round-trips through.
type EHClause struct {
	Kind          ClauseKind
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	ClassToken    token.Token // ClauseException
	FilterOffset  uint32      // ClauseFilter
}

// fitsSmallForm reports whether c can round-trip through the 12-byte small
// clause encoding (8-bit offsets/lengths where the small form uses them).
func (c *EHClause) fitsSmallForm() bool {
	return c.TryOffset <= 0xFFFF && c.TryLength <= 0xFF &&
		c.HandlerOffset <= 0xFFFF && c.HandlerLength <= 0xFF
}

// BodyState is the emission-side state machine of spec.md §4.6.
type BodyState int

const (
	StateAssembling BodyState = iota
	StateResolved
	StateSerialised
)

// MethodBody is one method's IL: instructions, EH clauses, and header
// fields, moving through Assembling -> Resolved -> Serialised.
type MethodBody struct {
	MaxStack         uint16
	InitLocals       bool
	LocalVarSigToken token.Token
	Instructions     []*Instruction
	Clauses          []*EHClause

	state BodyState
	code  []byte
}

// NewMethodBody returns a body ready for instruction assembly.
func NewMethodBody() *MethodBody { return &MethodBody{MaxStack: 8} }

// State returns the body's current lifecycle state.
func (b *MethodBody) State() BodyState { return b.state }

// instrSize returns the on-disk byte length of one instruction including
// its opcode bytes.
func instrSize(instr *Instruction) int {
	opLen := 1
	if instr.Opcode.twoByte() {
		opLen = 2
	}
	if instr.Opcode.Operand == InlineSwitch {
		return opLen + 4 + 4*len(instr.SwitchTargets)
	}
	return opLen + instr.Opcode.OperandSize
}

// Resolve computes every instruction's Offset and checks that every branch
// label is bound, transitioning Assembling -> Resolved. An unresolved
// label is a fatal emit-time error (spec.md §4.6).
func (b *MethodBody) Resolve() error {
	if b.state != StateAssembling {
		return mderr.New(mderr.PhaseIL, mderr.KindContractViolation).
			Detail("Resolve called in state %d, expected Assembling", b.state).Build()
	}
	offset := uint32(0)
	for _, instr := range b.Instructions {
		instr.Offset = offset
		offset += uint32(instrSize(instr))
	}
	for _, instr := range b.Instructions {
		switch instr.Opcode.Operand {
		case InlineBrTarget, ShortInlineBrTarget:
			if instr.Target == nil || !instr.Target.Bound() {
				return mderr.New(mderr.PhaseIL, mderr.KindUnresolvedLabel).
					Detail("branch target of %s at offset %d is unresolved", instr.Opcode.Name, instr.Offset).Build()
			}
		case InlineSwitch:
			for _, l := range instr.SwitchTargets {
				if l == nil || !l.Bound() {
					return mderr.New(mderr.PhaseIL, mderr.KindUnresolvedLabel).
						Detail("switch target of instruction at offset %d is unresolved", instr.Offset).Build()
				}
			}
		}
	}
	b.state = StateResolved
	return nil
}

// codeSize returns the total serialised IL byte length; valid once Resolved.
func (b *MethodBody) codeSize() uint32 {
	if len(b.Instructions) == 0 {
		return 0
	}
	last := b.Instructions[len(b.Instructions)-1]
	return last.Offset + uint32(instrSize(last))
}

// Serialise writes the header, IL bytes, and any EH data sections,
// transitioning Resolved -> Serialised. Resolve must have run first.
func (b *MethodBody) Serialise() ([]byte, error) {
	if b.state != StateResolved {
		return nil, mderr.New(mderr.PhaseIL, mderr.KindContractViolation).
			Detail("Serialise called in state %d, expected Resolved", b.state).Build()
	}
	code := b.codeSize()
	tiny := code < 64 && len(b.Clauses) == 0 && b.LocalVarSigToken.IsNull() && b.MaxStack <= 8

	w := bio.NewWriter()
	if tiny {
		if err := w.WriteU8(byte(headerTinyFormat | (code << 2))); err != nil {
			return nil, err
		}
	} else {
		flags := uint16(headerFatFormat)
		if len(b.Clauses) > 0 {
			flags |= headerMoreSects
		}
		if b.InitLocals {
			flags |= headerInitLocals
		}
		flags |= 3 << 12 // header size in dwords
		if err := w.WriteU16(flags); err != nil {
			return nil, err
		}
		if err := w.WriteU16(b.MaxStack); err != nil {
			return nil, err
		}
		if err := w.WriteU32(code); err != nil {
			return nil, err
		}
		if err := w.WriteU32(uint32(b.LocalVarSigToken)); err != nil {
			return nil, err
		}
	}

	if err := writeInstructions(w, b.Instructions); err != nil {
		return nil, err
	}

	if len(b.Clauses) > 0 {
		for w.Len()%4 != 0 {
			if err := w.WriteU8(0); err != nil {
				return nil, err
			}
		}
		if err := writeEHSection(w, b.Clauses); err != nil {
			return nil, err
		}
	}

	b.code = w.Bytes()
	b.state = StateSerialised
	return b.code, nil
}

func writeInstructions(w *bio.Writer, instrs []*Instruction) error {
	for _, instr := range instrs {
		op := instr.Opcode
		if op.twoByte() {
			if err := w.WriteU8(0xFE); err != nil {
				return err
			}
			if err := w.WriteU8(byte(op.Code & 0xFF)); err != nil {
				return err
			}
		} else {
			if err := w.WriteU8(byte(op.Code)); err != nil {
				return err
			}
		}
		if err := writeOperand(w, instr); err != nil {
			return err
		}
	}
	return nil
}

func writeOperand(w *bio.Writer, instr *Instruction) error {
	op := instr.Opcode
	switch op.Operand {
	case InlineNone:
		return nil
	case InlineI:
		if op.OperandSize == 1 {
			return w.WriteU8(byte(instr.IntOperand))
		}
		return w.WriteU32(uint32(instr.IntOperand))
	case InlineI8:
		return w.WriteU64(uint64(instr.IntOperand))
	case InlineR:
		return w.WriteU32(uint32(int32(instr.IntOperand)))
	case InlineR8:
		return w.WriteU64(uint64(instr.IntOperand))
	case InlineVar:
		if op.OperandSize == 1 {
			return w.WriteU8(byte(instr.VarIndex))
		}
		return w.WriteU16(instr.VarIndex)
	case InlineBrTarget:
		return w.WriteU32(uint32(int32(instr.Target.Offset()) - int32(instr.Offset) - int32(instrSize(instr))))
	case ShortInlineBrTarget:
		rel := int32(instr.Target.Offset()) - int32(instr.Offset) - int32(instrSize(instr))
		return w.WriteU8(byte(int8(rel)))
	case InlineSwitch:
		if err := w.WriteU32(uint32(len(instr.SwitchTargets))); err != nil {
			return err
		}
		next := instr.Offset + uint32(instrSize(instr))
		for _, l := range instr.SwitchTargets {
			if err := w.WriteU32(uint32(int32(l.Offset()) - int32(next))); err != nil {
				return err
			}
		}
		return nil
	case InlineTok, InlineString, InlineSig, InlineMethod, InlineField, InlineType:
		return w.WriteU32(uint32(instr.Token))
	default:
		return mderr.New(mderr.PhaseIL, mderr.KindInvalidOpcode).
			Detail("unhandled operand kind for %s", op.Name).Build()
	}
}

func writeEHSection(w *bio.Writer, clauses []*EHClause) error {
	fat := len(clauses) > 20
	if !fat {
		for _, c := range clauses {
			if !c.fitsSmallForm() {
				fat = true
				break
			}
		}
	}
	if fat {
		size := uint32(4 + 24*len(clauses))
		if err := w.WriteU8(sectEHTable | sectFatFormat); err != nil {
			return err
		}
		if err := w.WriteU8(byte(size)); err != nil {
			return err
		}
		if err := w.WriteU8(byte(size >> 8)); err != nil {
			return err
		}
		if err := w.WriteU8(byte(size >> 16)); err != nil {
			return err
		}
		for _, c := range clauses {
			if err := writeFatClause(w, c); err != nil {
				return err
			}
		}
		return nil
	}
	size := byte(4 + 12*len(clauses))
	if err := w.WriteU8(sectEHTable); err != nil {
		return err
	}
	if err := w.WriteU8(size); err != nil {
		return err
	}
	if err := w.WriteU16(0); err != nil {
		return err
	}
	for _, c := range clauses {
		if err := writeSmallClause(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeSmallClause(w *bio.Writer, c *EHClause) error {
	if err := w.WriteU16(uint16(c.Kind)); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(c.TryOffset)); err != nil {
		return err
	}
	if err := w.WriteU8(byte(c.TryLength)); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(c.HandlerOffset)); err != nil {
		return err
	}
	if err := w.WriteU8(byte(c.HandlerLength)); err != nil {
		return err
	}
	return w.WriteU32(clauseExtra(c))
}

func writeFatClause(w *bio.Writer, c *EHClause) error {
	if err := w.WriteU32(uint32(c.Kind)); err != nil {
		return err
	}
	if err := w.WriteU32(c.TryOffset); err != nil {
		return err
	}
	if err := w.WriteU32(c.TryLength); err != nil {
		return err
	}
	if err := w.WriteU32(c.HandlerOffset); err != nil {
		return err
	}
	if err := w.WriteU32(c.HandlerLength); err != nil {
		return err
	}
	return w.WriteU32(clauseExtra(c))
}

func clauseExtra(c *EHClause) uint32 {
	switch c.Kind {
	case ClauseException:
		return uint32(c.ClassToken)
	case ClauseFilter:
		return c.FilterOffset
	default:
		return 0
	}
}

// headerInfo is the decoded tiny or fat method-body header that
// readHeader returns.
type headerInfo struct {
	tiny             bool
	flags            uint16
	maxStack         uint16
	codeSize         uint32
	localVarSigToken token.Token
}

func readHeader(r *bio.Reader) (*headerInfo, error) {
	first, err := r.PeekU8()
	if err != nil {
		return nil, err
	}
	if first&headerFormatMask == headerTinyFormat {
		if _, err := r.ReadU8(); err != nil {
			return nil, err
		}
		return &headerInfo{tiny: true, maxStack: 8, codeSize: uint32(first >> 2)}, nil
	}
	if first&headerFormatMask != headerFatFormat {
		return nil, mderr.New(mderr.PhaseIL, mderr.KindMalformedImage).
			Detail("unrecognised method header format byte %#x", first).Build()
	}
	flags, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	maxStack, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	codeSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	localTok, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &headerInfo{flags: flags, maxStack: maxStack, codeSize: codeSize, localVarSigToken: token.Token(localTok)}, nil
}

// Disassemble decodes a fat or tiny method body, including any EH data
// sections, into a MethodBody with resolved instruction offsets and
// branch-target Labels already bound (spec.md §4.9 step 5).
func Disassemble(r *bio.Reader) (*MethodBody, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	codeBytes, err := r.ReadBytes(int(h.codeSize))
	if err != nil {
		return nil, err
	}

	instrs, err := decodeInstructions(codeBytes)
	if err != nil {
		return nil, err
	}

	body := &MethodBody{
		MaxStack:         h.maxStack,
		InitLocals:       h.flags&headerInitLocals != 0,
		LocalVarSigToken: h.localVarSigToken,
		Instructions:     instrs,
		state:            StateResolved,
		code:             codeBytes,
	}

	if !h.tiny && h.flags&headerMoreSects != 0 {
		for r.Pos()%4 != 0 {
			if _, err := r.ReadU8(); err != nil {
				return nil, err
			}
		}
		clauses, err := readEHSections(r)
		if err != nil {
			return nil, err
		}
		body.Clauses = clauses
	}
	return body, nil
}

func decodeInstructions(code []byte) ([]*Instruction, error) {
	cr := bio.NewReader(code)
	var raw []*Instruction
	targets := map[uint32]*Label{}
	getLabel := func(off uint32) *Label {
		if l, ok := targets[off]; ok {
			return l
		}
		l := NewLabel()
		l.Bind(off)
		targets[off] = l
		return l
	}

	for cr.Pos() < cr.Len() {
		offset := uint32(cr.Pos())
		b, err := cr.ReadU8()
		if err != nil {
			return nil, err
		}
		var op *Opcode
		if b == 0xFE {
			b2, err := cr.ReadU8()
			if err != nil {
				return nil, err
			}
			op = ByCode(0xFE00 | uint16(b2))
		} else {
			op = ByCode(uint16(b))
		}
		if op == nil {
			return nil, mderr.New(mderr.PhaseIL, mderr.KindInvalidOpcode).
				Detail("unknown opcode byte %#x at IL offset %d", b, offset).Build()
		}
		instr := &Instruction{Opcode: op, Offset: offset}
		if err := readOperand(cr, instr); err != nil {
			return nil, err
		}
		raw = append(raw, instr)
	}

	for _, instr := range raw {
		size := instrSize(instr)
		next := instr.Offset + uint32(size)
		switch instr.Opcode.Operand {
		case InlineBrTarget, ShortInlineBrTarget:
			instr.Target = getLabel(uint32(int64(next) + instr.IntOperand))
		case InlineSwitch:
			for i, rel := range instr.switchRelOffsets {
				instr.SwitchTargets[i] = getLabel(uint32(int64(next) + int64(rel)))
			}
		}
	}
	return raw, nil
}

func readOperand(r *bio.Reader, instr *Instruction) error {
	op := instr.Opcode
	switch op.Operand {
	case InlineNone:
		return nil
	case InlineI:
		if op.OperandSize == 1 {
			v, err := r.ReadU8()
			instr.IntOperand = int64(int8(v))
			return err
		}
		v, err := r.ReadU32()
		instr.IntOperand = int64(int32(v))
		return err
	case InlineI8:
		v, err := r.ReadU64()
		instr.IntOperand = int64(v)
		return err
	case InlineR:
		v, err := r.ReadU32()
		instr.IntOperand = int64(v)
		return err
	case InlineR8:
		v, err := r.ReadU64()
		instr.IntOperand = int64(v)
		return err
	case InlineVar:
		if op.OperandSize == 1 {
			v, err := r.ReadU8()
			instr.VarIndex = uint16(v)
			return err
		}
		v, err := r.ReadU16()
		instr.VarIndex = v
		return err
	case InlineBrTarget:
		v, err := r.ReadU32()
		instr.IntOperand = int64(int32(v))
		return err
	case ShortInlineBrTarget:
		v, err := r.ReadU8()
		instr.IntOperand = int64(int8(v))
		return err
	case InlineSwitch:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		instr.SwitchTargets = make([]*Label, n)
		instr.switchRelOffsets = make([]int32, n)
		for i := uint32(0); i < n; i++ {
			v, err := r.ReadU32()
			if err != nil {
				return err
			}
			instr.switchRelOffsets[i] = int32(v)
		}
		return nil
	case InlineTok, InlineString, InlineSig, InlineMethod, InlineField, InlineType:
		v, err := r.ReadU32()
		instr.Token = token.Token(v)
		return err
	default:
		return mderr.New(mderr.PhaseIL, mderr.KindInvalidOpcode).
			Detail("unhandled operand kind for %s", op.Name).Build()
	}
}

func readEHSections(r *bio.Reader) ([]*EHClause, error) {
	var all []*EHClause
	for {
		kind, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if kind&sectFatFormat != 0 {
			b0, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			b1, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			b2, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			size := uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16
			count := (size - 4) / 24
			for i := uint32(0); i < count; i++ {
				c, err := readFatClause(r)
				if err != nil {
					return nil, err
				}
				all = append(all, c)
			}
		} else {
			size, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			if _, err := r.ReadU16(); err != nil {
				return nil, err
			}
			count := (uint32(size) - 4) / 12
			for i := uint32(0); i < count; i++ {
				c, err := readSmallClause(r)
				if err != nil {
					return nil, err
				}
				all = append(all, c)
			}
		}
		if kind&sectMoreSects == 0 {
			break
		}
	}
	return all, nil
}

func readSmallClause(r *bio.Reader) (*EHClause, error) {
	flags, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	tryOff, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	tryLen, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	handlerOff, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	handlerLen, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	extra, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	c := &EHClause{
		Kind:          ClauseKind(flags),
		TryOffset:     uint32(tryOff),
		TryLength:     uint32(tryLen),
		HandlerOffset: uint32(handlerOff),
		HandlerLength: uint32(handlerLen),
	}
	applyClauseExtra(c, extra)
	return c, nil
}

func readFatClause(r *bio.Reader) (*EHClause, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	tryOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	tryLen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	handlerOff, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	handlerLen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	extra, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	c := &EHClause{
		Kind:          ClauseKind(flags),
		TryOffset:     tryOff,
		TryLength:     tryLen,
		HandlerOffset: handlerOff,
		HandlerLength: handlerLen,
	}
	applyClauseExtra(c, extra)
	return c, nil
}

func applyClauseExtra(c *EHClause, extra uint32) {
	switch c.Kind {
	case ClauseException:
		c.ClassToken = token.Token(extra)
	case ClauseFilter:
		c.FilterOffset = extra
	}
}
