package il

import "github.com/clrforge/clrmeta/token"

// Label is an IL offset bound during assembly rather than a raw relative
// operand, so instruction insertion and rewriting never require manual
// offset arithmetic (spec.md §4.6).
type Label struct {
	bound  bool
	offset uint32
}

// NewLabel returns an unbound label.
func NewLabel() *Label { return &Label{} }

// Bind fixes the label to an IL byte offset.
func (l *Label) Bind(offset uint32) {
	l.bound = true
	l.offset = offset
}

// Bound reports whether Bind has been called.
func (l *Label) Bound() bool { return l.bound }

// Offset returns the bound IL offset; only valid if Bound() is true.
func (l *Label) Offset() uint32 { return l.offset }

// Instruction is one decoded or user-constructed IL instruction. Only the
// field matching Opcode.Operand is meaningful.
type Instruction struct {
	Opcode *Opcode
	Offset uint32 // IL offset this instruction starts at; set by the disassembler

	IntOperand    int64
	FloatOperand  float64
	VarIndex      uint16
	Token         token.Token
	StringOffset  uint32 // #US heap offset (InlineString), once Token is resolved
	StringLiteral string // InlineString: pending literal text, interned into Token by the build pipeline

	// TokenRef is a pending entity pointer (e.g. a root package *MemberRef
	// or *MethodDef) for an InlineMethod/InlineField/InlineTok/InlineType/
	// InlineSig operand whose final token isn't known until the build
	// pipeline's enumeration phase assigns it. The il package never
	// inspects this — it is resolved into Token by the build pipeline
	// before Resolve/Serialise run, the same "pending value" shape as
	// StringLiteral/Token above.
	TokenRef any
	Target        *Label // InlineBrTarget / ShortInlineBrTarget
	SwitchTargets []*Label

	// switchRelOffsets holds InlineSwitch's raw relative offsets between
	// decodeInstructions' two passes, before they become bound Labels.
	switchRelOffsets []int32
}
