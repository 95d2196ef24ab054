package il

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/token"
)

func TestTinyBodyRoundTrip(t *testing.T) {
	b := NewMethodBody()
	b.Instructions = []*Instruction{
		{Opcode: ByName("ldarg.0")},
		{Opcode: ByName("call"), Token: token.NewToken(token.MemberRef, 1)},
		{Opcode: ByName("ret")},
	}
	require.NoError(t, b.Resolve())
	bytes, err := b.Serialise()
	require.NoError(t, err)
	require.Equal(t, StateSerialised, b.State())

	got, err := Disassemble(bio.NewReader(bytes))
	require.NoError(t, err)
	require.Len(t, got.Instructions, 3)
	require.Equal(t, "ldarg.0", got.Instructions[0].Opcode.Name)
	require.Equal(t, "call", got.Instructions[1].Opcode.Name)
	require.Equal(t, token.NewToken(token.MemberRef, 1), got.Instructions[1].Token)
	require.Equal(t, "ret", got.Instructions[2].Opcode.Name)
}

func TestBranchLabelRoundTrip(t *testing.T) {
	target := NewLabel()
	nop := &Instruction{Opcode: ByName("nop")}
	br := &Instruction{Opcode: ByName("br.s"), Target: target}
	ret := &Instruction{Opcode: ByName("ret")}
	target.Bind(0) // placeholder: Resolve rejects unbound labels and does not set label offsets

	b := NewMethodBody()
	b.Instructions = []*Instruction{br, nop, ret}
	// Bind target to the offset of `ret` after Resolve fixes offsets.
	require.NoError(t, b.Resolve())
	target.Bind(ret.Offset)

	bytes, err := b.Serialise()
	require.NoError(t, err)

	got, err := Disassemble(bio.NewReader(bytes))
	require.NoError(t, err)
	require.Len(t, got.Instructions, 3)
	brOut := got.Instructions[0]
	require.Equal(t, "br.s", brOut.Opcode.Name)
	require.True(t, brOut.Target.Bound())
	require.Equal(t, got.Instructions[2].Offset, brOut.Target.Offset())
}

func TestUnresolvedLabelIsFatal(t *testing.T) {
	b := NewMethodBody()
	b.Instructions = []*Instruction{
		{Opcode: ByName("br.s"), Target: NewLabel()},
		{Opcode: ByName("ret")},
	}
	err := b.Resolve()
	require.Error(t, err)
}

func TestFatBodyWithLocalsAndEHClause(t *testing.T) {
	b := NewMethodBody()
	b.MaxStack = 2
	b.InitLocals = true
	b.LocalVarSigToken = token.NewToken(token.StandAloneSig, 1)

	tryStart := &Instruction{Opcode: ByName("nop")}
	tryEnd := &Instruction{Opcode: ByName("leave.s"), Target: NewLabel()}
	handlerStart := &Instruction{Opcode: ByName("pop")}
	handlerEnd := &Instruction{Opcode: ByName("leave.s"), Target: NewLabel()}
	after := &Instruction{Opcode: ByName("ret")}

	b.Instructions = []*Instruction{tryStart, tryEnd, handlerStart, handlerEnd, after}
	// Placeholders: Resolve rejects unbound labels; rebound once offsets are known.
	tryEnd.Target.Bind(0)
	handlerEnd.Target.Bind(0)
	require.NoError(t, b.Resolve())
	tryEnd.Target.Bind(after.Offset)
	handlerEnd.Target.Bind(after.Offset)

	b.Clauses = []*EHClause{
		{
			Kind:          ClauseException,
			TryOffset:     tryStart.Offset,
			TryLength:     handlerStart.Offset - tryStart.Offset,
			HandlerOffset: handlerStart.Offset,
			HandlerLength: after.Offset - handlerStart.Offset,
			ClassToken:    token.NewToken(token.TypeRef, 4),
		},
	}

	bytes, err := b.Serialise()
	require.NoError(t, err)

	got, err := Disassemble(bio.NewReader(bytes))
	require.NoError(t, err)
	require.Equal(t, uint16(2), got.MaxStack)
	require.True(t, got.InitLocals)
	require.Equal(t, b.LocalVarSigToken, got.LocalVarSigToken)
	require.Len(t, got.Clauses, 1)
	require.Equal(t, ClauseException, got.Clauses[0].Kind)
	require.Equal(t, token.NewToken(token.TypeRef, 4), got.Clauses[0].ClassToken)
}

func TestSwitchInstructionRoundTrip(t *testing.T) {
	case0 := &Instruction{Opcode: ByName("nop")}
	case1 := &Instruction{Opcode: ByName("nop")}
	after := &Instruction{Opcode: ByName("ret")}
	sw := &Instruction{Opcode: ByName("switch"), SwitchTargets: []*Label{NewLabel(), NewLabel()}}

	b := NewMethodBody()
	b.Instructions = []*Instruction{sw, case0, case1, after}
	// Placeholders: Resolve rejects unbound labels; rebound once offsets are known.
	sw.SwitchTargets[0].Bind(0)
	sw.SwitchTargets[1].Bind(0)
	require.NoError(t, b.Resolve())
	sw.SwitchTargets[0].Bind(case0.Offset)
	sw.SwitchTargets[1].Bind(case1.Offset)

	bytes, err := b.Serialise()
	require.NoError(t, err)

	got, err := Disassemble(bio.NewReader(bytes))
	require.NoError(t, err)
	require.Len(t, got.Instructions[0].SwitchTargets, 2)
	require.Equal(t, case0.Offset, got.Instructions[0].SwitchTargets[0].Offset())
	require.Equal(t, case1.Offset, got.Instructions[0].SwitchTargets[1].Offset())
}
