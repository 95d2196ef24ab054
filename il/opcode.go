// Package il implements the IL method-body codec of spec.md §4.6: tiny/fat
// headers, the ECMA-335 opcode table, label-based branch targets, small/fat
// exception-handler clauses, and the Assembling -> Resolved -> Serialised
// state machine for body emission.
package il

// OperandKind is one of the fixed operand shapes of spec.md §4.6.
type OperandKind int

const (
	InlineNone OperandKind = iota
	InlineI
	InlineI8
	InlineR
	InlineR8
	InlineVar
	InlineBrTarget
	ShortInlineBrTarget
	InlineSwitch
	InlineTok
	InlineString
	InlineSig
	InlineMethod
	InlineField
	InlineType
)

// Opcode describes one CIL instruction: its 1- or 2-byte encoding (2-byte
// opcodes are 0xFE-prefixed), operand kind, immediate-operand width in
// bytes (0 for InlineNone; variable for InlineSwitch, handled specially),
// and net evaluation-stack delta. For call, callvirt, calli and newobj the
// recorded -1 is a placeholder, since their real delta depends on the
// method signature; for every other opcode the value is the real delta.
type Opcode struct {
	Name        string
	Code        uint16 // byte1 for 1-byte ops; 0xFE00|byte2 for 2-byte ops
	Operand     OperandKind
	OperandSize int
	StackDelta  int
}

func (o *Opcode) twoByte() bool { return o.Code>>8 == 0xFE }

// oneByteOpcodes and twoByteOpcodes are dense lookup tables over the low
// byte of the opcode's encoding.
var oneByteOpcodes [256]*Opcode
var twoByteOpcodes [256]*Opcode

func def(name string, code uint16, operand OperandKind, size int, delta int) *Opcode {
	op := &Opcode{Name: name, Code: code, Operand: operand, OperandSize: size, StackDelta: delta}
	if code>>8 == 0xFE {
		twoByteOpcodes[code&0xFF] = op
	} else {
		oneByteOpcodes[code&0xFF] = op
	}
	return op
}

// ByCode looks up an opcode by its full Code (byte1, or 0xFE00|byte2).
func ByCode(code uint16) *Opcode {
	if code>>8 == 0xFE {
		return twoByteOpcodes[code&0xFF]
	}
	if code > 0xFF {
		return nil
	}
	return oneByteOpcodes[code]
}

func init() {
	def("nop", 0x00, InlineNone, 0, 0)
	def("break", 0x01, InlineNone, 0, 0)
	def("ldarg.0", 0x02, InlineNone, 0, 1)
	def("ldarg.1", 0x03, InlineNone, 0, 1)
	def("ldarg.2", 0x04, InlineNone, 0, 1)
	def("ldarg.3", 0x05, InlineNone, 0, 1)
	def("ldloc.0", 0x06, InlineNone, 0, 1)
	def("ldloc.1", 0x07, InlineNone, 0, 1)
	def("ldloc.2", 0x08, InlineNone, 0, 1)
	def("ldloc.3", 0x09, InlineNone, 0, 1)
	def("stloc.0", 0x0A, InlineNone, 0, -1)
	def("stloc.1", 0x0B, InlineNone, 0, -1)
	def("stloc.2", 0x0C, InlineNone, 0, -1)
	def("stloc.3", 0x0D, InlineNone, 0, -1)
	def("ldarg.s", 0x0E, InlineVar, 1, 1)
	def("ldarga.s", 0x0F, InlineVar, 1, 1)
	def("starg.s", 0x10, InlineVar, 1, -1)
	def("ldloc.s", 0x11, InlineVar, 1, 1)
	def("ldloca.s", 0x12, InlineVar, 1, 1)
	def("stloc.s", 0x13, InlineVar, 1, -1)
	def("ldnull", 0x14, InlineNone, 0, 1)
	def("ldc.i4.m1", 0x15, InlineNone, 0, 1)
	def("ldc.i4.0", 0x16, InlineNone, 0, 1)
	def("ldc.i4.1", 0x17, InlineNone, 0, 1)
	def("ldc.i4.2", 0x18, InlineNone, 0, 1)
	def("ldc.i4.3", 0x19, InlineNone, 0, 1)
	def("ldc.i4.4", 0x1A, InlineNone, 0, 1)
	def("ldc.i4.5", 0x1B, InlineNone, 0, 1)
	def("ldc.i4.6", 0x1C, InlineNone, 0, 1)
	def("ldc.i4.7", 0x1D, InlineNone, 0, 1)
	def("ldc.i4.8", 0x1E, InlineNone, 0, 1)
	def("ldc.i4.s", 0x1F, InlineI, 1, 1)
	def("ldc.i4", 0x20, InlineI, 4, 1)
	def("ldc.i8", 0x21, InlineI8, 8, 1)
	def("ldc.r4", 0x22, InlineR, 4, 1)
	def("ldc.r8", 0x23, InlineR8, 8, 1)
	def("dup", 0x25, InlineNone, 0, 1)
	def("pop", 0x26, InlineNone, 0, -1)
	def("jmp", 0x27, InlineMethod, 4, 0)
	def("call", 0x28, InlineMethod, 4, -1)
	def("calli", 0x29, InlineSig, 4, -1)
	def("ret", 0x2A, InlineNone, 0, -1)
	def("br.s", 0x2B, ShortInlineBrTarget, 1, 0)
	def("brfalse.s", 0x2C, ShortInlineBrTarget, 1, -1)
	def("brtrue.s", 0x2D, ShortInlineBrTarget, 1, -1)
	def("beq.s", 0x2E, ShortInlineBrTarget, 1, -2)
	def("bge.s", 0x2F, ShortInlineBrTarget, 1, -2)
	def("bgt.s", 0x30, ShortInlineBrTarget, 1, -2)
	def("ble.s", 0x31, ShortInlineBrTarget, 1, -2)
	def("blt.s", 0x32, ShortInlineBrTarget, 1, -2)
	def("bne.un.s", 0x33, ShortInlineBrTarget, 1, -2)
	def("bge.un.s", 0x34, ShortInlineBrTarget, 1, -2)
	def("bgt.un.s", 0x35, ShortInlineBrTarget, 1, -2)
	def("ble.un.s", 0x36, ShortInlineBrTarget, 1, -2)
	def("blt.un.s", 0x37, ShortInlineBrTarget, 1, -2)
	def("br", 0x38, InlineBrTarget, 4, 0)
	def("brfalse", 0x39, InlineBrTarget, 4, -1)
	def("brtrue", 0x3A, InlineBrTarget, 4, -1)
	def("beq", 0x3B, InlineBrTarget, 4, -2)
	def("bge", 0x3C, InlineBrTarget, 4, -2)
	def("bgt", 0x3D, InlineBrTarget, 4, -2)
	def("ble", 0x3E, InlineBrTarget, 4, -2)
	def("blt", 0x3F, InlineBrTarget, 4, -2)
	def("bne.un", 0x40, InlineBrTarget, 4, -2)
	def("bge.un", 0x41, InlineBrTarget, 4, -2)
	def("bgt.un", 0x42, InlineBrTarget, 4, -2)
	def("ble.un", 0x43, InlineBrTarget, 4, -2)
	def("blt.un", 0x44, InlineBrTarget, 4, -2)
	def("switch", 0x45, InlineSwitch, 0, -1)
	def("ldind.i1", 0x46, InlineNone, 0, 0)
	def("ldind.u1", 0x47, InlineNone, 0, 0)
	def("ldind.i2", 0x48, InlineNone, 0, 0)
	def("ldind.u2", 0x49, InlineNone, 0, 0)
	def("ldind.i4", 0x4A, InlineNone, 0, 0)
	def("ldind.u4", 0x4B, InlineNone, 0, 0)
	def("ldind.i8", 0x4C, InlineNone, 0, 0)
	def("ldind.i", 0x4D, InlineNone, 0, 0)
	def("ldind.r4", 0x4E, InlineNone, 0, 0)
	def("ldind.r8", 0x4F, InlineNone, 0, 0)
	def("ldind.ref", 0x50, InlineNone, 0, 0)
	def("stind.ref", 0x51, InlineNone, 0, -2)
	def("stind.i1", 0x52, InlineNone, 0, -2)
	def("stind.i2", 0x53, InlineNone, 0, -2)
	def("stind.i4", 0x54, InlineNone, 0, -2)
	def("stind.i8", 0x55, InlineNone, 0, -2)
	def("stind.r4", 0x56, InlineNone, 0, -2)
	def("stind.r8", 0x57, InlineNone, 0, -2)
	def("add", 0x58, InlineNone, 0, -1)
	def("sub", 0x59, InlineNone, 0, -1)
	def("mul", 0x5A, InlineNone, 0, -1)
	def("div", 0x5B, InlineNone, 0, -1)
	def("div.un", 0x5C, InlineNone, 0, -1)
	def("rem", 0x5D, InlineNone, 0, -1)
	def("rem.un", 0x5E, InlineNone, 0, -1)
	def("and", 0x5F, InlineNone, 0, -1)
	def("or", 0x60, InlineNone, 0, -1)
	def("xor", 0x61, InlineNone, 0, -1)
	def("shl", 0x62, InlineNone, 0, -1)
	def("shr", 0x63, InlineNone, 0, -1)
	def("shr.un", 0x64, InlineNone, 0, -1)
	def("neg", 0x65, InlineNone, 0, 0)
	def("not", 0x66, InlineNone, 0, 0)
	def("conv.i1", 0x67, InlineNone, 0, 0)
	def("conv.i2", 0x68, InlineNone, 0, 0)
	def("conv.i4", 0x69, InlineNone, 0, 0)
	def("conv.i8", 0x6A, InlineNone, 0, 0)
	def("conv.r4", 0x6B, InlineNone, 0, 0)
	def("conv.r8", 0x6C, InlineNone, 0, 0)
	def("conv.u4", 0x6D, InlineNone, 0, 0)
	def("conv.u8", 0x6E, InlineNone, 0, 0)
	def("callvirt", 0x6F, InlineMethod, 4, -1)
	def("cpobj", 0x70, InlineType, 4, -2)
	def("ldobj", 0x71, InlineType, 4, 0)
	def("ldstr", 0x72, InlineString, 4, 1)
	def("newobj", 0x73, InlineMethod, 4, -1)
	def("castclass", 0x74, InlineType, 4, 0)
	def("isinst", 0x75, InlineType, 4, 0)
	def("conv.r.un", 0x76, InlineNone, 0, 0)
	def("unbox", 0x79, InlineType, 4, 0)
	def("throw", 0x7A, InlineNone, 0, -1)
	def("ldfld", 0x7B, InlineField, 4, 0)
	def("ldflda", 0x7C, InlineField, 4, 0)
	def("stfld", 0x7D, InlineField, 4, -2)
	def("ldsfld", 0x7E, InlineField, 4, 1)
	def("ldsflda", 0x7F, InlineField, 4, 1)
	def("stsfld", 0x80, InlineField, 4, -1)
	def("stobj", 0x81, InlineType, 4, -2)
	def("conv.ovf.i1.un", 0x82, InlineNone, 0, 0)
	def("conv.ovf.i2.un", 0x83, InlineNone, 0, 0)
	def("conv.ovf.i4.un", 0x84, InlineNone, 0, 0)
	def("conv.ovf.i8.un", 0x85, InlineNone, 0, 0)
	def("conv.ovf.u1.un", 0x86, InlineNone, 0, 0)
	def("conv.ovf.u2.un", 0x87, InlineNone, 0, 0)
	def("conv.ovf.u4.un", 0x88, InlineNone, 0, 0)
	def("conv.ovf.u8.un", 0x89, InlineNone, 0, 0)
	def("conv.ovf.i.un", 0x8A, InlineNone, 0, 0)
	def("conv.ovf.u.un", 0x8B, InlineNone, 0, 0)
	def("box", 0x8C, InlineType, 4, 0)
	def("newarr", 0x8D, InlineType, 4, 0)
	def("ldlen", 0x8E, InlineNone, 0, 0)
	def("ldelema", 0x8F, InlineType, 4, -1)
	def("ldelem.i1", 0x90, InlineNone, 0, -1)
	def("ldelem.u1", 0x91, InlineNone, 0, -1)
	def("ldelem.i2", 0x92, InlineNone, 0, -1)
	def("ldelem.u2", 0x93, InlineNone, 0, -1)
	def("ldelem.i4", 0x94, InlineNone, 0, -1)
	def("ldelem.u4", 0x95, InlineNone, 0, -1)
	def("ldelem.i8", 0x96, InlineNone, 0, -1)
	def("ldelem.i", 0x97, InlineNone, 0, -1)
	def("ldelem.r4", 0x98, InlineNone, 0, -1)
	def("ldelem.r8", 0x99, InlineNone, 0, -1)
	def("ldelem.ref", 0x9A, InlineNone, 0, -1)
	def("stelem.i", 0x9B, InlineNone, 0, -3)
	def("stelem.i1", 0x9C, InlineNone, 0, -3)
	def("stelem.i2", 0x9D, InlineNone, 0, -3)
	def("stelem.i4", 0x9E, InlineNone, 0, -3)
	def("stelem.i8", 0x9F, InlineNone, 0, -3)
	def("stelem.r4", 0xA0, InlineNone, 0, -3)
	def("stelem.r8", 0xA1, InlineNone, 0, -3)
	def("stelem.ref", 0xA2, InlineNone, 0, -3)
	def("ldelem", 0xA3, InlineType, 4, -1)
	def("stelem", 0xA4, InlineType, 4, -3)
	def("unbox.any", 0xA5, InlineType, 4, 0)
	def("conv.ovf.i1", 0xB3, InlineNone, 0, 0)
	def("conv.ovf.u1", 0xB4, InlineNone, 0, 0)
	def("conv.ovf.i2", 0xB5, InlineNone, 0, 0)
	def("conv.ovf.u2", 0xB6, InlineNone, 0, 0)
	def("conv.ovf.i4", 0xB7, InlineNone, 0, 0)
	def("conv.ovf.u4", 0xB8, InlineNone, 0, 0)
	def("conv.ovf.i8", 0xB9, InlineNone, 0, 0)
	def("conv.ovf.u8", 0xBA, InlineNone, 0, 0)
	def("refanyval", 0xC2, InlineType, 4, 0)
	def("ckfinite", 0xC3, InlineNone, 0, 0)
	def("mkrefany", 0xC6, InlineType, 4, 0)
	def("ldtoken", 0xD0, InlineTok, 4, 1)
	def("conv.u2", 0xD1, InlineNone, 0, 0)
	def("conv.u1", 0xD2, InlineNone, 0, 0)
	def("conv.i", 0xD3, InlineNone, 0, 0)
	def("conv.ovf.i", 0xD4, InlineNone, 0, 0)
	def("conv.ovf.u", 0xD5, InlineNone, 0, 0)
	def("add.ovf", 0xD6, InlineNone, 0, -1)
	def("add.ovf.un", 0xD7, InlineNone, 0, -1)
	def("mul.ovf", 0xD8, InlineNone, 0, -1)
	def("mul.ovf.un", 0xD9, InlineNone, 0, -1)
	def("sub.ovf", 0xDA, InlineNone, 0, -1)
	def("sub.ovf.un", 0xDB, InlineNone, 0, -1)
	def("endfinally", 0xDC, InlineNone, 0, 0)
	def("leave", 0xDD, InlineBrTarget, 4, 0)
	def("leave.s", 0xDE, ShortInlineBrTarget, 1, 0)
	def("stind.i", 0xDF, InlineNone, 0, -2)
	def("conv.u", 0xE0, InlineNone, 0, 0)

	def("arglist", 0xFE00, InlineNone, 0, 1)
	def("ceq", 0xFE01, InlineNone, 0, -1)
	def("cgt", 0xFE02, InlineNone, 0, -1)
	def("cgt.un", 0xFE03, InlineNone, 0, -1)
	def("clt", 0xFE04, InlineNone, 0, -1)
	def("clt.un", 0xFE05, InlineNone, 0, -1)
	def("ldftn", 0xFE06, InlineMethod, 4, 1)
	def("ldvirtftn", 0xFE07, InlineMethod, 4, 0)
	def("ldarg", 0xFE09, InlineVar, 2, 1)
	def("ldarga", 0xFE0A, InlineVar, 2, 1)
	def("starg", 0xFE0B, InlineVar, 2, -1)
	def("ldloc", 0xFE0C, InlineVar, 2, 1)
	def("ldloca", 0xFE0D, InlineVar, 2, 1)
	def("stloc", 0xFE0E, InlineVar, 2, -1)
	def("localloc", 0xFE0F, InlineNone, 0, 0)
	def("endfilter", 0xFE11, InlineNone, 0, -1)
	def("unaligned.", 0xFE12, InlineI, 1, 0)
	def("volatile.", 0xFE13, InlineNone, 0, 0)
	def("tail.", 0xFE14, InlineNone, 0, 0)
	def("initobj", 0xFE15, InlineType, 4, -1)
	def("constrained.", 0xFE16, InlineType, 4, 0)
	def("cpblk", 0xFE17, InlineNone, 0, -3)
	def("initblk", 0xFE18, InlineNone, 0, -3)
	def("rethrow", 0xFE1A, InlineNone, 0, 0)
	def("sizeof", 0xFE1C, InlineType, 4, 1)
	def("refanytype", 0xFE1D, InlineNone, 0, 0)
	def("readonly.", 0xFE1E, InlineNone, 0, 0)
}

// ByName looks up an opcode by its textual mnemonic, scanning both tables;
// used by tests and by a future textual CIL front-end.
func ByName(name string) *Opcode {
	for _, op := range oneByteOpcodes {
		if op != nil && op.Name == name {
			return op
		}
	}
	for _, op := range twoByteOpcodes {
		if op != nil && op.Name == name {
			return op
		}
	}
	return nil
}
