package clrmeta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/clrforge/clrmeta/il"
	"github.com/clrforge/clrmeta/sig"
	"github.com/clrforge/clrmeta/token"
)

// roundTrip builds a, loads the resulting image back, and returns the
// loaded model for assertions — the shape every seed test in spec.md §8
// shares.
func roundTrip(t *testing.T, a *Assembly, opts Options) *Assembly {
	t.Helper()
	image, err := Build(a, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	loaded, err := Load(bytes.NewReader(image), opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return loaded
}

func mscorlibRef() *AssemblyRef {
	return &AssemblyRef{Name: "mscorlib", Version: Version{4, 0, 0, 0}}
}

func objectRef(asm *AssemblyRef) *ClassRef {
	return &ClassRef{
		Scope:     ResolutionScope{Kind: ScopeAssemblyRef, AssemblyRef: asm},
		Namespace: "System",
		Name:      "Object",
	}
}

func TestEmptyAssembly(t *testing.T) {
	a := &Assembly{
		Name:    "Empty",
		Version: Version{1, 0, 0, 0},
		Module:  &Module{Name: "Empty.dll"},
	}

	loaded := roundTrip(t, a, DefaultOptions())

	if loaded.Name != "Empty" {
		t.Errorf("Name = %q, want Empty", loaded.Name)
	}
	if loaded.Version != (Version{1, 0, 0, 0}) {
		t.Errorf("Version = %+v, want 1.0.0.0", loaded.Version)
	}
	if loaded.Module == nil || loaded.Module.Name != "Empty.dll" {
		t.Errorf("Module = %+v, want name Empty.dll", loaded.Module)
	}
	if len(loaded.AssemblyRefs) != 0 {
		t.Errorf("AssemblyRefs = %d, want 0", len(loaded.AssemblyRefs))
	}
	if len(loaded.TypeDefs) != 0 {
		t.Errorf("TypeDefs = %d, want 0", len(loaded.TypeDefs))
	}
}

func TestHelloWorld(t *testing.T) {
	mscorlib := mscorlibRef()
	object := objectRef(mscorlib)
	console := &ClassRef{
		Scope:     ResolutionScope{Kind: ScopeAssemblyRef, AssemblyRef: mscorlib},
		Namespace: "System",
		Name:      "Console",
	}
	writeLine := &MemberRef{
		Parent: MemberRefParent{TypeRef: console},
		Name:   "WriteLine",
		Signature: sig.MethodSig{
			CallConv: sig.CallDefault,
			RetVoid:  true,
			Params:   []*sig.Type{{Kind: sig.KindPrimitive, Primitive: sig.ElementString}},
		},
	}

	program := &ClassDef{
		Namespace: "Hello",
		Name:      "Program",
	}
	a := &Assembly{
		Name:         "Hello",
		Version:      Version{1, 0, 0, 0},
		Module:       &Module{Name: "Hello.dll"},
		AssemblyRefs: []*AssemblyRef{mscorlib},
		TypeRefs:     []*ClassRef{object, console},
		TypeDefs:     []*ClassDef{program},
		MemberRefs:   []*MemberRef{writeLine},
	}
	program.Extends = ClassRefType(object)

	main := &MethodDef{
		Name:  "Main",
		Flags: 0x0096, // public static hidebysig
		Signature: sig.MethodSig{
			CallConv: sig.CallDefault,
			RetVoid:  true,
		},
	}
	program.Methods = []*MethodDef{main}
	a.EntryPoint = main

	body := il.NewMethodBody()
	ldstr := &il.Instruction{Opcode: il.ByName("ldstr"), StringLiteral: "hi"}
	call := &il.Instruction{Opcode: il.ByName("call"), TokenRef: writeLine}
	ret := &il.Instruction{Opcode: il.ByName("ret")}
	body.Instructions = []*il.Instruction{ldstr, call, ret}
	main.Body = &MethodBody{IL: body, Owner: main}

	loaded := roundTrip(t, a, DefaultOptions())

	if loaded.EntryPoint == nil || loaded.EntryPoint.Name != "Main" {
		t.Fatalf("EntryPoint = %+v, want Main", loaded.EntryPoint)
	}

	var writeLineCount int
	for _, mr := range loaded.MemberRefs {
		if mr.Name == "WriteLine" {
			writeLineCount++
		}
	}
	if writeLineCount != 1 {
		t.Errorf("WriteLine MemberRef rows = %d, want exactly 1", writeLineCount)
	}
}

func TestGenericClass(t *testing.T) {
	list := &ClassDef{Namespace: "", Name: "List`1"}
	tParam := &GenericParam{Number: 0, Name: "T"}
	list.GenericParams = []*GenericParam{tParam}

	a := &Assembly{
		Name:     "Generics",
		Version:  Version{1, 0, 0, 0},
		Module:   &Module{Name: "Generics.dll"},
		TypeDefs: []*ClassDef{list},
	}

	add := &MethodDef{
		Name:  "Add",
		Flags: 0x0086, // public hidebysig
		Signature: sig.MethodSig{
			CallConv: sig.CallDefault,
			HasThis:  true,
			RetVoid:  true,
			Params: []*sig.Type{
				{Kind: sig.KindGenericParam, GenericParamIndex: 0, GenericParamIsMethod: false},
			},
		},
	}
	list.Methods = []*MethodDef{add}

	loaded := roundTrip(t, a, DefaultOptions())

	if len(loaded.TypeDefs) != 1 {
		t.Fatalf("TypeDefs = %d, want 1", len(loaded.TypeDefs))
	}
	gotList := loaded.TypeDefs[0]
	if len(gotList.GenericParams) != 1 {
		t.Fatalf("GenericParams = %d, want 1", len(gotList.GenericParams))
	}
	gp := gotList.GenericParams[0]
	if gp.Name != "T" || gp.Number != 0 {
		t.Errorf("GenericParam = %+v, want Name=T Number=0", gp)
	}
	if gp.Owner.TypeDef != gotList {
		t.Errorf("GenericParam.Owner.TypeDef not wired back to owning ClassDef")
	}
	if len(gotList.Methods) != 1 {
		t.Fatalf("Methods = %d, want 1", len(gotList.Methods))
	}
	addSig := gotList.Methods[0].Signature
	if len(addSig.Params) != 1 || addSig.Params[0].Kind != sig.KindGenericParam {
		t.Errorf("Add's param = %+v, want a KindGenericParam", addSig.Params)
	}
}

func TestExceptionHandling(t *testing.T) {
	mscorlib := mscorlibRef()
	exceptionRef := &ClassRef{
		Scope:     ResolutionScope{Kind: ScopeAssemblyRef, AssemblyRef: mscorlib},
		Namespace: "System",
		Name:      "Exception",
	}
	guarded := &ClassDef{Name: "Guarded"}
	a := &Assembly{
		Name:         "Guarded",
		Version:      Version{1, 0, 0, 0},
		Module:       &Module{Name: "Guarded.dll"},
		AssemblyRefs: []*AssemblyRef{mscorlib},
		TypeRefs:     []*ClassRef{exceptionRef},
		TypeDefs:     []*ClassDef{guarded},
	}

	m := &MethodDef{
		Name:      "Run",
		Flags:     0x0086,
		Signature: sig.MethodSig{CallConv: sig.CallDefault, HasThis: true, RetVoid: true},
	}
	guarded.Methods = []*MethodDef{m}
	a.AssignTokens()

	body := il.NewMethodBody()
	nop1 := &il.Instruction{Opcode: il.ByName("nop")}
	nop2 := &il.Instruction{Opcode: il.ByName("nop")}
	nop3 := &il.Instruction{Opcode: il.ByName("nop")}
	ret := &il.Instruction{Opcode: il.ByName("ret")}
	body.Instructions = []*il.Instruction{nop1, nop2, nop3, ret}
	if err := body.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	tryOff, tryLen := nop1.Offset, nop2.Offset-nop1.Offset
	handlerOff, handlerLen := nop2.Offset, nop3.Offset-nop2.Offset
	finallyOff, finallyLen := nop3.Offset, ret.Offset-nop3.Offset

	body.Clauses = []*il.EHClause{
		{
			Kind:          il.ClauseException,
			TryOffset:     tryOff,
			TryLength:     tryLen,
			HandlerOffset: handlerOff,
			HandlerLength: handlerLen,
			ClassToken:    exceptionRef.token,
		},
		{
			Kind:          il.ClauseFinally,
			TryOffset:     tryOff,
			TryLength:     tryLen,
			HandlerOffset: finallyOff,
			HandlerLength: finallyLen,
		},
	}
	// body is already StateResolved (Resolve ran above to learn the
	// instruction offsets the clause ranges need); the build pipeline's
	// serialiseMethodBodies only re-Resolves a body still StateAssembling,
	// so attaching Clauses after the fact and handing this same body to
	// Build is safe.
	m.Body = &MethodBody{IL: body, Owner: m}

	loaded := roundTrip(t, a, DefaultOptions())

	lm := loaded.TypeDefs[0].Methods[0]
	if lm.Body == nil || lm.Body.IL == nil {
		t.Fatalf("method body missing after round-trip")
	}
	clauses := lm.Body.IL.Clauses
	if len(clauses) != 2 {
		t.Fatalf("Clauses = %d, want 2", len(clauses))
	}
	if clauses[0].Kind != il.ClauseException {
		t.Errorf("clause 0 kind = %v, want ClauseException", clauses[0].Kind)
	}
	if clauses[1].Kind != il.ClauseFinally {
		t.Errorf("clause 1 kind = %v, want ClauseFinally", clauses[1].Kind)
	}
	if clauses[0].TryOffset != tryOff || clauses[0].TryLength != tryLen {
		t.Errorf("clause 0 try range = (%d,%d), want (%d,%d)", clauses[0].TryOffset, clauses[0].TryLength, tryOff, tryLen)
	}
	if clauses[1].TryOffset != tryOff || clauses[1].TryLength != tryLen {
		t.Errorf("clause 1 try range = (%d,%d), want (%d,%d)", clauses[1].TryOffset, clauses[1].TryLength, tryOff, tryLen)
	}
}

func TestNestedTypes(t *testing.T) {
	inner1 := &ClassDef{Name: "Inner1"}
	inner2 := &ClassDef{Name: "Inner2"}
	outer := &ClassDef{Name: "Outer", Nested: []*ClassDef{inner1, inner2}}
	inner1.NestedIn = outer
	inner2.NestedIn = outer

	a := &Assembly{
		Name:     "Nesting",
		Version:  Version{1, 0, 0, 0},
		Module:   &Module{Name: "Nesting.dll"},
		TypeDefs: []*ClassDef{outer},
	}

	loaded := roundTrip(t, a, DefaultOptions())

	if len(loaded.TypeDefs) != 1 {
		t.Fatalf("top-level TypeDefs = %d, want 1 (nested types aren't top-level)", len(loaded.TypeDefs))
	}
	gotOuter := loaded.TypeDefs[0]
	if gotOuter.Name != "Outer" {
		t.Fatalf("outer name = %q, want Outer", gotOuter.Name)
	}
	if len(gotOuter.Nested) != 2 {
		t.Fatalf("Outer.Nested = %d, want 2", len(gotOuter.Nested))
	}
	names := map[string]*ClassDef{}
	for _, n := range gotOuter.Nested {
		names[n.Name] = n
	}
	gotInner1 := names["Inner1"]
	if gotInner1 == nil {
		t.Fatalf("Inner1 not found among Outer.Nested")
	}
	if gotInner1.NestedIn != gotOuter {
		t.Errorf("Inner1.NestedIn not wired back to Outer")
	}
	if got := gotInner1.FullName(); got != "Outer+Inner1" {
		t.Errorf("Inner1.FullName() = %q, want Outer+Inner1", got)
	}
}

func TestLargeStringOverflow(t *testing.T) {
	a := &Assembly{
		Name:    "Big",
		Version: Version{1, 0, 0, 0},
		Module:  &Module{Name: "Big.dll"},
	}

	// Every distinct string is interned once into #Strings; push its total
	// byte length past the 2-byte index's 65536-byte ceiling with enough
	// long, distinct class names.
	var names []string
	for i := 0; i < 2000; i++ {
		names = append(names, "Generated.Namespace.Class"+strings.Repeat("X", 40)+itoa(i))
	}
	for _, n := range names {
		a.TypeDefs = append(a.TypeDefs, &ClassDef{Namespace: "", Name: n})
	}

	loaded := roundTrip(t, a, DefaultOptions())

	if len(loaded.TypeDefs) != len(names) {
		t.Fatalf("TypeDefs = %d, want %d", len(loaded.TypeDefs), len(names))
	}
	for i, want := range names {
		if loaded.TypeDefs[i].Name != want {
			t.Fatalf("TypeDefs[%d].Name = %q, want %q", i, loaded.TypeDefs[i].Name, want)
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestEverettModuleScopeFallback(t *testing.T) {
	// A TypeRef whose ResolutionScope targets Module row 1 is the historical
	// Everett ilasm glitch (SPEC_FULL.md §9 Decision 1): rejected by
	// default, accepted under StrictEverettCompat.
	glitchRef := &ClassRef{
		Scope: ResolutionScope{Kind: ScopeModule},
		Name:  "GlobalThing",
	}
	a := &Assembly{
		Name:     "Glitch",
		Version:  Version{1, 0, 0, 0},
		Module:   &Module{Name: "Glitch.dll"},
		TypeRefs: []*ClassRef{glitchRef},
	}

	image, err := Build(a, DefaultOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := Load(bytes.NewReader(image), DefaultOptions()); err == nil {
		t.Errorf("Load with default Options accepted a Module-scoped TypeRef, want MalformedImage")
	}

	strict := DefaultOptions()
	strict.StrictEverettCompat = true
	loaded, err := Load(bytes.NewReader(image), strict)
	if err != nil {
		t.Fatalf("Load with StrictEverettCompat: %v", err)
	}
	if len(loaded.TypeRefs) != 1 || loaded.TypeRefs[0].Name != "GlobalThing" {
		t.Fatalf("TypeRefs = %+v, want one GlobalThing", loaded.TypeRefs)
	}
}

func TestMemberRefDeduplication(t *testing.T) {
	mscorlib := mscorlibRef()
	console := &ClassRef{
		Scope:     ResolutionScope{Kind: ScopeAssemblyRef, AssemblyRef: mscorlib},
		Namespace: "System",
		Name:      "Console",
	}
	sig1 := sig.MethodSig{CallConv: sig.CallDefault, RetVoid: true,
		Params: []*sig.Type{{Kind: sig.KindPrimitive, Primitive: sig.ElementString}}}
	mr1 := &MemberRef{Parent: MemberRefParent{TypeRef: console}, Name: "WriteLine", Signature: sig1}
	mr2 := &MemberRef{Parent: MemberRefParent{TypeRef: console}, Name: "WriteLine", Signature: sig1}

	klass := &ClassDef{Name: "Caller"}
	caller := &MethodDef{
		Name:      "Call",
		Signature: sig.MethodSig{CallConv: sig.CallDefault, HasThis: true, RetVoid: true},
	}
	klass.Methods = []*MethodDef{caller}
	a := &Assembly{
		Name:         "Dedup",
		Version:      Version{1, 0, 0, 0},
		Module:       &Module{Name: "Dedup.dll"},
		AssemblyRefs: []*AssemblyRef{mscorlib},
		TypeRefs:     []*ClassRef{console},
		TypeDefs:     []*ClassDef{klass},
		MemberRefs:   []*MemberRef{mr1, mr2},
	}
	body := il.NewMethodBody()
	body.Instructions = []*il.Instruction{
		{Opcode: il.ByName("call"), TokenRef: mr1},
		{Opcode: il.ByName("call"), TokenRef: mr2},
		{Opcode: il.ByName("ret")},
	}
	caller.Body = &MethodBody{IL: body, Owner: caller}

	loaded := roundTrip(t, a, DefaultOptions())

	var count int
	for _, mr := range loaded.MemberRefs {
		if mr.Name == "WriteLine" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("structurally identical MemberRefs rows = %d, want 1 (deduplicated)", count)
	}

	loadedCall := loaded.TypeDefs[0].Methods[0]
	instrs := loadedCall.Body.IL.Instructions
	if len(instrs) != 3 {
		t.Fatalf("Instructions = %d, want 3", len(instrs))
	}
	if instrs[0].Token != instrs[1].Token {
		t.Errorf("deduplicated MemberRef calls carry different tokens: %v vs %v", instrs[0].Token, instrs[1].Token)
	}
	if instrs[0].Token.Table() != token.MemberRef {
		t.Errorf("call operand table = %v, want MemberRef", instrs[0].Token.Table())
	}
}
