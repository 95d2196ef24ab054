package clrmeta

import (
	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/il"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/mdtable"
	"github.com/clrforge/clrmeta/pe"
	"github.com/clrforge/clrmeta/token"
)

// internUserStrings interns every InlineString instruction's pending
// StringLiteral into ctx.Heaps, fixing up its Token to the UserString-
// tagged reference the IL codec serialises (spec.md §4.6/§9: a
// hand-built object model names its user strings by literal text, not by
// an #US offset it has no way to predict before the build context exists).
func internUserStrings(ctx *BuildContext, body *il.MethodBody) {
	for _, instr := range body.Instructions {
		if instr.Opcode.Operand == il.InlineString && instr.StringLiteral != "" {
			off := ctx.Heaps.InternUserString(instr.StringLiteral)
			instr.StringOffset = off
			instr.Token = token.NewToken(token.UserString, off)
		}
	}
}

// cliHeaderSize and textSectionRVA mirror the fixed layout pe.Builder.Build
// commits to (COR20Header is always 72 bytes, .text always starts at the
// first section-aligned RVA): the build pipeline needs to know a method
// body's final RVA before pe.Builder ever runs, to write it into the
// Method table's Rva column (spec.md §4.8 step 4).
const (
	cliHeaderSize  = 72
	textSectionRVA = 0x1000
)

// computeCodeBaseRVA reproduces pe.Builder's metaOff/codeOff arithmetic so
// this package can predict where the code blob will land without importing
// pe's unexported layout constants.
func computeCodeBaseRVA(metadataLen int) uint32 {
	metaOff := align4(cliHeaderSize)
	codeOff := align4(metaOff + metadataLen)
	return textSectionRVA + uint32(codeOff)
}

// Build runs the full three-phase build pipeline (spec.md §4.8) over a and
// returns a complete PE32+ image. a.AssignTokens is called unconditionally
// first, so any sig.Type values the caller built by hand against pre-built
// entity tokens stay correct.
func Build(a *Assembly, opts Options) ([]byte, error) {
	a.AssignTokens()
	ctx := NewBuildContext(opts)

	if a.Module == nil {
		a.Module = &Module{Name: a.Name + ".dll"}
	}
	if err := a.Module.ContributeToMetadata(ctx); err != nil {
		return nil, err
	}
	if err := a.ContributeToMetadata(ctx); err != nil {
		return nil, err
	}
	for _, r := range a.AssemblyRefs {
		if err := r.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, c := range a.TypeRefs {
		if err := c.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, c := range a.TypeDefs {
		if err := c.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, mr := range a.MemberRefs {
		if err := mr.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, s := range a.StandAloneSigs {
		if err := s.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, f := range a.Files {
		if err := f.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, e := range a.ExportedTypes {
		if err := e.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}
	for _, m := range a.ManifestResources {
		if err := m.ContributeToMetadata(ctx); err != nil {
			return nil, err
		}
	}

	if err := resolveInstructionTokenRefs(a); err != nil {
		return nil, err
	}

	// Sort & emit (spec.md §4.8 step 3): reorder the 15 mandated tables,
	// then fix up every coded/simple index and every baked-in IL token that
	// referenced a row by its pre-sort number.
	remap := ctx.Tables.Sort()
	applyRemap(ctx.Tables, remap)
	remapMethodBodyTokens(a, remap)

	// The metadata root's byte length doesn't depend on the Rva column's
	// values (it's a fixed-width U32 column either way), only on its
	// presence — so build it once to learn where the code blob will start,
	// fill in every Method row's Rva, then build it again for real.
	// User strings are interned first: #US is part of the root, so its size
	// must already be final here.
	allClasses(a.TypeDefs, func(c *ClassDef) {
		for _, m := range c.Methods {
			if m.Body != nil && m.Body.IL != nil && m.Body.IL.State() == il.StateAssembling {
				internUserStrings(ctx, m.Body.IL)
			}
		}
	})
	placeholderRoot, err := buildMetadataRoot(ctx.Tables, ctx.Heaps)
	if err != nil {
		return nil, err
	}
	baseRVA := computeCodeBaseRVA(len(placeholderRoot))

	code, err := serialiseMethodBodies(ctx, a, baseRVA)
	if err != nil {
		return nil, err
	}

	finalRoot, err := buildMetadataRoot(ctx.Tables, ctx.Heaps)
	if err != nil {
		return nil, err
	}

	var entryTok uint32
	if a.EntryPoint != nil {
		entryTok = uint32(a.EntryPoint.token)
	}

	builder := &pe.Builder{
		Metadata:        finalRoot,
		Code:            code,
		EntryPointToken: entryTok,
		DLL:             a.EntryPoint == nil,
	}
	ctx.Options.Log.Infof("build finished")
	return builder.Build()
}

// resolveInstructionTokenRefs converts every IL instruction's pending
// Instruction.TokenRef into its entity's enumeration-order Token, now that
// every Contribute call has run. It must run before Set.Sort, since
// remapMethodBodyTokens below depends on these being the pre-sort row
// numbers the sort's remap table is keyed from.
func resolveInstructionTokenRefs(a *Assembly) error {
	var walkErr error
	allClasses(a.TypeDefs, func(c *ClassDef) {
		if walkErr != nil {
			return
		}
		for _, m := range c.Methods {
			if m.Body == nil || m.Body.IL == nil {
				continue
			}
			for _, instr := range m.Body.IL.Instructions {
				if instr.TokenRef == nil {
					continue
				}
				t, err := resolveTokenRef(instr.TokenRef)
				if err != nil {
					walkErr = err
					return
				}
				instr.Token = t
			}
		}
	})
	return walkErr
}

// resolveTokenRef type-switches an Instruction.TokenRef to the entity's own
// (already-Contribute'd) token field. il.Instruction carries this as `any`
// so the il package itself never needs to import the object model.
func resolveTokenRef(ref any) (token.Token, error) {
	switch v := ref.(type) {
	case *MethodDef:
		return v.token, nil
	case *MemberRef:
		return v.token, nil
	case *ClassRef:
		return v.token, nil
	case *ClassDef:
		return v.token, nil
	case *FieldDef:
		return v.token, nil
	case *StandAloneSig:
		return v.token, nil
	default:
		return 0, mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
			Detail("unsupported Instruction.TokenRef type %T", ref).Build()
	}
}

// applyRemap fixes up every simple/coded index column in every table so it
// points at a row's post-sort number instead of its enumeration-order
// number (spec.md §4.8 step 3).
func applyRemap(tables *mdtable.Set, remap map[token.TableID]map[uint32]uint32) {
	if len(remap) == 0 {
		return
	}
	for id := token.TableID(0); id < token.NumTables; id++ {
		t := tables.Table(id)
		if t == nil {
			continue
		}
		for ri := range t.Rows {
			row := &t.Rows[ri]
			for ci, col := range t.Schema {
				switch col.Kind {
				case mdtable.ColSimpleIdx:
					m, ok := remap[col.Target]
					if !ok || row.Values[ci] == 0 {
						continue
					}
					if nv, ok := m[row.Values[ci]]; ok {
						row.Values[ci] = nv
					}
				case mdtable.ColCodedIdx:
					v := row.Values[ci]
					if v == 0 {
						continue
					}
					tbl, rowNum, err := token.Decode(col.Space, v)
					if err != nil {
						continue
					}
					m, ok := remap[tbl]
					if !ok {
						continue
					}
					nv, ok := m[rowNum]
					if !ok {
						continue
					}
					if encoded, err := token.Encode(col.Space, tbl, nv); err == nil {
						row.Values[ci] = encoded
					}
				}
			}
		}
	}
}

// remapMethodBodyTokens fixes up every already-assembled MethodBody's IL
// tokens and exception-handler class tokens, the one place a row reference
// lives outside any mdtable row (spec.md §4.8 step 3 / §4.6).
func remapMethodBodyTokens(a *Assembly, remap map[token.TableID]map[uint32]uint32) {
	if len(remap) == 0 {
		return
	}
	allClasses(a.TypeDefs, func(c *ClassDef) {
		for _, m := range c.Methods {
			if m.Body == nil || m.Body.IL == nil {
				continue
			}
			for _, instr := range m.Body.IL.Instructions {
				instr.Token = remapToken(instr.Token, remap)
			}
			for _, cl := range m.Body.IL.Clauses {
				if cl.Kind == il.ClauseException {
					cl.ClassToken = remapToken(cl.ClassToken, remap)
				}
			}
		}
	})
}

func remapToken(t token.Token, remap map[token.TableID]map[uint32]uint32) token.Token {
	if t.IsNull() {
		return t
	}
	m, ok := remap[t.Table()]
	if !ok {
		return t
	}
	nv, ok := m[t.Row()]
	if !ok {
		return t
	}
	return token.NewToken(t.Table(), nv)
}

// serialiseMethodBodies resolves and serialises every method's IL in
// declaration order, concatenating them into the code blob pe.Builder
// embeds in .text, and writes each Method row's final Rva as it goes
// (spec.md §4.8 step 4).
func serialiseMethodBodies(ctx *BuildContext, a *Assembly, baseRVA uint32) ([]byte, error) {
	code := bio.NewWriter()
	methodTable := ctx.Tables.Table(token.Method)

	var walkErr error
	allClasses(a.TypeDefs, func(c *ClassDef) {
		if walkErr != nil {
			return
		}
		for _, m := range c.Methods {
			if m.Body == nil || m.Body.IL == nil {
				continue
			}
			if m.Body.IL.State() == il.StateAssembling {
				internUserStrings(ctx, m.Body.IL)
				if err := m.Body.IL.Resolve(); err != nil {
					walkErr = err
					return
				}
			}
			bodyBytes, err := m.Body.IL.Serialise()
			if err != nil {
				walkErr = err
				return
			}
			for code.Len()%4 != 0 {
				if err := code.WriteZeros(1); err != nil {
					walkErr = err
					return
				}
			}
			rva := baseRVA + uint32(code.Len())
			if err := code.WriteBytes(bodyBytes); err != nil {
				walkErr = err
				return
			}
			methodTable.Rows[m.token.Row()-1].Values[0] = rva
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	code.Freeze()
	return code.Bytes(), nil
}
