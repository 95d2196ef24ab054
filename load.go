package clrmeta

import (
	"io"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/heap"
	"github.com/clrforge/clrmeta/il"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/mdtable"
	"github.com/clrforge/clrmeta/pe"
	"github.com/clrforge/clrmeta/sig"
	"github.com/clrforge/clrmeta/token"
)

// methodBodyScratchSize bounds how many bytes Load reads speculatively past
// a method body's RVA before handing them to il.Disassemble, which only
// consumes as many as its own header's CodeSize says. Generous for any
// body a hand-built object model produces; spec.md's seed tests never
// approach it.
const methodBodyScratchSize = 1 << 16

// Load runs the full five-step load pipeline (spec.md §4.9) over r and
// returns the resulting object model.
func Load(r io.ReaderAt, opts Options) (*Assembly, error) {
	env, err := pe.Open(r)
	if err != nil {
		return nil, err
	}
	root, err := env.MetadataRoot()
	if err != nil {
		return nil, err
	}
	streams, err := parseMetadataRoot(root)
	if err != nil {
		return nil, err
	}
	rawRows, _, err := parseTildeStream(streams.tilde)
	if err != nil {
		return nil, err
	}

	ctx := newLoadContext(opts)
	ctx.Envelope = env
	ctx.rows = rawRows
	ctx.Heaps = &heap.LoadManager{
		StringsHeap: streams.strings,
		USHeap:      streams.us,
		BlobHeap:    streams.blob,
		GUIDHeap:    streams.guid,
	}

	a := &Assembly{}

	if rows := ctx.rows[token.Module]; len(rows) > 0 {
		m := &Module{}
		if err := m.Resolve(ctx); err != nil {
			return nil, err
		}
		a.Module = m
	}

	if rows := ctx.rows[token.Assembly]; len(rows) > 0 {
		a.token = token.NewToken(token.Assembly, 1)
		if err := a.Resolve(ctx); err != nil {
			return nil, err
		}
	}
	if rows := ctx.rows[token.AssemblyOS]; len(rows) > 0 {
		a.OS = &AssemblyOSRow{rows[0].Values[0], rows[0].Values[1], rows[0].Values[2]}
	}

	for i := range ctx.rows[token.AssemblyRef] {
		ref := &AssemblyRef{token: token.NewToken(token.AssemblyRef, uint32(i+1))}
		ctx.assemblyRefs[uint32(i+1)] = ref
		a.AssemblyRefs = append(a.AssemblyRefs, ref)
	}
	for _, ref := range a.AssemblyRefs {
		if err := ref.Resolve(ctx); err != nil {
			return nil, err
		}
	}
	for _, row := range ctx.rows[token.AssemblyRefOS] {
		if ref := ctx.assemblyRefs[row.Values[3]]; ref != nil {
			ref.OS = &AssemblyRefOSRow{row.Values[0], row.Values[1], row.Values[2]}
		}
	}

	for i := range ctx.rows[token.TypeRef] {
		cr := &ClassRef{token: token.NewToken(token.TypeRef, uint32(i+1))}
		ctx.typeRefs[uint32(i+1)] = cr
	}
	for i := range ctx.rows[token.TypeRef] {
		cr := ctx.typeRefs[uint32(i+1)]
		if err := cr.Resolve(ctx); err != nil {
			return nil, err
		}
		a.TypeRefs = append(a.TypeRefs, cr)
	}
	if ctx.everettModuleType != nil {
		a.TypeDefs = append(a.TypeDefs, ctx.everettModuleType)
	}

	typeDefRows := ctx.rows[token.TypeDef]
	flatClasses := make([]*ClassDef, len(typeDefRows))
	for i := range typeDefRows {
		cd := &ClassDef{token: token.NewToken(token.TypeDef, uint32(i+1))}
		flatClasses[i] = cd
		ctx.typeDefs[uint32(i+1)] = cd
	}

	fieldRows := ctx.rows[token.Field]
	fields := make([]*FieldDef, len(fieldRows))
	for i := range fieldRows {
		f := &FieldDef{token: token.NewToken(token.Field, uint32(i+1))}
		fields[i] = f
		ctx.fields[uint32(i+1)] = f
	}
	methodRows := ctx.rows[token.Method]
	methods := make([]*MethodDef, len(methodRows))
	for i := range methodRows {
		m := &MethodDef{token: token.NewToken(token.Method, uint32(i+1))}
		methods[i] = m
		ctx.methods[uint32(i+1)] = m
	}
	paramRows := ctx.rows[token.Param]
	params := make([]*Param, len(paramRows))
	for i := range paramRows {
		p := &Param{token: token.NewToken(token.Param, uint32(i+1))}
		params[i] = p
		ctx.params[uint32(i+1)] = p
	}

	for i, cd := range flatClasses {
		if err := cd.Resolve(ctx); err != nil {
			return nil, err
		}
		row := typeDefRows[i]
		fieldStart, methodStart := row.Values[4], row.Values[5]
		fieldEnd := nextNonZero(typeDefRows, i+1, 4, uint32(len(fieldRows)))
		methodEnd := nextNonZero(typeDefRows, i+1, 5, uint32(len(methodRows)))
		if fieldStart != 0 {
			for fr := fieldStart; fr < fieldEnd; fr++ {
				fields[fr-1].Owner = cd
				cd.Fields = append(cd.Fields, fields[fr-1])
			}
		}
		if methodStart != 0 {
			for mr := methodStart; mr < methodEnd; mr++ {
				methods[mr-1].Owner = cd
				cd.Methods = append(cd.Methods, methods[mr-1])
			}
		}
	}
	for i, m := range methods {
		if err := m.Resolve(ctx); err != nil {
			return nil, err
		}
		row := methodRows[i]
		paramStart := row.Values[5]
		paramEnd := nextNonZero(methodRows, i+1, 5, uint32(len(paramRows)))
		if paramStart != 0 {
			for pr := paramStart; pr < paramEnd; pr++ {
				params[pr-1].Owner = m
				m.Params = append(m.Params, params[pr-1])
			}
		}
		if row.Values[0] != 0 {
			body, err := loadMethodBody(env, row.Values[0])
			if err != nil {
				if ctx.Options.AllowUnknownOpcodes && mderr.Is(err, mderr.PhaseIL, mderr.KindInvalidOpcode) {
					continue
				}
				return nil, err
			}
			m.Body = &MethodBody{IL: body, Owner: m}
		}
	}
	for _, f := range fields {
		if err := f.Resolve(ctx); err != nil {
			return nil, err
		}
	}
	for _, p := range params {
		if err := p.Resolve(ctx); err != nil {
			return nil, err
		}
	}

	for _, row := range ctx.rows[token.NestedClass] {
		nested := ctx.typeDefs[row.Values[0]]
		enclosing := ctx.typeDefs[row.Values[1]]
		if nested == nil || enclosing == nil {
			continue
		}
		nested.NestedIn = enclosing
		enclosing.Nested = append(enclosing.Nested, nested)
	}
	nestedSet := make(map[*ClassDef]bool, len(flatClasses))
	for _, cd := range flatClasses {
		if cd.NestedIn != nil {
			nestedSet[cd] = true
		}
	}
	for _, cd := range flatClasses {
		if !nestedSet[cd] {
			a.TypeDefs = append(a.TypeDefs, cd)
		}
	}

	for _, row := range ctx.rows[token.InterfaceImpl] {
		cd := ctx.typeDefs[row.Values[0]]
		if cd == nil {
			continue
		}
		iface, err := ctx.resolveTypeDefOrRef(row.Values[1])
		if err != nil {
			return nil, err
		}
		cd.Interfaces = append(cd.Interfaces, iface)
	}

	if err := resolveGenericParams(ctx); err != nil {
		return nil, err
	}
	if err := resolveProperties(ctx); err != nil {
		return nil, err
	}
	if err := resolveEvents(ctx); err != nil {
		return nil, err
	}

	for i := range ctx.rows[token.MemberRef] {
		mr := &MemberRef{token: token.NewToken(token.MemberRef, uint32(i+1))}
		ctx.memberRefs[uint32(i+1)] = mr
	}
	for i := range ctx.rows[token.MemberRef] {
		mr := ctx.memberRefs[uint32(i+1)]
		if err := mr.Resolve(ctx); err != nil {
			return nil, err
		}
		a.MemberRefs = append(a.MemberRefs, mr)
	}

	for i := range ctx.rows[token.StandAloneSig] {
		s := &StandAloneSig{token: token.NewToken(token.StandAloneSig, uint32(i+1))}
		if err := s.Resolve(ctx); err != nil {
			return nil, err
		}
		ctx.standAloneSigs[uint32(i+1)] = s
		a.StandAloneSigs = append(a.StandAloneSigs, s)
	}

	for i := range ctx.rows[token.File] {
		f := &File{token: token.NewToken(token.File, uint32(i+1))}
		ctx.files[uint32(i+1)] = f
	}
	for i := range ctx.rows[token.File] {
		f := ctx.files[uint32(i+1)]
		if err := f.Resolve(ctx); err != nil {
			return nil, err
		}
		a.Files = append(a.Files, f)
	}

	for i := range ctx.rows[token.ExportedType] {
		e := &ExportedType{token: token.NewToken(token.ExportedType, uint32(i+1))}
		ctx.exportedTypes[uint32(i+1)] = e
	}
	for i := range ctx.rows[token.ExportedType] {
		e := ctx.exportedTypes[uint32(i+1)]
		if err := e.Resolve(ctx); err != nil {
			return nil, err
		}
		a.ExportedTypes = append(a.ExportedTypes, e)
	}

	for i := range ctx.rows[token.ManifestResource] {
		m := &ManifestResource{token: token.NewToken(token.ManifestResource, uint32(i+1))}
		if err := m.Resolve(ctx); err != nil {
			return nil, err
		}
		a.ManifestResources = append(a.ManifestResources, m)
	}

	if entryTok, err := env.EntryPointToken(); err == nil && entryTok != 0 {
		t := token.Token(entryTok)
		if t.Table() == token.Method {
			a.EntryPoint = ctx.methods[t.Row()]
		}
	}

	return a, nil
}

// nextNonZero scans rows[from:] for the first non-zero value in column col,
// used to close off a FieldList/MethodList/ParamList run whose owner has an
// empty list recorded as 0 (this module's own build-side convention — see
// Assembly.AssignTokens) rather than "equal to the next owner's start".
func nextNonZero(rows []mdtable.Row, from, col int, total uint32) uint32 {
	for j := from; j < len(rows); j++ {
		if rows[j].Values[col] != 0 {
			return rows[j].Values[col]
		}
	}
	return total + 1
}

func loadMethodBody(env *pe.Envelope, rva uint32) (*il.MethodBody, error) {
	sr, err := env.MethodBody(rva)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, methodBodyScratchSize)
	n, err := sr.ReadAt(buf, 0)
	if err != nil && err != io.EOF && n == 0 {
		return nil, err
	}
	return il.Disassemble(bio.NewReader(buf[:n]))
}

// resolveTypeDefOrRef decodes a TypeDefOrRef coded index into a sig.Type.
// TypeSpec targets are not modeled as object-model entities (no component
// consumes a standalone TypeSpec outside a signature blob), so they
// resolve to the zero Type.
func (ctx *LoadContext) resolveTypeDefOrRef(coded uint32) (sig.Type, error) {
	if coded == 0 {
		return sig.Type{}, nil
	}
	tbl, row, err := token.Decode(token.TypeDefOrRef, coded)
	if err != nil {
		return sig.Type{}, err
	}
	switch tbl {
	case token.TypeDef, token.TypeRef:
		return sig.Type{Kind: sig.KindClassRef, ClassToken: token.NewToken(tbl, row)}, nil
	default:
		return sig.Type{}, nil
	}
}

func (ctx *LoadContext) moduleRefName(row uint32) (string, error) {
	r := ctx.row(token.ModuleRef, row)
	if r.Values == nil {
		return "", nil
	}
	return ctx.Heaps.String(r.Values[0])
}

// Resolve implements Resolves for Module.
func (m *Module) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.Module, 1)
	if row.Values == nil {
		return nil
	}
	name, err := ctx.Heaps.String(row.Values[1])
	if err != nil {
		return err
	}
	m.Name = name
	mvid, err := ctx.Heaps.GUID(row.Values[2])
	if err != nil {
		return err
	}
	m.MVID = mvid
	return nil
}

// Resolve implements Resolves for Assembly's own row.
func (a *Assembly) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.Assembly, a.token.Row())
	if row.Values == nil {
		return nil
	}
	a.HashAlgID = row.Values[0]
	a.Version = Version{uint16(row.Values[1]), uint16(row.Values[2]), uint16(row.Values[3]), uint16(row.Values[4])}
	a.Flags = row.Values[5]
	pk, err := ctx.Heaps.Blob(row.Values[6])
	if err != nil {
		return err
	}
	a.PublicKey = pk
	if a.Name, err = ctx.Heaps.String(row.Values[7]); err != nil {
		return err
	}
	if a.Culture, err = ctx.Heaps.String(row.Values[8]); err != nil {
		return err
	}
	return nil
}

// Resolve implements Resolves for AssemblyRef.
func (r *AssemblyRef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.AssemblyRef, r.token.Row())
	r.Version = Version{uint16(row.Values[0]), uint16(row.Values[1]), uint16(row.Values[2]), uint16(row.Values[3])}
	r.Flags = row.Values[4]
	pk, err := ctx.Heaps.Blob(row.Values[5])
	if err != nil {
		return err
	}
	r.PublicKeyOrToken = pk
	if r.Name, err = ctx.Heaps.String(row.Values[6]); err != nil {
		return err
	}
	if r.Culture, err = ctx.Heaps.String(row.Values[7]); err != nil {
		return err
	}
	if r.HashValue, err = ctx.Heaps.Blob(row.Values[8]); err != nil {
		return err
	}
	return nil
}

// Resolve implements Resolves for ClassRef.
func (c *ClassRef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.TypeRef, c.token.Row())
	scope, err := resolveResolutionScope(ctx, row.Values[0])
	if err != nil {
		return err
	}
	c.Scope = scope
	if c.Name, err = ctx.Heaps.String(row.Values[1]); err != nil {
		return err
	}
	if c.Namespace, err = ctx.Heaps.String(row.Values[2]); err != nil {
		return err
	}
	return nil
}

// resolveResolutionScope decodes a TypeRef's ResolutionScope coded index.
// A Module target is the historical "Everett ilasm glitch" spec.md §9
// flags as an Open Question (SPEC_FULL.md §9 Decision 1): by default it is
// rejected as malformed; with Options.StrictEverettCompat set, it is
// accepted and a placeholder ClassDef representing the current module's
// global type is recorded on ctx for Load to attach once.
func resolveResolutionScope(ctx *LoadContext, scopeVal uint32) (ResolutionScope, error) {
	if scopeVal == 0 {
		return ResolutionScope{}, nil
	}
	tbl, rowNum, err := token.Decode(token.ResolutionScope, scopeVal)
	if err != nil {
		return ResolutionScope{}, err
	}
	switch tbl {
	case token.Module:
		if !ctx.Options.StrictEverettCompat {
			return ResolutionScope{}, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
				Detail("TypeRef ResolutionScope resolves to the current Module (Everett ilasm glitch); set StrictEverettCompat to accept").Build()
		}
		if ctx.everettModuleType == nil {
			ctx.everettModuleType = &ClassDef{Name: "<Module>"}
		}
		return ResolutionScope{Kind: ScopeModule}, nil
	case token.ModuleRef:
		name, err := ctx.moduleRefName(rowNum)
		if err != nil {
			return ResolutionScope{}, err
		}
		return ResolutionScope{Kind: ScopeModuleRef, ModuleRefName: name}, nil
	case token.AssemblyRef:
		return ResolutionScope{Kind: ScopeAssemblyRef, AssemblyRef: ctx.assemblyRefs[rowNum]}, nil
	case token.TypeRef:
		return ResolutionScope{Kind: ScopeTypeRef, Enclosing: ctx.typeRefs[rowNum]}, nil
	default:
		return ResolutionScope{}, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("TypeRef ResolutionScope decodes to unexpected table %#x", tbl).Build()
	}
}

// Resolve implements Resolves for ClassDef's own row. Fields/Methods,
// NestedClass and InterfaceImpl links are wired by Load's surrounding
// passes, since they need information from other rows.
func (c *ClassDef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.TypeDef, c.token.Row())
	c.Flags = row.Values[0]
	var err error
	if c.Name, err = ctx.Heaps.String(row.Values[1]); err != nil {
		return err
	}
	if c.Namespace, err = ctx.Heaps.String(row.Values[2]); err != nil {
		return err
	}
	if c.Extends, err = ctx.resolveTypeDefOrRef(row.Values[3]); err != nil {
		return err
	}
	return nil
}

// Resolve implements Resolves for FieldDef.
func (f *FieldDef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.Field, f.token.Row())
	f.Flags = uint16(row.Values[0])
	var err error
	if f.Name, err = ctx.Heaps.String(row.Values[1]); err != nil {
		return err
	}
	blob, err := ctx.Heaps.Blob(row.Values[2])
	if err != nil {
		return err
	}
	fs, err := sig.ReadFieldSig(bio.NewReader(blob))
	if err != nil {
		return err
	}
	f.Type = *fs.Type
	for _, row := range ctx.rows[token.FieldRVA] {
		if row.Values[1] == f.token.Row() {
			f.RVA = row.Values[0]
		}
	}
	for _, row := range ctx.rows[token.Constant] {
		tbl, rowNum, err := token.Decode(token.HasConstant, row.Values[1])
		if err == nil && tbl == token.Field && rowNum == f.token.Row() {
			value, err := ctx.Heaps.Blob(row.Values[2])
			if err != nil {
				return err
			}
			f.Constant = &ConstantValue{Type: byte(row.Values[0]), Value: value}
		}
	}
	return nil
}

// Resolve implements Resolves for MethodDef's own row. Params and the
// method body are wired by Load's surrounding passes.
func (m *MethodDef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.Method, m.token.Row())
	m.ImplFlags = uint16(row.Values[1])
	m.Flags = uint16(row.Values[2])
	var err error
	if m.Name, err = ctx.Heaps.String(row.Values[3]); err != nil {
		return err
	}
	blob, err := ctx.Heaps.Blob(row.Values[4])
	if err != nil {
		return err
	}
	ms, err := sig.ReadMethodSig(bio.NewReader(blob))
	if err != nil {
		return err
	}
	m.Signature = *ms
	return nil
}

// Resolve implements Resolves for Param.
func (p *Param) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.Param, p.token.Row())
	p.Flags = uint16(row.Values[0])
	p.Sequence = uint16(row.Values[1])
	var err error
	if p.Name, err = ctx.Heaps.String(row.Values[2]); err != nil {
		return err
	}
	return nil
}

// Resolve implements Resolves for MemberRef.
func (mr *MemberRef) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.MemberRef, mr.token.Row())
	tbl, rowNum, err := token.Decode(token.MemberRefParent, row.Values[0])
	if err != nil {
		return err
	}
	switch tbl {
	case token.TypeRef:
		mr.Parent = MemberRefParent{TypeRef: ctx.typeRefs[rowNum]}
	case token.TypeDef:
		mr.Parent = MemberRefParent{TypeDef: ctx.typeDefs[rowNum]}
	}
	if mr.Name, err = ctx.Heaps.String(row.Values[1]); err != nil {
		return err
	}
	blob, err := ctx.Heaps.Blob(row.Values[2])
	if err != nil {
		return err
	}
	ms, err := sig.ReadMethodSig(bio.NewReader(blob))
	if err != nil {
		return err
	}
	mr.Signature = *ms
	return nil
}

// Resolve implements Resolves for StandAloneSig.
func (s *StandAloneSig) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.StandAloneSig, s.token.Row())
	blob, err := ctx.Heaps.Blob(row.Values[0])
	if err != nil {
		return err
	}
	s.Blob = blob
	return nil
}

// Resolve implements Resolves for File.
func (f *File) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.File, f.token.Row())
	f.Flags = row.Values[0]
	var err error
	if f.Name, err = ctx.Heaps.String(row.Values[1]); err != nil {
		return err
	}
	if f.HashValue, err = ctx.Heaps.Blob(row.Values[2]); err != nil {
		return err
	}
	return nil
}

func (ctx *LoadContext) resolveImplementation(coded uint32) (Implementation, error) {
	if coded == 0 {
		return Implementation{}, nil
	}
	tbl, row, err := token.Decode(token.Implementation, coded)
	if err != nil {
		return Implementation{}, err
	}
	switch tbl {
	case token.File:
		return Implementation{File: ctx.files[row]}, nil
	case token.AssemblyRef:
		return Implementation{AssemblyRef: ctx.assemblyRefs[row]}, nil
	case token.ExportedType:
		return Implementation{ExportedType: ctx.exportedTypes[row]}, nil
	default:
		return Implementation{}, nil
	}
}

// Resolve implements Resolves for ExportedType.
func (e *ExportedType) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.ExportedType, e.token.Row())
	e.Flags = row.Values[0]
	e.TypeDefID = row.Values[1]
	var err error
	if e.TypeName, err = ctx.Heaps.String(row.Values[2]); err != nil {
		return err
	}
	if e.TypeNamespace, err = ctx.Heaps.String(row.Values[3]); err != nil {
		return err
	}
	if e.Implementation, err = ctx.resolveImplementation(row.Values[4]); err != nil {
		return err
	}
	return nil
}

// Resolve implements Resolves for ManifestResource.
func (m *ManifestResource) Resolve(ctx *LoadContext) error {
	row := ctx.row(token.ManifestResource, m.token.Row())
	m.Offset = row.Values[0]
	m.Flags = row.Values[1]
	var err error
	if m.Name, err = ctx.Heaps.String(row.Values[2]); err != nil {
		return err
	}
	if m.Implementation, err = ctx.resolveImplementation(row.Values[3]); err != nil {
		return err
	}
	return nil
}

// resolveGenericParams walks the GenericParam table once every TypeDef and
// Method is allocated, attaching each row to its TypeOrMethodDef owner and
// decoding its GenericParamConstraint rows.
func resolveGenericParams(ctx *LoadContext) error {
	gpRows := ctx.rows[token.GenericParam]
	gps := make([]*GenericParam, len(gpRows))
	for i, row := range gpRows {
		gp := &GenericParam{token: token.NewToken(token.GenericParam, uint32(i+1))}
		gp.Number = uint16(row.Values[0])
		gp.Flags = uint16(row.Values[1])
		name, err := ctx.Heaps.String(row.Values[3])
		if err != nil {
			return err
		}
		gp.Name = name

		tbl, rowNum, err := token.Decode(token.TypeOrMethodDef, row.Values[2])
		if err != nil {
			return err
		}
		switch tbl {
		case token.TypeDef:
			if owner := ctx.typeDefs[rowNum]; owner != nil {
				gp.Owner = GenericParamOwner{TypeDef: owner}
				owner.GenericParams = append(owner.GenericParams, gp)
			}
		case token.Method:
			if owner := ctx.methods[rowNum]; owner != nil {
				gp.Owner = GenericParamOwner{Method: owner}
				owner.GenericParams = append(owner.GenericParams, gp)
			}
		}
		gps[i] = gp
		ctx.genericParams[uint32(i+1)] = gp
	}
	for _, row := range ctx.rows[token.GenericParamConstraint] {
		gp := ctx.genericParams[row.Values[0]]
		if gp == nil {
			continue
		}
		constraint, err := ctx.resolveTypeDefOrRef(row.Values[1])
		if err != nil {
			return err
		}
		gp.Constraints = append(gp.Constraints, constraint)
	}
	return nil
}

// resolveProperties and resolveEvents walk PropertyMap/EventMap plus
// MethodSemantics to reattach accessor methods, the load-side mirror of
// contributeProperties/contributeEvents.
func resolveProperties(ctx *LoadContext) error {
	propRows := ctx.rows[token.Property]
	props := make([]*Property, len(propRows))
	for i, row := range propRows {
		p := &Property{token: token.NewToken(token.Property, uint32(i+1))}
		p.Flags = uint16(row.Values[0])
		name, err := ctx.Heaps.String(row.Values[1])
		if err != nil {
			return err
		}
		p.Name = name
		blob, err := ctx.Heaps.Blob(row.Values[2])
		if err != nil {
			return err
		}
		p.Type = blob
		props[i] = p
		ctx.properties[uint32(i+1)] = p
	}

	mapRows := ctx.rows[token.PropertyMap]
	for i, row := range mapRows {
		owner := ctx.typeDefs[row.Values[0]]
		if owner == nil {
			continue
		}
		start := row.Values[1]
		end := nextNonZero(mapRows, i+1, 1, uint32(len(propRows)))
		for pr := start; pr < end && pr >= 1; pr++ {
			p := props[pr-1]
			p.Owner = owner
			owner.Properties = append(owner.Properties, p)
		}
	}

	for _, row := range ctx.rows[token.MethodSemantics] {
		method := ctx.methods[row.Values[1]]
		tbl, rowNum, err := token.Decode(token.HasSemantics, row.Values[2])
		if err != nil || method == nil || tbl != token.Property {
			continue
		}
		p := ctx.properties[rowNum]
		if p == nil {
			continue
		}
		switch row.Values[0] {
		case 0x0002:
			p.Getter = method
		case 0x0001:
			p.Setter = method
		}
	}
	return nil
}

func resolveEvents(ctx *LoadContext) error {
	eventRows := ctx.rows[token.Event]
	events := make([]*Event, len(eventRows))
	for i, row := range eventRows {
		e := &Event{token: token.NewToken(token.Event, uint32(i+1))}
		e.Flags = uint16(row.Values[0])
		name, err := ctx.Heaps.String(row.Values[1])
		if err != nil {
			return err
		}
		e.Name = name
		eventType, err := ctx.resolveTypeDefOrRef(row.Values[2])
		if err != nil {
			return err
		}
		e.EventType = eventType
		events[i] = e
		ctx.events[uint32(i+1)] = e
	}

	mapRows := ctx.rows[token.EventMap]
	for i, row := range mapRows {
		owner := ctx.typeDefs[row.Values[0]]
		if owner == nil {
			continue
		}
		start := row.Values[1]
		end := nextNonZero(mapRows, i+1, 1, uint32(len(eventRows)))
		for er := start; er < end && er >= 1; er++ {
			e := events[er-1]
			e.Owner = owner
			owner.Events = append(owner.Events, e)
		}
	}

	for _, row := range ctx.rows[token.MethodSemantics] {
		method := ctx.methods[row.Values[1]]
		tbl, rowNum, err := token.Decode(token.HasSemantics, row.Values[2])
		if err != nil || method == nil || tbl != token.Event {
			continue
		}
		e := ctx.events[rowNum]
		if e == nil {
			continue
		}
		switch row.Values[0] {
		case 0x0008:
			e.AddOn = method
		case 0x0010:
			e.RemoveOn = method
		case 0x0020:
			e.Fire = method
		}
	}
	return nil
}
