package clrmeta

import (
	"fmt"

	"github.com/clrforge/clrmeta/bio"
	"github.com/clrforge/clrmeta/mderr"
	"github.com/clrforge/clrmeta/sig"
	"github.com/clrforge/clrmeta/token"
)

// ContributeToMetadata implements Contributes for Module: one row, always
// at Module table row 1 (spec.md §3: "the single module every Assembly...
// owns").
func (m *Module) ContributeToMetadata(ctx *BuildContext) error {
	mvid := ctx.Heaps.InternGUID(m.MVID)
	if mvid == 0 {
		mvid = ctx.Heaps.NewMVID()
	}
	ctx.Contribute(token.Module, m, []uint32{
		0,
		ctx.Heaps.InternString(m.Name),
		mvid,
		0,
		0,
	})
	return nil
}

// ContributeToMetadata implements Contributes for Assembly's own row.
func (a *Assembly) ContributeToMetadata(ctx *BuildContext) error {
	row := ctx.Contribute(token.Assembly, a, []uint32{
		a.HashAlgID,
		uint32(a.Version.Major),
		uint32(a.Version.Minor),
		uint32(a.Version.Build),
		uint32(a.Version.Revision),
		a.Flags,
		ctx.Heaps.InternBlob(a.PublicKey),
		ctx.Heaps.InternString(a.Name),
		ctx.Heaps.InternString(a.Culture),
	})
	a.token = token.NewToken(token.Assembly, row)
	if a.OS != nil {
		ctx.Tables.Table(token.AssemblyOS).Append([]uint32{
			a.OS.OSPlatformID, a.OS.OSMajorVersion, a.OS.OSMinorVersion,
		})
	}
	return nil
}

// ContributeToMetadata implements Contributes for AssemblyRef, plus its
// optional AssemblyRefOS companion row.
func (r *AssemblyRef) ContributeToMetadata(ctx *BuildContext) error {
	row := ctx.Contribute(token.AssemblyRef, r, []uint32{
		uint32(r.Version.Major),
		uint32(r.Version.Minor),
		uint32(r.Version.Build),
		uint32(r.Version.Revision),
		r.Flags,
		ctx.Heaps.InternBlob(r.PublicKeyOrToken),
		ctx.Heaps.InternString(r.Name),
		ctx.Heaps.InternString(r.Culture),
		ctx.Heaps.InternBlob(r.HashValue),
	})
	r.token = token.NewToken(token.AssemblyRef, row)
	if r.OS != nil {
		ctx.Tables.Table(token.AssemblyRefOS).Append([]uint32{
			r.OS.OSPlatformID, r.OS.OSMajorVersion, r.OS.OSMinorVersion, row,
		})
	}
	return nil
}

// resolutionScopeCoded computes the ResolutionScope coded index for a
// ClassRef, contributing a ModuleRef row on first use of a named external
// module (spec.md §4.4's ResolutionScope schema).
func (ctx *BuildContext) resolutionScopeCoded(scope ResolutionScope) (uint32, error) {
	switch scope.Kind {
	case ScopeModule:
		return token.Encode(token.ResolutionScope, token.Module, 1)
	case ScopeAssemblyRef:
		if scope.AssemblyRef == nil {
			return 0, mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
				Detail("ScopeAssemblyRef resolution scope has no AssemblyRef").Build()
		}
		return token.Encode(token.ResolutionScope, token.AssemblyRef, scope.AssemblyRef.token.Row())
	case ScopeTypeRef:
		if scope.Enclosing == nil {
			return 0, mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
				Detail("ScopeTypeRef resolution scope has no Enclosing").Build()
		}
		return token.Encode(token.ResolutionScope, token.TypeRef, scope.Enclosing.token.Row())
	case ScopeModuleRef:
		row := ctx.internModuleRef(scope.ModuleRefName)
		return token.Encode(token.ResolutionScope, token.ModuleRef, row)
	default:
		return 0, mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
			Detail("unknown ResolutionScope kind %d", scope.Kind).Build()
	}
}

// internModuleRef deduplicates ModuleRef rows by name, keyed through the
// BuildContext's entity-row map using the name string itself as the key
// (ModuleRef has no object-model entity type of its own — spec.md §1 scopes
// multi-module modeling to the Files/ExportedTypes round-trip, not a typed
// ModuleRef entity).
func (ctx *BuildContext) internModuleRef(name string) uint32 {
	type moduleRefKey string
	key := moduleRefKey(name)
	if row := ctx.RowOf(key); row != 0 {
		return row
	}
	return ctx.Contribute(token.ModuleRef, key, []uint32{ctx.Heaps.InternString(name)})
}

// ContributeToMetadata implements Contributes for ClassRef.
func (c *ClassRef) ContributeToMetadata(ctx *BuildContext) error {
	scope, err := ctx.resolutionScopeCoded(c.Scope)
	if err != nil {
		return err
	}
	row := ctx.Contribute(token.TypeRef, c, []uint32{
		scope,
		ctx.Heaps.InternString(c.Name),
		ctx.Heaps.InternString(c.Namespace),
	})
	c.token = token.NewToken(token.TypeRef, row)
	return nil
}

// typeDefOrRefCoded encodes a sig.Type of Kind ClassRef/ValueType (or the
// zero Type, meaning no base type) as a TypeDefOrRef coded index value.
func typeDefOrRefCoded(t sig.Type) (uint32, error) {
	if t.ClassToken.IsNull() {
		return 0, nil
	}
	return token.Encode(token.TypeDefOrRef, t.ClassToken.Table(), t.ClassToken.Row())
}

// ContributeToMetadata implements Contributes for ClassDef: its own TypeDef
// row, then every member table that hangs off it (spec.md §4.8 step 1).
// FieldList/MethodList must name the first field/method row already
// assigned by Assembly.AssignTokens, since spec.md §6's TypeDef schema
// requires those simple indexes to be contiguous ranges.
func (c *ClassDef) ContributeToMetadata(ctx *BuildContext) error {
	extends, err := typeDefOrRefCoded(c.Extends)
	if err != nil {
		return err
	}
	fieldList := uint32(0)
	if len(c.Fields) > 0 {
		fieldList = c.Fields[0].token.Row()
	}
	methodList := uint32(0)
	if len(c.Methods) > 0 {
		methodList = c.Methods[0].token.Row()
	}
	row := ctx.Contribute(token.TypeDef, c, []uint32{
		c.Flags,
		ctx.Heaps.InternString(c.Name),
		ctx.Heaps.InternString(c.Namespace),
		extends,
		fieldList,
		methodList,
	})
	c.token = token.NewToken(token.TypeDef, row)

	if c.NestedIn != nil {
		ctx.Tables.Table(token.NestedClass).Append([]uint32{row, c.NestedIn.token.Row()})
	}
	for _, iface := range c.Interfaces {
		ifaceCoded, err := typeDefOrRefCoded(iface)
		if err != nil {
			return err
		}
		ctx.Tables.Table(token.InterfaceImpl).Append([]uint32{row, ifaceCoded})
	}

	for _, f := range c.Fields {
		if err := f.ContributeToMetadata(ctx); err != nil {
			return err
		}
	}
	for _, m := range c.Methods {
		if err := m.ContributeToMetadata(ctx); err != nil {
			return err
		}
	}
	if err := c.contributeGenericParams(ctx); err != nil {
		return err
	}
	if err := c.contributeProperties(ctx); err != nil {
		return err
	}
	if err := c.contributeEvents(ctx); err != nil {
		return err
	}
	for _, nested := range c.Nested {
		if err := nested.ContributeToMetadata(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClassDef) contributeGenericParams(ctx *BuildContext) error {
	if len(c.GenericParams) == 0 {
		return nil
	}
	owner, err := token.Encode(token.TypeOrMethodDef, token.TypeDef, c.token.Row())
	if err != nil {
		return err
	}
	for _, gp := range c.GenericParams {
		gp.Owner = GenericParamOwner{TypeDef: c}
		if err := gp.contribute(ctx, owner); err != nil {
			return err
		}
	}
	return nil
}

func (gp *GenericParam) contribute(ctx *BuildContext, owner uint32) error {
	row := ctx.Contribute(token.GenericParam, gp, []uint32{
		uint32(gp.Number),
		uint32(gp.Flags),
		owner,
		ctx.Heaps.InternString(gp.Name),
	})
	gp.token = token.NewToken(token.GenericParam, row)
	for _, constraint := range gp.Constraints {
		coded, err := typeDefOrRefCoded(constraint)
		if err != nil {
			return err
		}
		ctx.Tables.Table(token.GenericParamConstraint).Append([]uint32{row, coded})
	}
	return nil
}

// contributeGenericParams adds the GenericParam rows for a method's own
// generic parameters, setting each one's Owner.Method to m.
func (m *MethodDef) contributeGenericParams(ctx *BuildContext, params []*GenericParam) error {
	if len(params) == 0 {
		return nil
	}
	owner, err := token.Encode(token.TypeOrMethodDef, token.Method, m.token.Row())
	if err != nil {
		return err
	}
	for _, gp := range params {
		gp.Owner = GenericParamOwner{Method: m}
		if err := gp.contribute(ctx, owner); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClassDef) contributeProperties(ctx *BuildContext) error {
	if len(c.Properties) == 0 {
		return nil
	}
	first := uint32(0)
	for i, p := range c.Properties {
		row := ctx.Contribute(token.Property, p, []uint32{
			uint32(p.Flags),
			ctx.Heaps.InternString(p.Name),
			ctx.Heaps.InternBlob(p.Type),
		})
		p.token = token.NewToken(token.Property, row)
		if i == 0 {
			first = row
		}
		if err := contributeAccessorSemantics(ctx, p.token, 0x0002, p.Getter); err != nil {
			return err
		}
		if err := contributeAccessorSemantics(ctx, p.token, 0x0001, p.Setter); err != nil {
			return err
		}
	}
	ctx.Tables.Table(token.PropertyMap).Append([]uint32{c.token.Row(), first})
	return nil
}

func (c *ClassDef) contributeEvents(ctx *BuildContext) error {
	if len(c.Events) == 0 {
		return nil
	}
	first := uint32(0)
	for i, e := range c.Events {
		eventType, err := typeDefOrRefCoded(e.EventType)
		if err != nil {
			return err
		}
		row := ctx.Contribute(token.Event, e, []uint32{
			uint32(e.Flags),
			ctx.Heaps.InternString(e.Name),
			eventType,
		})
		e.token = token.NewToken(token.Event, row)
		if i == 0 {
			first = row
		}
		if err := contributeAccessorSemantics(ctx, e.token, 0x0008, e.AddOn); err != nil {
			return err
		}
		if err := contributeAccessorSemantics(ctx, e.token, 0x0010, e.RemoveOn); err != nil {
			return err
		}
		if err := contributeAccessorSemantics(ctx, e.token, 0x0020, e.Fire); err != nil {
			return err
		}
	}
	ctx.Tables.Table(token.EventMap).Append([]uint32{c.token.Row(), first})
	return nil
}

// contributeAccessorSemantics appends a MethodSemantics row linking method
// to association with the given semantics flag (Setter=0x0001,
// Getter=0x0002, AddOn=0x0008, RemoveOn=0x0010, Fire=0x0020 per ECMA-335
// §II.23.1.12), skipped entirely when method is nil.
func contributeAccessorSemantics(ctx *BuildContext, association token.Token, semantics uint32, method *MethodDef) error {
	if method == nil {
		return nil
	}
	assoc, err := token.Encode(token.HasSemantics, association.Table(), association.Row())
	if err != nil {
		return err
	}
	ctx.Tables.Table(token.MethodSemantics).Append([]uint32{semantics, method.token.Row(), assoc})
	return nil
}

// ContributeToMetadata implements Contributes for FieldDef.
func (f *FieldDef) ContributeToMetadata(ctx *BuildContext) error {
	sigBlob, err := encodeFieldSig(f.Type)
	if err != nil {
		return err
	}
	row := ctx.Contribute(token.Field, f, []uint32{
		uint32(f.Flags),
		ctx.Heaps.InternString(f.Name),
		ctx.Heaps.InternBlob(sigBlob),
	})
	f.token = token.NewToken(token.Field, row)

	if f.RVA != 0 {
		ctx.Tables.Table(token.FieldRVA).Append([]uint32{f.RVA, row})
	}
	if f.Constant != nil {
		parent, err := token.Encode(token.HasConstant, token.Field, row)
		if err != nil {
			return err
		}
		ctx.Tables.Table(token.Constant).Append([]uint32{
			uint32(f.Constant.Type), parent, ctx.Heaps.InternBlob(f.Constant.Value),
		})
	}
	return nil
}

func encodeFieldSig(t sig.Type) ([]byte, error) {
	w := bio.NewWriter()
	if err := sig.WriteFieldSig(w, &sig.FieldSig{Type: &t}); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ContributeToMetadata implements Contributes for MethodDef: its own row,
// Param rows, and its own GenericParams.
func (m *MethodDef) ContributeToMetadata(ctx *BuildContext) error {
	sigBlob := bio.NewWriter()
	if err := sig.WriteMethodSig(sigBlob, &m.Signature); err != nil {
		return err
	}
	paramList := uint32(0)
	if len(m.Params) > 0 {
		paramList = m.Params[0].token.Row()
	}
	row := ctx.Contribute(token.Method, m, []uint32{
		0, // Rva, fixed up once the method body blob's layout is known
		uint32(m.ImplFlags),
		uint32(m.Flags),
		ctx.Heaps.InternString(m.Name),
		ctx.Heaps.InternBlob(sigBlob.Bytes()),
		paramList,
	})
	m.token = token.NewToken(token.Method, row)

	for _, p := range m.Params {
		if err := p.ContributeToMetadata(ctx); err != nil {
			return err
		}
	}
	return m.contributeGenericParams(ctx, m.GenericParams)
}

// ContributeToMetadata implements Contributes for Param.
func (p *Param) ContributeToMetadata(ctx *BuildContext) error {
	row := ctx.Contribute(token.Param, p, []uint32{
		uint32(p.Flags),
		uint32(p.Sequence),
		ctx.Heaps.InternString(p.Name),
	})
	p.token = token.NewToken(token.Param, row)
	return nil
}

// ContributeToMetadata implements Contributes for MemberRef, deduplicating
// structurally-equal (parent, name, signature) triples per spec.md §4.7.
func (mr *MemberRef) ContributeToMetadata(ctx *BuildContext) error {
	var class uint32
	var err error
	switch {
	case mr.Parent.TypeRef != nil:
		class, err = token.Encode(token.MemberRefParent, token.TypeRef, mr.Parent.TypeRef.token.Row())
	case mr.Parent.TypeDef != nil:
		class, err = token.Encode(token.MemberRefParent, token.TypeDef, mr.Parent.TypeDef.token.Row())
	default:
		err = mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
			Detail("MemberRef %s has neither TypeRef nor TypeDef parent", mr.Name).Build()
	}
	if err != nil {
		return err
	}
	sigBlob := bio.NewWriter()
	if err := sig.WriteMethodSig(sigBlob, &mr.Signature); err != nil {
		return err
	}
	sigBytes := sigBlob.Bytes()

	key := memberRefKey(class, mr.Name, sigBytes)
	if row, ok := ctx.memberRefs[key]; ok {
		mr.token = token.NewToken(token.MemberRef, row)
		return nil
	}

	row := ctx.Contribute(token.MemberRef, mr, []uint32{
		class,
		ctx.Heaps.InternString(mr.Name),
		ctx.Heaps.InternBlob(sigBytes),
	})
	mr.token = token.NewToken(token.MemberRef, row)
	ctx.memberRefs[key] = row
	return nil
}

// memberRefKey builds MemberRef's structural dedup key out of its already
// resolved Class coded-index value, name, and encoded signature bytes —
// the same (parent, name, signature) triple ECMA-335 treats as identity
// for this table.
func memberRefKey(class uint32, name string, sigBytes []byte) string {
	return fmt.Sprintf("%d|%s|%x", class, name, sigBytes)
}

// ContributeToMetadata implements Contributes for StandAloneSig.
func (s *StandAloneSig) ContributeToMetadata(ctx *BuildContext) error {
	row := ctx.Contribute(token.StandAloneSig, s, []uint32{ctx.Heaps.InternBlob(s.Blob)})
	s.token = token.NewToken(token.StandAloneSig, row)
	return nil
}

// ContributeToMetadata implements Contributes for File.
func (f *File) ContributeToMetadata(ctx *BuildContext) error {
	row := ctx.Contribute(token.File, f, []uint32{
		f.Flags,
		ctx.Heaps.InternString(f.Name),
		ctx.Heaps.InternBlob(f.HashValue),
	})
	f.token = token.NewToken(token.File, row)
	return nil
}

// implementationCoded encodes the Implementation coded index's three cases.
func implementationCoded(impl Implementation) (uint32, error) {
	switch {
	case impl.File != nil:
		return token.Encode(token.Implementation, token.File, impl.File.token.Row())
	case impl.AssemblyRef != nil:
		return token.Encode(token.Implementation, token.AssemblyRef, impl.AssemblyRef.token.Row())
	case impl.ExportedType != nil:
		return token.Encode(token.Implementation, token.ExportedType, impl.ExportedType.token.Row())
	default:
		return 0, nil
	}
}

// ContributeToMetadata implements Contributes for ExportedType.
func (e *ExportedType) ContributeToMetadata(ctx *BuildContext) error {
	impl, err := implementationCoded(e.Implementation)
	if err != nil {
		return err
	}
	row := ctx.Contribute(token.ExportedType, e, []uint32{
		e.Flags,
		e.TypeDefID,
		ctx.Heaps.InternString(e.TypeName),
		ctx.Heaps.InternString(e.TypeNamespace),
		impl,
	})
	e.token = token.NewToken(token.ExportedType, row)
	return nil
}

// ContributeToMetadata implements Contributes for ManifestResource.
func (m *ManifestResource) ContributeToMetadata(ctx *BuildContext) error {
	impl, err := implementationCoded(m.Implementation)
	if err != nil {
		return err
	}
	row := ctx.Contribute(token.ManifestResource, m, []uint32{
		m.Offset,
		m.Flags,
		ctx.Heaps.InternString(m.Name),
		impl,
	})
	m.token = token.NewToken(token.ManifestResource, row)
	return nil
}

// ContributeToMetadata implements Contributes for CustomAttribute.
func (ca *CustomAttribute) ContributeToMetadata(ctx *BuildContext) error {
	parent, err := token.Encode(token.HasCustomAttribute, ca.Parent.Table(), ca.Parent.Row())
	if err != nil {
		return err
	}
	var ctor uint32
	switch {
	case ca.Constructor.MemberRef != nil:
		ctor, err = token.Encode(token.CustomAttributeType, token.MemberRef, ca.Constructor.MemberRef.token.Row())
	case ca.Constructor.Method != nil:
		ctor, err = token.Encode(token.CustomAttributeType, token.Method, ca.Constructor.Method.token.Row())
	default:
		err = mderr.New(mderr.PhaseBuild, mderr.KindContractViolation).
			Detail("CustomAttribute has no resolvable constructor").Build()
	}
	if err != nil {
		return err
	}
	ctx.Tables.Table(token.CustomAttribute).Append([]uint32{
		parent, ctor, ctx.Heaps.InternBlob(ca.Value),
	})
	return nil
}
