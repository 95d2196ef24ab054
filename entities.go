// Package clrmeta is the object model and build/load pipelines for CLI
// metadata images: types, members, signatures, custom attributes, and IL
// method bodies, addressed by token the way the rest of this module's
// packages already are (spec.md §3/§4.7).
package clrmeta

import (
	"github.com/clrforge/clrmeta/il"
	"github.com/clrforge/clrmeta/sig"
	"github.com/clrforge/clrmeta/token"
)

// Version is a four-part assembly version number.
type Version struct {
	Major, Minor, Build, Revision uint16
}

// Assembly is the root of the object model: one PE file's worth of CLI
// metadata (spec.md §3's PEFile/Assembly entity).
type Assembly struct {
	Name         string
	Version      Version
	Culture      string
	PublicKey    []byte
	HashAlgID    uint32
	Flags        uint32
	Module       *Module
	TypeRefs     []*ClassRef
	TypeDefs     []*ClassDef
	MemberRefs   []*MemberRef
	AssemblyRefs []*AssemblyRef
	StandAloneSigs []*StandAloneSig
	Files             []*File
	ExportedTypes     []*ExportedType
	ManifestResources []*ManifestResource
	OS                *AssemblyOSRow
	EntryPoint        *MethodDef

	// token is the assembly's own Assembly table row, set by Load or by
	// Build; zero before either has run.
	token token.Token
}

// Module is the single module every Assembly in this implementation owns
// (multi-module assemblies are round-tripped via Files/ExportedTypes, not
// modeled as separate Module entities — spec.md §1 scopes the core to a
// single-module image).
type Module struct {
	Name string
	MVID [16]byte
}

// ClassRef is a reference to a type defined outside the current module —
// in another module (ModuleRef), another assembly (AssemblyRef), or the
// current module itself (Module), per the ResolutionScope coded index.
type ClassRef struct {
	Scope     ResolutionScope
	Namespace string
	Name      string

	token token.Token
}

// ResolutionScope names what a TypeRef resolves against.
type ResolutionScope struct {
	Kind ScopeKind
	// ScopeModule (the current module) carries no payload.
	// AssemblyRef is set when Kind == ScopeAssemblyRef.
	// Enclosing is set when Kind == ScopeTypeRef (a nested type reference).
	// ModuleRefName is set when Kind == ScopeModuleRef.
	AssemblyRef *AssemblyRef
	Enclosing   *ClassRef
	ModuleRefName string
}

// ScopeKind discriminates ResolutionScope's payload.
type ScopeKind int

const (
	ScopeModule ScopeKind = iota
	ScopeModuleRef
	ScopeAssemblyRef
	ScopeTypeRef
)

// AssemblyRef is a reference to an external assembly.
type AssemblyRef struct {
	Name      string
	Version   Version
	Culture   string
	PublicKeyOrToken []byte
	HashValue []byte
	Flags     uint32
	OS        *AssemblyRefOSRow

	token token.Token
}

// AssemblyOSRow and AssemblyRefOSRow round-trip the rarely-populated
// AssemblyOS/AssemblyRefOS tables (spec.md §6's table list) — real-world
// images almost never carry a row here, but the schema requires it to be
// representable for the master round-trip property (spec.md §8).
type AssemblyOSRow struct {
	OSPlatformID, OSMajorVersion, OSMinorVersion uint32
}

type AssemblyRefOSRow struct {
	OSPlatformID, OSMajorVersion, OSMinorVersion uint32
}

// ClassDef is a type defined in the current module (spec.md §3's
// ClassDef entity).
type ClassDef struct {
	Namespace string
	Name      string
	Flags     uint32
	Extends   sig.Type // zero Kind means no base type (interfaces, System.Object itself)
	Interfaces []sig.Type

	Fields      []*FieldDef
	Methods     []*MethodDef
	Properties  []*Property
	Events      []*Event
	GenericParams []*GenericParam

	// NestedIn is non-nil when this class is nested inside another
	// (spec.md §8 seed test 5: "Outer+Inner1"); non-owning back-pointer.
	NestedIn *ClassDef
	Nested   []*ClassDef

	token token.Token
}

// FullName returns the dotted namespace-qualified, "+"-nested name used to
// round-trip a nested class's fully qualified name (spec.md §8 seed test 5).
func (c *ClassDef) FullName() string {
	name := c.Name
	for p := c.NestedIn; p != nil; p = p.NestedIn {
		name = p.Name + "+" + name
	}
	outer := c
	for outer.NestedIn != nil {
		outer = outer.NestedIn
	}
	if outer.Namespace != "" {
		return outer.Namespace + "." + name
	}
	return name
}

// FieldDef is a field defined in the current module.
type FieldDef struct {
	Name      string
	Flags     uint16
	Type      sig.Type
	RVA       uint32 // nonzero for a field with an initial-data blob (FieldRVA)
	Constant  *ConstantValue

	Owner *ClassDef
	token token.Token
}

// ConstantValue is the Constant table's (type, value) payload.
type ConstantValue struct {
	Type  byte // an sig.ElementType byte
	Value []byte
}

// MethodDef is a method defined in the current module.
type MethodDef struct {
	Name          string
	Flags         uint16
	ImplFlags     uint16
	Signature     sig.MethodSig
	Params        []*Param
	GenericParams []*GenericParam
	Body          *MethodBody // nil for abstract/extern methods (zero RVA)

	Owner *ClassDef
	token token.Token
}

// MemberRef is a reference to a field or method defined outside the
// current module, deduplicated structurally by (parent, name, signature)
// per spec.md §4.7's "structural type equality... required for
// method-signature deduplication in the MemberRef table".
type MemberRef struct {
	Parent    MemberRefParent
	Name      string
	Signature sig.MethodSig // FieldSig references reuse only RetType/RetMods

	token token.Token
}

// MemberRefParent names what a MemberRef's Class coded index points at.
type MemberRefParent struct {
	TypeRef *ClassRef
	TypeDef *ClassDef
}

// Param is a method parameter (or, at sequence 0, the return value's
// marshaling/attribute row).
type Param struct {
	Sequence uint16
	Flags    uint16
	Name     string

	Owner *MethodDef
	token token.Token
}

// GenericParam is a generic type/method parameter (spec.md §8 seed test 3).
type GenericParam struct {
	Number      uint16
	Flags       uint16
	Name        string
	Owner       GenericParamOwner
	Constraints []sig.Type

	token token.Token
}

// GenericParamOwner names the TypeOrMethodDef coded index target.
type GenericParamOwner struct {
	TypeDef *ClassDef
	Method  *MethodDef
}

// Property is a class property (accessors linked via MethodSemantics).
type Property struct {
	Name      string
	Flags     uint16
	Type      []byte // raw PropertySig blob; decoded lazily via sig.ReadPropertySig
	Getter    *MethodDef
	Setter    *MethodDef

	Owner *ClassDef
	token token.Token
}

// Event is a class event (add/remove/fire accessors via MethodSemantics).
type Event struct {
	Name      string
	Flags     uint16
	EventType sig.Type
	AddOn     *MethodDef
	RemoveOn  *MethodDef
	Fire      *MethodDef

	Owner *ClassDef
	token token.Token
}

// CustomAttribute is an attribute instance attached to any attributable
// entity (spec.md §3's CustomAttribute entity). Parent is stored as a
// token rather than a typed union since HasCustomAttribute's target set
// spans nearly every table.
type CustomAttribute struct {
	Parent      token.Token
	Constructor MethodDefOrRef
	Value       []byte
}

// MethodDefOrRef names the ctor a CustomAttribute invokes, and the
// MethodBody/MethodDeclaration ends of a MethodImpl row — the two cases of
// the MethodDefOrRef coded index.
type MethodDefOrRef struct {
	Method    *MethodDef
	MemberRef *MemberRef
}

// MethodBody wraps the IL codec's body with the object-model fields that
// sit above it: the LocalVarSig's decoded types and the owning method.
type MethodBody struct {
	IL         *il.MethodBody
	LocalTypes []sig.Type
	Owner      *MethodDef
}

// StandAloneSig is a signature blob with no other home — typically a
// MethodBody's LocalVarSig, occasionally a standalone call-site signature.
type StandAloneSig struct {
	Blob []byte

	token token.Token
}

// File, ExportedType and ManifestResource round-trip multi-module/
// multi-file assembly metadata (domain-stack addition per SPEC_FULL.md
// §4.7 — real-world single-module assemblies rarely populate these, but
// every table must round-trip per spec.md §8's master property).
type File struct {
	Flags     uint32
	Name      string
	HashValue []byte

	token token.Token
}

type ExportedType struct {
	Flags         uint32
	TypeDefID     uint32
	TypeName      string
	TypeNamespace string
	Implementation Implementation

	token token.Token
}

// Implementation names the Implementation coded index's three cases.
type Implementation struct {
	File         *File
	AssemblyRef  *AssemblyRef
	ExportedType *ExportedType
}

type ManifestResource struct {
	Offset         uint32
	Flags          uint32
	Name           string
	Implementation Implementation // zero value means "embedded in this module"

	token token.Token
}

// AssignTokens fixes the final token of every entity whose table is never
// re-sorted (spec.md §4.3's 15-table exception list does not include
// TypeRef, TypeDef, Field, Method or Param) purely from its position in the
// Assembly's slices. A model built by hand needs this to run before any
// sig.Type referencing one of these entities by token can be constructed —
// call it once after every TypeDef/TypeRef is appended, and again after
// filling in Fields/Methods/Params, the way a two-pass assembler declares
// types before linking member bodies against each other's tokens.
func (a *Assembly) AssignTokens() {
	for i, r := range a.TypeRefs {
		r.token = token.NewToken(token.TypeRef, uint32(i+1))
	}
	typeDefRow := uint32(1)
	allClasses(a.TypeDefs, func(c *ClassDef) {
		c.token = token.NewToken(token.TypeDef, typeDefRow)
		typeDefRow++
	})
	for i, r := range a.AssemblyRefs {
		r.token = token.NewToken(token.AssemblyRef, uint32(i+1))
	}
	for i, s := range a.StandAloneSigs {
		s.token = token.NewToken(token.StandAloneSig, uint32(i+1))
	}
	for i, f := range a.Files {
		f.token = token.NewToken(token.File, uint32(i+1))
	}
	for i, e := range a.ExportedTypes {
		e.token = token.NewToken(token.ExportedType, uint32(i+1))
	}
	for i, m := range a.ManifestResources {
		m.token = token.NewToken(token.ManifestResource, uint32(i+1))
	}

	fieldRow, methodRow, paramRow := uint32(1), uint32(1), uint32(1)
	allClasses(a.TypeDefs, func(c *ClassDef) {
		for _, f := range c.Fields {
			f.token = token.NewToken(token.Field, fieldRow)
			fieldRow++
		}
		for _, m := range c.Methods {
			m.token = token.NewToken(token.Method, methodRow)
			methodRow++
			for _, p := range m.Params {
				p.token = token.NewToken(token.Param, paramRow)
				paramRow++
			}
		}
	})
}

// allClasses walks every ClassDef in declaration order, depth-first through
// Nested, since spec.md §6's TypeDef table lists nested types as ordinary
// flat rows (nesting is recorded separately via NestedClass).
func allClasses(classes []*ClassDef, fn func(*ClassDef)) {
	for _, c := range classes {
		fn(c)
		allClasses(c.Nested, fn)
	}
}

// ClassRefType returns the TypeDefOrRef sig.Type referencing r by reference
// semantics (ELEMENT_TYPE_CLASS). r.token must already be assigned.
func ClassRefType(r *ClassRef) sig.Type {
	return sig.Type{Kind: sig.KindClassRef, ClassToken: r.token}
}

// ClassDefType returns the TypeDefOrRef sig.Type referencing c by reference
// semantics. c.token must already be assigned.
func ClassDefType(c *ClassDef) sig.Type {
	return sig.Type{Kind: sig.KindClassRef, ClassToken: c.token}
}

// ValueClassRefType is ClassRefType's ELEMENT_TYPE_VALUETYPE counterpart.
func ValueClassRefType(r *ClassRef) sig.Type {
	return sig.Type{Kind: sig.KindValueType, ClassToken: r.token}
}

// ValueClassDefType is ClassDefType's ELEMENT_TYPE_VALUETYPE counterpart.
func ValueClassDefType(c *ClassDef) sig.Type {
	return sig.Type{Kind: sig.KindValueType, ClassToken: c.token}
}

// Token returns the entity's assigned metadata token, 0 if never built or
// loaded.
func (c *ClassDef) Token() token.Token   { return c.token }
func (c *ClassRef) Token() token.Token   { return c.token }
func (f *FieldDef) Token() token.Token   { return f.token }
func (m *MethodDef) Token() token.Token  { return m.token }
func (p *Param) Token() token.Token      { return p.token }
func (m *MemberRef) Token() token.Token  { return m.token }
func (r *AssemblyRef) Token() token.Token { return r.token }
func (a *Assembly) Token() token.Token   { return a.token }
