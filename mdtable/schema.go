// Package mdtable implements the 45 fixed-schema metadata tables of
// spec.md §4.3/§6: row layout, size calculation, index widths, and the
// row ordering mandated for a subset of tables by ECMA-335 §II.22.
package mdtable

import "github.com/clrforge/clrmeta/token"

// ColumnKind names the on-disk shape of one table column.
type ColumnKind int

const (
	ColU16 ColumnKind = iota
	ColU32
	ColStringIdx
	ColBlobIdx
	ColGUIDIdx
	ColSimpleIdx
	ColCodedIdx
)

// Column describes one schema column. Target/Space apply only to
// ColSimpleIdx/ColCodedIdx respectively.
type Column struct {
	Name   string
	Kind   ColumnKind
	Target token.TableID
	Space  token.CodedIndexSpace
}

// Schema is a table's ordered column list.
type Schema []Column

func col(name string, kind ColumnKind) Column { return Column{Name: name, Kind: kind} }
func simple(name string, target token.TableID) Column {
	return Column{Name: name, Kind: ColSimpleIdx, Target: target}
}
func coded(name string, space token.CodedIndexSpace) Column {
	return Column{Name: name, Kind: ColCodedIdx, Space: space}
}

// Schemas holds the fixed row schema for every one of the 45 tables
// (spec.md §6; column order and shapes per ECMA-335 §II.22).
var Schemas = map[token.TableID]Schema{
	token.Module: {
		col("Generation", ColU16),
		col("Name", ColStringIdx),
		col("Mvid", ColGUIDIdx),
		col("EncId", ColGUIDIdx),
		col("EncBaseId", ColGUIDIdx),
	},
	token.TypeRef: {
		coded("ResolutionScope", token.ResolutionScope),
		col("Name", ColStringIdx),
		col("Namespace", ColStringIdx),
	},
	token.TypeDef: {
		col("Flags", ColU32),
		col("Name", ColStringIdx),
		col("Namespace", ColStringIdx),
		coded("Extends", token.TypeDefOrRef),
		simple("FieldList", token.Field),
		simple("MethodList", token.Method),
	},
	token.FieldPtr:  {simple("Field", token.Field)},
	token.Field: {
		col("Flags", ColU16),
		col("Name", ColStringIdx),
		col("Signature", ColBlobIdx),
	},
	token.MethodPtr: {simple("Method", token.Method)},
	token.Method: {
		col("Rva", ColU32),
		col("ImplFlags", ColU16),
		col("Flags", ColU16),
		col("Name", ColStringIdx),
		col("Signature", ColBlobIdx),
		simple("ParamList", token.Param),
	},
	token.ParamPtr: {simple("Param", token.Param)},
	token.Param: {
		col("Flags", ColU16),
		col("Sequence", ColU16),
		col("Name", ColStringIdx),
	},
	token.InterfaceImpl: {
		simple("Class", token.TypeDef),
		coded("Interface", token.TypeDefOrRef),
	},
	token.MemberRef: {
		coded("Class", token.MemberRefParent),
		col("Name", ColStringIdx),
		col("Signature", ColBlobIdx),
	},
	token.Constant: {
		col("Type", ColU16),
		coded("Parent", token.HasConstant),
		col("Value", ColBlobIdx),
	},
	token.CustomAttribute: {
		coded("Parent", token.HasCustomAttribute),
		coded("Type", token.CustomAttributeType),
		col("Value", ColBlobIdx),
	},
	token.FieldMarshal: {
		coded("Parent", token.HasFieldMarshal),
		col("NativeType", ColBlobIdx),
	},
	token.DeclSecurity: {
		col("Action", ColU16),
		coded("Parent", token.HasDeclSecurity),
		col("PermissionSet", ColBlobIdx),
	},
	token.ClassLayout: {
		col("PackingSize", ColU16),
		col("ClassSize", ColU32),
		simple("Parent", token.TypeDef),
	},
	token.FieldLayout: {
		col("Offset", ColU32),
		simple("Field", token.Field),
	},
	token.StandAloneSig: {col("Signature", ColBlobIdx)},
	token.EventMap: {
		simple("Parent", token.TypeDef),
		simple("EventList", token.Event),
	},
	token.EventPtr: {simple("Event", token.Event)},
	token.Event: {
		col("EventFlags", ColU16),
		col("Name", ColStringIdx),
		coded("EventType", token.TypeDefOrRef),
	},
	token.PropertyMap: {
		simple("Parent", token.TypeDef),
		simple("PropertyList", token.Property),
	},
	token.PropertyPtr: {simple("Property", token.Property)},
	token.Property: {
		col("Flags", ColU16),
		col("Name", ColStringIdx),
		col("Type", ColBlobIdx),
	},
	token.MethodSemantics: {
		col("Semantics", ColU16),
		simple("Method", token.Method),
		coded("Association", token.HasSemantics),
	},
	token.MethodImpl: {
		simple("Class", token.TypeDef),
		coded("MethodBody", token.MethodDefOrRef),
		coded("MethodDeclaration", token.MethodDefOrRef),
	},
	token.ModuleRef: {col("Name", ColStringIdx)},
	token.TypeSpec:  {col("Signature", ColBlobIdx)},
	token.ImplMap: {
		col("MappingFlags", ColU16),
		coded("MemberForwarded", token.MemberForwarded),
		col("ImportName", ColStringIdx),
		simple("ImportScope", token.ModuleRef),
	},
	token.FieldRVA: {
		col("Rva", ColU32),
		simple("Field", token.Field),
	},
	token.ENCLog: {
		col("Token", ColU32),
		col("FuncCode", ColU32),
	},
	token.ENCMap: {col("Token", ColU32)},
	token.Assembly: {
		col("HashAlgId", ColU32),
		col("MajorVersion", ColU16),
		col("MinorVersion", ColU16),
		col("BuildNumber", ColU16),
		col("RevisionNumber", ColU16),
		col("Flags", ColU32),
		col("PublicKey", ColBlobIdx),
		col("Name", ColStringIdx),
		col("Culture", ColStringIdx),
	},
	token.AssemblyProcessor: {col("Processor", ColU32)},
	token.AssemblyOS: {
		col("OSPlatformID", ColU32),
		col("OSMajorVersion", ColU32),
		col("OSMinorVersion", ColU32),
	},
	token.AssemblyRef: {
		col("MajorVersion", ColU16),
		col("MinorVersion", ColU16),
		col("BuildNumber", ColU16),
		col("RevisionNumber", ColU16),
		col("Flags", ColU32),
		col("PublicKeyOrToken", ColBlobIdx),
		col("Name", ColStringIdx),
		col("Culture", ColStringIdx),
		col("HashValue", ColBlobIdx),
	},
	token.AssemblyRefProcessor: {
		col("Processor", ColU32),
		simple("AssemblyRef", token.AssemblyRef),
	},
	token.AssemblyRefOS: {
		col("OSPlatformID", ColU32),
		col("OSMajorVersion", ColU32),
		col("OSMinorVersion", ColU32),
		simple("AssemblyRef", token.AssemblyRef),
	},
	token.File: {
		col("Flags", ColU32),
		col("Name", ColStringIdx),
		col("HashValue", ColBlobIdx),
	},
	token.ExportedType: {
		col("Flags", ColU32),
		col("TypeDefId", ColU32),
		col("TypeName", ColStringIdx),
		col("TypeNamespace", ColStringIdx),
		coded("Implementation", token.Implementation),
	},
	token.ManifestResource: {
		col("Offset", ColU32),
		col("Flags", ColU32),
		col("Name", ColStringIdx),
		coded("Implementation", token.Implementation),
	},
	token.NestedClass: {
		simple("NestedClass", token.TypeDef),
		simple("EnclosingClass", token.TypeDef),
	},
	token.GenericParam: {
		col("Number", ColU16),
		col("Flags", ColU16),
		coded("Owner", token.TypeOrMethodDef),
		col("Name", ColStringIdx),
	},
	token.MethodSpec: {
		coded("Method", token.MethodDefOrRef),
		col("Instantiation", ColBlobIdx),
	},
	token.GenericParamConstraint: {
		simple("Owner", token.GenericParam),
		coded("Constraint", token.TypeDefOrRef),
	},
}

// SortColumns lists, for each of the 15 tables spec.md §4.3 requires to be
// re-sorted after construction, the schema column indices to compare in
// priority order. Ties fall back to original insertion order (Row.Seq).
var SortColumns = map[token.TableID][]int{
	token.InterfaceImpl:          {0, 1},
	token.MemberRef:               {0},
	token.Constant:                {1},
	token.CustomAttribute:         {0},
	token.FieldMarshal:            {0},
	token.DeclSecurity:            {1},
	token.ClassLayout:             {2},
	token.FieldLayout:             {1},
	token.MethodSemantics:        {2},
	token.MethodImpl:              {0},
	token.ImplMap:                 {1},
	token.FieldRVA:                {1},
	token.NestedClass:             {0},
	token.GenericParam:            {2, 0},
	token.GenericParamConstraint:  {0},
}
