// Package token implements the metadata token and 13 coded-index encodings
// of spec.md §4.4, bit-exact with ECMA-335 §II.24.2.6.
package token

import "github.com/clrforge/clrmeta/mderr"

// TableID identifies one of the 45 metadata tables by its ECMA-335 id.
type TableID byte

const (
	Module                 TableID = 0x00
	TypeRef                TableID = 0x01
	TypeDef                TableID = 0x02
	FieldPtr               TableID = 0x03
	Field                   TableID = 0x04
	MethodPtr               TableID = 0x05
	Method                  TableID = 0x06
	ParamPtr                TableID = 0x07
	Param                   TableID = 0x08
	InterfaceImpl           TableID = 0x09
	MemberRef               TableID = 0x0A
	Constant                TableID = 0x0B
	CustomAttribute         TableID = 0x0C
	FieldMarshal            TableID = 0x0D
	DeclSecurity            TableID = 0x0E
	ClassLayout             TableID = 0x0F
	FieldLayout             TableID = 0x10
	StandAloneSig           TableID = 0x11
	EventMap                TableID = 0x12
	EventPtr                TableID = 0x13
	Event                   TableID = 0x14
	PropertyMap             TableID = 0x15
	PropertyPtr             TableID = 0x16
	Property                TableID = 0x17
	MethodSemantics         TableID = 0x18
	MethodImpl              TableID = 0x19
	ModuleRef               TableID = 0x1A
	TypeSpec                TableID = 0x1B
	ImplMap                 TableID = 0x1C
	FieldRVA                TableID = 0x1D
	ENCLog                  TableID = 0x1E
	ENCMap                  TableID = 0x1F
	Assembly                TableID = 0x20
	AssemblyProcessor       TableID = 0x21
	AssemblyOS              TableID = 0x22
	AssemblyRef             TableID = 0x23
	AssemblyRefProcessor    TableID = 0x24
	AssemblyRefOS           TableID = 0x25
	File                    TableID = 0x26
	ExportedType            TableID = 0x27
	ManifestResource        TableID = 0x28
	NestedClass             TableID = 0x29
	GenericParam            TableID = 0x2A
	MethodSpec              TableID = 0x2B
	GenericParamConstraint  TableID = 0x2C

	// UserString is not a table; it is the IL token table tag for a #US
	// heap offset (spec.md §6).
	UserString TableID = 0x70
)

// NumTables is the count of real (0x00-0x2C) metadata tables.
const NumTables = 0x2D

// Token is a 32-bit (table-tag, row-number) reference as embedded in IL or
// custom-attribute blobs (spec.md §6). Row 0 means null.
type Token uint32

// NewToken builds a token from a table id and 1-based row number.
func NewToken(table TableID, row uint32) Token {
	return Token(uint32(table)<<24 | (row & 0x00FFFFFF))
}

// Table returns the token's table tag.
func (t Token) Table() TableID { return TableID(t >> 24) }

// Row returns the token's 1-based row number, or 0 if null.
func (t Token) Row() uint32 { return uint32(t) & 0x00FFFFFF }

// IsNull reports whether the token's row number is 0.
func (t Token) IsNull() bool { return t.Row() == 0 }

// CodedIndexSpace names one of the 13 coded-index schemas of spec.md §4.4.
type CodedIndexSpace int

const (
	TypeDefOrRef CodedIndexSpace = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef
)

// unusedCodedIndexTag marks a coded-index tag ECMA-335 reserves but assigns
// no table to (CustomAttributeType's tags 0, 1, and 4). It can never equal a
// real TableID (those top out at GenericParamConstraint, 0x2C), so Encode's
// table lookup never matches it and Decode treats it like any other
// out-of-range tag.
const unusedCodedIndexTag TableID = 0xFF

// codedIndexTables is the ordered target-table list for each schema; the
// index within this slice is the tag written into the coded index's low
// bits (ECMA-335 §II.24.2.6).
var codedIndexTables = map[CodedIndexSpace][]TableID{
	TypeDefOrRef:         {TypeDef, TypeRef, TypeSpec},
	HasConstant:          {Field, Param, Property},
	HasCustomAttribute: {
		Method, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef,
		Module, DeclSecurity, Property, Event, StandAloneSig, ModuleRef,
		TypeSpec, Assembly, AssemblyRef, File, ExportedType, ManifestResource,
		GenericParam, GenericParamConstraint, MethodSpec,
	},
	HasFieldMarshal:      {Field, Param},
	HasDeclSecurity:      {TypeDef, Method, Assembly},
	MemberRefParent:      {TypeDef, TypeRef, ModuleRef, Method, TypeSpec},
	HasSemantics:         {Event, Property},
	MethodDefOrRef:       {Method, MemberRef},
	MemberForwarded:      {Field, Method},
	Implementation:       {File, AssemblyRef, ExportedType},
	CustomAttributeType: {
		unusedCodedIndexTag, unusedCodedIndexTag, Method, MemberRef, unusedCodedIndexTag,
	},
	ResolutionScope:      {Module, ModuleRef, AssemblyRef, TypeRef},
	TypeOrMethodDef:      {TypeDef, Method},
}

// tagBits returns k = ceil(log2(|S|)), the number of low bits used for the
// table tag (spec.md §4.4).
func tagBits(space CodedIndexSpace) uint {
	n := len(codedIndexTables[space])
	k := uint(0)
	for (1 << k) < n {
		k++
	}
	if k == 0 {
		k = 1
	}
	return k
}

// Encode packs a (table, row) pair into a coded index value for the given
// schema. Row 0 (null) maps to tag 0 regardless of table.
func Encode(space CodedIndexSpace, table TableID, row uint32) (uint32, error) {
	if row == 0 {
		return 0, nil
	}
	tables := codedIndexTables[space]
	tag := -1
	for i, tid := range tables {
		if tid == table {
			tag = i
			break
		}
	}
	if tag < 0 {
		return 0, mderr.New(mderr.PhaseToken, mderr.KindMalformedImage).
			Detail("table %#x is not a legal target of coded-index space %v", table, space).Build()
	}
	k := tagBits(space)
	return (row << k) | uint32(tag), nil
}

// Decode unpacks a coded index value into its (table, row) pair.
func Decode(space CodedIndexSpace, value uint32) (TableID, uint32, error) {
	if value == 0 {
		return 0, 0, nil
	}
	k := tagBits(space)
	mask := uint32(1)<<k - 1
	tag := value & mask
	row := value >> k
	tables := codedIndexTables[space]
	if int(tag) >= len(tables) {
		return 0, 0, mderr.New(mderr.PhaseToken, mderr.KindIndexOutOfRange).
			Detail("coded-index tag %d out of range for space %v (max %d)", tag, space, len(tables)-1).Build()
	}
	if tables[tag] == unusedCodedIndexTag {
		return 0, 0, mderr.New(mderr.PhaseToken, mderr.KindMalformedImage).
			Detail("coded-index tag %d is reserved for space %v", tag, space).Build()
	}
	return tables[tag], row, nil
}

// Width returns the on-disk byte width (2 or 4) of a coded index given the
// largest row count among its target tables (spec.md §3).
func Width(space CodedIndexSpace, rowCounts map[TableID]uint32) int {
	k := tagBits(space)
	threshold := uint32(1) << (16 - k)
	for _, tid := range codedIndexTables[space] {
		if rowCounts[tid] >= threshold {
			return 4
		}
	}
	return 2
}

// Tables returns the ordered target-table list for a coded-index space, for
// callers (mdtable) that need to enumerate legal targets.
func Tables(space CodedIndexSpace) []TableID {
	return codedIndexTables[space]
}
