package clrmeta

import (
	"github.com/clrforge/clrmeta/heap"
	"github.com/clrforge/clrmeta/mdlog"
	"github.com/clrforge/clrmeta/mdtable"
	"github.com/clrforge/clrmeta/pe"
	"github.com/clrforge/clrmeta/token"
)

// BuildContext is threaded through every Contributes.ContributeToMetadata
// call during the build pipeline's enumeration phase, replacing the
// "global writer passed implicitly" pattern with an explicit argument
// (spec.md §9's re-architecture hint).
type BuildContext struct {
	Tables  *mdtable.Set
	Heaps   *heap.Manager
	Options Options

	// rows tracks, per already-contributed entity pointer, the row number
	// it was assigned — not yet remapped by Set.Sort. Forward references
	// within one enumeration pass resolve through this map.
	rows map[any]uint32

	// memberRefs deduplicates MemberRef rows by structural (parent, name,
	// signature) key, per spec.md §4.7.
	memberRefs map[string]uint32
}

// NewBuildContext returns an empty context ready for the enumeration phase.
func NewBuildContext(opts Options) *BuildContext {
	if opts.Log == nil {
		opts.Log = mdlog.Nop()
	}
	return &BuildContext{
		Tables:     mdtable.NewSet(),
		Heaps:      heap.NewManager(),
		Options:    opts,
		rows:       make(map[any]uint32),
		memberRefs: make(map[string]uint32),
	}
}

// Contribute appends values as a new row of table and records entity's
// assigned row number for later lookups via RowOf.
func (ctx *BuildContext) Contribute(table token.TableID, entity any, values []uint32) uint32 {
	row := ctx.Tables.Table(table).Append(values)
	if entity != nil {
		ctx.rows[entity] = row
	}
	return row
}

// RowOf returns the row number previously assigned to entity by
// Contribute, or 0 (null) if entity is nil or was never contributed.
func (ctx *BuildContext) RowOf(entity any) uint32 {
	if entity == nil {
		return 0
	}
	return ctx.rows[entity]
}

// LoadContext is threaded through the load pipeline's materialisation and
// resolution steps (spec.md §4.9), mirroring BuildContext.
type LoadContext struct {
	Envelope *pe.Envelope
	Heaps    *heap.LoadManager
	Options  Options

	// rows holds every table's raw, unresolved rows, keyed by table-id,
	// as produced by the materialisation step (spec.md §4.9 step 2).
	rows map[token.TableID][]mdtable.Row

	// entities holds the allocated-but-not-yet-resolved object for each
	// (table, row number) pair the resolution step fixes up.
	typeDefs       map[uint32]*ClassDef
	typeRefs       map[uint32]*ClassRef
	fields         map[uint32]*FieldDef
	methods        map[uint32]*MethodDef
	params         map[uint32]*Param
	memberRefs     map[uint32]*MemberRef
	assemblyRefs   map[uint32]*AssemblyRef
	standAloneSigs map[uint32]*StandAloneSig
	genericParams  map[uint32]*GenericParam
	files          map[uint32]*File
	exportedTypes  map[uint32]*ExportedType
	properties     map[uint32]*Property
	events         map[uint32]*Event

	// everettModuleType holds the placeholder ClassDef synthesized the
	// first time a TypeRef's ResolutionScope resolves to Module under
	// Options.StrictEverettCompat (SPEC_FULL.md §9 Decision 1); nil
	// otherwise.
	everettModuleType *ClassDef
}

func newLoadContext(opts Options) *LoadContext {
	if opts.Log == nil {
		opts.Log = mdlog.Nop()
	}
	return &LoadContext{
		Options:        opts,
		typeDefs:       make(map[uint32]*ClassDef),
		typeRefs:       make(map[uint32]*ClassRef),
		fields:         make(map[uint32]*FieldDef),
		methods:        make(map[uint32]*MethodDef),
		params:         make(map[uint32]*Param),
		memberRefs:     make(map[uint32]*MemberRef),
		assemblyRefs:   make(map[uint32]*AssemblyRef),
		standAloneSigs: make(map[uint32]*StandAloneSig),
		genericParams:  make(map[uint32]*GenericParam),
		files:          make(map[uint32]*File),
		exportedTypes:  make(map[uint32]*ExportedType),
		properties:     make(map[uint32]*Property),
		events:         make(map[uint32]*Event),
	}
}

// row returns raw row number n (1-based) of table, or a zero Row if n is 0.
func (ctx *LoadContext) row(table token.TableID, n uint32) mdtable.Row {
	if n == 0 || int(n) > len(ctx.rows[table]) {
		return mdtable.Row{}
	}
	return ctx.rows[table][n-1]
}
