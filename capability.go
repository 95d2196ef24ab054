package clrmeta

import "github.com/clrforge/clrmeta/bio"

// Contributes is implemented by every entity that owns a row in some
// metadata table: during the build pipeline's enumeration phase, it adds
// itself to the right table and interns whatever heap values its row
// needs (spec.md §4.8 step 1; the "Contributes" capability from spec.md
// §9's "one capability interface per phase" hint).
type Contributes interface {
	ContributeToMetadata(ctx *BuildContext) error
}

// Emits is the capability for entities with payload bytes that live outside
// any table row. No type in this module implements it: method-body IL and
// EH-clause bytes are written into the method-body blob by
// serialiseMethodBodies (build.go) through il.MethodBody.Serialise
// (spec.md §4.8 step 3).
type Emits interface {
	Emit(w *bio.Writer) error
}

// Resolves is implemented by entities materialised during the load
// pipeline's row-materialisation step, to turn their stored row numbers /
// coded indexes into direct references once every table is loaded
// (spec.md §4.9 step 4).
type Resolves interface {
	Resolve(ctx *LoadContext) error
}

// Writable is the build-path capability set spec.md §4.7 names directly:
// an entity that both contributes a table row and emits ancillary bytes.
// No type in this module implements the full Writable set; entities
// implement Contributes only.
type Writable interface {
	Contributes
	Emits
}

// Resolvable is spec.md §4.7's load-path capability set, a direct alias
// for Resolves kept under the spec's own name.
type Resolvable interface {
	Resolves
}
