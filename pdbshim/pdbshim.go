// Package pdbshim is the one-way sequence-point sink spec.md §6 describes:
// the core engine exposes, per method, its token and the (offset, line,
// col) tuples a symbol writer would need, but reads nothing back from any
// PDB format. No PDB stream is parsed or emitted here (out of scope per
// spec.md §1's Non-goals) — this package only shapes the data the core
// hands outward.
package pdbshim

import "github.com/clrforge/clrmeta/token"

// SequencePoint maps one IL offset within a method body to a source
// location, the unit a symbol writer consumes.
type SequencePoint struct {
	ILOffset  uint32
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Collector receives sequence points per method as the load or build
// pipeline discovers them. A real symbol writer (e.g. one emitting
// Portable PDB) would implement this against its own stream buffers;
// clrmeta never calls back into it for anything.
type Collector interface {
	Collect(methodToken token.Token, points []SequencePoint)
}

// DiscardCollector is a Collector that drops everything it's given, used
// wherever a caller has no symbol writer wired up.
type DiscardCollector struct{}

// Collect implements Collector by doing nothing.
func (DiscardCollector) Collect(token.Token, []SequencePoint) {}
