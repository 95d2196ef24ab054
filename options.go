package clrmeta

import (
	"github.com/xyproto/env/v2"

	"github.com/clrforge/clrmeta/mdlog"
)

// Options tunes loader/builder behaviour that spec.md §9 leaves as an
// explicit policy choice rather than a fixed rule.
type Options struct {
	// StrictEverettCompat reproduces the historical Everett ilasm glitch
	// (spec.md §9, Open Question 1): when true, a TypeRef whose
	// ResolutionScope unexpectedly decodes to a Module row is accepted by
	// synthesizing a ClassDef in the current module instead of failing the
	// load. Default false — treat it as MalformedImage (DESIGN.md
	// Decision 1).
	StrictEverettCompat bool

	// AllowUnknownOpcodes makes a method body with an unrecognised opcode
	// byte fail only that method's load rather than the whole image
	// (spec.md §7's InvalidOpcode row: "the rest of the image may still
	// load if caller opts in").
	AllowUnknownOpcodes bool

	// Log receives diagnostics from the build and load pipelines. Defaults
	// to a no-op logger so callers who don't care never pay for it.
	Log *mdlog.Logger
}

// DefaultOptions returns spec.md's default policy: strict on both points.
func DefaultOptions() Options {
	return Options{Log: mdlog.Nop()}
}

// OptionsFromEnv reads CLRMETA_STRICT_EVERETT, CLRMETA_ALLOW_UNKNOWN_OPCODES
// and CLRMETA_VERBOSE (the Log level), falling back to DefaultOptions for anything unset — the same
// environment-driven configuration style the pack's xyproto/env/v2
// dependency exists for.
func OptionsFromEnv() Options {
	return Options{
		StrictEverettCompat: env.Bool("CLRMETA_STRICT_EVERETT"),
		AllowUnknownOpcodes: env.Bool("CLRMETA_ALLOW_UNKNOWN_OPCODES"),
		Log:                 mdlog.New(env.Bool("CLRMETA_VERBOSE")),
	}
}
