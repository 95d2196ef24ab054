// Package mderr defines the structured error taxonomy used across the
// metadata engine: every failure carries the processing Phase it occurred in
// and a Kind drawn from a small fixed set, so callers can switch on
// (Phase, Kind) instead of parsing messages.
package mderr

import (
	"fmt"
	"strings"
)

// Phase identifies which part of the engine raised the error.
type Phase string

const (
	PhaseLoad  Phase = "load"  // stream parsing, row materialisation, resolution (C9)
	PhaseBuild Phase = "build" // enumeration, sizing, sort & emit (C8)
	PhaseSig   Phase = "sig"   // signature blob codec (C5)
	PhaseIL    Phase = "il"    // method body / opcode codec (C6)
	PhaseToken Phase = "token" // token / coded-index codec (C4)
	PhaseHeap  Phase = "heap"  // heap interning (C2)
	PhaseTable Phase = "table" // table row sizing/sorting (C3)
)

// Kind is the fixed error taxonomy from spec.md §7.
type Kind string

const (
	KindMalformedImage    Kind = "malformed_image"
	KindIndexOutOfRange   Kind = "index_out_of_range"
	KindSignatureError    Kind = "signature_error"
	KindInvalidOpcode     Kind = "invalid_opcode"
	KindDuplicateDescriptor Kind = "duplicate_descriptor"
	KindUnresolvedLabel   Kind = "unresolved_label"
	KindContractViolation Kind = "contract_violation"
)

// Error is the concrete error type returned by every package in this module.
type Error struct {
	Phase  Phase
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap lets errors.Is / errors.As reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on (Phase, Kind), ignoring Detail/Cause — mirrors the pack's
// wippyai-wasm-runtime/errors.Error.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder constructs an *Error field by field.
type Builder struct {
	err Error
}

// New starts building an error for the given phase/kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(format string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(format, args...)
	} else {
		b.err.Detail = format
	}
	return b
}

// Cause attaches an underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed *Error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Is reports whether err is an *Error with the given phase and kind.
func Is(err error, phase Phase, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Phase == phase && e.Kind == kind
}
