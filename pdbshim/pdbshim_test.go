package pdbshim

import (
	"testing"

	"github.com/clrforge/clrmeta/token"
)

func TestDiscardCollectorAcceptsAnything(t *testing.T) {
	var c Collector = DiscardCollector{}
	c.Collect(token.NewToken(token.Method, 1), []SequencePoint{
		{ILOffset: 0, File: "a.cs", StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 5},
	})
}
