package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := NewToken(TypeDef, 5)
	require.Equal(t, TypeDef, tok.Table())
	require.EqualValues(t, 5, tok.Row())
	require.False(t, tok.IsNull())

	null := NewToken(Method, 0)
	require.True(t, null.IsNull())
}

func TestTokenTableTagLayout(t *testing.T) {
	tok := NewToken(MethodSpec, 1)
	require.EqualValues(t, 0x2B000001, tok)
}
