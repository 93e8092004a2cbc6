package prune

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextKeepsShortInput(t *testing.T) {
	assert.Equal(t, "", Text("", Config{MaxBytes: 10}))
	assert.Equal(t, "hello", Text("hello", Config{MaxBytes: 10}))
}

func TestTextKeepsHeadAndTail(t *testing.T) {
	s := "BEGIN" + strings.Repeat("x", 1000) + "END"
	out := Text(s, Config{MaxBytes: 100})

	require.LessOrEqual(t, len(out), 100)
	assert.True(t, strings.HasPrefix(out, "BEGIN"))
	assert.True(t, strings.HasSuffix(out, "END"))
	assert.Contains(t, out, "[pruned] 1008 bytes omitted")
}

func TestTextCutsOnRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日本語", 200)
	out := Text(s, Config{MaxBytes: 64, Marker: "~"})

	require.LessOrEqual(t, len(out), 64)
	assert.True(t, utf8.ValidString(out))
}

func TestTextTinyBudget(t *testing.T) {
	out := Text(strings.Repeat("a", 50), Config{MaxBytes: 5})
	assert.LessOrEqual(t, len(out), 5)
}

func TestBytesUsesDefaultBudget(t *testing.T) {
	raw := []byte(strings.Repeat("z", DefaultMaxBytes*2))
	out := Bytes(raw, 0)
	assert.LessOrEqual(t, len(out), DefaultMaxBytes)
	assert.Contains(t, out, DefaultMarker)
}
