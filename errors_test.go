package devalang

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors_CaretSnippet(t *testing.T) {
	src := "bpm 120\nlet x = (1 + 2\nsleep 1/4\n"
	err := WrapErrorWithName(&ParseError{Line: 2, Col: 8, Msg: "missing ')'"}, "song.deva", src)
	msg := err.Error()

	assert.Contains(t, msg, "PARSE ERROR in song.deva at 2:9: missing ')'")
	assert.Contains(t, msg, "   1 | bpm 120")
	assert.Contains(t, msg, "   2 | let x = (1 + 2")
	assert.Contains(t, msg, "   3 | sleep 1/4")
	// Caret sits under column 9.
	require.Contains(t, msg, "     | ")
	caretLine := ""
	for _, line := range strings.Split(msg, "\n") {
		if strings.Contains(line, "^") {
			caretLine = line
		}
	}
	require.NotEmpty(t, caretLine)
	assert.Equal(t, "     | "+strings.Repeat(" ", 8)+"^", caretLine)
}

func TestErrors_OutOfRangeCoordinatesClamp(t *testing.T) {
	err := WrapErrorWithSource(&LexError{Line: 99, Col: 500, Msg: "boom"}, "one line")
	assert.Contains(t, err.Error(), "boom")
}

func TestErrors_UnknownErrorsPassThrough(t *testing.T) {
	plain := assert.AnError
	assert.Equal(t, plain, WrapErrorWithSource(plain, "src"))
}

func TestErrors_DiagConversion(t *testing.T) {
	d := Diag(&EvalError{Line: 3, Col: 4, Msg: "undefined identifier \"x\"", Suggestion: "did you mean \"y\"?"}, "a.deva")
	assert.Equal(t, 3, d.Line)
	assert.Equal(t, 5, d.Col, "columns render 1-based")
	assert.Equal(t, "a.deva", d.File)
	assert.Contains(t, d.Suggestion, "y")
	assert.Contains(t, d.String(), "a.deva:3:5")
}

func TestErrors_PipelineHaltsBeforeScheduling(t *testing.T) {
	_, err := CompileSource("let = broken\n", RenderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation failed")
}
