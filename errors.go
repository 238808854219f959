// errors.go — user-facing error types and caret-snippet rendering.
//
// Every pipeline stage produces typed errors carrying 1-based line and
// 0-based column coordinates and, where a fix is obvious, a suggestion
// string. The primary entry point is WrapErrorWithSource, which recognizes
// the stage error types and formats them as readable snippets with a caret
// pointing at the offending column:
//
//	PARSE ERROR at 3:12: expected ':' after block header
//
//	   2 | group beat:
//	   3 |   loop 4
//	     |        ^
//	   4 |     .drums.kick 1/4
//
// The snippet includes up to one line of context before and after the error.
// Coordinates are clamped so out-of-range positions never crash rendering.
//
// Accumulation: lex/parse/resolution errors collect into []Diagnostic and
// surface as a list; evaluation and scheduling errors are fatal to the
// current render.
package devalang

import (
	"fmt"
	"strings"
)

// Diagnostic is the structured form of one reported problem. Line and Col are
// 1-based; Suggestion is empty when no fix is known.
type Diagnostic struct {
	Message    string `json:"message"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line"`
	Col        int    `json:"column"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (d Diagnostic) String() string {
	loc := fmt.Sprintf("%d:%d", d.Line, d.Col)
	if d.File != "" {
		loc = d.File + ":" + loc
	}
	if d.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s)", loc, d.Message, d.Suggestion)
	}
	return fmt.Sprintf("%s: %s", loc, d.Message)
}

// LexError is produced by the lexer (bad indentation, unterminated string,
// unknown character). Col is 0-based internally; rendering adds 1.
type LexError struct {
	Line int
	Col  int
	Msg  string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("LEXICAL ERROR at %d:%d: %s", e.Line, e.Col+1, e.Msg)
}

// ParseError is produced by the parser (unexpected token, missing ':' after a
// block header, malformed map/array).
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE ERROR at %d:%d: %s", e.Line, e.Col+1, e.Msg)
}

// ResolveError is produced by the module resolver (module not found, import
// cycle, unexported symbol, unresolved bank alias).
type ResolveError struct {
	Path string
	Line int
	Col  int
	Msg  string
}

func (e *ResolveError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("RESOLVE ERROR in %s at %d:%d: %s", e.Path, e.Line, e.Col+1, e.Msg)
	}
	return fmt.Sprintf("RESOLVE ERROR at %d:%d: %s", e.Line, e.Col+1, e.Msg)
}

// EvalError is produced by the evaluator (undefined identifier, type
// mismatch, division by zero, recursion depth exceeded). Fatal to the render.
type EvalError struct {
	Line       int
	Col        int
	Msg        string
	Suggestion string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("EVAL ERROR at %d:%d: %s", e.Line, e.Col+1, e.Msg)
}

// ScheduleError is produced by the scheduler (unknown trigger, unknown
// group/pattern in call/spawn, invalid duration). Fatal to the render.
type ScheduleError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("SCHEDULE ERROR at %d:%d: %s", e.Line, e.Col+1, e.Msg)
}

// Diag converts a stage error into its Diagnostic form. Unknown error types
// map to a position-less diagnostic at 1:1.
func Diag(err error, file string) Diagnostic {
	switch e := err.(type) {
	case *LexError:
		return Diagnostic{Message: e.Msg, File: file, Line: e.Line, Col: e.Col + 1}
	case *ParseError:
		return Diagnostic{Message: e.Msg, File: file, Line: e.Line, Col: e.Col + 1}
	case *ResolveError:
		f := e.Path
		if f == "" {
			f = file
		}
		return Diagnostic{Message: e.Msg, File: f, Line: e.Line, Col: e.Col + 1}
	case *EvalError:
		return Diagnostic{Message: e.Msg, File: file, Line: e.Line, Col: e.Col + 1, Suggestion: e.Suggestion}
	case *ScheduleError:
		return Diagnostic{Message: e.Msg, File: file, Line: e.Line, Col: e.Col + 1}
	default:
		return Diagnostic{Message: err.Error(), File: file, Line: 1, Col: 1}
	}
}

// WrapErrorWithSource returns an error whose message is a caret-annotated
// snippet of src. Stage errors are recognized and rendered; anything else is
// returned unchanged.
func WrapErrorWithSource(err error, src string) error {
	return WrapErrorWithName(err, "", src)
}

// WrapErrorWithName is WrapErrorWithSource with a display name (usually the
// file path) included in the header.
func WrapErrorWithName(err error, srcName string, src string) error {
	switch e := err.(type) {
	case *LexError:
		return fmt.Errorf("%s", snippet(src, "LEXICAL ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *ParseError:
		return fmt.Errorf("%s", snippet(src, "PARSE ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *ResolveError:
		return fmt.Errorf("%s", snippet(src, "RESOLVE ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *EvalError:
		return fmt.Errorf("%s", snippet(src, "EVAL ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *ScheduleError:
		return fmt.Errorf("%s", snippet(src, "SCHEDULE ERROR", srcName, e.Line, e.Col+1, e.Msg))
	default:
		return err
	}
}

// snippet builds a Python-like caret snippet with a header. It shows at most
// one previous and one next line. Coordinates are 1-based and clamped.
func snippet(src, header, name string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if line > len(lines) {
		line = len(lines)
	}
	lineTxt := lines[line-1]

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s in %s at %d:%d: %s\n\n", header, name, line, col, msg)
	} else {
		fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	}
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lineTxt)
	caretPad := col - 1
	if caretPad > len(lineTxt) {
		caretPad = len(lineTxt)
	}
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", caretPad))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
