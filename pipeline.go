// pipeline.go — the end-to-end source → artifact entry points.
//
// The flow is strictly unidirectional: source → tokens → AST → resolved
// program → event stream → (PCM | MIDI). Lex/parse/resolve diagnostics are
// accumulated and abort before scheduling; evaluation and scheduling errors
// abort the render with their span.
package devalang

import (
	"fmt"
	"io"
	"io/fs"
)

// CompileSource resolves a single in-memory script (no imports) and
// schedules it.
func CompileSource(src string, opts RenderOptions) (*EventStream, error) {
	prog, err := ResolveSource(src, ResolveOptions{})
	if err != nil {
		return nil, err
	}
	if !prog.OK() {
		return nil, diagErr(prog.Diags)
	}
	return Schedule(prog, opts)
}

// CompileFile resolves an entry file (with imports) from fsys and schedules
// it.
func CompileFile(entry string, fsys fs.FS, opts RenderOptions) (*EventStream, error) {
	prog, err := ResolveModule(entry, fsys, ResolveOptions{})
	if err != nil {
		return nil, err
	}
	if !prog.OK() {
		return nil, diagErr(prog.Diags)
	}
	return Schedule(prog, opts)
}

// BuildAudio compiles source and renders PCM.
func BuildAudio(src string, opts RenderOptions) (*RenderResult, error) {
	es, err := CompileSource(src, opts)
	if err != nil {
		return nil, err
	}
	return Render(es, opts)
}

// BuildWAV compiles source and streams a WAV file to w.
func BuildWAV(w io.Writer, src string, opts RenderOptions) (*RenderResult, error) {
	res, err := BuildAudio(src, opts)
	if err != nil {
		return nil, err
	}
	o := opts.withDefaults()
	o.Channels = res.Channels
	o.SampleRate = res.SampleRate
	if err := WriteWAV(w, res.PCM, o); err != nil {
		return nil, err
	}
	return res, nil
}

// BuildMIDI compiles source and streams an SMF to w.
func BuildMIDI(w io.Writer, src string, opts RenderOptions) (*EventStream, error) {
	es, err := CompileSource(src, opts)
	if err != nil {
		return nil, err
	}
	if err := WriteMIDI(w, es, opts); err != nil {
		return nil, err
	}
	return es, nil
}

// diagErr folds accumulated diagnostics into one error.
func diagErr(diags []Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	msg := diags[0].String()
	if len(diags) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(diags)-1)
	}
	return fmt.Errorf("compilation failed: %s", msg)
}
