// Command devalang builds .deva scripts into WAV and MIDI artifacts and
// offers a small REPL for trying statements interactively.
//
// Usage:
//
//	devalang build [entry]    render the project entry to the output dir
//	devalang repl             interactive prompt (:quit to exit)
//	devalang check [entry]    parse + resolve only, print diagnostics
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	devalang "github.com/devaloop-labs/devalang"
)

func main() {
	// Project-local .env may override output locations (DEVALANG_OUTPUT).
	_ = godotenv.Load()

	args := os.Args[1:]
	cmd := "build"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "build":
		err = runBuild(args)
	case "check":
		err = runCheck(args)
	case "repl":
		err = runRepl()
	default:
		err = fmt.Errorf("unknown command %q (expected build, check, or repl)", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func projectSetup(args []string) (devalang.Config, string, error) {
	cfg, err := devalang.LoadConfig(os.DirFS("."))
	if err != nil {
		return cfg, "", err
	}
	entry := cfg.Paths.Entry
	if len(args) > 0 {
		entry = args[0]
	}
	return cfg, entry, nil
}

func runBuild(args []string) error {
	cfg, entry, err := projectSetup(args)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(entry)
	if err != nil {
		return err
	}

	opts := cfg.RenderOptions()
	opts.Logger = devalang.NewSlogLogger()
	opts.Provider = devalang.NewFSProvider(os.DirFS("."))

	outDir := cfg.Paths.Output
	if env := os.Getenv("DEVALANG_OUTPUT"); env != "" {
		outDir = env
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))

	for _, format := range cfg.Audio.Format {
		switch format {
		case "wav":
			f, err := os.Create(filepath.Join(outDir, base+".wav"))
			if err != nil {
				return err
			}
			res, err := devalang.BuildWAV(f, string(src), opts)
			f.Close()
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			fmt.Printf("wrote %s (%.2fs, session %s)\n", f.Name(), res.Duration, res.Session)
		case "mid":
			f, err := os.Create(filepath.Join(outDir, base+".mid"))
			if err != nil {
				return err
			}
			_, err2 := devalang.BuildMIDI(f, string(src), opts)
			f.Close()
			if err2 != nil {
				return err2
			}
			fmt.Printf("wrote %s\n", f.Name())
		case "mp3":
			// MP3 goes through an external encoder; the core only emits PCM.
			fmt.Fprintln(os.Stderr, "mp3 output requires an external encoder; skipping")
		default:
			fmt.Fprintf(os.Stderr, "unknown audio format %q; skipping\n", format)
		}
	}
	return nil
}

func runCheck(args []string) error {
	_, entry, err := projectSetup(args)
	if err != nil {
		return err
	}
	prog, err := devalang.ResolveModule(entry, os.DirFS("."), devalang.ResolveOptions{})
	if err != nil {
		return err
	}
	if prog.OK() {
		fmt.Println("ok")
		return nil
	}
	for _, d := range prog.Diags {
		fmt.Fprintln(os.Stderr, d)
	}
	return fmt.Errorf("%d problem(s) found", len(prog.Diags))
}

func runRepl() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("devalang repl — enter statements, :quit to exit")
	var buf []string
	for {
		prompt := "> "
		if len(buf) > 0 {
			prompt = "… "
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			return nil // EOF or interrupt ends the session
		}
		switch strings.TrimSpace(input) {
		case ":quit", ":q":
			return nil
		case "":
			if len(buf) == 0 {
				continue
			}
			// A blank line closes a block and evaluates the pending script.
			src := strings.Join(buf, "\n")
			buf = buf[:0]
			evalSnippet(src)
			continue
		}
		line.AppendHistory(input)
		// Block headers keep accumulating until a blank line.
		if strings.HasSuffix(strings.TrimRight(input, " "), ":") || len(buf) > 0 {
			buf = append(buf, input)
			continue
		}
		evalSnippet(input)
	}
}

func evalSnippet(src string) {
	es, err := devalang.CompileSource(src, devalang.RenderOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, devalang.WrapErrorWithSource(err, src))
		return
	}
	fmt.Printf("%d event(s), %.3f beats, %.3fs\n", len(es.Events), es.TotalBeats(), es.TotalSeconds())
	for _, w := range es.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}
