// resolver.go — module graph loading, bank/plugin resolution, symbol tables.
//
// Modules form a DAG rooted at the entry file; re-entering a module that is
// still being resolved is a cycle and fails with the full cycle path. Only
// names listed in `@export { ... }` are visible to importers; everything else
// is module-private.
//
// Banks and plugins live in process-wide read-mostly registries: embedders
// register them once (registration takes the write lock), resolution and
// scheduling only read.
package devalang

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Module is one resolved source file.
type Module struct {
	Path       string
	Statements []Statement
	Imports    map[string]*Module // import path (as written) → module
	Exports    map[string]bool
	Symbols    map[string]StatementKind // top-level definitions, for checking
	Errors     []Diagnostic
}

// Bank is a named collection of named sample triggers. Triggers map trigger
// names to sample URIs; sample PCM is lazy-loaded by the provider on first
// use.
type Bank struct {
	Fullname string // "publisher.name"
	Alias    string
	Triggers map[string]string
}

// TriggerURI resolves a trigger name to its sample URI. Unregistered
// triggers derive the conventional bank URI so the provider can still be
// consulted.
func (b *Bank) TriggerURI(trigger string) string {
	if b.Triggers != nil {
		if uri, ok := b.Triggers[trigger]; ok {
			return uri
		}
	}
	return fmt.Sprintf("devalang://bank/%s/%s.wav", b.Fullname, trigger)
}

// Program is the fully resolved compilation unit handed to the scheduler.
type Program struct {
	Entry   *Module
	Modules map[string]*Module
	Order   []*Module // dependency order, entry last
	Banks   map[string]*Bank  // by alias
	Samples map[string]string // @load alias → URI
	Plugins map[string]map[string]Value
	Diags   []Diagnostic
}

// OK reports whether resolution produced no fatal diagnostics.
func (p *Program) OK() bool { return len(p.Diags) == 0 }

// ResolveOptions parameterizes resolution.
type ResolveOptions struct {
	// Registry overrides the process-wide bank registry (tests use this).
	Registry *BankRegistry
	// PluginRegistry overrides the process-wide plugin registry.
	PluginRegistry *PluginRegistry
}

// BankRegistry is the process-wide bank table. Registration is rare relative
// to lookup, so a RWMutex fits.
type BankRegistry struct {
	mu    sync.RWMutex
	banks map[string]map[string]string // fullname → trigger → URI
}

// NewBankRegistry returns an empty registry.
func NewBankRegistry() *BankRegistry {
	return &BankRegistry{banks: map[string]map[string]string{}}
}

// Register installs or replaces a bank's trigger table.
func (r *BankRegistry) Register(fullname string, triggers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]string, len(triggers))
	for k, v := range triggers {
		cp[k] = v
	}
	r.banks[fullname] = cp
}

// Lookup returns the trigger table for a bank, if registered.
func (r *BankRegistry) Lookup(fullname string) (map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.banks[fullname]
	return t, ok
}

// DefaultBanks is the process-wide bank registry.
var DefaultBanks = NewBankRegistry()

// PluginRegistry is the process-wide `@use` plugin table: plugin fullname →
// exported symbol values.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]Value
}

// NewPluginRegistry returns an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: map[string]map[string]Value{}}
}

// Register installs a plugin's exported symbols.
func (r *PluginRegistry) Register(fullname string, exports map[string]Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]Value, len(exports))
	for k, v := range exports {
		cp[k] = v
	}
	r.plugins[fullname] = cp
}

// Lookup returns a plugin's exports, if registered.
func (r *PluginRegistry) Lookup(fullname string) (map[string]Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[fullname]
	return p, ok
}

// DefaultPlugins is the process-wide plugin registry.
var DefaultPlugins = NewPluginRegistry()

// resolver carries the in-flight resolution state.
type resolver struct {
	fsys      fs.FS
	opts      ResolveOptions
	modules   map[string]*Module
	resolving []string // stack for cycle detection
	prog      *Program
}

// ResolveModule loads the entry file and every transitive import, registers
// banks and @load aliases, and returns the resolved Program. The returned
// Program may carry diagnostics; callers must check OK() before scheduling.
func ResolveModule(entry string, fsys fs.FS, opts ResolveOptions) (*Program, error) {
	if opts.Registry == nil {
		opts.Registry = DefaultBanks
	}
	if opts.PluginRegistry == nil {
		opts.PluginRegistry = DefaultPlugins
	}
	r := &resolver{
		fsys:    fsys,
		opts:    opts,
		modules: map[string]*Module{},
		prog: &Program{
			Modules: map[string]*Module{},
			Banks:   map[string]*Bank{},
			Samples: map[string]string{},
			Plugins: map[string]map[string]Value{},
		},
	}
	mod, err := r.load(path.Clean(entry))
	if err != nil {
		return nil, err
	}
	r.prog.Entry = mod
	r.prog.Modules = r.modules
	return r.prog, nil
}

// ResolveSource resolves an in-memory source string with no imports on disk;
// used by embedders (and the REPL) that compile single snippets.
func ResolveSource(src string, opts ResolveOptions) (*Program, error) {
	if opts.Registry == nil {
		opts.Registry = DefaultBanks
	}
	if opts.PluginRegistry == nil {
		opts.PluginRegistry = DefaultPlugins
	}
	r := &resolver{
		opts:    opts,
		modules: map[string]*Module{},
		prog: &Program{
			Modules: map[string]*Module{},
			Banks:   map[string]*Bank{},
			Samples: map[string]string{},
			Plugins: map[string]map[string]Value{},
		},
	}
	mod := r.analyze("<main>", src)
	r.prog.Entry = mod
	r.prog.Modules = r.modules
	r.prog.Order = append(r.prog.Order, mod)
	return r.prog, nil
}

// load reads, parses, and analyzes one module file, resolving its imports
// first (post-order), with cycle detection.
func (r *resolver) load(p string) (*Module, error) {
	if m, ok := r.modules[p]; ok {
		return m, nil
	}
	for i, active := range r.resolving {
		if active == p {
			cycle := append(append([]string{}, r.resolving[i:]...), p)
			return nil, &ResolveError{
				Path: p,
				Msg:  "import cycle detected: " + strings.Join(cycle, " -> "),
			}
		}
	}
	if r.fsys == nil {
		return nil, &ResolveError{Path: p, Msg: "module not found (no filesystem provided)"}
	}
	data, err := fs.ReadFile(r.fsys, p)
	if err != nil {
		return nil, &ResolveError{Path: p, Msg: fmt.Sprintf("module not found: %s", p)}
	}
	r.resolving = append(r.resolving, p)
	defer func() { r.resolving = r.resolving[:len(r.resolving)-1] }()

	mod := r.analyze(p, string(data))
	r.modules[p] = mod
	r.prog.Order = append(r.prog.Order, mod)
	return mod, nil
}

// analyze parses a module and walks its top level for directives and
// definitions.
func (r *resolver) analyze(p, src string) *Module {
	res := Parse(src)
	mod := &Module{
		Path:       p,
		Statements: res.Statements,
		Imports:    map[string]*Module{},
		Exports:    map[string]bool{},
		Symbols:    map[string]StatementKind{},
	}
	for i := range res.Errors {
		res.Errors[i].File = p
		mod.Errors = append(mod.Errors, res.Errors[i])
	}
	r.prog.Diags = append(r.prog.Diags, mod.Errors...)

	for i := range mod.Statements {
		st := &mod.Statements[i]
		switch st.Kind {
		case StImport:
			target := r.resolvePath(p, st.Name)
			dep, err := r.load(target)
			if err != nil {
				r.addErr(mod, st, err)
				continue
			}
			mod.Imports[st.Name] = dep
			for _, sym := range st.Names {
				if !dep.Exports[sym] {
					r.addErr(mod, st, &ResolveError{
						Path: p, Line: st.Line, Col: st.Col,
						Msg: fmt.Sprintf("module %q does not export %q", st.Name, sym),
					})
				}
			}
		case StExport:
			for _, sym := range st.Names {
				mod.Exports[sym] = true
			}
		case StBank:
			alias := st.Alias
			if alias == "" {
				// `bank pub.name` without an alias binds the last path part.
				parts := strings.Split(st.Name, ".")
				alias = parts[len(parts)-1]
			}
			bank := &Bank{Fullname: st.Name, Alias: alias}
			if triggers, ok := r.opts.Registry.Lookup(st.Name); ok {
				bank.Triggers = triggers
			}
			r.prog.Banks[alias] = bank
		case StLoad:
			uri := st.Name
			if !strings.Contains(uri, "://") {
				dir := path.Dir(p)
				if p == "<main>" {
					dir = "."
				}
				uri = "file://" + path.Join(dir, uri)
			}
			r.prog.Samples[st.Alias] = uri
		case StUse:
			exports, ok := r.opts.PluginRegistry.Lookup(st.Name)
			if !ok {
				r.addErr(mod, st, &ResolveError{
					Path: p, Line: st.Line, Col: st.Col,
					Msg: fmt.Sprintf("plugin %q is not installed", st.Name),
				})
				continue
			}
			key := st.Alias
			if key == "" {
				key = st.Name
			}
			r.prog.Plugins[key] = exports
		case StLet, StFunction, StGroup, StPattern:
			mod.Symbols[st.Name] = st.Kind
		}
	}

	// Exported names must exist as top-level definitions.
	exported := make([]string, 0, len(mod.Exports))
	for sym := range mod.Exports {
		exported = append(exported, sym)
	}
	sort.Strings(exported)
	for _, sym := range exported {
		if _, ok := mod.Symbols[sym]; !ok {
			r.prog.Diags = append(r.prog.Diags, Diagnostic{
				Message: fmt.Sprintf("exported symbol %q is not defined in module", sym),
				File:    p, Line: 1, Col: 1,
			})
		}
	}
	return mod
}

func (r *resolver) addErr(mod *Module, st *Statement, err error) {
	d := Diag(err, mod.Path)
	if d.Line == 0 {
		d.Line, d.Col = st.Line, st.Col+1
	}
	mod.Errors = append(mod.Errors, d)
	r.prog.Diags = append(r.prog.Diags, d)
}

// resolvePath resolves an import path relative to the importing file.
func (r *resolver) resolvePath(from, target string) string {
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return path.Clean(path.Join(path.Dir(from), target))
	}
	return path.Clean(target)
}
