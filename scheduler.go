// scheduler.go — AST → time-stamped EventStream.
//
// The scheduler walks the resolved program maintaining a per-lane cursor in
// beats. Lanes are a logical abstraction, not OS threads: spawned lanes are
// queued and executed after their parent finishes, then all events merge by
// (start beat, discovery order). That ordering realizes the tie-break rules:
// within a lane textual order wins; between a parent and a child forked at
// the same beat, the parent's subsequent events come first.
//
// Tempo is piecewise-constant and global across lanes; `sleep` only advances
// the logical cursor and never blocks.
package devalang

import (
	"errors"
	"fmt"
	"strings"
)

// errStopLane signals that a lane hit the scheduling horizon. It is not a
// failure; the lane simply stops producing events.
var errStopLane = errors.New("scheduling horizon reached")

// errBreak unwinds a `break` out of the innermost loop.
var errBreak = errors.New("break")

// defaultNoteDurMs is the note length when an arrow call never sets one.
const defaultNoteDurMs = 500.0

// laneState is one logical execution thread.
type laneState struct {
	id        int
	cursor    float64 // beats
	scope     *Scope
	noteAutos []*Automation
}

type pendingLane struct {
	lane *laneState
	body []Statement
	// loop-pass lanes carry an end bound in beats (0 = none)
	endBeat float64
	repeat  bool
}

type eventHandler struct {
	name  string
	body  []Statement
	scope *Scope
}

// Scheduler converts evaluated statements into an EventStream.
type Scheduler struct {
	prog *Program
	opts RenderOptions

	es         *EventStream
	seq        int
	laneSeq    int
	capSeconds float64
	bpm        float64

	pending     []pendingLane
	handlers    map[string][]eventHandler
	globalAutos map[string][]*Automation
	autoCount   int
}

// Schedule runs the program and returns the sorted event stream.
func Schedule(prog *Program, opts RenderOptions) (*EventStream, error) {
	opts = opts.withDefaults()
	if !prog.OK() {
		return nil, fmt.Errorf("cannot schedule: program has %d unresolved diagnostics", len(prog.Diags))
	}
	s := &Scheduler{
		prog: prog,
		opts: opts,
		es: &EventStream{
			Seed:  opts.Seed,
			Tempo: []TempoChange{{Beat: 0, BPM: opts.BPM}},
		},
		bpm:         opts.BPM,
		capSeconds:  opts.TotalDurationSeconds,
		handlers:    map[string][]eventHandler{},
		globalAutos: map[string][]*Automation{},
	}
	if s.capSeconds <= 0 {
		s.capSeconds = DefaultScheduleCapSeconds
	}

	root := &laneState{id: 0, scope: NewScope()}
	s.laneSeq = 1

	// Plugin exports land under their alias as map values.
	for alias, exports := range prog.Plugins {
		root.scope.Define(alias, MapFrom(exports), true)
	}
	// @load aliases resolve to sample values.
	for alias, uri := range prog.Samples {
		root.scope.Define(alias, SampleVal(uri), true)
	}
	// Imported modules contribute their exported definitions before the
	// entry module runs; see bindImports.
	if err := s.bindImports(root); err != nil {
		return nil, err
	}

	if err := s.runLane(root, prog.Entry.Statements); err != nil && err != errStopLane {
		return nil, err
	}
	s.drainPending()

	s.es.Sort()
	return s.es, nil
}

// bindImports executes each imported module's definition statements in its
// own scope (dependencies first), wiring `@import`ed symbols between module
// scopes, and finally copies the entry's imports into the root scope.
// Imported modules define; only the entry module performs.
func (s *Scheduler) bindImports(root *laneState) error {
	scopes := map[*Module]*Scope{s.prog.Entry: root.scope}
	for _, mod := range s.prog.Order {
		sc, ok := scopes[mod]
		if !ok {
			sc = NewScope()
			scopes[mod] = sc
		}
		// Bind this module's imports from already-processed dependencies.
		for i := range mod.Statements {
			imp := &mod.Statements[i]
			if imp.Kind != StImport {
				continue
			}
			dep := mod.Imports[imp.Name]
			depScope, resolved := scopes[dep]
			if dep == nil || !resolved {
				return &ScheduleError{
					Line: imp.Line, Col: imp.Col,
					Msg: fmt.Sprintf("module %q was not resolved before its importer", imp.Name),
				}
			}
			for _, sym := range imp.Names {
				v, bound := depScope.Lookup(sym)
				if !bound {
					return &ScheduleError{
						Line: imp.Line, Col: imp.Col,
						Msg: fmt.Sprintf("imported symbol %q was never bound by %q", sym, imp.Name),
					}
				}
				sc.Define(sym, v, false)
			}
		}
		if mod == s.prog.Entry {
			continue // the entry's own statements run as the program body
		}
		modLane := &laneState{id: root.id, scope: sc}
		for i := range mod.Statements {
			st := &mod.Statements[i]
			switch st.Kind {
			case StLet, StAssign, StFunction, StGroup, StPattern, StAutomate, StOn:
				if err := s.runStatement(modLane, st); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// drainPending executes queued lanes FIFO; lanes may enqueue more lanes.
func (s *Scheduler) drainPending() {
	for len(s.pending) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]
		if p.repeat {
			s.runBoundedLoop(p)
			continue
		}
		if err := s.runLane(p.lane, p.body); err != nil && err != errStopLane {
			s.warnf(0, 0, "background lane failed: %v", err)
		}
	}
}

// runBoundedLoop repeats a loop-pass body until its end bound.
func (s *Scheduler) runBoundedLoop(p pendingLane) {
	for p.lane.cursor < p.endBeat {
		before := p.lane.cursor
		beforeEvents := len(s.es.Events)
		if err := s.runLane(p.lane, p.body); err != nil {
			if err != errStopLane {
				s.warnf(0, 0, "background loop failed: %v", err)
			}
			return
		}
		if p.lane.cursor == before && len(s.es.Events) == beforeEvents {
			return // no progress; avoid spinning forever
		}
	}
}

func (s *Scheduler) runLane(lane *laneState, body []Statement) error {
	for i := range body {
		if err := s.runStatement(lane, &body[i]); err != nil {
			return err
		}
	}
	if lane.cursor > s.es.EndBeat {
		s.es.EndBeat = lane.cursor
	}
	return nil
}

// evaluator builds an Evaluator positioned at the lane's current beat.
func (s *Scheduler) evaluator(lane *laneState) *Evaluator {
	return &Evaluator{Scope: lane.scope, Bpm: s.bpm, Beat: lane.cursor, Seed: s.opts.Seed}
}

func (s *Scheduler) eval(lane *laneState, e Expr) (Value, error) {
	return s.evaluator(lane).Eval(e)
}

func (s *Scheduler) schedErrf(st *Statement, format string, args ...interface{}) error {
	return &ScheduleError{Line: st.Line, Col: st.Col, Msg: fmt.Sprintf(format, args...)}
}

func (s *Scheduler) warnf(line, col int, format string, args ...interface{}) {
	d := Diagnostic{Message: fmt.Sprintf(format, args...), Line: line, Col: col + 1}
	s.es.Warnings = append(s.es.Warnings, d)
	s.opts.Logger.Log(Entry{Level: LevelWarn, Message: d.Message, Line: line, Col: col + 1})
}

// pastHorizon reports whether a lane's cursor is beyond the scheduling cap.
func (s *Scheduler) pastHorizon(beat float64) bool {
	return s.es.SecondsAt(beat) >= s.capSeconds
}

// emit appends an event with the next discovery sequence number.
func (s *Scheduler) emit(lane *laneState, start, dur float64, payload EventPayload) {
	s.es.Events = append(s.es.Events, Event{
		Start:   start,
		Dur:     dur,
		Lane:    lane.id,
		Seq:     s.seq,
		Payload: payload,
	})
	s.seq++
}

func (s *Scheduler) runStatement(lane *laneState, st *Statement) error {
	if s.pastHorizon(lane.cursor) {
		return errStopLane
	}
	switch st.Kind {
	case StTempo:
		return s.runTempo(lane, st)
	case StBank, StLoad, StUse, StImport, StExport:
		return nil // handled during resolution
	case StLet:
		v, err := s.eval(lane, st.Expr)
		if err != nil {
			return err
		}
		lane.scope.Define(st.Name, v, st.Decl == DeclConst)
		return nil
	case StAssign:
		v, err := s.eval(lane, st.Expr)
		if err != nil {
			return err
		}
		ok, constErr := lane.scope.Assign(st.Name, v)
		if constErr {
			return s.schedErrf(st, "cannot rebind const %q", st.Name)
		}
		if !ok {
			lane.scope.Define(st.Name, v, false)
		}
		return nil
	case StFunction:
		fn := &Function{Name: st.Name, Params: st.Params, Body: st.Body}
		lane.scope.Define(st.Name, FunVal(fn), false)
		fn.Closure = lane.scope.Snapshot()
		return nil
	case StGroup:
		lane.scope.Define(st.Name, BlockVal(st.Body), false)
		return nil
	case StPattern:
		return s.runPatternDecl(lane, st)
	case StSleep:
		return s.runSleep(lane, st)
	case StTrigger:
		return s.runTrigger(lane, st)
	case StArrowCall:
		return s.runArrowCall(lane, st)
	case StCall:
		return s.runCall(lane, st)
	case StSpawn:
		return s.runSpawn(lane, st)
	case StLoop:
		return s.runLoop(lane, st)
	case StFor:
		return s.runFor(lane, st)
	case StIf:
		return s.runIf(lane, st)
	case StAutomate:
		return s.runAutomate(lane, st)
	case StOn:
		snap := lane.scope.Snapshot()
		s.handlers[st.Name] = append(s.handlers[st.Name], eventHandler{name: st.Name, body: st.Body, scope: snap})
		return nil
	case StEmit:
		return s.runEmit(lane, st)
	case StPrint:
		v, err := s.eval(lane, st.Expr)
		if err != nil {
			return err
		}
		s.opts.Logger.Log(Entry{Level: LevelInfo, Message: v.String(), Line: st.Line, Col: st.Col + 1})
		s.emit(lane, lane.cursor, 0, Marker{Label: v.String()})
		return nil
	case StBreak:
		return errBreak
	case StReturn:
		return nil // a bare return at lane level ends nothing
	case StParam:
		return s.schedErrf(st, "'param' is only valid inside an automate block")
	default:
		return s.schedErrf(st, "statement %v is not schedulable", st.Kind)
	}
}

func (s *Scheduler) runTempo(lane *laneState, st *Statement) error {
	v, err := s.eval(lane, st.Expr)
	if err != nil {
		return err
	}
	bpm, ok := v.AsNum()
	if !ok || bpm <= 0 {
		return s.schedErrf(st, "tempo must be a positive number, got %v", v)
	}
	s.bpm = bpm
	s.es.Tempo = append(s.es.Tempo, TempoChange{Beat: lane.cursor, BPM: bpm})
	return nil
}

func (s *Scheduler) runSleep(lane *laneState, st *Statement) error {
	v, err := s.eval(lane, st.Expr)
	if err != nil {
		return err
	}
	d, ok := v.AsDur()
	if !ok {
		return s.schedErrf(st, "sleep requires a duration, got %v", tagName(v.Tag))
	}
	if d.Kind == DurAuto {
		return s.schedErrf(st, "sleep cannot take 'auto'")
	}
	lane.cursor += d.Beats(s.bpm)
	if lane.cursor > s.es.EndBeat {
		s.es.EndBeat = lane.cursor
	}
	return nil
}

// resolveTriggerURI maps a trigger path (`alias.trig` or a loaded alias)
// onto a sample URI.
func (s *Scheduler) resolveTriggerURI(lane *laneState, target string) (string, bool) {
	parts := strings.SplitN(target, ".", 2)
	if len(parts) == 2 {
		if bank, ok := s.prog.Banks[parts[0]]; ok {
			return bank.TriggerURI(parts[1]), true
		}
	}
	if uri, ok := s.prog.Samples[target]; ok {
		return uri, true
	}
	if v, ok := lane.scope.Lookup(parts[0]); ok && v.Tag == VTSample {
		return v.Data.(string), true
	}
	return "", false
}

// naturalBeats asks the provider for a sample's natural length in beats at
// the current tempo. Unknown samples report zero.
func (s *Scheduler) naturalBeats(uri string) float64 {
	if s.opts.Provider == nil {
		return 0
	}
	sd, err := s.opts.Provider.Fetch(uri)
	if err != nil || sd.SampleRate <= 0 || sd.Channels <= 0 {
		return 0
	}
	secs := float64(len(sd.PCM)) / float64(sd.Channels) / float64(sd.SampleRate)
	return secs * s.bpm / 60.0
}

func (s *Scheduler) runTrigger(lane *laneState, st *Statement) error {
	uri, ok := s.resolveTriggerURI(lane, st.Target)
	if !ok {
		return s.schedErrf(st, "unknown trigger %q (no bank alias or loaded sample matches)", st.Target)
	}

	auto := false
	durBeats := 0.0
	if st.Dur == nil {
		auto = true
	} else {
		v, err := s.eval(lane, st.Dur)
		if err != nil {
			return err
		}
		d, isDur := v.AsDur()
		if !isDur {
			return s.schedErrf(st, "invalid trigger duration %v", v)
		}
		if d.Kind == DurAuto {
			auto = true
		} else {
			durBeats = d.Beats(s.bpm)
		}
	}
	if auto {
		durBeats = s.naturalBeats(uri)
	}

	var effects []EffectSpec
	if st.Effects != nil {
		v, err := s.eval(lane, st.Effects)
		if err != nil {
			return err
		}
		effects = s.parseEffects(v, st)
	}

	sp := SamplePlay{
		SampleRef: uri,
		Speed:     1,
		AutoLen:   auto,
		Effects:   effects,
		Autos:     s.autosFor(lane, st.Target),
	}
	applySampleEffectOverrides(&sp)
	s.emit(lane, lane.cursor, durBeats, sp)
	lane.cursor += durBeats
	if lane.cursor > s.es.EndBeat {
		s.es.EndBeat = lane.cursor
	}
	return nil
}

// applySampleEffectOverrides folds speed/reverse entries of the effect map
// into the payload's dedicated fields.
func applySampleEffectOverrides(sp *SamplePlay) {
	kept := sp.Effects[:0]
	for _, fx := range sp.Effects {
		switch fx.Kind {
		case "speed":
			sp.Speed = fx.Param("factor", fx.Param("value", 1))
		case "reverse":
			sp.Reverse = fx.Param("enabled", 1) != 0
		default:
			kept = append(kept, fx)
		}
	}
	sp.Effects = kept
}

// parseEffects converts an effect map value ({reverb: 0.3, lpf: {cutoff:
// 800}}) into the ordered effect chain. A bare number is shorthand for the
// effect's principal parameter.
func (s *Scheduler) parseEffects(v Value, st *Statement) []EffectSpec {
	m, ok := v.AsMap()
	if !ok {
		s.warnf(st.Line, st.Col, "effect list must be a map, got %v", tagName(v.Tag))
		return nil
	}
	var out []EffectSpec
	for _, k := range m.Keys {
		ev := m.Entries[k]
		spec := EffectSpec{Kind: k, Params: NewMapObject()}
		switch ev.Tag {
		case VTMap:
			spec.Params = ev.Data.(*MapObject)
		case VTNum:
			spec.Params.Set(principalParam(k), ev)
		case VTBool:
			spec.Params.Set("enabled", ev)
		default:
			s.warnf(st.Line, st.Col, "effect %q has unsupported parameter type %v", k, tagName(ev.Tag))
			continue
		}
		out = append(out, spec)
	}
	return out
}

// principalParam names the parameter a bare-number effect shorthand sets.
func principalParam(kind string) string {
	switch kind {
	case "reverb", "delay", "chorus", "dist", "bitcrush", "monoizer":
		return "mix"
	case "drive":
		return "amount"
	case "lpf", "hpf", "bpf":
		return "cutoff"
	case "tremolo", "vibrato", "flanger", "phaser", "gate":
		return "depth"
	case "stereo":
		return "width"
	case "speed":
		return "factor"
	case "gain", "volume":
		return "value"
	default:
		return "value"
	}
}

// autosFor collects global automations registered for a target plus any
// active note-mode automations.
func (s *Scheduler) autosFor(lane *laneState, target string) []*Automation {
	var out []*Automation
	out = append(out, s.globalAutos[target]...)
	for _, a := range lane.noteAutos {
		if a.Target == target || a.Target == "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *Scheduler) runCall(lane *laneState, st *Statement) error {
	v, ok := lane.scope.Lookup(st.Name)
	if !ok {
		return s.schedErrf(st, "unknown group or pattern %q in call", st.Name)
	}
	switch v.Tag {
	case VTBlock:
		return s.runLane(lane, v.Data.([]Statement))
	case VTMap:
		if m := v.Data.(*MapObject); isPatternValue(m) {
			return s.playPattern(lane, m, st, true)
		}
	case VTFun:
		fn := v.Data.(*Function)
		if len(st.Args) != len(fn.Params) {
			return s.schedErrf(st, "%s expects %d argument(s), got %d", fn.Name, len(fn.Params), len(st.Args))
		}
		sub := &laneState{id: lane.id, cursor: lane.cursor, scope: fn.Closure.Snapshot(), noteAutos: lane.noteAutos}
		sub.scope.Push()
		for i, p := range fn.Params {
			av, err := s.eval(lane, st.Args[i])
			if err != nil {
				return err
			}
			sub.scope.Define(p, av, false)
		}
		if err := s.runLane(sub, fn.Body); err != nil {
			return err
		}
		lane.cursor = sub.cursor
		return nil
	}
	return s.schedErrf(st, "%q is not callable (got %v)", st.Name, tagName(v.Tag))
}

func (s *Scheduler) runSpawn(lane *laneState, st *Statement) error {
	child := &laneState{
		id:     s.laneSeq,
		cursor: lane.cursor,
		scope:  lane.scope.Snapshot(),
	}
	s.laneSeq++

	if len(st.Body) > 0 { // `spawn:` inline block
		s.pending = append(s.pending, pendingLane{lane: child, body: st.Body})
		return nil
	}
	v, ok := lane.scope.Lookup(st.Name)
	if !ok {
		return s.schedErrf(st, "unknown group or pattern %q in spawn", st.Name)
	}
	switch v.Tag {
	case VTBlock:
		s.pending = append(s.pending, pendingLane{lane: child, body: v.Data.([]Statement)})
		return nil
	case VTMap:
		if m := v.Data.(*MapObject); isPatternValue(m) {
			return s.playPattern(child, m, st, false)
		}
	}
	return s.schedErrf(st, "%q is not spawnable (got %v)", st.Name, tagName(v.Tag))
}

func (s *Scheduler) runLoop(lane *laneState, st *Statement) error {
	// `loop pass(ms):` — a bounded background lane; the parent does not wait.
	if st.Pass != nil {
		v, err := s.eval(lane, st.Pass)
		if err != nil {
			return err
		}
		d, ok := v.AsDur()
		if !ok || d.Kind == DurAuto {
			return s.schedErrf(st, "loop pass requires a millisecond duration")
		}
		child := &laneState{id: s.laneSeq, cursor: lane.cursor, scope: lane.scope.Snapshot()}
		s.laneSeq++
		s.pending = append(s.pending, pendingLane{
			lane:    child,
			body:    st.Body,
			endBeat: lane.cursor + d.Beats(s.bpm),
			repeat:  true,
		})
		return nil
	}

	// Counted loop.
	if st.Expr != nil {
		v, err := s.eval(lane, st.Expr)
		if err != nil {
			return err
		}
		n, ok := v.AsNum()
		if !ok || n < 0 {
			return s.schedErrf(st, "loop count must be a non-negative number, got %v", v)
		}
		for k := 0; k < int(n); k++ {
			if err := s.runBlockOnce(lane, st.Body); err != nil {
				if err == errBreak {
					return nil
				}
				return err
			}
		}
		return nil
	}

	// `loop:` — unbounded; runs until the scheduling horizon.
	for {
		before := lane.cursor
		beforeEvents := len(s.es.Events)
		if err := s.runBlockOnce(lane, st.Body); err != nil {
			if err == errBreak {
				return nil
			}
			if err == errStopLane {
				return nil // the horizon bound is not an error
			}
			return err
		}
		if s.pastHorizon(lane.cursor) {
			return nil
		}
		if lane.cursor == before && len(s.es.Events) == beforeEvents {
			return nil // an empty body would never terminate
		}
	}
}

// runBlockOnce executes a loop body in a fresh child frame.
func (s *Scheduler) runBlockOnce(lane *laneState, body []Statement) error {
	lane.scope.Push()
	defer lane.scope.Pop()
	return s.runLane(lane, body)
}

func (s *Scheduler) runFor(lane *laneState, st *Statement) error {
	v, err := s.eval(lane, st.Expr)
	if err != nil {
		return err
	}
	items, ok := v.AsArray()
	if !ok {
		if str, isStr := v.AsStr(); isStr {
			items = make([]Value, 0, len(str))
			for _, c := range str {
				items = append(items, StrVal(string(c)))
			}
		} else {
			return s.schedErrf(st, "for requires an array or string, got %v", tagName(v.Tag))
		}
	}
	lane.scope.Push()
	defer lane.scope.Pop()
	for _, it := range items {
		lane.scope.Define(st.Var, it, false)
		if err := s.runLane(lane, st.Body); err != nil {
			if err == errBreak {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) runIf(lane *laneState, st *Statement) error {
	v, err := s.eval(lane, st.Expr)
	if err != nil {
		return err
	}
	if v.Truthy() {
		return s.runLane(lane, st.Body)
	}
	return s.runLane(lane, st.Else)
}

func (s *Scheduler) runEmit(lane *laneState, st *Statement) error {
	payload := NullValue
	if st.Expr != nil {
		v, err := s.eval(lane, st.Expr)
		if err != nil {
			return err
		}
		payload = v
	}
	hs := s.handlers[st.Name]
	if len(hs) == 0 {
		s.warnf(st.Line, st.Col, "emit %q has no registered handler", st.Name)
		return nil
	}
	for _, h := range hs {
		child := &laneState{id: s.laneSeq, cursor: lane.cursor, scope: h.scope.Snapshot()}
		s.laneSeq++
		child.scope.Push()
		child.scope.Define("payload", payload, false)
		s.pending = append(s.pending, pendingLane{lane: child, body: h.body})
	}
	return nil
}

// runAutomate registers the block's `param` curves for its target, then runs
// any nested statements. In note mode the automations apply only to events
// scheduled inside the block; in global mode they persist for every later
// event the target produces.
func (s *Scheduler) runAutomate(lane *laneState, st *Statement) error {
	mode := AutomationGlobal
	if st.Mode == "note" {
		mode = AutomationPerNote
	}
	var autos []*Automation
	var rest []Statement
	for i := range st.Body {
		sub := &st.Body[i]
		if sub.Kind != StParam {
			rest = append(rest, *sub)
			continue
		}
		v, err := s.eval(lane, sub.Expr)
		if err != nil {
			return err
		}
		points, ok := ParseKeypointMap(v)
		if !ok {
			return s.schedErrf(sub, "param %q requires a keypoint map like { 0%%: 0.0, 100%%: 1.0 }", sub.Name)
		}
		curve := CurveSpec{Kind: "linear"}
		if sub.Curve != nil {
			cv, err := s.eval(lane, sub.Curve)
			if err != nil {
				return err
			}
			if spec, isCurve := CurveFromValue(cv); isCurve {
				curve = spec
			} else {
				s.warnf(sub.Line, sub.Col, "param %q curve is not a $curve handle; using linear", sub.Name)
			}
		}
		curve.Seed = s.opts.Seed + float64(s.autoCount)
		s.autoCount++
		autos = append(autos, NewAutomation(st.Target, sub.Name, points, curve, mode))
	}

	if mode == AutomationGlobal {
		s.globalAutos[st.Target] = append(s.globalAutos[st.Target], autos...)
		return s.runLane(lane, rest)
	}

	lane.noteAutos = append(lane.noteAutos, autos...)
	err := s.runLane(lane, rest)
	lane.noteAutos = lane.noteAutos[:len(lane.noteAutos)-len(autos)]
	return err
}

// runPatternDecl binds a pattern value: a callable that plays its step
// string across one bar.
func (s *Scheduler) runPatternDecl(lane *laneState, st *Statement) error {
	v, err := s.eval(lane, st.Expr)
	if err != nil {
		return err
	}
	steps, ok := v.AsStr()
	if !ok {
		return s.schedErrf(st, "pattern %q requires a step string", st.Name)
	}
	m := NewMapObject()
	m.Set("__pattern", BoolVal(true))
	m.Set("target", StrVal(st.Target))
	m.Set("steps", StrVal(steps))
	if st.Options != nil {
		ov, err := s.eval(lane, st.Options)
		if err != nil {
			return err
		}
		m.Set("options", ov)
	}
	lane.scope.Define(st.Name, MapVal(m), false)
	return nil
}

func isPatternValue(m *MapObject) bool {
	_, ok := m.Get("__pattern")
	return ok
}

// playPattern emits one trigger per non-rest step, equally spaced across one
// bar. A hit's duration runs to the next hit (or the bar end). When advance
// is true (call), the caller's cursor moves to the end of the bar.
func (s *Scheduler) playPattern(lane *laneState, m *MapObject, st *Statement, advance bool) error {
	targetV, _ := m.Get("target")
	target, _ := targetV.AsStr()
	stepsV, _ := m.Get("steps")
	raw, _ := stepsV.AsStr()

	steps := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == ' ' || raw[i] == '\t' {
			continue // spaces are visual grouping only
		}
		steps = append(steps, raw[i])
	}
	if len(steps) == 0 {
		return nil
	}
	if target == "" {
		return s.schedErrf(st, "pattern has no bank trigger (declare it `pattern p with bank.trig = ...`)")
	}
	uri, ok := s.resolveTriggerURI(lane, target)
	if !ok {
		return s.schedErrf(st, "unknown trigger %q in pattern", target)
	}

	stepLen := BeatsPerBar / float64(len(steps))
	base := lane.cursor
	for i, c := range steps {
		if c != 'x' && c != 'X' {
			continue
		}
		start := base + float64(i)*stepLen
		// A hit lasts until the next hit or the end of the bar.
		end := base + BeatsPerBar
		for j := i + 1; j < len(steps); j++ {
			if steps[j] == 'x' || steps[j] == 'X' {
				end = base + float64(j)*stepLen
				break
			}
		}
		s.emit(lane, start, end-start, SamplePlay{
			SampleRef: uri,
			Speed:     1,
			Autos:     s.autosFor(lane, target),
		})
	}
	if advance {
		lane.cursor = base + BeatsPerBar
	}
	end := base + BeatsPerBar
	if end > s.es.EndBeat {
		s.es.EndBeat = end
	}
	return nil
}
