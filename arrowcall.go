// arrowcall.go — scheduling of `target -> method(args)` chains.
//
// The chain composes a single event (or one event per chord note). Each
// stage either constructs the note/chord or sets parameters on the event;
// stages evaluate left to right. Unknown stage methods are skipped with a
// warning, mirroring the unknown-effect policy of the renderer.
package devalang

import (
	"strings"
)

// noteDraft accumulates chain state before the event is emitted.
type noteDraft struct {
	params    SynthParams
	notes     []int // midi notes; one entry per chord voice
	durMs     float64
	velocity  float64
	pan       float64
	detune    float64
	glideMs   float64
	slideFrom float64
	slideTo   float64
	lfo       *LFO
	effects   []EffectSpec
	extraAuto []*Automation
}

func (s *Scheduler) runArrowCall(lane *laneState, st *Statement) error {
	tv, ok := lane.scope.Lookup(st.Target)
	if !ok {
		// Dotted targets resolve through maps (`kit.lead -> note(...)`).
		if v, found := s.lookupPath(lane, st.Target); found {
			tv = v
			ok = true
		}
	}
	if !ok {
		return s.schedErrf(st, "unknown symbol %q in arrow call", st.Target)
	}
	params, isSynth := SynthParamsFromValue(tv)
	if !isSynth {
		return s.schedErrf(st, "%q is not a synth (declare it with `let %s = synth <waveform>`)", st.Target, st.Target)
	}

	draft := &noteDraft{
		params:   params,
		durMs:    defaultNoteDurMs,
		velocity: 1,
	}

	for i := range st.Chain {
		stage := &st.Chain[i]
		if err := s.applyStage(lane, st, stage, draft); err != nil {
			return err
		}
	}
	if len(draft.notes) == 0 {
		return s.schedErrf(st, "arrow call on %q never constructed a note (add `-> note(...)`)", st.Target)
	}

	durBeats := DurSpec{Kind: DurMillis, Millis: draft.durMs}.Beats(s.bpm)
	autos := append(s.autosFor(lane, st.Target), draft.extraAuto...)
	for _, midi := range draft.notes {
		s.emit(lane, lane.cursor, durBeats, NoteOn{
			SynthRef:  st.Target,
			Waveform:  draft.params.Waveform,
			MidiNote:  midi,
			Freq:      MidiToFreq(float64(midi)),
			Velocity:  clampFloat(draft.velocity, 0, 1),
			ADSR:      draft.params.ADSR,
			Pan:       clampFloat(draft.pan, -1, 1),
			Detune:    draft.detune,
			GlideMs:   draft.glideMs,
			SlideFrom: draft.slideFrom,
			SlideTo:   draft.slideTo,
			LFO:       draft.lfo,
			Effects:   draft.effects,
			Autos:     autos,
		})
	}
	lane.cursor += durBeats
	if lane.cursor > s.es.EndBeat {
		s.es.EndBeat = lane.cursor
	}
	return nil
}

// lookupPath resolves a dotted symbol through nested maps.
func (s *Scheduler) lookupPath(lane *laneState, path string) (Value, bool) {
	parts := strings.Split(path, ".")
	v, ok := lane.scope.Lookup(parts[0])
	if !ok {
		return NullValue, false
	}
	for _, p := range parts[1:] {
		m, isMap := v.AsMap()
		if !isMap {
			return NullValue, false
		}
		v, ok = m.Get(p)
		if !ok {
			return NullValue, false
		}
	}
	return v, true
}

// evalStageArg evaluates a stage argument; bare identifiers that are not in
// scope stay symbolic so note names (A4, C3) never need quoting. The same
// fallback applies one level into map literals (`slide({from: C3})`).
func (s *Scheduler) evalStageArg(lane *laneState, e Expr) (Value, error) {
	switch x := e.(type) {
	case *IdentExpr:
		if _, bound := lane.scope.Lookup(x.Name); !bound && !strings.HasPrefix(x.Name, "$") {
			return IdentVal(x.Name), nil
		}
	case *MapLit:
		m := NewMapObject()
		for i, k := range x.MapKeys {
			v, err := s.evalStageArg(lane, x.Vals[i])
			if err != nil {
				return NullValue, err
			}
			m.Set(k, v)
		}
		return MapVal(m), nil
	}
	return s.eval(lane, e)
}

// applyStage interprets one `-> method(args)` link.
func (s *Scheduler) applyStage(lane *laneState, st *Statement, stage *ArrowStage, d *noteDraft) error {
	args := make([]Value, len(stage.Args))
	for i, a := range stage.Args {
		v, err := s.evalStageArg(lane, a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	num := func(i int, def float64) float64 {
		if i < len(args) {
			if n, ok := args[i].AsNum(); ok {
				return n
			}
		}
		return def
	}

	switch stage.Method {
	case "note":
		if len(args) == 0 {
			return s.schedErrf(st, "note() requires a note name")
		}
		midi, err := s.noteArg(st, args[0])
		if err != nil {
			return err
		}
		d.notes = []int{midi}
		if len(args) > 1 {
			s.applyNoteOptions(st, args[1], d)
		}
	case "chord":
		var opts Value
		d.notes = nil
		for _, a := range args {
			if a.Tag == VTMap {
				opts = a
				continue
			}
			midi, err := s.noteArg(st, a)
			if err != nil {
				return err
			}
			d.notes = append(d.notes, midi)
		}
		if len(d.notes) == 0 {
			return s.schedErrf(st, "chord() requires at least one note")
		}
		if opts.Tag == VTMap {
			s.applyNoteOptions(st, opts, d)
		}
	case "duration":
		if len(args) > 0 {
			if dur, ok := args[0].AsDur(); ok {
				switch dur.Kind {
				case DurMillis:
					d.durMs = dur.Millis
				case DurBeat:
					d.durMs = dur.Beats(s.bpm) * 60000.0 / s.bpm
				}
			}
		}
	case "velocity":
		v := num(0, 1)
		if v > 1 { // 0–127 MIDI-style velocities normalize to linear gain
			v /= 127
		}
		d.velocity = v
	case "pan":
		d.pan = num(0, 0)
	case "detune":
		d.detune = num(0, 0)
	case "gain":
		d.velocity *= num(0, 1)
	case "adsr":
		d.params.ADSR = ADSR{
			AttackMs:  num(0, d.params.ADSR.AttackMs),
			DecayMs:   num(1, d.params.ADSR.DecayMs),
			Sustain:   clampFloat(num(2, d.params.ADSR.Sustain), 0, 1),
			ReleaseMs: num(3, d.params.ADSR.ReleaseMs),
		}
	case "attack":
		d.params.ADSR.AttackMs = num(0, d.params.ADSR.AttackMs)
	case "decay":
		d.params.ADSR.DecayMs = num(0, d.params.ADSR.DecayMs)
	case "sustain":
		d.params.ADSR.Sustain = clampFloat(num(0, d.params.ADSR.Sustain), 0, 1)
	case "release":
		d.params.ADSR.ReleaseMs = num(0, d.params.ADSR.ReleaseMs)
	case "glide":
		d.glideMs = num(0, 0)
	case "slide":
		if len(args) > 0 {
			if m, ok := args[0].AsMap(); ok {
				if from, found := m.Get("from"); found {
					if midi, err := s.noteArg(st, from); err == nil {
						d.slideFrom = MidiToFreq(float64(midi))
					}
				}
				if to, found := m.Get("to"); found {
					if midi, err := s.noteArg(st, to); err == nil {
						d.slideTo = MidiToFreq(float64(midi))
					}
				}
			}
		}
	case "lfo":
		lfo := &LFO{Rate: 1, Depth: 0.5, Target: "pitch"}
		if len(args) > 0 {
			if m, ok := args[0].AsMap(); ok {
				if v, f := m.Get("rate"); f {
					if n, isNum := v.AsNum(); isNum {
						lfo.Rate = n
					}
				}
				if v, f := m.Get("depth"); f {
					if n, isNum := v.AsNum(); isNum {
						lfo.Depth = n
					}
				}
				if v, f := m.Get("target"); f {
					if sv, isStr := v.AsStr(); isStr {
						lfo.Target = sv
					}
				}
				if v, f := m.Get("shape"); f {
					if sv, isStr := v.AsStr(); isStr {
						lfo.Shape = ParseLFOShape(sv)
					}
				}
			}
		}
		d.lfo = lfo
	case "automate":
		if len(args) > 0 {
			if name, ok := args[0].AsStr(); ok {
				d.extraAuto = append(d.extraAuto, s.globalAutos[name]...)
			}
		}
	case "waveform":
		if len(args) > 0 {
			if wf, ok := args[0].AsStr(); ok {
				d.params.Waveform = wf
			}
		}
	default:
		if s.applyEffectStage(stage, args, d) {
			return nil
		}
		s.warnf(stage.Line, stage.Col, "unknown arrow-call method %q (skipped)", stage.Method)
	}
	return nil
}

// applyEffectStage appends a catalogue effect stage (`-> lpf(800)` or
// `-> reverb({size: 0.6})`) to the draft's chain.
func (s *Scheduler) applyEffectStage(stage *ArrowStage, args []Value, d *noteDraft) bool {
	if !isKnownEffect(stage.Method) {
		return false
	}
	spec := EffectSpec{Kind: stage.Method, Params: NewMapObject()}
	if len(args) > 0 {
		switch args[0].Tag {
		case VTMap:
			spec.Params = args[0].Data.(*MapObject)
		case VTNum:
			spec.Params.Set(principalParam(stage.Method), args[0])
			// lpf(cutoff, resonance) style second argument
			if len(args) > 1 {
				if n, ok := args[1].AsNum(); ok {
					spec.Params.Set("resonance", NumVal(n))
				}
			}
		case VTBool:
			spec.Params.Set("enabled", args[0])
		}
	}
	d.effects = append(d.effects, spec)
	return true
}

// applyNoteOptions folds a note/chord options map into the draft.
func (s *Scheduler) applyNoteOptions(st *Statement, v Value, d *noteDraft) {
	m, ok := v.AsMap()
	if !ok {
		return
	}
	for _, k := range m.Keys {
		val := m.Entries[k]
		switch k {
		case "duration":
			if dur, isDur := val.AsDur(); isDur && dur.Kind != DurAuto {
				if dur.Kind == DurMillis {
					d.durMs = dur.Millis
				} else {
					d.durMs = dur.Beats(s.bpm) * 60000.0 / s.bpm
				}
			}
		case "velocity":
			if n, isNum := val.AsNum(); isNum {
				if n > 1 {
					n /= 127
				}
				d.velocity = n
			}
		case "pan":
			if n, isNum := val.AsNum(); isNum {
				d.pan = n
			}
		case "detune":
			if n, isNum := val.AsNum(); isNum {
				d.detune = n
			}
		case "attack":
			if n, isNum := val.AsNum(); isNum {
				d.params.ADSR.AttackMs = n
			}
		case "decay":
			if n, isNum := val.AsNum(); isNum {
				d.params.ADSR.DecayMs = n
			}
		case "sustain":
			if n, isNum := val.AsNum(); isNum {
				d.params.ADSR.Sustain = clampFloat(n, 0, 1)
			}
		case "release":
			if n, isNum := val.AsNum(); isNum {
				d.params.ADSR.ReleaseMs = n
			}
		default:
			s.warnf(st.Line, st.Col, "unknown note option %q (skipped)", k)
		}
	}
}

// noteArg converts a note argument (identifier, string, or MIDI number) to a
// MIDI note.
func (s *Scheduler) noteArg(st *Statement, v Value) (int, error) {
	if n, ok := v.AsNum(); ok {
		if n < 0 || n > 127 {
			return 0, s.schedErrf(st, "midi note %g out of range 0..127", n)
		}
		return int(n), nil
	}
	if name, ok := v.AsStr(); ok {
		midi, err := NoteToMidi(name)
		if err != nil {
			return 0, s.schedErrf(st, "%v", err)
		}
		return midi, nil
	}
	return 0, s.schedErrf(st, "invalid note argument %v", tagName(v.Tag))
}

// isKnownEffect reports membership in the fixed effect/filter catalogue.
func isKnownEffect(kind string) bool {
	switch kind {
	case "reverb", "delay", "dist", "bitcrush", "lpf", "hpf", "bpf",
		"tremolo", "vibrato", "chorus", "drive", "monoizer", "stereo",
		"freeze", "gate", "flanger", "phaser", "compressor",
		"slice", "stretch", "roll":
		return true
	}
	return false
}
