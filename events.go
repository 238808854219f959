// events.go — the EventStream contract between the scheduler and the
// renderers.
//
// The scheduler produces a totally ordered sequence of time-stamped events;
// the audio engine and the MIDI writer each consume it exactly once. Events
// are stamped in beats; beat→seconds conversion uses the piecewise-constant
// tempo map (the tempo in effect at the beat of the event's start — tempo
// changes never retroactively alter past events).
package devalang

import "sort"

// ADSR is an attack/decay/sustain/release envelope. Times are milliseconds,
// sustain is a level in [0,1].
type ADSR struct {
	AttackMs  float64
	DecayMs   float64
	Sustain   float64
	ReleaseMs float64
}

// DefaultADSR matches the stock synth envelope.
var DefaultADSR = ADSR{AttackMs: 10, DecayMs: 100, Sustain: 0.7, ReleaseMs: 200}

// EffectSpec is one entry of an ordered effect chain: a kind from the fixed
// catalogue plus its parameter map.
type EffectSpec struct {
	Kind   string
	Params *MapObject
}

// Param reads a numeric effect parameter with a default.
func (e EffectSpec) Param(name string, def float64) float64 {
	if e.Params == nil {
		return def
	}
	if v, ok := e.Params.Get(name); ok {
		if n, isNum := v.AsNum(); isNum {
			return n
		}
		if b, isBool := v.AsBool(); isBool {
			if b {
				return 1
			}
			return 0
		}
	}
	return def
}

// EventPayload is the closed set of event variants.
type EventPayload interface {
	payloadKind() string
}

// NoteOn is a synthesized note event.
type NoteOn struct {
	SynthRef  string // symbol the note was produced by (MIDI track key)
	Waveform  string
	MidiNote  int
	Freq      float64
	Velocity  float64 // linear gain in [0,1]
	ADSR      ADSR
	Pan       float64 // -1..1
	Detune    float64 // cents
	GlideMs   float64
	SlideFrom float64 // Hz; 0 = no slide
	SlideTo   float64
	LFO       *LFO
	Effects   []EffectSpec
	Autos     []*Automation
}

// SamplePlay is a sample trigger event.
type SamplePlay struct {
	SampleRef string // sample URI
	Speed     float64
	Reverse   bool
	AutoLen   bool // duration came from `auto`
	Effects   []EffectSpec
	Autos     []*Automation
}

// ControlChange mutates a target parameter from its start time onward.
type ControlChange struct {
	Target string
	Param  string
	Value  float64
}

// Marker is a labelled no-op used for debugging and tooling.
type Marker struct {
	Label string
}

func (NoteOn) payloadKind() string        { return "note" }
func (SamplePlay) payloadKind() string    { return "sample" }
func (ControlChange) payloadKind() string { return "control" }
func (Marker) payloadKind() string        { return "marker" }

// Event is one time-stamped entry of the stream.
type Event struct {
	Start   float64 // beats
	Dur     float64 // beats
	Lane    int
	Seq     int // global discovery order; the tie-break for equal starts
	Payload EventPayload
}

// TempoChange is one step of the piecewise-constant tempo map.
type TempoChange struct {
	Beat float64
	BPM  float64
}

// EventStream is the scheduler's output. Events are sorted by
// (Start, Seq); Tempo is sorted by Beat and always starts at beat 0.
type EventStream struct {
	Events   []Event
	Tempo    []TempoChange
	EndBeat  float64 // furthest lane cursor, including trailing sleeps
	Seed     float64
	Warnings []Diagnostic
}

// Sort establishes the event-order invariant:
// events[i].Start ≤ events[i+1].Start, ties broken by discovery order.
func (es *EventStream) Sort() {
	sort.SliceStable(es.Events, func(i, j int) bool {
		if es.Events[i].Start != es.Events[j].Start {
			return es.Events[i].Start < es.Events[j].Start
		}
		return es.Events[i].Seq < es.Events[j].Seq
	})
}

// BPMAt returns the tempo in effect at the given beat.
func (es *EventStream) BPMAt(beat float64) float64 {
	bpm := DefaultBPM
	for _, tc := range es.Tempo {
		if tc.Beat <= beat {
			bpm = tc.BPM
		} else {
			break
		}
	}
	return bpm
}

// SecondsAt integrates the tempo map from beat 0 to the given beat.
func (es *EventStream) SecondsAt(beat float64) float64 {
	if beat <= 0 {
		return 0
	}
	secs := 0.0
	prevBeat := 0.0
	prevBPM := DefaultBPM
	if len(es.Tempo) > 0 && es.Tempo[0].Beat <= 0 {
		prevBPM = es.Tempo[0].BPM
	}
	for _, tc := range es.Tempo {
		if tc.Beat <= 0 {
			prevBPM = tc.BPM
			continue
		}
		if tc.Beat >= beat {
			break
		}
		secs += (tc.Beat - prevBeat) * 60.0 / prevBPM
		prevBeat = tc.Beat
		prevBPM = tc.BPM
	}
	secs += (beat - prevBeat) * 60.0 / prevBPM
	return secs
}

// TotalBeats returns the stream's logical end: the later of the furthest
// event end and the furthest lane cursor.
func (es *EventStream) TotalBeats() float64 {
	end := es.EndBeat
	for _, e := range es.Events {
		if e.Start+e.Dur > end {
			end = e.Start + e.Dur
		}
	}
	return end
}

// TotalSeconds converts TotalBeats through the tempo map.
func (es *EventStream) TotalSeconds() float64 {
	return es.SecondsAt(es.TotalBeats())
}
