// synth.go — note math, oscillators, and the ADSR amplitude envelope.
//
// Frequency derives from MIDI note numbers (A4 = 440 Hz = note 69). Note
// names use scientific pitch: C4, F#3, Bb2. Oscillators are plain
// time-domain shapes; band-limiting is out of scope for the fixed synth
// catalogue.
package devalang

import (
	"fmt"
	"math"
	"strconv"
)

// MidiToFreq converts a MIDI note number to Hz (A4 = 440 Hz, note 69).
func MidiToFreq(note float64) float64 {
	return 440.0 * math.Pow(2, (note-69.0)/12.0)
}

var noteBase = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// NoteToMidi parses a scientific pitch name ("C4", "F#3", "Bb2") or a bare
// MIDI number string into a MIDI note.
func NoteToMidi(name string) (int, error) {
	if n, err := strconv.Atoi(name); err == nil {
		if n < 0 || n > 127 {
			return 0, fmt.Errorf("midi note %d out of range 0..127", n)
		}
		return n, nil
	}
	if name == "" {
		return 0, fmt.Errorf("empty note name")
	}
	b := name[0]
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	base, ok := noteBase[b]
	if !ok {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	rest := name[1:]
	offset := 0
	for len(rest) > 0 {
		switch rest[0] {
		case '#':
			offset++
			rest = rest[1:]
			continue
		case 'b', 'B':
			// A flat only when followed by the octave digits (Bb3), so the
			// note B itself still parses.
			if len(rest) > 1 {
				offset--
				rest = rest[1:]
				continue
			}
		}
		break
	}
	oct, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid note name %q (missing octave)", name)
	}
	midi := (oct+1)*12 + base + offset
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("note %q is out of the MIDI range", name)
	}
	return midi, nil
}

// OscillatorSample returns one waveform sample at the given phase in cycles
// (frequency*time for a steady pitch). Taking the phase rather than a time
// lets glide/vibrato callers integrate frequency themselves.
func OscillatorSample(waveform string, phase float64) float64 {
	switch waveform {
	case "sine":
		return math.Sin(2 * math.Pi * phase)
	case "square":
		if math.Sin(2*math.Pi*phase) >= 0 {
			return 1
		}
		return -1
	case "saw":
		return 2 * (phase - math.Floor(phase+0.5))
	case "triangle":
		frac := phase - math.Floor(phase)
		return 2*math.Abs(2*frac-1) - 1
	case "pulse":
		frac := phase - math.Floor(phase)
		if frac < 0.25 {
			return 1
		}
		return -1
	case "noise":
		// Deterministic white-ish noise keyed off the phase.
		return seedRandom(phase * 1000)
	default:
		return 0
	}
}

// ADSRAt evaluates the envelope at sample index i for a note occupying
// total samples, with the attack/decay/release segment lengths in samples.
// The sustain plateau is whatever remains. Zero-length segments are skipped
// without division by zero.
func ADSRAt(i, attack, decay, sustain, release int, level float64) float64 {
	attackEnd := attack
	decayEnd := attack + decay
	sustainEnd := attack + decay + sustain
	releaseEnd := sustainEnd + release

	switch {
	case i < attackEnd && attack > 0:
		return float64(i) / float64(attack)
	case i < decayEnd && decay > 0:
		u := float64(i-attackEnd) / float64(decay)
		return 1 - (1-level)*u
	case i < sustainEnd:
		return level
	case i < releaseEnd && release > 0:
		u := float64(i-sustainEnd) / float64(release)
		return level * math.Max(1-u, 0)
	default:
		return 0
	}
}

// SynthParams is the resolved instrument state an arrow-call chain starts
// from: the `synth` declaration's waveform plus any option overrides.
type SynthParams struct {
	Waveform string
	ADSR     ADSR
	Type     string // pluck, pad, arp, sub — pre-shapes the envelope
}

// DefaultSynthParams is a plain sine with the stock envelope.
func DefaultSynthParams() SynthParams {
	return SynthParams{Waveform: "sine", ADSR: DefaultADSR}
}

// SynthParamsFromValue decodes a `synth` map value.
func SynthParamsFromValue(v Value) (SynthParams, bool) {
	m, ok := v.AsMap()
	if !ok {
		return SynthParams{}, false
	}
	if _, isSynth := m.Get("__synth"); !isSynth {
		return SynthParams{}, false
	}
	p := DefaultSynthParams()
	if wf, found := m.Get("waveform"); found {
		if s, isStr := wf.AsStr(); isStr {
			p.Waveform = s
		}
	}
	num := func(key string, into *float64) {
		if v, found := m.Get(key); found {
			if n, isNum := v.AsNum(); isNum {
				*into = n
			}
		}
	}
	num("attack", &p.ADSR.AttackMs)
	num("decay", &p.ADSR.DecayMs)
	num("sustain", &p.ADSR.Sustain)
	num("release", &p.ADSR.ReleaseMs)
	if tv, found := m.Get("type"); found {
		if s, isStr := tv.AsStr(); isStr {
			p.Type = s
			applySynthType(&p)
		}
	}
	return p, true
}

// applySynthType pre-shapes the envelope/waveform for the named instrument
// family before arrow-call stages refine it.
func applySynthType(p *SynthParams) {
	switch p.Type {
	case "pluck":
		p.ADSR = ADSR{AttackMs: 2, DecayMs: 180, Sustain: 0, ReleaseMs: 80}
	case "pad":
		p.ADSR = ADSR{AttackMs: 400, DecayMs: 300, Sustain: 0.8, ReleaseMs: 600}
	case "arp":
		p.ADSR = ADSR{AttackMs: 5, DecayMs: 120, Sustain: 0.3, ReleaseMs: 60}
	case "sub":
		p.Waveform = "sine"
		p.ADSR = ADSR{AttackMs: 8, DecayMs: 150, Sustain: 0.9, ReleaseMs: 200}
	}
}
