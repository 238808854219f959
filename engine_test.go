package devalang

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constSample builds a mono buffer holding a constant value.
func constSample(value float32, frames, rate int) SampleData {
	pcm := make([]float32, frames)
	for i := range pcm {
		pcm[i] = value
	}
	return SampleData{SampleRate: rate, Channels: 1, PCM: pcm}
}

func renderSrc(t *testing.T, src string, opts RenderOptions) *RenderResult {
	t.Helper()
	res, err := BuildAudio(src, opts)
	require.NoError(t, err)
	return res
}

func rms(pcm []float32, from, to int) float64 {
	if to > len(pcm) {
		to = len(pcm)
	}
	var acc float64
	for i := from; i < to; i++ {
		acc += float64(pcm[i]) * float64(pcm[i])
	}
	n := to - from
	if n == 0 {
		return 0
	}
	return math.Sqrt(acc / float64(n))
}

func TestEngine_SleepOnlyBufferLength(t *testing.T) {
	res := renderSrc(t, "bpm 120\nsleep 1/4\n", RenderOptions{})
	// 0.125 s at 44100 Hz stereo.
	frames := len(res.PCM) / res.Channels
	assert.GreaterOrEqual(t, frames, 5512)
	assert.LessOrEqual(t, frames, 5514)
	for _, s := range res.PCM {
		assert.Zero(t, s)
	}
}

func TestEngine_SineNoteHasEnergy(t *testing.T) {
	src := "bpm 120\nlet s = synth sine\ns -> note(A4, { duration: 1000 })\n"
	res := renderSrc(t, src, RenderOptions{})
	require.Equal(t, 2, res.Channels)
	// First second (interleaved stereo = 2*44100 values).
	assert.Greater(t, rms(res.PCM, 0, 2*44100), 0.01)
}

func TestEngine_NoteStartsAtTempoDerivedOffset(t *testing.T) {
	// A note starting at beat 1 under bpm 100 begins at 0.6 s.
	src := "bpm 100\nlet s = synth sine\nsleep 1/1\ns -> note(A4, { duration: 200, attack: 0 })\n"
	res := renderSrc(t, src, RenderOptions{})
	offset := int(math.Round(1.0 * 60.0 / 100.0 * 44100.0))
	// Silence before the note.
	assert.InDelta(t, 0, rms(res.PCM, 0, (offset-10)*2), 1e-6)
	// Energy right after the start.
	assert.Greater(t, rms(res.PCM, offset*2, (offset+2000)*2), 0.01)
}

func TestEngine_GlobalVolumeAutomationRamp(t *testing.T) {
	src := `bpm 120
let s = synth saw
automate s mode global:
  param volume { 0%: 0.0, 100%: 1.0 }
s -> note(C4, { duration: 2000, attack: 0, decay: 0, sustain: 1, release: 0 })
`
	res := renderSrc(t, src, RenderOptions{})
	sr := res.SampleRate
	frames := len(res.PCM) / 2
	require.GreaterOrEqual(t, frames, int(1.9*float64(sr)))

	peakSum := func(fromFrame, toFrame int) float64 {
		peak := 0.0
		for i := fromFrame; i < toFrame && i < frames; i++ {
			v := math.Abs(float64(res.PCM[2*i])) + math.Abs(float64(res.PCM[2*i+1]))
			if v > peak {
				peak = v
			}
		}
		return peak
	}
	first10ms := peakSum(0, sr/100)
	last10ms := peakSum(frames-sr/100, frames)
	assert.Less(t, first10ms, 0.05)
	assert.Greater(t, last10ms, 0.9)
}

func TestEngine_TiedSamplesSumInMix(t *testing.T) {
	provider := NewMemoryProvider()
	provider.Register("devalang://bank/x.y/kick.wav", constSample(0.25, 2000, 44100))
	provider.Register("devalang://bank/x.y/snare.wav", constSample(0.25, 2000, 44100))

	src := "bpm 120\nbank x.y as k\nspawn: .k.kick 1/4\nspawn: .k.snare 1/4\n"
	res := renderSrc(t, src, RenderOptions{Provider: provider})
	// Past the 1 ms anti-click fade both samples contribute fully: the mix
	// is the sum of both constants.
	frame := 200
	assert.InDelta(t, 0.5, float64(res.PCM[2*frame]), 1e-3)
	assert.InDelta(t, 0.5, float64(res.PCM[2*frame+1]), 1e-3)
}

func TestEngine_MissingSampleEmitsSilenceAndWarning(t *testing.T) {
	src := "bpm 120\nbank x.y as k\n.k.kick 1/4\n"
	res := renderSrc(t, src, RenderOptions{Provider: NewMemoryProvider()})
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0].Message, "missing sample")
	for _, s := range res.PCM {
		assert.Zero(t, s)
	}
}

func TestEngine_UnknownEffectSkippedWithWarning(t *testing.T) {
	provider := NewMemoryProvider()
	provider.Register("devalang://bank/x.y/kick.wav", constSample(0.25, 2000, 44100))
	src := "bpm 120\nbank x.y as k\n.k.kick 1/4 { sparkle: 0.4 }\n"
	res := renderSrc(t, src, RenderOptions{Provider: provider})
	found := false
	for _, w := range res.Warnings {
		if containsStr(w.Message, "sparkle") {
			found = true
		}
	}
	assert.True(t, found, "expected an unknown-effect warning, got %v", res.Warnings)
	// Audio still rendered.
	assert.Greater(t, rms(res.PCM, 400, 2000), 0.01)
}

func TestEngine_RenderIsDeterministic(t *testing.T) {
	src := `bpm 130
let s = synth saw
automate s mode global:
  param volume { 0%: 0.2, 100%: 1.0 }
s -> note(C4, { duration: 300 }) -> lpf(1200) -> reverb(0.4)
s -> chord(E4, G4, { duration: 300 })
`
	a := renderSrc(t, src, RenderOptions{Seed: 11})
	b := renderSrc(t, src, RenderOptions{Seed: 11})
	require.Equal(t, len(a.PCM), len(b.PCM))
	for i := range a.PCM {
		if a.PCM[i] != b.PCM[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a.PCM[i], b.PCM[i])
		}
	}
}

func TestEngine_PanLawConstantPower(t *testing.T) {
	l, r := panGains(0)
	assert.InDelta(t, math.Sqrt2/2, l, 1e-9)
	assert.InDelta(t, math.Sqrt2/2, r, 1e-9)
	l, r = panGains(-1)
	assert.InDelta(t, 1, l, 1e-9)
	assert.InDelta(t, 0, r, 1e-9)
	l, r = panGains(1)
	assert.InDelta(t, 0, l, 1e-9)
	assert.InDelta(t, 1, r, 1e-9)
}

func TestEngine_HardPanLeavesOtherChannelSilent(t *testing.T) {
	src := "bpm 120\nlet s = synth sine\ns -> note(A4, { duration: 200 }) -> pan(-1)\n"
	res := renderSrc(t, src, RenderOptions{})
	frames := len(res.PCM) / 2
	var left, right float64
	for i := 0; i < frames; i++ {
		left += math.Abs(float64(res.PCM[2*i]))
		right += math.Abs(float64(res.PCM[2*i+1]))
	}
	assert.Greater(t, left, 1.0)
	assert.InDelta(t, 0, right, 1e-6)
}

func TestEngine_MonoOutputDownmixes(t *testing.T) {
	src := "bpm 120\nlet s = synth sine\ns -> note(A4, { duration: 200 })\n"
	res := renderSrc(t, src, RenderOptions{Channels: 1})
	assert.Equal(t, 1, res.Channels)
	assert.Greater(t, rms(res.PCM, 0, len(res.PCM)), 0.01)
}

func TestEngine_SoftLimiterBoundsOutput(t *testing.T) {
	// Five unison saws at full velocity would exceed 1.0 without limiting.
	src := `bpm 120
let s = synth saw
spawn: s -> note(C3, { duration: 300, attack: 0, sustain: 1, release: 0 })
spawn: s -> note(C3, { duration: 300, attack: 0, sustain: 1, release: 0 })
spawn: s -> note(C3, { duration: 300, attack: 0, sustain: 1, release: 0 })
spawn: s -> note(C3, { duration: 300, attack: 0, sustain: 1, release: 0 })
spawn: s -> note(C3, { duration: 300, attack: 0, sustain: 1, release: 0 })
`
	res := renderSrc(t, src, RenderOptions{})
	for _, s := range res.PCM {
		assert.LessOrEqual(t, math.Abs(float64(s)), 1.0)
	}
}

func TestEngine_SampleSpeedChangesLength(t *testing.T) {
	provider := NewMemoryProvider()
	provider.Register("devalang://bank/x.y/kick.wav", constSample(0.5, 44100, 44100))

	// auto duration: the event consumes the sample's natural length.
	slow := renderSrc(t, "bpm 60\nbank x.y as k\n.k.kick auto { speed: 0.5 }\n",
		RenderOptions{Provider: provider})
	fast := renderSrc(t, "bpm 60\nbank x.y as k\n.k.kick auto { speed: 2 }\n",
		RenderOptions{Provider: provider})
	// Half speed doubles playback length; double speed halves it. Buffer
	// sizes track the scheduled (natural) length, which ignores speed, so
	// measure where energy stops instead.
	lastEnergy := func(res *RenderResult) int {
		frames := len(res.PCM) / 2
		for i := frames - 1; i >= 0; i-- {
			if math.Abs(float64(res.PCM[2*i])) > 1e-4 {
				return i
			}
		}
		return 0
	}
	assert.Greater(t, lastEnergy(slow), lastEnergy(fast))
}

func TestEngine_ControlChangeScalesLaterNotes(t *testing.T) {
	es := &EventStream{
		Tempo: []TempoChange{{Beat: 0, BPM: 120}},
		Events: []Event{
			{Start: 0, Dur: 1, Seq: 0, Payload: NoteOn{
				SynthRef: "s", Waveform: "sine", MidiNote: 69, Freq: 440,
				Velocity: 1, ADSR: ADSR{Sustain: 1},
			}},
			{Start: 1, Dur: 0, Seq: 1, Payload: ControlChange{Target: "s", Param: "volume", Value: 0}},
			{Start: 2, Dur: 1, Seq: 2, Payload: NoteOn{
				SynthRef: "s", Waveform: "sine", MidiNote: 69, Freq: 440,
				Velocity: 1, ADSR: ADSR{Sustain: 1},
			}},
		},
		EndBeat: 3,
	}
	res, err := Render(es, RenderOptions{})
	require.NoError(t, err)
	sr := res.SampleRate
	assert.Greater(t, rms(res.PCM, 0, sr/2), 0.01, "first note sounds")
	assert.InDelta(t, 0, rms(res.PCM, 2*sr+sr/10, 2*sr+sr/2), 1e-6, "second note muted by control change")
}
