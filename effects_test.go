package devalang

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specOf(kind string, params map[string]float64) EffectSpec {
	m := NewMapObject()
	for k, v := range params {
		m.Set(k, NumVal(v))
	}
	return EffectSpec{Kind: kind, Params: m}
}

// runEffect processes a mono-as-stereo signal through one effect.
func runEffect(t *testing.T, spec EffectSpec, in []float32) []float32 {
	t.Helper()
	fx, ok := BuildEffect(spec, 44100, 120)
	require.True(t, ok, "effect %q must build", spec.Kind)
	out := make([]float32, len(in))
	for i := 0; i+1 < len(in); i += 2 {
		out[i], out[i+1] = fx.Process(in[i], in[i+1])
	}
	return out
}

func stereoSine(freq float64, frames, rate int) []float32 {
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		v := float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(rate)))
		out[2*i] = v
		out[2*i+1] = v
	}
	return out
}

func stereoRMS(pcm []float32) float64 {
	var acc float64
	for _, s := range pcm {
		acc += float64(s) * float64(s)
	}
	return math.Sqrt(acc / float64(len(pcm)))
}

func TestEffects_WholeCatalogueBuilds(t *testing.T) {
	kinds := []string{
		"reverb", "delay", "dist", "bitcrush", "lpf", "hpf", "bpf",
		"tremolo", "vibrato", "chorus", "drive", "monoizer", "stereo",
		"freeze", "gate", "flanger", "phaser", "compressor",
	}
	for _, kind := range kinds {
		_, ok := BuildEffect(EffectSpec{Kind: kind, Params: NewMapObject()}, 44100, 120)
		assert.True(t, ok, kind)
	}
	_, ok := BuildEffect(EffectSpec{Kind: "sparkle"}, 44100, 120)
	assert.False(t, ok)
}

func TestEffects_LowpassAttenuatesHighFrequencies(t *testing.T) {
	high := stereoSine(8000, 4410, 44100)
	low := stereoSine(100, 4410, 44100)
	spec := specOf("lpf", map[string]float64{"cutoff": 500})

	highOut := runEffect(t, spec, high)
	lowOut := runEffect(t, specOf("lpf", map[string]float64{"cutoff": 500}), low)

	assert.Less(t, stereoRMS(highOut), stereoRMS(high)*0.3, "8 kHz must drop through a 500 Hz lowpass")
	assert.Greater(t, stereoRMS(lowOut), stereoRMS(low)*0.7, "100 Hz must pass a 500 Hz lowpass")
}

func TestEffects_HighpassMirrorsLowpass(t *testing.T) {
	high := stereoSine(8000, 4410, 44100)
	low := stereoSine(100, 4410, 44100)

	highOut := runEffect(t, specOf("hpf", map[string]float64{"cutoff": 2000}), high)
	lowOut := runEffect(t, specOf("hpf", map[string]float64{"cutoff": 2000}), low)

	assert.Greater(t, stereoRMS(highOut), stereoRMS(high)*0.7)
	assert.Less(t, stereoRMS(lowOut), stereoRMS(low)*0.3)
}

func TestEffects_DelayAddsEcho(t *testing.T) {
	in := make([]float32, 44100*2)
	in[0], in[1] = 1, 1 // impulse
	out := runEffect(t, specOf("delay", map[string]float64{"time": 100, "feedback": 0, "mix": 1}), in)

	echoFrame := 4410 // 100 ms at 44.1 kHz
	assert.InDelta(t, 1.0, float64(out[2*echoFrame]), 0.01, "echo lands 100 ms later")
}

func TestEffects_TremoloModulatesAmplitude(t *testing.T) {
	in := make([]float32, 44100*2)
	for i := range in {
		in[i] = 1
	}
	out := runEffect(t, specOf("tremolo", map[string]float64{"rate": 5, "depth": 1}), in)
	min, max := 2.0, -2.0
	for i := 0; i < len(out); i += 2 {
		v := float64(out[i])
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	assert.InDelta(t, 0, min, 0.01)
	assert.InDelta(t, 1, max, 0.01)
}

func TestEffects_MonoizerCollapsesChannels(t *testing.T) {
	fx, ok := BuildEffect(specOf("monoizer", map[string]float64{"mix": 1}), 44100, 120)
	require.True(t, ok)
	l, r := fx.Process(1, -1)
	assert.Equal(t, l, r)
	assert.InDelta(t, 0, float64(l), 1e-6)
}

func TestEffects_StereoWidthZeroIsMono(t *testing.T) {
	fx, ok := BuildEffect(specOf("stereo", map[string]float64{"width": 0}), 44100, 120)
	require.True(t, ok)
	l, r := fx.Process(0.8, 0.2)
	assert.InDelta(t, float64(l), float64(r), 1e-6)
	assert.InDelta(t, 0.5, float64(l), 1e-6)
}

func TestEffects_DriveStaysBounded(t *testing.T) {
	in := stereoSine(440, 4410, 44100)
	for i := range in {
		in[i] *= 3
	}
	out := runEffect(t, specOf("drive", map[string]float64{"amount": 1}), in)
	for _, s := range out {
		assert.LessOrEqual(t, math.Abs(float64(s)), 1.0)
	}
}

func TestEffects_BitcrushQuantizes(t *testing.T) {
	in := stereoSine(440, 4410, 44100)
	out := runEffect(t, specOf("bitcrush", map[string]float64{"depth": 2, "sample_rate": 44100, "mix": 1}), in)
	// With 2 bits only a handful of distinct levels survive.
	levels := map[float32]bool{}
	for _, s := range out {
		levels[s] = true
	}
	assert.LessOrEqual(t, len(levels), 8)
}

func TestEffects_CompressorReducesLoudPeaks(t *testing.T) {
	in := stereoSine(440, 44100, 44100)
	out := runEffect(t, specOf("compressor", map[string]float64{
		"threshold": 0.2, "ratio": 8, "attack": 1, "release": 50,
	}), in)
	// Skip the attack transient, then peaks must sit well below the input's.
	var peak float64
	for i := 8820; i < len(out); i++ {
		if v := math.Abs(float64(out[i])); v > peak {
			peak = v
		}
	}
	assert.Less(t, peak, 0.6)
}

func TestEffects_ChainAppliesInOrder(t *testing.T) {
	// stereo (width 0) then drive (amount 0); the collapsed image survives the chain.
	chain := NewFXChain()
	fx1, _ := BuildEffect(specOf("stereo", map[string]float64{"width": 0}), 44100, 120)
	fx2, _ := BuildEffect(specOf("drive", map[string]float64{"amount": 0}), 44100, 120)
	chain.Add(fx1)
	chain.Add(fx2)
	assert.Equal(t, 2, chain.Len())
	l, r := chain.Process(0.8, 0.2)
	assert.InDelta(t, float64(l), float64(r), 1e-5)
}

func TestEffects_FreezeRepeatsHeldWindow(t *testing.T) {
	fx, ok := BuildEffect(specOf("freeze", map[string]float64{"hold": 10, "fade": 0}), 44100, 120)
	require.True(t, ok)
	holdFrames := 441 // 10 ms
	// Feed a ramp during the capture window, then silence.
	var first []float32
	for i := 0; i < holdFrames; i++ {
		l, _ := fx.Process(float32(i)/float32(holdFrames), 0)
		first = append(first, l)
	}
	// After capture, output replays the held window regardless of input.
	l0, _ := fx.Process(0, 0)
	assert.InDelta(t, float64(first[0]), float64(l0), 1e-6)
	l1, _ := fx.Process(0, 0)
	assert.InDelta(t, float64(first[1]), float64(l1), 1e-6)
}
