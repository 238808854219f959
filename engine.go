// engine.go — EventStream → interleaved stereo f32 PCM.
//
// Rendering is two passes: pass 1 sizes the output buffer from the stream's
// total duration; pass 2 renders each event into the mix in order. Voices
// sum; a final soft limiter keeps the mix inside [-1, 1] without hard-clip
// artifacts (transparent below its threshold, tanh-shaped above it).
//
// Render is a pure function of (stream, options, seed, provider): identical
// inputs produce bit-identical buffers.
package devalang

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// RenderResult carries the PCM buffer plus the non-fatal warnings collected
// while rendering. Session identifies the render for log correlation.
type RenderResult struct {
	PCM        []float32
	SampleRate int
	Channels   int
	Duration   float64 // seconds
	Warnings   []Diagnostic
	Session    uuid.UUID
}

// autoFadeSeconds is the click-suppression fade applied to sample starts and
// ends.
const autoFadeSeconds = 0.001

// engine is the per-render state.
type engine struct {
	es   *EventStream
	opts RenderOptions
	mix  []float32 // stereo interleaved work buffer
	out  *RenderResult

	// ControlChange state: target → param → value, applied to later events.
	controls map[string]map[string]float64
}

// Render renders the stream with the given options.
func Render(es *EventStream, opts RenderOptions) (*RenderResult, error) {
	opts = opts.withDefaults()
	e := &engine{
		es:       es,
		opts:     opts,
		controls: map[string]map[string]float64{},
		out: &RenderResult{
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
			Session:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(formatNumber(opts.Seed))),
		},
	}
	e.out.Warnings = append(e.out.Warnings, es.Warnings...)

	// Pass 1: allocate.
	totalSecs := es.TotalSeconds()
	if opts.TotalDurationSeconds > 0 && totalSecs > opts.TotalDurationSeconds {
		totalSecs = opts.TotalDurationSeconds
	}
	frames := int(math.Ceil(totalSecs * float64(opts.SampleRate)))
	e.mix = make([]float32, frames*2)

	// Pass 2: render events in stream order.
	for i := range es.Events {
		ev := &es.Events[i]
		switch p := ev.Payload.(type) {
		case NoteOn:
			e.renderNote(ev, p)
		case SamplePlay:
			e.renderSample(ev, p, i)
		case ControlChange:
			if e.controls[p.Target] == nil {
				e.controls[p.Target] = map[string]float64{}
			}
			e.controls[p.Target][p.Param] = p.Value
		case Marker:
			// markers carry no audio
		}
	}

	e.limit()

	if opts.Channels == 1 {
		e.out.PCM = ToMono(e.mix, 2)
	} else {
		e.out.PCM = e.mix
	}
	e.out.Duration = totalSecs
	return e.out, nil
}

func (e *engine) warnf(format string, args ...interface{}) {
	d := Diagnostic{Message: fmt.Sprintf(format, args...), Line: 1, Col: 1}
	e.out.Warnings = append(e.out.Warnings, d)
	e.opts.Logger.Log(Entry{Level: LevelWarn, Message: d.Message})
}

// eventWindow converts an event's beat span to sample offsets.
func (e *engine) eventWindow(ev *Event) (startSample, durSamples int) {
	startSec := e.es.SecondsAt(ev.Start)
	endSec := e.es.SecondsAt(ev.Start + ev.Dur)
	sr := float64(e.opts.SampleRate)
	startSample = int(math.Round(startSec * sr))
	durSamples = int(math.Round((endSec - startSec) * sr))
	return
}

// control reads the latest ControlChange value for (target, param).
func (e *engine) control(target, param string, def float64) float64 {
	if m, ok := e.controls[target]; ok {
		if v, found := m[param]; found {
			return v
		}
	}
	return def
}

// automationValue samples the event's automations for one parameter at
// progress t, multiplying stacked curves for gain-like parameters and taking
// the last value otherwise.
func automationValue(autos []*Automation, param string, t float64) (float64, bool) {
	found := false
	v := 1.0
	for _, a := range autos {
		if a.Param != param {
			continue
		}
		if !found {
			v = a.SampleAt(t)
			found = true
		} else if param == "volume" {
			v *= a.SampleAt(t)
		} else {
			v = a.SampleAt(t)
		}
	}
	return v, found
}

// renderNote synthesizes one note (or chord voice) into the mix.
func (e *engine) renderNote(ev *Event, n NoteOn) {
	start, total := e.eventWindow(ev)
	if total <= 0 {
		return
	}
	sr := float64(e.opts.SampleRate)

	freq := n.Freq
	if n.Detune != 0 {
		freq *= math.Pow(2, n.Detune/1200.0)
	}
	slideFrom := freq
	slideTo := freq
	if n.SlideFrom > 0 {
		slideFrom = n.SlideFrom
	}
	if n.SlideTo > 0 {
		slideTo = n.SlideTo
	}
	glideSamples := int(n.GlideMs / 1000 * sr)
	if slideFrom != slideTo && glideSamples == 0 {
		glideSamples = total
	}

	attack := int(n.ADSR.AttackMs / 1000 * sr)
	decay := int(n.ADSR.DecayMs / 1000 * sr)
	release := int(n.ADSR.ReleaseMs / 1000 * sr)
	sustain := total - attack - decay - release
	if sustain < 0 {
		sustain = 0
	}

	velocity := clampFloat(n.Velocity*e.control(n.SynthRef, "volume", 1), 0, 1)
	bpm := e.es.BPMAt(ev.Start)
	beatsPerSec := bpm / 60.0

	buf := make([]float32, total*2)
	phase := 0.0
	for i := 0; i < total; i++ {
		t := float64(i) / float64(total)

		f := freq
		if glideSamples > 0 && (slideFrom != slideTo) {
			g := clampFloat(float64(i)/float64(glideSamples), 0, 1)
			f = slideFrom + (slideTo-slideFrom)*g
		}
		// pitch automation in semitones
		if pv, ok := automationValue(n.Autos, "pitch", t); ok {
			f *= math.Pow(2, pv/12)
		}
		amp := 1.0
		if n.LFO != nil {
			beat := ev.Start + float64(i)/sr*beatsPerSec
			mod := n.LFO.ValueAt(beat)
			switch n.LFO.Target {
			case "volume", "amp":
				amp *= clampFloat(1+mod, 0, 2)
			default: // pitch
				f *= math.Pow(2, mod/12)
			}
		}

		phase += f / sr
		sample := OscillatorSample(n.Waveform, phase)

		env := ADSRAt(i, attack, decay, sustain, release, n.ADSR.Sustain)
		gain := velocity * env * amp
		if vv, ok := automationValue(n.Autos, "volume", t); ok {
			gain *= clampFloat(vv, 0, 4)
		}

		pan := n.Pan
		if pv, ok := automationValue(n.Autos, "pan", t); ok {
			pan = clampFloat(pv, -1, 1)
		}
		lg, rg := panGains(pan)

		buf[2*i] = float32(sample * gain * lg)
		buf[2*i+1] = float32(sample * gain * rg)
	}

	e.applyChain(buf, n.Effects, bpm)
	e.addAt(start, buf)
}

// panGains is the constant-power pan law.
func panGains(pan float64) (left, right float64) {
	a := (clampFloat(pan, -1, 1) + 1) * math.Pi / 4
	return math.Cos(a), math.Sin(a)
}

// renderSample plays one sample event into the mix.
func (e *engine) renderSample(ev *Event, sp SamplePlay, eventIndex int) {
	start, durSamples := e.eventWindow(ev)
	sr := e.opts.SampleRate

	if e.opts.Provider == nil {
		e.warnf("no sample provider; emitting silence for %s", sp.SampleRef)
		return
	}
	src, err := e.opts.Provider.Fetch(sp.SampleRef)
	if err != nil {
		e.warnf("missing sample %s (silence emitted)", sp.SampleRef)
		return
	}

	pcm := ToStereo(src.PCM, src.Channels)
	srcRate := src.SampleRate
	if sp.Speed != 1 && sp.Speed > 0 {
		srcRate = int(float64(srcRate) * sp.Speed)
	}
	pcm = Resample(pcm, 2, srcRate, sr, e.opts.Quality)

	if sp.Reverse {
		reverseFrames(pcm)
	}
	pcm = e.applyBufferEffects(pcm, sp, ev)

	// Honor the event's duration unless it came from `auto`.
	if !sp.AutoLen && durSamples > 0 {
		want := durSamples * 2
		if len(pcm) > want {
			pcm = pcm[:want]
		}
	}

	bpm := e.es.BPMAt(ev.Start)
	velocity := e.control(sp.SampleRef, "volume", 1)
	frames := len(pcm) / 2
	for i := 0; i < frames; i++ {
		t := 0.0
		if frames > 1 {
			t = float64(i) / float64(frames-1)
		}
		gain := velocity
		if vv, ok := automationValue(sp.Autos, "volume", t); ok {
			gain *= clampFloat(vv, 0, 4)
		}
		pcm[2*i] *= float32(gain)
		pcm[2*i+1] *= float32(gain)
	}

	applyAutoFade(pcm, sr)
	e.applyChain(pcm, sp.Effects, bpm)
	e.addAt(start, pcm)
}

// applyBufferEffects handles the sample-level transforms (slice, roll,
// stretch) that reshape the buffer rather than filter it.
func (e *engine) applyBufferEffects(pcm []float32, sp SamplePlay, ev *Event) []float32 {
	sr := e.opts.SampleRate
	for _, fx := range sp.Effects {
		switch fx.Kind {
		case "slice":
			pcm = sliceTransform(pcm, fx, sr, e.es.Seed+float64(ev.Seq))
		case "roll":
			pcm = rollTransform(pcm, fx, sr)
		case "stretch":
			factor := fx.Param("factor", 1)
			if factor > 0 && factor != 1 {
				// Resampling-based stretch; pitch/formant are reserved.
				pcm = Resample(pcm, 2, int(float64(sr)*factor), sr, e.opts.Quality)
			}
		}
	}
	return pcm
}

// sliceTransform cuts the buffer into segments and reorders them.
func sliceTransform(pcm []float32, fx EffectSpec, sr int, seed float64) []float32 {
	segments := int(fx.Param("segments", 4))
	if segments < 2 {
		return pcm
	}
	frames := len(pcm) / 2
	segFrames := frames / segments
	if segFrames == 0 {
		return pcm
	}
	order := make([]int, segments)
	for i := range order {
		order[i] = i
	}
	mode := "forward"
	if fx.Params != nil {
		if v, ok := fx.Params.Get("mode"); ok {
			if s, isStr := v.AsStr(); isStr {
				mode = s
			}
		}
	}
	switch mode {
	case "reverse":
		for i, j := 0, segments-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	case "random":
		// Fisher–Yates with the deterministic seeded hash.
		for i := segments - 1; i > 0; i-- {
			j := int(hash01(seed+float64(i)) * float64(i+1))
			if j > i {
				j = i
			}
			order[i], order[j] = order[j], order[i]
		}
	}
	out := make([]float32, 0, len(pcm))
	for _, idx := range order {
		lo := idx * segFrames * 2
		hi := lo + segFrames*2
		out = append(out, pcm[lo:hi]...)
	}
	if crossfadeMs := fx.Param("crossfade", 0); crossfadeMs > 0 {
		fadeFrames := int(crossfadeMs / 1000 * float64(sr))
		crossfadeSegments(out, segments, fadeFrames)
	}
	return out
}

// crossfadeSegments ramps a few frames on both sides of every segment seam.
func crossfadeSegments(pcm []float32, segments, fadeFrames int) {
	frames := len(pcm) / 2
	segFrames := frames / segments
	if segFrames == 0 || fadeFrames <= 0 {
		return
	}
	if fadeFrames > segFrames/2 {
		fadeFrames = segFrames / 2
	}
	for s := 1; s < segments; s++ {
		seam := s * segFrames
		for i := 0; i < fadeFrames; i++ {
			g := float32(i) / float32(fadeFrames)
			out := seam - 1 - i // fade out the previous segment tail
			in := seam + i      // fade in the next segment head
			if out >= 0 {
				pcm[2*out] *= g
				pcm[2*out+1] *= g
			}
			if in < frames {
				gIn := float32(i) / float32(fadeFrames)
				pcm[2*in] *= gIn
				pcm[2*in+1] *= gIn
			}
		}
	}
}

// rollTransform repeats the opening window of the buffer.
func rollTransform(pcm []float32, fx EffectSpec, sr int) []float32 {
	durMs := fx.Param("duration", 100)
	repeats := int(fx.Param("repeats", 4))
	if repeats < 1 {
		return pcm
	}
	winFrames := int(durMs / 1000 * float64(sr))
	if winFrames*2 > len(pcm) || winFrames == 0 {
		return pcm
	}
	fade := fx.Param("fade", 0)
	win := append([]float32(nil), pcm[:winFrames*2]...)
	if fade > 0 {
		applyAutoFade(win, sr)
	}
	out := make([]float32, 0, winFrames*2*repeats)
	for i := 0; i < repeats; i++ {
		out = append(out, win...)
	}
	return out
}

// applyChain builds and runs the frame-level effect chain over a stereo
// buffer. Unknown effect kinds are skipped with a warning.
func (e *engine) applyChain(buf []float32, specs []EffectSpec, bpm float64) {
	if len(specs) == 0 {
		return
	}
	chain := NewFXChain()
	for _, spec := range specs {
		switch spec.Kind {
		case "slice", "stretch", "roll", "speed", "reverse":
			continue // buffer transforms, handled elsewhere
		}
		fx, ok := BuildEffect(spec, e.opts.SampleRate, bpm)
		if !ok {
			e.warnf("unknown effect %q (skipped)", spec.Kind)
			continue
		}
		chain.Add(fx)
	}
	if chain.Len() == 0 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = chain.Process(buf[i], buf[i+1])
	}
}

// applyAutoFade applies the ~1 ms anti-click ramps at both ends of a stereo
// buffer.
func applyAutoFade(pcm []float32, sr int) {
	fade := int(autoFadeSeconds * float64(sr))
	frames := len(pcm) / 2
	if fade*2 > frames {
		fade = frames / 2
	}
	for i := 0; i < fade; i++ {
		g := float32(i) / float32(fade)
		pcm[2*i] *= g
		pcm[2*i+1] *= g
		j := frames - 1 - i
		pcm[2*j] *= g
		pcm[2*j+1] *= g
	}
}

// reverseFrames reverses a stereo buffer frame-wise.
func reverseFrames(pcm []float32) {
	frames := len(pcm) / 2
	for i, j := 0, frames-1; i < j; i, j = i+1, j-1 {
		pcm[2*i], pcm[2*j] = pcm[2*j], pcm[2*i]
		pcm[2*i+1], pcm[2*j+1] = pcm[2*j+1], pcm[2*i+1]
	}
}

// addAt sums a stereo buffer into the mix at the given frame offset,
// clipping the tail at the mix boundary.
func (e *engine) addAt(startFrame int, buf []float32) {
	mixFrames := len(e.mix) / 2
	bufFrames := len(buf) / 2
	for i := 0; i < bufFrames; i++ {
		dst := startFrame + i
		if dst < 0 || dst >= mixFrames {
			break
		}
		e.mix[2*dst] += buf[2*i]
		e.mix[2*dst+1] += buf[2*i+1]
	}
}

// limit soft-limits the mix: transparent below the threshold, tanh-shaped
// above it, bounded by ±1.
func (e *engine) limit() {
	const th = 0.95
	for i, s := range e.mix {
		x := float64(s)
		ax := math.Abs(x)
		if ax <= th {
			continue
		}
		shaped := th + (1-th)*math.Tanh((ax-th)/(1-th))
		if x < 0 {
			shaped = -shaped
		}
		e.mix[i] = float32(shaped)
	}
}
