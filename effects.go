// effects.go — the fixed per-event effect/filter catalogue.
//
// Every effect is a stateful stereo processor with the same tiny interface;
// an event's chain applies them in declaration order. New effects are added
// by extending the switch in BuildEffect — the catalogue is closed by
// design, there is no dynamic plugin ABI in the core.
package devalang

import (
	"math"
)

// Effector processes one stereo frame at a time.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// FXChain applies a sequence of effects in order.
type FXChain struct {
	effects []Effector
}

// NewFXChain assembles a chain.
func NewFXChain(effects ...Effector) *FXChain {
	return &FXChain{effects: effects}
}

func (c *FXChain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *FXChain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *FXChain) Add(e Effector) { c.effects = append(c.effects, e) }

// Len reports how many effects the chain holds.
func (c *FXChain) Len() int { return len(c.effects) }

// BuildEffect constructs a processor from a spec. Returns (nil, false) for
// unknown kinds so the renderer can skip them with a warning. Buffer-level
// transforms (slice, stretch, roll, speed, reverse) are handled by the
// sample path, not here.
func BuildEffect(spec EffectSpec, sampleRate int, bpm float64) (Effector, bool) {
	sr := float64(sampleRate)
	switch spec.Kind {
	case "reverb":
		return newReverb(sr,
			spec.Param("size", 0.5),
			spec.Param("decay", 0.5),
			spec.Param("mix", spec.Param("value", 0.3))), true
	case "delay":
		return newDelay(sr,
			spec.Param("time", 250),
			spec.Param("feedback", 0.35),
			spec.Param("mix", 0.3)), true
	case "dist":
		return &distortion{
			amount: clampFloat(spec.Param("amount", 0.5), 0, 1),
			color:  clampFloat(spec.Param("color", 0.5), 0, 1),
			mix:    clampFloat(spec.Param("mix", 1), 0, 1),
		}, true
	case "drive":
		return &distortion{
			amount: clampFloat(spec.Param("amount", 0.5), 0, 1),
			color:  0.5,
			mix:    1,
		}, true
	case "bitcrush":
		return newBitcrush(sr,
			spec.Param("depth", 8),
			spec.Param("sample_rate", 11025),
			spec.Param("mix", 1)), true
	case "lpf":
		return newBiquad(sr, filterLP, spec.Param("cutoff", 1000), spec.Param("resonance", 0.2)), true
	case "hpf":
		return newBiquad(sr, filterHP, spec.Param("cutoff", 300), spec.Param("resonance", 0.2)), true
	case "bpf":
		return newBiquad(sr, filterBP, spec.Param("cutoff", 800), spec.Param("resonance", 0.2)), true
	case "tremolo":
		rate := spec.Param("rate", 5)
		if spec.Param("sync", 0) != 0 {
			rate = spec.Param("rate", 1) * bpm / 60.0 // cycles per beat
		}
		return &tremolo{sr: sr, rate: rate, depth: clampFloat(spec.Param("depth", 0.5), 0, 1)}, true
	case "vibrato":
		rate := spec.Param("rate", 5)
		if spec.Param("sync", 0) != 0 {
			rate = spec.Param("rate", 1) * bpm / 60.0
		}
		return newModDelay(sr, rate, clampFloat(spec.Param("depth", 0.5), 0, 1), 0.004, 1, 0), true
	case "chorus":
		return newModDelay(sr,
			spec.Param("rate", 0.8),
			clampFloat(spec.Param("depth", 0.5), 0, 1),
			0.020,
			clampFloat(spec.Param("mix", 0.5), 0, 1),
			1-clampFloat(spec.Param("mix", 0.5), 0, 1)), true
	case "flanger":
		return newModDelay(sr,
			spec.Param("rate", 0.3),
			clampFloat(spec.Param("depth", 0.7), 0, 1),
			0.005,
			clampFloat(spec.Param("mix", 0.5), 0, 1),
			1-clampFloat(spec.Param("mix", 0.5), 0, 1)), true
	case "phaser":
		return newPhaser(sr,
			spec.Param("rate", 0.5),
			clampFloat(spec.Param("depth", 0.7), 0, 1),
			clampFloat(spec.Param("mix", 0.5), 0, 1)), true
	case "monoizer":
		if spec.Param("enabled", 1) == 0 {
			return passthrough{}, true
		}
		return &monoizer{mix: clampFloat(spec.Param("mix", 1), 0, 1)}, true
	case "stereo":
		return &stereoWidth{width: clampFloat(spec.Param("width", 1), 0, 2)}, true
	case "gate":
		rate := spec.Param("rate", 4) * bpm / 60.0
		return &gate{sr: sr, rate: rate, depth: clampFloat(spec.Param("depth", 1), 0, 1)}, true
	case "compressor":
		return newCompressor(sr,
			spec.Param("threshold", 0.5),
			spec.Param("ratio", 4),
			spec.Param("attack", 10),
			spec.Param("release", 120)), true
	case "freeze":
		if spec.Param("enabled", 1) == 0 {
			return passthrough{}, true
		}
		return newFreeze(sr, spec.Param("hold", 250), spec.Param("fade", 20)), true
	}
	return nil, false
}

type passthrough struct{}

func (passthrough) Process(l, r float32) (float32, float32) { return l, r }
func (passthrough) Reset()                                  {}

// ----- reverb (Schroeder: parallel combs into series allpasses) -----

type comb struct {
	buf      []float32
	idx      int
	feedback float32
}

func (c *comb) process(in float32) float32 {
	out := c.buf[c.idx]
	c.buf[c.idx] = in + out*c.feedback
	c.idx++
	if c.idx >= len(c.buf) {
		c.idx = 0
	}
	return out
}

type allpass struct {
	buf  []float32
	idx  int
	gain float32
}

func (a *allpass) process(in float32) float32 {
	buffered := a.buf[a.idx]
	out := -in + buffered
	a.buf[a.idx] = in + buffered*a.gain
	a.idx++
	if a.idx >= len(a.buf) {
		a.idx = 0
	}
	return out
}

type reverb struct {
	combsL, combsR []*comb
	apL, apR       []*allpass
	mix            float32
}

var combTunings = []float64{0.0297, 0.0371, 0.0411, 0.0437}
var allpassTunings = []float64{0.005, 0.0017}

func newReverb(sr, size, decay, mix float64) *reverb {
	size = clampFloat(size, 0.05, 1)
	fb := float32(clampFloat(0.6+0.38*decay, 0, 0.98))
	rv := &reverb{mix: float32(clampFloat(mix, 0, 1))}
	for ch := 0; ch < 2; ch++ {
		spread := 1.0
		if ch == 1 {
			spread = 1.013 // slight inter-channel detune widens the tail
		}
		var combs []*comb
		for _, t := range combTunings {
			n := int(t * size * 2 * sr * spread)
			if n < 1 {
				n = 1
			}
			combs = append(combs, &comb{buf: make([]float32, n), feedback: fb})
		}
		var aps []*allpass
		for _, t := range allpassTunings {
			n := int(t * sr * spread)
			if n < 1 {
				n = 1
			}
			aps = append(aps, &allpass{buf: make([]float32, n), gain: 0.5})
		}
		if ch == 0 {
			rv.combsL, rv.apL = combs, aps
		} else {
			rv.combsR, rv.apR = combs, aps
		}
	}
	return rv
}

func (rv *reverb) Process(l, r float32) (float32, float32) {
	var wl, wr float32
	for _, c := range rv.combsL {
		wl += c.process(l)
	}
	for _, c := range rv.combsR {
		wr += c.process(r)
	}
	wl /= float32(len(rv.combsL))
	wr /= float32(len(rv.combsR))
	for _, a := range rv.apL {
		wl = a.process(wl)
	}
	for _, a := range rv.apR {
		wr = a.process(wr)
	}
	return l*(1-rv.mix) + wl*rv.mix, r*(1-rv.mix) + wr*rv.mix
}

func (rv *reverb) Reset() {
	for _, c := range append(rv.combsL, rv.combsR...) {
		for i := range c.buf {
			c.buf[i] = 0
		}
		c.idx = 0
	}
	for _, a := range append(rv.apL, rv.apR...) {
		for i := range a.buf {
			a.buf[i] = 0
		}
		a.idx = 0
	}
}

// ----- delay -----

type delay struct {
	bufL, bufR []float32
	idx        int
	feedback   float32
	mix        float32
}

func newDelay(sr, timeMs, feedback, mix float64) *delay {
	n := int(timeMs / 1000 * sr)
	if n < 1 {
		n = 1
	}
	return &delay{
		bufL:     make([]float32, n),
		bufR:     make([]float32, n),
		feedback: float32(clampFloat(feedback, 0, 0.95)),
		mix:      float32(clampFloat(mix, 0, 1)),
	}
}

func (d *delay) Process(l, r float32) (float32, float32) {
	dl, dr := d.bufL[d.idx], d.bufR[d.idx]
	d.bufL[d.idx] = l + dl*d.feedback
	d.bufR[d.idx] = r + dr*d.feedback
	d.idx++
	if d.idx >= len(d.bufL) {
		d.idx = 0
	}
	return l + dl*d.mix, r + dr*d.mix
}

func (d *delay) Reset() {
	for i := range d.bufL {
		d.bufL[i], d.bufR[i] = 0, 0
	}
	d.idx = 0
}

// ----- distortion / drive -----

type distortion struct {
	amount float64
	color  float64
	mix    float64
	lastL  float64
	lastR  float64
}

func (d *distortion) shape(x float64) float64 {
	drive := 1 + d.amount*20
	return math.Tanh(x * drive)
}

func (d *distortion) Process(l, r float32) (float32, float32) {
	wl := d.shape(float64(l))
	wr := d.shape(float64(r))
	// color tilts the output darker with a one-pole lowpass
	a := 0.2 + 0.8*d.color
	d.lastL = d.lastL + a*(wl-d.lastL)
	d.lastR = d.lastR + a*(wr-d.lastR)
	ol := float64(l)*(1-d.mix) + d.lastL*d.mix
	or := float64(r)*(1-d.mix) + d.lastR*d.mix
	return float32(ol), float32(or)
}

func (d *distortion) Reset() { d.lastL, d.lastR = 0, 0 }

// ----- bitcrush -----

type bitcrush struct {
	levels  float64
	hold    float64
	phase   float64
	heldL   float32
	heldR   float32
	mix     float32
}

func newBitcrush(sr, depth, rate, mix float64) *bitcrush {
	depth = clampFloat(depth, 1, 24)
	if rate <= 0 {
		rate = sr
	}
	return &bitcrush{
		levels: math.Pow(2, depth),
		hold:   sr / rate,
		mix:    float32(clampFloat(mix, 0, 1)),
	}
}

func (b *bitcrush) Process(l, r float32) (float32, float32) {
	b.phase++
	if b.phase >= b.hold {
		b.phase -= b.hold
		q := b.levels / 2
		b.heldL = float32(math.Round(float64(l)*q) / q)
		b.heldR = float32(math.Round(float64(r)*q) / q)
	}
	return l*(1-b.mix) + b.heldL*b.mix, r*(1-b.mix) + b.heldR*b.mix
}

func (b *bitcrush) Reset() { b.phase, b.heldL, b.heldR = 0, 0, 0 }

// ----- biquad filters (RBJ cookbook) -----

type filterType int

const (
	filterLP filterType = iota
	filterHP
	filterBP
)

type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1L, x2L, y1L, y2L float64
	x1R, x2R, y1R, y2R float64
}

func newBiquad(sr float64, ft filterType, cutoff, resonance float64) *biquad {
	cutoff = clampFloat(cutoff, 20, sr/2-1)
	q := 0.707 + resonance*9 // resonance 0..1 maps onto a musically useful Q
	w0 := 2 * math.Pi * cutoff / sr
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)

	var b0, b1, b2, a0, a1, a2 float64
	switch ft {
	case filterHP:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case filterBP:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	}
	a0 = 1 + alpha
	a1 = -2 * cosw
	a2 = 1 - alpha

	return &biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

func (f *biquad) Process(l, r float32) (float32, float32) {
	xl, xr := float64(l), float64(r)
	yl := f.b0*xl + f.b1*f.x1L + f.b2*f.x2L - f.a1*f.y1L - f.a2*f.y2L
	yr := f.b0*xr + f.b1*f.x1R + f.b2*f.x2R - f.a1*f.y1R - f.a2*f.y2R
	f.x2L, f.x1L = f.x1L, xl
	f.y2L, f.y1L = f.y1L, yl
	f.x2R, f.x1R = f.x1R, xr
	f.y2R, f.y1R = f.y1R, yr
	return float32(yl), float32(yr)
}

func (f *biquad) Reset() {
	f.x1L, f.x2L, f.y1L, f.y2L = 0, 0, 0, 0
	f.x1R, f.x2R, f.y1R, f.y2R = 0, 0, 0, 0
}

// ----- tremolo / gate -----

type tremolo struct {
	sr    float64
	rate  float64
	depth float64
	phase float64
}

func (t *tremolo) Process(l, r float32) (float32, float32) {
	mod := 1 - t.depth*(0.5+0.5*math.Sin(2*math.Pi*t.phase))
	t.phase += t.rate / t.sr
	if t.phase >= 1 {
		t.phase -= 1
	}
	return l * float32(mod), r * float32(mod)
}

func (t *tremolo) Reset() { t.phase = 0 }

type gate struct {
	sr    float64
	rate  float64
	depth float64
	phase float64
}

func (g *gate) Process(l, r float32) (float32, float32) {
	open := 1.0
	if g.phase >= 0.5 {
		open = 1 - g.depth
	}
	g.phase += g.rate / g.sr
	if g.phase >= 1 {
		g.phase -= 1
	}
	return l * float32(open), r * float32(open)
}

func (g *gate) Reset() { g.phase = 0 }

// ----- modulated delay (vibrato / chorus / flanger) -----

type modDelay struct {
	sr      float64
	buf     [][]float32 // per channel ring
	idx     int
	rate    float64
	depth   float64
	baseSec float64
	wet     float32
	dry     float32
	phase   float64
}

func newModDelay(sr, rate, depth, baseSec, wet, dry float64) *modDelay {
	n := int(baseSec*2*sr) + 4
	return &modDelay{
		sr:      sr,
		buf:     [][]float32{make([]float32, n), make([]float32, n)},
		rate:    rate,
		depth:   depth,
		baseSec: baseSec,
		wet:     float32(wet),
		dry:     float32(dry),
	}
}

func (m *modDelay) read(ch int, delaySamples float64) float32 {
	n := len(m.buf[ch])
	pos := float64(m.idx) - delaySamples
	for pos < 0 {
		pos += float64(n)
	}
	i0 := int(pos) % n
	i1 := (i0 + 1) % n
	frac := float32(pos - math.Floor(pos))
	return m.buf[ch][i0]*(1-frac) + m.buf[ch][i1]*frac
}

func (m *modDelay) Process(l, r float32) (float32, float32) {
	mod := 0.5 + 0.5*math.Sin(2*math.Pi*m.phase)
	delaySec := m.baseSec * (0.3 + 0.7*m.depth*mod)
	delaySamples := delaySec * m.sr

	m.buf[0][m.idx] = l
	m.buf[1][m.idx] = r
	wl := m.read(0, delaySamples)
	wr := m.read(1, delaySamples)

	m.idx++
	if m.idx >= len(m.buf[0]) {
		m.idx = 0
	}
	m.phase += m.rate / m.sr
	if m.phase >= 1 {
		m.phase -= 1
	}
	// wet-only (vibrato) when dry is zero and wet is one
	return l*m.dry + wl*m.wet, r*m.dry + wr*m.wet
}

func (m *modDelay) Reset() {
	for ch := range m.buf {
		for i := range m.buf[ch] {
			m.buf[ch][i] = 0
		}
	}
	m.idx = 0
	m.phase = 0
}

// ----- phaser -----

type phaserStage struct {
	x1L, y1L float64
	x1R, y1R float64
}

type phaser struct {
	sr     float64
	rate   float64
	depth  float64
	mix    float32
	phase  float64
	stages [4]phaserStage
}

func newPhaser(sr, rate, depth, mix float64) *phaser {
	return &phaser{sr: sr, rate: rate, depth: depth, mix: float32(mix)}
}

func (p *phaser) Process(l, r float32) (float32, float32) {
	lfo := 0.5 + 0.5*math.Sin(2*math.Pi*p.phase)
	fc := 300 + 2000*p.depth*lfo
	a := (math.Tan(math.Pi*fc/p.sr) - 1) / (math.Tan(math.Pi*fc/p.sr) + 1)

	wl, wr := float64(l), float64(r)
	for i := range p.stages {
		st := &p.stages[i]
		yl := a*wl + st.x1L - a*st.y1L
		st.x1L, st.y1L = wl, yl
		wl = yl
		yr := a*wr + st.x1R - a*st.y1R
		st.x1R, st.y1R = wr, yr
		wr = yr
	}
	p.phase += p.rate / p.sr
	if p.phase >= 1 {
		p.phase -= 1
	}
	return l*(1-p.mix) + float32(wl)*p.mix, r*(1-p.mix) + float32(wr)*p.mix
}

func (p *phaser) Reset() {
	p.phase = 0
	p.stages = [4]phaserStage{}
}

// ----- monoizer / stereo width -----

type monoizer struct {
	mix float64
}

func (m *monoizer) Process(l, r float32) (float32, float32) {
	mono := (l + r) * float32(1/math.Sqrt2)
	mix := float32(m.mix)
	return l*(1-mix) + mono*mix, r*(1-mix) + mono*mix
}

func (m *monoizer) Reset() {}

type stereoWidth struct {
	width float64
}

func (s *stereoWidth) Process(l, r float32) (float32, float32) {
	mid := (l + r) / 2
	side := (l - r) / 2 * float32(s.width)
	return mid + side, mid - side
}

func (s *stereoWidth) Reset() {}

// ----- compressor -----

type compressor struct {
	threshold float64
	ratio     float64
	attackC   float64
	releaseC  float64
	env       float64
}

func newCompressor(sr, threshold, ratio, attackMs, releaseMs float64) *compressor {
	return &compressor{
		threshold: clampFloat(threshold, 0.01, 1),
		ratio:     math.Max(ratio, 1),
		attackC:   math.Exp(-1 / (attackMs / 1000 * sr)),
		releaseC:  math.Exp(-1 / (releaseMs / 1000 * sr)),
	}
}

func (c *compressor) Process(l, r float32) (float32, float32) {
	level := math.Max(math.Abs(float64(l)), math.Abs(float64(r)))
	if level > c.env {
		c.env = c.attackC*c.env + (1-c.attackC)*level
	} else {
		c.env = c.releaseC*c.env + (1-c.releaseC)*level
	}
	gain := 1.0
	if c.env > c.threshold {
		compressed := c.threshold + (c.env-c.threshold)/c.ratio
		gain = compressed / c.env
	}
	return l * float32(gain), r * float32(gain)
}

func (c *compressor) Reset() { c.env = 0 }

// ----- freeze -----

// freeze captures the first hold window and repeats it, crossfading at loop
// edges.
type freeze struct {
	holdN  int
	fadeN  int
	bufL   []float32
	bufR   []float32
	filled int
	pos    int
}

func newFreeze(sr, holdMs, fadeMs float64) *freeze {
	holdN := int(holdMs / 1000 * sr)
	if holdN < 16 {
		holdN = 16
	}
	fadeN := int(fadeMs / 1000 * sr)
	if fadeN > holdN/2 {
		fadeN = holdN / 2
	}
	return &freeze{holdN: holdN, fadeN: fadeN, bufL: make([]float32, holdN), bufR: make([]float32, holdN)}
}

func (f *freeze) Process(l, r float32) (float32, float32) {
	if f.filled < f.holdN {
		f.bufL[f.filled] = l
		f.bufR[f.filled] = r
		f.filled++
		return l, r
	}
	ol, or := f.bufL[f.pos], f.bufR[f.pos]
	if f.fadeN > 0 && f.pos < f.fadeN {
		// crossfade the loop seam
		g := float32(f.pos) / float32(f.fadeN)
		tail := f.holdN - f.fadeN + f.pos
		ol = ol*g + f.bufL[tail]*(1-g)
		or = or*g + f.bufR[tail]*(1-g)
	}
	f.pos++
	if f.pos >= f.holdN {
		f.pos = 0
	}
	return ol, or
}

func (f *freeze) Reset() { f.filled, f.pos = 0, 0 }
