// special.go — the reserved $math / $easing / $mod namespaces and $curve
// handles.
//
// All functions here are pure and deterministic given their inputs plus the
// per-render session seed; `$math.random` uses a sine-hash of its seed
// argument so identical scripts render identical audio.
package devalang

import (
	"math"
)

const (
	// DefaultBPM applies when a script never sets a tempo.
	DefaultBPM = 120.0
	// BeatsPerBar fixes the bar length used by patterns and $bar.
	BeatsPerBar = 4.0
)

// callMath dispatches $math.<fn>(args).
func (ev *Evaluator) callMath(at Expr, name string, args []float64) (Value, error) {
	arg := func(i int) float64 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}
	switch name {
	case "sin":
		return NumVal(math.Sin(arg(0))), nil
	case "cos":
		return NumVal(math.Cos(arg(0))), nil
	case "tan":
		return NumVal(math.Tan(arg(0))), nil
	case "abs":
		return NumVal(math.Abs(arg(0))), nil
	case "min":
		if len(args) < 2 {
			return NullValue, evalErrf(at, "$math.min expects 2 arguments")
		}
		return NumVal(math.Min(arg(0), arg(1))), nil
	case "max":
		if len(args) < 2 {
			return NullValue, evalErrf(at, "$math.max expects 2 arguments")
		}
		return NumVal(math.Max(arg(0), arg(1))), nil
	case "pow":
		if len(args) < 2 {
			return NullValue, evalErrf(at, "$math.pow expects 2 arguments")
		}
		return NumVal(math.Pow(arg(0), arg(1))), nil
	case "log":
		return NumVal(math.Log(arg(0))), nil
	case "sqrt":
		return NumVal(math.Sqrt(arg(0))), nil
	case "floor":
		return NumVal(math.Floor(arg(0))), nil
	case "ceil":
		return NumVal(math.Ceil(arg(0))), nil
	case "round":
		return NumVal(math.Round(arg(0))), nil
	case "random":
		seed := ev.Seed
		if len(args) > 0 {
			seed = args[0]
		}
		return NumVal(seedRandom(seed)), nil
	case "lerp":
		if len(args) < 3 {
			return NullValue, evalErrf(at, "$math.lerp expects 3 arguments (a, b, t)")
		}
		return NumVal(args[0] + (args[1]-args[0])*args[2]), nil
	}
	return NullValue, evalErrf(at, "unknown function $math.%s", name)
}

// seedRandom is the deterministic sine-hash pseudo-random in [-1, 1].
func seedRandom(seed float64) float64 {
	x := math.Sin(seed*12.9898) * 43758.547
	frac := x - math.Floor(x)
	return clampFloat(frac*2-1, -1, 1)
}

// callEasing dispatches $easing.<fn>(t); every function maps [0,1] → [0,1]
// apart from the deliberate back/elastic overshoots.
func (ev *Evaluator) callEasing(at Expr, name string, args []float64) (Value, error) {
	if len(args) < 1 {
		return NullValue, evalErrf(at, "$easing.%s expects 1 argument (t)", name)
	}
	v, ok := Easing(name, args[0])
	if !ok {
		return NullValue, evalErrf(at, "unknown function $easing.%s", name)
	}
	return NumVal(v), nil
}

// Easing evaluates a named easing function at t (clamped into [0,1]).
func Easing(name string, t float64) (float64, bool) {
	x := clampFloat(t, 0, 1)
	switch name {
	case "linear":
		return x, true
	case "easeInQuad":
		return x * x, true
	case "easeOutQuad":
		return x * (2 - x), true
	case "easeInOutQuad":
		if x < 0.5 {
			return 2 * x * x, true
		}
		return -1 + (4-2*x)*x, true
	case "easeInCubic":
		return x * x * x, true
	case "easeOutCubic":
		return 1 - math.Pow(1-x, 3), true
	case "easeInOutCubic":
		if x < 0.5 {
			return 4 * x * x * x, true
		}
		return 1 - math.Pow(-2*x+2, 3)/2, true
	case "easeInQuart":
		return math.Pow(x, 4), true
	case "easeOutQuart":
		return 1 - math.Pow(1-x, 4), true
	case "easeInOutQuart":
		if x < 0.5 {
			return 8 * math.Pow(x, 4), true
		}
		return 1 - math.Pow(-2*x+2, 4)/2, true
	case "easeInExpo":
		if x <= 0 {
			return 0, true
		}
		return math.Pow(2, 10*x-10), true
	case "easeOutExpo":
		if x >= 1 {
			return 1, true
		}
		return 1 - math.Pow(2, -10*x), true
	case "easeInOutExpo":
		switch {
		case x <= 0:
			return 0, true
		case x >= 1:
			return 1, true
		case x < 0.5:
			return math.Pow(2, 20*x-10) / 2, true
		default:
			return (2 - math.Pow(2, -20*x+10)) / 2, true
		}
	case "easeInBack":
		const c = 1.70158
		return (c+1)*x*x*x - c*x*x, true
	case "easeOutBack":
		const c = 1.70158
		y := 1 - x
		return 1 - ((c+1)*y*y*y - c*y*y), true
	case "easeInOutBack":
		const c1 = 1.70158
		const c2 = c1 * 1.525
		x2 := x * 2
		if x2 < 1 {
			return (x2 * x2 * ((c2+1)*x2 - c2)) / 2, true
		}
		x2 -= 2
		return (x2*x2*((c2+1)*x2+c2))/2 + 1, true
	case "easeInElastic":
		if x == 0 || x == 1 {
			return x, true
		}
		c := 2 * math.Pi / 3
		return -math.Pow(2, 10*x-10) * math.Sin((x*10-10.75)*c), true
	case "easeOutElastic":
		if x == 0 || x == 1 {
			return x, true
		}
		c := 2 * math.Pi / 3
		return math.Pow(2, -10*x)*math.Sin((x*10-0.75)*c) + 1, true
	case "easeInOutElastic":
		if x == 0 || x == 1 {
			return x, true
		}
		c := 2 * math.Pi / 4.5
		if x < 0.5 {
			return -math.Pow(2, 20*x-10) * math.Sin((20*x-11.125)*c) / 2, true
		}
		return math.Pow(2, -20*x+10)*math.Sin((20*x-11.125)*c)/2 + 1, true
	case "easeInBounce":
		return 1 - bounceOut(1-x), true
	case "easeOutBounce":
		return bounceOut(x), true
	case "easeInOutBounce":
		if x < 0.5 {
			return (1 - bounceOut(1-2*x)) / 2, true
		}
		return (1 + bounceOut(2*x-1)) / 2, true
	}
	return 0, false
}

func bounceOut(x float64) float64 {
	const n1 = 7.5625
	const d1 = 2.75
	switch {
	case x < 1/d1:
		return n1 * x * x
	case x < 2/d1:
		x -= 1.5 / d1
		return n1*x*x + 0.75
	case x < 2.5/d1:
		x -= 2.25 / d1
		return n1*x*x + 0.9375
	default:
		x -= 2.625 / d1
		return n1*x*x + 0.984375
	}
}

// callMod dispatches $mod.<fn>(args): LFO shapes over the current beat and
// the normalized ADSR envelope.
func (ev *Evaluator) callMod(at Expr, name string, args []float64) (Value, error) {
	arg := func(i, def float64) float64 {
		if int(i) < len(args) {
			return args[int(i)]
		}
		return def
	}
	switch name {
	case "lfo.sine":
		rate := arg(0, 1)
		return NumVal(math.Sin(2 * math.Pi * rate * ev.Beat)), nil
	case "lfo.tri", "lfo.triangle":
		rate := arg(0, 1)
		phase := rate * ev.Beat
		phase -= math.Floor(phase)
		return NumVal(4*math.Abs(phase-0.5) - 1), nil
	case "envelope":
		if len(args) < 5 {
			return NullValue, evalErrf(at, "$mod.envelope expects 5 arguments (a, d, s, r, t)")
		}
		return NumVal(normalizedADSR(args[0], args[1], args[2], args[3], clampFloat(args[4], 0, 1))), nil
	}
	return NullValue, evalErrf(at, "unknown function $mod.%s", name)
}

// normalizedADSR evaluates an attack/decay/sustain/release envelope whose
// whole span is normalized onto t ∈ [0,1]. The sustain plateau occupies
// whatever the a+d+r proportions leave over.
func normalizedADSR(attack, decay, sustain, release, t float64) float64 {
	a := math.Max(attack, 0)
	d := math.Max(decay, 0)
	r := math.Max(release, 0)
	s := clampFloat(sustain, 0, 1)

	total := math.Max(a+d+r, 1e-6)
	ap := a / total
	dp := d / total
	rp := r / total

	switch {
	case t < ap:
		if ap > 0 {
			return t / ap
		}
		return 1
	case t < ap+dp:
		u := (t - ap) / math.Max(dp, 1e-6)
		return 1 - (1-s)*u
	case t < 1-rp:
		return s
	default:
		u := (t - (1 - rp)) / math.Max(rp, 1e-6)
		return s * (1 - u)
	}
}

// curveHandle builds the Value representation of a $curve constructor; the
// automation engine decodes it back into a CurveSpec.
func curveHandle(name string, args []float64) Value {
	m := NewMapObject()
	m.Set("__curve", StrVal(name))
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = NumVal(a)
	}
	m.Set("args", ArrVal(vals))
	return MapVal(m)
}

// CurveFromValue decodes a curve handle back into a CurveSpec; plain strings
// name a curve with no arguments.
func CurveFromValue(v Value) (CurveSpec, bool) {
	if s, ok := v.AsStr(); ok {
		return CurveSpec{Kind: s}, true
	}
	m, ok := v.AsMap()
	if !ok {
		return CurveSpec{}, false
	}
	kindV, ok := m.Get("__curve")
	if !ok {
		return CurveSpec{}, false
	}
	kind, _ := kindV.AsStr()
	spec := CurveSpec{Kind: kind}
	if argsV, found := m.Get("args"); found {
		if xs, isArr := argsV.AsArray(); isArr {
			for _, x := range xs {
				if n, isNum := x.AsNum(); isNum {
					spec.Args = append(spec.Args, n)
				}
			}
		}
	}
	return spec, true
}
