package devalang

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evalExpr parses `let __v = <src>` and evaluates the right-hand side.
func evalExpr(t *testing.T, src string, setup func(*Scope)) (Value, error) {
	t.Helper()
	res := Parse("let __v = " + src + "\n")
	require.True(t, res.OK, "parse errors for %q: %v", src, res.Errors)
	require.Len(t, res.Statements, 1)
	scope := NewScope()
	if setup != nil {
		setup(scope)
	}
	ev := NewEvaluator(scope)
	return ev.Eval(res.Statements[0].Expr)
}

func mustNum(t *testing.T, src string, setup func(*Scope)) float64 {
	t.Helper()
	v, err := evalExpr(t, src, setup)
	require.NoError(t, err)
	n, ok := v.AsNum()
	require.True(t, ok, "expected number, got %v", v)
	return n
}

func TestEvaluator_Arithmetic(t *testing.T) {
	cases := map[string]float64{
		"1 + 2 * 3":       7,
		"(1 + 2) * 3":     9,
		"10 / 4":          2.5,
		"2 * 3 - 4 / 2":   4,
		"-3 + 1":          -2,
		"$math.pow(2, 8)": 256,
	}
	for src, want := range cases {
		assert.InDelta(t, want, mustNum(t, src, nil), 1e-9, "source: %s", src)
	}
}

func TestEvaluator_DivisionByZero(t *testing.T) {
	_, err := evalExpr(t, "1 / 0", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestEvaluator_StringConcatStringifies(t *testing.T) {
	cases := map[string]string{
		`"n=" + 42`:        "n=42",
		`"b=" + true`:      "b=true",
		`"v=" + 0.5`:       "v=0.5",
		`1 + "x"`:          "1x",
		`"arr=" + [1, 2]`:  "arr=[1, 2]",
	}
	for src, want := range cases {
		v, err := evalExpr(t, src, nil)
		require.NoError(t, err, "source: %s", src)
		s, ok := v.AsStr()
		require.True(t, ok)
		assert.Equal(t, want, s, "source: %s", src)
	}
}

func TestEvaluator_Comparisons(t *testing.T) {
	cases := map[string]bool{
		"1 < 2":            true,
		"2 <= 2":           true,
		"3 > 4":            false,
		"1 == 1":           true,
		"1 != 1":           false,
		`"a" < "b"`:        true,
		"true and 1 < 2":   true,
		"false or 2 == 2":  true,
		"not true":         false,
		"[1, 2] == [1, 2]": true,
	}
	for src, want := range cases {
		v, err := evalExpr(t, src, nil)
		require.NoError(t, err, "source: %s", src)
		b, ok := v.AsBool()
		require.True(t, ok, "source: %s", src)
		assert.Equal(t, want, b, "source: %s", src)
	}
}

func TestEvaluator_TypeMismatch(t *testing.T) {
	_, err := evalExpr(t, `"a" - 1`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arithmetic requires numbers")
}

func TestEvaluator_UndefinedIdentifierSuggests(t *testing.T) {
	_, err := evalExpr(t, "tempoo", func(s *Scope) {
		s.Define("tempo2", NumVal(1), false)
	})
	require.Error(t, err)
	ee, ok := err.(*EvalError)
	require.True(t, ok)
	assert.Contains(t, ee.Msg, "undefined identifier")
	assert.Contains(t, ee.Suggestion, "tempo2")
}

func TestEvaluator_Range(t *testing.T) {
	v, err := evalExpr(t, "[1..4]", nil)
	require.NoError(t, err)
	xs, ok := v.AsArray()
	require.True(t, ok)
	require.Len(t, xs, 4)
	assert.Equal(t, 1.0, xs[0].Data)
	assert.Equal(t, 4.0, xs[3].Data)
}

func TestEvaluator_MapAndIndex(t *testing.T) {
	v, err := evalExpr(t, `{ a: 1, b: [10, 20] }.b[1]`, nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Data)

	// Map literals preserve insertion order.
	mv, err := evalExpr(t, `{ z: 1, a: 2, m: 3 }`, nil)
	require.NoError(t, err)
	m, ok := mv.AsMap()
	require.True(t, ok)
	assert.Equal(t, []string{"z", "a", "m"}, m.Keys)
}

func TestEvaluator_IndexOutOfRange(t *testing.T) {
	_, err := evalExpr(t, "[1, 2][5]", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestEvaluator_FunctionsAndReturn(t *testing.T) {
	src := `function fib(n):
  if n < 2:
    return n
  return fib(n - 1) + fib(n - 2)
let out = fib(10)
`
	res := Parse(src)
	require.True(t, res.OK, "errors: %v", res.Errors)
	scope := NewScope()
	ev := NewEvaluator(scope)
	_, _, err := ev.ExecBody(res.Statements)
	require.NoError(t, err)
	v, ok := scope.Lookup("out")
	require.True(t, ok)
	assert.Equal(t, 55.0, v.Data)
}

func TestEvaluator_RecursionDepthGuard(t *testing.T) {
	src := `function boom(n):
  return boom(n + 1)
let out = boom(0)
`
	res := Parse(src)
	require.True(t, res.OK)
	ev := NewEvaluator(NewScope())
	_, _, err := ev.ExecBody(res.Statements)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursion depth")
}

func TestEvaluator_ConstRebindIsError(t *testing.T) {
	src := "const a = 1\na = 2\n"
	res := Parse(src)
	require.True(t, res.OK)
	ev := NewEvaluator(NewScope())
	_, _, err := ev.ExecBody(res.Statements)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "const")
}

func TestEvaluator_EnvNamespace(t *testing.T) {
	ev := NewEvaluator(NewScope())
	ev.Bpm = 140
	ev.Beat = 8
	ev.Seed = 42

	res := Parse("let v = $env.bpm + $env.beat + $env.seed + $env.position\n")
	require.True(t, res.OK)
	v, err := ev.Eval(res.Statements[0].Expr)
	require.NoError(t, err)
	assert.InDelta(t, 140+8+42+8, v.Data.(float64), 1e-9)
}

func TestEvaluator_MathNamespace(t *testing.T) {
	assert.InDelta(t, 0.5, mustNum(t, "$math.lerp(0, 1, 0.5)", nil), 1e-12)
	assert.InDelta(t, math.Sqrt(2), mustNum(t, "$math.sqrt(2)", nil), 1e-12)
	assert.InDelta(t, 3, mustNum(t, "$math.max(3, $math.min(1, 2))", nil), 1e-12)
	// Seeded random is deterministic and bounded.
	a := mustNum(t, "$math.random(7)", nil)
	b := mustNum(t, "$math.random(7)", nil)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, math.Abs(a), 1.0)
}

func TestEvaluator_EasingBounds(t *testing.T) {
	names := []string{
		"linear", "easeInQuad", "easeOutQuad", "easeInOutQuad",
		"easeInCubic", "easeOutCubic", "easeInOutCubic",
		"easeInQuart", "easeOutQuart", "easeInOutQuart",
		"easeInExpo", "easeOutExpo", "easeInOutExpo",
		"easeInBounce", "easeOutBounce", "easeInOutBounce",
	}
	for _, name := range names {
		lo, ok := Easing(name, 0)
		require.True(t, ok, name)
		hi, ok := Easing(name, 1)
		require.True(t, ok, name)
		assert.InDelta(t, 0, lo, 1e-9, name)
		assert.InDelta(t, 1, hi, 1e-9, name)
		// Out-of-range t clamps.
		under, _ := Easing(name, -3)
		over, _ := Easing(name, 7)
		assert.InDelta(t, 0, under, 1e-9, name)
		assert.InDelta(t, 1, over, 1e-9, name)
	}
}

func TestEvaluator_ModEnvelope(t *testing.T) {
	// Attack occupies 1/(1+1+2) = 25% of the normalized span.
	v := mustNum(t, "$mod.envelope(1, 1, 0.5, 2, 0.125)", nil)
	assert.InDelta(t, 0.5, v, 1e-9)
	// Sustain plateau.
	v = mustNum(t, "$mod.envelope(1, 1, 0.5, 2, 0.5)", nil)
	assert.InDelta(t, 0.5, v, 1e-9)
	// Final release lands at zero.
	v = mustNum(t, "$mod.envelope(1, 1, 0.5, 2, 1)", nil)
	assert.InDelta(t, 0, v, 1e-9)
}

func TestEvaluator_CurveHandle(t *testing.T) {
	v, err := evalExpr(t, "$curve.bezier(0.25, 0.1, 0.25, 1)", nil)
	require.NoError(t, err)
	spec, ok := CurveFromValue(v)
	require.True(t, ok)
	assert.Equal(t, "bezier", spec.Kind)
	assert.Equal(t, []float64{0.25, 0.1, 0.25, 1}, spec.Args)

	v, err = evalExpr(t, "$curve.linear", nil)
	require.NoError(t, err)
	spec, ok = CurveFromValue(v)
	require.True(t, ok)
	assert.Equal(t, "linear", spec.Kind)
}

func TestEvaluator_SynthExpr(t *testing.T) {
	v, err := evalExpr(t, `synth saw { attack: 5, type: "pluck" }`, nil)
	require.NoError(t, err)
	params, ok := SynthParamsFromValue(v)
	require.True(t, ok)
	assert.Equal(t, "saw", params.Waveform)
	assert.Equal(t, "pluck", params.Type)
	// The pluck preset zeroes sustain.
	assert.Equal(t, 0.0, params.ADSR.Sustain)
}

func TestEvaluator_SpawnScopeSnapshotIsolation(t *testing.T) {
	s := NewScope()
	s.Define("x", NumVal(1), false)
	snap := s.Snapshot()
	ok, _ := snap.Assign("x", NumVal(5))
	require.True(t, ok)

	v, _ := s.Lookup("x")
	assert.Equal(t, 1.0, v.Data, "parent scope must not observe snapshot mutation")
	v, _ = snap.Lookup("x")
	assert.Equal(t, 5.0, v.Data)
}
