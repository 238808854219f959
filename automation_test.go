package devalang

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomation_LinearSampling(t *testing.T) {
	a := NewAutomation("s", "volume", []Keypoint{
		{Frac: 0, Value: 0},
		{Frac: 1, Value: 10},
	}, CurveSpec{Kind: "linear"}, AutomationGlobal)

	assert.InDelta(t, 0, a.SampleAt(0), 1e-9)
	assert.InDelta(t, 5, a.SampleAt(0.5), 1e-9)
	assert.InDelta(t, 10, a.SampleAt(1), 1e-9)
}

func TestAutomation_ClampsOutsideKeypoints(t *testing.T) {
	a := NewAutomation("s", "cutoff", []Keypoint{
		{Frac: 0.25, Value: 100},
		{Frac: 0.75, Value: 200},
	}, CurveSpec{}, AutomationGlobal)

	assert.InDelta(t, 100, a.SampleAt(0), 1e-9)
	assert.InDelta(t, 100, a.SampleAt(0.1), 1e-9)
	assert.InDelta(t, 200, a.SampleAt(0.9), 1e-9)
	assert.InDelta(t, 200, a.SampleAt(5), 1e-9) // t clamps into [0,1]
}

func TestAutomation_KeypointsSortedAndClamped(t *testing.T) {
	a := NewAutomation("s", "p", []Keypoint{
		{Frac: 1.7, Value: 3}, // clamps to 1
		{Frac: 0.5, Value: 2},
		{Frac: -0.2, Value: 1}, // clamps to 0
	}, CurveSpec{}, AutomationPerNote)

	require.Len(t, a.Keypoints, 3)
	assert.Equal(t, 0.0, a.Keypoints[0].Frac)
	assert.Equal(t, 0.5, a.Keypoints[1].Frac)
	assert.Equal(t, 1.0, a.Keypoints[2].Frac)
	assert.InDelta(t, 1.5, a.SampleAt(0.25), 1e-9)
}

func TestAutomation_CurveShapesBracket(t *testing.T) {
	a := NewAutomation("s", "p", []Keypoint{
		{Frac: 0, Value: 0},
		{Frac: 1, Value: 1},
	}, CurveSpec{Kind: "easeIn"}, AutomationGlobal)
	// easeIn squares the local progress.
	assert.InDelta(t, 0.25, a.SampleAt(0.5), 1e-9)
}

func TestCurve_Step(t *testing.T) {
	c := CurveSpec{Kind: "step", Args: []float64{4}}
	assert.InDelta(t, 0, EvaluateCurve(c, 0.1), 1e-9)
	assert.InDelta(t, 1.0/3.0, EvaluateCurve(c, 0.3), 1e-9)
	assert.InDelta(t, 2.0/3.0, EvaluateCurve(c, 0.6), 1e-9)
	assert.InDelta(t, 1, EvaluateCurve(c, 0.99), 1e-9)
}

func TestCurve_BezierEndpoints(t *testing.T) {
	c := CurveSpec{Kind: "bezier", Args: []float64{0.25, 0.1, 0.25, 1}}
	assert.InDelta(t, 0, EvaluateCurve(c, 0), 1e-6)
	assert.InDelta(t, 1, EvaluateCurve(c, 1), 1e-6)
	mid := EvaluateCurve(c, 0.5)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
}

func TestCurve_RandomAndPerlinAreSeedDeterministic(t *testing.T) {
	r1 := CurveSpec{Kind: "random", Seed: 5}
	r2 := CurveSpec{Kind: "random", Seed: 5}
	r3 := CurveSpec{Kind: "random", Seed: 6}
	for _, p := range []float64{0, 0.3, 0.7, 1} {
		assert.Equal(t, EvaluateCurve(r1, p), EvaluateCurve(r2, p))
	}
	differs := false
	for _, p := range []float64{0.1, 0.4, 0.8} {
		if EvaluateCurve(r1, p) != EvaluateCurve(r3, p) {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds should differ somewhere")

	p1 := CurveSpec{Kind: "perlin", Seed: 5}
	p2 := CurveSpec{Kind: "perlin", Seed: 5}
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		v := EvaluateCurve(p1, p)
		assert.Equal(t, v, EvaluateCurve(p2, p))
		assert.False(t, math.IsNaN(v))
	}
}

func TestCurve_EasingNamesWork(t *testing.T) {
	c := CurveSpec{Kind: "easeInOutCubic"}
	assert.InDelta(t, 0, EvaluateCurve(c, 0), 1e-9)
	assert.InDelta(t, 1, EvaluateCurve(c, 1), 1e-9)
	assert.InDelta(t, 0.5, EvaluateCurve(c, 0.5), 1e-9)
}

func TestParseKeypointMap(t *testing.T) {
	m := NewMapObject()
	m.Set("0%", NumVal(0))
	m.Set("50%", NumVal(0.4))
	m.Set("100%", NumVal(1))
	points, ok := ParseKeypointMap(MapVal(m))
	require.True(t, ok)
	require.Len(t, points, 3)
	assert.Equal(t, Keypoint{Frac: 0, Value: 0}, points[0])
	assert.Equal(t, Keypoint{Frac: 0.5, Value: 0.4}, points[1])
	assert.Equal(t, Keypoint{Frac: 1, Value: 1}, points[2])

	// Non-numeric values are rejected.
	bad := NewMapObject()
	bad.Set("0%", StrVal("x"))
	_, ok = ParseKeypointMap(MapVal(bad))
	assert.False(t, ok)
}

func TestLFO_Shapes(t *testing.T) {
	sine := LFO{Rate: 1, Depth: 1, Shape: LFOSine}
	assert.InDelta(t, 0, sine.ValueAt(0), 1e-9)
	assert.InDelta(t, 1, sine.ValueAt(0.25), 1e-9)
	assert.InDelta(t, -1, sine.ValueAt(0.75), 1e-9)

	tri := LFO{Rate: 1, Depth: 1, Shape: LFOTriangle}
	assert.InDelta(t, 1, tri.ValueAt(0), 1e-9)
	assert.InDelta(t, -1, tri.ValueAt(0.5), 1e-9)

	square := LFO{Rate: 1, Depth: 0.5, Shape: LFOSquare}
	assert.InDelta(t, 0.5, square.ValueAt(0.1), 1e-9)
	assert.InDelta(t, -0.5, square.ValueAt(0.6), 1e-9)

	// Zero depth or rate silences the modulator.
	assert.Zero(t, LFO{Rate: 0, Depth: 1}.ValueAt(3))
	assert.Zero(t, LFO{Rate: 1, Depth: 0}.ValueAt(3))
}

func TestLFO_DepthScalesOutput(t *testing.T) {
	l := LFO{Rate: 2, Depth: 0.25, Shape: LFOSine}
	for _, beat := range []float64{0, 0.1, 0.2, 0.3} {
		assert.LessOrEqual(t, math.Abs(l.ValueAt(beat)), 0.25+1e-9)
	}
}
