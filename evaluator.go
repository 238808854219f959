// evaluator.go — eager, recursive expression evaluation over Values.
//
// The evaluator owns a scope stack and the ambient render context (tempo,
// current beat, session seed) that the `$env` namespace exposes. Evaluation
// is pure apart from scope mutation: given the same scope, context, and
// seed, every expression evaluates to the same Value.
//
// A depth guard bounds recursion so self-referential user functions (and
// `$math` chains built from them) fail with a diagnostic instead of blowing
// the stack.
package devalang

import (
	"fmt"
	"math"
	"strings"
)

// maxEvalDepth bounds expression/function recursion.
const maxEvalDepth = 256

// Evaluator evaluates expressions and the value-level statement subset that
// may appear inside function bodies.
type Evaluator struct {
	Scope *Scope

	// Ambient context surfaced via $env.
	Bpm  float64
	Beat float64
	Seed float64

	depth int
}

// NewEvaluator returns an evaluator over the given scope with defaults.
func NewEvaluator(scope *Scope) *Evaluator {
	return &Evaluator{Scope: scope, Bpm: DefaultBPM}
}

func evalErrf(e Expr, format string, args ...interface{}) error {
	line, col := ExprPos(e)
	return &EvalError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// Eval evaluates an expression to a Value.
func (ev *Evaluator) Eval(e Expr) (Value, error) {
	if ev.depth >= maxEvalDepth {
		return NullValue, evalErrf(e, "recursion depth exceeded (max %d)", maxEvalDepth)
	}
	ev.depth++
	defer func() { ev.depth-- }()

	switch x := e.(type) {
	case *NumberLit:
		return NumVal(x.V), nil
	case *StringLit:
		return StrVal(x.V), nil
	case *BoolLit:
		return BoolVal(x.V), nil
	case *DurLit:
		return DurVal(x.V), nil
	case *IdentExpr:
		return ev.evalIdent(x)
	case *ArrayLit:
		out := make([]Value, 0, len(x.Elems))
		for _, el := range x.Elems {
			v, err := ev.Eval(el)
			if err != nil {
				return NullValue, err
			}
			out = append(out, v)
		}
		return ArrVal(out), nil
	case *RangeLit:
		return ev.evalRange(x)
	case *MapLit:
		m := NewMapObject()
		for i, k := range x.MapKeys {
			v, err := ev.Eval(x.Vals[i])
			if err != nil {
				return NullValue, err
			}
			m.Set(k, v)
		}
		return MapVal(m), nil
	case *UnaryExpr:
		return ev.evalUnary(x)
	case *BinExpr:
		return ev.evalBinary(x)
	case *CallExpr:
		return ev.evalCall(x)
	case *IndexExpr:
		return ev.evalIndex(x)
	case *FieldExpr:
		return ev.evalField(x)
	case *SynthExpr:
		return ev.evalSynth(x)
	default:
		return NullValue, evalErrf(e, "unsupported expression")
	}
}

func (ev *Evaluator) evalIdent(x *IdentExpr) (Value, error) {
	switch x.Name {
	case "$beat":
		return NumVal(ev.Beat), nil
	case "$bar":
		return NumVal(ev.Beat / BeatsPerBar), nil
	}
	if strings.HasPrefix(x.Name, "$") {
		// Bare namespace reference; only useful as a field-access base.
		return IdentVal(x.Name), nil
	}
	if v, ok := ev.Scope.Lookup(x.Name); ok {
		return v, nil
	}
	line, col := x.Line, x.Col
	return NullValue, &EvalError{
		Line: line, Col: col,
		Msg:        fmt.Sprintf("undefined identifier %q", x.Name),
		Suggestion: suggestName(x.Name, ev.Scope.Names()),
	}
}

func (ev *Evaluator) evalRange(x *RangeLit) (Value, error) {
	lo, err := ev.Eval(x.Lo)
	if err != nil {
		return NullValue, err
	}
	hi, err := ev.Eval(x.Hi)
	if err != nil {
		return NullValue, err
	}
	a, ok1 := lo.AsNum()
	b, ok2 := hi.AsNum()
	if !ok1 || !ok2 {
		return NullValue, evalErrf(x, "range bounds must be numbers")
	}
	var out []Value
	if a <= b {
		for v := a; v <= b; v++ {
			out = append(out, NumVal(v))
		}
	} else {
		for v := a; v >= b; v-- {
			out = append(out, NumVal(v))
		}
	}
	return ArrVal(out), nil
}

func (ev *Evaluator) evalUnary(x *UnaryExpr) (Value, error) {
	v, err := ev.Eval(x.X)
	if err != nil {
		return NullValue, err
	}
	switch x.Op {
	case "-":
		n, ok := v.AsNum()
		if !ok {
			return NullValue, evalErrf(x, "unary '-' requires a number, got %v", v)
		}
		return NumVal(-n), nil
	case "not":
		return BoolVal(!v.Truthy()), nil
	}
	return NullValue, evalErrf(x, "unknown unary operator %q", x.Op)
}

func (ev *Evaluator) evalBinary(x *BinExpr) (Value, error) {
	// Short-circuit logic first.
	if x.Op == "and" || x.Op == "or" {
		l, err := ev.Eval(x.L)
		if err != nil {
			return NullValue, err
		}
		if x.Op == "and" && !l.Truthy() {
			return BoolVal(false), nil
		}
		if x.Op == "or" && l.Truthy() {
			return BoolVal(true), nil
		}
		r, err := ev.Eval(x.R)
		if err != nil {
			return NullValue, err
		}
		return BoolVal(r.Truthy()), nil
	}

	l, err := ev.Eval(x.L)
	if err != nil {
		return NullValue, err
	}
	r, err := ev.Eval(x.R)
	if err != nil {
		return NullValue, err
	}

	switch x.Op {
	case "+":
		// String concatenation stringifies the other side.
		if l.Tag == VTStr || r.Tag == VTStr {
			return StrVal(l.String() + r.String()), nil
		}
		if ln, ok := l.AsNum(); ok {
			if rn, ok2 := r.AsNum(); ok2 {
				return NumVal(ln + rn), nil
			}
		}
		if l.Tag == VTArray && r.Tag == VTArray {
			a := l.Data.([]Value)
			b := r.Data.([]Value)
			return ArrVal(append(append([]Value{}, a...), b...)), nil
		}
		return NullValue, evalErrf(x, "cannot add %v and %v", tagName(l.Tag), tagName(r.Tag))
	case "-", "*", "/":
		ln, ok1 := l.AsNum()
		rn, ok2 := r.AsNum()
		if !ok1 || !ok2 {
			return NullValue, evalErrf(x, "arithmetic requires numbers, got %v and %v", tagName(l.Tag), tagName(r.Tag))
		}
		switch x.Op {
		case "-":
			return NumVal(ln - rn), nil
		case "*":
			return NumVal(ln * rn), nil
		default:
			if rn == 0 {
				return NullValue, evalErrf(x, "division by zero")
			}
			return NumVal(ln / rn), nil
		}
	case "==":
		return BoolVal(l.Equal(r)), nil
	case "!=":
		return BoolVal(!l.Equal(r)), nil
	case "<", "<=", ">", ">=":
		return ev.compare(x, l, r)
	}
	return NullValue, evalErrf(x, "unknown operator %q", x.Op)
}

func (ev *Evaluator) compare(x *BinExpr, l, r Value) (Value, error) {
	if ln, ok := l.AsNum(); ok {
		if rn, ok2 := r.AsNum(); ok2 {
			return BoolVal(cmpFloat(x.Op, ln, rn)), nil
		}
	}
	if ls, ok := l.AsStr(); ok {
		if rs, ok2 := r.AsStr(); ok2 {
			return BoolVal(cmpString(x.Op, ls, rs)), nil
		}
	}
	return NullValue, evalErrf(x, "cannot compare %v and %v", tagName(l.Tag), tagName(r.Tag))
}

func cmpFloat(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

func cmpString(op, a, b string) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

// evalCall dispatches special-namespace calls ($math/$easing/$mod), then
// user-defined functions.
func (ev *Evaluator) evalCall(x *CallExpr) (Value, error) {
	if ns, path, ok := specialPath(x.Callee); ok {
		args := make([]float64, 0, len(x.Args))
		for _, a := range x.Args {
			v, err := ev.Eval(a)
			if err != nil {
				return NullValue, err
			}
			n, isNum := v.AsNum()
			if !isNum {
				if d, isDur := v.AsDur(); isDur && d.Kind != DurAuto {
					n = d.Beats(ev.Bpm)
				} else {
					return NullValue, evalErrf(x, "%s.%s expects numeric arguments", ns, path)
				}
			}
			args = append(args, n)
		}
		// Resolution order when namespaces collide: $mod, $easing, $curve,
		// then $math.
		switch ns {
		case "$mod":
			return ev.callMod(x, path, args)
		case "$easing":
			return ev.callEasing(x, path, args)
		case "$curve":
			// Curve constructors evaluate to a curve handle for automation.
			return curveHandle(path, args), nil
		case "$math":
			return ev.callMath(x, path, args)
		default:
			return NullValue, evalErrf(x, "unknown namespace %q", ns)
		}
	}

	callee, err := ev.Eval(x.Callee)
	if err != nil {
		return NullValue, err
	}
	if callee.Tag != VTFun {
		return NullValue, evalErrf(x, "value is not callable")
	}
	fn := callee.Data.(*Function)
	if len(x.Args) != len(fn.Params) {
		return NullValue, evalErrf(x, "%s expects %d argument(s), got %d", fn.Name, len(fn.Params), len(x.Args))
	}
	args := make([]Value, len(x.Args))
	for i, a := range x.Args {
		v, err := ev.Eval(a)
		if err != nil {
			return NullValue, err
		}
		args[i] = v
	}
	return ev.CallFunction(fn, args, x)
}

// CallFunction applies a user function. The closure scope snapshot gains one
// call frame holding the parameters.
func (ev *Evaluator) CallFunction(fn *Function, args []Value, at Expr) (Value, error) {
	if ev.depth >= maxEvalDepth {
		return NullValue, evalErrf(at, "recursion depth exceeded (max %d)", maxEvalDepth)
	}
	callScope := fn.Closure.Snapshot()
	callScope.Push()
	for i, p := range fn.Params {
		callScope.Define(p, args[i], false)
	}
	sub := &Evaluator{Scope: callScope, Bpm: ev.Bpm, Beat: ev.Beat, Seed: ev.Seed, depth: ev.depth + 1}
	ret, _, err := sub.ExecBody(fn.Body)
	if err != nil {
		return NullValue, err
	}
	return ret, nil
}

// execSignal describes how a statement sequence ended.
type execSignal int

const (
	sigNone execSignal = iota
	sigBreak
	sigReturn
)

// ExecBody executes the value-level statement subset allowed inside function
// bodies: declarations, assignment, if/for/loop, return, break. Musical
// statements are rejected — the scheduler owns side effects. Returns the
// function result plus the control-flow signal that ended the body.
func (ev *Evaluator) ExecBody(body []Statement) (Value, execSignal, error) {
	for i := range body {
		st := &body[i]
		switch st.Kind {
		case StLet:
			v, err := ev.Eval(st.Expr)
			if err != nil {
				return NullValue, sigNone, err
			}
			ev.Scope.Define(st.Name, v, st.Decl == DeclConst)
		case StAssign:
			v, err := ev.Eval(st.Expr)
			if err != nil {
				return NullValue, sigNone, err
			}
			ok, constErr := ev.Scope.Assign(st.Name, v)
			if constErr {
				return NullValue, sigNone, &EvalError{Line: st.Line, Col: st.Col, Msg: fmt.Sprintf("cannot rebind const %q", st.Name)}
			}
			if !ok {
				ev.Scope.Define(st.Name, v, false)
			}
		case StIf:
			cond, err := ev.Eval(st.Expr)
			if err != nil {
				return NullValue, sigNone, err
			}
			branch := st.Else
			if cond.Truthy() {
				branch = st.Body
			}
			ret, sig, err := ev.ExecBody(branch)
			if err != nil || sig != sigNone {
				return ret, sig, err
			}
		case StFor:
			iter, err := ev.Eval(st.Expr)
			if err != nil {
				return NullValue, sigNone, err
			}
			items, ok := iter.AsArray()
			if !ok {
				return NullValue, sigNone, &EvalError{Line: st.Line, Col: st.Col, Msg: "for loop requires an array"}
			}
			ev.Scope.Push()
			for _, it := range items {
				ev.Scope.Define(st.Var, it, false)
				ret, sig, err := ev.ExecBody(st.Body)
				if err != nil {
					ev.Scope.Pop()
					return NullValue, sigNone, err
				}
				if sig == sigReturn {
					ev.Scope.Pop()
					return ret, sigReturn, nil
				}
				if sig == sigBreak {
					break
				}
			}
			ev.Scope.Pop()
		case StLoop:
			count := 0.0
			if st.Expr != nil {
				v, err := ev.Eval(st.Expr)
				if err != nil {
					return NullValue, sigNone, err
				}
				n, ok := v.AsNum()
				if !ok {
					return NullValue, sigNone, &EvalError{Line: st.Line, Col: st.Col, Msg: "loop count must be a number"}
				}
				count = n
			}
			for k := 0; k < int(count); k++ {
				ret, sig, err := ev.ExecBody(st.Body)
				if err != nil {
					return NullValue, sigNone, err
				}
				if sig == sigReturn {
					return ret, sigReturn, nil
				}
				if sig == sigBreak {
					break
				}
			}
		case StReturn:
			if st.Expr == nil {
				return NullValue, sigReturn, nil
			}
			v, err := ev.Eval(st.Expr)
			if err != nil {
				return NullValue, sigNone, err
			}
			return v, sigReturn, nil
		case StBreak:
			return NullValue, sigBreak, nil
		case StFunction:
			fn := &Function{Name: st.Name, Params: st.Params, Body: st.Body}
			ev.Scope.Define(st.Name, FunVal(fn), false)
			fn.Closure = ev.Scope.Snapshot()
		case StPrint:
			// Print inside a pure function body is evaluated for errors but
			// produces no output; the scheduler owns the log stream.
			if _, err := ev.Eval(st.Expr); err != nil {
				return NullValue, sigNone, err
			}
		default:
			return NullValue, sigNone, &EvalError{
				Line: st.Line, Col: st.Col,
				Msg: fmt.Sprintf("%v statement is not allowed inside a function body", st.Kind),
			}
		}
	}
	return NullValue, sigNone, nil
}

func (ev *Evaluator) evalIndex(x *IndexExpr) (Value, error) {
	base, err := ev.Eval(x.X)
	if err != nil {
		return NullValue, err
	}
	idx, err := ev.Eval(x.Idx)
	if err != nil {
		return NullValue, err
	}
	switch base.Tag {
	case VTArray:
		n, ok := idx.AsNum()
		if !ok {
			return NullValue, evalErrf(x, "array index must be a number")
		}
		xs := base.Data.([]Value)
		i := int(n)
		if i < 0 || i >= len(xs) {
			return NullValue, evalErrf(x, "index %d out of range (len %d)", i, len(xs))
		}
		return xs[i], nil
	case VTMap:
		k, ok := idx.AsStr()
		if !ok {
			return NullValue, evalErrf(x, "map key must be a string")
		}
		if v, found := base.Data.(*MapObject).Get(k); found {
			return v, nil
		}
		return NullValue, nil
	case VTStr:
		n, ok := idx.AsNum()
		if !ok {
			return NullValue, evalErrf(x, "string index must be a number")
		}
		s := base.Data.(string)
		i := int(n)
		if i < 0 || i >= len(s) {
			return NullValue, evalErrf(x, "index %d out of range (len %d)", i, len(s))
		}
		return StrVal(string(s[i])), nil
	}
	return NullValue, evalErrf(x, "value of type %v is not indexable", tagName(base.Tag))
}

func (ev *Evaluator) evalField(x *FieldExpr) (Value, error) {
	// $env fields are ambient context, not scope lookups.
	if id, ok := x.X.(*IdentExpr); ok && id.Name == "$env" {
		switch x.Name {
		case "bpm":
			return NumVal(ev.Bpm), nil
		case "beat", "position":
			return NumVal(ev.Beat), nil
		case "seed":
			return NumVal(ev.Seed), nil
		}
		return NullValue, evalErrf(x, "unknown $env field %q", x.Name)
	}
	if _, _, ok := specialPath(x); ok {
		// A bare special reference like $curve.linear evaluates to its
		// zero-argument handle (useful for automation curve slots).
		if ns, path, _ := specialPath(x); ns == "$curve" {
			return curveHandle(path, nil), nil
		}
		return NullValue, evalErrf(x, "special function reference requires a call")
	}
	base, err := ev.Eval(x.X)
	if err != nil {
		return NullValue, err
	}
	switch base.Tag {
	case VTMap:
		if v, found := base.Data.(*MapObject).Get(x.Name); found {
			return v, nil
		}
		return NullValue, nil
	case VTArray:
		if x.Name == "length" {
			return NumVal(float64(len(base.Data.([]Value)))), nil
		}
	case VTStr:
		if x.Name == "length" {
			return NumVal(float64(len(base.Data.(string)))), nil
		}
	case VTIdent:
		// Dotted identifier path (e.g. a bank alias trigger): keep the path
		// symbolic for the scheduler.
		return IdentVal(base.Data.(string) + "." + x.Name), nil
	}
	return NullValue, evalErrf(x, "value of type %v has no field %q", tagName(base.Tag), x.Name)
}

func (ev *Evaluator) evalSynth(x *SynthExpr) (Value, error) {
	m := NewMapObject()
	m.Set("__synth", BoolVal(true))
	m.Set("waveform", StrVal(x.Waveform))
	if x.Options != nil {
		opts, err := ev.Eval(x.Options)
		if err != nil {
			return NullValue, err
		}
		if om, ok := opts.AsMap(); ok {
			for _, k := range om.Keys {
				m.Set(k, om.Entries[k])
			}
		} else {
			return NullValue, evalErrf(x, "synth options must be a map")
		}
	}
	return MapVal(m), nil
}

// specialPath recognizes chains rooted at a reserved `$` namespace and
// returns the namespace plus the dotted method path ("lfo.sine").
func specialPath(e Expr) (ns, path string, ok bool) {
	var parts []string
	for {
		switch x := e.(type) {
		case *FieldExpr:
			parts = append([]string{x.Name}, parts...)
			e = x.X
		case *IdentExpr:
			if strings.HasPrefix(x.Name, "$") && x.Name != "$env" && x.Name != "$beat" && x.Name != "$bar" {
				if len(parts) == 0 {
					return "", "", false
				}
				return x.Name, strings.Join(parts, "."), true
			}
			return "", "", false
		default:
			return "", "", false
		}
	}
}

func tagName(t ValueTag) string {
	switch t {
	case VTNull:
		return "null"
	case VTBool:
		return "boolean"
	case VTNum:
		return "number"
	case VTStr:
		return "string"
	case VTDur:
		return "duration"
	case VTIdent:
		return "identifier"
	case VTSample:
		return "sample"
	case VTArray:
		return "array"
	case VTMap:
		return "map"
	case VTBlock:
		return "block"
	case VTFun:
		return "function"
	}
	return "unknown"
}

// suggestName picks the closest existing name within edit distance 2, for
// "did you mean" hints on undefined identifiers.
func suggestName(want string, have []string) string {
	best := ""
	bestDist := 3
	for _, h := range have {
		d := editDistance(want, h)
		if d < bestDist {
			bestDist = d
			best = h
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("did you mean %q?", best)
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, minInt(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
