// value.go — runtime value model for the Devalang core.
//
// Value is the universal tagged carrier used by every stage of the pipeline:
// the parser stores literal payloads in Values, the evaluator computes with
// them, and the scheduler reads note/effect parameters out of them. The tag
// determines which Go type Data holds (see ValueTag).
//
// Durations are a first-class case: a DurSpec is either an absolute
// millisecond amount, a musical beat fraction (num/den beats), or Auto
// ("use the natural length of the source").
package devalang

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueTag enumerates all runtime kinds a Value may hold.
type ValueTag int

const (
	VTNull   ValueTag = iota // null (no payload)
	VTBool                   // bool
	VTNum                    // float64
	VTStr                    // string
	VTDur                    // DurSpec
	VTIdent                  // string (unresolved identifier, incl. dotted paths)
	VTSample                 // string (sample URI)
	VTArray                  // []Value
	VTMap                    // *MapObject (insertion-ordered)
	VTBlock                  // []Statement (unevaluated block)
	VTFun                    // *Function (user-defined callable)
)

// DurKind discriminates the duration representations.
type DurKind int

const (
	DurMillis DurKind = iota // absolute milliseconds
	DurBeat                  // beat fraction: Num/Den beats
	DurAuto                  // natural length of the source material
)

// DurSpec is a duration literal. For DurBeat the value in beats is Num/Den;
// for DurMillis the Millis field holds the amount. DurAuto carries no payload.
type DurSpec struct {
	Kind   DurKind
	Millis float64
	Num    float64
	Den    float64
}

// Beats converts the duration to beats under the given tempo.
// Auto durations resolve to zero here; callers that can know the natural
// source length must handle DurAuto before asking for beats.
func (d DurSpec) Beats(bpm float64) float64 {
	switch d.Kind {
	case DurBeat:
		if d.Den == 0 {
			return 0
		}
		return d.Num / d.Den
	case DurMillis:
		if bpm <= 0 {
			return 0
		}
		return d.Millis / 1000.0 * bpm / 60.0
	default:
		return 0
	}
}

func (d DurSpec) String() string {
	switch d.Kind {
	case DurBeat:
		return fmt.Sprintf("%s/%s", formatNumber(d.Num), formatNumber(d.Den))
	case DurAuto:
		return "auto"
	default:
		return formatNumber(d.Millis)
	}
}

// Value is the tagged union flowing through the pipeline.
//
// Invariants:
//   - When Tag==VTNull, Data is nil.
//   - When Tag==VTMap, Data is *MapObject preserving insertion order.
//   - When Tag==VTBlock, Data is []Statement.
type Value struct {
	Tag  ValueTag
	Data interface{}
}

// NullValue is the singleton null Value.
var NullValue = Value{Tag: VTNull}

// Constructors.
func BoolVal(b bool) Value         { return Value{Tag: VTBool, Data: b} }
func NumVal(f float64) Value       { return Value{Tag: VTNum, Data: f} }
func StrVal(s string) Value        { return Value{Tag: VTStr, Data: s} }
func DurVal(d DurSpec) Value       { return Value{Tag: VTDur, Data: d} }
func IdentVal(s string) Value      { return Value{Tag: VTIdent, Data: s} }
func SampleVal(uri string) Value   { return Value{Tag: VTSample, Data: uri} }
func ArrVal(xs []Value) Value      { return Value{Tag: VTArray, Data: xs} }
func BlockVal(b []Statement) Value { return Value{Tag: VTBlock, Data: b} }
func FunVal(f *Function) Value     { return Value{Tag: VTFun, Data: f} }

// BeatDur builds a beat-fraction duration value.
func BeatDur(num, den float64) Value {
	return DurVal(DurSpec{Kind: DurBeat, Num: num, Den: den})
}

// MillisDur builds a millisecond duration value.
func MillisDur(ms float64) Value {
	return DurVal(DurSpec{Kind: DurMillis, Millis: ms})
}

// AutoDur is the `auto` duration value.
func AutoDur() Value { return DurVal(DurSpec{Kind: DurAuto}) }

// MapObject is an insertion-ordered string→Value map.
// Keys records the insertion order; Entries is the storage.
type MapObject struct {
	Entries map[string]Value
	Keys    []string
}

// NewMapObject returns an empty ordered map.
func NewMapObject() *MapObject {
	return &MapObject{Entries: map[string]Value{}}
}

// Set inserts or replaces a key, preserving first-insertion order.
func (m *MapObject) Set(key string, v Value) {
	if _, ok := m.Entries[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	m.Entries[key] = v
}

// Get returns the value for key and whether it is present.
func (m *MapObject) Get(key string) (Value, bool) {
	v, ok := m.Entries[key]
	return v, ok
}

// Len returns the number of entries.
func (m *MapObject) Len() int { return len(m.Keys) }

// Clone returns a shallow copy that shares Values but not structure.
func (m *MapObject) Clone() *MapObject {
	out := &MapObject{
		Entries: make(map[string]Value, len(m.Entries)),
		Keys:    append([]string(nil), m.Keys...),
	}
	for k, v := range m.Entries {
		out.Entries[k] = v
	}
	return out
}

// MapVal wraps a MapObject in a Value.
func MapVal(m *MapObject) Value { return Value{Tag: VTMap, Data: m} }

// MapFrom builds an ordered map Value from a plain Go map, with keys sorted
// so programmatically-built maps are deterministic.
func MapFrom(src map[string]Value) Value {
	m := NewMapObject()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, src[k])
	}
	return MapVal(m)
}

// Function is a user-defined callable. The body and parameter names come from
// a `function` statement; Closure snapshots the scope stack at definition.
type Function struct {
	Name    string
	Params  []string
	Body    []Statement
	Closure *Scope
}

// AsNum returns the numeric payload of a Number value.
func (v Value) AsNum() (float64, bool) {
	if v.Tag == VTNum {
		return v.Data.(float64), true
	}
	return 0, false
}

// AsStr returns the string payload of a String or Identifier value.
func (v Value) AsStr() (string, bool) {
	if v.Tag == VTStr || v.Tag == VTIdent {
		return v.Data.(string), true
	}
	return "", false
}

// AsBool returns the boolean payload of a Boolean value.
func (v Value) AsBool() (bool, bool) {
	if v.Tag == VTBool {
		return v.Data.(bool), true
	}
	return false, false
}

// AsDur returns the duration payload of a Duration value. A bare Number is
// accepted as milliseconds (the trigger/arrow-call duration slot defaults to
// milliseconds for bare numbers).
func (v Value) AsDur() (DurSpec, bool) {
	switch v.Tag {
	case VTDur:
		return v.Data.(DurSpec), true
	case VTNum:
		return DurSpec{Kind: DurMillis, Millis: v.Data.(float64)}, true
	}
	return DurSpec{}, false
}

// AsMap returns the ordered map payload of a Map value.
func (v Value) AsMap() (*MapObject, bool) {
	if v.Tag == VTMap {
		return v.Data.(*MapObject), true
	}
	return nil, false
}

// AsArray returns the element slice of an Array value.
func (v Value) AsArray() ([]Value, bool) {
	if v.Tag == VTArray {
		return v.Data.([]Value), true
	}
	return nil, false
}

// Truthy reports the conditional interpretation of a value: null and false
// are false; zero numbers and empty strings/arrays/maps are false; everything
// else is true.
func (v Value) Truthy() bool {
	switch v.Tag {
	case VTNull:
		return false
	case VTBool:
		return v.Data.(bool)
	case VTNum:
		return v.Data.(float64) != 0
	case VTStr:
		return v.Data.(string) != ""
	case VTArray:
		return len(v.Data.([]Value)) > 0
	case VTMap:
		return v.Data.(*MapObject).Len() > 0
	default:
		return true
	}
}

// String renders a display form. Numbers use the shortest round-trip form;
// maps and arrays render JSON-like. Used by string concatenation and print.
func (v Value) String() string {
	switch v.Tag {
	case VTNull:
		return "null"
	case VTBool:
		if v.Data.(bool) {
			return "true"
		}
		return "false"
	case VTNum:
		return formatNumber(v.Data.(float64))
	case VTStr:
		return v.Data.(string)
	case VTIdent:
		return v.Data.(string)
	case VTSample:
		return v.Data.(string)
	case VTDur:
		return v.Data.(DurSpec).String()
	case VTArray:
		xs := v.Data.([]Value)
		parts := make([]string, len(xs))
		for i, x := range xs {
			parts[i] = x.displayQuoted()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case VTMap:
		m := v.Data.(*MapObject)
		parts := make([]string, 0, m.Len())
		for _, k := range m.Keys {
			parts = append(parts, k+": "+m.Entries[k].displayQuoted())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case VTBlock:
		return "<block>"
	case VTFun:
		f := v.Data.(*Function)
		return "<function " + f.Name + ">"
	default:
		return "<unknown>"
	}
}

// displayQuoted is String except strings are quoted, matching the JSON-like
// rendering inside containers.
func (v Value) displayQuoted() string {
	if v.Tag == VTStr {
		return strconv.Quote(v.Data.(string))
	}
	return v.String()
}

// Equal is deep structural equality over the literal space
// (null/bool/num/str/dur/array/map).
func (v Value) Equal(o Value) bool {
	if v.Tag != o.Tag {
		// Identifier/string cross-comparison is allowed: note names and step
		// strings arrive in either form.
		if (v.Tag == VTStr || v.Tag == VTIdent) && (o.Tag == VTStr || o.Tag == VTIdent) {
			return v.Data.(string) == o.Data.(string)
		}
		return false
	}
	switch v.Tag {
	case VTNull:
		return true
	case VTBool:
		return v.Data.(bool) == o.Data.(bool)
	case VTNum:
		return v.Data.(float64) == o.Data.(float64)
	case VTStr, VTIdent, VTSample:
		return v.Data.(string) == o.Data.(string)
	case VTDur:
		return v.Data.(DurSpec) == o.Data.(DurSpec)
	case VTArray:
		a, b := v.Data.([]Value), o.Data.([]Value)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case VTMap:
		a, b := v.Data.(*MapObject), o.Data.(*MapObject)
		if a.Len() != b.Len() {
			return false
		}
		for k, av := range a.Entries {
			bv, ok := b.Entries[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// formatNumber renders a float in its shortest round-trip decimal form.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
