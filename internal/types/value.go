// Package types holds the data model shared by every ember component: the
// tagged Value variant, records, field/bucket definitions, and error kinds.
package types

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Kind identifies which arm of the Value variant is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindTime:
		return "date"
	case KindList:
		return "array"
	case KindMap:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the tagged variant used uniformly for record fields, filters,
// and comparisons, per the design notes: Null, Bool, Int, Float, Str,
// Time, List, Map.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	list []Value
	m    map[string]Value
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(n int64) Value           { return Value{kind: KindInt, n: float64(n)} }
func Float(n float64) Value       { return Value{kind: KindFloat, n: n} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value      { return Value{kind: KindTime, t: t} }
func List(vs []Value) Value       { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) AsBool() bool      { return v.b }
func (v Value) AsFloat() float64  { return v.n }
func (v Value) AsInt() int64      { return int64(v.n) }
func (v Value) AsString() string  { return v.s }
func (v Value) AsTime() time.Time { return v.t }
func (v Value) AsList() []Value   { return v.list }
func (v Value) AsMap() map[string]Value { return v.m }

// IsNumber reports whether the value is a KindInt or KindFloat.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// FromAny converts a plain Go value (as would arrive from a caller's
// map[string]any) into the tagged variant.
func FromAny(a any) Value {
	switch x := a.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case time.Time:
		return Time(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromAny(e)
		}
		return List(out)
	case []Value:
		return List(x)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = FromAny(e)
		}
		return Map(out)
	case map[string]Value:
		return Map(x)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// ToAny converts the tagged variant back to a plain Go value suitable for
// handing to a caller as map[string]any.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return int64(v.n)
	case KindFloat:
		return v.n
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// patternCache avoids recompiling the same regex pattern on every
// validation; it is read from both bucket-worker goroutines and
// transaction-context goroutines concurrently, hence the mutex.
var (
	patternCacheMu sync.RWMutex
	patternCache   = map[string]*regexp.Regexp{}
)

// CompilePattern compiles (and caches) a regex pattern source.
func CompilePattern(src string) (*regexp.Regexp, error) {
	patternCacheMu.RLock()
	re, ok := patternCache[src]
	patternCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}

	patternCacheMu.Lock()
	patternCache[src] = re
	patternCacheMu.Unlock()
	return re, nil
}

// Equal implements the deep-equality rules from spec section 4.6:
// primitive equality, NaN==NaN, Date by epoch, arrays by length and
// element-wise, plain objects by key set and value-wise. Map key order is
// irrelevant; List order matters.
func Equal(a, b Value) bool {
	return equalVisited(a, b, map[[2]uintptr]bool{})
}

func equalVisited(a, b Value, visited map[[2]uintptr]bool) bool {
	if a.kind != b.kind {
		// Numbers compare across Int/Float representations.
		if a.IsNumber() && b.IsNumber() {
			return numEqual(a.n, b.n)
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt, KindFloat:
		return numEqual(a.n, b.n)
	case KindString:
		return a.s == b.s
	case KindTime:
		return a.t.UnixNano() == b.t.UnixNano()
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !equalVisited(a.list[i], b.list[i], visited) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !equalVisited(av, bv, visited) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numEqual(x, y float64) bool {
	if math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	return x == y
}

// SortedKeys returns m's keys in ascending order, used wherever iteration
// order must be deterministic (index enumeration, validation issue order).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
