// Package tuple provides the immutable value vectors that flow through a network, the masks
// that project them, and the signed, timestamped change records attached to them.
package tuple

import (
	"fmt"
	"math"
	"strings"

	"github.com/l7mp/rete/pkg/util"
)

// Tuple is an immutable, ordered, fixed-width sequence of values. Two tuples are equal iff
// their canonical keys are equal, which makes Key usable as a map index.
type Tuple struct {
	values []any
	key    string
}

// New creates a tuple from the given values. The values are copied.
func New(values ...any) Tuple {
	vs := make([]any, len(values))
	copy(vs, values)
	return Tuple{values: vs, key: util.Stringify(vs)}
}

// Width returns the number of values in the tuple.
func (t Tuple) Width() int { return len(t.values) }

// Get returns the i-th value. It panics when i is out of range.
func (t Tuple) Get(i int) any { return t.values[i] }

// Values returns a copy of the values.
func (t Tuple) Values() []any {
	vs := make([]any, len(t.values))
	copy(vs, t.values)
	return vs
}

// Key returns the canonical identity key of the tuple.
func (t Tuple) Key() string {
	if t.key == "" {
		return util.Stringify(append([]any{}, t.values...))
	}
	return t.key
}

// Equal reports whether two tuples have the same values.
func (t Tuple) Equal(o Tuple) bool { return t.Key() == o.Key() }

// Concat returns a new tuple holding the values of t followed by the values of o.
func (t Tuple) Concat(o Tuple) Tuple {
	vs := make([]any, 0, len(t.values)+len(o.values))
	vs = append(vs, t.values...)
	vs = append(vs, o.values...)
	return Tuple{values: vs, key: util.Stringify(vs)}
}

func (t Tuple) String() string {
	ss := make([]string, len(t.values))
	for i, v := range t.values {
		ss[i] = fmt.Sprintf("%v", v)
	}
	return "<" + strings.Join(ss, ",") + ">"
}

// Compare imposes a total order on tuple values: numbers compare numerically, strings
// lexicographically, booleans false<true. Values of different classes compare by class, and
// anything else falls back to comparing canonical JSON.
func Compare(a, b any) int {
	ca, cb := class(a), class(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}
	switch ca {
	case classNil:
		return 0
	case classBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case classNumber:
		fa, _ := AsFloat(a)
		fb, _ := AsFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case classString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(util.Stringify(a), util.Stringify(b))
	}
}

// AsFloat converts a numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return math.NaN(), false
	}
}

const (
	classNil = iota
	classBool
	classNumber
	classString
	classOther
)

func class(v any) int {
	switch v.(type) {
	case nil:
		return classNil
	case bool:
		return classBool
	case string:
		return classString
	default:
		if _, ok := AsFloat(v); ok {
			return classNumber
		}
		return classOther
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
