package query

import (
	"math"
	"regexp"
	"time"

	"github.com/google/go-cmp/cmp"
)

// deepEqualOpts implements spec section 4.6's deep-equality rules for
// arbitrary query results: primitive equality, NaN==NaN, Date by epoch,
// regex by source (Go's regexp flags are embedded in the source via
// inline (?i) groups, so source equality already covers them), arrays by
// length and element-wise, plain objects by key set and value-wise. go-cmp
// provides the recursion and the built-in cycle guard; only the
// primitive-comparison rules need overriding.
var deepEqualOpts = cmp.Options{
	cmp.Comparer(func(a, b float64) bool {
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		return a == b
	}),
	cmp.Comparer(func(a, b time.Time) bool {
		return a.UnixNano() == b.UnixNano()
	}),
	cmp.Comparer(func(a, b *regexp.Regexp) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.String() == b.String()
	}),
}

// deepEqual reports whether a and b are equal under the rules above.
// Panics from go-cmp (unexported fields on a type it doesn't know how to
// compare) are treated as "not equal" rather than propagated, since a
// query result should never be able to crash the engine.
func deepEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return cmp.Equal(a, b, deepEqualOpts)
}
