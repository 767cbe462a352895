// Package eval evaluates label expressions against a context snapshot. The
// evaluation is pure: the same AST, attribute bag and level catalog always
// yield the same result, which is what makes the per-generation visibility
// cache in the bridge sound.
package eval

import (
	"fmt"

	"sqlsec/internal/core"
	"sqlsec/internal/label"
)

// Attrs is the read side of the security context.
type Attrs interface {
	// Has reports whether the multi-valued set at attr contains value.
	Has(attr, value string) bool
	// Values returns the values of the set at attr; empty when absent.
	Values(attr string) []string
}

// Levels resolves level names to ranks. The bool reports whether the pair
// (attr, name) is defined; the error is reserved for lookup failures of the
// backing store.
type Levels interface {
	Rank(attr, name string) (int64, bool, error)
}

// Eval evaluates an expression. Missing attributes contribute nothing: an
// equality against an absent attribute is false, not an error. An ordered
// comparison whose right-hand side names an undefined level fails.
func Eval(n label.Node, attrs Attrs, levels Levels) (bool, error) {
	switch v := n.(type) {
	case label.True:
		return true, nil
	case label.False:
		return false, nil
	case label.Not:
		x, err := Eval(v.X, attrs, levels)
		return !x, err
	case label.And:
		l, err := Eval(v.L, attrs, levels)
		if err != nil || !l {
			return false, err
		}
		return Eval(v.R, attrs, levels)
	case label.Or:
		l, err := Eval(v.L, attrs, levels)
		if err != nil || l {
			return l, err
		}
		return Eval(v.R, attrs, levels)
	case label.Cmp:
		return evalCmp(v, attrs, levels)
	default:
		return false, core.Errorf(core.KindEvaluation, "unknown expression node %T", n)
	}
}

func evalCmp(c label.Cmp, attrs Attrs, levels Levels) (bool, error) {
	if c.Op == label.OpEq {
		return attrs.Has(c.Attr, c.Value), nil
	}

	want, ok, err := levels.Rank(c.Attr, c.Value)
	if err != nil {
		return false, fmt.Errorf("resolving level %s/%s: %w", c.Attr, c.Value, err)
	}
	if !ok {
		return false, core.Errorf(core.KindEvaluation,
			"comparison %s%s%s refers to an undefined level", c.Attr, c.Op, c.Value)
	}

	// Any held value with a known rank satisfying the comparison is enough.
	// Held values without a defined level contribute nothing.
	for _, held := range attrs.Values(c.Attr) {
		rank, ok, err := levels.Rank(c.Attr, held)
		if err != nil {
			return false, fmt.Errorf("resolving level %s/%s: %w", c.Attr, held, err)
		}
		if !ok {
			continue
		}
		if cmpRank(rank, c.Op, want) {
			return true, nil
		}
	}
	return false, nil
}

func cmpRank(held int64, op label.Op, want int64) bool {
	switch op {
	case label.OpGt:
		return held > want
	case label.OpGe:
		return held >= want
	case label.OpLt:
		return held < want
	case label.OpLe:
		return held <= want
	default:
		return false
	}
}
