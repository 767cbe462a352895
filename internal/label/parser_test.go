package label

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlsec/internal/core"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		canonical string
	}{
		{
			name:      "literal_true",
			source:    "true",
			canonical: "true",
		},
		{
			name:      "literal_false",
			source:    "false",
			canonical: "false",
		},
		{
			name:      "simple_equality",
			source:    "role=admin",
			canonical: "role=admin",
		},
		{
			name:      "equality_with_spaces",
			source:    "  role  =  admin  ",
			canonical: "role=admin",
		},
		{
			name:      "ordered_comparison",
			source:    "clearance>=secret",
			canonical: "clearance>=secret",
		},
		{
			name:      "negation",
			source:    "!role=guest",
			canonical: "!role=guest",
		},
		{
			name:      "double_negation",
			source:    "!!role=guest",
			canonical: "!!role=guest",
		},
		{
			name:      "conjunction",
			source:    "role=admin & clearance>=secret",
			canonical: "role=admin & clearance>=secret",
		},
		{
			name:      "disjunction",
			source:    "role=admin|role=manager",
			canonical: "role=admin | role=manager",
		},
		{
			name:      "and_binds_tighter_than_or",
			source:    "a=1 | b=2 & c=3",
			canonical: "a=1 | b=2 & c=3",
		},
		{
			name:      "parens_override_precedence",
			source:    "(a=1 | b=2) & c=3",
			canonical: "(a=1 | b=2) & c=3",
		},
		{
			name:      "redundant_parens_dropped",
			source:    "((role=admin))",
			canonical: "role=admin",
		},
		{
			name:      "not_over_group",
			source:    "!(a=1 & b=2)",
			canonical: "!(a=1 & b=2)",
		},
		{
			name:      "value_with_digits_and_dash",
			source:    "team=blue-7",
			canonical: "team=blue-7",
		},
		{
			name:      "chained_and_folds_left",
			source:    "a=1 & b=2 & c=3",
			canonical: "a=1 & b=2 & c=3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Parse(tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.canonical, Canonical(node))
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	// a=1 | b=2 & c=3 must parse as Or(a=1, And(b=2, c=3)).
	node, err := Parse("a=1 | b=2 & c=3")
	require.NoError(t, err)

	or, ok := node.(Or)
	require.True(t, ok, "root should be Or, got %T", node)
	assert.Equal(t, Cmp{Attr: "a", Op: OpEq, Value: "1"}, or.L)

	and, ok := or.R.(And)
	require.True(t, ok, "right of Or should be And, got %T", or.R)
	assert.Equal(t, Cmp{Attr: "b", Op: OpEq, Value: "2"}, and.L)
	assert.Equal(t, Cmp{Attr: "c", Op: OpEq, Value: "3"}, and.R)
}

func TestParseNotBindsTightest(t *testing.T) {
	node, err := Parse("!a=1 & b=2")
	require.NoError(t, err)

	and, ok := node.(And)
	require.True(t, ok, "root should be And, got %T", node)
	not, ok := and.L.(Not)
	require.True(t, ok, "left of And should be Not, got %T", and.L)
	assert.Equal(t, Cmp{Attr: "a", Op: OpEq, Value: "1"}, not.X)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "empty", source: ""},
		{name: "only_whitespace", source: "   "},
		{name: "bare_word", source: "admin"},
		{name: "missing_value", source: "role="},
		{name: "missing_attr", source: "=admin"},
		{name: "unbalanced_paren", source: "(role=admin"},
		{name: "trailing_operator", source: "role=admin &"},
		{name: "double_operator", source: "role==admin"},
		{name: "invalid_attr_name", source: "9role=admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.source)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrParse), "want parse error, got %v", err)
		})
	}
}

func TestParseErrorCarriesOffset(t *testing.T) {
	_, err := Parse("role=admin & admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset")
}

func TestParseCachesAST(t *testing.T) {
	first, err := Parse("role=admin & clearance>=secret")
	require.NoError(t, err)
	second, err := Parse("role=admin & clearance>=secret")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalDeduplicatesSpellings(t *testing.T) {
	spellings := []string{
		"role=admin&clearance>=secret",
		"role=admin & clearance>=secret",
		"(role=admin) & (clearance>=secret)",
		"  role = admin &\tclearance >= secret ",
	}
	want := "role=admin & clearance>=secret"
	for _, s := range spellings {
		node, err := Parse(s)
		require.NoError(t, err, "spelling %q", s)
		assert.Equal(t, want, Canonical(node), "spelling %q", s)
	}
}

func TestWalkVisitsEveryNode(t *testing.T) {
	node, err := Parse("!(a=1 & b=2) | true")
	require.NoError(t, err)

	var kinds []string
	Walk(node, func(n Node) {
		switch n.(type) {
		case Or:
			kinds = append(kinds, "or")
		case And:
			kinds = append(kinds, "and")
		case Not:
			kinds = append(kinds, "not")
		case Cmp:
			kinds = append(kinds, "cmp")
		case True:
			kinds = append(kinds, "true")
		}
	})
	assert.Equal(t, []string{"or", "not", "and", "cmp", "cmp", "true"}, kinds)
}
