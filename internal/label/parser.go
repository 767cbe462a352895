package label

import (
	"errors"
	"regexp"
	"sync"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"sqlsec/internal/core"
)

// lelLexer tokenizes label sources. Order matters: two-character operators
// must come before the single-character ones sharing a prefix. Word covers
// both attribute names and comparison values; the converter decides which.
var lelLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Op", Pattern: `>=|<=|[=<>]`},
	{Name: "Bang", Pattern: `!`},
	{Name: "Amp", Pattern: `&`},
	{Name: "Pipe", Pattern: `\|`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Word", Pattern: `[^()&|!<>=\s]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// The grammar mirrors the precedence levels of the language: | binds loosest,
// then &, then !, then atoms. Chains fold left-associatively in toNode.

type exprOr struct {
	First *exprAnd   `parser:"@@"`
	Rest  []*exprAnd `parser:"( Pipe @@ )*"`
}

type exprAnd struct {
	First *exprUnary   `parser:"@@"`
	Rest  []*exprUnary `parser:"( Amp @@ )*"`
}

type exprUnary struct {
	Not  *exprUnary `parser:"  Bang @@"`
	Atom *exprAtom  `parser:"| @@"`
}

type exprAtom struct {
	Sub *exprOr  `parser:"  LParen @@ RParen"`
	Cmp *exprCmp `parser:"| @@"`
}

type exprCmp struct {
	Pos   lexer.Position
	Attr  string  `parser:"@Word"`
	Op    *string `parser:"( @Op"`
	Value *string `parser:"  @Word )?"`
}

var lelParser = participle.MustBuild[exprOr](
	participle.Lexer(lelLexer),
	participle.UseLookahead(2),
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (e *exprOr) toNode() (Node, error) {
	n, err := e.First.toNode()
	if err != nil {
		return nil, err
	}
	for _, r := range e.Rest {
		rn, err := r.toNode()
		if err != nil {
			return nil, err
		}
		n = Or{L: n, R: rn}
	}
	return n, nil
}

func (e *exprAnd) toNode() (Node, error) {
	n, err := e.First.toNode()
	if err != nil {
		return nil, err
	}
	for _, r := range e.Rest {
		rn, err := r.toNode()
		if err != nil {
			return nil, err
		}
		n = And{L: n, R: rn}
	}
	return n, nil
}

func (e *exprUnary) toNode() (Node, error) {
	if e.Not != nil {
		x, err := e.Not.toNode()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return e.Atom.toNode()
}

func (e *exprAtom) toNode() (Node, error) {
	if e.Sub != nil {
		return e.Sub.toNode()
	}
	return e.Cmp.toNode()
}

func (c *exprCmp) toNode() (Node, error) {
	if c.Op == nil {
		switch c.Attr {
		case "true":
			return True{}, nil
		case "false":
			return False{}, nil
		}
		return nil, core.Errorf(core.KindParse,
			"at offset %d: bare word %q is not an expression (expected attr OP value, true or false)",
			c.Pos.Offset, c.Attr)
	}
	if !identRe.MatchString(c.Attr) {
		return nil, core.Errorf(core.KindParse,
			"at offset %d: invalid attribute name %q", c.Pos.Offset, c.Attr)
	}
	return Cmp{Attr: c.Attr, Op: Op(*c.Op), Value: *c.Value}, nil
}

// astCache interns parsed expressions per process. Entries are immutable, so
// the cache only ever grows and needs no invalidation.
var astCache sync.Map // source string -> Node

// Parse parses a label source into its AST. Malformed input yields a parse
// error carrying the byte offset of the offending token.
func Parse(source string) (Node, error) {
	if cached, ok := astCache.Load(source); ok {
		return cached.(Node), nil
	}
	root, err := lelParser.ParseString("", source)
	if err != nil {
		var perr participle.Error
		if errors.As(err, &perr) {
			return nil, core.Errorf(core.KindParse,
				"label %q: at offset %d: %s", source, perr.Position().Offset, perr.Message())
		}
		return nil, core.Errorf(core.KindParse, "label %q: %v", source, err)
	}
	node, err := root.toNode()
	if err != nil {
		return nil, err
	}
	astCache.Store(source, node)
	return node, nil
}
