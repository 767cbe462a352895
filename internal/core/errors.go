package core

import (
	"errors"
	"fmt"
)

// Kind classifies the failures this extension reports through the host.
// Every error crossing a package boundary carries exactly one Kind so that
// callers (and the scalar-function bridge) can match with errors.Is.
type Kind string

const (
	// KindParse is a malformed label source, reported at definition time.
	KindParse Kind = "parse"
	// KindCatalog is a violated catalog rule: duplicate registration,
	// missing physical table or column, unknown label ID.
	KindCatalog Kind = "catalog"
	// KindEvaluation is a level comparison against an undefined level name.
	KindEvaluation Kind = "evaluation"
	// KindAuthorization is a write the active policy forbids.
	KindAuthorization Kind = "authorization"
	// KindStaleness is an operation attempted after the context mutated but
	// before the views were refreshed.
	KindStaleness Kind = "staleness"
	// KindSchema is a physical table the extension cannot protect, such as a
	// WITHOUT ROWID table or one lacking a primary key.
	KindSchema Kind = "schema"
)

// Error is the typed error of the extension. The Kind doubles as the stable
// error code surfaced to SQL callers; Msg carries the human-readable context.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sqlsec: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("sqlsec: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a target *Error of the same Kind whose message is empty or
// equal, so sentinel comparisons like errors.Is(err, core.ErrStaleness) work
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is matching. Each has an empty message and therefore
// matches every error of its kind.
var (
	ErrParse         = &Error{Kind: KindParse}
	ErrCatalog       = &Error{Kind: KindCatalog}
	ErrEvaluation    = &Error{Kind: KindEvaluation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrStaleness     = &Error{Kind: KindStaleness}
	ErrSchema        = &Error{Kind: KindSchema}
)

// Errorf builds a typed error with a formatted message. Any %w verb wraps as
// usual through the Err field.
func Errorf(kind Kind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}
