// Package bridge binds the catalog, context and materializer to a live
// SQLite connection as the sec_* scalar functions. One Session exists per
// connection; it owns the security context, the generation counters and the
// label-visibility cache, so two connections never share visibility state.
package bridge

import (
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"sqlsec/internal/catalog"
	"sqlsec/internal/core"
	"sqlsec/internal/eval"
	"sqlsec/internal/hostdb"
	"sqlsec/internal/materialize"
	"sqlsec/internal/secctx"
)

// Session is the per-connection state of the extension.
type Session struct {
	db  hostdb.DB
	cat *catalog.Store
	mat *materialize.Materializer
	ctx *secctx.Context
	log *zap.Logger

	// visCache memoizes sec_label_visible per label ID. visGen remembers the
	// generation the cache was built at; any context or catalog mutation
	// advances the generation and thereby empties the cache.
	visCache map[int64]bool
	visGen   int64
}

// Attach wires a session onto the connection: ensures the catalog schema,
// registers every sec_* function, and installs the catalog change triggers.
// Intended to be called from the driver's ConnectHook.
func Attach(conn *sqlite3.SQLiteConn, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	db := hostdb.FromConn(conn)
	s := &Session{
		db:       db,
		cat:      catalog.New(db, log),
		ctx:      secctx.New(),
		log:      log,
		visCache: make(map[int64]bool),
	}
	s.mat = materialize.New(db, s.cat, log)

	if err := s.cat.Bootstrap(); err != nil {
		return err
	}
	if err := s.register(conn); err != nil {
		return err
	}
	if err := s.cat.InstallChangeTriggers(); err != nil {
		return err
	}
	return nil
}

func (s *Session) register(conn *sqlite3.SQLiteConn) error {
	fns := []struct {
		name string
		impl any
	}{
		{"sec_define_label", s.defineLabel},
		{"sec_define_level", s.defineLevel},
		{"sec_register_table", s.registerTable},
		{"sec_drop_protection", s.dropProtection},
		{"sec_set_attr", s.setAttr},
		{"sec_clear_context", s.clearContext},
		{"sec_push_context", s.pushContext},
		{"sec_pop_context", s.popContext},
		{"sec_context_get", s.contextGet},
		{"sec_generation", s.generation},
		{"sec_refresh_views", s.refreshViews},
		{"sec_assert_fresh", s.assertFresh},
		{"sec_label_visible", s.labelVisible},
		{"sec_catalog_changed", s.catalogChanged},
	}
	for _, fn := range fns {
		// None of these are pure: they read or mutate connection state.
		if err := conn.RegisterFunc(fn.name, fn.impl, false); err != nil {
			return core.Errorf(core.KindCatalog, "registering %s: %v", fn.name, err)
		}
	}
	return nil
}

func (s *Session) defineLabel(source string) (int64, error) {
	id, err := s.cat.DefineLabel(source)
	if err != nil {
		return 0, err
	}
	s.ctx.Bump()
	return id, nil
}

func (s *Session) defineLevel(attr, name string, rank int64) (int64, error) {
	if err := s.cat.DefineLevel(attr, name, rank); err != nil {
		return 0, err
	}
	s.ctx.Bump()
	return rank, nil
}

// registerTable accepts 3, 4 or 5 arguments: the optional table label and
// insert label each take either a label ID or a label source string, which is
// auto-defined.
func (s *Session) registerTable(logical, physical, rowCol string, rest ...any) (int64, error) {
	if len(rest) > 2 {
		return 0, core.Errorf(core.KindCatalog,
			"sec_register_table takes at most 5 arguments, got %d", 3+len(rest))
	}
	var tableLabel, insertLabel *int64
	var err error
	if len(rest) >= 1 {
		if tableLabel, err = s.labelArg(rest[0]); err != nil {
			return 0, err
		}
	}
	if len(rest) == 2 {
		if insertLabel, err = s.labelArg(rest[1]); err != nil {
			return 0, err
		}
	}
	if err := s.cat.Register(logical, physical, rowCol, tableLabel, insertLabel); err != nil {
		return 0, err
	}
	s.ctx.Bump()
	return 1, nil
}

// labelArg resolves an optional label argument: NULL passes through, an
// integer must name an existing label, and text defines the label in place.
func (s *Session) labelArg(arg any) (*int64, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case int64:
		if _, err := s.cat.Label(v); err != nil {
			return nil, err
		}
		return &v, nil
	case string:
		id, err := s.cat.DefineLabel(v)
		if err != nil {
			return nil, err
		}
		return &id, nil
	case []byte:
		// The driver hands a SQL NULL to an any-typed argument as a nil []byte.
		if v == nil {
			return nil, nil
		}
		id, err := s.cat.DefineLabel(string(v))
		if err != nil {
			return nil, err
		}
		return &id, nil
	default:
		return nil, core.Errorf(core.KindCatalog,
			"label argument must be an integer ID or an expression string, got %T", arg)
	}
}

func (s *Session) dropProtection(logical string) (int64, error) {
	if err := s.mat.DropManaged(logical); err != nil {
		return 0, err
	}
	if err := s.cat.Drop(logical); err != nil {
		return 0, err
	}
	s.ctx.Bump()
	return 1, nil
}

func (s *Session) setAttr(key, value string) (any, error) {
	s.ctx.Set(key, value)
	return nil, nil
}

func (s *Session) clearContext() (any, error) {
	s.ctx.Clear()
	return nil, nil
}

func (s *Session) pushContext() (any, error) {
	s.ctx.Push()
	return nil, nil
}

func (s *Session) popContext() (any, error) {
	if err := s.ctx.Pop(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Session) contextGet(key string) (any, error) {
	values := s.ctx.Values(key)
	if values == nil {
		return nil, nil
	}
	return strings.Join(values, ","), nil
}

func (s *Session) generation() (int64, error) {
	return s.ctx.Generation(), nil
}

func (s *Session) refreshViews() (any, error) {
	if err := s.mat.Refresh(s.ctx); err != nil {
		return nil, err
	}
	s.ctx.MarkMaterialized()
	s.log.Debug("views refreshed", zap.Int64("generation", s.ctx.Generation()))
	return nil, nil
}

func (s *Session) assertFresh() (int64, error) {
	if err := s.ctx.AssertFresh(); err != nil {
		return 0, err
	}
	return 1, nil
}

// labelVisible evaluates the label with the given ID against the current
// context. Results are memoized per generation so the per-row view predicate
// costs one map hit after the first evaluation.
func (s *Session) labelVisible(labelID int64) (int64, error) {
	if gen := s.ctx.Generation(); gen != s.visGen {
		s.visCache = make(map[int64]bool)
		s.visGen = gen
	}
	if visible, ok := s.visCache[labelID]; ok {
		return boolInt(visible), nil
	}
	node, err := s.cat.Label(labelID)
	if err != nil {
		return 0, err
	}
	visible, err := eval.Eval(node, s.ctx, s.cat)
	if err != nil {
		return 0, err
	}
	s.visCache[labelID] = visible
	return boolInt(visible), nil
}

// catalogChanged is called by the catalog change triggers when sec_columns is
// edited directly; the bump marks every view stale.
func (s *Session) catalogChanged() (int64, error) {
	s.ctx.Bump()
	return 1, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
