// Package secctx holds the per-connection security context: a multi-valued
// attribute bag with a push/pop stack and the generation counter that tracks
// whether the materialized views still reflect the current state.
package secctx

import (
	"maps"
	"slices"

	"sqlsec/internal/core"
)

type valueSet map[string]struct{}

// Context is the per-connection attribute bag. It is not safe for concurrent
// use; the host runs every operation of one connection on one goroutine.
type Context struct {
	attrs map[string]valueSet
	stack []map[string]valueSet

	// generation advances on every observable mutation of the context or the
	// catalog. materialized remembers the generation the views were last
	// rebuilt at; the two being equal is freshness.
	generation   int64
	materialized int64
}

// New returns an empty context. An empty context is fresh: nothing has been
// materialized, and nothing has changed since.
func New() *Context {
	return &Context{attrs: make(map[string]valueSet)}
}

// Set inserts value into the set at key and marks the views stale.
func (c *Context) Set(key, value string) {
	set, ok := c.attrs[key]
	if !ok {
		set = make(valueSet)
		c.attrs[key] = set
	}
	set[value] = struct{}{}
	c.generation++
}

// Clear empties every attribute set without touching the stack, and marks the
// views stale.
func (c *Context) Clear() {
	c.attrs = make(map[string]valueSet)
	c.generation++
}

// Push deep-copies the current mapping onto the stack. The snapshot itself is
// not an observable change, so the generation stays put.
func (c *Context) Push() {
	c.stack = append(c.stack, copyAttrs(c.attrs))
}

// Pop replaces the current mapping with the top of the stack. The generation
// advances only when the restored mapping differs from the one discarded.
// Popping an empty stack fails.
func (c *Context) Pop() error {
	if len(c.stack) == 0 {
		return core.Errorf(core.KindCatalog, "pop on empty context stack")
	}
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	changed := !attrsEqual(c.attrs, top)
	c.attrs = top
	if changed {
		c.generation++
	}
	return nil
}

// Has reports whether the set at attr contains value.
func (c *Context) Has(attr, value string) bool {
	_, ok := c.attrs[attr][value]
	return ok
}

// Values returns the sorted values of the set at attr; nil when absent.
func (c *Context) Values(attr string) []string {
	set, ok := c.attrs[attr]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}

// Generation returns the current generation counter.
func (c *Context) Generation() int64 { return c.generation }

// Bump advances the generation without touching the attributes. Catalog
// mutations use it: they change what a refresh would build, so the views are
// stale even though the context itself did not move.
func (c *Context) Bump() { c.generation++ }

// MarkMaterialized records that the views now reflect the current generation.
func (c *Context) MarkMaterialized() { c.materialized = c.generation }

// Fresh reports whether the views were materialized at the current generation.
func (c *Context) Fresh() bool { return c.materialized == c.generation }

// AssertFresh fails with a staleness error when the views are out of date.
func (c *Context) AssertFresh() error {
	if !c.Fresh() {
		return core.Errorf(core.KindStaleness,
			"context generation %d is ahead of materialized generation %d; call sec_refresh_views()",
			c.generation, c.materialized)
	}
	return nil
}

func copyAttrs(attrs map[string]valueSet) map[string]valueSet {
	out := make(map[string]valueSet, len(attrs))
	for k, set := range attrs {
		out[k] = maps.Clone(set)
	}
	return out
}

func attrsEqual(a, b map[string]valueSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, as := range a {
		bs, ok := b[k]
		if !ok || !maps.Equal(as, bs) {
			return false
		}
	}
	return true
}
