// ABOUTME: Per-actor context: the acting identity plus a view over the object graph.
// ABOUTME: Used by rules to resolve associations and walk secures edges cycle-safely.

package access

import (
	"github.com/2389/weft/internal/syncable"
)

// Context scopes rule evaluation to one actor. It is created once per
// session and reset whenever the underlying graph is reinitialized from a
// fresh snapshot.
type Context struct {
	manager  *syncable.Manager
	actorRef syncable.Ref
}

// NewContext creates a context over the given graph with no actor yet.
func NewContext(manager *syncable.Manager) *Context {
	return &Context{manager: manager}
}

// Initialize binds the context to the acting identity. Called after the
// initial snapshot has been applied, once the actor's record exists.
func (c *Context) Initialize(actorRef syncable.Ref) {
	c.actorRef = actorRef.Identity()
}

// Clear drops the actor binding; used when the session re-bootstraps.
func (c *Context) Clear() {
	c.actorRef = syncable.Ref{}
}

// ActorRef returns the acting identity, zero before Initialize.
func (c *Context) ActorRef() syncable.Ref {
	return c.actorRef
}

// Actor resolves the acting identity's wrapper. The second return is false
// before Initialize or when the actor's record is absent from the graph.
func (c *Context) Actor() (syncable.Object, bool) {
	if c.actorRef.IsZero() {
		return nil, false
	}
	return c.manager.Get(c.actorRef)
}

// Resolve looks up any ref through the context's graph view.
func (c *Context) Resolve(ref syncable.Ref) (syncable.Object, bool) {
	return c.manager.Get(ref)
}

// SecuredBy reports whether source secures target: either directly through a
// secures association on target, or transitively through a secures edge to
// any ancestor reachable over secures edges. Association graphs are not
// guaranteed acyclic, so traversal is bounded by a visited set.
func (c *Context) SecuredBy(target syncable.Object, source syncable.Ref) bool {
	source = source.Identity()
	visited := make(map[syncable.Ref]bool)

	var walk func(obj syncable.Object) bool
	walk = func(obj syncable.Object) bool {
		ref := obj.Ref()
		if visited[ref] {
			return false
		}
		visited[ref] = true

		for _, a := range obj.Syncable().Associations {
			if !a.Secures {
				continue
			}
			if a.Ref == source {
				return true
			}
			ancestor, ok := c.manager.Get(a.Ref)
			if ok && walk(ancestor) {
				return true
			}
		}
		return false
	}
	return walk(target)
}

// SecuredByActor is SecuredBy with the context's actor as source. It returns
// false when no actor is bound.
func (c *Context) SecuredByActor(target syncable.Object) bool {
	if c.actorRef.IsZero() {
		return false
	}
	return c.SecuredBy(target, c.actorRef)
}
