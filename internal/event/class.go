package event

import "sync"

// Class identifies an event's position in the class hierarchy. Classes
// are created once at package scope (see the StoreSetEvent-family
// constructors in events.go) and shared across every Bus; a Bus only
// tracks which classes it has seen registered and which are disabled.
//
// This mirrors module-level event-type constants while giving
// corestash dotted-hierarchy dispatch: a Class optionally names a
// Parent, and GetEventHierarchy walks that chain.
type Class struct {
	name   string
	parent *Class
}

// NewClass creates a new event class with an optional parent. Passing a
// nil parent makes the class a root of its own hierarchy.
func NewClass(name string, parent *Class) *Class {
	return &Class{name: name, parent: parent}
}

// Name returns the class's registered name.
func (c *Class) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Parent returns the class's parent, or nil if it is a hierarchy root.
func (c *Class) Parent() *Class {
	if c == nil {
		return nil
	}
	return c.parent
}

// Hierarchy returns the class and its ancestors, nearest first, ending
// with the root class (the first one with a nil parent). There is no
// implicit "base event" sentinel beyond that root.
func (c *Class) Hierarchy() []*Class {
	var out []*Class
	for cur := c; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// registry tracks, per Bus, which classes have been explicitly
// registered and which are disabled. It is not a global: distinct Bus
// instances may register and gate classes independently even though the
// Class objects themselves (and their parent chains) are shared.
type registry struct {
	mu       sync.RWMutex
	known    map[*Class]bool
	disabled map[*Class]bool
}

func newRegistry() *registry {
	return &registry{
		known:    make(map[*Class]bool),
		disabled: make(map[*Class]bool),
	}
}
