// Package element provides the minimal framework-element graph the RPC port
// layer is built on: named elements arranged in a tree, ports with typed
// edges, flags, and process-stable handles. Graph mutations are serialized
// by a package-wide lock; traversals observe stable snapshots.
package element

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Handle is a process-stable identifier of a framework element.
// Handle zero is never assigned.
type Handle uint64

var (
	graphMu    sync.RWMutex
	nextHandle atomic.Uint64
	portsByID  = map[Handle]*Port{}
)

type (
	// Element is a node of the framework-element tree.
	Element struct {
		name     string
		parent   *Element
		children []*Element
		flags    Flags
		handle   Handle
		ready    atomic.Bool

		// port is set when this element is the embedded part of a Port
		port *Port
	}
)

// NewElement creates an element below parent. A nil parent creates a root.
func NewElement(parent *Element, name string, flags Flags) *Element {
	e := &Element{
		name:   name,
		parent: parent,
		flags:  flags,
		handle: Handle(nextHandle.Add(1)),
	}
	if parent != nil {
		graphMu.Lock()
		parent.children = append(parent.children, e)
		graphMu.Unlock()
	}
	return e
}

// Name returns the plain element name.
func (e *Element) Name() string {
	return e.name
}

// Parent returns the parent element, nil for roots.
func (e *Element) Parent() *Element {
	return e.parent
}

// Handle returns the process-stable handle of this element.
func (e *Element) Handle() Handle {
	return e.handle
}

// Flags returns the element flags.
func (e *Element) Flags() Flags {
	return e.flags
}

// QualifiedName returns the slash-separated path from the root.
func (e *Element) QualifiedName() string {
	if e.parent == nil {
		return "/" + e.name
	}
	return e.parent.QualifiedName() + "/" + e.name
}

// Init marks this element and all children ready. Ports take part in
// connections only after init.
func (e *Element) Init() {
	graphMu.RLock()
	children := append([]*Element(nil), e.children...)
	graphMu.RUnlock()
	e.ready.Store(true)
	for _, c := range children {
		c.Init()
	}
}

// IsReady reports whether Init ran on this element.
func (e *Element) IsReady() bool {
	return e.ready.Load()
}

// IsDeleted reports whether the element was removed from the graph.
func (e *Element) IsDeleted() bool {
	graphMu.RLock()
	defer graphMu.RUnlock()
	return e.flags.Has(FlagDeleted)
}

// ManagedDelete removes the element and its subtree from the graph.
// Ports are disconnected from all partners first.
func (e *Element) ManagedDelete() error {
	graphMu.Lock()
	err := e.deleteLocked()
	graphMu.Unlock()
	return err
}

func (e *Element) deleteLocked() error {
	if e.flags.Has(FlagDeleted) {
		return errors.New("element already deleted: " + e.name)
	}
	e.flags |= FlagDeleted
	e.ready.Store(false)
	if e.port != nil {
		e.port.disconnectAllLocked()
		delete(portsByID, e.handle)
	}
	var err error
	for _, c := range e.children {
		err = multierr.Append(err, c.deleteLocked())
	}
	e.children = nil
	return err
}
