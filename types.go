package livepatch

import "sync"

// Selector names a method in a dynamic dispatch table.
type Selector string

// IMP is the address of a method implementation in an Image's code segment.
// Zero never denotes an implementation.
type IMP uint64

// Impl is the callable behind an IMP.
type Impl func(self Instance, args ...any) (any, error)

// Method is one dynamic dispatch table entry.
// Types is the type signature string carried along with the implementation.
type Method struct {
	Selector Selector `json:"selector" yaml:"selector"`
	IMP      IMP      `json:"imp" yaml:"imp"`
	Types    string   `json:"types" yaml:"types"`
}

// Instance is a live value whose behaviour is described by a TypeHandle.
type Instance interface {
	Class() *TypeHandle
}

// Object is an embeddable Instance implementation.
type Object struct {
	isa *TypeHandle
}

func NewObject(t *TypeHandle) Object {
	return Object{isa: t}
}

func (o *Object) Class() *TypeHandle {
	return o.isa
}

// TypeHandle identifies one runtime type of an Image.
//
// A handle is mutated in place by patching, so every holder of the pointer
// observes the new behaviour.
type TypeHandle struct {
	id       uint64
	name     string
	image    *Image
	super    *TypeHandle
	methods  *MethodTable
	meta     *MethodTable
	metadata *Metadata

	mu       sync.RWMutex
	slots    []Selector
	revision string
}

func (t *TypeHandle) Name() string {
	return t.name
}

func (t *TypeHandle) String() string {
	return t.name
}

func (t *TypeHandle) Super() *TypeHandle {
	return t.super
}

func (t *TypeHandle) Image() *Image {
	return t.image
}

// Methods returns the instance-level dynamic dispatch table.
func (t *TypeHandle) Methods() *MethodTable {
	return t.methods
}

// TypeMethods returns the type-level dynamic dispatch table.
func (t *TypeHandle) TypeMethods() *MethodTable {
	return t.meta
}

func (t *TypeHandle) Metadata() *Metadata {
	return t.metadata
}

// Revision identifies the build whose code the type currently runs.
func (t *TypeHandle) Revision() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}

func (t *TypeHandle) setRevision(rev string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revision = rev
}

// Slots returns the selectors laid out in the static dispatch table, by slot.
func (t *TypeHandle) Slots() []Selector {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Selector(nil), t.slots...)
}

// SlotOf returns the static dispatch slot assigned to sel.
func (t *TypeHandle) SlotOf(sel Selector) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.slots {
		if s == sel {
			return i, true
		}
	}
	return 0, false
}

// IsSubtypeOf reports whether t is other or inherits from it.
func (t *TypeHandle) IsSubtypeOf(other *TypeHandle) bool {
	if other == nil {
		return false
	}
	for c := t; c != nil; c = c.super {
		if c == other {
			return true
		}
	}
	return false
}

// RespondsTo reports whether instances of t answer sel through dynamic dispatch.
func (t *TypeHandle) RespondsTo(sel Selector) bool {
	_, ok := t.lookup(sel, false)
	return ok
}

func (t *TypeHandle) lookup(sel Selector, typeLevel bool) (Method, bool) {
	for c := t; c != nil; c = c.super {
		table := c.methods
		if typeLevel {
			table = c.meta
		}
		if m, ok := table.Lookup(sel); ok {
			return m, true
		}
	}
	return Method{}, false
}

// adoptSlots takes the slot names of src for the slots t's table can hold.
func (t *TypeHandle) adoptSlots(src []Selector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.metadata.SlotCount()
	if len(src) < n {
		n = len(src)
	}
	next := append([]Selector(nil), t.slots...)
	for len(next) < n {
		next = append(next, "")
	}
	copy(next, src[:n])
	t.slots = next
}
