package livepatch

import "sync"

// MethodLister enumerates the methods a table exposes.
// ok is false when the table cannot be enumerated.
type MethodLister interface {
	ListMethods() (methods []Method, ok bool)
}

// MethodReplacer replaces or adds one entry and returns the previous IMP (zero if new).
type MethodReplacer interface {
	ReplaceMethod(m Method) IMP
}

// MethodTable is a selector-keyed dynamic dispatch table.
// Entries keep insertion order so enumeration is deterministic.
type MethodTable struct {
	mu      sync.RWMutex
	entries map[Selector]Method
	order   []Selector
}

func NewMethodTable(methods ...Method) *MethodTable {
	t := &MethodTable{
		entries: make(map[Selector]Method, len(methods)),
	}
	for _, m := range methods {
		t.ReplaceMethod(m)
	}
	return t
}

// Lookup finds a method by selector in this table only.
func (t *MethodTable) Lookup(sel Selector) (Method, bool) {
	if t == nil {
		return Method{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.entries[sel]
	return m, ok
}

// ListMethods returns a snapshot of all entries in insertion order.
func (t *MethodTable) ListMethods() ([]Method, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Method, 0, len(t.order))
	for _, sel := range t.order {
		out = append(out, t.entries[sel])
	}
	return out, true
}

func (t *MethodTable) ReplaceMethod(m Method) IMP {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[Selector]Method)
	}
	prev, exists := t.entries[m.Selector]
	if !exists {
		t.order = append(t.order, m.Selector)
	}
	t.entries[m.Selector] = m
	return prev.IMP
}

func (t *MethodTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Swizzle copies every method src lists onto dst, replacing entries with the
// same selector and adding the rest. It reports the number of entries written.
//
// A source that cannot be enumerated yields zero replacements.
func Swizzle(dst MethodReplacer, src MethodLister) int {
	if dst == nil || src == nil {
		return 0
	}
	methods, ok := src.ListMethods()
	if !ok {
		return 0
	}
	for _, m := range methods {
		dst.ReplaceMethod(m)
	}
	return len(methods)
}
