package livepatch

import "fmt"

// Send dispatches sel dynamically: the instance's type and then its super
// types are searched by name.
func Send(self Instance, sel Selector, args ...any) (any, error) {
	t, err := classOf(self)
	if err != nil {
		return nil, err
	}
	m, ok := t.lookup(sel, false)
	if !ok {
		return nil, MethodNotFoundError{Type: t.name, Selector: sel}
	}
	return invoke(t, m.IMP, self, args)
}

// SendType dispatches a type-level method of t.
func SendType(t *TypeHandle, sel Selector, args ...any) (any, error) {
	if t == nil {
		return nil, fmt.Errorf("send %q: type is nil", sel)
	}
	m, ok := t.lookup(sel, true)
	if !ok {
		return nil, MethodNotFoundError{Type: t.name, Selector: sel}
	}
	return invoke(t, m.IMP, nil, args)
}

// Call dispatches statically through slot of the instance type's metadata.
func Call(self Instance, slot int, args ...any) (any, error) {
	t, err := classOf(self)
	if err != nil {
		return nil, err
	}
	imp, ok := t.metadata.Slot(slot)
	if !ok {
		return nil, SlotOutOfRangeError{Type: t.name, Slot: slot, Slots: t.metadata.SlotCount()}
	}
	return invoke(t, imp, self, args)
}

// CallNamed dispatches statically through the slot assigned to sel.
func CallNamed(self Instance, sel Selector, args ...any) (any, error) {
	t, err := classOf(self)
	if err != nil {
		return nil, err
	}
	slot, ok := t.SlotOf(sel)
	if !ok {
		return nil, MethodNotFoundError{Type: t.name, Selector: sel}
	}
	return Call(self, slot, args...)
}

func classOf(self Instance) (*TypeHandle, error) {
	if self == nil {
		return nil, fmt.Errorf("dispatch: instance is nil")
	}
	t := self.Class()
	if t == nil {
		return nil, fmt.Errorf("dispatch: instance %T has no type", self)
	}
	return t, nil
}

func invoke(t *TypeHandle, imp IMP, self Instance, args []any) (any, error) {
	fn, ok := t.image.Resolve(imp)
	if !ok {
		return nil, ImplNotFoundError{IMP: imp}
	}
	return fn(self, args...)
}
