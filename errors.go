package livepatch

import (
	"errors"
	"fmt"
)

// ErrNoArtifact means the evaluator or loader produced nothing to inject.
var ErrNoArtifact = errors.New("no artifact produced")

// DuplicateTypeError means a type name is already registered in the image.
type DuplicateTypeError struct {
	Name string
}

func (e DuplicateTypeError) Error() string {
	return fmt.Sprintf("type already registered: %q", e.Name)
}

// TypeNotFoundError means resolving a type name that is not registered.
type TypeNotFoundError struct {
	Name string
}

func (e TypeNotFoundError) Error() string {
	return fmt.Sprintf("type not found: %q", e.Name)
}

// MethodNotFoundError means no table in the type chain answers the selector.
type MethodNotFoundError struct {
	Type     string
	Selector Selector
}

func (e MethodNotFoundError) Error() string {
	return fmt.Sprintf("%s does not respond to %q", e.Type, e.Selector)
}

// ImplNotFoundError means an IMP does not belong to the image's code segment.
type ImplNotFoundError struct {
	IMP IMP
}

func (e ImplNotFoundError) Error() string {
	return fmt.Sprintf("implementation not found at %#x", uint64(e.IMP))
}

// SlotOutOfRangeError means a static dispatch slot lies outside the table.
type SlotOutOfRangeError struct {
	Type  string
	Slot  int
	Slots int
}

func (e SlotOutOfRangeError) Error() string {
	return fmt.Sprintf("static slot %d out of range for %s: table has %d slots", e.Slot, e.Type, e.Slots)
}

// LayoutError means a metadata buffer cannot hold the region a copy would touch.
type LayoutError struct {
	Type   string
	Offset int
	Length int
	Size   int
}

func (e LayoutError) Error() string {
	return fmt.Sprintf("malformed metadata for %s: region [%d, %d) exceeds buffer of %d bytes",
		e.Type, e.Offset, e.Offset+e.Length, e.Size)
}
