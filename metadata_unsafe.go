package livepatch

import "unsafe"

// MetadataAt views n bytes of raw memory starting at p as Metadata.
//
// This is the only place a view over foreign memory is built. The caller
// guarantees p points at a type's address point, that n covers
// ClassSize-ClassAddressPoint bytes, and that the memory outlives the view.
// Every later access goes through the bounds-checked Metadata methods.
func MetadataAt(p unsafe.Pointer, n int) *Metadata {
	if p == nil || n <= 0 {
		return NewMetadata(nil)
	}
	return NewMetadata(unsafe.Slice((*byte)(p), n))
}
