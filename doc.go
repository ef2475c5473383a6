// Package livepatch provides an in-process hot-patch engine for runtime types.
//
// It offers:
// - an Image holding a code segment and name-keyed live types
// - dynamic dispatch through per-type method tables (Send)
// - static dispatch through fixed-offset tables embedded in type metadata (Call)
// - in-place patching of both tables from a freshly loaded replacement type
// - notification of live instances found by sweeping the object graph
// - deferred, serialized execution of patched test types
package livepatch
