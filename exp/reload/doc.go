// Package reload provides experimental change-aware patching for livepatch.
//
// Reconciler is the core type and performs:
// 1. fingerprint every freshly loaded type
// 2. skip types whose fingerprint matches the last applied one
// 3. patch the changed types through the Injector
// 4. remember the fingerprints of what was applied
//
// This package is EXPERIMENTAL and its API may change before v1.
package reload
