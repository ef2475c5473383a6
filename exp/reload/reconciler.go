package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chenyanchen/livepatch"
)

// Result describes the type changes of one reconciliation.
type Result struct {
	Patched   []string // Live type existed and its fingerprint changed.
	Unchanged []string // Fingerprint matches the last applied one; not patched.
	Added     []string // No live type of that name existed.
	Outcome   livepatch.Outcome
}

// Reconciler applies freshly loaded types, skipping the ones that did not change.
//
// Fingerprints cover the type's Revision, the selectors and type signatures
// of both method tables, and the static slot layout. A type loaded without a
// Revision is fingerprinted by its IMPs instead, so every fresh load of it
// counts as changed.
type Reconciler struct {
	injector *livepatch.Injector

	mu      sync.Mutex
	applied map[string]string
}

func New(injector *livepatch.Injector) (*Reconciler, error) {
	if injector == nil {
		return nil, fmt.Errorf("new reconciler: injector is nil")
	}
	return &Reconciler{
		injector: injector,
		applied:  make(map[string]string),
	}, nil
}

// Track records the current fingerprints of live types, so that loading
// identical code later is recognized as unchanged.
func (r *Reconciler) Track(types ...*livepatch.TypeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if t == nil {
			continue
		}
		r.applied[t.Name()] = fingerprint(t)
	}
}

// Fingerprint returns the last applied fingerprint for name.
func (r *Reconciler) Fingerprint(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.applied[name]
	return fp, ok
}

// Reconcile patches the changed types among newTypes.
func (r *Reconciler) Reconcile(ctx context.Context, newTypes []*livepatch.TypeHandle) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		result  Result
		changed []*livepatch.TypeHandle
		prints  = make(map[string]string, len(newTypes))
	)
	for _, t := range newTypes {
		if t == nil {
			continue
		}
		fp := fingerprint(t)
		if prev, ok := r.applied[t.Name()]; ok && prev == fp {
			result.Unchanged = append(result.Unchanged, t.Name())
			continue
		}
		prints[t.Name()] = fp
		changed = append(changed, t)
	}
	if len(changed) == 0 {
		return result, nil
	}

	out := r.injector.Apply(ctx, changed)
	result.Outcome = out
	result.Patched = append(result.Patched, out.Patched...)
	result.Added = append(result.Added, out.Added...)
	for _, name := range out.Patched {
		r.applied[name] = prints[name]
	}
	for _, name := range out.Added {
		r.applied[name] = prints[name]
	}
	if out.Err != nil {
		return result, fmt.Errorf("apply changed types: %w", out.Err)
	}
	return result, nil
}

func fingerprint(t *livepatch.TypeHandle) string {
	var b strings.Builder
	b.WriteString(t.Name())
	b.WriteByte('\n')
	if s := t.Super(); s != nil {
		b.WriteString(s.Name())
	}
	b.WriteByte('\n')
	rev := t.Revision()
	fmt.Fprintf(&b, "revision %q\n", rev)
	writeTable(&b, "type", rev == "", t.TypeMethods())
	writeTable(&b, "instance", rev == "", t.Methods())
	for _, sel := range t.Slots() {
		b.WriteString("slot ")
		b.WriteString(string(sel))
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeTable(b *strings.Builder, label string, withIMP bool, table *livepatch.MethodTable) {
	methods, _ := table.ListMethods()
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Selector < methods[j].Selector
	})
	for _, m := range methods {
		fmt.Fprintf(b, "%s %s %s", label, m.Selector, m.Types)
		if withIMP {
			fmt.Fprintf(b, " %#x", uint64(m.IMP))
		}
		b.WriteByte('\n')
	}
}
