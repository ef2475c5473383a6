package sweep

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// sweepNative reports the contents of standard library containers whose
// internals the policy keeps the field walk out of.
func sweepNative(s *Sweep, obj any) {
	switch c := obj.(type) {
	case *sync.Map:
		c.Range(func(_, v any) bool {
			s.Value(v)
			return true
		})
	case *list.List:
		for e := c.Front(); e != nil; e = e.Next() {
			s.Value(e.Value)
		}
	case *atomic.Value:
		s.Value(c.Load())
	}
}
