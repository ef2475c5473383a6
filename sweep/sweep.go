package sweep

import "reflect"

// Task receives every distinct object reference a sweep reaches, as a
// pointer value.
type Task func(obj any)

// Traverser is implemented by instances holding children that field
// reflection cannot reach. SweepChildren reports each of them to s.
type Traverser interface {
	SweepChildren(s *Sweep)
}

// Stats counts what one sweep visited.
type Stats struct {
	Objects    int `json:"objects"`
	Containers int `json:"containers"`
	Revisits   int `json:"revisits"`
}

// Sweeper walks object graphs. A Sweeper holds no per-sweep state and may
// run several sweeps, also concurrently when Task and Graph allow it.
type Sweeper struct {
	Task   Task
	Policy Policy
	// Graph records visited objects and references between them when set.
	Graph *Graph
}

func New(task Task, policy Policy) *Sweeper {
	return &Sweeper{Task: task, Policy: policy}
}

// Sweep visits every object reachable from roots exactly once.
// roots are copied before the walk starts.
func (sw *Sweeper) Sweep(roots ...any) Stats {
	seeds := append([]any(nil), roots...)
	s := &Sweep{
		sweeper:    sw,
		visited:    make(map[identity]bool),
		containers: make(map[identity]bool),
	}
	for _, root := range seeds {
		s.value(reflect.ValueOf(root))
	}
	return s.stats
}

// identity keys an object or container. The type is part of the key because
// a struct and its first field share an address.
type identity struct {
	addr uintptr
	typ  reflect.Type
	n    int
}

// Sweep is the state of one sweep in progress: the visited set and the
// object currently being traversed.
type Sweep struct {
	sweeper    *Sweeper
	visited    map[identity]bool
	containers map[identity]bool

	current  identity
	inObject bool

	stats Stats
}

// Value sweeps v as a child of the object being traversed.
func (s *Sweep) Value(v any) {
	s.value(reflect.ValueOf(v))
}

// Visited reports whether obj has been visited by this sweep.
func (s *Sweep) Visited(obj any) bool {
	v := reflect.ValueOf(obj)
	if Classify(v) != KindObject {
		return false
	}
	return s.visited[identity{addr: v.Pointer(), typ: v.Type()}]
}

func (s *Sweep) value(v reflect.Value) {
	switch Classify(v) {
	case KindSequence:
		if v.Len() == 0 || !mayReference(v.Type().Elem()) {
			return
		}
		if v.Kind() == reflect.Slice && !s.enter(v, v.Len()) {
			return
		}
		for i := 0; i < v.Len(); i++ {
			s.value(v.Index(i))
		}
	case KindSet:
		if v.Len() == 0 || !mayReference(v.Type().Key()) || !s.enter(v, 0) {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			s.value(iter.Key())
		}
	case KindMapping:
		if v.Len() == 0 || !mayReference(v.Type().Elem()) || !s.enter(v, 0) {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			s.value(iter.Value())
		}
	case KindObject:
		s.object(v)
	case KindUnion:
		if !v.IsNil() {
			s.value(v.Elem())
		}
	case KindAggregate:
		if s.sweeper.Policy.Stops(v.Type()) {
			return
		}
		s.members(v)
	}
}

// enter marks a slice or map as entered and reports whether it was new.
func (s *Sweep) enter(v reflect.Value, n int) bool {
	id := identity{addr: v.Pointer(), typ: v.Type(), n: n}
	if s.containers[id] {
		return false
	}
	s.containers[id] = true
	s.stats.Containers++
	return true
}

func (s *Sweep) object(v reflect.Value) {
	id := identity{addr: v.Pointer(), typ: v.Type()}
	g := s.sweeper.Graph
	if g != nil && s.inObject {
		g.addEdge(s.current, id)
	}
	if s.visited[id] {
		s.stats.Revisits++
		return
	}
	s.visited[id] = true
	s.stats.Objects++

	// v may have been reached through an unexported field; rebuild it so the
	// task and the manual traversal get a usable value.
	ref := reflect.NewAt(v.Type().Elem(), v.UnsafePointer())
	if g != nil {
		g.addNode(id)
	}
	obj := ref.Interface()
	if s.sweeper.Task != nil {
		s.sweeper.Task(obj)
	}

	prev, prevIn := s.current, s.inObject
	s.current, s.inObject = id, true
	defer func() {
		s.current, s.inObject = prev, prevIn
	}()

	elem := ref.Elem()
	if !s.sweeper.Policy.Stops(elem.Type()) && mayReference(elem.Type()) {
		if elem.Kind() == reflect.Struct {
			s.members(elem)
		} else {
			s.value(elem)
		}
	}

	if t, ok := obj.(Traverser); ok {
		t.SweepChildren(s)
		return
	}
	sweepNative(s, obj)
}

// members walks the fields of a struct, walking up through embedded
// ancestors until the policy stops at one.
func (s *Sweep) members(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !mayReference(f.Type) {
			continue
		}
		fv := v.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if s.sweeper.Policy.Stops(f.Type) {
				continue
			}
			s.members(fv)
			continue
		}
		s.value(fv)
	}
}
