package livepatch

import (
	"fmt"
	"sync"
)

const (
	textBase   IMP = 0x100000
	textStride IMP = 0x10
)

// MethodSpec declares one method of a TypeSpec.
type MethodSpec struct {
	Selector Selector
	Types    string
	Impl     Impl
}

// TypeSpec declares a type to build into an Image.
//
// Static types lay out a fixed-offset dispatch table: the super type's slots
// first (when it has one), then the type's own new selectors in declaration
// order. Overrides reuse the inherited slot.
type TypeSpec struct {
	Name         string
	Super        *TypeHandle
	Methods      []MethodSpec
	TypeMethods  []MethodSpec
	Static       bool
	InstanceSize uint32
	// Revision identifies the build the type came from, such as an artifact
	// path or a source digest. Empty means unknown.
	Revision string
}

// Image is the process image: a code segment of linked implementations and
// the registry of live types.
type Image struct {
	types *Registry

	mu      sync.RWMutex
	text    map[IMP]Impl
	nextIMP IMP
	nextID  uint64
}

func NewImage() *Image {
	return &Image{
		types:   NewRegistry(),
		text:    make(map[IMP]Impl),
		nextIMP: textBase,
	}
}

// Define builds spec and registers it as the live type for its name.
func (im *Image) Define(spec TypeSpec) (*TypeHandle, error) {
	t, err := im.build(spec)
	if err != nil {
		return nil, err
	}
	if err := im.types.Register(t); err != nil {
		return nil, fmt.Errorf("define type %s: %w", spec.Name, err)
	}
	return t, nil
}

// MustDefine panics on definition error; intended for bootstrap code paths.
func (im *Image) MustDefine(spec TypeSpec) *TypeHandle {
	t, err := im.Define(spec)
	if err != nil {
		panic(err)
	}
	return t
}

// Load builds spec without registering it, the way a freshly loaded artifact
// brings a same-named duplicate of a live type into the process.
func (im *Image) Load(spec TypeSpec) (*TypeHandle, error) {
	return im.build(spec)
}

// Lookup resolves the live type registered under name.
func (im *Image) Lookup(name string) (*TypeHandle, bool) {
	return im.types.Lookup(name)
}

// Type is Lookup with a TypeNotFoundError for unknown names.
func (im *Image) Type(name string) (*TypeHandle, error) {
	t, ok := im.types.Lookup(name)
	if !ok {
		return nil, TypeNotFoundError{Name: name}
	}
	return t, nil
}

// Register makes an already built type live, for loaded types without a
// live counterpart.
func (im *Image) Register(t *TypeHandle) error {
	if t != nil && t.image != im {
		return fmt.Errorf("register type %s: built by another image", t.name)
	}
	return im.types.Register(t)
}

// TypeNames returns live type names in definition order.
func (im *Image) TypeNames() []string {
	return im.types.Names()
}

// Resolve returns the implementation linked at imp.
func (im *Image) Resolve(imp IMP) (Impl, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	fn, ok := im.text[imp]
	return fn, ok
}

func (im *Image) link(fn Impl) IMP {
	im.mu.Lock()
	defer im.mu.Unlock()
	imp := im.nextIMP
	im.nextIMP += textStride
	im.text[imp] = fn
	return imp
}

func (im *Image) allocID() uint64 {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.nextID++
	return im.nextID
}

func (im *Image) build(spec TypeSpec) (*TypeHandle, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("build type: name is empty")
	}
	if spec.Super != nil && spec.Super.image != im {
		return nil, fmt.Errorf("build type %s: super type %s belongs to another image", spec.Name, spec.Super.name)
	}

	t := &TypeHandle{
		id:       im.allocID(),
		name:     spec.Name,
		image:    im,
		super:    spec.Super,
		revision: spec.Revision,
		methods:  NewMethodTable(),
		meta:     NewMethodTable(),
	}
	if err := im.linkMethods(t.name, t.methods, spec.Methods); err != nil {
		return nil, err
	}
	if err := im.linkMethods(t.name, t.meta, spec.TypeMethods); err != nil {
		return nil, err
	}

	b := metadataBuilder{
		layout: MetadataLayout{
			MetaClass:    t.id<<1 | 1,
			Description:  t.id,
			InstanceSize: spec.InstanceSize,
		},
	}
	if spec.Super != nil {
		b.layout.SuperClass = spec.Super.id << 1
	}
	if spec.Static {
		b.layout.Data = dataHasStaticTable
		if spec.Super != nil && spec.Super.metadata.Layout().HasStaticTable() {
			t.slots = spec.Super.Slots()
		}
		for _, ms := range spec.Methods {
			if _, inherited := t.SlotOf(ms.Selector); !inherited {
				t.slots = append(t.slots, ms.Selector)
			}
		}
		b.slots = make([]IMP, len(t.slots))
		for i, sel := range t.slots {
			m, _ := t.lookup(sel, false)
			b.slots[i] = m.IMP
		}
	}
	t.metadata = b.build()
	return t, nil
}

func (im *Image) linkMethods(typeName string, table *MethodTable, specs []MethodSpec) error {
	for _, ms := range specs {
		if ms.Selector == "" {
			return fmt.Errorf("build type %s: method selector is empty", typeName)
		}
		if ms.Impl == nil {
			return fmt.Errorf("build type %s: impl is nil for %q", typeName, ms.Selector)
		}
		if _, dup := table.Lookup(ms.Selector); dup {
			return fmt.Errorf("build type %s: duplicate method %q", typeName, ms.Selector)
		}
		table.ReplaceMethod(Method{Selector: ms.Selector, IMP: im.link(ms.Impl), Types: ms.Types})
	}
	return nil
}
