package livepatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRenamedMethod(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{
		Name:   "Greeter",
		Static: true,
		Methods: []MethodSpec{
			{Selector: "hello", Types: "@16@0:8", Impl: returns("v1 hello")},
			{Selector: "bye", Types: "@16@0:8", Impl: returns("v1 bye")},
		},
	})
	w := newWidget(old, "greeter")
	sizeBefore := old.Metadata().Layout().ClassSize

	next, err := image.Load(TypeSpec{
		Name:   "Greeter",
		Static: true,
		Methods: []MethodSpec{
			{Selector: "greet", Types: "@16@0:8", Impl: returns("v2 greet")},
			{Selector: "bye", Types: "@16@0:8", Impl: returns("v2 bye")},
		},
	})
	require.NoError(t, err)

	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, nil, nil)
	out := in.Apply(context.Background(), []*TypeHandle{next})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"Greeter"}, out.Patched)
	assert.Zero(t, out.Warnings)
	assert.Equal(t, sizeBefore, old.Metadata().Layout().ClassSize)
	assert.Zero(t, logs.count("WARN"))

	got, ok := image.Lookup("Greeter")
	require.True(t, ok)
	assert.Same(t, old, got)

	v, err := Call(w, 0)
	require.NoError(t, err)
	assert.Equal(t, "v2 greet", v)

	v, err = CallNamed(w, "greet")
	require.NoError(t, err)
	assert.Equal(t, "v2 greet", v)

	v, err = Send(w, "greet")
	require.NoError(t, err)
	assert.Equal(t, "v2 greet", v)

	v, err = Send(w, "bye")
	require.NoError(t, err)
	assert.Equal(t, "v2 bye", v)
}

func TestApplyAddedMethod(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{
		Name:   "Counter",
		Static: true,
		Methods: []MethodSpec{
			{Selector: "inc", Impl: returns("v1 inc")},
			{Selector: "dec", Impl: returns("v1 dec")},
		},
	})
	w := newWidget(old, "counter")

	next, err := image.Load(TypeSpec{
		Name:   "Counter",
		Static: true,
		Methods: []MethodSpec{
			{Selector: "inc", Impl: returns("v2 inc")},
			{Selector: "dec", Impl: returns("v2 dec")},
			{Selector: "reset", Impl: returns("v2 reset")},
		},
	})
	require.NoError(t, err)
	require.NotEqual(t, old.Metadata().Layout().ClassSize, next.Metadata().Layout().ClassSize)

	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, nil, nil)
	out := in.Apply(context.Background(), []*TypeHandle{next})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Warnings)
	assert.Equal(t, 1, logs.count("WARN"))

	v, err := Call(w, 0)
	require.NoError(t, err)
	assert.Equal(t, "v2 inc", v)
	v, err = Call(w, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2 dec", v)

	_, err = Call(w, 2)
	var outOfRange SlotOutOfRangeError
	assert.True(t, errors.As(err, &outOfRange))

	v, err = Send(w, "reset")
	require.NoError(t, err)
	assert.Equal(t, "v2 reset", v)
	assert.Equal(t, []Selector{"inc", "dec"}, old.Slots())
}

func TestApplyIdempotent(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{
		Name:        "Panel",
		Static:      true,
		Methods:     []MethodSpec{{Selector: "draw", Impl: returns("v1")}},
		TypeMethods: []MethodSpec{{Selector: "make", Impl: returns("v1 make")}},
	})
	next, err := image.Load(TypeSpec{
		Name:        "Panel",
		Static:      true,
		Methods:     []MethodSpec{{Selector: "draw", Impl: returns("v2")}, {Selector: "size", Impl: returns("v2 size")}},
		TypeMethods: []MethodSpec{{Selector: "make", Impl: returns("v2 make")}},
	})
	require.NoError(t, err)

	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, nil, nil)

	in.Apply(context.Background(), []*TypeHandle{next})
	metaOnce := old.Metadata().Bytes()
	methodsOnce, _ := old.Methods().ListMethods()
	typeOnce, _ := old.TypeMethods().ListMethods()

	in.Apply(context.Background(), []*TypeHandle{next})
	methodsTwice, _ := old.Methods().ListMethods()
	typeTwice, _ := old.TypeMethods().ListMethods()
	assert.Equal(t, metaOnce, old.Metadata().Bytes())
	assert.Equal(t, methodsOnce, methodsTwice)
	assert.Equal(t, typeOnce, typeTwice)

	v, err := SendType(old, "make")
	require.NoError(t, err)
	assert.Equal(t, "v2 make", v)
}

func TestApplyAddsUnknownType(t *testing.T) {
	image := NewImage()
	fresh, err := image.Load(TypeSpec{Name: "Brand", Methods: []MethodSpec{{Selector: "x", Impl: returns(1)}}})
	require.NoError(t, err)

	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, nil, nil)
	out := in.Apply(context.Background(), []*TypeHandle{fresh, nil})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"Brand"}, out.Added)
	assert.Empty(t, out.Patched)

	got, ok := image.Lookup("Brand")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestInjectFailureLeavesTypeUntouched(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{
		Name:    "Panel",
		Static:  true,
		Methods: []MethodSpec{{Selector: "draw", Impl: returns("v1")}},
	})
	next, err := image.Load(TypeSpec{
		Name:    "Panel",
		Static:  true,
		Methods: []MethodSpec{{Selector: "draw", Impl: returns("v2")}},
	})
	require.NoError(t, err)
	before := old.Metadata().Bytes()
	w := newWidget(old, "panel")

	cases := []struct {
		name   string
		eval   *fakeEvaluator
		loader *fakeLoader
		is     error
	}{
		{name: "rebuild error", eval: &fakeEvaluator{err: assert.AnError}, loader: &fakeLoader{types: []*TypeHandle{next}}, is: assert.AnError},
		{name: "empty artifact", eval: &fakeEvaluator{}, loader: &fakeLoader{types: []*TypeHandle{next}}, is: ErrNoArtifact},
		{name: "load error", eval: &fakeEvaluator{art: Artifact{Path: "/tmp/x.so"}}, loader: &fakeLoader{err: assert.AnError}, is: assert.AnError},
		{name: "nothing loaded", eval: &fakeEvaluator{art: Artifact{Path: "/tmp/x.so"}}, loader: &fakeLoader{}, is: ErrNoArtifact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var logs syncBuffer
			in := newTestInjector(t, image, &logs, Host{}, tc.eval, tc.loader)

			out := in.Inject(context.Background(), old, "Panel")
			require.Error(t, out.Err)
			assert.True(t, errors.Is(out.Err, tc.is))
			assert.Empty(t, out.Patched)
			assert.Equal(t, 1, logs.count("ERROR"))

			assert.Equal(t, before, old.Metadata().Bytes())
			v, err := Send(w, "draw")
			require.NoError(t, err)
			assert.Equal(t, "v1", v)
		})
	}
}

func TestInjectTypeOfInstance(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{
		Name:    "Panel",
		Methods: []MethodSpec{{Selector: "draw", Impl: returns("v1")}},
	})
	next, err := image.Load(TypeSpec{
		Name:    "Panel",
		Methods: []MethodSpec{{Selector: "draw", Impl: returns("v2")}},
	})
	require.NoError(t, err)
	w := newWidget(old, "panel")

	eval := &fakeEvaluator{art: Artifact{Path: "/tmp/panel.so"}}
	loader := &fakeLoader{types: []*TypeHandle{next}}
	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, eval, loader)

	out := in.InjectType(context.Background(), w)
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"Panel"}, out.Patched)
	assert.Len(t, out.Tables, 1)
	assert.True(t, out.Tables[0].Skipped)

	v, err := Send(w, "draw")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestInjectSingleflight(t *testing.T) {
	image := NewImage()
	old := image.MustDefine(TypeSpec{Name: "Panel"})
	next, err := image.Load(TypeSpec{Name: "Panel"})
	require.NoError(t, err)

	eval := &fakeEvaluator{art: Artifact{Path: "/tmp/panel.so"}, release: make(chan struct{})}
	loader := &fakeLoader{types: []*TypeHandle{next}}
	var logs syncBuffer
	in := newTestInjector(t, image, &logs, Host{}, eval, loader)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	outcomes := make([]Outcome, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			outcomes[i] = in.Inject(context.Background(), old, "Panel")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(eval.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&eval.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.loads))
	for _, out := range outcomes {
		require.NoError(t, out.Err)
		assert.Equal(t, []string{"Panel"}, out.Patched)
	}
}
