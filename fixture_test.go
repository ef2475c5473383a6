package livepatch

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	Object
	label     string
	children  []*widget
	next      *widget
	refreshed int
}

func newWidget(t *TypeHandle, label string) *widget {
	return &widget{Object: NewObject(t), label: label}
}

func returns(v any) Impl {
	return func(Instance, ...any) (any, error) {
		return v, nil
	}
}

func markRefreshed(self Instance, _ ...any) (any, error) {
	self.(*widget).refreshed++
	return nil, nil
}

// syncBuffer lets the test queue worker and the test goroutine share logs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) count(level string) int {
	return strings.Count(b.String(), "level="+level)
}

func newTestLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeEvaluator struct {
	art     Artifact
	err     error
	calls   int32
	release chan struct{}
}

func (e *fakeEvaluator) Rebuild(_ context.Context, _ *TypeHandle, _ string) (Artifact, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.release != nil {
		<-e.release
	}
	return e.art, e.err
}

type fakeLoader struct {
	types []*TypeHandle
	err   error
	loads int32
}

func (l *fakeLoader) Load(_ context.Context, _ Artifact) ([]*TypeHandle, error) {
	atomic.AddInt32(&l.loads, 1)
	return l.types, l.err
}

func newTestInjector(t *testing.T, image *Image, logs *syncBuffer, host Host, eval Evaluator, loader Loader) *Injector {
	t.Helper()
	logger := newTestLogger(logs)
	host.Logger = logger
	coord, err := NewCoordinator(image, DefaultConfig(), host)
	require.NoError(t, err)
	in, err := NewInjector(image, eval, loader, coord, logger)
	require.NoError(t, err)
	return in
}
