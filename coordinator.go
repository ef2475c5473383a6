package livepatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/chenyanchen/livepatch/sweep"
)

// Patch pairs a live type with the freshly loaded type patched onto it.
type Patch struct {
	Old *TypeHandle
	New *TypeHandle
}

// RootProvider supplies the process's top-level objects that seed a sweep.
type RootProvider interface {
	Roots() []any
}

// RootsFunc adapts a function to RootProvider.
type RootsFunc func() []any

func (f RootsFunc) Roots() []any {
	return f()
}

// Host groups the collaborators a Coordinator reports to. Any may be nil.
type Host struct {
	Roots       RootProvider
	Broadcaster Broadcaster
	Tests       *TestQueue
	Logger      *slog.Logger
}

// Notification describes what one Notify call delivered.
type Notification struct {
	Refreshed int
	Broadcast []*TypeHandle
	Tests     []*TypeHandle
}

// Coordinator tells the running process about freshly patched types.
//
// Test types are queued for deferred, serialized execution. Ordinary types
// answering the refresh selector have it sent to each live instance whose
// exact type is the patched one. The remaining ordinary types are announced
// in one broadcast event.
type Coordinator struct {
	image  *Image
	cfg    Config
	host   Host
	policy sweep.Policy
	logger *slog.Logger
}

func NewCoordinator(image *Image, cfg Config, host Host) (*Coordinator, error) {
	if image == nil {
		return nil, fmt.Errorf("new coordinator: image is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("new coordinator: %w", err)
	}
	logger := host.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		image: image,
		cfg:   cfg,
		host:  host,
		// The engine's own runtime types hold no application state.
		policy: cfg.Sweep.With(
			reflect.TypeOf(Object{}),
			reflect.TypeOf((*TypeHandle)(nil)).Elem(),
			reflect.TypeOf((*Image)(nil)).Elem(),
		),
		logger: logger,
	}, nil
}

// Notify delivers refreshes and the broadcast synchronously, then queues the
// test batch.
func (c *Coordinator) Notify(ctx context.Context, patches []Patch) Notification {
	var n Notification
	base, hasBase := c.image.Lookup(c.cfg.TestBase)

	for _, p := range patches {
		if p.Old == nil || p.New == nil {
			continue
		}
		if hasBase && p.New.IsSubtypeOf(base) {
			n.Tests = append(n.Tests, p.New)
			continue
		}
		if p.Old.RespondsTo(c.cfg.RefreshSelector) {
			n.Refreshed += c.refresh(p.Old)
			continue
		}
		n.Broadcast = append(n.Broadcast, p.Old)
	}

	if len(n.Broadcast) > 0 && c.host.Broadcaster != nil {
		if err := c.host.Broadcaster.Broadcast(ctx, c.cfg.Notification, n.Broadcast); err != nil {
			c.logger.Error("broadcast patched types", "event", c.cfg.Notification, "err", err)
		}
	}
	if len(n.Tests) > 0 {
		if c.host.Tests == nil {
			c.logger.Warn("patched test types but no test queue", "count", len(n.Tests))
		} else if err := c.host.Tests.Enqueue(n.Tests); err != nil {
			c.logger.Error("queue test batch", "err", err)
		}
	}
	return n
}

// refresh sends the refresh selector to every live instance of exactly t.
func (c *Coordinator) refresh(t *TypeHandle) int {
	if c.host.Roots == nil {
		return 0
	}
	count := 0
	sw := sweep.New(func(obj any) {
		inst, ok := obj.(Instance)
		if !ok || inst.Class() != t {
			return
		}
		count++
		if err := c.send(inst); err != nil {
			c.logger.Error("refresh instance", "type", t.Name(), "err", err)
		}
	}, c.policy)
	stats := sw.Sweep(c.host.Roots.Roots()...)
	c.logger.Debug("swept live objects",
		"type", t.Name(),
		"objects", stats.Objects,
		"refreshed", count,
	)
	return count
}

// send invokes the refresh selector, turning a panic into an error.
func (c *Coordinator) send(inst Instance) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	_, err = Send(inst, c.cfg.RefreshSelector)
	return err
}
