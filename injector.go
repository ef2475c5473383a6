package livepatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Artifact is an opaque build product the Loader understands.
type Artifact struct {
	Path string
}

// Evaluator rebuilds the source of a type into an Artifact.
// old is nil when only a name or file is known.
type Evaluator interface {
	Rebuild(ctx context.Context, old *TypeHandle, nameOrFile string) (Artifact, error)
}

// Loader loads an Artifact into the image and returns the types it brought,
// unregistered.
type Loader interface {
	Load(ctx context.Context, art Artifact) ([]*TypeHandle, error)
}

// Outcome describes one patch operation.
type Outcome struct {
	Patched  []string
	Added    []string
	Tables   []TableReport
	Warnings int
	Notification
	Err error
}

// Injector is the patch entry point: rebuild, load, patch, notify.
type Injector struct {
	image  *Image
	eval   Evaluator
	loader Loader
	coord  *Coordinator
	logger *slog.Logger

	sf singleflight.Group
}

func NewInjector(image *Image, eval Evaluator, loader Loader, coord *Coordinator, logger *slog.Logger) (*Injector, error) {
	if image == nil {
		return nil, fmt.Errorf("new injector: image is nil")
	}
	if coord == nil {
		return nil, fmt.Errorf("new injector: coordinator is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		image:  image,
		eval:   eval,
		loader: loader,
		coord:  coord,
		logger: logger,
	}, nil
}

// Inject rebuilds nameOrFile and patches the result into the running image.
//
// It never fails loudly: errors are logged and returned in Outcome.Err.
// Concurrent calls for the same name share one rebuild.
func (in *Injector) Inject(ctx context.Context, old *TypeHandle, nameOrFile string) Outcome {
	key := nameOrFile
	if key == "" && old != nil {
		key = old.Name()
	}
	v, _, _ := in.sf.Do(key, func() (any, error) {
		if in.eval == nil {
			return Outcome{Err: fmt.Errorf("inject %s: no evaluator", key)}, nil
		}
		art, err := in.eval.Rebuild(ctx, old, nameOrFile)
		if err != nil {
			return Outcome{Err: fmt.Errorf("rebuild %s: %w", key, err)}, nil
		}
		out, err := in.InjectArtifact(ctx, art)
		if err != nil {
			out.Err = fmt.Errorf("inject %s: %w", key, err)
		}
		return out, nil
	})
	out := v.(Outcome)
	if out.Err != nil {
		in.logger.Error("injection failed", "target", key, "err", out.Err)
	}
	return out
}

// InjectType rebuilds the type of a live instance.
func (in *Injector) InjectType(ctx context.Context, inst Instance) Outcome {
	if inst == nil || inst.Class() == nil {
		return Outcome{Err: fmt.Errorf("inject: instance has no type")}
	}
	t := inst.Class()
	return in.Inject(ctx, t, t.Name())
}

// InjectArtifact loads art and patches its types. Nothing is mutated when
// the artifact is empty or fails to load.
func (in *Injector) InjectArtifact(ctx context.Context, art Artifact) (Outcome, error) {
	if art.Path == "" {
		return Outcome{Err: ErrNoArtifact}, ErrNoArtifact
	}
	if in.loader == nil {
		err := fmt.Errorf("load %s: no loader", art.Path)
		return Outcome{Err: err}, err
	}
	types, err := in.loader.Load(ctx, art)
	if err != nil {
		err = fmt.Errorf("load %s: %w", art.Path, err)
		return Outcome{Err: err}, err
	}
	if len(types) == 0 {
		err := fmt.Errorf("load %s: %w", art.Path, ErrNoArtifact)
		return Outcome{Err: err}, err
	}
	out := in.Apply(ctx, types)
	return out, out.Err
}

// Apply patches each freshly loaded type onto the live type of the same name
// and notifies the process. Types without a live counterpart become live
// as they are.
func (in *Injector) Apply(ctx context.Context, newTypes []*TypeHandle) Outcome {
	var (
		out     Outcome
		errs    []error
		patches []Patch
	)
	for _, nt := range newTypes {
		if nt == nil {
			continue
		}
		old, ok := in.image.Lookup(nt.Name())
		if !ok {
			if err := in.image.Register(nt); err != nil {
				errs = append(errs, fmt.Errorf("add %s: %w", nt.Name(), err))
				continue
			}
			out.Added = append(out.Added, nt.Name())
			in.logger.Info("type added", "type", nt.Name())
			continue
		}
		if old == nt {
			continue
		}

		report, err := in.patch(old, nt)
		out.Tables = append(out.Tables, report)
		if report.SizeChanged {
			out.Warnings++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("patch %s: %w", nt.Name(), err))
		}
		out.Patched = append(out.Patched, nt.Name())
		patches = append(patches, Patch{Old: old, New: nt})
	}

	out.Notification = in.coord.Notify(ctx, patches)
	out.Err = errors.Join(errs...)
	return out
}

func (in *Injector) patch(old, nt *TypeHandle) (TableReport, error) {
	typeLevel := Swizzle(old.meta, nt.meta)
	instanceLevel := Swizzle(old.methods, nt.methods)
	in.logger.Debug("method tables swizzled",
		"type", old.Name(),
		"type_methods", typeLevel,
		"instance_methods", instanceLevel,
	)

	old.setRevision(nt.Revision())

	report, err := OverwriteStaticTable(in.logger, old.Name(), old.metadata, nt.metadata)
	if err != nil || report.Skipped {
		return report, err
	}
	old.adoptSlots(nt.Slots())
	return report, nil
}
