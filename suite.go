package livepatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const (
	selSetUp    Selector = "setUp"
	selTearDown Selector = "tearDown"
)

// SuiteRun is the result of running one test type.
type SuiteRun struct {
	Suite  string
	Passed []Selector
	Failed map[Selector]error
}

func (r SuiteRun) OK() bool {
	return len(r.Failed) == 0
}

// SuiteRunner is the default TestRunner.
//
// Every instance method whose selector has Prefix, on the type or a super
// type, is one test. Each test gets a fresh instance; setUp and tearDown run
// around it when the type answers them. A test fails when it returns an
// error or panics.
type SuiteRunner struct {
	Prefix string
	Logger *slog.Logger
	// Report receives every finished run when set.
	Report func(SuiteRun)
}

func NewSuiteRunner(prefix string, logger *slog.Logger) *SuiteRunner {
	if prefix == "" {
		prefix = DefaultTestPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SuiteRunner{Prefix: prefix, Logger: logger}
}

func (r *SuiteRunner) RunSuite(ctx context.Context, t *TypeHandle) SuiteRun {
	run := SuiteRun{Suite: t.Name(), Failed: make(map[Selector]error)}
	for _, sel := range testSelectors(t, r.Prefix) {
		if err := ctx.Err(); err != nil {
			run.Failed[sel] = err
			continue
		}
		obj := NewObject(t)
		if err := runTest(&obj, sel); err != nil {
			run.Failed[sel] = err
			r.Logger.Error("test failed", "suite", run.Suite, "test", string(sel), "err", err)
			continue
		}
		run.Passed = append(run.Passed, sel)
	}
	if r.Report != nil {
		r.Report(run)
	}
	return run
}

func testSelectors(t *TypeHandle, prefix string) []Selector {
	seen := make(map[Selector]struct{})
	var out []Selector
	for c := t; c != nil; c = c.super {
		methods, _ := c.methods.ListMethods()
		for _, m := range methods {
			if !strings.HasPrefix(string(m.Selector), prefix) {
				continue
			}
			if _, dup := seen[m.Selector]; dup {
				continue
			}
			seen[m.Selector] = struct{}{}
			out = append(out, m.Selector)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func runTest(self Instance, sel Selector) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	t := self.Class()
	if t.RespondsTo(selSetUp) {
		if _, err := Send(self, selSetUp); err != nil {
			return fmt.Errorf("setUp: %w", err)
		}
	}
	_, testErr := Send(self, sel)
	if t.RespondsTo(selTearDown) {
		if _, err := Send(self, selTearDown); err != nil && testErr == nil {
			return fmt.Errorf("tearDown: %w", err)
		}
	}
	return testErr
}
