// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/store"
)

func init() {
	log.AddFlags()
}

// testMemScheme is the scheme under which the shared test memory
// store is registered in store.Default, so that bigmachine workers
// can reach it.
const testMemScheme = "exectest"

var testMem = store.NewMemory()

func init() {
	store.Register(testMemScheme, testMem)
}

// A split is a test dataset split.
type split struct {
	Train, Test []float64
}

var (
	// f(x float64) []float64
	testScale = pathway.Func("exec-test-scale", func(x float64) []float64 {
		return []float64{x, 2 * x}
	}, pathway.Arg("x"))

	// g(d)
	testSum = pathway.Func("exec-test-sum", func(v []float64) float64 {
		var sum float64
		for _, x := range v {
			sum += x
		}
		return sum
	}, pathway.Arg("v"))

	// h()
	testNop = pathway.Func("exec-test-nop", func() {})

	testDouble = pathway.Func("exec-test-double", func(n int) int { return 2 * n }, pathway.Arg("n"))

	testSplit = pathway.Func("exec-test-split", func(data pathway.Input, ratio float64, seed int) (split, error) {
		if ratio <= 0 || ratio >= 1 {
			return split{}, fmt.Errorf("invalid ratio %v", ratio)
		}
		return split{Train: []float64{ratio}, Test: []float64{1 - ratio}}, nil
	}, pathway.Arg("data"), pathway.Arg("ratio", pathway.Default(0.7)), pathway.Arg("seed", pathway.Default(1)))

	testTrain = pathway.Func("exec-test-train", func(s split, out pathway.Output) (string, error) {
		return fmt.Sprintf("%s:%v/%v", out.Path, s.Train, s.Test), nil
	}, pathway.Arg("s"), pathway.Arg("out"))

	testFail = pathway.Func("exec-test-fail", func(msg string) error {
		return errors.New(msg)
	}, pathway.Arg("msg"))

	// testGated blocks until its gate is opened, or its context is
	// done.
	testGated = pathway.Func("exec-test-gated", func(ctx context.Context, gate string) (int, error) {
		select {
		case <-gates.get(gate):
			return len(gate), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, pathway.Arg("gate"))
)

// gateSet is a set of named channels used to control test funcs.
type gateSet struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

var gates = &gateSet{gates: make(map[string]chan struct{})}

func (g *gateSet) get(name string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.gates[name]
	if !ok {
		c = make(chan struct{})
		g.gates[name] = c
	}
	return c
}

func (g *gateSet) open(name string) { close(g.get(name)) }

var submitters = map[string]func(t *testing.T) []Option{
	"Local": func(t *testing.T) []Option {
		return []Option{Local, Parallelism(4)}
	},
	"Bigmachine.Test": func(t *testing.T) []Option {
		return []Option{
			Bigmachine(testsystem.New()),
			Store(testMem),
			ScratchRoot(testMemScheme + "://scratch/" + strings.Replace(t.Name(), "/", "-", -1)),
		}
	},
}

func testSession(t *testing.T, run func(t *testing.T, sess *Session)) {
	t.Helper()
	for name, opts := range submitters {
		t.Run(name, func(t *testing.T) {
			sess := Start(opts(t)...)
			defer sess.Shutdown()
			run(t, sess)
		})
	}
}

// fakeSubmitter is a submitter whose job statuses are set by tests.
type fakeSubmitter struct {
	mu       sync.Mutex
	status   map[string]JobStatus
	queries  int
	submits  []JobSpec
	pipeline []*Pipeline
	stopped  []string
	// submitErr, if set, is returned by Submit and SubmitPipeline.
	submitErr error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{status: make(map[string]JobStatus)}
}

func (f *fakeSubmitter) set(name string, status JobStatus) {
	f.mu.Lock()
	f.status[name] = status
	f.mu.Unlock()
}

func (f *fakeSubmitter) numQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (*fakeSubmitter) Name() string { return "fake" }

func (f *fakeSubmitter) Submit(ctx context.Context, spec JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, spec)
	f.status[spec.Name] = Pending
	return nil
}

func (f *fakeSubmitter) SubmitPipeline(ctx context.Context, p *Pipeline) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if _, err := p.Graph(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipeline = append(f.pipeline, p)
	name := "execution-" + p.Name()
	f.status[name] = Pending
	return name, nil
}

func (f *fakeSubmitter) Status(ctx context.Context, name string) (JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	status, ok := f.status[name]
	if !ok {
		return Pending, fmt.Errorf("no such job %s", name)
	}
	return status, nil
}

func (f *fakeSubmitter) Wait(ctx context.Context, name string) error {
	status, err := f.Status(ctx, name)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("job %s is %s", name, status)
	}
	return statusError(name, status, "")
}

func (f *fakeSubmitter) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	f.status[name] = Stopped
	return nil
}
