// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// jobState is the state of a job run in-process by a jobTable.
type jobState struct {
	status  JobStatus
	reason  string
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	created, started, ended time.Time
}

// jobTable runs jobs on goroutines and tracks their status. It
// implements the status side of the submitters that run jobs from
// the submitting process (local and bigmachine).
type jobTable struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

// start runs the named job asynchronously. The job is pending until
// it calls running.
func (t *jobTable) start(name string, run func(ctx context.Context, running func()) error) error {
	t.mu.Lock()
	if t.jobs == nil {
		t.jobs = make(map[string]*jobState)
	}
	if _, ok := t.jobs[name]; ok {
		t.mu.Unlock()
		return errors.E(errors.Exists, fmt.Sprintf("job %s already submitted", name))
	}
	ctx, cancel := context.WithCancel(backgroundcontext.Get())
	state := &jobState{status: Pending, cancel: cancel, done: make(chan struct{}), created: time.Now()}
	t.jobs[name] = state
	t.mu.Unlock()

	go func() {
		defer cancel()
		err := run(ctx, func() {
			t.mu.Lock()
			if state.status == Pending {
				state.status = Running
				state.started = time.Now()
			}
			t.mu.Unlock()
		})
		t.mu.Lock()
		state.ended = time.Now()
		switch {
		case state.stopped:
			state.status = Stopped
		case err != nil:
			state.status = Failed
			state.reason = err.Error()
			log.Error.Printf("job %s failed: %v", name, err)
		default:
			state.status = Completed
		}
		t.mu.Unlock()
		close(state.done)
	}()
	return nil
}

func (t *jobTable) lookup(name string) (*jobState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.jobs[name]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("job %s does not exist", name))
	}
	return state, nil
}

func (t *jobTable) status(name string) (JobStatus, error) {
	state, err := t.lookup(name)
	if err != nil {
		return Pending, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return state.status, nil
}

func (t *jobTable) describe(name string) (Description, error) {
	state, err := t.lookup(name)
	if err != nil {
		return Description{Name: name, Status: Pending}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d := Description{
		Name:    name,
		Status:  state.status,
		Reason:  state.reason,
		Created: state.created,
		Started: state.started,
		Ended:   state.ended,
	}
	d.Modified = latest(d.Created, d.Started, d.Ended)
	return d, nil
}

func latest(times ...time.Time) time.Time {
	var t time.Time
	for _, u := range times {
		if u.After(t) {
			t = u
		}
	}
	return t
}

func (t *jobTable) wait(ctx context.Context, name string) error {
	state, err := t.lookup(name)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-state.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return statusError(name, state.status, state.reason)
}

func (t *jobTable) stop(name string) error {
	state, err := t.lookup(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if !state.status.Terminal() {
		state.stopped = true
	}
	t.mu.Unlock()
	state.cancel()
	return nil
}

// runPipeline runs the steps of pipeline p level by level, following
// dependency graph g. Steps within a level run concurrently. The first
// step error aborts the pipeline.
func runPipeline(ctx context.Context, p *Pipeline, g *Graph, runStep func(ctx context.Context, step *Step) error) error {
	steps := make(map[string]*Step)
	for _, s := range p.Steps() {
		steps[s.Name] = s
	}
	for i, level := range g.Levels() {
		log.Debug.Printf("pipeline %s: level %d: %v", p.Name(), i, level)
		grp, ctx := errgroup.WithContext(ctx)
		for _, name := range level {
			step := steps[name]
			grp.Go(func() error {
				if err := runStep(ctx, step); err != nil {
					return fmt.Errorf("step %s: %v", step.Name, err)
				}
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return err
		}
	}
	return nil
}
