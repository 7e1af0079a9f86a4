// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/store"
)

func init() {
	gob.Register(&runner{})
}

// BigmachineSubmitter is a submitter that runs each job on a machine
// of its own, allocated from a bigmachine system. Machines run the
// submitting binary; each hosts a Runner service that invokes the
// entry point. Before a job is run, the machine's registered funcs are
// checked against the submitting process's.
//
// Workers exchange objects through store.Default, so the scratch
// root must be reachable from the workers.
type BigmachineSubmitter struct {
	system bigmachine.System
	params []bigmachine.Param

	b      *bigmachine.B
	status *status.Group
	jobs   jobTable
}

// NewBigmachine returns a bigmachine submitter that allocates machines
// from system. The provided params are applied to each machine.
func NewBigmachine(system bigmachine.System, params ...bigmachine.Param) *BigmachineSubmitter {
	return &BigmachineSubmitter{system: system, params: params}
}

// Start starts the bigmachine session for the submitter. It is called
// by the session.
func (s *BigmachineSubmitter) Start(sess *Session) (shutdown func()) {
	s.b = bigmachine.Start(s.system)
	if st := sess.Status(); st != nil {
		s.status = st.Group("bigmachine")
	}
	return s.b.Shutdown
}

// Name implements Submitter.
func (s *BigmachineSubmitter) Name() string { return "bigmachine:" + s.system.Name() }

// Submit implements Submitter.
func (s *BigmachineSubmitter) Submit(ctx context.Context, spec JobSpec) error {
	if s.b == nil {
		return errors.E(errors.Precondition, "bigmachine submitter not started")
	}
	return s.jobs.start(spec.Name, func(ctx context.Context, running func()) error {
		return s.run(ctx, spec, running)
	})
}

// SubmitPipeline implements Submitter. Steps are run level by level in
// dependency order, each on its own machine.
func (s *BigmachineSubmitter) SubmitPipeline(ctx context.Context, p *Pipeline) (string, error) {
	if s.b == nil {
		return "", errors.E(errors.Precondition, "bigmachine submitter not started")
	}
	g, err := p.Graph()
	if err != nil {
		return "", err
	}
	name := JobName(p.Name(), time.Now())
	err = s.jobs.start(name, func(ctx context.Context, running func()) error {
		running()
		return runPipeline(ctx, p, g, func(ctx context.Context, step *Step) error {
			return s.run(ctx, step.Spec(), func() {})
		})
	})
	return name, err
}

func (s *BigmachineSubmitter) run(ctx context.Context, spec JobSpec, running func()) error {
	var task *status.Task
	if s.status != nil {
		task = s.status.Start(spec.Name)
		defer task.Done()
		task.Print("starting machine")
	}
	params := append([]bigmachine.Param{bigmachine.Services{"Runner": &runner{}}}, s.params...)
	machines, err := s.b.Start(ctx, 1, params...)
	if err != nil {
		return err
	}
	m := machines[0]
	defer m.Cancel()
	<-m.Wait(bigmachine.Running)
	if err := m.Err(); err != nil {
		return fmt.Errorf("machine %s failed to start: %v", m.Addr, err)
	}
	var digests map[string]string
	if err := m.RetryCall(ctx, "Runner.FuncDigests", struct{}{}, &digests); err != nil {
		return fmt.Errorf("machine %s: verify funcs: %v", m.Addr, err)
	}
	if diff := pathway.FuncDigestsDiff(pathway.FuncDigests(), digests); len(diff) > 0 {
		for _, edit := range diff {
			log.Printf("[funcsdiff] %s", edit)
		}
		return errors.E(errors.Invalid, fmt.Sprintf("machine %s has different funcs; check for non-deterministic func registration", m.Addr))
	}
	running()
	if task != nil {
		task.Title(spec.Name, " ", m.Addr)
		task.Print("running ", spec.Func)
	}
	log.Printf("job %s: running %s on %s", spec.Name, spec.Func, m.Addr)
	return m.Call(ctx, "Runner.Invoke", []string(spec.Command), nil)
}

// Status implements Submitter.
func (s *BigmachineSubmitter) Status(ctx context.Context, name string) (JobStatus, error) {
	return s.jobs.status(name)
}

// Describe implements Describer.
func (s *BigmachineSubmitter) Describe(ctx context.Context, name string) (Description, error) {
	return s.jobs.describe(name)
}

// Wait implements Submitter.
func (s *BigmachineSubmitter) Wait(ctx context.Context, name string) error {
	return s.jobs.wait(ctx, name)
}

// Stop implements Submitter. Stopping a job cancels the call to its
// machine, which is then shut down.
func (s *BigmachineSubmitter) Stop(ctx context.Context, name string) error {
	return s.jobs.stop(name)
}

// runner is the bigmachine service that runs jobs on worker machines.
type runner struct {
	// Exported satisfies gob, which requires at least one exported
	// field.
	Exported struct{}

	store store.Store
}

// Init implements bigmachine's service initialization.
func (r *runner) Init(b *bigmachine.B) error {
	r.store = store.WithRetry(store.Default, nil)
	return nil
}

// FuncDigests returns the digests of the funcs registered on the
// worker.
func (r *runner) FuncDigests(ctx context.Context, _ struct{}, digests *map[string]string) error {
	*digests = pathway.FuncDigests()
	return nil
}

// Invoke runs the entry point with the provided command line.
func (r *runner) Invoke(ctx context.Context, argv []string, _ *struct{}) error {
	return Invoke(ctx, argv, r.store)
}
