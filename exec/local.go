// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"time"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/store"
)

// LocalSubmitter is a submitter that runs jobs in-process, in separate
// goroutines, by calling the entry point directly. At most
// parallelism jobs (or pipeline steps) run at a time. It is used for
// testing and for running small workloads without a compute service.
type LocalSubmitter struct {
	// Bootstrapper receives environment definitions. If nil,
	// LogBootstrapper is used.
	Bootstrapper Bootstrapper

	store   store.Store
	limiter *limiter.Limiter
	jobs    jobTable
}

// NewLocal returns a local submitter that exchanges objects through
// store st and runs up to parallelism jobs concurrently.
func NewLocal(st store.Store, parallelism int) *LocalSubmitter {
	if parallelism <= 0 {
		parallelism = 1
	}
	l := &LocalSubmitter{store: st, limiter: limiter.New()}
	l.limiter.Release(parallelism)
	return l
}

// Name implements Submitter.
func (*LocalSubmitter) Name() string { return "local" }

// Submit implements Submitter.
func (l *LocalSubmitter) Submit(ctx context.Context, spec JobSpec) error {
	return l.jobs.start(spec.Name, func(ctx context.Context, running func()) error {
		return l.invoke(ctx, spec.Command, running)
	})
}

// SubmitPipeline implements Submitter. Pipeline steps are run level
// by level in dependency order.
func (l *LocalSubmitter) SubmitPipeline(ctx context.Context, p *Pipeline) (string, error) {
	g, err := p.Graph()
	if err != nil {
		return "", err
	}
	name := JobName(p.Name(), time.Now())
	err = l.jobs.start(name, func(ctx context.Context, running func()) error {
		running()
		return runPipeline(ctx, p, g, func(ctx context.Context, step *Step) error {
			return l.invoke(ctx, step.Command, func() {})
		})
	})
	return name, err
}

func (l *LocalSubmitter) invoke(ctx context.Context, cmd pathway.CommandLine, running func()) error {
	if err := l.limiter.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.limiter.Release(1)
	running()
	boot := l.Bootstrapper
	if boot == nil {
		boot = LogBootstrapper
	}
	return InvokeWith(ctx, cmd, l.store, boot)
}

// Status implements Submitter.
func (l *LocalSubmitter) Status(ctx context.Context, name string) (JobStatus, error) {
	return l.jobs.status(name)
}

// Describe implements Describer.
func (l *LocalSubmitter) Describe(ctx context.Context, name string) (Description, error) {
	return l.jobs.describe(name)
}

// Wait implements Submitter.
func (l *LocalSubmitter) Wait(ctx context.Context, name string) error {
	return l.jobs.wait(ctx, name)
}

// Stop implements Submitter. Stop cancels the job's context; the job's
// func observes cancellation only if it takes a context.
func (l *LocalSubmitter) Stop(ctx context.Context, name string) error {
	return l.jobs.stop(name)
}
