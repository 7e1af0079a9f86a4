// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"sync"

	"github.com/grailbio/pathway"
)

// A Job is a handle to a submitted job, or to a pipeline step. Job
// status is only learned by querying the submitter; once a job has
// been observed to be Completed, its status is cached and the
// submitter is never queried again.
//
// Jobs that represent pipeline steps are pending until the pipeline
// is submitted by Session.RunPipeline; thereafter they report the
// status of the pipeline execution.
type Job struct {
	name   string
	fn     *pathway.FuncValue
	result *Result

	mu        sync.Mutex
	submitter Submitter
	// parent is the pipeline execution to which a step is bound.
	parent    *Job
	completed bool
}

func newJob(name string, fn *pathway.FuncValue, submitter Submitter) *Job {
	return &Job{name: name, fn: fn, submitter: submitter}
}

// Name returns the job's unique name.
func (j *Job) Name() string { return j.name }

// Func returns the func invoked by the job. It is nil for pipeline
// executions.
func (j *Job) Func() *pathway.FuncValue { return j.fn }

// Result returns the handle to the job's return value, or nil if the
// job's func does not declare one.
func (j *Job) Result() *Result { return j.result }

// bind binds a pipeline step to the pipeline execution that runs it.
func (j *Job) bind(parent *Job) {
	j.mu.Lock()
	j.parent = parent
	j.mu.Unlock()
}

// Status returns the job's current status.
func (j *Job) Status(ctx context.Context) (JobStatus, error) {
	j.mu.Lock()
	if j.completed {
		j.mu.Unlock()
		return Completed, nil
	}
	parent, submitter := j.parent, j.submitter
	j.mu.Unlock()
	var (
		status JobStatus
		err    error
	)
	switch {
	case parent != nil:
		status, err = parent.Status(ctx)
	case submitter == nil:
		// An unsubmitted pipeline step.
		return Pending, nil
	default:
		status, err = submitter.Status(ctx, j.name)
	}
	if err != nil {
		return status, err
	}
	if status == Completed {
		j.mu.Lock()
		j.completed = true
		j.mu.Unlock()
	}
	return status, nil
}

// Describe returns a description of the job from its submitter. Steps
// of a submitted pipeline are described by the pipeline execution.
// Submitters that do not implement Describer yield a description
// carrying only the job's status. Unlike Status, Describe always
// queries the submitter.
func (j *Job) Describe(ctx context.Context) (Description, error) {
	j.mu.Lock()
	parent, submitter, completed := j.parent, j.submitter, j.completed
	j.mu.Unlock()
	switch {
	case parent != nil:
		return parent.Describe(ctx)
	case submitter == nil:
		return Description{Name: j.name, Status: Pending}, nil
	}
	if d, ok := submitter.(Describer); ok {
		desc, err := d.Describe(ctx, j.name)
		switch {
		case err != nil:
		case completed:
			// Completion is sticky.
			desc.Status = Completed
		case desc.Status == Completed:
			j.mu.Lock()
			j.completed = true
			j.mu.Unlock()
		}
		return desc, err
	}
	status, err := j.Status(ctx)
	return Description{Name: j.name, Status: status}, err
}

// Done tells whether the job has completed successfully.
func (j *Job) Done(ctx context.Context) (bool, error) {
	status, err := j.Status(ctx)
	return status == Completed, err
}

// Wait blocks until the job terminates. Wait returns an error if the
// job failed or was stopped. Waiting on a pipeline step that has not
// been submitted returns a NotReady error.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	if j.completed {
		j.mu.Unlock()
		return nil
	}
	parent, submitter := j.parent, j.submitter
	j.mu.Unlock()
	var err error
	switch {
	case parent != nil:
		err = parent.Wait(ctx)
	case submitter == nil:
		return pathway.Errorf(pathway.NotReady, "wait "+j.name, "pipeline step has not been submitted")
	default:
		err = submitter.Wait(ctx, j.name)
	}
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.completed = true
	j.mu.Unlock()
	return nil
}

// Stop requests that the job be stopped. Stopping is best effort.
// Stopping a pipeline step stops the whole pipeline execution.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	parent, submitter := j.parent, j.submitter
	j.mu.Unlock()
	switch {
	case parent != nil:
		return parent.Stop(ctx)
	case submitter == nil:
		return nil
	default:
		return submitter.Stop(ctx, j.name)
	}
}

// String returns the job's name.
func (j *Job) String() string { return j.name }
