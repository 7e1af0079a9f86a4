// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/pathway"
)

// JobStatus is the status of a submitted job, as reported by a
// Submitter.
type JobStatus int

const (
	// Pending jobs have been submitted but have not started.
	Pending JobStatus = iota
	// Running jobs are executing.
	Running
	// Completed jobs have finished successfully. Completion is
	// terminal.
	Completed
	// Failed jobs have finished unsuccessfully.
	Failed
	// Stopped jobs were stopped before they finished.
	Stopped
)

var jobStatuses = [...]string{
	Pending:   "pending",
	Running:   "running",
	Completed: "completed",
	Failed:    "failed",
	Stopped:   "stopped",
}

// String returns the status's name.
func (s JobStatus) String() string {
	if s < 0 || int(s) >= len(jobStatuses) {
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
	return jobStatuses[s]
}

// Terminal tells whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == Completed || s == Failed || s == Stopped
}

// A Channel is an external input or output of a job, identified by
// the parameter it is bound to and its path.
type Channel struct {
	Param  string `yaml:"param"`
	Path   string `yaml:"path"`
	Output bool   `yaml:"output,omitempty"`
}

// Compute describes the resources on which a job runs.
type Compute struct {
	// Image is the container image that runs the job's entry point.
	Image string `yaml:"image,omitempty"`
	// InstanceType is the compute instance type, e.g., ml.m5.xlarge.
	InstanceType string `yaml:"instance_type,omitempty"`
	// InstanceCount is the number of instances.
	InstanceCount int `yaml:"instance_count,omitempty"`
	// Role is the role assumed by the job.
	Role string `yaml:"role,omitempty"`
	// Entrypoint is the command that runs the entry point in the
	// image. The job's command line is appended to it.
	Entrypoint []string `yaml:"entrypoint,omitempty"`
	// VolumeSizeGB is the size of the job's scratch volume.
	VolumeSizeGB int `yaml:"volume_size_gb,omitempty"`
	// MaxRuntime bounds the job's running time, if nonzero.
	MaxRuntime time.Duration `yaml:"max_runtime,omitempty"`
}

// JobSpec is a job, ready to be submitted.
type JobSpec struct {
	// Name is the job's unique name.
	Name string
	// Func is the name of the func invoked by the job.
	Func string
	// Command is the entry point command line.
	Command pathway.CommandLine
	// Channels lists the job's external inputs and outputs.
	Channels []Channel
	// Compute is the job's compute configuration.
	Compute Compute
}

// Submitter is the interface to a job submission service. Submitters
// run jobs, which invoke the entry point (Invoke) with the job's
// command line, and pipelines of such jobs.
//
// Job statuses are only observed by polling. Stop is best effort: the
// job may still be running when Stop returns.
type Submitter interface {
	// Name returns the submitter's name, for logging and metrics.
	Name() string
	// Submit submits a job.
	Submit(ctx context.Context, spec JobSpec) error
	// SubmitPipeline submits a pipeline as a single dependency graph,
	// returning the name of the pipeline execution. The execution name
	// may be passed to Status, Wait, and Stop.
	SubmitPipeline(ctx context.Context, p *Pipeline) (string, error)
	// Status returns the current status of the named job or pipeline
	// execution.
	Status(ctx context.Context, name string) (JobStatus, error)
	// Wait blocks until the named job or pipeline execution reaches a
	// terminal status. Wait returns nil only if it completed.
	Wait(ctx context.Context, name string) error
	// Stop requests that the named job or pipeline execution be
	// stopped.
	Stop(ctx context.Context, name string) error
}

// A Description is a snapshot of a job's state, as reported by its
// submitter. Times are zero when the submitter does not report them.
type Description struct {
	Name   string
	Status JobStatus
	// Reason describes why a job failed or was stopped.
	Reason string
	// Created is the time the job was submitted.
	Created time.Time
	// Started and Ended delimit the job's run.
	Started, Ended time.Time
	// Modified is the time the job's state last changed.
	Modified time.Time
}

// Describer is implemented by submitters that can describe jobs in
// more detail than their status.
type Describer interface {
	Describe(ctx context.Context, name string) (Description, error)
}

// statusError returns the error reported by Wait for a job that
// finished with the given status.
func statusError(name string, status JobStatus, reason string) error {
	if status == Completed {
		return nil
	}
	if reason == "" {
		return fmt.Errorf("job %s %s", name, status)
	}
	return fmt.Errorf("job %s %s: %s", name, status, reason)
}
