// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pathwaytest provides utilities for testing pathway user
// code. The utilities here run jobs in process, against an in-memory
// object store; they are strictly intended for unit testing.
package pathwaytest

import (
	"context"
	"testing"

	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/store"
)

// Start starts a local session backed by a fresh in-memory object
// store. The session is shut down when the test completes.
func Start(t testing.TB, options ...exec.Option) *exec.Session {
	t.Helper()
	options = append([]exec.Option{exec.Local, exec.Store(store.NewMemory())}, options...)
	sess := exec.Start(options...)
	t.Cleanup(sess.Shutdown)
	return sess
}

// Run submits fn with the provided positional arguments in local
// execution mode and returns its resolved return value, or nil if fn
// does not return a value. Errors are reported as fatal to the
// provided t instance. Arguments pass through the same binding,
// serialization, and entry point as remote jobs, so Run exercises the
// func as a remote job would.
func Run(t testing.TB, fn *pathway.FuncValue, args ...interface{}) interface{} {
	t.Helper()
	return resolve(t, Start(t), func(ctx context.Context, sess *exec.Session) (*exec.Job, error) {
		return sess.Run(ctx, fn, args...)
	})
}

// RunNamed is like Run, but binds arguments by parameter name.
func RunNamed(t testing.TB, fn *pathway.FuncValue, args map[string]interface{}) interface{} {
	t.Helper()
	return resolve(t, Start(t), func(ctx context.Context, sess *exec.Session) (*exec.Job, error) {
		return sess.RunNamed(ctx, fn, args)
	})
}

// RunErr runs fn like Run, but returns the job's error instead of
// failing the test. Errors submitting the job are still fatal.
func RunErr(t testing.TB, fn *pathway.FuncValue, args ...interface{}) error {
	t.Helper()
	ctx := context.Background()
	job, err := Start(t).Run(ctx, fn, args...)
	if err != nil {
		t.Fatal(err)
	}
	return job.Wait(ctx)
}

func resolve(t testing.TB, sess *exec.Session, run func(context.Context, *exec.Session) (*exec.Job, error)) interface{} {
	t.Helper()
	ctx := context.Background()
	job, err := run(ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if job.Result() == nil {
		return nil
	}
	v, err := job.Result().Resolve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
