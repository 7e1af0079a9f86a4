// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"reflect"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/metrics"
	"github.com/grailbio/pathway/store"
	"golang.org/x/sync/errgroup"
)

// A Result is a handle to the return value of a job. The value exists
// only once the job has completed. Results are resolved explicitly:
// Resolve fails with a NotReady error while the job has not
// completed, and otherwise fetches the value from the object store
// once, caching it for subsequent calls.
//
// Results implement pathway.Deferred: they may be passed as opaque
// arguments to other funcs, in which case the value is passed by
// reference rather than being downloaded and uploaded again.
type Result struct {
	job   *Job
	ref   pathway.ObjectRef
	typ   reflect.Type
	store store.Store

	mu       sync.Mutex
	resolved bool
	value    interface{}
}

func newResult(job *Job, uri string, typ reflect.Type, st store.Store) *Result {
	return &Result{
		job:   job,
		ref:   pathway.ObjectRef{URI: uri, Format: pathway.FormatGob},
		typ:   typ,
		store: st,
	}
}

// Job returns the job that produces the result.
func (r *Result) Job() *Job { return r.job }

// Ref implements pathway.Deferred.
func (r *Result) Ref() pathway.ObjectRef { return r.ref }

// Type implements pathway.Deferred. It returns the declared type of
// the result value.
func (r *Result) Type() reflect.Type { return r.typ }

// Done implements pathway.Deferred. It reports whether the producing
// job has completed.
func (r *Result) Done(ctx context.Context) (bool, error) {
	return r.job.Done(ctx)
}

// Resolved tells whether the result value has been fetched.
func (r *Result) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Resolve returns the result value. If the value has been resolved
// before, the cached value is returned. Otherwise, Resolve queries the
// status of the producing job: if it has not completed, Resolve
// returns a NotReady error without accessing the object store;
// callers may retry later. Resolve does not block on the job.
func (r *Result) Resolve(ctx context.Context) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		metrics.Resolves.WithLabelValues("cached").Inc()
		return r.value, nil
	}
	op := "resolve " + r.ref.URI
	done, err := r.job.Done(ctx)
	if err != nil {
		metrics.Resolves.WithLabelValues("error").Inc()
		return nil, pathway.Wrap(pathway.Other, op, err)
	}
	if !done {
		metrics.Resolves.WithLabelValues("not_ready").Inc()
		return nil, pathway.Errorf(pathway.NotReady, op, "job %s has not completed", r.job.Name())
	}
	p, err := r.store.Get(ctx, r.ref.URI)
	if err != nil {
		metrics.Resolves.WithLabelValues("error").Inc()
		return nil, pathway.Wrap(pathway.Other, op, err)
	}
	v, err := pathway.Decode(p, r.typ)
	if err != nil {
		metrics.Resolves.WithLabelValues("error").Inc()
		return nil, err
	}
	log.Debug.Printf("resolved %s (%d bytes) from job %s", r.ref.URI, len(p), r.job.Name())
	metrics.Resolves.WithLabelValues("fetched").Inc()
	r.value, r.resolved = v, true
	return v, nil
}

// WaitAll waits for the jobs producing the provided results and then
// resolves them concurrently, returning their values in order. WaitAll
// fails if any job fails.
func WaitAll(ctx context.Context, results ...*Result) ([]interface{}, error) {
	values := make([]interface{}, len(results))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range results {
		i, r := i, r
		g.Go(func() error {
			if err := r.job.Wait(ctx); err != nil {
				return err
			}
			v, err := r.Resolve(ctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
