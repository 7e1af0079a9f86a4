// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
)

// DefaultRetryPolicy is the retry policy used by WithRetry when none
// is given.
var DefaultRetryPolicy = retry.MaxTries(retry.Backoff(500*time.Millisecond, 10*time.Second, 2), 5)

// Retrying is a Store that retries transient failures of an
// underlying store. Errors that are not temporary, such as missing
// objects, are returned immediately.
type Retrying struct {
	Store  Store
	Policy retry.Policy
}

// WithRetry returns a store that retries transient failures of s
// according to policy. If policy is nil, DefaultRetryPolicy is used.
func WithRetry(s Store, policy retry.Policy) *Retrying {
	if policy == nil {
		policy = DefaultRetryPolicy
	}
	return &Retrying{Store: s, Policy: policy}
}

// Put implements Store.
func (r *Retrying) Put(ctx context.Context, uri string, p []byte) error {
	return r.do(ctx, "put", uri, func() error {
		return r.Store.Put(ctx, uri, p)
	})
}

// Get implements Store.
func (r *Retrying) Get(ctx context.Context, uri string) (p []byte, err error) {
	err = r.do(ctx, "get", uri, func() error {
		p, err = r.Store.Get(ctx, uri)
		return err
	})
	return
}

func (r *Retrying) do(ctx context.Context, op, uri string, fn func() error) error {
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil || !errors.IsTemporary(err) {
			return err
		}
		log.Error.Printf("store: %s %s: retrying (%d) after error: %v", op, uri, retries, err)
		if werr := retry.Wait(ctx, r.Policy, retries); werr != nil {
			return errors.E(errors.TooManyTries, err)
		}
	}
}
