// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store implements the object stores through which pathway
// jobs exchange func references, arguments, and return values.
// Objects are addressed by URIs of the form scheme://bucket/key; local
// paths (with no scheme) are also accepted by the file store.
//
// Store errors are github.com/grailbio/base/errors errors: missing
// objects have kind errors.NotExist, access failures have kind
// errors.NotAllowed, and transient failures carry severity
// errors.Temporary so that they may be retried.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Store is a blob store keyed by URI. Objects are written once, under
// unique keys, and are never mutated.
type Store interface {
	// Put stores p under uri.
	Put(ctx context.Context, uri string, p []byte) error
	// Get retrieves the object stored under uri. If no such object
	// exists, Get returns an error of kind errors.NotExist.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Parse splits uri into its scheme, bucket, and key. Local paths
// have an empty scheme and bucket; their key is the path itself.
func Parse(uri string) (scheme, bucket, key string, err error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		if uri == "" {
			return "", "", "", errors.E(errors.Invalid, "empty uri")
		}
		return "", "", uri, nil
	}
	scheme, rest := uri[:i], uri[i+3:]
	if scheme == "" {
		return "", "", "", errors.E(errors.Invalid, fmt.Sprintf("uri %s: missing scheme", uri))
	}
	j := strings.Index(rest, "/")
	if j <= 0 || j == len(rest)-1 {
		return "", "", "", errors.E(errors.Invalid, fmt.Sprintf("uri %s: expected %s://bucket/key", uri, scheme))
	}
	return scheme, rest[:j], rest[j+1:], nil
}

// Scheme returns the scheme of uri, or "" for local paths.
func Scheme(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i]
	}
	return ""
}

// Join joins a prefix and path elements with slashes, leaving the
// prefix's scheme intact.
func Join(prefix string, elems ...string) string {
	s := strings.TrimRight(prefix, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		s += "/" + e
	}
	return s
}

// notExist returns a NotExist error for the object at uri.
func notExist(op, uri string) error {
	return errors.E(errors.NotExist, fmt.Sprintf("%s %s: object does not exist", op, uri))
}
