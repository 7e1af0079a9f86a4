// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

// File is a Store backed by github.com/grailbio/base/file. It serves
// local paths as well as any URL scheme registered with the file
// package (e.g., s3:// once RegisterS3 has been called).
type File struct{}

// Put implements Store.
func (File) Put(ctx context.Context, uri string, p []byte) (err error) {
	f, err := file.Create(ctx, uri)
	if err != nil {
		return fileError("put", uri, err)
	}
	if _, err = f.Writer(ctx).Write(p); err != nil {
		f.Discard(ctx)
		return fileError("put", uri, err)
	}
	return fileError("put", uri, f.Close(ctx))
}

// Get implements Store.
func (File) Get(ctx context.Context, uri string) ([]byte, error) {
	f, err := file.Open(ctx, uri)
	if err != nil {
		return nil, fileError("get", uri, err)
	}
	defer f.Close(ctx) // nolint: errcheck
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, fileError("get", uri, err)
	}
	return p, nil
}

// fileError converts errors from the file package into store errors,
// classifying missing objects, permission failures, and transient
// errors.
func fileError(op, uri string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s %s", op, uri)
	switch {
	case os.IsNotExist(err), errors.Is(errors.NotExist, err):
		return errors.E(errors.NotExist, msg, err)
	case os.IsPermission(err), errors.Is(errors.NotAllowed, err):
		return errors.E(errors.NotAllowed, msg, err)
	case errors.Is(errors.Canceled, err), err == context.Canceled:
		return errors.E(errors.Canceled, msg, err)
	case errors.IsTemporary(err), errors.Is(errors.Net, err), errors.Is(errors.Unavailable, err):
		return errors.E(errors.Unavailable, errors.Temporary, msg, err)
	default:
		return errors.E(msg, err)
	}
}

var registerS3 sync.Once

// RegisterS3 registers the S3 implementation of the file package so
// that the file store serves s3:// URIs. RegisterS3 may be called more
// than once.
func RegisterS3() {
	registerS3.Do(func() {
		file.RegisterImplementation("s3", func() file.Implementation {
			return s3file.NewImplementation(
				s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
		})
	})
}
