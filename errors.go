// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"errors"
	"fmt"

	baseerrors "github.com/grailbio/base/errors"
)

// Kind classifies errors raised by the invocation protocol.
type Kind int

const (
	// Other is an unclassified error.
	Other Kind = iota
	// ArgumentBinding indicates that the arguments supplied to a func
	// do not cover its parameters, or do not match them in type.
	// Binding errors are raised before any I/O is performed.
	ArgumentBinding
	// Classification indicates that an argument cannot be marshaled
	// according to its declared parameter type.
	Classification
	// Serialization indicates that a payload could not be encoded or
	// decoded.
	Serialization
	// NotReady indicates that a remote value was accessed before the
	// job producing it completed. NotReady errors may be retried.
	NotReady
	// RemoteInvocation indicates that the invoked func itself failed.
	RemoteInvocation
	// Config indicates a configuration error, for example a parameter
	// name that collides with a reserved command line flag.
	Config
)

var kinds = map[Kind]string{
	Other:            "other",
	ArgumentBinding:  "argument binding",
	Classification:   "classification",
	Serialization:    "serialization",
	NotReady:         "not ready",
	RemoteInvocation: "remote invocation",
	Config:           "configuration",
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if s, ok := kinds[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by pathway operations.
type Error struct {
	// Kind is the error's classification.
	Kind Kind
	// Op describes the operation that failed, e.g., "bind split".
	Op string
	// Err is the underlying error.
	Err error
}

// Errorf constructs a new error of the given kind for operation op.
func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps err with the given kind and operation. Wrap returns nil
// if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("pathway: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("pathway: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is tells whether err, or any error it wraps, is a pathway error of
// the given kind. Errors are unwrapped through both standard wrapping
// and grailbio/base/errors chains.
func Is(kind Kind, err error) bool {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			if e.Kind == kind {
				return true
			}
			err = e.Err
		case *baseerrors.Error:
			err = e.Err
		default:
			err = errors.Unwrap(err)
		}
	}
	return false
}
