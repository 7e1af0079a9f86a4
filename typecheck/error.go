// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"fmt"
	"runtime"
)

// Error is a registration error, attributed to the source location
// of the offending registration.
type Error struct {
	Err  error
	File string
	Line int
}

// NewError creates a new typechecking error at the given calldepth.
func NewError(calldepth int, err error) *Error {
	e := &Error{Err: err}
	var ok bool
	_, e.File, e.Line, ok = runtime.Caller(calldepth + 1)
	if !ok {
		e.File = "<unknown>"
	}
	return e
}

// Errorf constructs an error in the manner of fmt.Errorf.
func Errorf(calldepth int, format string, args ...interface{}) *Error {
	return NewError(calldepth+1, fmt.Errorf(format, args...))
}

// Panicf constructs a new formatted typechecking error and then
// panics with it.
func Panicf(calldepth int, format string, args ...interface{}) {
	panic(Errorf(calldepth+1, format, args...))
}

// Error implements error.
func (err *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", err.File, err.Line, err.Err)
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error { return err.Err }

// Catch calls fn and returns the typechecking error with which it
// panics, if any. Other panics are propagated.
//
//	err := typecheck.Catch(func() { pathway.Func("bad", 1) })
func Catch(fn func()) (err *Error) {
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		var ok bool
		if err, ok = e.(*Error); !ok {
			panic(e)
		}
	}()
	fn()
	return nil
}
