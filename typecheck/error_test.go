// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"errors"
	"runtime"
	"testing"
)

func errorCaller(calldepth int, err error) (e *Error, file string, line int) {
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		panic("not ok")
	}
	return NewError(calldepth+1, err), file, line
}

func TestError(t *testing.T) {
	e := errors.New("hello world")
	err, file, line := errorCaller(1, e)
	if got, want := err.Err, e; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := file, err.File; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := line, err.Line; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(err, e) {
		t.Error("error does not unwrap")
	}
}

func TestCatch(t *testing.T) {
	_, file, line, _ := runtime.Caller(0)
	err := Catch(func() { Panicf(0, "bad func %d", 1) })
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Err.Error(), "bad func 1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := err.File, file; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := err.Line, line+1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := Catch(func() {}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestCatchPropagates(t *testing.T) {
	defer func() {
		if e := recover(); e != "boom" {
			t.Errorf("got %v, want boom", e)
		}
	}()
	Catch(func() { panic("boom") })
}
