// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Tests the static pathway typechecker.
//
// This is a correctly-typed Go program (even though it's incomplete and thus
// not runnable, for simplicity). However, its pathway Func registration and
// invocation are incorrectly typed, and the static typechecker finds that.
package main

import (
	"context"

	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/exec"
)

var testFunc = pathway.Func("wrongarg-test", func(ctx context.Context, argInt int, argString string) int {
	return argInt
}, pathway.Arg("argInt"), pathway.Arg("argString"))

var undeclared = pathway.Func("wrongarg-undeclared", func(a, b int) {}, pathway.Arg("a"))

func main() {
	ctx := context.Background()
	var session *exec.Session
	_ = session.Must(ctx, testFunc, "i should be an int", "i'm ok")
	res := session.Must(ctx, testFunc, 1, "ok").Result()
	_ = session.Must(ctx, testFunc, res, "ok")
	_ = undeclared
}
