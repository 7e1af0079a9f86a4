// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Badfuncs is a binary that tests various scenarios of Func registration
// that may fail to satisfy the invariant that the submitting binary and
// the binaries that run jobs share common definitions of Funcs. Run it
// with a remote submitter, for example:
//
//	badfuncs -set pathway.submitter=bigmachine toolate
//
// All tests should result in an error except for 'ok'.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/pathwayconfig"
)

var makeFuncs = []func() *pathway.FuncValue{
	func() *pathway.FuncValue {
		return pathway.Func("badfuncs-zero", func() int { return 0 })
	},
	func() *pathway.FuncValue {
		return pathway.Func("badfuncs-inc", func(x int) int { return x + 1 }, pathway.Arg("x"))
	},
}

func run(sess *exec.Session, fn *pathway.FuncValue, args ...interface{}) {
	ctx := context.Background()
	job := sess.Must(ctx, fn, args...)
	if err := job.Wait(ctx); err != nil {
		log.Fatal(err)
	}
	v, err := job.Result().Resolve(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%s: %v", job, v)
}

func ok() {
	funcs := make([]*pathway.FuncValue, len(makeFuncs))
	for i, makeFunc := range makeFuncs {
		funcs[i] = makeFunc()
	}
	sess, shutdown := pathwayconfig.Parse()
	defer shutdown()
	run(sess, funcs[1], 41)
}

func toolate() {
	sess, shutdown := pathwayconfig.Parse()
	defer shutdown()
	// Workers start before the func is registered.
	run(sess, makeFuncs[0]())
}

func random() {
	rand.Seed(time.Now().UTC().UnixNano())
	name := []string{"x", "y"}[rand.Intn(2)]
	fn := pathway.Func("badfuncs-random", func(x int) int { return x }, pathway.Arg(name))
	sess, shutdown := pathwayconfig.Parse()
	defer shutdown()
	run(sess, fn, 1)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: badfuncs test-name

Command badfuncs tests various scenarios of Func registration that may
fail to satisfy the invariant that all binaries share common definitions
of Funcs. All tests should result in an error except for 'ok'.

Available tests are:

	ok
		Funcs are properly registered.
	toolate
		Funcs are registered after the session is started, so they are not
		available on workers.
	random
		Funcs are registered with randomly named parameters. (Note that this
		may not fail if the worker randomly chooses the same names.)

`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	if len(os.Args) < 2 {
		flag.Usage()
	}
	cmd := os.Args[len(os.Args)-1]
	switch cmd {
	case "ok":
		ok()
	case "toolate":
		toolate()
	case "random":
		random()
	default:
		fmt.Fprintf(os.Stderr, "unknown test %s\n", cmd)
		flag.Usage()
	}
}
