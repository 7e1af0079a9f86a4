// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command pathway is a tool for inspecting pathway pipelines and
// objects, and for managing pathway configuration.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/pathway/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Pathway is a tool for inspecting pathway pipelines and managing pathway configuration.

Usage:

	pathway <command> [arguments]

The commands are:

	describe         describe a pipeline's steps and dependencies
	definition       render a pipeline as a SageMaker pipeline definition
	inspect          describe objects in the object store
	setup-sagemaker  configure SageMaker for use with pathway
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("pathway: ")
	must.Func = log.Fatal
	store.RegisterS3()
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "describe":
		describeCmd(args)
	case "definition":
		definitionCmd(args)
	case "inspect":
		inspectCmd(args)
	case "setup-sagemaker":
		setupSageMakerCmd(args)
	}
}
