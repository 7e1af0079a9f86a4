// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/must"
	"github.com/grailbio/pathway/exec"
)

func describeUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: pathway describe [-commands] pipeline.yaml

Command describe reads a pipeline, as written by Pipeline.WriteYAML,
and prints its steps in dependency order. Steps are grouped in levels:
the steps of a level depend only on steps of earlier levels, and may
run concurrently.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func describeCmd(args []string) {
	var (
		flags    = flag.NewFlagSet("pathway describe", flag.ExitOnError)
		commands = flags.Bool("commands", false, "print each step's entry point command line")
	)
	flags.Usage = func() { describeUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 1 {
		flags.Usage()
	}
	p := mustReadPipeline(flags.Arg(0))
	must.Nil(describe(os.Stdout, p, *commands))
}

// describe writes a description of pipeline p to w.
func describe(w io.Writer, p *exec.Pipeline, commands bool) error {
	g, err := p.Graph()
	if err != nil {
		return err
	}
	steps := make(map[string]*exec.Step)
	for _, step := range p.Steps() {
		steps[step.Name] = step
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "pipeline %s: %d steps\n", p.Name(), p.Len())
	for i, level := range g.Levels() {
		fmt.Fprintf(&b, "level %d:\n", i)
		for _, name := range level {
			step := steps[name]
			fmt.Fprintf(&b, "\t%s (func %s)", name, step.Func)
			if deps := g.Deps[name]; len(deps) > 0 {
				fmt.Fprintf(&b, " after %s", strings.Join(deps, ", "))
			}
			b.WriteString("\n")
			for _, ch := range step.Channels {
				dir := "<"
				if ch.Output {
					dir = ">"
				}
				fmt.Fprintf(&b, "\t\t%s %s %s\n", ch.Param, dir, ch.Path)
			}
			if commands {
				argv := append(append([]string{}, exec.DefaultEntrypoint...), step.Command...)
				fmt.Fprintf(&b, "\t\t$ %s\n", exec.ShellCommand(argv...))
			}
		}
	}
	_, err = w.Write(b.Bytes())
	return err
}

func definitionUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: pathway definition [flags] pipeline.yaml

Command definition reads a pipeline, as written by Pipeline.WriteYAML,
and prints the SageMaker pipeline definition that the sagemaker
submitter would create for it. The compute settings given by flags
apply to the steps that do not set their own.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func definitionCmd(args []string) {
	var (
		flags   = flag.NewFlagSet("pathway definition", flag.ExitOnError)
		compute exec.Compute
	)
	flags.StringVar(&compute.Image, "image", "", "the container image that runs jobs")
	flags.StringVar(&compute.InstanceType, "instance-type", "ml.m5.xlarge", "the instance type on which jobs run")
	flags.StringVar(&compute.Role, "role", "", "the role assumed by jobs")
	flags.Usage = func() { definitionUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 1 {
		flags.Usage()
	}
	p := mustReadPipeline(flags.Arg(0))
	def, err := exec.NewSageMaker(nil, compute).PipelineDefinition(p)
	must.Nil(err)
	var b bytes.Buffer
	must.Nil(json.Indent(&b, def, "", "  "))
	b.WriteString("\n")
	_, err = os.Stdout.Write(b.Bytes())
	must.Nil(err)
}

// mustReadPipeline reads the pipeline YAML at path, which may be a
// local path or any URL supported by package file.
func mustReadPipeline(path string) *exec.Pipeline {
	ctx := context.Background()
	f, err := file.Open(ctx, path)
	must.Nil(err)
	defer f.Close(ctx)
	p, err := exec.ReadPipelineYAML(f.Reader(ctx))
	must.Nil(err, "reading pipeline ", path)
	return p
}
