// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/grailbio/pathway"
	"gopkg.in/yaml.v3"
)

// A Step is a job submission that was recorded in a pipeline instead
// of being submitted.
type Step struct {
	// Name is the step's unique name. It is also the name of the job
	// that runs the step.
	Name string `yaml:"name"`
	// Func is the name of the func invoked by the step.
	Func string `yaml:"func"`
	// Command is the step's entry point command line.
	Command pathway.CommandLine `yaml:"command,flow"`
	// Channels are the step's external inputs and outputs.
	Channels []Channel `yaml:"channels,omitempty"`
	// DependsOn names the steps that produce values consumed by this
	// step.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Compute is the step's compute configuration.
	Compute Compute `yaml:"compute"`

	job *Job
}

// Spec returns the job specification for running the step on its
// own.
func (s *Step) Spec() JobSpec {
	return JobSpec{
		Name:     s.Name,
		Func:     s.Func,
		Command:  s.Command,
		Channels: s.Channels,
		Compute:  s.Compute,
	}
}

// Job returns the handle to the job that runs the step.
func (s *Step) Job() *Job { return s.job }

// A Pipeline is a named, ordered list of steps, assembled while the
// pipeline is current in a session (see Session.EnterPipeline) and
// then submitted as a single dependency graph.
type Pipeline struct {
	name string

	mu    sync.Mutex
	steps []*Step
	jobs  map[*Job]*Step
}

// NewPipeline returns a new, empty pipeline with the provided name.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{name: name, jobs: make(map[*Job]*Step)}
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() string { return p.name }

// Steps returns the pipeline's steps in the order they were recorded.
func (p *Pipeline) Steps() []*Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Step(nil), p.steps...)
}

// Len returns the number of steps in the pipeline.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

// Append appends a step to the pipeline.
func (p *Pipeline) Append(step *Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step)
	if step.job != nil {
		p.jobs[step.job] = step
	}
}

// stepOf returns the name of the step that produces the deferred value
// d, if d is the result of a step of p.
func (p *Pipeline) stepOf(d pathway.Deferred) (string, bool) {
	r, ok := d.(*Result)
	if !ok {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	step, ok := p.jobs[r.job]
	if !ok {
		return "", false
	}
	return step.Name, true
}

// Graph is the validated dependency graph of a pipeline.
type Graph struct {
	// Order lists the step names in a topological order.
	Order []string
	// Deps maps each step name to the names of the steps on which it
	// depends, sorted.
	Deps map[string][]string
}

// Levels partitions the graph's steps into levels: each step depends
// only on steps in earlier levels.
func (g *Graph) Levels() [][]string {
	level := make(map[string]int, len(g.Order))
	var levels [][]string
	for _, name := range g.Order {
		l := 0
		for _, dep := range g.Deps[name] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[name] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], name)
	}
	return levels
}

// Graph computes and validates the pipeline's dependency graph. A
// step depends on the steps named in its DependsOn list, and on every
// step with an output channel whose path is one of its input
// channels. Graph returns a Config error if the pipeline is empty,
// has duplicate step names, references unknown steps, or has cycles.
func (p *Pipeline) Graph() (*Graph, error) {
	steps := p.Steps()
	op := "pipeline " + p.name
	if len(steps) == 0 {
		return nil, pathway.Errorf(pathway.Config, op, "pipeline has no steps")
	}
	names := make(map[string]bool, len(steps))
	producers := make(map[string][]string)
	for _, s := range steps {
		if names[s.Name] {
			return nil, pathway.Errorf(pathway.Config, op, "duplicate step %q", s.Name)
		}
		names[s.Name] = true
		for _, c := range s.Channels {
			if c.Output {
				producers[c.Path] = append(producers[c.Path], s.Name)
			}
		}
	}
	g := &Graph{Deps: make(map[string][]string, len(steps))}
	for _, s := range steps {
		deps := make(map[string]bool)
		for _, dep := range s.DependsOn {
			if !names[dep] {
				return nil, pathway.Errorf(pathway.Config, op, "step %q depends on unknown step %q", s.Name, dep)
			}
			if dep == s.Name {
				return nil, pathway.Errorf(pathway.Config, op, "step %q depends on itself", s.Name)
			}
			deps[dep] = true
		}
		for _, c := range s.Channels {
			if c.Output {
				continue
			}
			for _, producer := range producers[c.Path] {
				if producer != s.Name {
					deps[producer] = true
				}
			}
		}
		list := make([]string, 0, len(deps))
		for dep := range deps {
			list = append(list, dep)
		}
		sort.Strings(list)
		g.Deps[s.Name] = list
	}

	// Kahn's algorithm; ties are broken by recording order.
	indegree := make(map[string]int, len(steps))
	successors := make(map[string][]string)
	for _, s := range steps {
		indegree[s.Name] = len(g.Deps[s.Name])
		for _, dep := range g.Deps[s.Name] {
			successors[dep] = append(successors[dep], s.Name)
		}
	}
	var queue []string
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		g.Order = append(g.Order, name)
		for _, succ := range successors[name] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	if len(g.Order) != len(steps) {
		return nil, pathway.Errorf(pathway.Config, op, "pipeline has a dependency cycle")
	}
	return g, nil
}

type pipelineYAML struct {
	Name  string  `yaml:"name"`
	Steps []*Step `yaml:"steps"`
}

// WriteYAML renders the pipeline definition as YAML to w.
func (p *Pipeline) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(pipelineYAML{Name: p.name, Steps: p.Steps()}); err != nil {
		return fmt.Errorf("pipeline %s: %v", p.name, err)
	}
	return enc.Close()
}

// ReadPipelineYAML reads a pipeline definition written by WriteYAML.
func ReadPipelineYAML(r io.Reader) (*Pipeline, error) {
	var def pipelineYAML
	if err := yaml.NewDecoder(r).Decode(&def); err != nil {
		return nil, err
	}
	p := NewPipeline(def.Name)
	for _, s := range def.Steps {
		p.Append(s)
	}
	return p, nil
}
