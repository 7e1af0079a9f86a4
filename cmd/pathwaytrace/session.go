// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"sort"
	"time"

	"github.com/grailbio/pathway/internal/trace"
)

// job represents the execution of a single job or pipeline execution.
type job struct {
	name      string
	fn        string
	submitter string
	outcome   string
	// start is measured as a duration offset from the start of tracing.
	start    time.Duration
	duration time.Duration
}

// funcStat represents statistics over the jobs of a single func
// submitted to a single submitter.
type funcStat struct {
	fn        string
	submitter string
	jobs      int
	failed    int
	// start is measured as a duration offset from the start of tracing.
	start    time.Duration
	duration time.Duration
	total    time.Duration
	quartiles
}

// session represents the trace events from a pathway session,
// interpreted for display of useful diagnostics.
type session struct {
	jobs      []job
	pipelines []job
	funcStats []funcStat
}

func newSession(t *trace.T) *session {
	s := new(session)
	processes := t.Processes()
	for _, event := range t.Events {
		if event.Ph != "X" {
			continue
		}
		j := job{
			name:      event.Name,
			fn:        event.Arg("func"),
			submitter: processes[event.Pid],
			outcome:   event.Arg("outcome"),
			start:     time.Duration(event.Ts) * time.Microsecond,
			duration:  time.Duration(event.Dur) * time.Microsecond,
		}
		switch event.Cat {
		case trace.CatJob:
			s.jobs = append(s.jobs, j)
		case trace.CatPipeline:
			s.pipelines = append(s.pipelines, j)
		}
	}
	byStart := func(jobs []job) {
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].start < jobs[j].start })
	}
	byStart(s.jobs)
	byStart(s.pipelines)
	s.funcStats = buildFuncStats(s.jobs)
	return s
}

// Jobs returns the session's jobs, ordered by start time.
func (s *session) Jobs() []job { return s.jobs }

// Pipelines returns the session's pipeline executions, ordered by
// start time.
func (s *session) Pipelines() []job { return s.pipelines }

// FuncStats returns the per-func statistics of the session, ordered by
// the start time of each func's first job.
func (s *session) FuncStats() []funcStat { return s.funcStats }

func buildFuncStats(jobs []job) []funcStat {
	type key struct{ fn, submitter string }
	type accum struct {
		minStart  time.Duration
		maxEnd    time.Duration
		durations []time.Duration
		total     time.Duration
		failed    int
	}
	var (
		accums = make(map[key]*accum)
		keys   []key
	)
	for _, j := range jobs {
		k := key{j.fn, j.submitter}
		a, ok := accums[k]
		if !ok {
			a = &accum{minStart: j.start}
			accums[k] = a
			keys = append(keys, k)
		}
		if end := j.start + j.duration; a.maxEnd < end {
			a.maxEnd = end
		}
		if j.outcome != "" && j.outcome != "completed" {
			a.failed++
		}
		a.durations = append(a.durations, j.duration)
		a.total += j.duration
	}
	stats := make([]funcStat, 0, len(keys))
	// Jobs are ordered by start, so keys are too.
	for _, k := range keys {
		a := accums[k]
		sort.Slice(a.durations, func(i, j int) bool { return a.durations[i] < a.durations[j] })
		stats = append(stats, funcStat{
			fn:        k.fn,
			submitter: k.submitter,
			jobs:      len(a.durations),
			failed:    a.failed,
			start:     a.minStart,
			duration:  a.maxEnd - a.minStart,
			total:     a.total,
			quartiles: computeQuartiles(a.durations),
		})
	}
	return stats
}
