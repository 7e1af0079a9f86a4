// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway/internal/trace"
)

// A tracer tracks the trace events of the jobs submitted by a
// session. Trace events are logged in the Chrome tracing format and
// can be visualized using its built-in visualization tool
// (chrome://tracing). Each submitter is represented as a Chrome
// "process"; each job occupies a virtual thread for as long as it
// runs, and its begin and end events are coalesced into a single
// "complete event" (X) at the time of rendering.
type tracer struct {
	mu sync.Mutex

	events    []trace.Event
	jobEvents map[*Job][]trace.Event

	submitterPids map[string]int
	tidPools      map[string]tidPool

	// firstEvent is used to store the time of the first observed
	// event so that the offsets in the trace are meaningful.
	firstEvent time.Time
}

// tidPool is a pool of (virtual) thread IDs that we use to assign Tids to
// events. This makes visualization with the Chrome tracing tool much nicer, as
// concurrent events are shown on their own rows. The length of the pool is the
// maximum number of B events without a matching E event. The indexes of the
// slices are the Tids that we allocate, their corresponding value indicating
// whether it is considered available for allocation.
type tidPool []bool

func newTracer() *tracer {
	return &tracer{
		jobEvents:     make(map[*Job][]trace.Event),
		submitterPids: make(map[string]int),
		tidPools:      make(map[string]tidPool),
	}
}

// Event logs an event for job, which was submitted to the named
// submitter, with the given type (ph) and arguments. Ph is as in
// Chrome's tracing format. Arguments is a list of interleaved
// key-value pairs that are attached as event metadata. Args must be
// of even length.
func (t *tracer) Event(submitter string, job *Job, ph string, args ...interface{}) {
	if t == nil {
		return
	}
	if len(args)%2 != 0 {
		panic("trace.Event: invalid arguments")
	}
	var event trace.Event
	event.Args = make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		event.Args[fmt.Sprint(args[i])] = args[i+1]
	}
	event.Ph = ph
	event.Name = job.Name()
	event.Cat = trace.CatJob
	if job.Func() == nil {
		event.Cat = trace.CatPipeline
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstEvent.IsZero() {
		t.firstEvent = time.Now()
		event.Ts = 0
	} else {
		event.Ts = time.Since(t.firstEvent).Nanoseconds() / 1e3
	}
	pid, ok := t.submitterPids[submitter]
	if !ok {
		pid = len(t.submitterPids)
		t.submitterPids[submitter] = pid
		// Attach "process" name metadata so we can identify where a job is running.
		t.events = append(t.events, trace.Event{
			Pid:  pid,
			Ts:   event.Ts,
			Ph:   "M",
			Name: "process_name",
			Args: map[string]interface{}{
				"name": submitter,
			},
		})
	}
	event.Pid = pid
	t.assignTid(submitter, ph, t.jobEvents[job], &event)
	t.jobEvents[job] = append(t.jobEvents[job], event)
}

// assignTid assigns a thread ID to event, using the submitter's tid pool
// and type of event. events is the slice of existing events for the job.
func (t *tracer) assignTid(submitter string, ph string, events []trace.Event, event *trace.Event) {
	event.Tid = 0
	pool := t.tidPools[submitter]
	switch ph {
	case "B":
		event.Tid = pool.Acquire()
		t.tidPools[submitter] = pool
	case "E":
		if len(events) == 0 {
			break
		}
		lastEvent := events[len(events)-1]
		if lastEvent.Ph != "B" {
			break
		}
		event.Tid = lastEvent.Tid
		pool.Release(event.Tid)
	}
}

// Marshal writes the trace captured by t into the writer w in
// Chrome's event tracing format.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	events := make([]trace.Event, len(t.events))
	copy(events, t.events)
	for _, v := range t.jobEvents {
		events = appendCoalesce(events, v)
	}
	t.mu.Unlock()

	return (&trace.T{Events: events}).Encode(w)
}

// appendCoalesce appends a set of events on the provided list,
// first coalescing events so that "B" and "E" events are matched
// into a single "X" event. Unmatched events are pruned.
func appendCoalesce(list []trace.Event, events []trace.Event) []trace.Event {
	var begIndex = -1
	for _, event := range events {
		if event.Ph == "B" && begIndex < 0 {
			begIndex = len(list)
		}
		if event.Ph == "E" && begIndex >= 0 {
			list[begIndex].Ph = "X"
			list[begIndex].Dur = event.Ts - list[begIndex].Ts
			if list[begIndex].Dur == 0 {
				list[begIndex].Dur = 1
			}
			for k, v := range event.Args {
				if _, ok := list[begIndex].Args[k]; !ok {
					list[begIndex].Args[k] = v
				}
			}
			begIndex = -1
		} else if event.Ph != "E" {
			list = append(list, event)
		} // drop unmatched "E"s
	}
	if begIndex >= 0 {
		// We have an unmatched "B". Drop it.
		copy(list[begIndex:], list[begIndex+1:])
		list = list[:len(list)-1]
	}
	return list
}

// Acquire acquires an available thread ID from pool p. Thread IDs are
// sequential and 1-indexed, preserving 0 for events without meaningful thread
// IDs.
func (p *tidPool) Acquire() int {
	for tid, available := range *p {
		if available {
			(*p)[tid] = false
			return tid + 1
		}
	}
	// Nothing available in the pool, so grow it.
	tid := len(*p)
	*p = append(*p, false)
	return tid + 1
}

// Release releases a tid, a thread ID previously acquired in Acquire. This
// makes it available to be returned from a future call to Acquire.
func (p tidPool) Release(tid int) {
	if p[tid-1] {
		panic("releasing unallocated tid")
	}
	p[tid-1] = true
}

func writeTraceFile(tracer *tracer, path string) {
	w, err := os.Create(path)
	if err != nil {
		log.Error.Printf("error creating trace file at %q: %v", path, err)
		return
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil {
			log.Error.Printf("error closing trace file at %q: %v", path, closeErr)
		}
	}()
	if err := tracer.Marshal(w); err != nil {
		log.Error.Printf("error marshaling to trace file at %q: %v", path, err)
	}
}
