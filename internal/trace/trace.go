// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package trace defines the Chrome tracing format in which sessions
// record job traces.
package trace

import (
	"encoding/json"
	"io"
)

// Event categories used by session traces.
const (
	CatJob      = "job"
	CatPipeline = "pipeline"
)

// T is a trace: a list of events.
type T struct {
	Events []Event `json:"traceEvents"`
}

// Event is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type Event struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// Arg returns the string value of the named event argument, or "" if
// the argument is absent or is not a string.
func (e Event) Arg(name string) string {
	s, _ := e.Args[name].(string)
	return s
}

// Processes returns the process names in t, keyed by pid. Sessions
// name a process for each submitter.
func (t *T) Processes() map[int]string {
	names := make(map[int]string)
	for _, event := range t.Events {
		if event.Ph == "M" && event.Name == "process_name" {
			names[event.Pid] = event.Arg("name")
		}
	}
	return names
}

// Encode writes t to w as JSON.
func (t *T) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(t)
}

// Decode reads a JSON-encoded trace from r into t.
func (t *T) Decode(r io.Reader) error {
	dec := json.NewDecoder(r)
	return dec.Decode(t)
}
