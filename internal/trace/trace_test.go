// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package trace

import (
	"bytes"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestTrace(t *testing.T) {
	in := T{Events: []Event{
		{Pid: 0, Ph: "M", Name: "process_name", Args: map[string]interface{}{"name": "local"}},
		{Pid: 1, Ph: "M", Name: "process_name", Args: map[string]interface{}{"name": "sagemaker"}},
		{Pid: 0, Tid: 1, Ts: 10, Dur: 5, Ph: "X", Name: "train-1", Cat: CatJob, Args: map[string]interface{}{"func": "train", "n": 1}},
	}}
	var b bytes.Buffer
	assert.NoError(t, in.Encode(&b))
	var out T
	assert.NoError(t, out.Decode(&b))
	expect.EQ(t, len(out.Events), 3)
	expect.EQ(t, out.Processes(), map[int]string{0: "local", 1: "sagemaker"})
	job := out.Events[2]
	expect.EQ(t, job.Arg("func"), "train")
	expect.EQ(t, job.Arg("n"), "")
	expect.EQ(t, job.Arg("missing"), "")
	expect.EQ(t, job.Dur, int64(5))
}
