// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathwayflags_test

import (
	"flag"
	"io/ioutil"
	"testing"
	"time"

	"github.com/grailbio/pathway/pathwayflags"
)

func TestProvider(t *testing.T) {
	local := &pathwayflags.Local{}
	if got, want := local.Name(), "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	bm := &pathwayflags.Bigmachine{}
	if got, want := bm.Name(), "bigmachine"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	ec2 := &pathwayflags.EC2{}
	if got, want := ec2.Name(), "ec2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := ec2.Set("x=y"); err == nil {
		t.Errorf("expected an error")
	}
	if err := ec2.Set("dataspace=122"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := ec2.System().Dataspace, uint(122); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	sm := &pathwayflags.SageMaker{}
	for _, opt := range []string{"image=repo/image:latest", "instance=ml.p3.2xlarge", "count=2", "runtime=2h", "entrypoint=python -m runtime"} {
		if err := sm.Set(opt); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got, want := sm.Compute.InstanceCount, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sm.Compute.MaxRuntime, 2*time.Hour; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(sm.Compute.Entrypoint), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, opt := range []string{"count=0", "volume=x", "runtime=soon", "gpu=1", "image"} {
		if err := sm.Set(opt); err == nil {
			t.Errorf("%s: expected an error", opt)
		}
	}
}

func TestFlags(t *testing.T) {
	tf := &pathwayflags.Flags{}
	if err := tf.Submitter.Set("local"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.Submitter.Set("local:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &pathwayflags.Flags{}
	if err := tf.Submitter.Set("bigmachine:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	if err := tf.Submitter.Set("hadoop"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &pathwayflags.Flags{}
	if err := tf.Submitter.Set("ec2:dataspace=200,rootsize=10"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := tf.Submitter.String(), "ec2:dataspace=200,rootsize=10"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Each use of a provider is configured independently.
	if err := tf.Submitter.Set("ec2"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := len(tf.Submitter.Provider.(*pathwayflags.EC2).Options), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProfiles(t *testing.T) {
	pathwayflags.RegisterSubmitterProfile("test-gpu", "sagemaker:instance=ml.p3.2xlarge")
	tf := &pathwayflags.Flags{}
	if err := tf.Submitter.Set("test-gpu:count=4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm := tf.Submitter.Provider.(*pathwayflags.SageMaker)
	if got, want := sm.Compute.InstanceType, "ml.p3.2xlarge"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sm.Compute.InstanceCount, 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	_, profiles := pathwayflags.ProvidersAndProfiles()
	if got, want := profiles["test-gpu"], "sagemaker:instance=ml.p3.2xlarge"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegisterFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	var pf pathwayflags.Flags
	pathwayflags.RegisterFlags(fs, &pf, "pathway-")
	if pf.Submitter.Specified {
		t.Error("default submitter marked as specified")
	}
	if err := fs.Parse([]string{"-pathway-parallelism=3", "-pathway-scratch-root=s3://bucket/scratch", "-pathway-trace=/tmp/trace.json"}); err != nil {
		t.Fatal(err)
	}
	if got, want := pf.Submitter.String(), "local"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	options, err := pf.ExecOptions()
	if err != nil {
		t.Fatal(err)
	}
	// Status, submitter, parallelism, scratch root, and trace.
	if got, want := len(options), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
