// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pathwayconfig provides a mechanism to create a pathway
// session from a shared configuration. Pathwayconfig uses the
// configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.pathway/config.
//
// A profile that submits jobs to SageMaker looks like:
//
//	param pathway (
//		submitter = "sagemaker"
//		scratch-root = "s3://my-bucket/pathway"
//		image = "123456789012.dkr.ecr.us-west-2.amazonaws.com/train:latest"
//		role = "arn:aws:iam::123456789012:role/pathway"
//	)
package pathwayconfig

import (
	"context"
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/pathwaycmd"
	"github.com/grailbio/pathway/store"
)

// Path determines the location of the pathway profile read
// by Parse.
var Path = os.ExpandEnv("$HOME/.pathway/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// pathway configuration from Path defined in this package. Parse
// returns session as configured by the configuration and any flags
// provided. Parse panics if session creation fails.
//
// If the process is a job entry point invocation, Parse runs the job
// and exits instead.
func Parse() (sess *exec.Session, shutdown func()) {
	if pathwaycmd.IsInvocation(os.Args[1:]) {
		if err := pathwaycmd.Invoke(context.Background(), os.Args[1:]); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}
	store.RegisterS3()
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("pathway", &sess)
	return sess, sess.Shutdown
}
