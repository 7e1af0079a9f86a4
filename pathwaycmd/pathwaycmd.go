// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pathwaycmd provides utilities for implementing pathway-based
// command line tools. The main entry point, pathwaycmd.Main, configures
// a pathway session according to a common set of flags, and then
// invokes the user's driver code.
//
// A pathwaycmd tool follows this form:
//
//	var train = pathway.Func("train", func(data pathway.Input, rate float64) (Model, error) {
//		...
//	})
//
//	func main() {
//		pathwaycmd.Main(func(sess *exec.Session, args []string) error {
//			ctx := context.Background()
//			job, err := sess.Run(ctx, train, pathway.Input{Path: args[0]}, 0.1)
//			if err != nil {
//				return err
//			}
//			_, err = job.Result().Resolve(ctx)
//			return err
//		})
//	}
//
// The same binary serves as the job entry point: when it is invoked
// with a --func-code flag, Main runs the referenced func instead of the
// driver.
package pathwaycmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is exposed on the local diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/pathwayflags"
	"github.com/grailbio/pathway/store"
)

// Main is a convenient entry point for a pathwaycmd. Main does not
// return; it should be called after other initialization is performed.
//
// If the process's arguments carry a --func-code flag, Main runs the
// job entry point: it invokes the referenced func with the arguments on
// the command line, storing its return value, and exits.
//
// Otherwise Main parses (global) flags, and configures a pathway
// session accordingly. Main then invokes the provided func with the
// session and the unparsed arguments.
//
// Main starts a diagnostic web server (default address :3333), using
// http.DefaultServeMux, which includes pprof handlers, job status, and
// the session's metrics.
//
// Main terminates the program after the user func returns. If it
// returns with an error, it is reported and the process exits with
// code 1, otherwise it exits successfully.
func Main(main func(sess *exec.Session, args []string) error) {
	if IsInvocation(os.Args[1:]) {
		if err := Invoke(context.Background(), os.Args[1:]); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}
	var fl pathwayflags.Flags
	pathwayflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	err = main(sess, flag.Args())
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// IsInvocation tells whether the command line argv is a job entry
// point invocation.
func IsInvocation(argv []string) bool {
	for _, arg := range argv {
		if arg == "--"+pathway.FlagFuncCode {
			return true
		}
	}
	return false
}

// Invoke runs the job entry point with the provided command line,
// reading and writing objects through the default store.
func Invoke(ctx context.Context, argv []string) error {
	store.RegisterS3()
	return exec.Invoke(ctx, argv, store.WithRetry(store.Default, nil))
}

// Init initializes a pathway session according to the supplied flags.
func Init(pf pathwayflags.Flags) (*exec.Session, error) {
	store.RegisterS3()
	if pf.SubmitterHelp {
		providers, profiles := pathwayflags.ProvidersAndProfiles()
		sort.Strings(providers)
		wr := pf.Output()
		str := []string{}
		fmt.Fprintf(wr, "%s\n\n", pathwayflags.SubmitterHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n",
			strings.Join(providers, ", "))
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			wr.Write([]byte(s))
		}
		os.Exit(0)
	}
	options, err := pf.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess := exec.Start(options...)
	DisplayStatus(pf, sess)
	return sess, nil
}

// DisplayStatus arranges for the pathway job status to be displayed on
// the console and/or a web page depending on the flags specified on the
// command line. The web page is hosted at /debug/status on
// http.DefaultServeMux, alongside the session's debug handlers.
func DisplayStatus(pf pathwayflags.Flags, sess *exec.Session) {
	if pf.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	if len(pf.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			log.Printf("HTTP Status at: %v\n", pf.HTTPAddress)
			err := http.ListenAndServe(pf.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", pf.HTTPAddress, err)
			}
		}()
	}
}
