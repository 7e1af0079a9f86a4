// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command pathwaytrace summarizes the job trace written by a pathway
// session (see the -trace flag of pathwaycmd programs).
//
// Usage:
//
//	pathwaytrace [-jobs] trace.json
//
// The trace may be a local path or an S3 URL.
//
// For each func, pathwaytrace prints the number of jobs run, the number
// that failed, and the distribution of job running times. With -jobs,
// it also prints each job and pipeline execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/limitbuf"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway/internal/trace"
	"github.com/grailbio/pathway/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: pathwaytrace [-jobs] trace.json\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("pathwaytrace: ")
	store.RegisterS3()
	jobs := flag.Bool("jobs", false, "print each job")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	t, err := readTrace(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	s := newSession(t)
	if err := writeFuncStats(os.Stdout, s); err != nil {
		log.Fatal(err)
	}
	if *jobs {
		fmt.Println()
		if err := writeJobs(os.Stdout, s); err != nil {
			log.Fatal(err)
		}
	}
}

// readTrace reads the trace at path, which may be a local path or an
// S3 URL.
func readTrace(path string) (*trace.T, error) {
	ctx := context.Background()
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	var t trace.T
	if err := t.Decode(f.Reader(ctx)); err != nil {
		return nil, fmt.Errorf("decoding %s: %v", path, err)
	}
	return &t, nil
}

func writeFuncStats(w io.Writer, s *session) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "func\tsubmitter\tjobs\tfailed\tstart\twall\ttotal\tmin\tq1\tq2\tq3\tmax\t")
	for _, st := range s.FuncStats() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			st.fn, st.submitter, st.jobs, st.failed,
			round(st.start), round(st.duration), round(st.total),
			round(st.min), round(st.q1), round(st.q2), round(st.q3), round(st.max))
	}
	return tw.Flush()
}

func writeJobs(w io.Writer, s *session) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "job\tsubmitter\tstart\tduration\toutcome")
	for _, list := range [][]job{s.Pipelines(), s.Jobs()} {
		for _, j := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				j.name, j.submitter, round(j.start), round(j.duration), truncatef(j.outcome))
		}
	}
	return tw.Flush()
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}

func truncatef(v interface{}) string {
	b := limitbuf.NewLogger(80)
	fmt.Fprint(b, v)
	return b.String()
}
