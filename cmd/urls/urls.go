// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Urls is a pathway demo program that uses the GDELT public data set
// to count domain names mentioned in news event reports. It runs as a
// two-step pipeline: the first step lists the event files; the second
// counts domains over the listed files and writes the counts to the
// output path.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/pathwaycmd"
	"github.com/grailbio/pathway/pathwayflags"
	"github.com/grailbio/pathway/store"
)

func init() {
	store.RegisterS3()
	s3file.SetBucketRegion("gdelt-open-data", "us-east-1")
}

var listEvents = pathway.Func("urls-list-events", func(ctx context.Context, events pathway.Input, n int) ([]string, error) {
	var paths []string
	lst := file.List(ctx, events.Path, false)
	for lst.Scan() {
		if strings.HasSuffix(lst.Path(), ".csv") {
			paths = append(paths, lst.Path())
		}
	}
	if err := lst.Err(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	if len(paths) > n {
		paths = paths[:n]
	}
	log.Printf("listed %d paths", len(paths))
	return paths, nil
}, pathway.Arg("events"), pathway.Arg("n", pathway.Default(1000)))

var countDomains = pathway.Func("urls-count-domains", func(ctx context.Context, files []string, out pathway.Output) (int, error) {
	counts := make(map[string]int)
	for _, path := range files {
		if err := countFile(ctx, path, counts); err != nil {
			return 0, err
		}
	}
	domains := make([]string, 0, len(counts))
	for domain := range counts {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	f, err := file.Create(ctx, out.Path)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f.Writer(ctx))
	for _, domain := range domains {
		fmt.Fprintf(w, "%s\t%d\n", domain, counts[domain])
	}
	if err := w.Flush(); err != nil {
		f.Close(ctx)
		return 0, err
	}
	return len(domains), f.Close(ctx)
}, pathway.Arg("files"), pathway.Arg("out"))

// countFile adds the domain counts of the event file at path to
// counts.
func countFile(ctx context.Context, path string, counts map[string]int) error {
	log.Printf("reading file %s", path)
	f, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer f.Close(ctx)
	r := csv.NewReader(f.Reader(ctx))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	for {
		fields, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(fields) <= 60 {
			continue
		}
		counts[domain(fields[60])]++
	}
}

func domain(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "<unknown>"
	}
	return u.Host
}

func main() {
	var (
		n   = flag.Int("n", 1000, "number of files to process")
		out = flag.String("out", "", "output path")
	)
	pathwayflags.RegisterSubmitterProfile("gdelt", "ec2:instance=r3.8xlarge")
	pathwaycmd.Main(func(sess *exec.Session, args []string) error {
		if *out == "" {
			return errors.New("missing flag -out")
		}
		ctx := context.Background()
		p, err := sess.Pipeline(ctx, "urls", func(ctx context.Context) error {
			files, err := sess.Run(ctx, listEvents, pathway.Input{Path: "s3://gdelt-open-data/v2/events"}, *n)
			if err != nil {
				return err
			}
			_, err = sess.Run(ctx, countDomains, files.Result(), pathway.Output{Path: *out})
			return err
		})
		if err != nil {
			return err
		}
		execution, err := sess.RunPipeline(ctx, p)
		if err != nil {
			return err
		}
		if err := execution.Wait(ctx); err != nil {
			return err
		}
		count := p.Steps()[1].Job()
		v, err := count.Result().Resolve(ctx)
		if err != nil {
			return err
		}
		log.Printf("counted %d domains; wrote %s", v, *out)
		return nil
	})
}
