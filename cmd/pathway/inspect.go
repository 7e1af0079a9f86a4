// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/must"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/store"
)

func inspectUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: pathway inspect uri...

Command inspect fetches the given objects from the object store and
describes their envelopes: the envelope version, payload format, and
payload size. Objects that are not valid pathway objects are reported
as such.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func inspectCmd(args []string) {
	flags := flag.NewFlagSet("pathway inspect", flag.ExitOnError)
	flags.Usage = func() { inspectUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() == 0 {
		flags.Usage()
	}
	ctx := context.Background()
	if err := inspect(ctx, os.Stdout, store.WithRetry(store.Default, nil), flags.Args()); err != nil {
		must.Nil(err)
	}
}

// inspect describes each of the objects at uris. It returns the first
// error fetching an object.
func inspect(ctx context.Context, w io.Writer, st store.Store, uris []string) error {
	for _, uri := range uris {
		p, err := st.Get(ctx, uri)
		if err != nil {
			return err
		}
		env, err := pathway.ParseEnvelope(p)
		if err != nil {
			fmt.Fprintf(w, "%s: invalid object: %v\n", uri, err)
			continue
		}
		fmt.Fprintf(w, "%s: version %d, format %s, %d bytes\n", uri, env.Version, env.Format, env.Size)
	}
	return nil
}
