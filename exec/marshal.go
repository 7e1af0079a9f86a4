// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io/ioutil"
	"path"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/store"
)

// defaultUploadParallelism is the default number of concurrent
// argument uploads performed by Marshal.
const defaultUploadParallelism = 8

// MarshalOptions configures Marshal.
type MarshalOptions struct {
	// EnvDef is the path of an environment definition file (any path
	// supported by github.com/grailbio/base/file). If set, the file is
	// uploaded alongside the job and passed to the entry point with
	// --env-def.
	EnvDef string
	// Parallelism is the maximum number of concurrent uploads.
	Parallelism int
}

// Marshal produces the entry point command line for an invocation of
// fn with the classified arguments args, uploading the func reference
// and all opaque arguments under prefix in store st.
//
// The command line begins with --func-code <prefix>/func.bin; it is
// followed by one flag per argument, in parameter order: external
// paths and literal text are passed verbatim, references by URI, and
// opaque values are uploaded to <prefix>/<param>.bin. If an
// environment definition is given, --env-def <prefix>/env/<name>
// follows. Finally, if fn declares a return value, --return
// <prefix>/outputs/return.bin is appended.
//
// The command line depends only on fn, the arguments, and prefix.
// Uploads are performed concurrently but do not affect flag order.
func Marshal(ctx context.Context, st store.Store, fn *pathway.FuncValue, args []pathway.ClassifiedArg, prefix string, opts MarshalOptions) (pathway.CommandLine, error) {
	op := "marshal " + fn.Name()
	if prefix == "" {
		return nil, pathway.Errorf(pathway.Config, op, "empty scratch prefix")
	}
	code, err := fn.MarshalRef()
	if err != nil {
		return nil, err
	}
	values := make([]string, len(args))
	var uploads []int
	for i, arg := range args {
		switch arg.Kind {
		case pathway.ArgExternal, pathway.ArgLiteral, pathway.ArgRef:
			values[i] = arg.Text
		case pathway.ArgOpaque:
			values[i] = ArgURI(prefix, arg.Param.Name)
			uploads = append(uploads, i)
		default:
			return nil, pathway.Errorf(pathway.Classification, op, "argument %s: unknown kind %s", arg.Param.Name, arg.Kind)
		}
	}

	if err := st.Put(ctx, FuncCodeURI(prefix), code); err != nil {
		return nil, pathway.Wrap(pathway.Other, op, err)
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultUploadParallelism
	}
	err = traverse.Limit(parallelism).Each(len(uploads), func(j int) error {
		arg := args[uploads[j]]
		p, err := pathway.Encode(arg.Value, arg.Param.Type)
		if err != nil {
			return pathway.Wrap(pathway.Serialization, fmt.Sprintf("%s: argument %s", op, arg.Param.Name), err)
		}
		if err := st.Put(ctx, values[uploads[j]], p); err != nil {
			return pathway.Wrap(pathway.Other, fmt.Sprintf("%s: argument %s", op, arg.Param.Name), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var cmd pathway.CommandLine
	cmd.Add(pathway.FlagFuncCode, FuncCodeURI(prefix))
	for i, arg := range args {
		cmd.Add(arg.Param.Name, values[i])
	}
	if opts.EnvDef != "" {
		uri, err := uploadEnvDef(ctx, st, opts.EnvDef, prefix)
		if err != nil {
			return nil, pathway.Wrap(pathway.Other, op, err)
		}
		cmd.Add(pathway.FlagEnvDef, uri)
	}
	if _, ok := fn.Returns(); ok {
		cmd.Add(pathway.FlagReturn, ReturnURI(prefix))
	}
	return cmd, nil
}

func uploadEnvDef(ctx context.Context, st store.Store, filename, prefix string) (string, error) {
	f, err := file.Open(ctx, filename)
	if err != nil {
		return "", err
	}
	defer f.Close(ctx) // nolint: errcheck
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return "", err
	}
	uri := EnvURI(prefix, path.Base(filename))
	return uri, st.Put(ctx, uri, p)
}
