// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/metrics"
	"github.com/grailbio/pathway/store"
)

// A Bootstrapper prepares a job's environment from the environment
// definition uploaded with the job, before its func is invoked.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, name string, def []byte) error
}

// BootstrapFunc adapts a function to a Bootstrapper.
type BootstrapFunc func(ctx context.Context, name string, def []byte) error

// Bootstrap implements Bootstrapper.
func (f BootstrapFunc) Bootstrap(ctx context.Context, name string, def []byte) error {
	return f(ctx, name, def)
}

// LogBootstrapper only logs the environment definition it is given.
var LogBootstrapper Bootstrapper = BootstrapFunc(func(ctx context.Context, name string, def []byte) error {
	log.Printf("environment definition %s (%d bytes); not bootstrapping", name, len(def))
	return nil
})

// Invoke is the remote entry point. It parses an entry point command
// line produced by Marshal, rebuilds the func's arguments, invokes the
// func, and stores its return value. It is equivalent to
// InvokeWith(ctx, argv, st, LogBootstrapper).
func Invoke(ctx context.Context, argv []string, st store.Store) error {
	return InvokeWith(ctx, argv, st, LogBootstrapper)
}

// InvokeWith is like Invoke, but passes any environment definition to
// the provided Bootstrapper.
//
// Arguments are rebuilt purely from the registered func's parameter
// table: external channel parameters are given their paths, literal
// parameters are parsed from text, and all other parameters are
// fetched from the object store and decoded into their declared
// types. Parameters without flags take their default values.
//
// Errors returned by the func (or panics) are returned as
// RemoteInvocation errors. If the func declares a return value, it is
// stored at the URI given by --return; otherwise nothing is written.
func InvokeWith(ctx context.Context, argv []string, st store.Store, boot Bootstrapper) error {
	flags, err := pathway.ParseCommandLine(argv)
	if err != nil {
		return err
	}
	codeURI, ok := flags.Get(pathway.FlagFuncCode)
	if !ok {
		return pathway.Errorf(pathway.Config, "invoke", "missing --%s", pathway.FlagFuncCode)
	}
	code, err := st.Get(ctx, codeURI)
	if err != nil {
		return pathway.Wrap(pathway.Other, "invoke: fetch func", err)
	}
	fn, err := pathway.UnmarshalRef(code)
	if err != nil {
		return err
	}
	op := "invoke " + fn.Name()
	params := fn.Params()
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
	}
	for _, name := range flags.Names() {
		switch name {
		case pathway.FlagFuncCode, pathway.FlagReturn, pathway.FlagEnvDef:
		default:
			if !known[name] {
				return pathway.Errorf(pathway.Config, op, "unknown flag --%s", name)
			}
		}
	}

	args := make([]interface{}, len(params))
	var fetches []int
	for i, p := range params {
		text, ok := flags.Get(p.Name)
		if !ok {
			if !p.HasDefault {
				return pathway.Errorf(pathway.ArgumentBinding, op, "missing required argument %s", p.Name)
			}
			args[i] = p.Default
			continue
		}
		switch p.Kind {
		case pathway.ParamInput:
			args[i] = pathway.Input{Path: text}
		case pathway.ParamOutput:
			args[i] = pathway.Output{Path: text}
		case pathway.ParamLiteral:
			v, err := pathway.ParseLiteral(p.Type, text)
			if err != nil {
				return pathway.Errorf(pathway.Serialization, op, "argument %s: %v", p.Name, err)
			}
			args[i] = v.Interface()
		default:
			fetches = append(fetches, i)
		}
	}
	err = traverse.Limit(defaultUploadParallelism).Each(len(fetches), func(j int) error {
		i := fetches[j]
		p := params[i]
		uri, _ := flags.Get(p.Name)
		b, err := st.Get(ctx, uri)
		if err != nil {
			return pathway.Wrap(pathway.Other, fmt.Sprintf("%s: argument %s", op, p.Name), err)
		}
		v, err := pathway.Decode(b, p.Type)
		if err != nil {
			return pathway.Wrap(pathway.Serialization, fmt.Sprintf("%s: argument %s", op, p.Name), err)
		}
		args[i] = v
		return nil
	})
	if err != nil {
		return err
	}

	if uri, ok := flags.Get(pathway.FlagEnvDef); ok {
		def, err := st.Get(ctx, uri)
		if err != nil {
			return pathway.Wrap(pathway.Other, op+": fetch environment definition", err)
		}
		if boot == nil {
			boot = LogBootstrapper
		}
		if err := boot.Bootstrap(ctx, path.Base(uri), def); err != nil {
			return pathway.Wrap(pathway.Config, op+": bootstrap", err)
		}
	}

	typ, returns := fn.Returns()
	returnURI, hasReturn := flags.Get(pathway.FlagReturn)
	if returns != hasReturn {
		return pathway.Errorf(pathway.Config, op, "func return declaration does not match --%s flag", pathway.FlagReturn)
	}

	start := time.Now()
	result, err := fn.Call(ctx, args)
	metrics.InvocationDuration.WithLabelValues(fn.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Invocations.WithLabelValues(fn.Name(), "error").Inc()
		return err
	}
	metrics.Invocations.WithLabelValues(fn.Name(), "ok").Inc()
	log.Printf("%s: completed in %s", op, time.Since(start))
	if !returns {
		return nil
	}
	return storeReturn(ctx, st, op, returnURI, result, typ)
}

func storeReturn(ctx context.Context, st store.Store, op, uri string, result interface{}, typ reflect.Type) error {
	p, err := pathway.Encode(result, typ)
	if err != nil {
		return pathway.Wrap(pathway.Serialization, op+": return value", err)
	}
	if err := st.Put(ctx, uri, p); err != nil {
		return pathway.Wrap(pathway.Other, op+": store return value", err)
	}
	return nil
}
