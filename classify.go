// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"context"
	"fmt"
	"reflect"
)

// ArgKind is the marshaling strategy chosen for a bound argument.
type ArgKind int

const (
	// ArgExternal arguments are external channel paths, passed
	// verbatim.
	ArgExternal ArgKind = iota + 1
	// ArgLiteral arguments are passed in their textual rendering.
	ArgLiteral
	// ArgRef arguments already reside in the object store and are
	// passed by URI without being uploaded again.
	ArgRef
	// ArgOpaque arguments are serialized and uploaded fresh. This is
	// the catch-all for values that are not otherwise classified.
	ArgOpaque
)

// String returns the kind's name.
func (k ArgKind) String() string {
	switch k {
	case ArgExternal:
		return "external"
	case ArgLiteral:
		return "literal"
	case ArgRef:
		return "ref"
	case ArgOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// A ClassifiedArg is a bound argument together with its marshaling
// strategy.
type ClassifiedArg struct {
	// Param is the parameter to which the argument is bound.
	Param ParamSpec
	// Kind is the argument's marshaling strategy.
	Kind ArgKind
	// Text is the argument's command line value: the channel path for
	// ArgExternal, the rendered value for ArgLiteral, and the object
	// URI for ArgRef. It is empty for ArgOpaque arguments until they
	// are uploaded.
	Text string
	// Value is the argument value, for ArgOpaque arguments.
	Value interface{}
	// Step is the pipeline step producing an ArgRef argument, if the
	// argument was produced by a step of the pipeline being assembled.
	Step string
}

// ClassifyOptions configures Classify.
type ClassifyOptions struct {
	// Step reports whether the deferred value d is produced by a step
	// of the pipeline that is currently being assembled, returning the
	// step's name. Such values are linked as step dependencies rather
	// than being required to exist. Step is nil outside of pipelines.
	Step func(d Deferred) (step string, ok bool)
}

// Classify assigns a marshaling strategy to each argument in binding
// b, in parameter order. Parameters that are not bound (because they
// have defaults) are omitted.
//
// External channel and literal parameters are classified by their
// declared types. A Deferred value whose producing job has completed
// is passed by reference; a Deferred value whose job has not
// completed yields a NotReady error, unless it is produced by a step
// of the pipeline being assembled. All other values are opaque.
func Classify(ctx context.Context, b Binding, opts ClassifyOptions) ([]ClassifiedArg, error) {
	f := b.fn
	if f == nil {
		return nil, Errorf(ArgumentBinding, "classify", "empty binding")
	}
	args := make([]ClassifiedArg, 0, len(b.values))
	for _, p := range f.params {
		v, ok := b.values[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, Errorf(ArgumentBinding, "classify "+f.name, "missing required argument %s", p.Name)
			}
			continue
		}
		arg, err := classify(ctx, f, p, v, opts)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func classify(ctx context.Context, f *FuncValue, p ParamSpec, v interface{}, opts ClassifyOptions) (ClassifiedArg, error) {
	op := fmt.Sprintf("classify %s.%s", f.name, p.Name)
	arg := ClassifiedArg{Param: p}
	d, deferred := v.(Deferred)
	if deferred && p.Kind != ParamOpaque {
		return arg, Errorf(Classification, op, "deferred value passed to %s parameter of type %s", p.Kind, p.Type)
	}
	switch p.Kind {
	case ParamInput:
		arg.Kind = ArgExternal
		arg.Text = v.(Input).Path
	case ParamOutput:
		arg.Kind = ArgExternal
		arg.Text = v.(Output).Path
	case ParamLiteral:
		arg.Kind = ArgLiteral
		rv := reflect.ValueOf(v)
		if rv.Type() != p.Type {
			rv = rv.Convert(p.Type)
		}
		arg.Text = FormatLiteral(rv)
	case ParamOpaque:
		if !deferred {
			arg.Kind = ArgOpaque
			arg.Value = v
			break
		}
		if t := d.Type(); t == nil || !t.AssignableTo(p.Type) {
			return arg, Errorf(Classification, op, "deferred value of type %s passed to parameter of type %s", d.Type(), p.Type)
		}
		ref := d.Ref()
		if ref.Format != FormatGob {
			return arg, Errorf(Classification, op, "unsupported format %s for %s", ref.Format, ref.URI)
		}
		arg.Kind = ArgRef
		arg.Text = ref.URI
		if opts.Step != nil {
			if step, ok := opts.Step(d); ok {
				arg.Step = step
				break
			}
		}
		done, err := d.Done(ctx)
		if err != nil {
			return arg, Wrap(Other, op, err)
		}
		if !done {
			return arg, Errorf(NotReady, op, "value %s is not ready: its job has not completed", ref.URI)
		}
	default:
		return arg, Errorf(Classification, op, "unsupported parameter kind %s", p.Kind)
	}
	return arg, nil
}
