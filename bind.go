// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"fmt"
	"reflect"
	"sort"
)

// A Binding maps a func's parameter names to the argument values of a
// single invocation. Parameters with defaults that were not supplied
// are absent from the binding; their defaults are applied by the
// remote side.
type Binding struct {
	fn     *FuncValue
	values map[string]interface{}
}

// Bind binds positional arguments to f's parameters. Trailing
// parameters with defaults may be omitted. Bind returns a Binding
// error if a required argument is missing, if too many arguments are
// provided, or if an argument's type does not match its parameter.
func (f *FuncValue) Bind(args ...interface{}) (Binding, error) {
	if len(args) > len(f.params) {
		return Binding{}, Errorf(ArgumentBinding, "bind "+f.name, "func takes %d arguments, got %d", len(f.params), len(args))
	}
	named := make(map[string]interface{}, len(args))
	for i, arg := range args {
		named[f.params[i].Name] = arg
	}
	return f.BindNamed(named)
}

// BindNamed binds arguments by parameter name. Parameters with
// defaults may be omitted.
func (f *FuncValue) BindNamed(args map[string]interface{}) (Binding, error) {
	op := "bind " + f.name
	b := Binding{fn: f, values: make(map[string]interface{}, len(args))}
	for name := range args {
		if f.param(name) == nil {
			return Binding{}, Errorf(ArgumentBinding, op, "func has no parameter named %q", name)
		}
	}
	for i := range f.params {
		p := &f.params[i]
		v, ok := args[p.Name]
		if !ok {
			if !p.HasDefault {
				return Binding{}, Errorf(ArgumentBinding, op, "missing required argument %s", p.Name)
			}
			continue
		}
		if err := checkArg(p, v); err != nil {
			return Binding{}, Wrap(ArgumentBinding, op, err)
		}
		b.values[p.Name] = v
	}
	return b, nil
}

func checkArg(p *ParamSpec, v interface{}) error {
	if v == nil {
		switch p.Type.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
			return nil
		}
		return fmt.Errorf("nil argument for parameter %s of type %s", p.Name, p.Type)
	}
	if _, ok := v.(Deferred); ok {
		// Whether a deferred value may be passed to this parameter is
		// decided by the classifier.
		return nil
	}
	if t := reflect.TypeOf(v); !t.AssignableTo(p.Type) {
		return fmt.Errorf("wrong type for argument %s: expected %s, got %s", p.Name, p.Type, t)
	}
	return nil
}

func (f *FuncValue) param(name string) *ParamSpec {
	for i := range f.params {
		if f.params[i].Name == name {
			return &f.params[i]
		}
	}
	return nil
}

// Func returns the func to which the arguments are bound.
func (b Binding) Func() *FuncValue { return b.fn }

// Lookup returns the argument bound to the named parameter.
func (b Binding) Lookup(name string) (interface{}, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Len returns the number of bound arguments.
func (b Binding) Len() int { return len(b.values) }

// Names returns the names of the bound parameters, sorted.
func (b Binding) Names() []string {
	names := make([]string, 0, len(b.values))
	for name := range b.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
