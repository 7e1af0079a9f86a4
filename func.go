// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/pathway/typecheck"
	"github.com/spaolacci/murmur3"
)

// Reserved command line flags. Parameters may not use these names.
const (
	FlagFuncCode = "func-code"
	FlagReturn   = "return"
	FlagEnvDef   = "env-def"
)

var reserved = map[string]bool{
	FlagFuncCode: true,
	FlagReturn:   true,
	FlagEnvDef:   true,
}

var (
	funcNameRE  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	paramNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// The process-wide registry of funcs, keyed by name. The registry must
// be populated identically in the submitting binary and on remote
// workers; registering funcs as package-level variables guarantees
// this.
var (
	mu     sync.Mutex
	funcs  = map[string]*FuncValue{}
	byDecl []*FuncValue
)

// A Param declares a func parameter: its name (which is also its
// command line flag) and, optionally, a default value.
type Param struct {
	name       string
	def        interface{}
	hasDefault bool
}

// A ParamOption configures a declared parameter.
type ParamOption func(*Param)

// Default sets the parameter's default value. Arguments for
// parameters with defaults may be omitted at invocation time.
func Default(v interface{}) ParamOption {
	return func(p *Param) {
		p.def = v
		p.hasDefault = true
	}
}

// Arg declares a named parameter.
func Arg(name string, opts ...ParamOption) Param {
	p := Param{name: name}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// A FuncValue is a registered func, as returned by Func.
type FuncValue struct {
	name     string
	fn       reflect.Value
	sig      typecheck.Signature
	params   []ParamSpec
	digest   uint64
	location string
}

// Func registers the function fn under the provided name and
// returns a FuncValue that can be submitted as a remote job. Each
// of fn's parameters (other than a leading context.Context) must be
// declared, in order, by params.
//
// Parameter kinds are derived once from fn's signature: parameters
// of type Input and Output are external channels; integer, float,
// boolean, and string parameters are literals; all other parameters
// are opaque and are transmitted through the object store. fn
// declares a return value if it has a non-error result.
//
// Func panics with a typecheck error on invalid registrations,
// including reserved or duplicate parameter names. Funcs should be
// registered as package-level variables so that every binary
// registers the same set of funcs:
//
//	var Split = pathway.Func("split", func(data pathway.Input, ratio float64) (Dataset, error) {
//		...
//	}, pathway.Arg("data"), pathway.Arg("ratio", pathway.Default(0.7)))
func Func(name string, fn interface{}, params ...Param) *FuncValue {
	if !funcNameRE.MatchString(name) {
		typecheck.Panicf(1, "pathway.Func: invalid func name %q", name)
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		typecheck.Panicf(1, "pathway.Func: argument to func is a %T, not a func", fn)
	}
	sig, ok := typecheck.Func(fv.Type())
	if !ok {
		typecheck.Panicf(1, "pathway.Func: func %s has unsupported signature %s", name, fv.Type())
	}
	if got, want := len(params), len(sig.In); got != want {
		typecheck.Panicf(1, "pathway.Func: func %s takes %d parameters, but %d were declared", name, want, got)
	}
	if sig.Out != nil {
		if err := typecheck.Encodable(sig.Out); err != nil {
			typecheck.Panicf(1, "pathway.Func: func %s: return value: %v", name, err)
		}
	}
	v := &FuncValue{name: name, fn: fv, sig: sig}
	seen := make(map[string]bool)
	for i, p := range params {
		if reserved[p.name] {
			typecheck.Panicf(1, "pathway.Func: func %s: parameter name %q collides with a reserved flag", name, p.name)
		}
		if !paramNameRE.MatchString(p.name) {
			typecheck.Panicf(1, "pathway.Func: func %s: invalid parameter name %q", name, p.name)
		}
		if seen[p.name] {
			typecheck.Panicf(1, "pathway.Func: func %s: duplicate parameter name %q", name, p.name)
		}
		seen[p.name] = true
		spec, err := makeParamSpec(p, sig.In[i])
		if err != nil {
			typecheck.Panicf(1, "pathway.Func: func %s: parameter %s: %v", name, p.name, err)
		}
		v.params = append(v.params, spec)
	}
	v.digest = v.computeDigest()
	if _, file, line, ok := runtime.Caller(1); ok {
		v.location = fmt.Sprintf("%s:%d", file, line)
	}

	mu.Lock()
	defer mu.Unlock()
	if prev := funcs[name]; prev != nil {
		typecheck.Panicf(1, "pathway.Func: func %s already registered at %s", name, prev.location)
	}
	funcs[name] = v
	byDecl = append(byDecl, v)
	return v
}

func makeParamSpec(p Param, typ reflect.Type) (ParamSpec, error) {
	spec := ParamSpec{Name: p.name, Type: typ}
	switch {
	case typ == typeOfInput:
		spec.Kind = ParamInput
	case typ == typeOfOutput:
		spec.Kind = ParamOutput
	case literalTypeOf(typ) != NotLiteral:
		spec.Kind = ParamLiteral
		spec.Literal = literalTypeOf(typ)
	default:
		spec.Kind = ParamOpaque
		if err := typecheck.Encodable(typ); err != nil {
			return spec, err
		}
	}
	if !p.hasDefault {
		return spec, nil
	}
	spec.HasDefault = true
	if p.def == nil {
		switch typ.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
			spec.Default = reflect.Zero(typ).Interface()
			return spec, nil
		}
		return spec, fmt.Errorf("nil default for type %s", typ)
	}
	dv := reflect.ValueOf(p.def)
	switch {
	case dv.Type().AssignableTo(typ):
	case spec.Kind == ParamLiteral && dv.Type().ConvertibleTo(typ) && literalTypeOf(dv.Type()) != NotLiteral:
		dv = dv.Convert(typ)
	default:
		return spec, fmt.Errorf("default value of type %s is not assignable to %s", dv.Type(), typ)
	}
	spec.Default = dv.Interface()
	return spec, nil
}

// computeDigest returns a digest of the func's name and signature.
// It is used to make sure that the submitting binary and the remote
// binary agree on the func's parameter table.
func (f *FuncValue) computeDigest() uint64 {
	var b strings.Builder
	b.WriteString(f.name)
	for _, p := range f.params {
		fmt.Fprintf(&b, "|%s:%s:%s", p.Name, p.Kind, p.Type)
	}
	if f.sig.Out != nil {
		fmt.Fprintf(&b, "|return:%s", f.sig.Out)
	}
	return murmur3.Sum64([]byte(b.String()))
}

// Name returns the name under which f was registered.
func (f *FuncValue) Name() string { return f.name }

// Location returns the source location at which f was registered.
func (f *FuncValue) Location() string { return f.location }

// Digest returns the digest of f's name and parameter table.
func (f *FuncValue) Digest() uint64 { return f.digest }

// NumParam returns the number of declared parameters of f.
func (f *FuncValue) NumParam() int { return len(f.params) }

// Param returns the i'th declared parameter of f.
func (f *FuncValue) Param(i int) ParamSpec { return f.params[i] }

// Params returns f's parameter table.
func (f *FuncValue) Params() []ParamSpec {
	return append([]ParamSpec(nil), f.params...)
}

// Returns tells whether f declares a return value, and its type.
func (f *FuncValue) Returns() (reflect.Type, bool) {
	return f.sig.Out, f.sig.Out != nil
}

// String returns a description of f, including its parameter table.
func (f *FuncValue) String() string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = fmt.Sprintf("%s %s", p.Name, p.Type)
		if p.HasDefault {
			params[i] += "=" + fmt.Sprint(p.Default)
		}
	}
	s := fmt.Sprintf("%s(%s)", f.name, strings.Join(params, ", "))
	if f.sig.Out != nil {
		s += " " + f.sig.Out.String()
	}
	return s
}

// Call invokes f with the provided arguments, which must be given in
// parameter order and match the declared types. Call returns f's
// result value, if any. Errors returned by f, as well as panics, are
// returned as RemoteInvocation errors.
func (f *FuncValue) Call(ctx context.Context, args []interface{}) (result interface{}, err error) {
	if len(args) != len(f.params) {
		return nil, Errorf(ArgumentBinding, "call "+f.name, "func takes %d arguments, got %d", len(f.params), len(args))
	}
	argv := make([]reflect.Value, 0, len(args)+1)
	if f.sig.Context {
		argv = append(argv, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		if arg == nil {
			argv = append(argv, reflect.Zero(f.params[i].Type))
			continue
		}
		argv = append(argv, reflect.ValueOf(arg))
	}
	defer func() {
		if e := recover(); e != nil {
			err = Errorf(RemoteInvocation, "call "+f.name, "panic: %v", e)
		}
	}()
	out := f.fn.Call(argv)
	if f.sig.Err {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, Wrap(RemoteInvocation, "call "+f.name, e.Interface().(error))
		}
	}
	if f.sig.Out != nil {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// Lookup returns the func registered under the provided name.
func Lookup(name string) (*FuncValue, bool) {
	mu.Lock()
	defer mu.Unlock()
	f, ok := funcs[name]
	return f, ok
}

// Funcs returns all registered funcs in registration order.
func Funcs() []*FuncValue {
	mu.Lock()
	defer mu.Unlock()
	return append([]*FuncValue(nil), byDecl...)
}

// FuncDigests returns the digests of all registered funcs, keyed by
// name. Workers use this to verify that they run the same binary as
// the submitting process.
func FuncDigests() map[string]string {
	mu.Lock()
	defer mu.Unlock()
	m := make(map[string]string, len(funcs))
	for name, f := range funcs {
		m[name] = strconv.FormatUint(f.digest, 16)
	}
	return m
}

// FuncDigestsDiff returns a description of the differences between
// two sets of func digests, as returned by FuncDigests, sorted by func
// name. An empty result means the sets are identical.
func FuncDigestsDiff(local, remote map[string]string) []string {
	var diff []string
	for name, d := range local {
		switch rd, ok := remote[name]; {
		case !ok:
			diff = append(diff, fmt.Sprintf("- %s", name))
		case rd != d:
			diff = append(diff, fmt.Sprintf("~ %s (%s != %s)", name, d, rd))
		}
	}
	for name := range remote {
		if _, ok := local[name]; !ok {
			diff = append(diff, fmt.Sprintf("+ %s", name))
		}
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i][2:] < diff[j][2:] })
	return diff
}

// funcRef is the serialized representation of a func. Func bodies
// cannot be serialized; instead, remote workers run the same binary
// and look up the func by name. The digest guards against the two
// binaries disagreeing on the func's parameter table.
type funcRef struct {
	Name   string
	Digest uint64
}

// MarshalRef returns the serialized reference to f that is stored as
// the job's func code.
func (f *FuncValue) MarshalRef() ([]byte, error) {
	return Encode(funcRef{f.name, f.digest}, reflect.TypeOf(funcRef{}))
}

// UnmarshalRef decodes a func reference produced by MarshalRef and
// returns the registered func it names.
func UnmarshalRef(p []byte) (*FuncValue, error) {
	v, err := Decode(p, reflect.TypeOf(funcRef{}))
	if err != nil {
		return nil, err
	}
	ref := v.(funcRef)
	f, ok := Lookup(ref.Name)
	if !ok {
		return nil, Errorf(Config, "load func", "func %s is not registered in this binary", ref.Name)
	}
	if f.digest != ref.Digest {
		return nil, Errorf(Config, "load func", "func %s: signature digest mismatch (%x != %x); is the binary up to date?",
			ref.Name, f.digest, ref.Digest)
	}
	return f, nil
}
