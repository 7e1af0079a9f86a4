// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
)

// Input names an external input channel. Its path is handed to the
// remote func verbatim; the data it names is never staged through the
// object store.
type Input struct {
	Path string
}

// Output names an external output channel. Like Input, the path is
// passed verbatim.
type Output struct {
	Path string
}

var (
	typeOfInput   = reflect.TypeOf(Input{})
	typeOfOutput  = reflect.TypeOf(Output{})
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// ParamKind is the declared kind of a func parameter. It determines
// how arguments are marshaled on the submitting side and rebuilt on
// the remote side.
type ParamKind int

const (
	// ParamOpaque parameters are serialized to the object store and
	// passed by URI.
	ParamOpaque ParamKind = iota
	// ParamInput parameters are of type Input.
	ParamInput
	// ParamOutput parameters are of type Output.
	ParamOutput
	// ParamLiteral parameters are integers, floats, booleans, and
	// strings, passed in their textual representation.
	ParamLiteral
)

// String returns the kind's name.
func (k ParamKind) String() string {
	switch k {
	case ParamOpaque:
		return "opaque"
	case ParamInput:
		return "input"
	case ParamOutput:
		return "output"
	case ParamLiteral:
		return "literal"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// LiteralType is the intrinsic type of a literal parameter.
type LiteralType int

const (
	// NotLiteral is the literal type of non-literal parameters.
	NotLiteral LiteralType = iota
	LiteralInt
	LiteralFloat
	LiteralBool
	LiteralString
)

// String returns the literal type's name.
func (t LiteralType) String() string {
	switch t {
	case NotLiteral:
		return "none"
	case LiteralInt:
		return "int"
	case LiteralFloat:
		return "float"
	case LiteralBool:
		return "bool"
	case LiteralString:
		return "string"
	default:
		return fmt.Sprintf("LiteralType(%d)", int(t))
	}
}

// literalTypeOf returns the literal type for Go type typ.
func literalTypeOf(typ reflect.Type) LiteralType {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return LiteralInt
	case reflect.Float32, reflect.Float64:
		return LiteralFloat
	case reflect.Bool:
		return LiteralBool
	case reflect.String:
		return LiteralString
	default:
		return NotLiteral
	}
}

// FormatLiteral renders a literal value as text. The text is parsed
// back by ParseLiteral into an equal value.
func FormatLiteral(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.String:
		return v.String()
	}
	panic(fmt.Sprintf("pathway.FormatLiteral: %s is not a literal type", v.Type()))
}

// ParseLiteral parses text produced by FormatLiteral into a value of
// type typ.
func ParseLiteral(typ reflect.Type, text string) (reflect.Value, error) {
	v := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, typ.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, typ.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, typ.Bits())
		if err != nil {
			return v, err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.String:
		v.SetString(text)
	default:
		return v, fmt.Errorf("%s is not a literal type", typ)
	}
	return v, nil
}

// ParamSpec describes a single declared func parameter. ParamSpecs
// are computed once, when a func is registered, and are immutable
// thereafter.
type ParamSpec struct {
	// Name is the parameter's name; it is also its command line flag.
	Name string
	// Kind is the parameter's declared kind.
	Kind ParamKind
	// Literal is the parameter's literal type, if Kind is ParamLiteral.
	Literal LiteralType
	// Type is the parameter's Go type.
	Type reflect.Type
	// Default is the parameter's default value, valid if HasDefault
	// is true.
	Default    interface{}
	HasDefault bool
}

// Format is the serialization format of a stored object.
type Format uint8

// FormatGob is the gob-based payload format. It is the only format
// currently defined.
const FormatGob Format = 1

// String returns the format's name.
func (f Format) String() string {
	switch f {
	case FormatGob:
		return "gob"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ObjectRef refers to a serialized object in the object store.
type ObjectRef struct {
	URI    string
	Format Format
}

// A Deferred is a value produced by a remote job that may not exist
// yet. Deferred values may be passed to opaque parameters; they are
// then passed by reference instead of being uploaded again.
type Deferred interface {
	// Ref returns the location where the value is (or will be)
	// stored.
	Ref() ObjectRef
	// Done tells whether the job producing the value has completed.
	// Done may query the job submission service.
	Done(ctx context.Context) (bool, error)
	// Type returns the Go type of the value.
	Type() reflect.Type
}
