// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck contains typechecking utilities used when
// registering pathway funcs. Errors are attributed to the caller's
// source location so that registration mistakes are reported where
// they are made.
package typecheck

import (
	"context"
	"fmt"
	"reflect"
)

var (
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Signature is the decomposed signature of a registrable func.
type Signature struct {
	// Context is true if the func's first parameter is a
	// context.Context.
	Context bool
	// In holds the types of the func's remaining parameters.
	In []reflect.Type
	// Out is the type of the func's non-error result, or nil.
	Out reflect.Type
	// Err is true if the func returns an error as its last result.
	Err bool
}

// Func decomposes the signature of function type typ. Funcs may
// return nothing, an error, a single value, or a value and an error.
// A context.Context may only be the first parameter. Func returns
// false if typ is not such a function type.
func Func(typ reflect.Type) (sig Signature, ok bool) {
	if typ.Kind() != reflect.Func || typ.IsVariadic() {
		return sig, false
	}
	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if in == typeOfContext {
			if i != 0 {
				return sig, false
			}
			sig.Context = true
			continue
		}
		sig.In = append(sig.In, in)
	}
	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == typeOfError {
			sig.Err = true
		} else {
			sig.Out = typ.Out(0)
		}
	case 2:
		if typ.Out(0) == typeOfError || typ.Out(1) != typeOfError {
			return sig, false
		}
		sig.Out = typ.Out(0)
		sig.Err = true
	default:
		return sig, false
	}
	return sig, true
}

// Encodable returns an error if values of type typ cannot be
// transmitted as opaque payloads. Channels, funcs, and unsafe
// pointers cannot be encoded, nor can structs without any exported
// fields.
func Encodable(typ reflect.Type) error {
	return encodable(typ, make(map[reflect.Type]bool))
}

func encodable(typ reflect.Type, seen map[reflect.Type]bool) error {
	if seen[typ] {
		return nil
	}
	seen[typ] = true
	switch typ.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Errorf("type %s cannot be encoded", typ)
	case reflect.Ptr, reflect.Slice, reflect.Array:
		return encodable(typ.Elem(), seen)
	case reflect.Map:
		if err := encodable(typ.Key(), seen); err != nil {
			return err
		}
		return encodable(typ.Elem(), seen)
	case reflect.Struct:
		var exported int
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if f.PkgPath != "" {
				continue
			}
			exported++
			if err := encodable(f.Type, seen); err != nil {
				return fmt.Errorf("field %s of %s: %v", f.Name, typ, err)
			}
		}
		if exported == 0 && typ.NumField() > 0 {
			return fmt.Errorf("type %s has no exported fields", typ)
		}
	}
	return nil
}
