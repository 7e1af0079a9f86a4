// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"context"
	"reflect"
	"testing"
)

var (
	typeOfInt    = reflect.TypeOf(0)
	typeOfString = reflect.TypeOf("")
)

func TestFunc(t *testing.T) {
	for _, c := range []struct {
		fn  interface{}
		sig Signature
		ok  bool
	}{
		{func() {}, Signature{}, true},
		{func(int, string) string { return "" }, Signature{In: []reflect.Type{typeOfInt, typeOfString}, Out: typeOfString}, true},
		{func(int) error { return nil }, Signature{In: []reflect.Type{typeOfInt}, Err: true}, true},
		{func(context.Context, string) (int, error) { return 0, nil }, Signature{Context: true, In: []reflect.Type{typeOfString}, Out: typeOfInt, Err: true}, true},
		{func(string, context.Context) {}, Signature{}, false},
		{func(context.Context, int, context.Context) {}, Signature{}, false},
		{func() (int, string) { return 0, "" }, Signature{}, false},
		{func() (error, int) { return nil, 0 }, Signature{}, false},
		{func(...int) {}, Signature{}, false},
		{123, Signature{}, false},
	} {
		sig, ok := Func(reflect.TypeOf(c.fn))
		if got, want := ok, c.ok; got != want {
			t.Errorf("%T: got %v, want %v", c.fn, got, want)
			continue
		}
		if !ok {
			continue
		}
		if got, want := sig, c.sig; !reflect.DeepEqual(got, want) {
			t.Errorf("%T: got %+v, want %+v", c.fn, got, want)
		}
	}
}

type exported struct{ A, B int }
type unexported struct{ a int }
type withChan struct{ C chan int }

func TestEncodable(t *testing.T) {
	for _, c := range []struct {
		val interface{}
		ok  bool
	}{
		{0, true},
		{[]string{}, true},
		{map[string][]float64{}, true},
		{exported{}, true},
		{&exported{}, true},
		{unexported{}, false},
		{withChan{}, false},
		{make(chan int), false},
		{func() {}, false},
		{map[string]func(){}, false},
	} {
		err := Encodable(reflect.TypeOf(c.val))
		if got, want := err == nil, c.ok; got != want {
			t.Errorf("%T: got %v, want %v (err %v)", c.val, got, want, err)
		}
	}
}
