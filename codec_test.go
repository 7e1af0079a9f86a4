// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"encoding/gob"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

type codecRecord struct {
	Name    string
	Count   int64
	Weights []float64
	Labels  map[string]int
	Nested  *codecRecord
}

type shape interface{ Area() float64 }

type square struct{ Side float64 }

func (s square) Area() float64 { return s.Side * s.Side }

func init() {
	gob.Register(square{})
}

func TestCodecRoundTrip(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(1, 10)
	typ := reflect.TypeOf(codecRecord{})
	for i := 0; i < 100; i++ {
		var rec codecRecord
		fz.Fuzz(&rec.Name)
		fz.Fuzz(&rec.Count)
		fz.Fuzz(&rec.Weights)
		fz.Fuzz(&rec.Labels)
		p, err := Encode(rec, typ)
		if err != nil {
			t.Fatal(err)
		}
		v, err := Decode(p, typ)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := v.(codecRecord), rec; !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestCodecInterface(t *testing.T) {
	typ := reflect.TypeOf((*shape)(nil)).Elem()
	p, err := Encode(square{3}, typ)
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(p, typ)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := v.(shape)
	if !ok {
		t.Fatalf("decoded %T, not a shape", v)
	}
	if got, want := s.Area(), 9.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCodecTypeMismatch(t *testing.T) {
	if _, err := Encode("hello", reflect.TypeOf(0)); !Is(Serialization, err) {
		t.Errorf("expected serialization error, got %v", err)
	}
}

func TestCodecEnvelope(t *testing.T) {
	p, err := Encode(int64(42), reflect.TypeOf(int64(0)))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p[:4]), "PWAY"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	corrupt := func(i int, b byte) []byte {
		q := append([]byte(nil), p...)
		q[i] = b
		return q
	}
	for _, c := range []struct {
		name string
		p    []byte
	}{
		{"empty", nil},
		{"short", p[:3]},
		{"magic", corrupt(0, 'X')},
		{"version", corrupt(4, 2)},
		{"format", corrupt(5, 9)},
		{"payload", p[:headerSize]},
	} {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Decode(c.p, reflect.TypeOf(int64(0))); !Is(Serialization, err) {
				t.Errorf("expected serialization error, got %v", err)
			}
		})
	}

	env, err := ParseEnvelope(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := env, (Envelope{Version: 1, Format: FormatGob, Size: len(p) - headerSize}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	// The payload is not interpreted.
	env, err = ParseEnvelope(corrupt(5, 9))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := env.Format.String(), "Format(9)"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := ParseEnvelope(corrupt(0, 'X')); !Is(Serialization, err) {
		t.Errorf("expected serialization error, got %v", err)
	}
}

func TestLiteralRoundTrip(t *testing.T) {
	fz := fuzz.New()
	for _, typ := range []reflect.Type{
		reflect.TypeOf(int(0)),
		reflect.TypeOf(int8(0)),
		reflect.TypeOf(uint64(0)),
		reflect.TypeOf(float32(0)),
		reflect.TypeOf(float64(0)),
		reflect.TypeOf(false),
		reflect.TypeOf(""),
	} {
		for i := 0; i < 50; i++ {
			v := reflect.New(typ)
			fz.Fuzz(v.Interface())
			text := FormatLiteral(v.Elem())
			w, err := ParseLiteral(typ, text)
			if err != nil {
				t.Fatalf("%s: parse %q: %v", typ, text, err)
			}
			if got, want := w.Interface(), v.Elem().Interface(); got != want {
				if f, ok := want.(float64); ok && f != f {
					continue
				}
				if f, ok := want.(float32); ok && f != f {
					continue
				}
				t.Errorf("%s: got %v, want %v", typ, got, want)
			}
		}
	}
}
