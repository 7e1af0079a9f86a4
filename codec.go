// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
)

// Stored objects are wrapped in a small versioned envelope:
//
//	magic   [4]byte  "PWAY"
//	version uint8    1
//	format  uint8    FormatGob
//	payload []byte
//
// The payload of a FormatGob object is a single gob-encoded value of
// the declared parameter (or return) type.
const (
	envelopeMagic   = "PWAY"
	envelopeVersion = 1
	headerSize      = len(envelopeMagic) + 2
)

// Encode serializes v as a value of the declared type typ into an
// enveloped payload. If typ is an interface type, the concrete type
// of v is transmitted (and must be registered with gob).
func Encode(v interface{}, typ reflect.Type) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(envelopeMagic)
	b.WriteByte(envelopeVersion)
	b.WriteByte(byte(FormatGob))
	enc := gob.NewEncoder(&b)
	val := reflect.New(typ).Elem()
	if v != nil {
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(typ) {
			return nil, Errorf(Serialization, "encode", "value of type %s is not assignable to %s", rv.Type(), typ)
		}
		val.Set(rv)
	}
	if typ.Kind() == reflect.Ptr && val.IsNil() {
		return nil, Errorf(Serialization, "encode", "cannot encode nil %s", typ)
	}
	if typ.Kind() == reflect.Interface {
		// Encode a pointer to the interface value so that the encoder
		// sends the dynamic type along with the value.
		val = val.Addr()
	}
	if err := enc.EncodeValue(val); err != nil {
		return nil, Wrap(Serialization, fmt.Sprintf("encode %s", typ), err)
	}
	return b.Bytes(), nil
}

// Decode deserializes an enveloped payload produced by Encode into a
// value of type typ.
func Decode(p []byte, typ reflect.Type) (interface{}, error) {
	format, payload, err := unwrap(p)
	if err != nil {
		return nil, err
	}
	if format != FormatGob {
		return nil, Errorf(Serialization, "decode", "unsupported payload format %s", format)
	}
	v := reflect.New(typ)
	if err := gob.NewDecoder(bytes.NewReader(payload)).DecodeValue(v); err != nil {
		return nil, Wrap(Serialization, fmt.Sprintf("decode %s", typ), err)
	}
	return v.Elem().Interface(), nil
}

// unwrap validates the envelope header of p, returning the payload
// format and the payload itself.
func unwrap(p []byte) (Format, []byte, error) {
	if len(p) < headerSize {
		return 0, nil, Errorf(Serialization, "decode", "short payload (%d bytes)", len(p))
	}
	if string(p[:len(envelopeMagic)]) != envelopeMagic {
		return 0, nil, Errorf(Serialization, "decode", "bad magic %q", p[:len(envelopeMagic)])
	}
	if v := p[len(envelopeMagic)]; v != envelopeVersion {
		return 0, nil, Errorf(Serialization, "decode", "unsupported envelope version %d", v)
	}
	return Format(p[len(envelopeMagic)+1]), p[headerSize:], nil
}

// An Envelope describes a stored object.
type Envelope struct {
	// Version is the envelope version.
	Version int
	// Format is the payload format.
	Format Format
	// Size is the size of the payload in bytes.
	Size int
}

// ParseEnvelope validates the envelope header of the stored object p
// and describes it. Only the header is interpreted.
func ParseEnvelope(p []byte) (Envelope, error) {
	format, payload, err := unwrap(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Version: envelopeVersion, Format: format, Size: len(payload)}, nil
}
