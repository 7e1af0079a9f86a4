// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/pathway/metrics"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/minio/minio-go/v7"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParse(t *testing.T) {
	for _, c := range []struct {
		uri, scheme, bucket, key string
		ok                       bool
	}{
		{"s3://bucket/a/b.bin", "s3", "bucket", "a/b.bin", true},
		{"minio://b/k", "minio", "b", "k", true},
		{"/tmp/x/func.bin", "", "", "/tmp/x/func.bin", true},
		{"", "", "", "", false},
		{"s3://bucket", "", "", "", false},
		{"s3://bucket/", "", "", "", false},
		{"://bucket/key", "", "", "", false},
	} {
		scheme, bucket, key, err := Parse(c.uri)
		if (err == nil) != c.ok {
			t.Errorf("%q: got error %v, want ok=%v", c.uri, err, c.ok)
			continue
		}
		if !c.ok {
			continue
		}
		if scheme != c.scheme || bucket != c.bucket || key != c.key {
			t.Errorf("%q: got %q %q %q, want %q %q %q", c.uri, scheme, bucket, key, c.scheme, c.bucket, c.key)
		}
	}
}

func TestJoin(t *testing.T) {
	expect.EQ(t, Join("s3://bucket/root/", "job", "/func.bin"), "s3://bucket/root/job/func.bin")
	expect.EQ(t, Join("mem://b/p", "env", "", "config.json"), "mem://b/p/env/config.json")
	expect.EQ(t, Scheme("s3://b/k"), "s3")
	expect.EQ(t, Scheme("/local/path"), "")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Get(ctx, "mem://b/missing")
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	p := []byte("payload")
	assert.NoError(t, m.Put(ctx, "mem://b/k", p))
	p[0] = 'X'
	q, err := m.Get(ctx, "mem://b/k")
	assert.NoError(t, err)
	expect.EQ(t, string(q), "payload")
	expect.EQ(t, m.Keys(), []string{"mem://b/k"})
	puts, gets := m.Counts()
	expect.EQ(t, puts, 1)
	expect.EQ(t, gets, 2)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	var s File
	uri := filepath.Join(dir, "job", "outputs", "return.bin")
	_, err := s.Get(ctx, uri)
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	assert.NoError(t, s.Put(ctx, uri, []byte("hello")))
	p, err := s.Get(ctx, uri)
	assert.NoError(t, err)
	expect.EQ(t, string(p), "hello")
}

func TestMux(t *testing.T) {
	ctx := context.Background()
	mux := NewMux()
	mem := NewMemory()
	mux.Register("mem", mem)
	expect.EQ(t, mux.Schemes(), []string{"mem"})

	ok := metrics.StoreOps.WithLabelValues("put", "mem", "ok")
	before := promtest.ToFloat64(ok)
	assert.NoError(t, mux.Put(ctx, "mem://b/k", []byte("x")))
	expect.EQ(t, promtest.ToFloat64(ok)-before, 1.0)
	p, err := mux.Get(ctx, "mem://b/k")
	assert.NoError(t, err)
	expect.EQ(t, string(p), "x")
	expect.EQ(t, mem.Keys(), []string{"mem://b/k"})

	if _, err := mux.Get(ctx, "gs://b/k"); !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected NotSupported, got %v", err)
	}
	missing := metrics.StoreOps.WithLabelValues("get", "mem", "not_exist")
	before = promtest.ToFloat64(missing)
	if _, err := mux.Get(ctx, "mem://b/missing"); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	expect.EQ(t, promtest.ToFloat64(missing)-before, 1.0)
}

// flakyStore fails the first n operations with a temporary error.
type flakyStore struct {
	*Memory
	n     int
	calls int
	err   error
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.n {
		return f.err
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, uri string, p []byte) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Memory.Put(ctx, uri, p)
}

func (f *flakyStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Memory.Get(ctx, uri)
}

var testPolicy = retry.MaxTries(retry.Backoff(time.Millisecond, time.Millisecond, 1), 3)

func TestRetry(t *testing.T) {
	ctx := context.Background()
	temporary := errors.E(errors.Unavailable, errors.Temporary, "connection reset")
	flaky := &flakyStore{Memory: NewMemory(), n: 2, err: temporary}
	s := WithRetry(flaky, testPolicy)
	assert.NoError(t, s.Put(ctx, "mem://b/k", []byte("v")))
	expect.EQ(t, flaky.calls, 3)

	flaky.calls, flaky.n = 0, 10
	if _, err := s.Get(ctx, "mem://b/k"); err == nil {
		t.Error("expected error after exhausting retries")
	}
	if flaky.calls > 4 {
		t.Errorf("made %d calls, want at most 4", flaky.calls)
	}

	flaky.calls, flaky.n = 0, 0
	if _, err := s.Get(ctx, "mem://b/missing"); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	expect.EQ(t, flaky.calls, 1)
}

func TestMinIOErrors(t *testing.T) {
	for _, c := range []struct {
		err       error
		kind      errors.Kind
		temporary bool
	}{
		{minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, errors.NotExist, false},
		{minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, errors.NotExist, false},
		{minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, errors.NotAllowed, false},
		{minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, errors.Unavailable, true},
		{minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, errors.Unavailable, true},
		{fmt.Errorf("dial tcp: connection refused"), errors.Unavailable, true},
		{context.Canceled, errors.Canceled, false},
	} {
		err := minioError("get", "minio://b/k", c.err)
		if !errors.Is(c.kind, err) {
			t.Errorf("%v: got %v, want kind %v", c.err, err, c.kind)
		}
		if got, want := errors.IsTemporary(err), c.temporary; got != want {
			t.Errorf("%v: temporary: got %v, want %v", c.err, got, want)
		}
	}
	if minioError("put", "minio://b/k", nil) != nil {
		t.Error("non-nil error for nil")
	}
}

func TestMinIOConfig(t *testing.T) {
	good := MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Region: "us-east-1"}
	assert.NoError(t, good.Validate())
	bad := good
	bad.Endpoint = "http://localhost:9000"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for endpoint with scheme")
	}
	bad = good
	bad.SecretKey = ""
	if _, err := NewMinIO(bad); err == nil {
		t.Error("expected error for missing secret key")
	}
	s, err := NewMinIO(good)
	assert.NoError(t, err)
	if _, err := s.Get(context.Background(), "s3://b/k"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}
