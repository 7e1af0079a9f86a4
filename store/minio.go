// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOScheme is the URI scheme served by the MinIO store.
const MinIOScheme = "minio"

// MinIOConfig configures a connection to a MinIO (or other
// S3-compatible) object store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks that the configuration is complete.
func (c MinIOConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.E(errors.Invalid, "minio: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.E(errors.Invalid, fmt.Sprintf("minio: endpoint must not include scheme: %q", c.Endpoint))
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.E(errors.Invalid, "minio: access key and secret key are required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.E(errors.Invalid, "minio: region is required")
	}
	return nil
}

// MinIO is a Store backed by a MinIO client. Objects are addressed as
// minio://bucket/key.
type MinIO struct {
	client *minio.Client
}

// NewMinIO returns a MinIO store connected according to cfg.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.E(errors.Invalid, "minio: create client", err)
	}
	return &MinIO{client: client}, nil
}

// Put implements Store.
func (m *MinIO) Put(ctx context.Context, uri string, p []byte) error {
	bucket, key, err := m.parse(uri)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, bucket, key, bytes.NewReader(p), int64(len(p)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return minioError("put", uri, err)
}

// Get implements Store.
func (m *MinIO) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := m.parse(uri)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError("get", uri, err)
	}
	defer obj.Close()
	p, err := ioutil.ReadAll(obj)
	if err != nil {
		return nil, minioError("get", uri, err)
	}
	return p, nil
}

func (m *MinIO) parse(uri string) (bucket, key string, err error) {
	scheme, bucket, key, err := Parse(uri)
	if err != nil {
		return "", "", err
	}
	if scheme != MinIOScheme {
		return "", "", errors.E(errors.Invalid, fmt.Sprintf("minio: unsupported uri %s", uri))
	}
	return bucket, key, nil
}

// minioError converts errors returned by the MinIO client into store
// errors.
func minioError(op, uri string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s %s", op, uri)
	if err == context.Canceled || err == context.DeadlineExceeded {
		return errors.E(errors.Canceled, msg, err)
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return errors.E(errors.NotExist, msg, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return errors.E(errors.NotAllowed, msg, err)
	case resp.StatusCode >= 500 || resp.Code == "SlowDown" || resp.StatusCode == 0:
		// Status code 0 means the request did not produce a response:
		// a network failure.
		return errors.E(errors.Unavailable, errors.Temporary, msg, err)
	default:
		return errors.E(msg, err)
	}
}
