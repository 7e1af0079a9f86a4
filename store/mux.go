// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pathway/metrics"
)

// Mux is a Store that dispatches operations to other stores by URI
// scheme. Local paths have the scheme "". Operations are logged and
// counted in the pathway store metrics.
type Mux struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewMux returns a new, empty Mux.
func NewMux() *Mux {
	return &Mux{stores: make(map[string]Store)}
}

// Default is the default store mux. Local paths and s3:// URIs are
// served by the file store.
var Default = NewMux()

func init() {
	Default.Register("", File{})
	Default.Register("s3", File{})
}

// Register registers store s to serve URIs with the given scheme,
// replacing any store previously registered for the scheme.
func (m *Mux) Register(scheme string, s Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[scheme] = s
}

// Register registers store s with the default mux.
func Register(scheme string, s Store) {
	Default.Register(scheme, s)
}

// Schemes returns the registered schemes, sorted.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schemes := make([]string, 0, len(m.stores))
	for scheme := range m.stores {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

func (m *Mux) lookup(uri string) (string, Store, error) {
	scheme := Scheme(uri)
	m.mu.RLock()
	s, ok := m.stores[scheme]
	m.mu.RUnlock()
	if !ok {
		return scheme, nil, errors.E(errors.NotSupported, fmt.Sprintf("store: no store registered for scheme %q (uri %s)", scheme, uri))
	}
	return scheme, s, nil
}

// Put implements Store.
func (m *Mux) Put(ctx context.Context, uri string, p []byte) error {
	scheme, s, err := m.lookup(uri)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.Put(ctx, uri, p)
	observe("put", scheme, len(p), err)
	if err == nil {
		log.Debug.Printf("store: put %s: %d bytes in %s", uri, len(p), time.Since(start))
	}
	return err
}

// Get implements Store.
func (m *Mux) Get(ctx context.Context, uri string) ([]byte, error) {
	scheme, s, err := m.lookup(uri)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := s.Get(ctx, uri)
	observe("get", scheme, len(p), err)
	if err == nil {
		log.Debug.Printf("store: get %s: %d bytes in %s", uri, len(p), time.Since(start))
	}
	return p, err
}

func observe(op, scheme string, n int, err error) {
	if scheme == "" {
		scheme = "file"
	}
	result := "ok"
	switch {
	case err == nil:
		metrics.StoreBytes.WithLabelValues(op, scheme).Add(float64(n))
	case errors.Is(errors.NotExist, err):
		result = "not_exist"
	default:
		result = "error"
	}
	metrics.StoreOps.WithLabelValues(op, scheme, result).Inc()
}
