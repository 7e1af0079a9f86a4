// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Store that keeps objects in memory. It is used by the
// local submitter and in tests. Memory counts the operations performed
// on it so that tests can verify transfer behavior.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int
}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, uri string, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, _, err := Parse(uri); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[uri] = append([]byte{}, p...)
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.objects[uri]
	if !ok {
		return nil, notExist("get", uri)
	}
	return append([]byte{}, p...), nil
}

// Keys returns the URIs of all stored objects, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counts returns the number of Put and Get calls made on the store.
func (m *Memory) Counts() (puts, gets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts, m.gets
}
