// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"sort"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
)

func TestComputeQuartiles(t *testing.T) {
	for _, c := range []struct {
		name       string
		ds         []time.Duration
		q1, q2, q3 time.Duration
	}{
		{"OneElement", []time.Duration{7}, 7, 7, 7},
		{"TwoElement", []time.Duration{0, 100}, 0, 50, 100},
		{"ThreeElementLowSame", []time.Duration{0, 0, 200}, 0, 0, 100},
		{"ThreeElementHighSame", []time.Duration{0, 200, 200}, 100, 200, 200},
		{"FourElement", []time.Duration{0, 100, 200, 300}, 50, 150, 250},
		{"FiveElement", []time.Duration{0, 100, 200, 300, 400}, 100, 200, 300},
		{"Overflow", []time.Duration{1<<63 - 1, 1<<63 - 1}, 1<<63 - 1, 1<<63 - 1, 1<<63 - 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			q := computeQuartiles(c.ds)
			if q.q1 != c.q1 || q.q2 != c.q2 || q.q3 != c.q3 {
				t.Errorf("got %v/%v/%v, want %v/%v/%v", q.q1, q.q2, q.q3, c.q1, c.q2, c.q3)
			}
			if q.min != c.ds[0] || q.max != c.ds[len(c.ds)-1] {
				t.Errorf("got min %v max %v", q.min, q.max)
			}
		})
	}
}

// TestComputeQuartilesOrdered verifies that quartiles are ordered for
// arbitrary distributions.
func TestComputeQuartilesOrdered(t *testing.T) {
	f := fuzz.New()
	for i := 0; i < 1000; i++ {
		var ds []time.Duration
		f.Fuzz(&ds)
		if len(ds) == 0 {
			continue
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		q := computeQuartiles(ds)
		if !(q.min <= q.q1 && q.q1 <= q.q2 && q.q2 <= q.q3 && q.q3 <= q.max) {
			t.Fatalf("%v: quartiles out of order: %+v", ds, q)
		}
	}
}
