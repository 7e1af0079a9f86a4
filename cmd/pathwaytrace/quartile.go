// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import "time"

// quartiles summarizes a distribution of durations.
type quartiles struct {
	min, q1, q2, q3, max time.Duration
}

// computeQuartiles returns the quartiles of the sorted durations ds,
// using Tukey's method. q2 is the median of ds. q2 splits ds into two
// halves. q1 is the median of the lower half. q3 is the median of the
// upper half. If len(ds) is odd, q2 is included in the halves. ds must
// be non-empty.
func computeQuartiles(ds []time.Duration) quartiles {
	n := len(ds)
	half := (n + 1) / 2
	return quartiles{
		min: ds[0],
		q1:  median(ds[:half]),
		q2:  median(ds),
		q3:  median(ds[n-half:]),
		max: ds[n-1],
	}
}

func median(ds []time.Duration) time.Duration {
	mid := len(ds) / 2
	if len(ds)%2 == 1 {
		return ds[mid]
	}
	// Average without overflow.
	a, b := ds[mid-1], ds[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}
