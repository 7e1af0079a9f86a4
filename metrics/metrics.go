// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics defines the Prometheus collectors exported by
// pathway processes: job submissions, result resolution, remote
// invocations, and object store traffic. Collectors are registered in
// a private registry served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathway"

var registry = prometheus.NewRegistry()

var (
	// Submissions counts job submissions by submitter and mode
	// ("job", "step", or "pipeline").
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of job and pipeline submissions",
		},
		[]string{"submitter", "mode", "status"},
	)

	// Resolves counts result resolution attempts by outcome ("cached",
	// "fetched", "not_ready", or "error").
	Resolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Total number of remote result resolution attempts",
		},
		[]string{"outcome"},
	)

	// Invocations counts remote func invocations by func and status.
	Invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of remote func invocations",
		},
		[]string{"func", "status"},
	)

	// InvocationDuration records remote func invocation latencies in
	// seconds.
	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Remote func invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"func"},
	)

	// StoreOps counts object store operations by operation, URI
	// scheme, and result.
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of object store operations",
		},
		[]string{"op", "scheme", "result"},
	)

	// StoreBytes counts bytes transferred to and from the object store.
	StoreBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_bytes_total",
			Help:      "Total number of bytes transferred to and from the object store",
		},
		[]string{"op", "scheme"},
	)
)

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(
		Submissions,
		Resolves,
		Invocations,
		InvocationDuration,
		StoreOps,
		StoreBytes,
	)
}

// Registry returns the registry holding pathway's collectors.
func Registry() *prometheus.Registry { return registry }

// Handler returns an HTTP handler that serves the registry in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
