// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"io/ioutil"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	c := Resolves.WithLabelValues("cached")
	before := testutil.ToFloat64(c)
	c.Inc()
	c.Inc()
	if got, want := testutil.ToFloat64(c)-before, 2.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHandler(t *testing.T) {
	StoreOps.WithLabelValues("put", "store", "ok").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := ioutil.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "pathway_store_operations_total") {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
}
