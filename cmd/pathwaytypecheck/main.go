// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command pathwaytypecheck is a standalone checker for pathway func
// registrations and invocations. See package
// github.com/grailbio/pathway/analysis/typecheck for the checks it
// performs.
package main

import (
	"github.com/grailbio/pathway/analysis/typecheck"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(typecheck.Analyzer)
}
