// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/pathway/store"
)

// maxJobName is the maximum length of a job name accepted by
// SageMaker.
const maxJobName = 63

// JobName returns a unique job name for an invocation of the named
// func at the given time: the func name with underscores replaced by
// dashes, a millisecond-resolution UTC timestamp, and a random
// suffix. Names are trimmed to 63 characters.
func JobName(funcName string, now time.Time) string {
	now = now.UTC()
	ts := fmt.Sprintf("%s-%03d", now.Format("2006-01-02-15-04-05"), now.Nanosecond()/int(time.Millisecond))
	suffix := strings.Replace(uuid.New().String(), "-", "", -1)[:6]
	tail := "-" + ts + "-" + suffix
	base := strings.Replace(funcName, "_", "-", -1)
	if n := maxJobName - len(tail); len(base) > n {
		base = strings.TrimRight(base[:n], "-")
	}
	return base + tail
}

// Scratch object layout, relative to a job's scratch prefix.
const (
	funcCodeObject = "func.bin"
	returnObject   = "outputs/return.bin"
	envDir         = "env"
)

// FuncCodeURI returns the URI of the func reference stored under
// prefix.
func FuncCodeURI(prefix string) string { return store.Join(prefix, funcCodeObject) }

// ArgURI returns the URI of the named opaque argument stored under
// prefix.
func ArgURI(prefix, param string) string { return store.Join(prefix, param+".bin") }

// ReturnURI returns the URI of the return value stored under prefix.
func ReturnURI(prefix string) string { return store.Join(prefix, returnObject) }

// EnvURI returns the URI of the environment definition with the given
// base name stored under prefix.
func EnvURI(prefix, base string) string { return store.Join(prefix, envDir, base) }
