// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"os"
	"strings"
)

// shellQuote quotes a string to be used as an argument in an sh command line.
func shellQuote(s string) string {
	// We wrap with single quotes, as they will work with any string except
	// those with single quotes. We handle single quotes by tranforming them
	// into "'\''" and letting the shell concatenate the strings back together.
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// ShellCommand renders args as a command line that can be pasted
// into sh, for example to rerun a job's entry point by hand.
func ShellCommand(args ...string) string {
	quoted := make([]string, len(args))
	for i := range args {
		quoted[i] = shellQuote(args[i])
	}
	return strings.Join(quoted, " ")
}

// command returns the command-line of the current execution.
func command() string {
	return ShellCommand(os.Args...)
}
