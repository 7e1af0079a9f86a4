// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pathway

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandLine is the argument list passed to a remote entry point. It
// is a flat sequence of "--name value" pairs.
type CommandLine []string

// Add appends the flag --name with the provided value.
func (c *CommandLine) Add(name, value string) {
	*c = append(*c, "--"+name, value)
}

// String renders the command line with each argument quoted as
// necessary, for logging.
func (c CommandLine) String() string {
	args := make([]string, len(c))
	for i, arg := range c {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\") {
			arg = strconv.Quote(arg)
		}
		args[i] = arg
	}
	return strings.Join(args, " ")
}

// Flags is a parsed command line: flag values keyed by name. Order
// records the order in which the flags appeared.
type Flags struct {
	values map[string]string
	order  []string
}

// Get returns the value of the named flag.
func (f Flags) Get(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Names returns the flag names in command line order.
func (f Flags) Names() []string { return append([]string(nil), f.order...) }

// Len returns the number of flags.
func (f Flags) Len() int { return len(f.order) }

// ParseCommandLine parses a command line produced by the marshaler.
// Every flag must be followed by exactly one value, and each flag may
// appear only once. The value following a flag is always taken
// verbatim, even if it begins with "--".
func ParseCommandLine(argv []string) (Flags, error) {
	f := Flags{values: make(map[string]string)}
	for i := 0; i < len(argv); i += 2 {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			return f, Errorf(Config, "parse command line", "argument %d: expected a flag, got %q", i, arg)
		}
		name := arg[2:]
		if i+1 == len(argv) {
			return f, Errorf(Config, "parse command line", "flag --%s has no value", name)
		}
		if _, ok := f.values[name]; ok {
			return f, Errorf(Config, "parse command line", "flag --%s repeated", name)
		}
		f.values[name] = argv[i+1]
		f.order = append(f.order, name)
	}
	return f, nil
}

// MustParseCommandLine is like ParseCommandLine, but panics on error.
func MustParseCommandLine(argv []string) Flags {
	f, err := ParseCommandLine(argv)
	if err != nil {
		panic(fmt.Sprintf("pathway.MustParseCommandLine: %v", err))
	}
	return f
}
