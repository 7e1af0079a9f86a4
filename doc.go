// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package pathway runs ordinary Go functions as remote batch jobs.
	A function is registered once with pathway.Func; invoking it through
	an exec.Session submits a job (or, inside a pipeline, records a
	pipeline step) on a managed compute service. The function reference
	and its arguments travel through an object store and a command line;
	on the remote side, the same binary rebuilds the arguments, calls the
	function, and stores its return value where the submitting process
	can later retrieve it.

	Because Go cannot serialize code, pathway programs follow the same
	rule as bigslice programs: all funcs must be registered, in the same
	way, in both the submitting binary and the binary that runs inside
	the job's container. Registering funcs as package-level variables
	satisfies this:

		var Split = pathway.Func("split", func(data pathway.Input, out pathway.Output, ratio float64) error {
			...
		}, pathway.Arg("data"), pathway.Arg("output"), pathway.Arg("ratio", pathway.Default(0.7)))

	Argument marshaling

	Each parameter's kind is fixed at registration from its declared
	type. Parameters of type Input and Output name external channels
	and are passed as paths. Integer, float, boolean, and string
	parameters are literals and are passed as text. All other parameters
	are opaque: their values are serialized (see Encode) and uploaded to
	the object store, and the command line carries their URIs. An opaque
	parameter may also be given a Deferred value, such as the result of
	an earlier job; completed deferred values are passed by reference,
	without being downloaded and uploaded again.

	The command line passed to the remote entry point is

		--func-code <prefix>/func.bin [--<param> <value>]... [--env-def <uri>] [--return <prefix>/outputs/return.bin]

	where prefix is the job's unique scratch prefix in the object store.
*/
package pathway
