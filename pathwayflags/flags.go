// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pathwayflags provides flag support for use by pathway
// command line applications.
package pathwayflags

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/pathway/exec"
)

var (
	mu        sync.Mutex
	providers = map[string]func() Provider{} // protected by mu
	profiles  = map[string]string{}          // protected by mu
)

// Provider represents a submitter provider that can be configured by
// setting some set of options via Set.
type Provider interface {
	// Name returns the name of a provider instance.
	Name() string
	// Set sets one or more options for the submitter to be provided.
	// The options may be specified as key=val.
	Set(string) error
	// ExecOption returns the exec.Option that configures a session
	// with the submitter as configured by the currently set options.
	ExecOption() (exec.Option, error)
	// DefaultParallelism returns the default degree of parallelism to
	// use for this provider.
	DefaultParallelism() int
}

// RegisterSubmitterProvider registers a submitter provider, ie. any
// service that can run pathway jobs. Each use of the provider in a
// flag value is configured on a fresh instance returned by newProvider.
func RegisterSubmitterProvider(name string, newProvider func() Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("submitter %s is already registered", name)
	}
	providers[name] = newProvider
}

// RegisterSubmitterProfile registers a submitter 'profile' which is a
// named shorthand for a submitter and any associated options. For
// example an application that registers a profile of:
//   pathwayflags.RegisterSubmitterProfile("train-gpu", "sagemaker:instance=ml.p3.2xlarge")
// can accept
//   --submitter=train-gpu
// as a synonym for
//   --submitter=sagemaker:instance=ml.p3.2xlarge
func RegisterSubmitterProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the supported providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// Local represents in-process job execution.
type Local struct{}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set.
func (*Local) Set(_ string) error {
	return fmt.Errorf("the local submitter does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Local) ExecOption() (exec.Option, error) { return exec.Local, nil }

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Local) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// Bigmachine represents job execution on bigmachine machines that
// run as separate processes on the local host.
type Bigmachine struct{}

// Name implements Provider.Name.
func (*Bigmachine) Name() string { return "bigmachine" }

// Set implements Provider.Set.
func (*Bigmachine) Set(_ string) error {
	return fmt.Errorf("the bigmachine submitter does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Bigmachine) ExecOption() (exec.Option, error) {
	return exec.Bigmachine(bigmachine.Local), nil
}

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Bigmachine) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// EC2 represents job execution on bigmachine machines running on
// AWS EC2 instances.
type EC2 struct {
	Options map[string]interface{}
}

// Name implements Provider.Name.
func (*EC2) Name() string { return "ec2" }

// Set implements Provider.Set.
func (ec2 *EC2) Set(v string) error {
	if ec2.Options == nil {
		ec2.Options = make(map[string]interface{}, 5)
	}
	key, val, err := keyValue(v)
	if err != nil {
		return err
	}
	switch key {
	case "dataspace", "rootsize":
		i, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("not an int: %v", val)
		}
		ec2.Options[key] = uint(i)
	case "instance", "profile":
		ec2.Options[key] = val
	case "ondemand":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("not a bool: %v", val)
		}
		ec2.Options[key] = b
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// DefaultParallelism implements Provider.DefaultParallelism.
func (*EC2) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// System returns the EC2 bigmachine system configured by the
// provider's options.
func (ec2 *EC2) System() *ec2system.System {
	system := &ec2system.System{Username: "unknown"}
	if u, err := user.Current(); err == nil {
		system.Username = u.Username
	} else {
		log.Printf("ec2: get current user: %v", err)
	}
	for key, val := range ec2.Options {
		switch key {
		case "instance":
			system.InstanceType = val.(string)
		case "dataspace":
			system.Dataspace = val.(uint)
		case "rootsize":
			system.Diskspace = val.(uint)
		case "profile":
			system.InstanceProfile = val.(string)
		case "ondemand":
			system.OnDemand = val.(bool)
		}
	}
	return system
}

// ExecOption implements Provider.ExecOption.
func (ec2 *EC2) ExecOption() (exec.Option, error) {
	return exec.Bigmachine(ec2.System()), nil
}

// SageMaker represents job execution as SageMaker processing jobs and
// pipelines.
type SageMaker struct {
	Compute exec.Compute
}

// Name implements Provider.Name.
func (*SageMaker) Name() string { return "sagemaker" }

// Set implements Provider.Set.
func (sm *SageMaker) Set(v string) error {
	key, val, err := keyValue(v)
	if err != nil {
		return err
	}
	switch key {
	case "image":
		sm.Compute.Image = val
	case "instance":
		sm.Compute.InstanceType = val
	case "role":
		sm.Compute.Role = val
	case "entrypoint":
		sm.Compute.Entrypoint = strings.Fields(val)
	case "count", "volume":
		i, err := strconv.Atoi(val)
		if err != nil || i <= 0 {
			return fmt.Errorf("not a positive int: %v", val)
		}
		if key == "count" {
			sm.Compute.InstanceCount = i
		} else {
			sm.Compute.VolumeSizeGB = i
		}
	case "runtime":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("not a duration: %v", val)
		}
		sm.Compute.MaxRuntime = d
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// DefaultParallelism implements Provider.DefaultParallelism.
func (*SageMaker) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// ExecOption implements Provider.ExecOption. The SageMaker client is
// configured from the environment's shared AWS configuration.
func (sm *SageMaker) ExecOption() (exec.Option, error) {
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("sagemaker: %v", err)
	}
	return exec.WithSubmitter(exec.NewSageMakerSession(sess, sm.Compute)), nil
}

func keyValue(v string) (key, val string, err error) {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("not in key=val format %q", v)
	}
	return parts[0], parts[1], nil
}

func init() {
	RegisterSubmitterProvider("local", func() Provider { return &Local{} })
	RegisterSubmitterProvider("bigmachine", func() Provider { return &Bigmachine{} })
	RegisterSubmitterProvider("ec2", func() Provider { return &EC2{} })
	RegisterSubmitterProvider("sagemaker", func() Provider { return &SageMaker{} })
}

// SubmitterHelpShort is a short explanation of the allowed
// SubmitterFlag values.
func SubmitterHelpShort(prefix string) string {
	const format = `a pathway submitter is specified as follows: {local,bigmachine,ec2:[key=val,],sagemaker:[key=val,],name}, use -%s for more information.`
	return fmt.Sprintf(format, prefix+"submitter-help")
}

// SubmitterHelpLong is a complete explanation of the allowed
// SubmitterFlag values.
const SubmitterHelpLong = `A pathway submitter is specified as follows:

<submitter-type>:<options> where options is [key=value,]+

The currently supported submitter types and their options are as follows:

local: in-process execution, the default.
bigmachine: same machine, separate process execution.
ec2: bigmachine execution on AWS EC2 instances. The supported options are:
	instance=<AWS instance type> - the AWS instance type, e.g. m4.xlarge
	dataspace=<number> - size of the data volume in GiB, typically /mnt/data.
	rootsize=<number> - size of the root volume in GiB.
	ondemand - true to use on-demand rather than spot instances
	profile - the aws instance profile to use instead of a default
sagemaker: SageMaker processing jobs and pipelines. The supported options are:
	image=<URI> - the container image that runs jobs
	instance=<instance type> - the instance type, e.g. ml.m5.xlarge
	role=<ARN> - the execution role assumed by jobs
	entrypoint=<command> - the command that runs the entry point in the image
	count=<number> - the number of instances per job
	volume=<number> - size of each job's scratch volume in GB
	runtime=<duration> - the maximum running time of each job, e.g. 24h

In addition, an application may register 'profiles' that are shorthand
for the above, eg. "train-gpu" can be configured as a synonym for
sagemaker:instance=ml.p3.2xlarge.
`

// SubmitterFlag represents a flag that can be used to specify a
// pathway submitter.
type SubmitterFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String
func (sf *SubmitterFlag) String() string {
	if sf.Provider == nil {
		return ""
	}
	if len(sf.Options) == 0 {
		return sf.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", sf.Provider.Name(), strings.Join(sf.Options, ","))
}

// Set implements flag.Value.Set
func (sf *SubmitterFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}

	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	newProvider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported submitter or profile type: %v", name)
	}
	provider := newProvider()
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sf.Options = options
	sf.Provider = provider
	sf.Specified = true
	return nil
}

// Get implements flag.Value.Get
func (sf *SubmitterFlag) Get() interface{} {
	return sf.String()
}

// Flags represents all of the flags that can be used to configure
// a pathway command.
type Flags struct {
	Submitter     SubmitterFlag
	SubmitterHelp bool
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	Parallelism   int
	ScratchRoot   string
	EnvDef        string
	TracePath     string
	fs            *flag.FlagSet
}

// Output returns an appropriate io.Writer for printing out help/usage
// messages as per the underlying flag.Flagset.
func (pf *Flags) Output() io.Writer {
	if pf.fs == nil {
		return os.Stderr
	}
	if wr := pf.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// RegisterFlags registers the pathway command line flags with the
// supplied flag set. The flag names will be prefixed with the supplied
// prefix.
func RegisterFlags(fs *flag.FlagSet, pf *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, pf, prefix, Defaults{
		Submitter:   "local",
		HTTPAddress: ":3333",
	})
}

// ExecOptions parses the flag values and returns a slice of
// exec.Options that represent the actions specified by those flags.
func (pf *Flags) ExecOptions() ([]exec.Option, error) {
	if pf.Submitter.Provider == nil {
		return nil, fmt.Errorf("no submitter specified")
	}
	var jobStatus status.Status
	// Ensure the submitter's group is displayed first.
	_ = jobStatus.Group(pf.Submitter.Provider.Name())
	_ = jobStatus.Groups()

	submitter, err := pf.Submitter.Provider.ExecOption()
	if err != nil {
		return nil, err
	}
	options := []exec.Option{exec.Status(&jobStatus), submitter}
	if pf.Parallelism > 0 {
		options = append(options, exec.Parallelism(pf.Parallelism))
	} else {
		options = append(options, exec.Parallelism(pf.Submitter.Provider.DefaultParallelism()))
	}
	if pf.ScratchRoot != "" {
		options = append(options, exec.ScratchRoot(pf.ScratchRoot))
	}
	if pf.EnvDef != "" {
		options = append(options, exec.EnvDef(pf.EnvDef))
	}
	if pf.TracePath != "" {
		options = append(options, exec.TracePath(pf.TracePath))
	}
	return options, nil
}

// Defaults represents default values for the supported flags.
type Defaults struct {
	Submitter     string
	HTTPAddress   string
	ConsoleStatus bool
	Parallelism   int
	ScratchRoot   string
}

// RegisterFlagsWithDefaults registers the pathway command line flags
// with the supplied flag set and defaults. The flag names will be
// prefixed with the supplied prefix.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, pf *Flags, prefix string, defaults Defaults) {
	fs.Var(&pf.Submitter, prefix+"submitter", SubmitterHelpShort(prefix))
	if err := pf.Submitter.Set(defaults.Submitter); err != nil {
		log.Panicf("invalid default submitter %q: %v", defaults.Submitter, err)
	}
	pf.Submitter.Specified = false
	fs.Var(&pf.HTTPAddress, prefix+"http", "address of http status server")
	pf.HTTPAddress.Set(defaults.HTTPAddress)
	pf.HTTPAddress.Specified = false
	fs.BoolVar(&pf.ConsoleStatus, prefix+"console-status", defaults.ConsoleStatus, "print status to stdout")
	fs.IntVar(&pf.Parallelism, prefix+"parallelism", defaults.Parallelism, "maximum number of concurrently running local jobs and uploads, 0 requests an appropriate default for the submitter")
	fs.StringVar(&pf.ScratchRoot, prefix+"scratch-root", defaults.ScratchRoot, "URI under which job scratch prefixes are allocated")
	fs.StringVar(&pf.EnvDef, prefix+"env-def", "", "environment definition file uploaded with each job")
	fs.StringVar(&pf.TracePath, prefix+"trace", "", "path at which to write a job trace on shutdown")
	fs.BoolVar(&pf.SubmitterHelp, prefix+"submitter-help", false, "provide help on submitter providers and profiles")
	pf.fs = fs
}
