// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/pathway"
	"github.com/grailbio/pathway/metrics"
	"github.com/grailbio/pathway/store"
)

// MemoryScratchRoot is the scratch root used by local sessions that
// are not configured with a store.
const MemoryScratchRoot = "store://pathway/scratch"

// Session is a pathway job submission session. A session combines a
// submitter, which runs jobs, with the object store through which
// jobs exchange their func references, arguments, and return values.
//
// Funcs invoked through a session must be registered (pathway.Func)
// in every binary that may run them, in a deterministic order; this
// is provided by default when funcs are registered as part of package
// initialization:
//
//	var Train = pathway.Func("train", func(rate float64, data pathway.Input) (*Model, error) {
//		...
//	}, pathway.Arg("rate"), pathway.Arg("data"))
//
//	func main() {
//		sess := exec.Start(exec.Local)
//		job, err := sess.Run(ctx, Train, 0.1, pathway.Input{Path: "s3://bucket/data"})
//		...
//		if err := job.Wait(ctx); err != nil {
//			log.Fatal(err)
//		}
//		model, err := job.Result().Resolve(ctx)
//	}
//
// A session also maintains a stack of pipelines under assembly. While
// a pipeline is current, Run records a pipeline step instead of
// submitting a job; the finished pipeline is submitted as a single
// dependency graph by RunPipeline.
type Session struct {
	index        int32
	newSubmitter func(s *Session) Submitter
	local        bool
	submitter    Submitter
	shutdown     func()

	store       store.Store
	scratchRoot string
	envDef      string
	compute     Compute
	p           int
	status      *status.Status
	eventer     eventlog.Eventer
	now         func() time.Time
	tracePath   string
	tracer      *tracer

	mu    sync.Mutex
	stack []*Pipeline
	jobs  []*Job
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local, in-process submitter.
var Local Option = func(s *Session) {
	s.local = true
	s.newSubmitter = func(s *Session) Submitter {
		return NewLocal(s.store, s.p)
	}
}

// Bigmachine configures a session using the bigmachine submitter
// configured with the provided system. If any params are provided,
// they are applied to each machine allocated for a job.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.local = false
		s.newSubmitter = func(*Session) Submitter {
			return NewBigmachine(system, params...)
		}
	}
}

// WithSubmitter configures a session with the provided submitter.
func WithSubmitter(submitter Submitter) Option {
	return func(s *Session) {
		s.local = false
		s.newSubmitter = func(*Session) Submitter { return submitter }
	}
}

// Store configures the object store used by the session.
func Store(st store.Store) Option {
	return func(s *Session) {
		s.store = st
	}
}

// ScratchRoot configures the URI under which each job's scratch
// prefix is allocated.
func ScratchRoot(root string) Option {
	return func(s *Session) {
		s.scratchRoot = root
	}
}

// Parallelism configures the session with the provided parallelism:
// the number of jobs run concurrently by the local submitter, and the
// number of concurrent argument uploads.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// WithCompute configures the compute settings of the jobs submitted
// by the session.
func WithCompute(c Compute) Option {
	return func(s *Session) {
		s.compute = c
	}
}

// EnvDef configures an environment definition that is uploaded with
// each job and handed to the remote bootstrapper.
func EnvDef(path string) Option {
	return func(s *Session) {
		s.envDef = path
	}
}

// Status configures the session with a status object to which job
// statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
		dump.Register(fmt.Sprintf("pathway-%02d-status", s.index), func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// Eventer configures the session with an Eventer that will be used to
// log session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// TracePath configures the path to which a trace event file for the
// session's jobs will be written on shutdown.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

// Clock configures the clock used to name jobs.
func Clock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// nextSessionIndex is the index of the next session started by Start.
var nextSessionIndex int32

// starter is implemented by submitters that need to be started with
// the session.
type starter interface {
	Start(sess *Session) (shutdown func())
}

// Start creates and starts a new session, configuring it according
// to the provided options. If no submitter is configured, the session
// uses the local submitter. Sessions without a configured store use
// an in-memory store when local, and store.Default otherwise, with
// transient errors retried.
func Start(options ...Option) *Session {
	s := &Session{
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
		now:     time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.p == 0 {
		s.p = 1
	}
	if s.newSubmitter == nil {
		Local(s)
	}
	if s.store == nil {
		if s.local && s.scratchRoot == "" {
			s.store = store.NewMemory()
		} else {
			s.store = store.WithRetry(store.Default, nil)
		}
	}
	if s.scratchRoot == "" {
		if _, ok := s.store.(*store.Memory); ok {
			s.scratchRoot = MemoryScratchRoot
		} else {
			s.scratchRoot = filepath.Join(os.TempDir(), "pathway")
		}
	}
	s.submitter = s.newSubmitter(s)
	s.tracer = newTracer()
	dump.Register(fmt.Sprintf("pathway-%02d-trace", s.index), func(ctx context.Context, w io.Writer) error {
		return s.tracer.Marshal(w)
	})
	if st, ok := s.submitter.(starter); ok {
		s.shutdown = st.Start(s)
	}
	s.eventer.Event("pathway:sessionStart",
		"command", command(),
		"submitter", s.submitter.Name(),
		"scratchRoot", s.scratchRoot,
		"parallelism", s.p)
	return s
}

// Shutdown tears down resources associated with this session. It
// should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
	s.eventer.Event("pathway:sessionEnd", "submitter", s.submitter.Name())
	if s.tracePath != "" {
		writeTraceFile(s.tracer, s.tracePath)
	}
}

// Submitter returns the session's submitter.
func (s *Session) Submitter() Submitter { return s.submitter }

// ObjectStore returns the session's object store.
func (s *Session) ObjectStore() store.Store { return s.store }

// ScratchRoot returns the root under which job scratch prefixes are
// allocated.
func (s *Session) ScratchRoot() string { return s.scratchRoot }

// Parallelism returns the session's parallelism.
func (s *Session) Parallelism() int { return s.p }

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status { return s.status }

// Jobs returns the jobs and pipeline executions submitted by the
// session, in submission order.
func (s *Session) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

// Run invokes func fn remotely with the provided positional arguments.
// Outside of a pipeline, the invocation is submitted as a job, and Run
// returns without waiting for it. While a pipeline is current, the
// invocation is recorded as a step of that pipeline; the returned job
// is pending until the pipeline is run.
//
// Arguments are marshaled according to fn's parameter table:
// external channels and literals are passed on the command line, the
// results of completed jobs (and of steps of the current pipeline) are
// passed by reference, and other values are uploaded to the job's
// scratch prefix.
func (s *Session) Run(ctx context.Context, fn *pathway.FuncValue, args ...interface{}) (*Job, error) {
	b, err := fn.Bind(args...)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, b)
}

// RunNamed is like Run, but binds arguments by parameter name.
// Parameters with defaults may be omitted.
func (s *Session) RunNamed(ctx context.Context, fn *pathway.FuncValue, args map[string]interface{}) (*Job, error) {
	b, err := fn.BindNamed(args)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, b)
}

// Must is a version of Run that panics if submission fails.
func (s *Session) Must(ctx context.Context, fn *pathway.FuncValue, args ...interface{}) *Job {
	job, err := s.Run(ctx, fn, args...)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return job
}

func (s *Session) run(ctx context.Context, b pathway.Binding) (*Job, error) {
	fn := b.Func()
	p := s.CurrentPipeline()
	var opts pathway.ClassifyOptions
	if p != nil {
		opts.Step = p.stepOf
	}
	args, err := pathway.Classify(ctx, b, opts)
	if err != nil {
		return nil, err
	}
	name := JobName(fn.Name(), s.now())
	prefix := store.Join(s.scratchRoot, name)
	cmd, err := Marshal(ctx, s.store, fn, args, prefix, MarshalOptions{EnvDef: s.envDef, Parallelism: s.p})
	if err != nil {
		return nil, err
	}
	var (
		channels []Channel
		deps     []string
		seen     = make(map[string]bool)
	)
	for _, arg := range args {
		switch {
		case arg.Kind == pathway.ArgExternal:
			channels = append(channels, Channel{
				Param:  arg.Param.Name,
				Path:   arg.Text,
				Output: arg.Param.Kind == pathway.ParamOutput,
			})
		case arg.Kind == pathway.ArgRef && arg.Step != "" && !seen[arg.Step]:
			seen[arg.Step] = true
			deps = append(deps, arg.Step)
		}
	}
	job := newJob(name, fn, nil)
	if typ, ok := fn.Returns(); ok {
		job.result = newResult(job, ReturnURI(prefix), typ, s.store)
	}

	if p != nil {
		p.Append(&Step{
			Name:      name,
			Func:      fn.Name(),
			Command:   cmd,
			Channels:  channels,
			DependsOn: deps,
			Compute:   s.compute,
			job:       job,
		})
		log.Debug.Printf("pipeline %s: recorded step %s: %s", p.Name(), name, cmd)
		return job, nil
	}

	job.submitter = s.submitter
	spec := JobSpec{
		Name:     name,
		Func:     fn.Name(),
		Command:  cmd,
		Channels: channels,
		Compute:  s.compute,
	}
	if err := s.submitter.Submit(ctx, spec); err != nil {
		metrics.Submissions.WithLabelValues(s.submitter.Name(), "job", "error").Inc()
		return nil, errors.E("submit "+name, err)
	}
	metrics.Submissions.WithLabelValues(s.submitter.Name(), "job", "ok").Inc()
	s.eventer.Event("pathway:submit",
		"job", name,
		"func", fn.Name(),
		"submitter", s.submitter.Name())
	log.Printf("submitted job %s: %s", name, cmd)
	s.track(job)
	return job, nil
}

// track records a submitted job. If the session reports status or
// writes a trace, track also follows the job until it terminates.
func (s *Session) track(job *Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	if s.status == nil && s.tracePath == "" {
		return
	}
	submitter := s.submitter.Name()
	if fn := job.Func(); fn != nil {
		s.tracer.Event(submitter, job, "B", "func", fn.Name())
	} else {
		s.tracer.Event(submitter, job, "B")
	}
	var task *status.Task
	if s.status != nil {
		task = s.status.Group("pathway jobs").Start(job.Name())
		task.Print("submitted")
	}
	go func() {
		err := job.Wait(backgroundcontext.Get())
		outcome := "completed"
		if err != nil {
			outcome = err.Error()
		}
		s.tracer.Event(submitter, job, "E", "outcome", outcome)
		if task != nil {
			task.Print(outcome)
			task.Done()
		}
	}()
}

// A PipelineScope is a pipeline made current by Session.EnterPipeline.
// Each scope must be exited exactly once; Exit restores the pipeline
// that was current when the scope was entered.
type PipelineScope struct {
	sess     *Session
	pipeline *Pipeline
	depth    int
	once     sync.Once
}

// EnterPipeline pushes a new, empty pipeline with the provided name
// onto the session's pipeline stack, making it current. Scopes nest:
// exiting the returned scope restores the enclosing pipeline, if any.
//
// Scopes should be exited on every path, typically with a deferred
// call to Exit. Session.Pipeline does this on the caller's behalf.
func (s *Session) EnterPipeline(name string) *PipelineScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := NewPipeline(name)
	s.stack = append(s.stack, p)
	log.Debug.Printf("enter pipeline %s (depth %d)", name, len(s.stack))
	return &PipelineScope{sess: s, pipeline: p, depth: len(s.stack)}
}

// Pipeline returns the scope's pipeline.
func (c *PipelineScope) Pipeline() *Pipeline { return c.pipeline }

// Exit pops the scope's pipeline from the session's pipeline stack and
// returns it. Exit may be called more than once; only the first call
// pops. Exit panics if the scope is not the innermost scope of the
// session.
func (c *PipelineScope) Exit() *Pipeline {
	c.once.Do(func() {
		s := c.sess
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.stack) != c.depth || s.stack[c.depth-1] != c.pipeline {
			panic(fmt.Sprintf("exec: unbalanced exit of pipeline %s", c.pipeline.Name()))
		}
		s.stack[c.depth-1] = nil
		s.stack = s.stack[:c.depth-1]
		log.Debug.Printf("exit pipeline %s (%d steps)", c.pipeline.Name(), c.pipeline.Len())
	})
	return c.pipeline
}

// CurrentPipeline returns the innermost pipeline under assembly, or
// nil if there is none.
func (s *Session) CurrentPipeline() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Pipeline assembles a pipeline with the provided name: it enters a
// new pipeline scope, calls build, and exits the scope, whether build
// returns normally, fails, or panics. The assembled pipeline is
// returned if build succeeds. It may then be submitted with
// RunPipeline.
func (s *Session) Pipeline(ctx context.Context, name string, build func(ctx context.Context) error) (*Pipeline, error) {
	scope := s.EnterPipeline(name)
	defer scope.Exit()
	if err := build(ctx); err != nil {
		return nil, err
	}
	return scope.Pipeline(), nil
}

// RunPipeline submits pipeline p to the session's submitter as a
// single dependency graph. The returned job represents the pipeline
// execution; the jobs of the pipeline's steps report its status, and
// their results may be resolved once it has completed.
func (s *Session) RunPipeline(ctx context.Context, p *Pipeline) (*Job, error) {
	s.mu.Lock()
	for _, q := range s.stack {
		if q == p {
			s.mu.Unlock()
			return nil, pathway.Errorf(pathway.Config, "run pipeline "+p.Name(), "pipeline is still under assembly")
		}
	}
	s.mu.Unlock()
	name, err := s.submitter.SubmitPipeline(ctx, p)
	if err != nil {
		metrics.Submissions.WithLabelValues(s.submitter.Name(), "pipeline", "error").Inc()
		return nil, errors.E("submit pipeline "+p.Name(), err)
	}
	metrics.Submissions.WithLabelValues(s.submitter.Name(), "pipeline", "ok").Inc()
	job := newJob(name, nil, s.submitter)
	for _, step := range p.Steps() {
		if step.job != nil {
			step.job.bind(job)
		}
	}
	s.eventer.Event("pathway:pipeline",
		"pipeline", p.Name(),
		"execution", name,
		"steps", p.Len(),
		"submitter", s.submitter.Name())
	log.Printf("submitted pipeline %s (%d steps) as %s", p.Name(), p.Len(), name)
	s.track(job)
	return job, nil
}

// HandleDebug registers the session's debug handlers on handler:
// /debug/jobs lists submitted jobs with their current status,
// /debug/trace renders the job trace, and /metrics serves the pathway
// metrics.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	handler.Handle("/metrics", metrics.Handler())
	handler.HandleFunc("/debug/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "application/json; charset=utf-8")
		if err := s.tracer.Marshal(w); err != nil {
			log.Error.Printf("exec.Session: /debug/trace: marshal: %v", err)
		}
	})
	handler.HandleFunc("/debug/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		jobs := s.Jobs()
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Name() < jobs[j].Name() })
		for _, job := range jobs {
			d, err := job.Describe(r.Context())
			switch {
			case err != nil:
				fmt.Fprintf(w, "%s\terror: %v\n", job.Name(), err)
			case d.Reason != "":
				fmt.Fprintf(w, "%s\t%s\t%s\n", job.Name(), d.Status, d.Reason)
			default:
				fmt.Fprintf(w, "%s\t%s\n", job.Name(), d.Status)
			}
		}
	})
}
