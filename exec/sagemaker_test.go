// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/pathway"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testExecutionARN = "arn:aws:sagemaker:us-east-2:123456789012:pipeline/train/execution/abc123"

// fakeSageMaker implements the subset of the SageMaker API used by
// the submitter.
type fakeSageMaker struct {
	sagemakeriface.SageMakerAPI

	mu          sync.Mutex
	jobs        map[string]*sagemaker.CreateProcessingJobInput
	statuses    []string
	reason      string
	started     time.Time
	pipelines   map[string]string
	updates     int
	executions  int
	stopped     []string
	describeErr error
}

func newFakeSageMaker() *fakeSageMaker {
	return &fakeSageMaker{
		jobs:      make(map[string]*sagemaker.CreateProcessingJobInput),
		pipelines: make(map[string]string),
	}
}

// next returns the next status in the fake's status sequence; the
// last status repeats.
func (f *fakeSageMaker) next() string {
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return status
}

func (f *fakeSageMaker) CreateProcessingJobWithContext(ctx aws.Context, input *sagemaker.CreateProcessingJobInput, _ ...request.Option) (*sagemaker.CreateProcessingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.StringValue(input.ProcessingJobName)
	if _, ok := f.jobs[name]; ok {
		return nil, awserr.New(sagemaker.ErrCodeResourceInUse, "job exists", nil)
	}
	f.jobs[name] = input
	return &sagemaker.CreateProcessingJobOutput{
		ProcessingJobArn: aws.String("arn:aws:sagemaker:us-east-2:123456789012:processing-job/" + name),
	}, nil
}

func (f *fakeSageMaker) DescribeProcessingJobWithContext(ctx aws.Context, input *sagemaker.DescribeProcessingJobInput, _ ...request.Option) (*sagemaker.DescribeProcessingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.describeErr; err != nil {
		f.describeErr = nil
		return nil, err
	}
	if _, ok := f.jobs[aws.StringValue(input.ProcessingJobName)]; !ok {
		return nil, awserr.New(sagemaker.ErrCodeResourceNotFound, "no such job", nil)
	}
	out := &sagemaker.DescribeProcessingJobOutput{ProcessingJobStatus: aws.String(f.next())}
	if !f.started.IsZero() {
		out.ProcessingStartTime = aws.Time(f.started)
	}
	if f.reason != "" {
		out.FailureReason = aws.String(f.reason)
	}
	return out, nil
}

func (f *fakeSageMaker) StopProcessingJobWithContext(ctx aws.Context, input *sagemaker.StopProcessingJobInput, _ ...request.Option) (*sagemaker.StopProcessingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, aws.StringValue(input.ProcessingJobName))
	return &sagemaker.StopProcessingJobOutput{}, nil
}

func (f *fakeSageMaker) CreatePipelineWithContext(ctx aws.Context, input *sagemaker.CreatePipelineInput, _ ...request.Option) (*sagemaker.CreatePipelineOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.StringValue(input.PipelineName)
	if _, ok := f.pipelines[name]; ok {
		return nil, awserr.New(sagemaker.ErrCodeResourceInUse, "pipeline exists", nil)
	}
	f.pipelines[name] = aws.StringValue(input.PipelineDefinition)
	return &sagemaker.CreatePipelineOutput{}, nil
}

func (f *fakeSageMaker) UpdatePipelineWithContext(ctx aws.Context, input *sagemaker.UpdatePipelineInput, _ ...request.Option) (*sagemaker.UpdatePipelineOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.pipelines[aws.StringValue(input.PipelineName)] = aws.StringValue(input.PipelineDefinition)
	return &sagemaker.UpdatePipelineOutput{}, nil
}

func (f *fakeSageMaker) StartPipelineExecutionWithContext(ctx aws.Context, input *sagemaker.StartPipelineExecutionInput, _ ...request.Option) (*sagemaker.StartPipelineExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions++
	return &sagemaker.StartPipelineExecutionOutput{PipelineExecutionArn: aws.String(testExecutionARN)}, nil
}

func (f *fakeSageMaker) DescribePipelineExecutionWithContext(ctx aws.Context, input *sagemaker.DescribePipelineExecutionInput, _ ...request.Option) (*sagemaker.DescribePipelineExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &sagemaker.DescribePipelineExecutionOutput{PipelineExecutionStatus: aws.String(f.next())}, nil
}

func (f *fakeSageMaker) StopPipelineExecutionWithContext(ctx aws.Context, input *sagemaker.StopPipelineExecutionInput, _ ...request.Option) (*sagemaker.StopPipelineExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, aws.StringValue(input.PipelineExecutionArn))
	return &sagemaker.StopPipelineExecutionOutput{}, nil
}

var testCompute = Compute{
	Image:        "123456789012.dkr.ecr.us-east-2.amazonaws.com/pathway:latest",
	InstanceType: "ml.m5.xlarge",
	Role:         "arn:aws:iam::123456789012:role/pathway",
}

func newTestSageMaker(api *fakeSageMaker) *SageMakerSubmitter {
	s := NewSageMaker(api, testCompute)
	s.PollPolicy = retry.Backoff(time.Millisecond, time.Millisecond, 1)
	return s
}

func TestSageMakerSubmit(t *testing.T) {
	ctx := context.Background()
	api := newFakeSageMaker()
	s := newTestSageMaker(api)
	spec := JobSpec{
		Name:    "train-2023-05-01-12-00-00-000-abcdef",
		Func:    "train",
		Command: pathway.CommandLine{"--func-code", "s3://b/train/func.bin", "--rate", "0.1"},
		Compute: Compute{InstanceCount: 2, MaxRuntime: time.Hour},
	}
	assert.NoError(t, s.Submit(ctx, spec))
	input := api.jobs[spec.Name]
	if input == nil {
		t.Fatal("job not created")
	}
	expect.EQ(t, aws.StringValue(input.AppSpecification.ImageUri), testCompute.Image)
	expect.EQ(t, aws.StringValueSlice(input.AppSpecification.ContainerEntrypoint), DefaultEntrypoint)
	expect.EQ(t, aws.StringValueSlice(input.AppSpecification.ContainerArguments), []string(spec.Command))
	cluster := input.ProcessingResources.ClusterConfig
	expect.EQ(t, aws.StringValue(cluster.InstanceType), "ml.m5.xlarge")
	expect.EQ(t, aws.Int64Value(cluster.InstanceCount), int64(2))
	expect.EQ(t, aws.Int64Value(cluster.VolumeSizeInGB), int64(30))
	expect.EQ(t, aws.Int64Value(input.StoppingCondition.MaxRuntimeInSeconds), int64(3600))
	expect.EQ(t, aws.StringValue(input.RoleArn), testCompute.Role)
}

func TestSageMakerSubmitInvalid(t *testing.T) {
	s := NewSageMaker(newFakeSageMaker(), Compute{})
	err := s.Submit(context.Background(), JobSpec{Name: "nop", Command: pathway.CommandLine{"--func-code", "s3://b/f"}})
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("got %v, want invalid", err)
	}
}

func TestSageMakerStatus(t *testing.T) {
	ctx := context.Background()
	api := newFakeSageMaker()
	s := newTestSageMaker(api)
	assert.NoError(t, s.Submit(ctx, JobSpec{Name: "job", Command: pathway.CommandLine{"--func-code", "s3://b/f"}}))
	for _, c := range []struct {
		status string
		want   JobStatus
	}{
		{sagemaker.ProcessingJobStatusInProgress, Running},
		{sagemaker.ProcessingJobStatusStopping, Running},
		{sagemaker.ProcessingJobStatusCompleted, Completed},
		{sagemaker.ProcessingJobStatusFailed, Failed},
		{sagemaker.ProcessingJobStatusStopped, Stopped},
	} {
		api.statuses = []string{c.status}
		got, err := s.Status(ctx, "job")
		assert.NoError(t, err)
		expect.EQ(t, got, c.want)
	}
	_, err := s.Status(ctx, "no-such-job")
	if !errors.Is(errors.NotExist, err) {
		t.Fatalf("got %v, want not exist", err)
	}
}

func TestSageMakerDescribe(t *testing.T) {
	ctx := context.Background()
	api := newFakeSageMaker()
	s := newTestSageMaker(api)
	assert.NoError(t, s.Submit(ctx, JobSpec{Name: "job", Command: pathway.CommandLine{"--func-code", "s3://b/f"}}))
	api.statuses = []string{sagemaker.ProcessingJobStatusFailed}
	api.reason = "AlgorithmError: exit status 1"
	api.started = time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	job := newJob("job", nil, s)
	d, err := job.Describe(ctx)
	assert.NoError(t, err)
	expect.EQ(t, d.Name, "job")
	expect.EQ(t, d.Status, Failed)
	expect.EQ(t, d.Reason, "AlgorithmError: exit status 1")
	expect.EQ(t, d.Started, api.started)
	expect.True(t, d.Ended.IsZero())

	_, err = s.Describe(ctx, "no-such-job")
	if !errors.Is(errors.NotExist, err) {
		t.Fatalf("got %v, want not exist", err)
	}
}

func TestSageMakerWait(t *testing.T) {
	ctx := context.Background()
	api := newFakeSageMaker()
	s := newTestSageMaker(api)
	assert.NoError(t, s.Submit(ctx, JobSpec{Name: "job", Command: pathway.CommandLine{"--func-code", "s3://b/f"}}))

	api.statuses = []string{
		sagemaker.ProcessingJobStatusInProgress,
		sagemaker.ProcessingJobStatusInProgress,
		sagemaker.ProcessingJobStatusCompleted,
	}
	// Transient errors are retried.
	api.describeErr = awserr.New("ThrottlingException", "slow down", nil)
	assert.NoError(t, s.Wait(ctx, "job"))

	api.statuses = []string{sagemaker.ProcessingJobStatusInProgress, sagemaker.ProcessingJobStatusFailed}
	api.reason = "AlgorithmError: exit status 1"
	err := s.Wait(ctx, "job")
	if err == nil || !strings.Contains(err.Error(), "AlgorithmError") {
		t.Fatalf("got %v, want failure reason", err)
	}

	// Other errors are not.
	api.describeErr = awserr.New("AccessDeniedException", "denied", nil)
	err = s.Wait(ctx, "job")
	if !errors.Is(errors.NotAllowed, err) {
		t.Fatalf("got %v, want not allowed", err)
	}

	api.statuses = []string{sagemaker.ProcessingJobStatusInProgress}
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx, "job"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSageMakerPipeline(t *testing.T) {
	ctx := context.Background()
	api := newFakeSageMaker()
	s := newTestSageMaker(api)
	p := testPipeline(
		&Step{Name: "split-1", Func: "split", Command: pathway.CommandLine{"--func-code", "s3://b/split/func.bin"}},
		&Step{Name: "train-1", Func: "train", Command: pathway.CommandLine{"--func-code", "s3://b/train/func.bin"},
			DependsOn: []string{"split-1"}, Compute: Compute{InstanceType: "ml.p3.2xlarge"}},
	)
	name, err := s.SubmitPipeline(ctx, p)
	assert.NoError(t, err)
	expect.EQ(t, name, testExecutionARN)
	expect.EQ(t, api.executions, 1)

	var def struct {
		Version string
		Steps   []struct {
			Name      string
			Type      string
			DependsOn []string
			Arguments struct {
				AppSpecification struct {
					ImageUri           string
					ContainerArguments []string
				}
				ProcessingResources struct {
					ClusterConfig struct {
						InstanceType  string
						InstanceCount int
					}
				}
				ProcessingJobName *string
			}
		}
	}
	assert.NoError(t, json.Unmarshal([]byte(api.pipelines["test"]), &def))
	expect.EQ(t, def.Version, "2020-12-01")
	expect.EQ(t, len(def.Steps), 2)
	expect.EQ(t, def.Steps[0].Name, "split-1")
	expect.EQ(t, def.Steps[0].Type, "Processing")
	expect.EQ(t, def.Steps[0].Arguments.AppSpecification.ImageUri, testCompute.Image)
	expect.EQ(t, def.Steps[0].Arguments.AppSpecification.ContainerArguments, []string{"--func-code", "s3://b/split/func.bin"})
	expect.EQ(t, def.Steps[0].Arguments.ProcessingResources.ClusterConfig.InstanceType, "ml.m5.xlarge")
	expect.EQ(t, def.Steps[0].Arguments.ProcessingJobName, (*string)(nil))
	expect.EQ(t, def.Steps[1].DependsOn, []string{"split-1"})
	expect.EQ(t, def.Steps[1].Arguments.ProcessingResources.ClusterConfig.InstanceType, "ml.p3.2xlarge")

	// Resubmission updates the existing pipeline.
	_, err = s.SubmitPipeline(ctx, p)
	assert.NoError(t, err)
	expect.EQ(t, api.updates, 1)
	expect.EQ(t, api.executions, 2)

	api.statuses = []string{
		sagemaker.PipelineExecutionStatusExecuting,
		sagemaker.PipelineExecutionStatusSucceeded,
	}
	assert.NoError(t, s.Wait(ctx, name))
	api.statuses = []string{sagemaker.PipelineExecutionStatusStopped}
	status, err := s.Status(ctx, name)
	assert.NoError(t, err)
	expect.EQ(t, status, Stopped)

	assert.NoError(t, s.Stop(ctx, name))
	assert.NoError(t, s.Stop(ctx, "job"))
	expect.EQ(t, api.stopped, []string{testExecutionARN, "job"})
}

func TestSageMakerSession(t *testing.T) {
	api := newFakeSageMaker()
	sess := Start(WithSubmitter(newTestSageMaker(api)), ScratchRoot("exectest://scratch/sagemaker"), Store(testMem))
	defer sess.Shutdown()
	ctx := context.Background()
	job, err := sess.Run(ctx, testScale, 2.0)
	assert.NoError(t, err)
	input := api.jobs[job.Name()]
	if input == nil {
		t.Fatalf("job %s not created", job.Name())
	}
	args := aws.StringValueSlice(input.AppSpecification.ContainerArguments)
	expect.EQ(t, args[0], "--func-code")
	expect.EQ(t, args[1], FuncCodeURI("exectest://scratch/sagemaker/"+job.Name()))

	api.statuses = []string{sagemaker.ProcessingJobStatusInProgress}
	_, err = job.Result().Resolve(ctx)
	if !pathway.Is(pathway.NotReady, err) {
		t.Fatalf("got %v, want not ready", err)
	}
	// Run the entry point as the container would.
	assert.NoError(t, Invoke(ctx, args, testMem))
	api.statuses = []string{sagemaker.ProcessingJobStatusCompleted}
	v, err := job.Result().Resolve(ctx)
	assert.NoError(t, err)
	expect.EQ(t, v, []float64{2, 4})
}

func TestPipelineName(t *testing.T) {
	expect.EQ(t, pipelineName("train_pipeline"), "train-pipeline")
	expect.EQ(t, pipelineName("_a.b_"), "a-b")
}
