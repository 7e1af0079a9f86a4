// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/private/protocol/json/jsonutil"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
)

// DefaultPollPolicy is the policy with which SageMaker job statuses
// are polled by Wait.
var DefaultPollPolicy = retry.Backoff(5*time.Second, time.Minute, 1.5)

// DefaultEntrypoint is the command that runs the entry point in
// job images that do not override it.
var DefaultEntrypoint = []string{"pathway-runtime"}

const pipelineDefinitionVersion = "2020-12-01"

// SageMakerSubmitter is a submitter that runs jobs as SageMaker
// processing jobs and pipelines as SageMaker pipelines. Each job runs
// the configured image, whose entrypoint runs the pathway entry point
// with the job's command line.
type SageMakerSubmitter struct {
	// Compute holds the default compute settings. They are overridden
	// by the nonzero settings of each job.
	Compute Compute
	// PollPolicy is the retry policy that paces Wait's status polls.
	// DefaultPollPolicy is used if it is nil.
	PollPolicy retry.Policy

	api sagemakeriface.SageMakerAPI
}

// NewSageMaker returns a submitter that submits jobs through the
// provided SageMaker API client, with the provided default compute
// settings.
func NewSageMaker(api sagemakeriface.SageMakerAPI, defaults Compute) *SageMakerSubmitter {
	return &SageMakerSubmitter{Compute: defaults, api: api}
}

// NewSageMakerSession returns a submitter using a SageMaker client
// for the provided AWS session.
func NewSageMakerSession(sess *session.Session, defaults Compute) *SageMakerSubmitter {
	return NewSageMaker(sagemaker.New(sess), defaults)
}

// Name implements Submitter.
func (*SageMakerSubmitter) Name() string { return "sagemaker" }

func (s *SageMakerSubmitter) compute(c Compute) Compute {
	merged := s.Compute
	if c.Image != "" {
		merged.Image = c.Image
	}
	if c.InstanceType != "" {
		merged.InstanceType = c.InstanceType
	}
	if c.InstanceCount > 0 {
		merged.InstanceCount = c.InstanceCount
	}
	if c.Role != "" {
		merged.Role = c.Role
	}
	if len(c.Entrypoint) > 0 {
		merged.Entrypoint = c.Entrypoint
	}
	if c.VolumeSizeGB > 0 {
		merged.VolumeSizeGB = c.VolumeSizeGB
	}
	if c.MaxRuntime > 0 {
		merged.MaxRuntime = c.MaxRuntime
	}
	if merged.InstanceCount == 0 {
		merged.InstanceCount = 1
	}
	if merged.VolumeSizeGB == 0 {
		merged.VolumeSizeGB = 30
	}
	if len(merged.Entrypoint) == 0 {
		merged.Entrypoint = DefaultEntrypoint
	}
	return merged
}

// processingJobInput returns the processing job request for the
// provided job.
func (s *SageMakerSubmitter) processingJobInput(spec JobSpec) (*sagemaker.CreateProcessingJobInput, error) {
	c := s.compute(spec.Compute)
	switch {
	case c.Image == "":
		return nil, errors.E(errors.Invalid, fmt.Sprintf("job %s: no image configured", spec.Name))
	case c.InstanceType == "":
		return nil, errors.E(errors.Invalid, fmt.Sprintf("job %s: no instance type configured", spec.Name))
	case c.Role == "":
		return nil, errors.E(errors.Invalid, fmt.Sprintf("job %s: no role configured", spec.Name))
	}
	input := &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(spec.Name),
		AppSpecification: &sagemaker.AppSpecification{
			ImageUri:            aws.String(c.Image),
			ContainerEntrypoint: aws.StringSlice(c.Entrypoint),
			ContainerArguments:  aws.StringSlice(spec.Command),
		},
		ProcessingResources: &sagemaker.ProcessingResources{
			ClusterConfig: &sagemaker.ProcessingClusterConfig{
				InstanceType:   aws.String(c.InstanceType),
				InstanceCount:  aws.Int64(int64(c.InstanceCount)),
				VolumeSizeInGB: aws.Int64(int64(c.VolumeSizeGB)),
			},
		},
		RoleArn: aws.String(c.Role),
	}
	if c.MaxRuntime > 0 {
		input.StoppingCondition = &sagemaker.ProcessingStoppingCondition{
			MaxRuntimeInSeconds: aws.Int64(int64(c.MaxRuntime / time.Second)),
		}
	}
	return input, nil
}

// Submit implements Submitter.
func (s *SageMakerSubmitter) Submit(ctx context.Context, spec JobSpec) error {
	input, err := s.processingJobInput(spec)
	if err != nil {
		return err
	}
	if err := input.Validate(); err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("job %s", spec.Name), err)
	}
	out, err := s.api.CreateProcessingJobWithContext(ctx, input)
	if err != nil {
		return awsError("create processing job "+spec.Name, err)
	}
	log.Debug.Printf("created processing job %s", aws.StringValue(out.ProcessingJobArn))
	return nil
}

type pipelineDefinition struct {
	Version string         `json:"Version"`
	Steps   []pipelineStep `json:"Steps"`
}

type pipelineStep struct {
	Name      string          `json:"Name"`
	Type      string          `json:"Type"`
	DependsOn []string        `json:"DependsOn,omitempty"`
	Arguments json.RawMessage `json:"Arguments"`
}

// PipelineDefinition renders pipeline p as a SageMaker pipeline
// definition. Each step is a processing step; step dependencies are
// those of p's dependency graph.
func (s *SageMakerSubmitter) PipelineDefinition(p *Pipeline) ([]byte, error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	steps := make(map[string]*Step)
	for _, step := range p.Steps() {
		steps[step.Name] = step
	}
	def := pipelineDefinition{Version: pipelineDefinitionVersion}
	for _, name := range g.Order {
		input, err := s.processingJobInput(steps[name].Spec())
		if err != nil {
			return nil, err
		}
		// Pipelines name their processing jobs.
		input.ProcessingJobName = nil
		args, err := jsonutil.BuildJSON(input)
		if err != nil {
			return nil, err
		}
		def.Steps = append(def.Steps, pipelineStep{
			Name:      name,
			Type:      "Processing",
			DependsOn: g.Deps[name],
			Arguments: json.RawMessage(args),
		})
	}
	return json.Marshal(def)
}

// SubmitPipeline implements Submitter. The pipeline is created, or
// updated if it already exists, and then started. The returned name is
// the ARN of the pipeline execution.
func (s *SageMakerSubmitter) SubmitPipeline(ctx context.Context, p *Pipeline) (string, error) {
	def, err := s.PipelineDefinition(p)
	if err != nil {
		return "", err
	}
	name := pipelineName(p.Name())
	role := s.Compute.Role
	_, err = s.api.CreatePipelineWithContext(ctx, &sagemaker.CreatePipelineInput{
		PipelineName:       aws.String(name),
		PipelineDefinition: aws.String(string(def)),
		RoleArn:            aws.String(role),
		ClientRequestToken: aws.String(uuid.New().String()),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == sagemaker.ErrCodeResourceInUse {
		log.Debug.Printf("pipeline %s exists; updating", name)
		_, err = s.api.UpdatePipelineWithContext(ctx, &sagemaker.UpdatePipelineInput{
			PipelineName:       aws.String(name),
			PipelineDefinition: aws.String(string(def)),
			RoleArn:            aws.String(role),
		})
	}
	if err != nil {
		return "", awsError("create pipeline "+name, err)
	}
	out, err := s.api.StartPipelineExecutionWithContext(ctx, &sagemaker.StartPipelineExecutionInput{
		PipelineName:       aws.String(name),
		ClientRequestToken: aws.String(uuid.New().String()),
	})
	if err != nil {
		return "", awsError("start pipeline "+name, err)
	}
	return aws.StringValue(out.PipelineExecutionArn), nil
}

// Status implements Submitter. Names of pipeline executions are their
// ARNs; all other names are processing job names.
func (s *SageMakerSubmitter) Status(ctx context.Context, name string) (JobStatus, error) {
	d, err := s.Describe(ctx, name)
	return d.Status, err
}

// Describe implements Describer.
func (s *SageMakerSubmitter) Describe(ctx context.Context, name string) (Description, error) {
	d := Description{Name: name, Status: Pending}
	if isPipelineExecution(name) {
		out, err := s.api.DescribePipelineExecutionWithContext(ctx, &sagemaker.DescribePipelineExecutionInput{
			PipelineExecutionArn: aws.String(name),
		})
		if err != nil {
			return d, awsError("describe pipeline execution "+name, err)
		}
		d.Reason = aws.StringValue(out.FailureReason)
		d.Created = aws.TimeValue(out.CreationTime)
		d.Modified = aws.TimeValue(out.LastModifiedTime)
		switch aws.StringValue(out.PipelineExecutionStatus) {
		case sagemaker.PipelineExecutionStatusExecuting, sagemaker.PipelineExecutionStatusStopping:
			d.Status = Running
		case sagemaker.PipelineExecutionStatusSucceeded:
			d.Status = Completed
		case sagemaker.PipelineExecutionStatusFailed:
			d.Status = Failed
		case sagemaker.PipelineExecutionStatusStopped:
			d.Status = Stopped
		}
		return d, nil
	}
	out, err := s.api.DescribeProcessingJobWithContext(ctx, &sagemaker.DescribeProcessingJobInput{
		ProcessingJobName: aws.String(name),
	})
	if err != nil {
		return d, awsError("describe processing job "+name, err)
	}
	d.Reason = aws.StringValue(out.FailureReason)
	d.Created = aws.TimeValue(out.CreationTime)
	d.Started = aws.TimeValue(out.ProcessingStartTime)
	d.Ended = aws.TimeValue(out.ProcessingEndTime)
	d.Modified = aws.TimeValue(out.LastModifiedTime)
	switch aws.StringValue(out.ProcessingJobStatus) {
	case sagemaker.ProcessingJobStatusInProgress, sagemaker.ProcessingJobStatusStopping:
		d.Status = Running
	case sagemaker.ProcessingJobStatusCompleted:
		d.Status = Completed
	case sagemaker.ProcessingJobStatusFailed:
		d.Status = Failed
	case sagemaker.ProcessingJobStatusStopped:
		d.Status = Stopped
	}
	return d, nil
}

// Wait implements Submitter. Wait polls the job's status, pacing polls
// by the submitter's poll policy, until the job terminates or the
// context is done.
func (s *SageMakerSubmitter) Wait(ctx context.Context, name string) error {
	policy := s.PollPolicy
	if policy == nil {
		policy = DefaultPollPolicy
	}
	for retries := 0; ; retries++ {
		d, err := s.Describe(ctx, name)
		if err != nil && !errors.IsTemporary(err) {
			return err
		}
		if err == nil && d.Status.Terminal() {
			return statusError(name, d.Status, d.Reason)
		}
		if err != nil {
			log.Printf("wait %s: %v; retrying", name, err)
		}
		if err := retry.Wait(ctx, policy, retries); err != nil {
			return err
		}
	}
}

// Stop implements Submitter.
func (s *SageMakerSubmitter) Stop(ctx context.Context, name string) error {
	var err error
	if isPipelineExecution(name) {
		_, err = s.api.StopPipelineExecutionWithContext(ctx, &sagemaker.StopPipelineExecutionInput{
			PipelineExecutionArn: aws.String(name),
			ClientRequestToken:   aws.String(uuid.New().String()),
		})
	} else {
		_, err = s.api.StopProcessingJobWithContext(ctx, &sagemaker.StopProcessingJobInput{
			ProcessingJobName: aws.String(name),
		})
	}
	if err != nil {
		return awsError("stop "+name, err)
	}
	return nil
}

func isPipelineExecution(name string) bool {
	return strings.HasPrefix(name, "arn:") && strings.Contains(name, ":pipeline/")
}

// pipelineName returns a SageMaker pipeline name for name.
func pipelineName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, name)
	name = strings.Trim(name, "-")
	if len(name) > 256 {
		name = name[:256]
	}
	return name
}

// awsError maps SageMaker API errors to error kinds.
func awsError(op string, err error) error {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return errors.E(op, err)
	}
	switch code := aerr.Code(); {
	case code == sagemaker.ErrCodeResourceNotFound:
		return errors.E(errors.NotExist, op, err)
	case code == "AccessDeniedException":
		return errors.E(errors.NotAllowed, op, err)
	case code == "ThrottlingException", code == "ServiceUnavailable", code == "InternalFailure":
		return errors.E(errors.Unavailable, errors.Temporary, op, err)
	case code == "ValidationException", code == sagemaker.ErrCodeResourceLimitExceeded:
		return errors.E(errors.Invalid, op, err)
	default:
		return errors.E(op, err)
	}
}
