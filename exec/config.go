// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/config"
	// Provides the "aws" session instance.
	_ "github.com/grailbio/base/config/aws"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/pathway/store"
)

func init() {
	config.Register("pathway", func(constr *config.Constructor) {
		var (
			submitter   string
			system      bigmachine.System
			awsSession  *session.Session
			scratchRoot string
			envDef      string
			parallelism int
			entrypoint  string
			maxRuntime  string
			compute     Compute
			minio       store.MinIOConfig
		)
		constr.StringVar(&submitter, "submitter", "local", "the job submitter: local, bigmachine, or sagemaker")
		constr.InstanceVar(&system, "system", "", "the bigmachine system used by the bigmachine submitter")
		constr.InstanceVar(&awsSession, "aws", "aws", "the AWS session used by the sagemaker submitter")
		constr.StringVar(&scratchRoot, "scratch-root", "", "the URI under which job scratch prefixes are allocated")
		constr.StringVar(&envDef, "env-def", "", "an environment definition uploaded with each job")
		constr.IntVar(&parallelism, "parallelism", 8, "local job and upload parallelism")
		constr.StringVar(&compute.Image, "image", "", "the container image that runs jobs")
		constr.StringVar(&compute.InstanceType, "instance-type", "ml.m5.xlarge", "the instance type on which jobs run")
		constr.IntVar(&compute.InstanceCount, "instance-count", 1, "the number of instances per job")
		constr.StringVar(&compute.Role, "role", "", "the role assumed by jobs")
		constr.StringVar(&entrypoint, "entrypoint", "", "the space-separated command that runs the entry point in the image")
		constr.IntVar(&compute.VolumeSizeGB, "volume-size", 30, "the size, in GB, of each job's scratch volume")
		constr.StringVar(&maxRuntime, "max-runtime", "", "the maximum running time of a job, e.g., 24h")
		constr.StringVar(&minio.Endpoint, "minio-endpoint", "", "if set, the endpoint of a MinIO server serving minio:// URIs")
		constr.StringVar(&minio.AccessKey, "minio-access-key", "", "the MinIO access key")
		constr.StringVar(&minio.SecretKey, "minio-secret-key", "", "the MinIO secret key")
		constr.BoolVar(&minio.UseSSL, "minio-ssl", true, "whether to connect to MinIO over TLS")
		constr.Doc = "pathway configures the pathway job submission runtime"
		constr.New = func() (interface{}, error) {
			if entrypoint != "" {
				compute.Entrypoint = strings.Fields(entrypoint)
			}
			if maxRuntime != "" {
				d, err := time.ParseDuration(maxRuntime)
				if err != nil {
					return nil, fmt.Errorf("pathway.max-runtime: %v", err)
				}
				compute.MaxRuntime = d
			}
			if minio.Endpoint != "" {
				st, err := store.NewMinIO(minio)
				if err != nil {
					return nil, err
				}
				store.Register(store.MinIOScheme, st)
			}
			options := []Option{
				Parallelism(parallelism),
				WithCompute(compute),
			}
			if scratchRoot != "" {
				options = append(options, ScratchRoot(scratchRoot))
			}
			if envDef != "" {
				options = append(options, EnvDef(envDef))
			}
			switch submitter {
			case "local":
				options = append(options, Local)
			case "bigmachine":
				if system == nil {
					system = bigmachine.Local
				}
				options = append(options, Bigmachine(system))
			case "sagemaker":
				if scratchRoot == "" {
					return nil, fmt.Errorf("pathway.scratch-root must be set for the sagemaker submitter")
				}
				options = append(options, WithSubmitter(NewSageMakerSession(awsSession, compute)))
			default:
				return nil, fmt.Errorf("pathway.submitter: unknown submitter %q", submitter)
			}
			return Start(options...), nil
		}
	})
}
