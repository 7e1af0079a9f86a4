// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/iam/iamiface"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"

	// We bring these in so we can show the user all the defaults when
	// writing the profile.
	_ "github.com/grailbio/base/config/aws"
	_ "github.com/grailbio/pathway/exec"
	"github.com/grailbio/pathway/pathwayconfig"
)

// sageMakerTrustPolicy permits SageMaker to assume the role.
const sageMakerTrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Service": "sagemaker.amazonaws.com"},
    "Action": "sts:AssumeRole"
  }]
}`

// sageMakerPolicies are the managed policies attached to a new role.
var sageMakerPolicies = []string{
	"arn:aws:iam::aws:policy/AmazonSageMakerFullAccess",
	"arn:aws:iam::aws:policy/AmazonS3FullAccess",
}

func setupSageMakerUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: pathway setup-sagemaker -scratch-root uri -image uri [-role name]

Command setup-sagemaker sets up an IAM role so that pathway programs
can run jobs on SageMaker. Once complete, the resulting configuration is
written to the pathway configuration file at `, pathwayconfig.Path, `.
If a configuration file already exists, then it is modified in place.

If a role with the given name already exists, no new role is created,
but the configuration is modified to use that role. New roles may be
assumed by SageMaker and are granted the following managed policies:

	AmazonSageMakerFullAccess
	AmazonS3FullAccess

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func setupSageMakerCmd(args []string) {
	var (
		flags        = flag.NewFlagSet("pathway setup-sagemaker", flag.ExitOnError)
		role         = flags.String("role", "pathway-sagemaker", "name of the IAM role to set up")
		scratchRoot  = flags.String("scratch-root", "", "the S3 prefix under which job scratch prefixes are allocated")
		image        = flags.String("image", "", "the container image that runs jobs")
		instanceType = flags.String("instance-type", "ml.m5.xlarge", "the instance type on which jobs run")
	)
	flags.Usage = func() { setupSageMakerUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 || *scratchRoot == "" || *image == "" {
		flags.Usage()
	}

	profile := config.New()
	f, err := os.Open(pathwayconfig.Path)
	if err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}

	sess, err := session.NewSession()
	must.Nil(err, "setting up AWS session")
	arn, err := setupSageMakerRole(iam.New(sess), *role)
	must.Nil(err, "setting up role")

	must.Nil(profile.Set("pathway.submitter", "sagemaker"))
	must.Nil(profile.Set("pathway.role", arn))
	must.Nil(profile.Set("pathway.scratch-root", *scratchRoot))
	must.Nil(profile.Set("pathway.image", *image))
	must.Nil(profile.Set("pathway.instance-type", *instanceType))
	var buf bytes.Buffer
	must.Nil(profile.PrintTo(&buf))
	must.Nil(os.MkdirAll(filepath.Dir(pathwayconfig.Path), 0777))
	must.Nil(ioutil.WriteFile(pathwayconfig.Path+".setup-sagemaker", buf.Bytes(), 0666))
	must.Nil(os.Rename(pathwayconfig.Path+".setup-sagemaker", pathwayconfig.Path))
	log.Print("wrote configuration to ", pathwayconfig.Path)
}

// setupSageMakerRole returns the ARN of the named role, creating it
// if it does not exist.
func setupSageMakerRole(svc iamiface.IAMAPI, name string) (string, error) {
	getResp, err := svc.GetRole(&iam.GetRoleInput{RoleName: aws.String(name)})
	if err == nil {
		arn := aws.StringValue(getResp.Role.Arn)
		log.Printf("found existing pathway role %s", arn)
		return arn, nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != iam.ErrCodeNoSuchEntityException {
		return "", fmt.Errorf("unable to query existing role %s: %v", name, err)
	}
	log.Printf("no existing pathway role %s found; creating new", name)
	createResp, err := svc.CreateRole(&iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(sageMakerTrustPolicy),
		Description:              aws.String("role automatically created by pathway setup-sagemaker"),
		Tags: []*iam.Tag{
			{Key: aws.String("pathway-role"), Value: aws.String("true")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error creating role %s: %v", name, err)
	}
	for _, policy := range sageMakerPolicies {
		log.Printf("attaching policy %s to role %s", policy, name)
		_, err := svc.AttachRolePolicy(&iam.AttachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: aws.String(policy),
		})
		if err != nil {
			return "", fmt.Errorf("failed to attach policy %s to role %s: %v", policy, name, err)
		}
	}
	arn := aws.StringValue(createResp.Role.Arn)
	log.Printf("created role %v", arn)
	return arn, nil
}
