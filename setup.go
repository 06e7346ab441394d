package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/petems/go-s3-sitesync/internal/storage"
)

const defaultRegion = "us-east-1"

// awsConfigOptions translates the options into config loader options.
func awsConfigOptions(o *options) []func(*config.LoadOptions) error {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(3),
	}

	if o.Region != "" {
		configOpts = append(configOpts, config.WithRegion(o.Region))
	}

	if o.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(o.Profile))
	}

	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}

	return configOpts
}

// newAWSConfig loads the AWS config with the default credential chain (shared
// credentials, env vars, EC2 role) and checks that credentials are available.
func newAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, awsConfigOptions(o)...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, fmt.Errorf("unable to initialize AWS credentials - please check environment: %w", err)
	}

	return cfg, nil
}

// s3ClientOptions points the client at a custom endpoint when one is set.
func s3ClientOptions(o *options) func(*s3.Options) {
	return func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.PathStyle
	}
}

func newStorageClient(ctx context.Context, o *options) (store, error) {
	cfg, err := newAWSConfig(ctx, o)
	if err != nil {
		return nil, err
	}
	return storage.NewClient(cfg, s3ClientOptions(o)), nil
}
