package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
)

// ObjectFetcher retrieves a whole object from object storage
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// ParameterStore retrieves decrypted secret parameters
type ParameterStore interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// s3API is the subset of the S3 client used here
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ssmAPI is the subset of the SSM client used here
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3Fetcher reads objects through the AWS SDK
type S3Fetcher struct {
	client s3API
}

// SSMParameterStore reads SecureString parameters through the AWS SDK
type SSMParameterStore struct {
	client ssmAPI
}

// LoadAWSConfig builds the shared AWS config. When roleARN is set the
// credentials are obtained by assuming that role with the ambient
// credentials, and cached until expiry.
func LoadAWSConfig(ctx context.Context, region, roleARN string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "gsuite-cloud-users-driver"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return cfg, nil
}

// NewS3Fetcher creates a fetcher for the source configuration
func NewS3Fetcher(ctx context.Context, cfg config.SourceConfig) (*S3Fetcher, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.AssumeRoleARN)
	if err != nil {
		return nil, err
	}
	return &S3Fetcher{client: s3.NewFromConfig(awsCfg)}, nil
}

// NewSSMParameterStore creates a parameter store using the ambient credentials
func NewSSMParameterStore(ctx context.Context, region string) (*SSMParameterStore, error) {
	awsCfg, err := LoadAWSConfig(ctx, region, "")
	if err != nil {
		return nil, err
	}
	return &SSMParameterStore{client: ssm.NewFromConfig(awsCfg)}, nil
}

// Fetch reads the whole object body
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fetchError(bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, readError(bucket, key, err)
	}
	return data, nil
}

// readError marks a body cut short mid-transfer as retryable
func readError(bucket, key string, err error) error {
	appErr := apperrors.NewErrorWithCause(apperrors.ErrSourceUnavailable, fmt.Sprintf("failed to read s3://%s/%s", bucket, key), err)
	appErr.Retryable = true
	return appErr
}

// fetchError marks throttling and server-side failures as retryable
func fetchError(bucket, key string, err error) error {
	appErr := apperrors.NewErrorWithCause(apperrors.ErrSourceUnavailable, fmt.Sprintf("failed to get s3://%s/%s", bucket, key), err)

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		appErr.StatusCode = status
		appErr.Retryable = status == http.StatusTooManyRequests || status >= 500
	}
	return appErr
}

// GetParameter reads and decrypts a parameter value
func (p *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}
