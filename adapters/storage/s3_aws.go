package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// awsS3Wrapper adapts *s3.Client to the S3Client port, the real
// implementation behind the injection seam the teacher left as a
// comment-only integration guide.
type awsS3Wrapper struct {
	client *s3.Client
}

// NewRealS3Client builds an S3Client backed by aws-sdk-go-v2, honoring a
// custom endpoint and path-style addressing for S3-compatible stores
// (MinIO, localstack), matching image_storage.py's boto3 client setup.
func NewRealS3Client(ctx context.Context, cfg S3Config) (S3Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &awsS3Wrapper{client: client}, nil
}

func (w *awsS3Wrapper) PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   &bucket,
		Key:      &key,
		Body:     body,
		Metadata: meta,
	})
	return err
}

func (w *awsS3Wrapper) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := w.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (w *awsS3Wrapper) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := w.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key})
	return err
}

func (w *awsS3Wrapper) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, err
}
