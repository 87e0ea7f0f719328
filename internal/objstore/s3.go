package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Store struct {
	client *s3.Client
}

// NewS3 builds a Store against an S3-compatible endpoint using static
// credentials. Path-style addressing is required for minio-style endpoints.
func NewS3(ctx context.Context, endpoint string, accessKey string, secretKey string) (Store, error) {
	cfg, errConfig := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if errConfig != nil {
		return nil, errors.Join(errConfig, ErrCreateBucket)
	}

	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.BaseEndpoint = aws.String(endpoint)
		options.UsePathStyle = true
	})

	return &s3Store{client: client}, nil
}

func (s *s3Store) GetObject(ctx context.Context, bucket string, key string) ([]byte, error) {
	output, errGet := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if errGet != nil {
		var noKey *types.NoSuchKey
		if errors.As(errGet, &noKey) {
			return nil, nil
		}

		return nil, errors.Join(errGet, ErrGet)
	}

	defer func() {
		_ = output.Body.Close()
	}()

	body, errRead := io.ReadAll(output.Body)
	if errRead != nil {
		return nil, errors.Join(errRead, ErrGet)
	}

	return body, nil
}

func (s *s3Store) PutObject(ctx context.Context, bucket string, key string, body []byte, acl string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}

	if acl != "" {
		input.ACL = types.ObjectCannedACL(acl)
	}

	if _, errPut := s.client.PutObject(ctx, input); errPut != nil {
		return errors.Join(errPut, ErrPut)
	}

	return nil
}

func (s *s3Store) ListBuckets(ctx context.Context) ([]string, error) {
	output, errList := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if errList != nil {
		return nil, errors.Join(errList, ErrList)
	}

	buckets := make([]string, 0, len(output.Buckets))
	for _, bucket := range output.Buckets {
		buckets = append(buckets, aws.ToString(bucket.Name))
	}

	return buckets, nil
}

func (s *s3Store) ListObjects(ctx context.Context, bucket string) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})

	for paginator.HasMorePages() {
		page, errPage := paginator.NextPage(ctx)
		if errPage != nil {
			return nil, errors.Join(errPage, ErrList)
		}

		for _, item := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(item.Key),
				Size: aws.ToInt64(item.Size),
			})
		}
	}

	return objects, nil
}

func (s *s3Store) DeleteObject(ctx context.Context, bucket string, key string) error {
	if _, errDelete := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); errDelete != nil {
		return errors.Join(errDelete, ErrDelete)
	}

	return nil
}

func (s *s3Store) CreateBucket(ctx context.Context, bucket string) error {
	if _, errCreate := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}); errCreate != nil {
		var owned *types.BucketAlreadyOwnedByYou

		var exists *types.BucketAlreadyExists

		if errors.As(errCreate, &owned) || errors.As(errCreate, &exists) {
			return nil
		}

		return errors.Join(errCreate, ErrCreateBucket)
	}

	return nil
}
