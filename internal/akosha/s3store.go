package akosha

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements ObjectStore over the AWS S3 API. A custom endpoint
// supports S3-compatible backends.
type S3Store struct {
	client *s3.Client
	bucket string
	// partSize is the multipart upload threshold and part size in bytes.
	partSize int64
}

// NewS3Store builds a client from the ambient AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if !cfg.CloudConfigured() {
		return nil, errors.New("no bucket configured")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:   client,
		bucket:   cfg.BucketName,
		partSize: int64(cfg.ChunkSizeMB) * 1024 * 1024,
	}, nil
}

// Put stores one object, switching to a multipart upload when the body
// exceeds the configured part size.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if s.partSize > 0 && int64(len(body)) > s.partSize {
		return s.putMultipart(ctx, key, body, contentType)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) putMultipart(ctx context.Context, key string, body []byte, contentType string) error {
	create, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	var completed []types.CompletedPart
	for offset, num := int64(0), int32(1); offset < int64(len(body)); num++ {
		end := offset + s.partSize
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		part, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   create.UploadId,
			PartNumber: aws.Int32(num),
			Body:       bytes.NewReader(body[offset:end]),
		})
		if err != nil {
			_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(s.bucket),
				Key:      aws.String(key),
				UploadId: create.UploadId,
			})
			return fmt.Errorf("upload part %d: %w", num, err)
		}
		completed = append(completed, types.CompletedPart{ETag: part.ETag, PartNumber: aws.Int32(num)})
		offset = end
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        create.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	return err
}

func (s *S3Store) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
