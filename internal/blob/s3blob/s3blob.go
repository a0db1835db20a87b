// Package s3blob implements internal/blob.Store on S3, using the AWS SDK
// v2 client/config/credentials packages the teacher's dependency stack
// carries for blob storage.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

// Store implements blob.Store against a single S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// Config configures a Store. Region and Endpoint follow the usual AWS SDK
// conventions; AccessKeyID/SecretAccessKey are optional and fall back to the
// default credential chain (env vars, shared config, instance role) when
// empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// New builds a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket must not be empty")
	}

	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) key(tenantID, faceID string) string {
	return fmt.Sprintf("%s/%s", tenantID, faceID)
}

// Put uploads raw under tenantID/faceID and returns its s3:// reference.
func (s *Store) Put(ctx context.Context, tenantID, faceID string, raw []byte) (string, error) {
	key := s.key(tenantID, faceID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get fetches the object referenced by imageRef.
func (s *Store) Get(ctx context.Context, imageRef string) ([]byte, error) {
	bucket, key, err := parseRef(imageRef)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", imageRef, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes the object referenced by imageRef. A missing object is
// not treated as an error.
func (s *Store) Delete(ctx context.Context, imageRef string) error {
	bucket, key, err := parseRef(imageRef)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return nil
	}
	return fmt.Errorf("s3 delete %s: %w", imageRef, err)
}

func parseRef(imageRef string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(imageRef, "s3://")
	if !ok {
		return "", "", fmt.Errorf("s3blob: malformed image_ref %q", imageRef)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3blob: malformed image_ref %q", imageRef)
	}
	return bucket, key, nil
}
