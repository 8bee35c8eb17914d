// Package objstore adapts the durable object store behind ports.ObjectStore.
// The S3 adapter works against AWS S3 and S3-compatible services via a
// custom endpoint; the memory adapter backs tests and dry runs.
package objstore

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

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

const hashMetadataKey = "content-sha256"

// S3Config carries connection settings for the bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store implements ports.ObjectStore on an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

var _ ports.ObjectStore = (*S3Store)(nil)

// NewS3Store builds an S3 client. A non-empty endpoint switches to
// path-style addressing for MinIO-like services.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// List pages through every object under the prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]domain.Artifact, error) {
	var artifacts []domain.Artifact

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			artifact := domain.Artifact{
				StorageKey: aws.ToString(obj.Key),
				Size:       aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				artifact.StoredAt = *obj.LastModified
			}
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

// Exists checks the key with a HEAD request.
func (s *S3Store) Exists(ctx context.Context, storageKey string) (bool, error) {
	_, err := s.head(ctx, storageKey)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", storageKey, err)
	}
	return true, nil
}

// Put uploads the content unless the key already holds it. The stored
// fingerprint travels as object metadata, so a re-upload of identical bytes
// is recognized without downloading, and a different fingerprint on the same
// key fails with ErrKeyConflict instead of overwriting.
func (s *S3Store) Put(ctx context.Context, storageKey, contentHash, contentType string, body []byte) error {
	existing, err := s.head(ctx, storageKey)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("head before put %s: %w", storageKey, err)
	}
	if err == nil {
		storedHash := existing.Metadata[hashMetadataKey]
		if storedHash == contentHash {
			return nil
		}
		return fmt.Errorf("%w: key %s stored=%s new=%s",
			domain.ErrKeyConflict, storageKey, storedHash, contentHash)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(storageKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{hashMetadataKey: contentHash},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", storageKey, err)
	}
	return nil
}

func (s *S3Store) head(ctx context.Context, storageKey string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noKey)
}
