// Package s3 serves an S3-compatible bucket as a remote store. Folder ids are
// key prefixes ending in "/", file ids are object keys.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/remote"
)

// Options configures the S3 client.
type Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// API is the subset of the S3 client used by Store.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store implements remote.Store over a bucket.
type Store struct {
	client API
	bucket string
}

// New loads AWS configuration and returns a store for opts.Bucket.
// Static credentials are used when an access key is given, otherwise the default chain.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewWithClient(client, opts.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// List implements remote.Store using a delimited listing of folderID.
func (s *Store) List(ctx context.Context, folderID string) ([]remote.Entry, error) {
	prefix := strings.TrimPrefix(folderID, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []remote.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(fmt.Sprintf("list %s", prefix), err)
		}

		for _, cp := range page.CommonPrefixes {
			p := aws.ToString(cp.Prefix)
			entries = append(entries, remote.Entry{
				ID:       p,
				Name:     path.Base(strings.TrimSuffix(p, "/")),
				IsFolder: true,
			})
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Folder marker objects
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, remote.Entry{
				ID:         key,
				Name:       path.Base(key),
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	return entries, nil
}

// Open implements remote.Store with a ranged GetObject.
func (s *Store) Open(ctx context.Context, remoteID string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remoteID),
	}

	if offset > 0 || length > 0 {
		if length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, mapError(fmt.Sprintf("get object %s", remoteID), err)
	}

	return out.Body, nil
}

func mapError(op string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return derrors.NewNonRetryableError(op, err)
	}

	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return derrors.NewNonRetryableError(op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidRange":
			return remote.ErrRangeNotSatisfiable
		case "AccessDenied", "NotFound", "NoSuchKey":
			return derrors.NewNonRetryableError(op, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
