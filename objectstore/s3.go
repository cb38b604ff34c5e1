package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Store is the production Store, backed by aws-sdk-go-v2's S3 client.
type S3Store struct {
	client *s3.Client
}

// NewS3Store wraps an already-configured S3 client (region, credentials and
// endpoint resolution are config.LoadDefaultConfig's job, performed by
// cmd/hbee at startup, not by this package).
func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) Head(ctx context.Context, bucket, key string) (uint64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classify(key, err)
	}
	if out.ContentLength == nil {
		return 0, &Error{Kind: Fatal, Key: key, Cause: fmt.Errorf("head response missing content length")}
	}
	return uint64(*out.ContentLength), nil
}

func (s *S3Store) GetRange(ctx context.Context, bucket, key string, offset, length uint64) ([]byte, error) {
	byteRange := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(byteRange),
	})
	if err != nil {
		return nil, classify(key, err)
	}
	defer out.Body.Close()
	buf := make([]byte, length)
	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return nil, classify(key, err)
	}
	return buf, nil
}

// classify maps an AWS SDK error to Retryable or Fatal. Auth failures and
// not-found codes are Fatal; everything else (throttling, connection
// resets, 5xx) is treated as Retryable. Checksum mismatches have no case of
// their own and are therefore classified Retryable.
func classify(key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return &Error{Kind: Fatal, Key: key, Cause: err}
		}
	}
	return &Error{Kind: Retryable, Key: key, Cause: err}
}
