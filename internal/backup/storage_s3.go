package backup

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Backend implements Backend for Amazon S3. Uploads go through the
// multipart upload manager, which aborts the upload on failure so no
// readable partial object is left at the key.
type S3Backend struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Backend creates a new S3Backend instance
func NewS3Backend(config *S3Config) (*S3Backend, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		),
	})
	if err != nil {
		return nil, NewConfigurationError("failed to create AWS session", err)
	}

	return &S3Backend{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
	}, nil
}

// Put streams the object to S3 via multipart upload
func (sb *S3Backend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, NewValidationError("storage key cannot be empty", nil)
	}

	counted := &countingReader{src: r}
	_, err := sb.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sanitizeObjectKey(key)),
		Body:   counted,
	})
	if err != nil {
		return 0, NewStorageWriteError(fmt.Sprintf("failed to upload object %s to S3", key), err)
	}
	return counted.n, nil
}

// Get opens the object at key for reading
func (sb *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, NewValidationError("storage key cannot be empty", nil)
	}

	result, err := sb.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sanitizeObjectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageReadError(fmt.Sprintf("failed to download object %s from S3", key), err)
	}
	return result.Body, nil
}

// List returns objects under the given key prefix
func (sb *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := sb.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sb.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:      aws.StringValue(obj.Key),
				Size:     aws.Int64Value(obj.Size),
				Modified: aws.TimeValue(obj.LastModified).UTC(),
			})
		}
		return true
	})

	if err != nil {
		return nil, NewStorageReadError("failed to list objects from S3", err)
	}
	return objects, nil
}

// Delete removes the object at key
func (sb *S3Backend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return NewValidationError("storage key cannot be empty", nil)
	}

	objectKey := sanitizeObjectKey(key)

	// S3 DeleteObject succeeds for missing keys, so check presence first
	exists, err := sb.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return NewNotFoundError(fmt.Sprintf("object %s not found", key), nil)
	}

	_, err = sb.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return NewStorageWriteError(fmt.Sprintf("failed to delete object %s from S3", key), err)
	}
	return nil
}

// Exists reports whether an object is present at key
func (sb *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, NewValidationError("storage key cannot be empty", nil)
	}

	_, err := sb.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sanitizeObjectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, NewStorageReadError(fmt.Sprintf("failed to stat object %s", key), err)
	}
	return true, nil
}

// Type returns the provider type
func (sb *S3Backend) Type() StorageProviderType {
	return StorageProviderS3
}

// HealthCheck verifies the bucket is accessible and listable
func (sb *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := sb.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(sb.bucket),
	})
	if err != nil {
		return NewStorageReadError("S3 health check failed: bucket not accessible", err)
	}

	_, err = sb.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(sb.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewStorageReadError("S3 health check failed: cannot list objects", err)
	}
	return nil
}

// GetBucket returns the S3 bucket name
func (sb *S3Backend) GetBucket() string {
	return sb.bucket
}

// sanitizeObjectKey removes characters unsafe for object keys
func sanitizeObjectKey(key string) string {
	sanitized := strings.ReplaceAll(key, " ", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	return sanitized
}

// isS3NotFound reports whether err is an S3 missing-object error
func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

type countingReader struct {
	src io.Reader
	n   int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.src.Read(p)
	cr.n += int64(n)
	return n, err
}
