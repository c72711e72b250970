package backup

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend implements Backend for Google Cloud Storage. Object writers
// commit on Close, so an abandoned write leaves no readable partial object.
type GCSBackend struct {
	client     *storage.Client
	bucketName string
}

// NewGCSBackend creates a new GCSBackend instance
func NewGCSBackend(ctx context.Context, config *GCSConfig) (*GCSBackend, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// Use default credentials (e.g., from environment or metadata server)
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewConfigurationError("failed to create GCS client", err)
	}

	return &GCSBackend{
		client:     client,
		bucketName: config.Bucket,
	}, nil
}

// Put streams the object to GCS and commits it on writer close
func (gb *GCSBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, NewValidationError("storage key cannot be empty", nil)
	}

	object := gb.client.Bucket(gb.bucketName).Object(sanitizeObjectKey(key))
	writer := object.NewWriter(ctx)

	size, err := io.Copy(writer, r)
	if err != nil {
		writer.Close()
		return 0, NewStorageWriteError(fmt.Sprintf("failed to write object %s to GCS", key), err)
	}
	if err := writer.Close(); err != nil {
		return 0, NewStorageWriteError(fmt.Sprintf("failed to finalize object %s on GCS", key), err)
	}
	return size, nil
}

// Get opens the object at key for reading
func (gb *GCSBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, NewValidationError("storage key cannot be empty", nil)
	}

	reader, err := gb.client.Bucket(gb.bucketName).Object(sanitizeObjectKey(key)).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageReadError(fmt.Sprintf("failed to download object %s from GCS", key), err)
	}
	return reader, nil
}

// List returns objects under the given key prefix
func (gb *GCSBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := gb.client.Bucket(gb.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageReadError("failed to list objects from GCS", err)
		}
		objects = append(objects, ObjectInfo{
			Key:      attrs.Name,
			Size:     attrs.Size,
			Modified: attrs.Updated.UTC(),
		})
	}
	return objects, nil
}

// Delete removes the object at key
func (gb *GCSBackend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return NewValidationError("storage key cannot be empty", nil)
	}

	err := gb.client.Bucket(gb.bucketName).Object(sanitizeObjectKey(key)).Delete(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return NewStorageWriteError(fmt.Sprintf("failed to delete object %s from GCS", key), err)
	}
	return nil
}

// Exists reports whether an object is present at key
func (gb *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, NewValidationError("storage key cannot be empty", nil)
	}

	_, err := gb.client.Bucket(gb.bucketName).Object(sanitizeObjectKey(key)).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, NewStorageReadError(fmt.Sprintf("failed to stat object %s", key), err)
	}
	return true, nil
}

// Type returns the provider type
func (gb *GCSBackend) Type() StorageProviderType {
	return StorageProviderGCS
}

// HealthCheck verifies the bucket is accessible
func (gb *GCSBackend) HealthCheck(ctx context.Context) error {
	_, err := gb.client.Bucket(gb.bucketName).Attrs(ctx)
	if err != nil {
		return NewStorageReadError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

// Close releases the underlying GCS client
func (gb *GCSBackend) Close() error {
	return gb.client.Close()
}
