package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureBackend implements Backend for Azure Blob Storage. Block blob uploads
// commit atomically on the final block list, so an aborted upload leaves no
// readable partial blob.
type AzureBackend struct {
	containerURL  azblob.ContainerURL
	containerName string
}

// NewAzureBackend creates a new AzureBackend instance
func NewAzureBackend(config *AzureConfig) (*AzureBackend, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewConfigurationError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewConfigurationError("failed to parse Azure service URL", err)
	}

	return &AzureBackend{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
	}, nil
}

// Put streams the blob to Azure via staged block upload
func (ab *AzureBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, NewValidationError("storage key cannot be empty", nil)
	}

	counted := &countingReader{src: r}
	blobURL := ab.containerURL.NewBlockBlobURL(sanitizeObjectKey(key))

	_, err := azblob.UploadStreamToBlockBlob(ctx, counted, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: builderChunkSize,
		MaxBuffers: 4,
	})
	if err != nil {
		return 0, NewStorageWriteError(fmt.Sprintf("failed to upload blob %s to Azure", key), err)
	}
	return counted.n, nil
}

// Get opens the blob at key for reading
func (ab *AzureBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, NewValidationError("storage key cannot be empty", nil)
	}

	blobURL := ab.containerURL.NewBlockBlobURL(sanitizeObjectKey(key))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageReadError(fmt.Sprintf("failed to download blob %s from Azure", key), err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

// List returns blobs under the given key prefix
func (ab *AzureBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listBlob, err := ab.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, NewStorageReadError("failed to list blobs from Azure", err)
		}
		marker = listBlob.NextMarker

		for _, blob := range listBlob.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			objects = append(objects, ObjectInfo{
				Key:      blob.Name,
				Size:     size,
				Modified: blob.Properties.LastModified.UTC(),
			})
		}
	}
	return objects, nil
}

// Delete removes the blob at key
func (ab *AzureBackend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return NewValidationError("storage key cannot be empty", nil)
	}

	blobURL := ab.containerURL.NewBlockBlobURL(sanitizeObjectKey(key))
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if isAzureNotFound(err) {
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return NewStorageWriteError(fmt.Sprintf("failed to delete blob %s from Azure", key), err)
	}
	return nil
}

// Exists reports whether a blob is present at key
func (ab *AzureBackend) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, NewValidationError("storage key cannot be empty", nil)
	}

	blobURL := ab.containerURL.NewBlockBlobURL(sanitizeObjectKey(key))
	_, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, NewStorageReadError(fmt.Sprintf("failed to stat blob %s", key), err)
	}
	return true, nil
}

// Type returns the provider type
func (ab *AzureBackend) Type() StorageProviderType {
	return StorageProviderAzure
}

// HealthCheck verifies the container is accessible
func (ab *AzureBackend) HealthCheck(ctx context.Context) error {
	_, err := ab.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return NewStorageReadError("Azure health check failed: container not accessible", err)
	}
	return nil
}

// isAzureNotFound reports whether err is an Azure missing-blob error
func isAzureNotFound(err error) bool {
	if storageErr, ok := err.(azblob.StorageError); ok {
		code := storageErr.ServiceCode()
		return code == azblob.ServiceCodeBlobNotFound || code == azblob.ServiceCodeResourceNotFound
	}
	return false
}
