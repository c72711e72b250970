package backup

import (
	"context"
	"fmt"
)

// BackendFactory creates storage backends based on configuration
type BackendFactory struct{}

// NewBackendFactory creates a new storage backend factory
func NewBackendFactory() *BackendFactory {
	return &BackendFactory{}
}

// CreateBackend creates a storage backend based on the storage configuration
func (bf *BackendFactory) CreateBackend(ctx context.Context, config StorageConfig) (Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalBackend(config.Local)

	case StorageProviderS3:
		return NewS3Backend(config.S3)

	case StorageProviderAzure:
		return NewAzureBackend(config.Azure)

	case StorageProviderGCS:
		return NewGCSBackend(ctx, config.GCS)

	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns a list of supported storage provider types
func (bf *BackendFactory) GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}

// ValidateStorageConfig validates a storage configuration without creating the backend
func (bf *BackendFactory) ValidateStorageConfig(config StorageConfig) error {
	return config.Validate()
}
