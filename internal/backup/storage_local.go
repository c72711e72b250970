package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBackend implements Backend for local file system storage.
// Writes go to a temporary file in the same directory and are renamed into
// place on completion, so a crashed Put never leaves a readable partial
// object at the final key.
type LocalBackend struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalBackend creates a new LocalBackend instance
func NewLocalBackend(config *LocalConfig) (*LocalBackend, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	backend := &LocalBackend{
		basePath:    config.BasePath,
		permissions: config.Permissions,
	}

	if err := os.MkdirAll(backend.basePath, backend.permissions); err != nil {
		return nil, NewStorageWriteError(fmt.Sprintf("failed to create base directory %s", backend.basePath), err)
	}

	return backend, nil
}

// Put writes the stream to a temporary file and renames it into place
func (lb *LocalBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, NewValidationError("storage key cannot be empty", nil)
	}

	finalPath := lb.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), lb.permissions); err != nil {
		return 0, NewStorageWriteError("failed to create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".put-*")
	if err != nil {
		return 0, NewStorageWriteError("failed to create temporary file", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	size, err := copyWithContext(ctx, tmp, r)
	if err != nil {
		cleanup()
		return 0, err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, NewStorageWriteError("failed to sync object data", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, NewStorageWriteError("failed to close temporary file", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, NewStorageWriteError("failed to finalize object", err)
	}

	return size, nil
}

// Get opens the object at key for reading
func (lb *LocalBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, NewValidationError("storage key cannot be empty", nil)
	}

	file, err := os.Open(lb.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageReadError(fmt.Sprintf("failed to open object %s", key), err)
	}
	return file, nil
}

// List returns objects under the given key prefix, sorted by key
func (lb *LocalBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.WalkDir(lb.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}

		rel, err := filepath.Rel(lb.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:      key,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})

	if err != nil {
		return nil, NewStorageReadError("failed to list objects", err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

// Delete removes the object at key
func (lb *LocalBackend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return NewValidationError("storage key cannot be empty", nil)
	}

	path := lb.objectPath(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return NewStorageWriteError(fmt.Sprintf("failed to delete object %s", key), err)
	}
	return nil
}

// Exists reports whether an object is present at key
func (lb *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, NewValidationError("storage key cannot be empty", nil)
	}

	_, err := os.Stat(lb.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewStorageReadError(fmt.Sprintf("failed to stat object %s", key), err)
	}
	return true, nil
}

// Type returns the provider type
func (lb *LocalBackend) Type() StorageProviderType {
	return StorageProviderLocal
}

// HealthCheck verifies the base directory is writable and readable
func (lb *LocalBackend) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lb.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return NewStorageWriteError("health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageReadError("health check failed: cannot read from base directory", err)
	}
	os.Remove(testFile)
	return nil
}

// GetBasePath returns the base path for the backend
func (lb *LocalBackend) GetBasePath() string {
	return lb.basePath
}

// objectPath maps a storage key to a file path under the base directory
func (lb *LocalBackend) objectPath(key string) string {
	sanitized := strings.ReplaceAll(key, "..", "_")
	return filepath.Join(lb.basePath, filepath.FromSlash(sanitized))
}

// copyWithContext copies r to w in bounded chunks, honoring cancellation
func copyWithContext(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, builderChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, NewStorageWriteError("write cancelled", err)
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, NewStorageWriteError("failed to write object data", writeErr)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			if _, ok := readErr.(*OrchestrationError); ok {
				return total, readErr
			}
			return total, NewStorageReadError("failed to read object stream", readErr)
		}
	}
}
