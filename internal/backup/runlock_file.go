package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileLocker implements Locker with lease files on the local file system.
// Acquisition relies on O_EXCL create; an expired lease file is removed and
// acquisition retried once, so a crashed holder only blocks until its TTL.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a FileLocker storing leases under dir
func NewFileLocker(dir string) (*FileLocker, error) {
	if dir == "" {
		return nil, NewValidationError("lock directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, NewStorageWriteError("failed to create lock directory", err)
	}
	return &FileLocker{dir: dir}, nil
}

// Acquire takes the lock for resource
func (fl *FileLocker) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error) {
	if resource == "" || owner == "" {
		return nil, NewValidationError("resource and owner are required", nil)
	}

	now := time.Now().UTC()
	lease := &Lease{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, NewLockContentionError("lock acquisition cancelled", err)
		}

		err := fl.writeLease(lease, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
		if err == nil {
			return lease, nil
		}
		if !os.IsExist(err) {
			return nil, NewStorageWriteError("failed to write lease file", err)
		}

		current, readErr := fl.readLease(resource)
		if readErr != nil {
			return nil, readErr
		}
		if current != nil && !current.Expired(now) {
			return nil, NewLockContentionError(
				fmt.Sprintf("lock for %s held by %s until %s", resource, current.Owner, current.ExpiresAt.Format(time.RFC3339)), nil).
				WithContext("resource", resource).
				WithContext("holder", current.Owner)
		}

		// expired or unreadable lease: take it over
		os.Remove(fl.leasePath(resource))
	}

	return nil, NewLockContentionError(fmt.Sprintf("failed to acquire lock for %s", resource), nil)
}

// Renew extends the lease held by owner
func (fl *FileLocker) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error) {
	current, err := fl.readLease(resource)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Owner != owner {
		return nil, NewLockContentionError(fmt.Sprintf("lock for %s is not held by %s", resource, owner), nil)
	}

	current.ExpiresAt = time.Now().UTC().Add(ttl)
	if err := fl.writeLease(current, os.O_CREATE|os.O_TRUNC|os.O_WRONLY); err != nil {
		return nil, NewStorageWriteError("failed to renew lease file", err)
	}
	return current, nil
}

// Release drops the lease held by owner
func (fl *FileLocker) Release(ctx context.Context, resource, owner string) error {
	current, err := fl.readLease(resource)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.Owner != owner {
		return NewLockContentionError(fmt.Sprintf("lock for %s is held by %s, not %s", resource, current.Owner, owner), nil)
	}

	if err := os.Remove(fl.leasePath(resource)); err != nil && !os.IsNotExist(err) {
		return NewStorageWriteError("failed to remove lease file", err)
	}
	return nil
}

// Get returns the current lease for resource, or nil if unheld or expired
func (fl *FileLocker) Get(ctx context.Context, resource string) (*Lease, error) {
	current, err := fl.readLease(resource)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return current, nil
}

func (fl *FileLocker) leasePath(resource string) string {
	sanitized := strings.ReplaceAll(resource, "/", "_")
	return filepath.Join(fl.dir, sanitized+".lock")
}

func (fl *FileLocker) writeLease(lease *Lease, flags int) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(fl.leasePath(lease.Resource), flags, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return err
	}
	return file.Sync()
}

func (fl *FileLocker) readLease(resource string) (*Lease, error) {
	data, err := os.ReadFile(fl.leasePath(resource))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageReadError("failed to read lease file", err)
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		// unreadable lease files are treated as expired
		return nil, nil
	}
	return &lease, nil
}
