package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// a manifest lock file untouched for this long belongs to a dead process
	manifestLockStale = 10 * time.Second
	manifestLockWait  = 5 * time.Second
	manifestLockPoll  = 20 * time.Millisecond
)

// FileManifestStore persists the manifest as a JSON document and the run log
// as append-only JSON lines. Every mutation rewrites the manifest to a
// temporary file and renames it into place, so a crash mid-write leaves the
// previous consistent snapshot intact. Mutations re-read the document from
// disk under an exclusive lock file before applying, so two processes
// sharing a manifest cannot overwrite each other's entries.
type FileManifestStore struct {
	mu           sync.Mutex
	manifestPath string
	runLogPath   string
	entries      map[string]*Artifact
}

type manifestDocument struct {
	Version int         `json:"version"`
	Entries []*Artifact `json:"entries"`
	SavedAt time.Time   `json:"saved_at"`
}

// NewFileManifestStore opens or creates a manifest at the given paths
func NewFileManifestStore(manifestPath, runLogPath string) (*FileManifestStore, error) {
	store := &FileManifestStore{
		manifestPath: manifestPath,
		runLogPath:   runLogPath,
		entries:      make(map[string]*Artifact),
	}

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return nil, NewStorageWriteError("failed to create manifest directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(runLogPath), 0755); err != nil {
		return nil, NewStorageWriteError("failed to create run log directory", err)
	}

	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// lockManifest takes the exclusive lock file next to the manifest, blocking
// until it is free or the wait deadline passes. Lock files older than
// manifestLockStale are left over from a crash and are taken over. The
// returned func releases the lock.
func (fms *FileManifestStore) lockManifest() (func(), error) {
	lockPath := fms.manifestPath + ".lock"
	deadline := time.Now().Add(manifestLockWait)

	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(file, "%d\n", os.Getpid())
			file.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, NewStorageWriteError("failed to create manifest lock file", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > manifestLockStale {
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, NewStorageWriteError(
				fmt.Sprintf("manifest lock %s is held by another process", lockPath), nil)
		}
		time.Sleep(manifestLockPoll)
	}
}

// reloadLocked replaces the in-memory snapshot with the on-disk document.
// Callers must hold mu.
func (fms *FileManifestStore) reloadLocked() error {
	fms.entries = make(map[string]*Artifact)
	return fms.load()
}

// Reload re-reads the manifest from disk, picking up entries written by
// other processes since this store loaded
func (fms *FileManifestStore) Reload() error {
	fms.mu.Lock()
	defer fms.mu.Unlock()
	return fms.reloadLocked()
}

// Append records a new artifact entry
func (fms *FileManifestStore) Append(artifact *Artifact) error {
	if artifact == nil {
		return NewValidationError("artifact cannot be nil", nil)
	}
	if err := artifact.Validate(); err != nil {
		return NewValidationError("invalid artifact", err)
	}

	fms.mu.Lock()
	defer fms.mu.Unlock()

	unlock, err := fms.lockManifest()
	if err != nil {
		return err
	}
	defer unlock()
	if err := fms.reloadLocked(); err != nil {
		return err
	}

	if _, exists := fms.entries[artifact.ID]; exists {
		return NewManifestConflictError(fmt.Sprintf("artifact %s already exists in manifest", artifact.ID), nil).
			WithContext("artifact_id", artifact.ID)
	}

	clone := *artifact
	clone.UpdatedAt = time.Now().UTC()
	fms.entries[artifact.ID] = &clone

	if err := fms.save(); err != nil {
		delete(fms.entries, artifact.ID)
		return err
	}
	return nil
}

// UpdateState advances an entry's lifecycle state
func (fms *FileManifestStore) UpdateState(id string, newState ArtifactState) error {
	if id == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	fms.mu.Lock()
	defer fms.mu.Unlock()

	unlock, err := fms.lockManifest()
	if err != nil {
		return err
	}
	defer unlock()
	if err := fms.reloadLocked(); err != nil {
		return err
	}

	entry, exists := fms.entries[id]
	if !exists {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found in manifest", id), nil)
	}

	if !CanTransition(entry.State, newState) {
		return NewManifestConflictError(
			fmt.Sprintf("invalid state transition %s -> %s for artifact %s", entry.State, newState, id), nil).
			WithContext("artifact_id", id).
			WithContext("from_state", string(entry.State)).
			WithContext("to_state", string(newState))
	}
	if newState == StateVerified && entry.Digest == "" {
		return NewManifestConflictError(
			fmt.Sprintf("artifact %s cannot be verified without a digest", id), nil).
			WithContext("artifact_id", id)
	}

	prevState := entry.State
	prevUpdated := entry.UpdatedAt
	entry.State = newState
	entry.UpdatedAt = time.Now().UTC()

	if err := fms.save(); err != nil {
		entry.State = prevState
		entry.UpdatedAt = prevUpdated
		return err
	}
	return nil
}

// RecordBuildResult fills in the size and digest of a pending entry
func (fms *FileManifestStore) RecordBuildResult(id string, size int64, digest string) error {
	if id == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	fms.mu.Lock()
	defer fms.mu.Unlock()

	unlock, err := fms.lockManifest()
	if err != nil {
		return err
	}
	defer unlock()
	if err := fms.reloadLocked(); err != nil {
		return err
	}

	entry, exists := fms.entries[id]
	if !exists {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found in manifest", id), nil)
	}
	if entry.State != StatePending {
		return NewManifestConflictError(
			fmt.Sprintf("artifact %s is %s, build results only apply to pending entries", id, entry.State), nil).
			WithContext("artifact_id", id)
	}

	prevSize, prevDigest, prevUpdated := entry.Size, entry.Digest, entry.UpdatedAt
	entry.Size = size
	entry.Digest = digest
	entry.UpdatedAt = time.Now().UTC()

	if err := fms.save(); err != nil {
		entry.Size, entry.Digest, entry.UpdatedAt = prevSize, prevDigest, prevUpdated
		return err
	}
	return nil
}

// Get returns the entry with the given ID
func (fms *FileManifestStore) Get(id string) (*Artifact, error) {
	fms.mu.Lock()
	defer fms.mu.Unlock()

	entry, exists := fms.entries[id]
	if !exists {
		return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found in manifest", id), nil)
	}
	clone := *entry
	return &clone, nil
}

// ListAll returns every entry, sorted by creation time then ID
func (fms *FileManifestStore) ListAll() ([]*Artifact, error) {
	fms.mu.Lock()
	defer fms.mu.Unlock()
	return fms.listLocked(""), nil
}

// ListBySource returns entries for one source
func (fms *FileManifestStore) ListBySource(sourceID string) ([]*Artifact, error) {
	if sourceID == "" {
		return nil, NewValidationError("source ID cannot be empty", nil)
	}
	fms.mu.Lock()
	defer fms.mu.Unlock()
	return fms.listLocked(sourceID), nil
}

// AppendRun appends one run record as a JSON line
func (fms *FileManifestStore) AppendRun(record *RunRecord) error {
	if record == nil {
		return NewValidationError("run record cannot be nil", nil)
	}
	if err := record.Validate(); err != nil {
		return NewValidationError("invalid run record", err)
	}

	fms.mu.Lock()
	defer fms.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return NewStorageWriteError("failed to serialize run record", err)
	}

	file, err := os.OpenFile(fms.runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return NewStorageWriteError("failed to open run log", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return NewStorageWriteError("failed to append run record", err)
	}
	if err := file.Sync(); err != nil {
		return NewStorageWriteError("failed to sync run log", err)
	}
	return nil
}

// ListRuns returns run records newest first
func (fms *FileManifestStore) ListRuns(sourceID string, limit int) ([]*RunRecord, error) {
	fms.mu.Lock()
	defer fms.mu.Unlock()

	file, err := os.Open(fms.runLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageReadError("failed to open run log", err)
	}
	defer file.Close()

	var records []*RunRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record RunRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, NewStorageReadError("failed to parse run log entry", err)
		}
		if sourceID != "" && record.SourceID != sourceID {
			continue
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, NewStorageReadError("failed to read run log", err)
	}

	// newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (fms *FileManifestStore) listLocked(sourceID string) []*Artifact {
	artifacts := make([]*Artifact, 0, len(fms.entries))
	for _, entry := range fms.entries {
		if sourceID != "" && entry.SourceID != sourceID {
			continue
		}
		clone := *entry
		artifacts = append(artifacts, &clone)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].ID < artifacts[j].ID
		}
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts
}

func (fms *FileManifestStore) load() error {
	data, err := os.ReadFile(fms.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewStorageReadError("failed to read manifest file", err)
	}

	var doc manifestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewStorageReadError("failed to parse manifest file", err)
	}
	for _, entry := range doc.Entries {
		fms.entries[entry.ID] = entry
	}
	return nil
}

func (fms *FileManifestStore) save() error {
	doc := manifestDocument{
		Version: 1,
		Entries: fms.listLocked(""),
		SavedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return NewStorageWriteError("failed to serialize manifest", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fms.manifestPath), ".manifest-*")
	if err != nil {
		return NewStorageWriteError("failed to create temporary manifest file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageWriteError("failed to write manifest", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageWriteError("failed to sync manifest", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return NewStorageWriteError("failed to close temporary manifest file", err)
	}
	if err := os.Rename(tmpPath, fms.manifestPath); err != nil {
		os.Remove(tmpPath)
		return NewStorageWriteError("failed to finalize manifest", err)
	}
	return nil
}
