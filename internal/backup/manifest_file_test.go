package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManifest(t *testing.T) (*FileManifestStore, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := NewFileManifestStore(filepath.Join(dir, "manifest.json"), filepath.Join(dir, "runs.jsonl"))
	require.NoError(t, err)
	return store, dir
}

func testArtifact(id, sourceID string, createdAt time.Time) *Artifact {
	return &Artifact{
		ID:          id,
		SourceID:    sourceID,
		CreatedAt:   createdAt,
		Compression: CompressionTypeGzip,
		StorageKey:  "artifacts/" + sourceID + "/" + id + ".dump.gz",
		State:       StatePending,
	}
}

func TestFileManifestStore_AppendAndGet(t *testing.T) {
	store, _ := newTestManifest(t)
	artifact := testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())

	require.NoError(t, store.Append(artifact))

	got, err := store.Get(artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, artifact.ID, got.ID)
	assert.Equal(t, StatePending, got.State)
	assert.False(t, got.UpdatedAt.IsZero())

	// Duplicate IDs are rejected
	err = store.Append(artifact)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeManifest))
}

func TestFileManifestStore_UpdateState(t *testing.T) {
	store, _ := newTestManifest(t)
	artifact := testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())
	require.NoError(t, store.Append(artifact))
	require.NoError(t, store.RecordBuildResult(artifact.ID, 1024, CalculateDigest([]byte("x"))))

	require.NoError(t, store.UpdateState(artifact.ID, StateStored))
	require.NoError(t, store.UpdateState(artifact.ID, StateVerified))

	// Skipping states is rejected and the entry is untouched
	err := store.UpdateState(artifact.ID, StateDeleted)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeManifest))

	got, err := store.Get(artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, got.State)

	// Unknown artifact
	err = store.UpdateState("missing", StateStored)
	assert.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestFileManifestStore_VerifiedRequiresDigest(t *testing.T) {
	store, _ := newTestManifest(t)
	artifact := testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())
	require.NoError(t, store.Append(artifact))
	require.NoError(t, store.UpdateState(artifact.ID, StateStored))

	err := store.UpdateState(artifact.ID, StateVerified)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeManifest))
}

func TestFileManifestStore_RecordBuildResultOnlyPending(t *testing.T) {
	store, _ := newTestManifest(t)
	artifact := testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())
	require.NoError(t, store.Append(artifact))

	require.NoError(t, store.RecordBuildResult(artifact.ID, 512, CalculateDigest([]byte("y"))))
	require.NoError(t, store.UpdateState(artifact.ID, StateStored))

	// Entries past pending are immutable
	err := store.RecordBuildResult(artifact.ID, 99, CalculateDigest([]byte("z")))
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeManifest))

	got, err := store.Get(artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(512), got.Size)
}

func TestFileManifestStore_PersistsAcrossReopen(t *testing.T) {
	store, dir := newTestManifest(t)
	artifact := testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())
	require.NoError(t, store.Append(artifact))
	require.NoError(t, store.RecordBuildResult(artifact.ID, 2048, CalculateDigest([]byte("d"))))
	require.NoError(t, store.UpdateState(artifact.ID, StateStored))

	reopened, err := NewFileManifestStore(filepath.Join(dir, "manifest.json"), filepath.Join(dir, "runs.jsonl"))
	require.NoError(t, err)

	got, err := reopened.Get(artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, StateStored, got.State)
	assert.Equal(t, int64(2048), got.Size)
	assert.Equal(t, artifact.StorageKey, got.StorageKey)
}

func TestFileManifestStore_ListBySourceSorted(t *testing.T) {
	store, _ := newTestManifest(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(testArtifact("orders-b", "orders", base.Add(time.Hour))))
	require.NoError(t, store.Append(testArtifact("orders-a", "orders", base)))
	require.NoError(t, store.Append(testArtifact("users-a", "users", base)))

	orders, err := store.ListBySource("orders")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "orders-a", orders[0].ID)
	assert.Equal(t, "orders-b", orders[1].ID)

	all, err := store.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Returned entries are copies; mutating them does not corrupt the store
	orders[0].State = StateFailed
	fresh, err := store.Get("orders-a")
	require.NoError(t, err)
	assert.Equal(t, StatePending, fresh.State)
}

func TestFileManifestStore_RunLog(t *testing.T) {
	store, _ := newTestManifest(t)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendRun(&RunRecord{
			RunID:      GenerateRunID(),
			SourceID:   "orders",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Outcome:    RunOutcomeSuccess,
		}))
	}
	require.NoError(t, store.AppendRun(&RunRecord{
		RunID:      GenerateRunID(),
		SourceID:   "users",
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
		Outcome:    RunOutcomeFailed,
	}))

	runs, err := store.ListRuns("orders", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt), "newest first")

	limited, err := store.ListRuns("orders", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	all, err := store.ListRuns("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// The run log is invalid-record strict
	err = store.AppendRun(&RunRecord{RunID: "", SourceID: "orders"})
	assert.Error(t, err)
}

func TestFileManifestStore_MutationsMergeAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	runLogPath := filepath.Join(dir, "runs.jsonl")

	first, err := NewFileManifestStore(manifestPath, runLogPath)
	require.NoError(t, err)
	second, err := NewFileManifestStore(manifestPath, runLogPath)
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, first.Append(testArtifact("orders-20260830-100000-aaaa0001", "orders", base)))
	require.NoError(t, second.Append(testArtifact("orders-20260830-110000-bbbb0002", "orders", base.Add(time.Hour))))

	// second's write must not have erased first's entry from the document
	fresh, err := NewFileManifestStore(manifestPath, runLogPath)
	require.NoError(t, err)
	all, err := fresh.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// state changes find entries other instances wrote
	require.NoError(t, first.RecordBuildResult("orders-20260830-110000-bbbb0002", 512, CalculateDigest([]byte("x"))))
	require.NoError(t, second.UpdateState("orders-20260830-110000-bbbb0002", StateStored))

	require.NoError(t, first.Reload())
	got, err := first.Get("orders-20260830-110000-bbbb0002")
	require.NoError(t, err)
	assert.Equal(t, StateStored, got.State)
	assert.Equal(t, int64(512), got.Size)
}

func TestFileManifestStore_StaleLockTakenOver(t *testing.T) {
	store, dir := newTestManifest(t)

	// a crashed process left its lock behind
	lockPath := filepath.Join(dir, "manifest.json.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("12345\n"), 0644))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, past, past))

	require.NoError(t, store.Append(testArtifact("orders-20260830-100000-aaaa0001", "orders", time.Now().UTC())))

	// the lock was released again after the write
	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
