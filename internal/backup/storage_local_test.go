package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()

	backend, err := NewLocalBackend(&LocalConfig{
		BasePath:    t.TempDir(),
		Permissions: 0755,
	})
	require.NoError(t, err)
	return backend
}

func TestLocalBackend_PutGetRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	payload := strings.Repeat("artifact bytes\n", 1000)

	size, err := backend.Put(ctx, "artifacts/orders/a1.dump.gz", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	r, err := backend.Get(ctx, "artifacts/orders/a1.dump.gz")
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestLocalBackend_PutFailureLeavesNoObject(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	src := io.MultiReader(strings.NewReader("partial"), &failingReader{})
	_, err := backend.Put(ctx, "artifacts/orders/broken.dump", src)
	require.Error(t, err)

	exists, err := backend.Exists(ctx, "artifacts/orders/broken.dump")
	require.NoError(t, err)
	assert.False(t, exists, "failed put must not leave a readable object")

	// No temp file debris either
	entries, err := backend.List(ctx, "artifacts/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalBackend_ListByPrefix(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, key := range []string{
		"artifacts/orders/a1.dump",
		"artifacts/orders/a2.dump",
		"artifacts/users/b1.dump",
	} {
		_, err := backend.Put(ctx, key, strings.NewReader("data"))
		require.NoError(t, err)
	}

	orders, err := backend.List(ctx, "artifacts/orders/")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "artifacts/orders/a1.dump", orders[0].Key)
	assert.Equal(t, "artifacts/orders/a2.dump", orders[1].Key)
	assert.Equal(t, int64(4), orders[0].Size)

	all, err := backend.List(ctx, "artifacts/")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalBackend_Delete(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.Put(ctx, "artifacts/orders/a1.dump", strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, "artifacts/orders/a1.dump"))

	exists, err := backend.Exists(ctx, "artifacts/orders/a1.dump")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing key is an error the caller can classify
	err = backend.Delete(ctx, "artifacts/orders/a1.dump")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestLocalBackend_GetMissingKey(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.Get(context.Background(), "artifacts/nope.dump")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeNotFound))
}

func TestLocalBackend_OverwriteIsAtomic(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.Put(ctx, "artifacts/a.dump", strings.NewReader("old contents"))
	require.NoError(t, err)
	_, err = backend.Put(ctx, "artifacts/a.dump", strings.NewReader("new"))
	require.NoError(t, err)

	r, err := backend.Get(ctx, "artifacts/a.dump")
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "new", string(out))
}

func TestLocalBackend_HealthCheck(t *testing.T) {
	backend := newTestBackend(t)
	assert.NoError(t, backend.HealthCheck(context.Background()))
}

func TestLocalBackend_ListSkipsInFlightTempFiles(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	// Simulate a crashed upload that left its temp file behind
	tempPath := filepath.Join(backend.GetBasePath(), "artifacts", ".put-12345")
	require.NoError(t, os.MkdirAll(filepath.Dir(tempPath), 0755))
	require.NoError(t, os.WriteFile(tempPath, []byte("partial"), 0644))

	entries, err := backend.List(ctx, "artifacts/")
	require.NoError(t, err)
	assert.Empty(t, entries, "in-flight temp files are not objects")
}
