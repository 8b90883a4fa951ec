package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, KeySession, []byte(`{"access_token":"a1"}`)))

	got, err := fs.Get(ctx, KeySession)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"a1"}`, string(got))
}

func TestFileStoreMissingKey(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsInvalidJSON(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	assert.Error(t, fs.Set(context.Background(), KeySession, []byte(`{"broken":`)))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, KeyCollectionState, []byte(`{"phase":"paused","currentIndex":3}`)))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, KeyCollectionState)
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"paused","currentIndex":3}`, string(got))
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, KeySession, []byte(`{}`)))
	require.NoError(t, fs.Delete(ctx, KeySession))

	_, err = fs.Get(ctx, KeySession)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is fine.
	assert.NoError(t, fs.Delete(ctx, "nope"))
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(context.Background(), KeySession, []byte(`{}`)))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
