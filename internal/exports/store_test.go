package exports

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGetReadList(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "exports"))
	require.NoError(t, err)

	older, err := store.Save(Meta{FileName: "a.xlsx", Rows: 1, CreatedAt: time.Now().Add(-time.Hour)}, []byte("one"))
	require.NoError(t, err)
	newer, err := store.Save(Meta{FileName: "b.xlsx", Rows: 2}, []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, 5, newer.SizeBytes)
	assert.NotEmpty(t, newer.ID)

	got, err := store.Get(older.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.xlsx", got.FileName)

	data, meta, err := store.ReadFile(newer.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data)
	assert.Equal(t, 2, meta.Rows)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
}

func TestInvalidAndMissingIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = store.Save(Meta{ID: "nope"}, nil)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = store.Get(NewID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(NewID()), ErrNotFound)
}

func TestDeleteLogsFileCleanupFailureWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	store := &Store{dir: dir}
	id := "123e4567-e89b-12d3-a456-426614174000"

	raw, err := json.Marshal(Meta{ID: id})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), raw, 0o644))

	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })

	require.NoError(t, store.Delete(id))
	assert.Contains(t, buf.String(), "export file cleanup failed")

	_, err = os.Stat(filepath.Join(dir, id+".json"))
	assert.True(t, os.IsNotExist(err))
}
