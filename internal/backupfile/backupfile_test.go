package backupfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSaveAndOpen(t *testing.T) {
	dir, err := NewDir(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	dir.now = func() time.Time { return time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC) }

	doc := []byte(`{"formatVersion":"2.0.0"}`)
	path, err := dir.Save(doc)
	require.NoError(t, err)
	assert.Equal(t, "manholedex-backup-20240708-091011.json", filepath.Base(path))

	data, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, doc, data)

	entries, err := os.ReadDir(dir.basePath)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}

func TestDirListNewestFirst(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	for _, ts := range []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	} {
		dir.now = func() time.Time { return ts }
		_, err := dir.Save([]byte(`{}`))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir.basePath, "notes.txt"), []byte("x"), 0644))

	names, err := dir.List()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"manholedex-backup-20240301-000000.json",
		"manholedex-backup-20240201-000000.json",
		"manholedex-backup-20240101-000000.json",
	}, names)

	latest, err := dir.Latest()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.basePath, names[0]), latest)
}

func TestDirSaveSameSecondKeepsBoth(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)
	dir.now = func() time.Time { return time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC) }

	first, err := dir.Save([]byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := dir.Save([]byte(`{"n":2}`))
	require.NoError(t, err)
	third, err := dir.Save([]byte(`{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, "manholedex-backup-20240708-091011_02.json", filepath.Base(second))
	assert.Equal(t, "manholedex-backup-20240708-091011_03.json", filepath.Base(third))

	data, err := Open(first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))

	names, err := dir.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(third), filepath.Base(second), filepath.Base(first)}, names)

	latest, err := dir.Latest()
	require.NoError(t, err)
	assert.Equal(t, third, latest)

	entries, err := os.ReadDir(dir.basePath)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary file is left behind")
}

func TestDirLatest_Empty(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = dir.Latest()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirDelete(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)
	path, err := dir.Save([]byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, dir.Delete(filepath.Base(path)))
	assert.ErrorIs(t, dir.Delete(filepath.Base(path)), ErrNotFound)
}

func TestDirPathTraversal(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = dir.Path("../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, dir.Delete("../outside.json"))
}

func TestOpenRejectsNonJSONNames(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "backup.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrNotJSON)

	upper := filepath.Join(tmp, "BACKUP.JSON")
	require.NoError(t, os.WriteFile(upper, []byte(`{}`), 0644))
	_, err = Open(upper)
	assert.NoError(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "gone.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}
