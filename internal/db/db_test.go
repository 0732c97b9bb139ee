package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"regions", "items", "settings", "blobs", "kv"} {
		var tableName string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&tableName)
		assert.NoError(t, err)
		assert.Equal(t, name, tableName)
	}

	var indexName string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_items_region_id'").Scan(&indexName)
	assert.NoError(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), Regions, "01", []byte(`{"id":"01"}`)))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	n, err := second.Count(context.Background(), Regions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenForTestingIsIsolated(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, Regions, "01", []byte(`{"id":"01"}`)))

	n, err := b.Count(ctx, Regions)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetPutDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, Regions, "13")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, Regions, "13", []byte(`{"id":"13","name":"Tokyo"}`)))
	require.NoError(t, s.Put(ctx, Regions, "13", []byte(`{"id":"13","name":"Tokyo-to"}`)))

	data, err := s.Get(ctx, Regions, "13")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"13","name":"Tokyo-to"}`, string(data))

	require.NoError(t, s.Delete(ctx, Regions, "13"))
	assert.ErrorIs(t, s.Delete(ctx, Regions, "13"), ErrNotFound)
}

func TestGetAllByIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Items, "a", []byte(`{"id":"a","regionId":"01"}`)))
	require.NoError(t, s.Put(ctx, Items, "b", []byte(`{"id":"b","regionId":"02"}`)))
	require.NoError(t, s.Put(ctx, Items, "c", []byte(`{"id":"c","regionId":"01"}`)))

	records, err := s.GetAllByIndex(ctx, Items, IndexRegionID, "01")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Key)
	assert.Equal(t, "c", records[1].Key)

	_, err = s.GetAllByIndex(ctx, Regions, IndexRegionID, "01")
	assert.Error(t, err)
}

func TestBlobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBlob(ctx, &Blob{ID: "img", Type: "image/jpeg", Data: []byte{0xFF, 0xD8, 0x00}}))

	b, err := s.GetBlob(ctx, "img")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", b.Type)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x00}, b.Data)

	all, err := s.GetAllBlobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteBlob(ctx, "img"))
	_, err = s.GetBlob(ctx, "img")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, Blobs, "img")
	assert.Error(t, err)
}

func TestValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetValue(ctx, "hidden")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetValue(ctx, "hidden", `["01"]`))
	v, ok, err := s.GetValue(ctx, "hidden")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["01"]`, v)

	require.NoError(t, s.DeleteValue(ctx, "hidden"))
	require.NoError(t, s.DeleteValue(ctx, "hidden"))
}

func TestUpdateCommits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, Regions, "01", []byte(`{"id":"01"}`)); err != nil {
			return err
		}
		return tx.PutBlob(ctx, &Blob{ID: "x", Type: "image/jpeg", Data: []byte{1}})
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, Regions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, Blobs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Items, "keep", []byte(`{"id":"keep","regionId":"01"}`)))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		for _, c := range []Collection{Regions, Items, Settings, Blobs} {
			if err := tx.Clear(ctx, c); err != nil {
				return err
			}
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, Items, "keep")
	assert.NoError(t, err)
}

func TestClassifyPassesThroughPlainErrors(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Equal(t, sql.ErrConnDone, classify(sql.ErrConnDone))
}
