package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Collection names one of the four record collections.
type Collection string

const (
	Regions  Collection = "regions"
	Items    Collection = "items"
	Settings Collection = "settings"
	Blobs    Collection = "blobs"
)

// IndexRegionID is the non-unique secondary index on Items.
const IndexRegionID = "regionId"

// indexes maps a collection's secondary index name to the JSON path it covers.
var indexes = map[Collection]map[string]string{
	Items: {IndexRegionID: "$.regionId"},
}

func (c Collection) table() (string, error) {
	switch c {
	case Regions, Items, Settings, Blobs:
		return string(c), nil
	}
	return "", fmt.Errorf("unknown collection %q", c)
}

// Record is a structured record as stored: its key and JSON document.
type Record struct {
	Key   string
	Value []byte
}

// Blob is an opaque binary payload and its content type.
type Blob struct {
	ID   string
	Type string
	Data []byte
}

// Collections is the CRUD surface shared by Store and Tx.
type Collections interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, error)
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	GetAllByIndex(ctx context.Context, c Collection, index, value string) ([]Record, error)
	Count(ctx context.Context, c Collection) (int, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	Delete(ctx context.Context, c Collection, key string) error

	GetBlob(ctx context.Context, id string) (*Blob, error)
	GetAllBlobs(ctx context.Context) ([]*Blob, error)
	PutBlob(ctx context.Context, b *Blob) error
	DeleteBlob(ctx context.Context, id string) error

	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

var (
	_ Collections = (*Store)(nil)
	_ Collections = (*Tx)(nil)
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements Collections over either the database or an open transaction.
type ops struct {
	q querier
}

func recordTable(c Collection) (string, error) {
	if c == Blobs {
		return "", fmt.Errorf("collection %q holds blobs, not records", c)
	}
	return c.table()
}

func (o ops) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	table, err := recordTable(c)
	if err != nil {
		return nil, err
	}

	var data string
	err = o.q.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", c, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %q: %w", c, key, classify(err))
	}
	return []byte(data), nil
}

func (o ops) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	table, err := recordTable(c)
	if err != nil {
		return nil, err
	}
	return o.queryRecords(ctx, c, "SELECT id, data FROM "+table+" ORDER BY id ASC")
}

func (o ops) GetAllByIndex(ctx context.Context, c Collection, index, value string) ([]Record, error) {
	table, err := recordTable(c)
	if err != nil {
		return nil, err
	}
	path, ok := indexes[c][index]
	if !ok {
		return nil, fmt.Errorf("collection %s has no index %q", c, index)
	}
	return o.queryRecords(ctx, c,
		"SELECT id, data FROM "+table+" WHERE json_extract(data, '"+path+"') = ? ORDER BY id ASC", value)
}

func (o ops) queryRecords(ctx context.Context, c Collection, query string, args ...any) ([]Record, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, classify(err))
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "collection", c, "error", err)
		}
	}()

	var records []Record
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c, classify(err))
		}
		records = append(records, Record{Key: key, Value: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", c, classify(err))
	}
	return records, nil
}

func (o ops) Count(ctx context.Context, c Collection) (int, error) {
	table, err := c.table()
	if err != nil {
		return 0, err
	}
	var n int
	if err := o.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c, classify(err))
	}
	return n, nil
}

// Put inserts or replaces the record stored under key.
func (o ops) Put(ctx context.Context, c Collection, key string, value []byte) error {
	table, err := recordTable(c)
	if err != nil {
		return err
	}
	_, err = o.q.ExecContext(ctx,
		"INSERT INTO "+table+" (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		key, string(value))
	if err != nil {
		return fmt.Errorf("failed to put %s %q: %w", c, key, classify(err))
	}
	return nil
}

func (o ops) Delete(ctx context.Context, c Collection, key string) error {
	table, err := recordTable(c)
	if err != nil {
		return err
	}
	return o.delete(ctx, c, table, key)
}

func (o ops) delete(ctx context.Context, c Collection, table, key string) error {
	result, err := o.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", c, key, classify(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", classify(err))
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", c, key, ErrNotFound)
	}
	return nil
}

func (o ops) GetBlob(ctx context.Context, id string) (*Blob, error) {
	b := &Blob{ID: id}
	err := o.q.QueryRowContext(ctx, "SELECT type, data FROM blobs WHERE id = ?", id).Scan(&b.Type, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %q: %w", id, classify(err))
	}
	return b, nil
}

func (o ops) GetAllBlobs(ctx context.Context) ([]*Blob, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT id, type, data FROM blobs ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", classify(err))
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "collection", Blobs, "error", err)
		}
	}()

	var blobs []*Blob
	for rows.Next() {
		b := &Blob{}
		if err := rows.Scan(&b.ID, &b.Type, &b.Data); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", classify(err))
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", classify(err))
	}
	return blobs, nil
}

func (o ops) PutBlob(ctx context.Context, b *Blob) error {
	if b.Data == nil {
		b.Data = []byte{}
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO blobs (id, type, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, data = excluded.data
	`, b.ID, b.Type, b.Data)
	if err != nil {
		return fmt.Errorf("failed to put blob %q: %w", b.ID, classify(err))
	}
	return nil
}

func (o ops) DeleteBlob(ctx context.Context, id string) error {
	return o.delete(ctx, Blobs, "blobs", id)
}

func (o ops) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := o.q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get value %q: %w", key, classify(err))
	}
	return value, true, nil
}

func (o ops) SetValue(ctx context.Context, key, value string) error {
	_, err := o.q.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set value %q: %w", key, classify(err))
	}
	return nil
}

// DeleteValue removes key. A missing key is not an error.
func (o ops) DeleteValue(ctx context.Context, key string) error {
	if _, err := o.q.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete value %q: %w", key, classify(err))
	}
	return nil
}
