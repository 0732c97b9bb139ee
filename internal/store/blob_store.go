package store

import (
	"context"
	"fmt"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
)

// BlobStore reads and rewrites image blobs in place. Creating and deleting
// blobs belongs to ItemStore so that blobs never outlive their item.
type BlobStore struct {
	db *db.Store
}

func NewBlobStore(d *db.Store) *BlobStore {
	return &BlobStore{db: d}
}

func (s *BlobStore) Get(ctx context.Context, id string) (*domain.ImageData, error) {
	b, err := s.db.GetBlob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return &domain.ImageData{Type: b.Type, Data: b.Data}, nil
}

// Replace overwrites an existing blob's bytes and content type.
func (s *BlobStore) Replace(ctx context.Context, id string, img domain.ImageData) error {
	return s.db.Update(ctx, func(tx *db.Tx) error {
		if _, err := tx.GetBlob(ctx, id); err != nil {
			return fmt.Errorf("failed to get blob: %w", err)
		}
		return tx.PutBlob(ctx, &db.Blob{ID: id, Type: img.Type, Data: img.Data})
	})
}

// Types returns the content type of every stored blob, keyed by id.
func (s *BlobStore) Types(ctx context.Context) (map[string]string, error) {
	blobs, err := s.db.GetAllBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	types := make(map[string]string, len(blobs))
	for _, b := range blobs {
		types[b.ID] = b.Type
	}
	return types, nil
}
