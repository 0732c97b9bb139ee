package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
)

// NewItem is the caller-supplied part of an item; ids and stamps are
// generated by ItemStore.Create.
type NewItem struct {
	RegionID   string
	Memo       string
	TakenAt    time.Time
	Crop       *domain.RectCrop
	IsFavorite bool
	Location   *domain.Location
	ImageHash  string
}

type ItemStore struct {
	db     *db.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewItemStore(d *db.Store, logger *slog.Logger) *ItemStore {
	return &ItemStore{
		db:     d,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create writes both image blobs and the item record, then re-derives the
// owning region's counter, all in one transaction. It returns the item with
// its images resolved.
func (s *ItemStore) Create(ctx context.Context, in NewItem, primary, thumbnail domain.ImageData) (*domain.Item, error) {
	now := s.now()
	item := &domain.Item{
		ID:               s.newID(),
		RegionID:         in.RegionID,
		PrimaryImageID:   s.newID(),
		ThumbnailImageID: s.newID(),
		Memo:             in.Memo,
		TakenAt:          in.TakenAt,
		IsFavorite:       in.IsFavorite,
		Location:         in.Location,
		ImageHash:        in.ImageHash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if item.TakenAt.IsZero() {
		item.TakenAt = now
	}
	if in.Crop != nil {
		item.Crop = in.Crop.Clamp()
	}

	err := s.db.Update(ctx, func(tx *db.Tx) error {
		if _, err := getRegion(ctx, tx, in.RegionID); err != nil {
			return err
		}
		if err := tx.PutBlob(ctx, &db.Blob{ID: item.PrimaryImageID, Type: primary.Type, Data: primary.Data}); err != nil {
			return err
		}
		if err := tx.PutBlob(ctx, &db.Blob{ID: item.ThumbnailImageID, Type: thumbnail.Type, Data: thumbnail.Data}); err != nil {
			return err
		}
		if err := putItem(ctx, tx, item); err != nil {
			return err
		}
		return recountRegion(ctx, tx, item.RegionID, now)
	})
	if err != nil {
		s.logger.Error("failed to create item", "item_id", item.ID, "region_id", in.RegionID, "error", err)
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	item.PrimaryImage = &domain.ImageData{Type: primary.Type, Data: primary.Data}
	item.Thumbnail = &domain.ImageData{Type: thumbnail.Type, Data: thumbnail.Data}
	return item, nil
}

// GetByID returns the item with both images resolved. A missing image blob
// fails the read rather than returning a partial item.
func (s *ItemStore) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	data, err := s.db.Get(ctx, db.Items, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item, err := DecodeItem(data)
	if err != nil {
		s.logger.Error("failed to decode item", "item_id", id, "error", err)
		return nil, err
	}
	if err := s.hydrate(ctx, item); err != nil {
		s.logger.Error("failed to resolve item images", "item_id", id, "error", err)
		return nil, err
	}
	return item, nil
}

// List returns every readable item, most recently taken first.
func (s *ItemStore) List(ctx context.Context) ([]*domain.Item, error) {
	records, err := s.db.GetAll(ctx, db.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return s.hydrateAll(ctx, records), nil
}

// ListByRegion returns the region's readable items, most recently taken first.
func (s *ItemStore) ListByRegion(ctx context.Context, regionID string) ([]*domain.Item, error) {
	records, err := s.db.GetAllByIndex(ctx, db.Items, db.IndexRegionID, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return s.hydrateAll(ctx, records), nil
}

// FindByImageHash returns the readable items whose primary image has the
// given perceptual hash.
func (s *ItemStore) FindByImageHash(ctx context.Context, hash string) ([]*domain.Item, error) {
	if hash == "" {
		return nil, nil
	}
	records, err := s.db.GetAll(ctx, db.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	var matches []db.Record
	for _, rec := range records {
		item, err := DecodeItem(rec.Value)
		if err == nil && item.ImageHash == hash {
			matches = append(matches, rec)
		}
	}
	return s.hydrateAll(ctx, matches), nil
}

// Update persists the item's memo and favorite flag. Images, dates and the
// region are left as stored.
func (s *ItemStore) Update(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	stored, err := s.getRecord(ctx, s.db, item.ID)
	if err != nil {
		return nil, err
	}
	stored.Memo = item.Memo
	stored.IsFavorite = item.IsFavorite
	stored.UpdatedAt = s.now()

	if err := putItem(ctx, s.db, stored); err != nil {
		s.logger.Error("failed to update item", "item_id", item.ID, "error", err)
		return nil, err
	}
	return stored, nil
}

// ReplaceThumbnail overwrites the thumbnail blob in place and records the
// crop it was cut with. A nil crop clears the stored one.
func (s *ItemStore) ReplaceThumbnail(ctx context.Context, id string, thumbnail domain.ImageData, crop domain.Crop) (*domain.Item, error) {
	var item *domain.Item
	err := s.db.Update(ctx, func(tx *db.Tx) error {
		var err error
		if item, err = s.getRecord(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.PutBlob(ctx, &db.Blob{ID: item.ThumbnailImageID, Type: thumbnail.Type, Data: thumbnail.Data}); err != nil {
			return err
		}
		item.Crop = domain.ClampCrop(crop)
		item.UpdatedAt = s.now()
		return putItem(ctx, tx, item)
	})
	if err != nil {
		s.logger.Error("failed to replace thumbnail", "item_id", id, "error", err)
		return nil, fmt.Errorf("failed to replace thumbnail: %w", err)
	}
	item.Thumbnail = &domain.ImageData{Type: thumbnail.Type, Data: thumbnail.Data}
	return item, nil
}

// Delete removes the item and both of its image blobs, then re-derives the
// owning region's counter.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	err := s.db.Update(ctx, func(tx *db.Tx) error {
		item, err := s.getRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, blobID := range []string{item.PrimaryImageID, item.ThumbnailImageID} {
			if err := tx.DeleteBlob(ctx, blobID); err != nil && !errors.Is(err, db.ErrNotFound) {
				return err
			}
		}
		if err := tx.Delete(ctx, db.Items, id); err != nil {
			return err
		}
		err = recountRegion(ctx, tx, item.RegionID, s.now())
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Warn("deleted item references an unknown region", "item_id", id, "region_id", item.RegionID)
			return nil
		}
		return err
	})
	if err != nil {
		s.logger.Error("failed to delete item", "item_id", id, "error", err)
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (s *ItemStore) getRecord(ctx context.Context, c db.Collections, id string) (*domain.Item, error) {
	data, err := c.Get(ctx, db.Items, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return DecodeItem(data)
}

func (s *ItemStore) hydrate(ctx context.Context, item *domain.Item) error {
	primary, err := s.db.GetBlob(ctx, item.PrimaryImageID)
	if err != nil {
		return fmt.Errorf("failed to resolve primary image of item %s: %w", item.ID, err)
	}
	thumb, err := s.db.GetBlob(ctx, item.ThumbnailImageID)
	if err != nil {
		return fmt.Errorf("failed to resolve thumbnail of item %s: %w", item.ID, err)
	}
	item.PrimaryImage = &domain.ImageData{Type: primary.Type, Data: primary.Data}
	item.Thumbnail = &domain.ImageData{Type: thumb.Type, Data: thumb.Data}
	return nil
}

// hydrateAll decodes and resolves each record, skipping the ones that fail.
func (s *ItemStore) hydrateAll(ctx context.Context, records []db.Record) []*domain.Item {
	items := make([]*domain.Item, 0, len(records))
	for _, rec := range records {
		item, err := DecodeItem(rec.Value)
		if err == nil {
			err = s.hydrate(ctx, item)
		}
		if err != nil {
			s.logger.Warn("skipping unreadable item", "item_id", rec.Key, "error", err)
			continue
		}
		items = append(items, item)
	}
	sortByTakenAtDesc(items)
	return items
}

func sortByTakenAtDesc(items []*domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TakenAt.After(items[j].TakenAt)
	})
}

func putItem(ctx context.Context, c db.Collections, item *domain.Item) error {
	data, err := EncodeItem(item)
	if err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}
	if err := c.Put(ctx, db.Items, item.ID, data); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}
