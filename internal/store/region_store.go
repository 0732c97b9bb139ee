package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
)

type RegionStore struct {
	db     *db.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRegionStore(d *db.Store, logger *slog.Logger) *RegionStore {
	return &RegionStore{db: d, logger: logger, now: time.Now}
}

// List returns every region ordered by id.
func (s *RegionStore) List(ctx context.Context) ([]*domain.Region, error) {
	records, err := s.db.GetAll(ctx, db.Regions)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	regions := make([]*domain.Region, 0, len(records))
	for _, rec := range records {
		region, err := DecodeRegion(rec.Value)
		if err != nil {
			s.logger.Warn("skipping unreadable region", "region_id", rec.Key, "error", err)
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

func (s *RegionStore) GetByID(ctx context.Context, id string) (*domain.Region, error) {
	return getRegion(ctx, s.db, id)
}

// Upsert writes region as given, stamping CreatedAt on first write and
// UpdatedAt always.
func (s *RegionStore) Upsert(ctx context.Context, region *domain.Region) error {
	now := s.now()
	if region.CreatedAt.IsZero() {
		region.CreatedAt = now
	}
	region.UpdatedAt = now
	if err := putRegion(ctx, s.db, region); err != nil {
		s.logger.Error("failed to upsert region", "region_id", region.ID, "error", err)
		return err
	}
	return nil
}

// SeedAll writes every catalog region that is not stored yet. It does
// nothing when the full catalog is already present, and never touches an
// existing region's counters.
func (s *RegionStore) SeedAll(ctx context.Context) (int, error) {
	n, err := s.db.Count(ctx, db.Regions)
	if err != nil {
		return 0, fmt.Errorf("failed to count regions: %w", err)
	}
	if n >= len(Catalog) {
		return 0, nil
	}

	existing, err := s.db.GetAll(ctx, db.Regions)
	if err != nil {
		return 0, fmt.Errorf("failed to list regions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, rec := range existing {
		have[rec.Key] = true
	}

	now := s.now()
	inserted := 0
	err = s.db.Update(ctx, func(tx *db.Tx) error {
		for _, entry := range Catalog {
			if have[entry.ID] {
				continue
			}
			region := &domain.Region{ID: entry.ID, Name: entry.Name, CreatedAt: now, UpdatedAt: now}
			if err := putRegion(ctx, tx, region); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed regions: %w", err)
	}
	s.logger.Info("regions seeded", "inserted", inserted)
	return inserted, nil
}

// UpdateItemCount overwrites the derived counter and last item date.
func (s *RegionStore) UpdateItemCount(ctx context.Context, id string, count int, lastItemDate *time.Time) error {
	if err := updateItemCount(ctx, s.db, id, count, lastItemDate, s.now()); err != nil {
		s.logger.Error("failed to update item count", "region_id", id, "error", err)
		return err
	}
	return nil
}

// UpdateTargetCount sets the completion goal; nil clears it.
func (s *RegionStore) UpdateTargetCount(ctx context.Context, id string, target *int) (*domain.Region, error) {
	if target != nil && *target < 0 {
		return nil, fmt.Errorf("target count must not be negative")
	}
	region, err := getRegion(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	region.TargetCount = target
	region.TargetUpdatedAt = &now
	region.UpdatedAt = now
	if err := putRegion(ctx, s.db, region); err != nil {
		s.logger.Error("failed to update target count", "region_id", id, "error", err)
		return nil, err
	}
	return region, nil
}

func getRegion(ctx context.Context, c db.Collections, id string) (*domain.Region, error) {
	data, err := c.Get(ctx, db.Regions, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return DecodeRegion(data)
}

func putRegion(ctx context.Context, c db.Collections, region *domain.Region) error {
	data, err := EncodeRegion(region)
	if err != nil {
		return fmt.Errorf("failed to encode region: %w", err)
	}
	if err := c.Put(ctx, db.Regions, region.ID, data); err != nil {
		return fmt.Errorf("failed to put region: %w", err)
	}
	return nil
}

func updateItemCount(ctx context.Context, c db.Collections, id string, count int, lastItemDate *time.Time, now time.Time) error {
	region, err := getRegion(ctx, c, id)
	if err != nil {
		return err
	}
	region.ItemCount = count
	region.LastItemDate = lastItemDate
	region.UpdatedAt = now
	return putRegion(ctx, c, region)
}

// recountRegion re-derives the region's counter and last item date from the
// items that reference it.
func recountRegion(ctx context.Context, c db.Collections, regionID string, now time.Time) error {
	records, err := c.GetAllByIndex(ctx, db.Items, db.IndexRegionID, regionID)
	if err != nil {
		return fmt.Errorf("failed to list items for region %s: %w", regionID, err)
	}

	var last *time.Time
	for _, rec := range records {
		item, err := DecodeItem(rec.Value)
		if err != nil {
			continue
		}
		if last == nil || item.TakenAt.After(*last) {
			t := item.TakenAt
			last = &t
		}
	}
	return updateItemCount(ctx, c, regionID, len(records), last, now)
}
