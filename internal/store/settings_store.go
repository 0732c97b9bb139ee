package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
)

const (
	// SettingsKey is the fixed key of the settings singleton.
	SettingsKey = "app-settings"
	// SchemaVersion is written into newly created settings.
	SchemaVersion = 1
)

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings(tier domain.CompressionTier, now time.Time) *domain.Settings {
	if !tier.Valid() {
		tier = domain.TierStandard
	}
	return &domain.Settings{
		SchemaVersion:   SchemaVersion,
		CompressionTier: tier,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

type SettingsStore struct {
	db          *db.Store
	logger      *slog.Logger
	defaultTier domain.CompressionTier
	now         func() time.Time
}

func NewSettingsStore(d *db.Store, defaultTier domain.CompressionTier, logger *slog.Logger) *SettingsStore {
	return &SettingsStore{db: d, logger: logger, defaultTier: defaultTier, now: time.Now}
}

// Get returns the settings, creating them with defaults on first read.
func (s *SettingsStore) Get(ctx context.Context) (*domain.Settings, error) {
	data, err := s.db.Get(ctx, db.Settings, SettingsKey)
	if errors.Is(err, db.ErrNotFound) {
		settings := DefaultSettings(s.defaultTier, s.now())
		if err := putSettings(ctx, s.db, settings); err != nil {
			s.logger.Error("failed to create default settings", "error", err)
			return nil, err
		}
		s.logger.Info("default settings created", "compression_tier", settings.CompressionTier)
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return DecodeSettings(data)
}

// Update writes settings and stamps UpdatedAt.
func (s *SettingsStore) Update(ctx context.Context, settings *domain.Settings) (*domain.Settings, error) {
	if !settings.CompressionTier.Valid() {
		return nil, fmt.Errorf("invalid compression tier %q", settings.CompressionTier)
	}
	now := s.now()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	if err := putSettings(ctx, s.db, settings); err != nil {
		s.logger.Error("failed to update settings", "error", err)
		return nil, err
	}
	return settings, nil
}

func putSettings(ctx context.Context, c db.Collections, settings *domain.Settings) error {
	data, err := EncodeSettings(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := c.Put(ctx, db.Settings, SettingsKey, data); err != nil {
		return fmt.Errorf("failed to put settings: %w", err)
	}
	return nil
}
