package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/features"
	"github.com/vbonduro/manholedex/internal/media"
	"github.com/vbonduro/manholedex/internal/store"
)

// regionRepository is the subset of store.RegionStore that CatalogService requires.
type regionRepository interface {
	List(ctx context.Context) ([]*domain.Region, error)
	GetByID(ctx context.Context, id string) (*domain.Region, error)
	SeedAll(ctx context.Context) (int, error)
	UpdateTargetCount(ctx context.Context, id string, target *int) (*domain.Region, error)
}

// itemRepository is the subset of store.ItemStore that CatalogService requires.
type itemRepository interface {
	Create(ctx context.Context, in store.NewItem, primary, thumbnail domain.ImageData) (*domain.Item, error)
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	List(ctx context.Context) ([]*domain.Item, error)
	ListByRegion(ctx context.Context, regionID string) ([]*domain.Item, error)
	FindByImageHash(ctx context.Context, hash string) ([]*domain.Item, error)
	Update(ctx context.Context, item *domain.Item) (*domain.Item, error)
	ReplaceThumbnail(ctx context.Context, id string, thumbnail domain.ImageData, crop domain.Crop) (*domain.Item, error)
	Delete(ctx context.Context, id string) error
}

// settingsRepository is the subset of store.SettingsStore that the services require.
type settingsRepository interface {
	Get(ctx context.Context) (*domain.Settings, error)
	Update(ctx context.Context, settings *domain.Settings) (*domain.Settings, error)
}

// blobRepository is the subset of store.BlobStore that CatalogService requires.
type blobRepository interface {
	Get(ctx context.Context, id string) (*domain.ImageData, error)
	Replace(ctx context.Context, id string, img domain.ImageData) error
	Types(ctx context.Context) (map[string]string, error)
}

// imageCodec is the subset of media.Codec that CatalogService requires.
type imageCodec interface {
	Process(ctx context.Context, src []byte, crop domain.Crop, tier domain.CompressionTier) (*media.Result, error)
	Thumbnail(ctx context.Context, src []byte, crop domain.Crop) (domain.ImageData, image.Rectangle, error)
	Reencode(ctx context.Context, src []byte, maxWidth, quality int) (domain.ImageData, error)
}

type hiddenRegions interface {
	Set(ctx context.Context) (map[string]bool, error)
}

type featureGates interface {
	Enabled(ctx context.Context, f features.Feature, env features.Env) (bool, error)
}

// DateExtractor reads the capture time embedded in a photo. It reports false
// when the photo carries none.
type DateExtractor interface {
	TakenAt(src []byte) (time.Time, bool)
}

type CatalogService struct {
	regions  regionRepository
	items    itemRepository
	settings settingsRepository
	blobs    blobRepository
	codec    imageCodec
	hidden   hiddenRegions
	gates    featureGates
	dates    DateExtractor
	license  LicenseValidator
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*CatalogService)

func WithDateExtractor(d DateExtractor) Option {
	return func(s *CatalogService) { s.dates = d }
}

func WithLicenseValidator(v LicenseValidator) Option {
	return func(s *CatalogService) { s.license = v }
}

func WithHiddenRegions(h hiddenRegions) Option {
	return func(s *CatalogService) { s.hidden = h }
}

func WithFeatureGates(g featureGates) Option {
	return func(s *CatalogService) { s.gates = g }
}

func NewCatalogService(
	regions regionRepository,
	items itemRepository,
	settings settingsRepository,
	blobs blobRepository,
	codec imageCodec,
	logger *slog.Logger,
	opts ...Option,
) *CatalogService {
	s := &CatalogService{
		regions:  regions,
		items:    items,
		settings: settings,
		blobs:    blobs,
		codec:    codec,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedRegions writes any catalog region not stored yet.
func (s *CatalogService) SeedRegions(ctx context.Context) (int, error) {
	return s.regions.SeedAll(ctx)
}

// AddItemInput is the user-entered part of a new item.
type AddItemInput struct {
	Memo       string
	Crop       *domain.RectCrop
	IsFavorite bool
	Location   *domain.Location
	// TakenAt overrides the date read from the photo when set.
	TakenAt time.Time
	// AllowDuplicate skips the duplicate photo check.
	AllowDuplicate bool
}

// AddItem compresses source at the configured tier, cuts its thumbnail and
// stores both with a new item in regionID.
func (s *CatalogService) AddItem(ctx context.Context, regionID string, source []byte, in AddItemInput) (*domain.Item, error) {
	s.logger.Info("add item started", "region_id", regionID, "bytes", len(source))

	if _, err := s.regions.GetByID(ctx, regionID); err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	var crop domain.Crop
	if in.Crop != nil {
		crop = in.Crop.Clamp()
	}
	result, err := s.codec.Process(ctx, source, crop, settings.CompressionTier)
	if err != nil {
		s.logger.Error("failed to process photo", "region_id", regionID, "error", err)
		return nil, err
	}
	if !in.AllowDuplicate {
		if err := s.checkDuplicate(ctx, settings, result.Hash); err != nil {
			return nil, err
		}
	}

	item, err := s.items.Create(ctx, store.NewItem{
		RegionID:   regionID,
		Memo:       in.Memo,
		TakenAt:    s.takenAt(source, in.TakenAt),
		Crop:       in.Crop,
		IsFavorite: in.IsFavorite,
		Location:   in.Location,
		ImageHash:  result.Hash,
	}, result.Primary, result.Thumbnail)
	if err != nil {
		return nil, err
	}

	s.logger.Info("add item complete",
		"item_id", item.ID,
		"region_id", regionID,
		"primary_bytes", len(result.Primary.Data),
		"thumbnail_bytes", len(result.Thumbnail.Data))
	return item, nil
}

// checkDuplicate fails with ErrDuplicatePhoto when the DuplicateCheck feature
// is on and an item with the same image hash exists.
func (s *CatalogService) checkDuplicate(ctx context.Context, settings *domain.Settings, hash string) error {
	if s.gates == nil || hash == "" {
		return nil
	}
	on, err := s.gates.Enabled(ctx, features.DuplicateCheck, s.env(ctx, settings))
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	existing, err := s.items.FindByImageHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to look up duplicates: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: matches item %s", ErrDuplicatePhoto, existing[0].ID)
	}
	return nil
}

func (s *CatalogService) takenAt(source []byte, override time.Time) time.Time {
	if !override.IsZero() {
		return override
	}
	if s.dates != nil {
		if t, ok := s.dates.TakenAt(source); ok {
			return t
		}
	}
	return s.now()
}

func (s *CatalogService) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.items.GetByID(ctx, id)
}

func (s *CatalogService) ListItems(ctx context.Context) ([]*domain.Item, error) {
	return s.items.List(ctx)
}

func (s *CatalogService) ListRegionItems(ctx context.Context, regionID string) ([]*domain.Item, error) {
	if _, err := s.regions.GetByID(ctx, regionID); err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return s.items.ListByRegion(ctx, regionID)
}

// UpdateItem sets an item's memo and favorite flag.
func (s *CatalogService) UpdateItem(ctx context.Context, id, memo string, favorite bool) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item.Memo = memo
	item.IsFavorite = favorite
	if _, err := s.items.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return s.items.GetByID(ctx, id)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *CatalogService) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to get item: %w", err)
	}
	item.IsFavorite = !item.IsFavorite
	if _, err := s.items.Update(ctx, item); err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	return item.IsFavorite, nil
}

func (s *CatalogService) DeleteItem(ctx context.Context, id string) error {
	return s.items.Delete(ctx, id)
}

// RegenerateThumbnail cuts a new thumbnail from the stored primary image and
// replaces the old one in place. Without a crop the item's stored crop is
// reused, legacy squares included.
func (s *CatalogService) RegenerateThumbnail(ctx context.Context, id string, crop *domain.RectCrop) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	c := item.Crop
	if crop != nil {
		c = crop.Clamp()
	}
	thumb, source, err := s.codec.Thumbnail(ctx, item.PrimaryImage.Data, c)
	if err != nil {
		s.logger.Error("failed to cut thumbnail", "item_id", id, "error", err)
		return nil, err
	}
	s.logger.Debug("thumbnail cut", "item_id", id, "source", source.String())

	return s.items.ReplaceThumbnail(ctx, id, thumb, c)
}

// MigrateImageFormats re-encodes every stored image that is not JPEG. Blobs
// that cannot be converted are logged and left as they are.
func (s *CatalogService) MigrateImageFormats(ctx context.Context) (int, error) {
	types, err := s.blobs.Types(ctx)
	if err != nil {
		return 0, err
	}
	items, err := s.items.List(ctx)
	if err != nil {
		return 0, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get settings: %w", err)
	}
	profile := media.ProfileFor(settings.CompressionTier)

	migrated := 0
	for _, item := range items {
		targets := []struct {
			id      string
			width   int
			quality int
		}{
			{item.PrimaryImageID, profile.MaxWidth, profile.Quality},
			{item.ThumbnailImageID, 0, media.ThumbnailQuality},
		}
		for _, t := range targets {
			if strings.EqualFold(types[t.id], media.MimeJPEG) {
				continue
			}
			if err := s.migrateBlob(ctx, t.id, t.width, t.quality); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return migrated, err
				}
				s.logger.Warn("skipping image migration", "item_id", item.ID, "image_id", t.id, "error", err)
				continue
			}
			migrated++
		}
	}
	s.logger.Info("image migration complete", "migrated", migrated)
	return migrated, nil
}

func (s *CatalogService) migrateBlob(ctx context.Context, id string, maxWidth, quality int) error {
	src, err := s.blobs.Get(ctx, id)
	if err != nil {
		return err
	}
	out, err := s.codec.Reencode(ctx, src.Data, maxWidth, quality)
	if err != nil {
		return err
	}
	return s.blobs.Replace(ctx, id, out)
}

// FindDuplicates returns the stored items whose photo looks the same as source.
func (s *CatalogService) FindDuplicates(ctx context.Context, source []byte) ([]*domain.Item, error) {
	hash, err := media.HashOf(source)
	if err != nil {
		return nil, err
	}
	return s.items.FindByImageHash(ctx, hash)
}

// RegionSummary is a region prepared for the dashboard.
type RegionSummary struct {
	*domain.Region
	CompletionPercent int
	HasTarget         bool
}

// RegionSummaries lists every region the user has not hidden.
func (s *CatalogService) RegionSummaries(ctx context.Context) ([]*RegionSummary, error) {
	regions, err := s.regions.List(ctx)
	if err != nil {
		return nil, err
	}
	hidden := map[string]bool{}
	if s.hidden != nil {
		if hidden, err = s.hidden.Set(ctx); err != nil {
			return nil, err
		}
	}

	summaries := make([]*RegionSummary, 0, len(regions))
	for _, r := range regions {
		if hidden[r.ID] {
			continue
		}
		pct, ok := r.CompletionPercent()
		summaries = append(summaries, &RegionSummary{Region: r, CompletionPercent: pct, HasTarget: ok})
	}
	return summaries, nil
}

func (s *CatalogService) GetRegion(ctx context.Context, id string) (*domain.Region, error) {
	return s.regions.GetByID(ctx, id)
}

func (s *CatalogService) SetRegionTarget(ctx context.Context, id string, target *int) (*domain.Region, error) {
	return s.regions.UpdateTargetCount(ctx, id, target)
}

func (s *CatalogService) Settings(ctx context.Context) (*domain.Settings, error) {
	return s.settings.Get(ctx)
}

// SetCompressionTier changes the tier used for new photos. The high tier is
// gated behind the HighQuality feature when gates are configured.
func (s *CatalogService) SetCompressionTier(ctx context.Context, tier domain.CompressionTier) (*domain.Settings, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid compression tier %q", tier)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if tier == domain.TierHigh && s.gates != nil {
		ok, err := s.gates.Enabled(ctx, features.HighQuality, s.env(ctx, settings))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrPremiumRequired
		}
	}
	settings.CompressionTier = tier
	return s.settings.Update(ctx, settings)
}

// ActivatePremium validates key and, when accepted, unlocks premium.
func (s *CatalogService) ActivatePremium(ctx context.Context, key string) (*domain.Settings, License, error) {
	if s.license == nil {
		return nil, License{}, fmt.Errorf("%w: no validator configured", ErrInvalidLicense)
	}
	lic := s.license.Validate(key)
	if !lic.Valid {
		s.logger.Info("license rejected", "message", lic.Message)
		return nil, lic, fmt.Errorf("%w: %s", ErrInvalidLicense, lic.Message)
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, lic, fmt.Errorf("failed to get settings: %w", err)
	}
	now := s.now()
	settings.Premium = &domain.Premium{Enabled: true, ActivatedAt: &now, Key: strings.TrimSpace(key)}
	updated, err := s.settings.Update(ctx, settings)
	if err != nil {
		return nil, lic, fmt.Errorf("failed to update settings: %w", err)
	}
	s.logger.Info("premium activated", "friend_code", lic.IsFriendCode)
	return updated, lic, nil
}

// FeatureEnv is the environment feature rules are evaluated against.
func (s *CatalogService) FeatureEnv(ctx context.Context) (features.Env, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return features.Env{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return s.env(ctx, settings), nil
}

func (s *CatalogService) env(ctx context.Context, settings *domain.Settings) features.Env {
	return featureEnv(ctx, settings, s.regions)
}

type regionLister interface {
	List(ctx context.Context) ([]*domain.Region, error)
}

// featureEnv is the input every gate rule is evaluated against. The item
// count is the sum of the region counters.
func featureEnv(ctx context.Context, settings *domain.Settings, regions regionLister) features.Env {
	env := features.Env{Premium: settings.IsPremium(), Tier: string(settings.CompressionTier)}
	if regions == nil {
		return env
	}
	list, err := regions.List(ctx)
	if err != nil {
		return env
	}
	for _, r := range list {
		env.ItemCount += r.ItemCount
	}
	return env
}
