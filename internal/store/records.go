package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vbonduro/manholedex/internal/domain"
)

// Records are the stored, flat shape of each entity: string dates, the raw
// crop object as written by any version of the app.

type RegionRecord struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ItemCount       int    `json:"itemCount"`
	TargetCount     *int   `json:"targetCount,omitempty"`
	LastItemDate    string `json:"lastItemDate,omitempty"`
	TargetUpdatedAt string `json:"targetUpdatedAt,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// CropRecord accepts both the rectangle shape {x,y,width,height} and the
// legacy square shape {x,y,size}.
type CropRecord struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Size   *float64 `json:"size,omitempty"`
}

type ItemRecord struct {
	ID          string           `json:"id"`
	RegionID    string           `json:"regionId"`
	ImageID     string           `json:"imageId"`
	ThumbnailID string           `json:"thumbnailId"`
	Memo        string           `json:"memo"`
	TakenAt     string           `json:"takenAt"`
	CropRect    *CropRecord      `json:"cropRect,omitempty"`
	IsFavorite  bool             `json:"isFavorite"`
	Location    *domain.Location `json:"location,omitempty"`
	ImageHash   string           `json:"imageHash,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

type PremiumRecord struct {
	Enabled     bool   `json:"enabled"`
	ActivatedAt string `json:"activatedAt,omitempty"`
	Key         string `json:"key,omitempty"`
}

type SettingsRecord struct {
	ID              string         `json:"id"`
	SchemaVersion   int            `json:"schemaVersion"`
	CompressionTier string         `json:"compressionTier"`
	LastBackupAt    string         `json:"lastBackupAt,omitempty"`
	Premium         *PremiumRecord `json:"premium,omitempty"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

// Crop decodes the stored shape into the crop union. A record with a size
// is the legacy square; one with width and height is a rectangle.
func (c *CropRecord) Crop() domain.Crop {
	switch {
	case c == nil:
		return nil
	case c.Size != nil:
		return domain.SquareCrop{X: c.X, Y: c.Y, Size: *c.Size}
	case c.Width != nil && c.Height != nil:
		return domain.RectCrop{X: c.X, Y: c.Y, Width: *c.Width, Height: *c.Height}
	}
	return nil
}

func cropRecord(c domain.Crop) *CropRecord {
	switch c := c.(type) {
	case domain.SquareCrop:
		size := c.Size
		return &CropRecord{X: c.X, Y: c.Y, Size: &size}
	case domain.RectCrop:
		w, h := c.Width, c.Height
		return &CropRecord{X: c.X, Y: c.Y, Width: &w, Height: &h}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseStamp reads a bookkeeping timestamp; an empty stamp reads as zero.
func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return parseTime(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func (r *RegionRecord) Domain() (*domain.Region, error) {
	region := &domain.Region{
		ID:        r.ID,
		Name:      r.Name,
		ItemCount: r.ItemCount,
	}
	if r.ItemCount < 0 {
		region.ItemCount = 0
	}
	if r.TargetCount != nil {
		target := *r.TargetCount
		region.TargetCount = &target
	}

	var err error
	if region.LastItemDate, err = parseOptionalTime(r.LastItemDate); err != nil {
		return nil, fmt.Errorf("region %s lastItemDate: %w", r.ID, err)
	}
	if region.TargetUpdatedAt, err = parseOptionalTime(r.TargetUpdatedAt); err != nil {
		return nil, fmt.Errorf("region %s targetUpdatedAt: %w", r.ID, err)
	}
	if region.CreatedAt, err = parseStamp(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("region %s createdAt: %w", r.ID, err)
	}
	if region.UpdatedAt, err = parseStamp(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("region %s updatedAt: %w", r.ID, err)
	}
	return region, nil
}

func NewRegionRecord(r *domain.Region) *RegionRecord {
	rec := &RegionRecord{
		ID:              r.ID,
		Name:            r.Name,
		ItemCount:       r.ItemCount,
		LastItemDate:    formatOptionalTime(r.LastItemDate),
		TargetUpdatedAt: formatOptionalTime(r.TargetUpdatedAt),
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
	if r.TargetCount != nil {
		target := *r.TargetCount
		rec.TargetCount = &target
	}
	return rec
}

// Domain converts the record, normalizing any legacy crop to rectangle form
// and clamping it into the unit square.
func (r *ItemRecord) Domain() (*domain.Item, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("item record has no id")
	}
	item := &domain.Item{
		ID:               r.ID,
		RegionID:         r.RegionID,
		PrimaryImageID:   r.ImageID,
		ThumbnailImageID: r.ThumbnailID,
		Memo:             r.Memo,
		IsFavorite:       r.IsFavorite,
		ImageHash:        r.ImageHash,
	}
	if r.Location != nil {
		loc := *r.Location
		item.Location = &loc
	}
	item.Crop = domain.ClampCrop(r.CropRect.Crop())

	var err error
	if item.TakenAt, err = parseTime(r.TakenAt); err != nil {
		return nil, fmt.Errorf("item %s takenAt: %w", r.ID, err)
	}
	if item.CreatedAt, err = parseStamp(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("item %s createdAt: %w", r.ID, err)
	}
	if item.UpdatedAt, err = parseStamp(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("item %s updatedAt: %w", r.ID, err)
	}
	return item, nil
}

func NewItemRecord(item *domain.Item) *ItemRecord {
	rec := &ItemRecord{
		ID:          item.ID,
		RegionID:    item.RegionID,
		ImageID:     item.PrimaryImageID,
		ThumbnailID: item.ThumbnailImageID,
		Memo:        item.Memo,
		TakenAt:     formatTime(item.TakenAt),
		CropRect:    cropRecord(item.Crop),
		IsFavorite:  item.IsFavorite,
		ImageHash:   item.ImageHash,
		CreatedAt:   formatTime(item.CreatedAt),
		UpdatedAt:   formatTime(item.UpdatedAt),
	}
	if item.Location != nil {
		loc := *item.Location
		rec.Location = &loc
	}
	return rec
}

func (r *SettingsRecord) Domain() (*domain.Settings, error) {
	s := &domain.Settings{
		SchemaVersion:   r.SchemaVersion,
		CompressionTier: domain.CompressionTier(r.CompressionTier),
	}
	if !s.CompressionTier.Valid() {
		s.CompressionTier = domain.TierStandard
	}

	var err error
	if s.LastBackupAt, err = parseOptionalTime(r.LastBackupAt); err != nil {
		return nil, fmt.Errorf("settings lastBackupAt: %w", err)
	}
	if r.Premium != nil {
		p := &domain.Premium{Enabled: r.Premium.Enabled, Key: r.Premium.Key}
		if p.ActivatedAt, err = parseOptionalTime(r.Premium.ActivatedAt); err != nil {
			return nil, fmt.Errorf("settings premium.activatedAt: %w", err)
		}
		s.Premium = p
	}
	if s.CreatedAt, err = parseStamp(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("settings createdAt: %w", err)
	}
	if s.UpdatedAt, err = parseStamp(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("settings updatedAt: %w", err)
	}
	return s, nil
}

func NewSettingsRecord(s *domain.Settings) *SettingsRecord {
	rec := &SettingsRecord{
		ID:              SettingsKey,
		SchemaVersion:   s.SchemaVersion,
		CompressionTier: string(s.CompressionTier),
		LastBackupAt:    formatOptionalTime(s.LastBackupAt),
		CreatedAt:       formatTime(s.CreatedAt),
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
	if s.Premium != nil {
		rec.Premium = &PremiumRecord{
			Enabled:     s.Premium.Enabled,
			ActivatedAt: formatOptionalTime(s.Premium.ActivatedAt),
			Key:         s.Premium.Key,
		}
	}
	return rec
}

// DecodeItem parses a stored item document into its domain form.
func DecodeItem(data []byte) (*domain.Item, error) {
	var rec ItemRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return rec.Domain()
}

// EncodeItem renders item in its stored form.
func EncodeItem(item *domain.Item) ([]byte, error) {
	return json.Marshal(NewItemRecord(item))
}

func DecodeRegion(data []byte) (*domain.Region, error) {
	var rec RegionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode region: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("region record has no id")
	}
	return rec.Domain()
}

func EncodeRegion(r *domain.Region) ([]byte, error) {
	return json.Marshal(NewRegionRecord(r))
}

func DecodeSettings(data []byte) (*domain.Settings, error) {
	var rec SettingsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return rec.Domain()
}

func EncodeSettings(s *domain.Settings) ([]byte, error) {
	return json.Marshal(NewSettingsRecord(s))
}
