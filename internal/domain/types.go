package domain

import "time"

// CompressionTier selects the size cap and quality used for primary images.
type CompressionTier string

const (
	TierHigh     CompressionTier = "high"
	TierStandard CompressionTier = "standard"
	TierLow      CompressionTier = "low"
)

func (t CompressionTier) Valid() bool {
	switch t {
	case TierHigh, TierStandard, TierLow:
		return true
	}
	return false
}

type Region struct {
	ID              string
	Name            string
	ItemCount       int
	TargetCount     *int
	LastItemDate    *time.Time
	TargetUpdatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CompletionPercent reports ItemCount against TargetCount, capped at 100.
// It returns false when no target is set.
func (r *Region) CompletionPercent() (int, bool) {
	if r.TargetCount == nil || *r.TargetCount <= 0 {
		return 0, false
	}
	pct := r.ItemCount * 100 / *r.TargetCount
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// ImageData is an encoded image held in memory.
type ImageData struct {
	Type string
	Data []byte
}

type Item struct {
	ID               string
	RegionID         string
	PrimaryImageID   string
	ThumbnailImageID string
	Memo             string
	TakenAt          time.Time
	Crop             Crop
	IsFavorite       bool
	Location         *Location
	ImageHash        string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Resolved from the blob collection on read; never persisted on the record.
	PrimaryImage *ImageData
	Thumbnail    *ImageData
}

type Premium struct {
	Enabled     bool
	ActivatedAt *time.Time
	Key         string
}

type Settings struct {
	SchemaVersion   int
	CompressionTier CompressionTier
	LastBackupAt    *time.Time
	Premium         *Premium
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsPremium reports whether premium features are unlocked.
func (s *Settings) IsPremium() bool {
	return s.Premium != nil && s.Premium.Enabled
}
