package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/manholedex/internal/db"
	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/features"
	"github.com/vbonduro/manholedex/internal/media"
	"github.com/vbonduro/manholedex/internal/prefs"
	"github.com/vbonduro/manholedex/internal/store"
)

// stubDates is a DateExtractor that returns a fixed date.
type stubDates struct {
	t  time.Time
	ok bool
}

func (s stubDates) TakenAt([]byte) (time.Time, bool) { return s.t, s.ok }

type testEnv struct {
	db       *db.Store
	svc      *CatalogService
	regions  *store.RegionStore
	items    *store.ItemStore
	settings *store.SettingsStore
	blobs    *store.BlobStore
	hidden   *prefs.HiddenSet
}

func newTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	logger := slog.Default()
	env := &testEnv{
		db:       d,
		regions:  store.NewRegionStore(d, logger),
		items:    store.NewItemStore(d, logger),
		settings: store.NewSettingsStore(d, domain.TierStandard, logger),
		blobs:    store.NewBlobStore(d),
		hidden:   prefs.NewHiddenRegions(d, logger),
	}
	opts = append([]Option{WithHiddenRegions(env.hidden)}, opts...)
	env.svc = NewCatalogService(env.regions, env.items, env.settings, env.blobs, media.NewCodec(logger), logger, opts...)

	_, err = env.svc.SeedRegions(context.Background())
	require.NoError(t, err)
	return env
}

func photo(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8((x + y) % 256), B: uint8(y * 255 / h), A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestCatalogServiceAddItem(t *testing.T) {
	taken := time.Date(2023, 11, 3, 14, 0, 0, 0, time.UTC)
	env := newTestService(t, WithDateExtractor(stubDates{t: taken, ok: true}))
	ctx := context.Background()

	item, err := env.svc.AddItem(ctx, "13", jpegBytes(t, photo(2400, 1600)), AddItemInput{
		Memo: "Shinjuku",
		Crop: &domain.RectCrop{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, "13", item.RegionID)
	assert.Equal(t, "Shinjuku", item.Memo)
	assert.True(t, taken.Equal(item.TakenAt))
	assert.NotEmpty(t, item.ImageHash)
	assert.Equal(t, media.MimeJPEG, item.PrimaryImage.Type)

	w, h := imageSize(t, item.PrimaryImage.Data)
	assert.Equal(t, 2000, w)
	assert.Equal(t, 1333, h)
	w, h = imageSize(t, item.Thumbnail.Data)
	assert.Equal(t, media.ThumbnailSize, w)
	assert.Equal(t, media.ThumbnailSize, h)

	region, err := env.regions.GetByID(ctx, "13")
	require.NoError(t, err)
	assert.Equal(t, 1, region.ItemCount)
}

func TestCatalogServiceAddItem_DateFallbacks(t *testing.T) {
	env := newTestService(t, WithDateExtractor(stubDates{}))
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return fixed }
	ctx := context.Background()
	src := jpegBytes(t, photo(64, 64))

	item, err := env.svc.AddItem(ctx, "01", src, AddItemInput{})
	require.NoError(t, err)
	assert.True(t, fixed.Equal(item.TakenAt), "no embedded date falls back to now")

	override := time.Date(2020, 2, 2, 0, 0, 0, 0, time.UTC)
	item, err = env.svc.AddItem(ctx, "01", src, AddItemInput{TakenAt: override})
	require.NoError(t, err)
	assert.True(t, override.Equal(item.TakenAt))
}

func TestCatalogServiceAddItem_UsesSettingsTier(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	_, err := env.svc.SetCompressionTier(ctx, domain.TierLow)
	require.NoError(t, err)

	item, err := env.svc.AddItem(ctx, "01", jpegBytes(t, photo(4000, 3000)), AddItemInput{})
	require.NoError(t, err)
	w, h := imageSize(t, item.PrimaryImage.Data)
	assert.Equal(t, 1500, w)
	assert.Equal(t, 1125, h)
}

func TestCatalogServiceAddItem_RegionNotFound(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.AddItem(context.Background(), "99", jpegBytes(t, photo(32, 32)), AddItemInput{})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCatalogServiceAddItem_UndecodablePhoto(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.AddItem(ctx, "01", []byte("not an image"), AddItemInput{})
	assert.ErrorIs(t, err, media.ErrDecode)

	n, err := env.db.Count(ctx, db.Blobs)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalogServiceUpdateAndToggleFavorite(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	item, err := env.svc.AddItem(ctx, "01", jpegBytes(t, photo(64, 64)), AddItemInput{Memo: "first"})
	require.NoError(t, err)

	updated, err := env.svc.UpdateItem(ctx, item.ID, "second", false)
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Memo)

	fav, err := env.svc.ToggleFavorite(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, fav)
	fav, err = env.svc.ToggleFavorite(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, fav)

	_, err = env.svc.ToggleFavorite(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCatalogServiceDeleteItem(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	item, err := env.svc.AddItem(ctx, "01", jpegBytes(t, photo(64, 64)), AddItemInput{})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteItem(ctx, item.ID))

	_, err = env.svc.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	items, err := env.svc.ListRegionItems(ctx, "01")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCatalogServiceListRegionItems_UnknownRegion(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.ListRegionItems(context.Background(), "00")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCatalogServiceRegenerateThumbnail(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	item, err := env.svc.AddItem(ctx, "01", jpegBytes(t, photo(800, 600)), AddItemInput{})
	require.NoError(t, err)

	crop := &domain.RectCrop{X: 0.5, Y: 0.5, Width: 0.25, Height: 0.25}
	first, err := env.svc.RegenerateThumbnail(ctx, item.ID, crop)
	require.NoError(t, err)
	second, err := env.svc.RegenerateThumbnail(ctx, item.ID, crop)
	require.NoError(t, err)

	for _, it := range []*domain.Item{first, second} {
		w, h := imageSize(t, it.Thumbnail.Data)
		assert.Equal(t, 300, w)
		assert.Equal(t, 300, h)
		assert.Equal(t, *crop, it.Crop)
	}

	stored, err := env.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ThumbnailImageID, stored.ThumbnailImageID)
	assert.Equal(t, item.PrimaryImage.Data, stored.PrimaryImage.Data)
}

// sourceRecorder remembers the source rectangle of every thumbnail it cuts.
type sourceRecorder struct {
	*media.Codec
	sources []image.Rectangle
}

func (r *sourceRecorder) Thumbnail(ctx context.Context, src []byte, crop domain.Crop) (domain.ImageData, image.Rectangle, error) {
	data, rect, err := r.Codec.Thumbnail(ctx, src, crop)
	r.sources = append(r.sources, rect)
	return data, rect, err
}

func TestCatalogServiceRegenerateThumbnail_ReusesStoredLegacyCrop(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	rec := &sourceRecorder{Codec: media.NewCodec(slog.Default())}
	svc := NewCatalogService(env.regions, env.items, env.settings, env.blobs, rec, slog.Default(), WithHiddenRegions(env.hidden))

	item, err := svc.AddItem(ctx, "01", jpegBytes(t, photo(800, 600)), AddItemInput{})
	require.NoError(t, err)
	legacy := domain.SquareCrop{X: 0.1, Y: 0.2, Size: 0.4}
	_, err = env.items.ReplaceThumbnail(ctx, item.ID, *item.Thumbnail, legacy)
	require.NoError(t, err)

	regenerated, err := svc.RegenerateThumbnail(ctx, item.ID, nil)
	require.NoError(t, err)

	require.NotEmpty(t, rec.sources)
	assert.Equal(t, image.Rect(80, 120, 320, 360), rec.sources[len(rec.sources)-1])
	assert.Equal(t, legacy, regenerated.Crop)

	stored, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, legacy, stored.Crop)
}

func TestCatalogServiceMigrateImageFormats(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	item, err := env.svc.AddItem(ctx, "01", jpegBytes(t, photo(200, 100)), AddItemInput{})
	require.NoError(t, err)
	broken, err := env.svc.AddItem(ctx, "02", jpegBytes(t, photo(50, 50)), AddItemInput{})
	require.NoError(t, err)

	require.NoError(t, env.blobs.Replace(ctx, item.PrimaryImageID, domain.ImageData{Type: "image/png", Data: pngBytes(t, photo(200, 100))}))
	require.NoError(t, env.blobs.Replace(ctx, broken.ThumbnailImageID, domain.ImageData{Type: "image/webp", Data: []byte("garbage")}))

	migrated, err := env.svc.MigrateImageFormats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	primary, err := env.blobs.Get(ctx, item.PrimaryImageID)
	require.NoError(t, err)
	assert.Equal(t, media.MimeJPEG, primary.Type)
	w, h := imageSize(t, primary.Data)
	assert.Equal(t, 200, w)
	assert.Equal(t, 100, h)

	thumb, err := env.blobs.Get(ctx, broken.ThumbnailImageID)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", thumb.Type, "unconvertible blobs are left alone")

	migrated, err = env.svc.MigrateImageFormats(ctx)
	require.NoError(t, err)
	assert.Zero(t, migrated)
}

func TestCatalogServiceFindDuplicates(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	src := jpegBytes(t, photo(320, 240))
	item, err := env.svc.AddItem(ctx, "01", src, AddItemInput{})
	require.NoError(t, err)

	dupes, err := env.svc.FindDuplicates(ctx, src)
	require.NoError(t, err)
	require.Len(t, dupes, 1)
	assert.Equal(t, item.ID, dupes[0].ID)

	_, err = env.svc.FindDuplicates(ctx, nil)
	assert.ErrorIs(t, err, media.ErrDecode)
}

func TestCatalogServiceAddItem_DuplicateCheck(t *testing.T) {
	env := newTestService(t)
	gates, err := features.New(env.db, slog.Default(), nil)
	require.NoError(t, err)
	env.svc.gates = gates
	ctx := context.Background()
	src := jpegBytes(t, photo(320, 240))

	_, err = env.svc.AddItem(ctx, "01", src, AddItemInput{})
	require.NoError(t, err, "an empty catalog has nothing to match")

	_, err = env.svc.AddItem(ctx, "02", src, AddItemInput{})
	assert.ErrorIs(t, err, ErrDuplicatePhoto)

	_, err = env.svc.AddItem(ctx, "02", src, AddItemInput{AllowDuplicate: true})
	require.NoError(t, err)

	require.NoError(t, gates.Override(ctx, features.DuplicateCheck, false))
	_, err = env.svc.AddItem(ctx, "03", src, AddItemInput{})
	require.NoError(t, err)

	items, err := env.svc.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCatalogServiceRegionSummaries(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	target := 2
	_, err := env.svc.SetRegionTarget(ctx, "13", &target)
	require.NoError(t, err)
	_, err = env.svc.AddItem(ctx, "13", jpegBytes(t, photo(32, 32)), AddItemInput{})
	require.NoError(t, err)
	require.NoError(t, env.hidden.Hide(ctx, "47"))

	summaries, err := env.svc.RegionSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 46)

	byID := map[string]*RegionSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.NotContains(t, byID, "47")
	require.Contains(t, byID, "13")
	assert.True(t, byID["13"].HasTarget)
	assert.Equal(t, 50, byID["13"].CompletionPercent)
	assert.False(t, byID["01"].HasTarget)
}

func TestCatalogServiceSetCompressionTier_Gated(t *testing.T) {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	gates, err := features.New(d, slog.Default(), nil)
	require.NoError(t, err)

	logger := slog.Default()
	svc := NewCatalogService(
		store.NewRegionStore(d, logger),
		store.NewItemStore(d, logger),
		store.NewSettingsStore(d, domain.TierStandard, logger),
		store.NewBlobStore(d),
		media.NewCodec(logger),
		logger,
		WithFeatureGates(gates),
		WithLicenseValidator(NewKeySetValidator([]string{"MH-0001"}, []string{"friend"})),
	)
	ctx := context.Background()

	_, err = svc.SetCompressionTier(ctx, domain.TierHigh)
	assert.ErrorIs(t, err, ErrPremiumRequired)

	_, err = svc.SetCompressionTier(ctx, "ultra")
	assert.Error(t, err)

	_, lic, err := svc.ActivatePremium(ctx, " mh-0001 ")
	require.NoError(t, err)
	assert.False(t, lic.IsFriendCode)

	settings, err := svc.SetCompressionTier(ctx, domain.TierHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.TierHigh, settings.CompressionTier)
}

func TestCatalogServiceActivatePremium(t *testing.T) {
	env := newTestService(t, WithLicenseValidator(NewKeySetValidator([]string{"MH-0001"}, []string{"FRIEND-42"})))
	ctx := context.Background()

	_, lic, err := env.svc.ActivatePremium(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidLicense)
	assert.False(t, lic.Valid)

	settings, lic, err := env.svc.ActivatePremium(ctx, "friend-42")
	require.NoError(t, err)
	assert.True(t, lic.IsFriendCode)
	assert.True(t, settings.IsPremium())
	require.NotNil(t, settings.Premium.ActivatedAt)
	assert.Equal(t, "friend-42", settings.Premium.Key)

	stored, err := env.settings.Get(ctx)
	require.NoError(t, err)
	assert.True(t, stored.IsPremium())
}

func TestCatalogServiceActivatePremium_NoValidator(t *testing.T) {
	env := newTestService(t)

	_, _, err := env.svc.ActivatePremium(context.Background(), "MH-0001")
	assert.ErrorIs(t, err, ErrInvalidLicense)
}
