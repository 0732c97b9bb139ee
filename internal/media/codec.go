// Package media turns a source photo into the compressed primary image and
// the square thumbnail stored for each item.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"log/slog"
	"sync"

	"github.com/ajdnik/imghash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/manholedex/internal/domain"
)

const (
	// ThumbnailSize is the side length of every thumbnail, in pixels.
	ThumbnailSize = 300
	// ThumbnailQuality is the JPEG quality of every thumbnail, whatever the tier.
	ThumbnailQuality = 80

	// MimeJPEG is the content type of everything the codec produces.
	MimeJPEG = "image/jpeg"
)

var (
	ErrDecode = errors.New("failed to decode image")
	ErrEncode = errors.New("failed to encode image")
)

// Profile is the primary-image size cap and JPEG quality for a tier.
type Profile struct {
	MaxWidth int
	Quality  int
}

var profiles = map[domain.CompressionTier]Profile{
	domain.TierHigh:     {MaxWidth: 2000, Quality: 85},
	domain.TierStandard: {MaxWidth: 2000, Quality: 70},
	domain.TierLow:      {MaxWidth: 1500, Quality: 60},
}

// ProfileFor returns the profile for tier, falling back to standard.
func ProfileFor(tier domain.CompressionTier) Profile {
	if p, ok := profiles[tier]; ok {
		return p
	}
	return profiles[domain.TierStandard]
}

// Result holds both encoded outputs of Process.
type Result struct {
	Primary         domain.ImageData
	Thumbnail       domain.ImageData
	PrimaryBounds   image.Rectangle
	ThumbnailSource image.Rectangle
	// Hash is the perceptual hash of the decoded source.
	Hash string
}

type Codec struct {
	logger *slog.Logger
	bufs   sync.Pool
}

func NewCodec(logger *slog.Logger) *Codec {
	return &Codec{
		logger: logger,
		bufs:   sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

// Process decodes src and produces the primary image and the thumbnail
// concurrently. It returns once both are done; if either fails, neither
// output is returned.
func (c *Codec) Process(ctx context.Context, src []byte, crop domain.Crop, tier domain.CompressionTier) (*Result, error) {
	img, err := decode(src)
	if err != nil {
		return nil, err
	}
	profile := ProfileFor(tier)
	bounds := img.Bounds()
	c.logger.Debug("image decoded", "width", bounds.Dx(), "height", bounds.Dy(), "tier", tier)

	res := &Result{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := c.encodePrimary(ctx, img, profile)
		if err != nil {
			return err
		}
		w, h := scaledSize(bounds.Dx(), bounds.Dy(), profile.MaxWidth)
		res.Primary = out
		res.PrimaryBounds = image.Rect(0, 0, w, h)
		return nil
	})
	g.Go(func() error {
		out, rect, err := c.encodeThumbnail(ctx, img, crop)
		if err != nil {
			return err
		}
		res.Thumbnail = out
		res.ThumbnailSource = rect
		return nil
	})
	g.Go(func() error {
		res.Hash = Hash(img)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// Thumbnail cuts and encodes only the thumbnail of src.
func (c *Codec) Thumbnail(ctx context.Context, src []byte, crop domain.Crop) (domain.ImageData, image.Rectangle, error) {
	img, err := decode(src)
	if err != nil {
		return domain.ImageData{}, image.Rectangle{}, err
	}
	return c.encodeThumbnail(ctx, img, crop)
}

// Reencode decodes src and writes it back as JPEG at quality, capping the
// width at maxWidth when maxWidth is positive.
func (c *Codec) Reencode(ctx context.Context, src []byte, maxWidth, quality int) (domain.ImageData, error) {
	img, err := decode(src)
	if err != nil {
		return domain.ImageData{}, err
	}
	return c.encodePrimary(ctx, img, Profile{MaxWidth: maxWidth, Quality: quality})
}

// HashOf decodes src and returns its perceptual hash.
func HashOf(src []byte) (string, error) {
	img, err := decode(src)
	if err != nil {
		return "", err
	}
	return Hash(img), nil
}

// Hash returns the perceptual hash of img.
func Hash(img image.Image) string {
	ph := imghash.NewPHash()
	return fmt.Sprintf("%d", ph.Calculate(img))
}

func decode(src []byte) (image.Image, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

func (c *Codec) encodePrimary(ctx context.Context, img image.Image, profile Profile) (domain.ImageData, error) {
	b := img.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), profile.MaxWidth)
	if w != b.Dx() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	return c.encode(ctx, img, profile.Quality)
}

func (c *Codec) encodeThumbnail(ctx context.Context, img image.Image, crop domain.Crop) (domain.ImageData, image.Rectangle, error) {
	b := img.Bounds()
	rect := ThumbnailSource(b.Dx(), b.Dy(), crop)
	cropped := imaging.Crop(img, rect.Add(b.Min))
	thumb := imaging.Resize(cropped, ThumbnailSize, ThumbnailSize, imaging.Lanczos)

	out, err := c.encode(ctx, thumb, ThumbnailQuality)
	if err != nil {
		return domain.ImageData{}, image.Rectangle{}, err
	}
	return out, rect, nil
}

// encode writes img as JPEG into a pooled buffer and copies the bytes out.
// The buffer goes back to the pool on every path.
func (c *Codec) encode(ctx context.Context, img image.Image, quality int) (domain.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageData{}, err
	}

	buf := c.bufs.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		c.bufs.Put(buf)
	}()

	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return domain.ImageData{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return domain.ImageData{}, fmt.Errorf("%w: empty output", ErrEncode)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return domain.ImageData{Type: MimeJPEG, Data: data}, nil
}
