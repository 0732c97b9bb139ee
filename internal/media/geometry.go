package media

import (
	"image"
	"math"

	"github.com/vbonduro/manholedex/internal/domain"
)

// ThumbnailSource returns the square region of a w×h source that a
// thumbnail is cut from. The result always lies inside the source bounds.
//
// A legacy SquareCrop anchors a square of side Size×min(w,h) at (X×w, Y×h).
// A RectCrop takes a square of the rectangle's shorter pixel side, centered
// on the rectangle's center, then shifted (never shrunk) into bounds.
// A nil crop takes the centered square spanning the shorter dimension.
func ThumbnailSource(w, h int, crop domain.Crop) image.Rectangle {
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	short := float64(min(w, h))
	fw, fh := float64(w), float64(h)

	var left, top, side float64
	switch c := crop.(type) {
	case domain.SquareCrop:
		side = c.Size * short
		left = c.X * fw
		top = c.Y * fh
	case domain.RectCrop:
		pw, ph := c.Width*fw, c.Height*fh
		cx := c.X*fw + pw/2
		cy := c.Y*fh + ph/2
		side = math.Min(pw, ph)
		left = cx - side/2
		top = cy - side/2
	default:
		side = short
		left = (fw - side) / 2
		top = (fh - side) / 2
	}

	if math.IsNaN(side) || math.IsNaN(left) || math.IsNaN(top) {
		side = short
		left = (fw - side) / 2
		top = (fh - side) / 2
	}

	s := int(math.Round(side))
	if s < 1 {
		s = 1
	}
	if s > int(short) {
		s = int(short)
	}
	x := clampInt(int(math.Round(left)), 0, w-s)
	y := clampInt(int(math.Round(top)), 0, h-s)
	return image.Rect(x, y, x+s, y+s)
}

// scaledSize returns the dimensions after capping width at maxWidth,
// preserving aspect ratio. Images narrower than the cap are left alone.
func scaledSize(w, h, maxWidth int) (int, int) {
	if maxWidth <= 0 || w <= maxWidth {
		return w, h
	}
	nh := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if nh < 1 {
		nh = 1
	}
	return maxWidth, nh
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
