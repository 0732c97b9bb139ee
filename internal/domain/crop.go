package domain

import "math"

// Crop selects the part of a primary image a thumbnail is cut from. It is
// either a SquareCrop (the legacy shape) or a RectCrop. Coordinates are
// normalized to [0,1] of the source image.
type Crop interface {
	// Rect returns the crop in rectangle form.
	Rect() RectCrop
	isCrop()
}

// SquareCrop is the legacy crop shape: a square whose side is Size times the
// shorter source dimension, anchored at (X, Y).
type SquareCrop struct {
	X, Y, Size float64
}

func (c SquareCrop) Rect() RectCrop {
	return RectCrop{X: c.X, Y: c.Y, Width: c.Size, Height: c.Size}
}

func (SquareCrop) isCrop() {}

// Clamp pulls every field into [0,1]. The square may still overhang the
// source; the thumbnail cutter keeps it in bounds.
func (c SquareCrop) Clamp() SquareCrop {
	return SquareCrop{X: unit(c.X), Y: unit(c.Y), Size: unit(c.Size)}
}

type RectCrop struct {
	X, Y, Width, Height float64
}

func (c RectCrop) Rect() RectCrop { return c }

func (RectCrop) isCrop() {}

// Clamp pulls every coordinate into [0,1] and keeps the rectangle inside the
// unit square by shrinking Width and Height.
func (c RectCrop) Clamp() RectCrop {
	out := RectCrop{
		X:      unit(c.X),
		Y:      unit(c.Y),
		Width:  unit(c.Width),
		Height: unit(c.Height),
	}
	if out.X+out.Width > 1 {
		out.Width = 1 - out.X
	}
	if out.Y+out.Height > 1 {
		out.Height = 1 - out.Y
	}
	return out
}

// ClampCrop clamps either crop shape, keeping its kind. A nil crop stays nil.
func ClampCrop(c Crop) Crop {
	switch c := c.(type) {
	case SquareCrop:
		return c.Clamp()
	case RectCrop:
		return c.Clamp()
	}
	return nil
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
