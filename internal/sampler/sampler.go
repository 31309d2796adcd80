// Package sampler reduces a video of arbitrary length to a fixed number of
// evenly spaced frames and rescales the frames that were kept.
package sampler

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	MinScale = 0.1
	MaxScale = 10.0
)

var (
	ErrEmptySource  = errors.New("empty source: no frames available")
	ErrInvalidScale = errors.New("invalid scale factor")
)

// Sample returns min(frameCount, target) strictly increasing indices spread
// across [0, frameCount-1]. Each index is the linear interpolation point
// rounded to the nearest integer.
func Sample(frameCount, target int) ([]int, error) {
	if frameCount <= 0 {
		return nil, ErrEmptySource
	}
	if target < 1 {
		target = 1
	}
	if target >= frameCount {
		indices := make([]int, frameCount)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	if target == 1 {
		return []int{0}, nil
	}

	span := frameCount - 1
	steps := target - 1
	indices := make([]int, target)
	for i := range indices {
		// round(i*span/steps) with integer math, halves rounded up
		indices[i] = (2*i*span + steps) / (2 * steps)
	}
	return indices, nil
}

func ValidateScale(scale float64) error {
	if math.IsNaN(scale) || scale < MinScale || scale > MaxScale {
		return fmt.Errorf("%w: %v (must be between %v and %v)", ErrInvalidScale, scale, MinScale, MaxScale)
	}
	return nil
}

// ScaledSize multiplies both dimensions by scale, rounding to the nearest
// integer and never going below one pixel.
func ScaledSize(width, height int, scale float64) (int, int) {
	if scale == 1 {
		return width, height
	}
	return scaleDim(width, scale), scaleDim(height, scale)
}

func scaleDim(v int, scale float64) int {
	scaled := int(math.Round(float64(v) * scale))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// Rescale resizes img by scale using Catmull-Rom resampling. A scale of
// exactly 1 returns img untouched.
func Rescale(img image.Image, scale float64) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptySource
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	if scale == 1 {
		return img, nil
	}

	bounds := img.Bounds()
	width, height := ScaledSize(bounds.Dx(), bounds.Dy(), scale)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, nil
}
