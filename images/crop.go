package images

import (
	"image"

	"github.com/disintegration/imaging"
)

// Crop returns the part of img inside region, given relative to the image
// origin. The region is clamped to the image bounds and never smaller than
// 1x1. An empty region returns img unchanged.
func Crop(img image.Image, region image.Rectangle) (image.Image, image.Rectangle) {
	b := img.Bounds()
	rel := b.Sub(b.Min)
	if region.Empty() || b.Empty() {
		return img, rel
	}
	roi := region.Intersect(rel)
	if roi.Empty() {
		// Region lies outside the image: keep a single pixel at the nearest corner.
		x := min(max(region.Min.X, 0), rel.Dx()-1)
		y := min(max(region.Min.Y, 0), rel.Dy()-1)
		roi = image.Rect(x, y, x+1, y+1)
	}
	return imaging.Crop(img, roi.Add(b.Min)), roi
}
