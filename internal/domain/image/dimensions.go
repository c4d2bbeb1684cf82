package image

import "math"

// FitDimensions scales (width, height) down, preserving aspect ratio, so the
// result fits inside maxWidth x maxHeight. A single scale factor
// min(maxWidth/width, maxHeight/height) is applied, which gives the same
// answer as clamping width first and height second but can never leave
// either side over its bound. Images are never enlarged.
func FitDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	scale := 1.0
	if maxWidth > 0 {
		scale = math.Min(scale, float64(maxWidth)/float64(width))
	}
	if maxHeight > 0 {
		scale = math.Min(scale, float64(maxHeight)/float64(height))
	}
	if scale >= 1 {
		return width, height
	}

	w := max(1, int(math.Round(float64(width)*scale)))
	h := max(1, int(math.Round(float64(height)*scale)))
	if maxWidth > 0 {
		w = min(w, maxWidth)
	}
	if maxHeight > 0 {
		h = min(h, maxHeight)
	}
	return w, h
}
