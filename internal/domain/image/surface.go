package image

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

// icoMaxEdge is the largest size an ICO directory entry can describe.
const icoMaxEdge = 256

// newSurface allocates the output drawing surface.
func newSurface(width, height int, maxPixels int64) (*image.NRGBA, error) {
	const op = "image.surface"
	if width <= 0 || height <= 0 {
		return nil, errors.New(errors.KindCanvas, op, fmt.Sprintf("cannot allocate %dx%d surface", width, height))
	}
	if maxPixels > 0 && int64(width)*int64(height) > maxPixels {
		return nil, errors.New(errors.KindCanvas, op,
			fmt.Sprintf("surface %dx%d exceeds %d pixels", width, height, maxPixels))
	}
	return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
}

// render scales src onto dst. Targets without alpha get a white backdrop;
// the others start fully transparent.
func render(dst *image.NRGBA, src image.Image, format Format) {
	if !format.SupportsAlpha() {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
}

func copyToNRGBA(dst *image.NRGBA, src image.Image) {
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
}

// hasAlpha reports whether img may contain non-opaque pixels.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
