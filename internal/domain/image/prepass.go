package image

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

const (
	// DefaultPrepassMaxBytes is the working ceiling on the intermediate payload.
	DefaultPrepassMaxBytes = 2 << 20
	prepassMaxIterations   = 10
	prepassShrinkStep      = 0.95
)

// Compressor bounds the intermediate representation before the final resize:
// the long edge is fitted first, then size and quality shrink by 5% per
// round until the encoded payload fits MaxBytes.
type Compressor struct {
	MaxBytes      int64
	MaxIterations int
}

// NewCompressor returns a compressor with the given byte budget; zero means
// DefaultPrepassMaxBytes.
func NewCompressor(maxBytes int64) *Compressor {
	if maxBytes <= 0 {
		maxBytes = DefaultPrepassMaxBytes
	}
	return &Compressor{MaxBytes: maxBytes, MaxIterations: prepassMaxIterations}
}

// Fits reports whether a source can skip the pre-pass entirely.
func (c *Compressor) Fits(cfg image.Config, size int, longEdge int) bool {
	return max(cfg.Width, cfg.Height) <= longEdge && int64(size) <= c.MaxBytes
}

// Compress fits img to longEdge and re-encodes it under the byte budget.
// quality is the initial hint in (0, 1]. Images with alpha are kept as PNG,
// everything else becomes JPEG.
func (c *Compressor) Compress(ctx context.Context, img image.Image, longEdge int, quality float64) ([]byte, error) {
	const op = "image.prepass"

	b := img.Bounds()
	if longEdge > 0 && max(b.Dx(), b.Dy()) > longEdge {
		img = imaging.Fit(img, longEdge, longEdge, imaging.Lanczos)
	}

	format := imaging.JPEG
	if hasAlpha(img) {
		format = imaging.PNG
	}

	iterations := c.MaxIterations
	if iterations <= 0 {
		iterations = prepassMaxIterations
	}

	var buf bytes.Buffer
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf.Reset()
		err := imaging.Encode(&buf, img, format,
			imaging.JPEGQuality(jpegQuality(quality)),
			imaging.PNGCompressionLevel(png.BestCompression),
		)
		if err != nil {
			return nil, errors.Wrap(errors.KindLoad, op, "cannot re-encode intermediate image", err)
		}
		if int64(buf.Len()) <= c.MaxBytes || i >= iterations-1 {
			break
		}

		b := img.Bounds()
		w := max(1, int(float64(b.Dx())*prepassShrinkStep))
		h := max(1, int(float64(b.Dy())*prepassShrinkStep))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		quality *= prepassShrinkStep
	}

	return buf.Bytes(), nil
}

func jpegQuality(q float64) int {
	return min(100, max(1, int(math.Round(q*100))))
}
