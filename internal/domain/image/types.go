package image

import (
	"fmt"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

// SourceImage is one submitted file. Data is shared read-only across the
// pipeline and must not be modified.
type SourceImage struct {
	Name      string
	MediaType string
	Data      []byte
}

// Options bound a single conversion.
type Options struct {
	Format    Format `json:"format"`
	Quality   int    `json:"quality"`
	MaxWidth  int    `json:"maxWidth"`
	MaxHeight int    `json:"maxHeight"`
}

// DefaultOptions mirrors the drop page defaults.
func DefaultOptions() Options {
	return Options{
		Format:    FormatWebP,
		Quality:   80,
		MaxWidth:  1920,
		MaxHeight: 1080,
	}
}

// Validate checks every field is in range.
func (o Options) Validate() error {
	const op = "image.options"
	switch {
	case !o.Format.Valid():
		return errors.New(errors.KindConfig, op, fmt.Sprintf("unsupported format %q", o.Format))
	case o.Quality < 1 || o.Quality > 100:
		return errors.New(errors.KindConfig, op, fmt.Sprintf("quality %d outside 1-100", o.Quality))
	case o.MaxWidth <= 0 || o.MaxHeight <= 0:
		return errors.New(errors.KindConfig, op, fmt.Sprintf("bounds %dx%d must be positive", o.MaxWidth, o.MaxHeight))
	}
	return nil
}

// LongEdge is the pre-pass constraint derived from the bounds.
func (o Options) LongEdge() int {
	return max(o.MaxWidth, o.MaxHeight)
}

// Result is a successful conversion.
type Result struct {
	Data      []byte
	MediaType string
	Format    Format
	// Width and Height are zero for identity (vector to vector) results.
	Width   int
	Height  int
	Warning string
}
