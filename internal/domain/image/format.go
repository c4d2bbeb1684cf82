package image

import (
	"fmt"
	"strings"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

// Format is a target encoding.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatICO  Format = "ico"
	FormatSVG  Format = "svg"
	FormatTIFF Format = "tiff"
	FormatAVIF Format = "avif"
)

var formatMediaTypes = map[Format]string{
	FormatWebP: "image/webp",
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatBMP:  "image/bmp",
	FormatICO:  "image/x-icon",
	FormatSVG:  "image/svg+xml",
	FormatTIFF: "image/tiff",
	FormatAVIF: "image/avif",
}

var allFormats = []Format{
	FormatWebP, FormatJPEG, FormatPNG, FormatGIF, FormatBMP,
	FormatICO, FormatSVG, FormatTIFF, FormatAVIF,
}

// AllFormats lists every target format in display order.
func AllFormats() []Format {
	out := make([]Format, len(allFormats))
	copy(out, allFormats)
	return out
}

// ParseFormat accepts a format name or the "jpg" alias.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "jpg" {
		name = "jpeg"
	}
	f := Format(name)
	if !f.Valid() {
		return "", errors.New(errors.KindConfig, "image.parse-format", fmt.Sprintf("unsupported format %q", s))
	}
	return f, nil
}

func (f Format) Valid() bool {
	_, ok := formatMediaTypes[f]
	return ok
}

func (f Format) String() string { return string(f) }

// MediaType returns the MIME type written for f.
func (f Format) MediaType() string {
	return formatMediaTypes[f]
}

// Extension is the file extension (without dot) used for archive entries.
func (f Format) Extension() string {
	return string(f)
}

func (f Format) IsVector() bool {
	return f == FormatSVG
}

// SupportsAlpha reports whether f keeps transparency.
func (f Format) SupportsAlpha() bool {
	switch f {
	case FormatJPEG, FormatBMP:
		return false
	}
	return true
}

// Limited marks formats whose browser support is inconsistent.
func (f Format) Limited() bool {
	switch f {
	case FormatICO, FormatTIFF, FormatAVIF:
		return true
	}
	return false
}
