package image

import (
	"mime"
	"strings"
)

// compatibility lists, per source media type, the targets offered for it.
// The first entry is the source's own format.
var compatibility = map[string][]Format{
	"image/jpeg":    {FormatJPEG, FormatWebP, FormatPNG, FormatAVIF, FormatTIFF},
	"image/png":     {FormatPNG, FormatWebP, FormatJPEG, FormatAVIF, FormatTIFF, FormatICO},
	"image/webp":    {FormatWebP, FormatJPEG, FormatPNG, FormatAVIF, FormatTIFF},
	"image/gif":     {FormatGIF, FormatWebP, FormatPNG, FormatJPEG},
	"image/bmp":     {FormatBMP, FormatPNG, FormatJPEG, FormatWebP},
	"image/x-icon":  {FormatICO, FormatPNG, FormatWebP},
	"image/svg+xml": {FormatSVG, FormatPNG, FormatWebP, FormatJPEG},
	"image/tiff":    {FormatTIFF, FormatPNG, FormatJPEG, FormatWebP},
	"image/avif":    {FormatAVIF, FormatWebP, FormatJPEG, FormatPNG},
}

var defaultTargets = []Format{FormatWebP, FormatJPEG, FormatPNG}

var mediaTypeAliases = map[string]string{
	"image/jpg":                "image/jpeg",
	"image/pjpeg":              "image/jpeg",
	"image/x-png":              "image/png",
	"image/x-ms-bmp":           "image/bmp",
	"image/vnd.microsoft.icon": "image/x-icon",
	"image/ico":                "image/x-icon",
	"image/svg":                "image/svg+xml",
}

// NormalizeMediaType lower-cases mediaType, drops parameters and resolves
// common aliases.
func NormalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if alias, ok := mediaTypeAliases[mt]; ok {
		return alias
	}
	return mt
}

// FormatsFor returns the targets considered reasonable for a source of the
// given media type. Unknown types get webp, jpeg and png.
func FormatsFor(mediaType string) []Format {
	targets, ok := compatibility[NormalizeMediaType(mediaType)]
	if !ok {
		targets = defaultTargets
	}
	out := make([]Format, len(targets))
	copy(out, targets)
	return out
}

// IsCompatible reports whether format is offered for mediaType.
func IsCompatible(mediaType string, format Format) bool {
	for _, f := range FormatsFor(mediaType) {
		if f == format {
			return true
		}
	}
	return false
}

// IsVectorMediaType reports whether mediaType names SVG.
func IsVectorMediaType(mediaType string) bool {
	return NormalizeMediaType(mediaType) == "image/svg+xml"
}
