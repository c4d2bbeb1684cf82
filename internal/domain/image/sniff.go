package image

import (
	"github.com/gabriel-vasile/mimetype"
)

// genericMediaTypes carry no information about the actual encoding.
var genericMediaTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
	"image/*":                  true,
}

// DetectMediaType returns declared when it is specific, otherwise the type
// sniffed from data.
func DetectMediaType(declared string, data []byte) string {
	mt := NormalizeMediaType(declared)
	if !genericMediaTypes[mt] {
		return mt
	}
	return SniffMediaType(data)
}

// SniffMediaType inspects data and returns its normalized media type.
func SniffMediaType(data []byte) string {
	return NormalizeMediaType(mimetype.Detect(data).String())
}
