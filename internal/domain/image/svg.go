package image

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

// defaultSVGSize is used when the document declares neither a size nor a
// usable view box.
const defaultSVGSize = 300

// svgUnits converts absolute CSS units to pixels at 96 dpi.
var svgUnits = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 96.0 / 72,
	"pc": 16,
	"in": 96,
	"cm": 96 / 2.54,
	"mm": 96 / 25.4,
}

// rasterizeSVG renders an SVG document at its intrinsic size, scaled down so
// the long edge does not exceed longEdge.
func rasterizeSVG(ctx context.Context, data []byte, longEdge int, maxPixels int64) (*image.NRGBA, error) {
	const op = "image.rasterize-svg"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.WarnErrorMode)
	if err != nil {
		return nil, errors.Wrap(errors.KindLoad, op, "cannot parse svg document", err)
	}

	w, h := svgSize(data, icon.ViewBox.W, icon.ViewBox.H)
	if longEdge > 0 {
		if scale := float64(longEdge) / math.Max(w, h); scale < 1 {
			w, h = w*scale, h*scale
		}
	}
	width, height := max(1, int(math.Round(w))), max(1, int(math.Round(h)))
	if maxPixels > 0 && int64(width)*int64(height) > maxPixels {
		return nil, errors.New(errors.KindLoad, op, fmt.Sprintf("svg raster %dx%d exceeds %d pixels", width, height, maxPixels))
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	icon.SetTarget(0, 0, float64(width), float64(height))
	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)

	out := image.NewNRGBA(rgba.Bounds())
	copyToNRGBA(out, rgba)
	return out, nil
}

// svgSize resolves the intrinsic size of a document. The root width and
// height win over the view box; a single declared side keeps the view box
// aspect ratio.
func svgSize(data []byte, vbW, vbH float64) (float64, float64) {
	hasViewBox := vbW > 0 && vbH > 0
	w, h := svgRootSize(data)

	switch {
	case w > 0 && h > 0:
		return w, h
	case w > 0 && hasViewBox:
		return w, w * vbH / vbW
	case h > 0 && hasViewBox:
		return h * vbW / vbH, h
	case w > 0:
		return w, defaultSVGSize
	case h > 0:
		return defaultSVGSize, h
	case hasViewBox:
		return vbW, vbH
	}
	return defaultSVGSize, defaultSVGSize
}

// svgRootSize reads the width and height attributes of the root element.
// Missing, relative or malformed lengths come back as zero.
func svgRootSize(data []byte) (w, h float64) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return 0, 0
		}
		for _, attr := range start.Attr {
			if attr.Name.Space != "" {
				continue
			}
			switch attr.Name.Local {
			case "width":
				w = svgLength(attr.Value)
			case "height":
				h = svgLength(attr.Value)
			}
		}
		return w, h
	}
}

func svgLength(raw string) float64 {
	raw = strings.TrimSpace(raw)
	end := len(raw)
	for end > 0 && (raw[end-1] >= 'a' && raw[end-1] <= 'z' || raw[end-1] >= 'A' && raw[end-1] <= 'Z') {
		end--
	}
	factor, ok := svgUnits[strings.ToLower(raw[end:])]
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw[:end]), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v * factor
}
