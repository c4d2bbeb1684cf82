package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	ico "github.com/biessek/golang-ico"
	"github.com/gen2brain/avif"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Encoder writes an image in one target format. quality is 1-100 and may be
// ignored by lossless encoders.
type Encoder interface {
	Format() Format
	Encode(w io.Writer, img image.Image, quality int) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc struct {
	Target Format
	Fn     func(w io.Writer, img image.Image, quality int) error
}

func (e EncoderFunc) Format() Format { return e.Target }

func (e EncoderFunc) Encode(w io.Writer, img image.Image, quality int) error {
	return e.Fn(w, img, quality)
}

// DefaultEncoders returns one encoder per target format.
func DefaultEncoders() map[Format]Encoder {
	list := []Encoder{
		EncoderFunc{FormatJPEG, encodeJPEG},
		EncoderFunc{FormatPNG, encodePNG},
		EncoderFunc{FormatGIF, encodeGIF},
		EncoderFunc{FormatBMP, func(w io.Writer, img image.Image, _ int) error { return bmp.Encode(w, img) }},
		EncoderFunc{FormatTIFF, encodeTIFF},
		EncoderFunc{FormatWebP, encodeWebP},
		EncoderFunc{FormatICO, func(w io.Writer, img image.Image, _ int) error { return ico.Encode(w, img) }},
		EncoderFunc{FormatAVIF, encodeAVIF},
		EncoderFunc{FormatSVG, encodeSVG},
	}
	out := make(map[Format]Encoder, len(list))
	for _, e := range list {
		out[e.Format()] = e
	}
	return out
}

func encodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

func encodePNG(w io.Writer, img image.Image, _ int) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

// gifAlphaCutoff is the alpha below which a pixel becomes the transparent
// palette entry. GIF has no partial transparency.
const gifAlphaCutoff = 0x80

func encodeGIF(w io.Writer, img image.Image, _ int) error {
	if !hasAlpha(img) {
		return gif.Encode(w, img, &gif.Options{NumColors: 256})
	}
	return gif.Encode(w, transparentPaletted(img), nil)
}

// transparentPaletted dithers img onto 255 opaque Plan 9 colours and maps
// mostly transparent pixels to a trailing transparent entry.
func transparentPaletted(img image.Image) *image.Paletted {
	b := img.Bounds()
	flat := image.NewNRGBA(b)
	draw.Draw(flat, b, img, b.Min, draw.Src)

	alpha := make([]uint8, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := flat.Pix[y*flat.Stride : y*flat.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			alpha[y*b.Dx()+x] = row[x*4+3]
			row[x*4+3] = 0xff
		}
	}

	pal := make(color.Palette, 0, 256)
	pal = append(pal, palette.Plan9[:255]...)
	pal = append(pal, color.Transparent)
	transparent := uint8(len(pal) - 1)

	out := image.NewPaletted(b, pal)
	draw.FloydSteinberg.Draw(out, b, flat, b.Min)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if alpha[y*b.Dx()+x] < gifAlphaCutoff {
				out.Pix[y*out.Stride+x] = transparent
			}
		}
	}
	return out
}

func encodeTIFF(w io.Writer, img image.Image, _ int) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return err
	}
	return webp.Encode(w, img, opts)
}

func encodeAVIF(w io.Writer, img image.Image, quality int) error {
	return avif.Encode(w, img, avif.Options{
		Quality:      quality,
		QualityAlpha: quality,
		Speed:        8,
	})
}

// encodeSVG wraps a PNG rendering of img in an SVG document.
func encodeSVG(w io.Writer, img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := encodePNG(&buf, img, quality); err != nil {
		return err
	}
	b := img.Bounds()
	_, err := fmt.Fprintf(w,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<image width="%d" height="%d" href="data:image/png;base64,%s"/></svg>`,
		b.Dx(), b.Dy(), b.Dx(), b.Dy(), b.Dx(), b.Dy(),
		base64.StdEncoding.EncodeToString(buf.Bytes()),
	)
	return err
}
