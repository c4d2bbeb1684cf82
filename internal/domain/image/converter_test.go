package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	testhelpers "github.com/Lucke514/ImageConverter/internal/platform/testing"
)

func newTestConverter(t *testing.T, opts ConverterOptions) *Converter {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testhelpers.SetupTestLogger(t)
	}
	c, err := NewConverter(opts)
	require.NoError(t, err)
	return c
}

func pngOptions(maxW, maxH int) Options {
	return Options{Format: FormatPNG, Quality: 80, MaxWidth: maxW, MaxHeight: maxH}
}

func TestNewConverter_RejectsNegativeLimits(t *testing.T) {
	_, err := NewConverter(ConverterOptions{MaxSurfacePixels: -1})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestConvert_ResizesIntoBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("large fixture")
	}
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "photo.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 4000, 3000)}

	res, err := c.Convert(context.Background(), src, pngOptions(1920, 1080))
	require.NoError(t, err)

	assert.Equal(t, 1440, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, "image/png", res.MediaType)

	cfg, err := png.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 1440, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
}

func TestConvert_SmallSourcePassesThroughUnscaled(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "small.jpg", MediaType: "image/jpeg", Data: testhelpers.JPEGBytes(t, 64, 48)}

	res, err := c.Convert(context.Background(), src, pngOptions(1920, 1080))
	require.NoError(t, err)
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 48, res.Height)
	assert.Empty(t, res.Warning)
}

func TestConvert_DownscalesSmallBounds(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 800, 600)}

	res, err := c.Convert(context.Background(), src, pngOptions(400, 270))
	require.NoError(t, err)
	assert.Equal(t, 360, res.Width)
	assert.Equal(t, 270, res.Height)
}

func TestConvert_SVGIdentity(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	data := testhelpers.SVGBytes(40, 20)

	res, err := c.Convert(context.Background(),
		SourceImage{Name: "logo.svg", MediaType: "image/svg+xml", Data: data},
		Options{Format: FormatSVG, Quality: 10, MaxWidth: 5, MaxHeight: 5})
	require.NoError(t, err)
	assert.Equal(t, data, res.Data)
	assert.Equal(t, "image/svg+xml", res.MediaType)
	assert.Zero(t, res.Width)
}

func TestConvert_SVGToRaster(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "logo.svg", MediaType: "image/svg+xml", Data: testhelpers.SVGBytes(100, 50)}

	res, err := c.Convert(context.Background(), src, pngOptions(1920, 1080))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	r, g, b, _ := img.At(50, 25).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(50))
	assert.Less(t, b>>8, uint32(50))
}

func TestConvert_SVGIntrinsicSize(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	shape := `<rect x="0" y="0" width="1" height="1" fill="#ff0000"/></svg>`

	tests := []struct {
		name   string
		root   string
		width  int
		height int
	}{
		{name: "size overrides smaller view box", root: `width="200" height="50" viewBox="0 0 20 5"`, width: 200, height: 50},
		{name: "width only keeps view box ratio", root: `width="120" viewBox="0 0 20 10"`, width: 120, height: 60},
		{name: "height only keeps view box ratio", root: `height="90" viewBox="0 0 30 10"`, width: 270, height: 90},
		{name: "view box alone", root: `viewBox="0 0 40 30"`, width: 40, height: 30},
		{name: "no size information", root: ``, width: defaultSVGSize, height: defaultSVGSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `<svg xmlns="http://www.w3.org/2000/svg" ` + tt.root + `>` + shape
			src := SourceImage{Name: "doc.svg", MediaType: "image/svg+xml", Data: []byte(doc)}

			res, err := c.Convert(context.Background(), src, pngOptions(1920, 1080))
			require.NoError(t, err)
			assert.Equal(t, tt.width, res.Width)
			assert.Equal(t, tt.height, res.Height)

			img, err := png.Decode(bytes.NewReader(res.Data))
			require.NoError(t, err)
			assert.Equal(t, tt.width, img.Bounds().Dx())
			assert.Equal(t, tt.height, img.Bounds().Dy())
		})
	}
}

func TestSVGSize(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		vbW, vbH float64
		wantW    float64
		wantH    float64
	}{
		{name: "plain numbers", root: `width="200" height="50"`, vbW: 20, vbH: 5, wantW: 200, wantH: 50},
		{name: "px suffix and spaces", root: `width="64px" height=" 32px "`, vbW: 8, vbH: 4, wantW: 64, wantH: 32},
		{name: "inches", root: `width="2in" height="1in"`, wantW: 192, wantH: 96},
		{name: "points", root: `width="72pt" height="36pt"`, wantW: 96, wantH: 48},
		{name: "percent ignored", root: `width="100%" height="100%"`, vbW: 40, vbH: 30, wantW: 40, wantH: 30},
		{name: "em ignored", root: `width="10em" height="5em"`, vbW: 40, vbH: 30, wantW: 40, wantH: 30},
		{name: "negative ignored", root: `width="-5" height="10"`, vbW: 20, vbH: 10, wantW: 20, wantH: 10},
		{name: "width without view box", root: `width="50"`, wantW: 50, wantH: defaultSVGSize},
		{name: "namespaced attributes ignored", root: `xlink:width="10" xmlns:xlink="http://www.w3.org/1999/xlink"`, vbW: 4, vbH: 2, wantW: 4, wantH: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" ` + tt.root + `></svg>`)
			w, h := svgSize(doc, tt.vbW, tt.vbH)
			assert.InDelta(t, tt.wantW, w, 0.001)
			assert.InDelta(t, tt.wantH, h, 0.001)
		})
	}
}

func TestConvert_SVGSizeScalesViewBoxContent(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	doc := `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="50" viewBox="0 0 20 5">` +
		`<rect x="0" y="0" width="20" height="5" fill="#ff0000"/></svg>`

	res, err := c.Convert(context.Background(),
		SourceImage{Name: "wide.svg", MediaType: "image/svg+xml", Data: []byte(doc)}, pngOptions(1920, 1080))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	for _, pt := range []image.Point{image.Pt(10, 10), image.Pt(100, 25), image.Pt(190, 40)} {
		r, g, b, a := img.At(pt.X, pt.Y).RGBA()
		assert.Greater(t, r>>8, uint32(200), "red at %v", pt)
		assert.Less(t, g>>8, uint32(50), "green at %v", pt)
		assert.Less(t, b>>8, uint32(50), "blue at %v", pt)
		assert.Equal(t, uint32(0xffff), a, "alpha at %v", pt)
	}
}

func TestConvert_SniffsGenericMediaType(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "blob", MediaType: "application/octet-stream", Data: testhelpers.SVGBytes(10, 10)}

	res, err := c.Convert(context.Background(), src, Options{Format: FormatSVG, Quality: 80, MaxWidth: 10, MaxHeight: 10})
	require.NoError(t, err)
	assert.Equal(t, src.Data, res.Data)
}

func TestConvert_LoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  SourceImage
		opts ConverterOptions
	}{
		{
			name: "corrupt jpeg",
			src:  SourceImage{Name: "bad.jpg", MediaType: "image/jpeg", Data: testhelpers.CorruptJPEG()},
		},
		{
			name: "empty payload",
			src:  SourceImage{Name: "empty.png", MediaType: "image/png"},
		},
		{
			name: "not an image",
			src:  SourceImage{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")},
		},
		{
			name: "broken svg",
			src:  SourceImage{Name: "bad.svg", MediaType: "image/svg+xml", Data: []byte(`<svg xmlns="http://www.w3.org/2000/svg"></g>`)},
		},
		{
			name: "source over pixel limit",
			src:  SourceImage{Name: "big.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 20, 20)},
			opts: ConverterOptions{MaxSourcePixels: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConverter(t, tt.opts)
			res, err := c.Convert(context.Background(), tt.src, pngOptions(100, 100))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.IsKind(err, errors.KindLoad), err.Error())
		})
	}
}

func TestConvert_CanvasError(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{MaxSurfacePixels: 100})
	src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 20, 20)}

	_, err := c.Convert(context.Background(), src, pngOptions(100, 100))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCanvas))
}

func TestConvert_EncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func(w io.Writer, img image.Image, quality int) error
	}{
		{
			name: "encoder fails",
			fn: func(io.Writer, image.Image, int) error {
				return fmt.Errorf("unsupported")
			},
		},
		{
			name: "encoder writes nothing",
			fn: func(io.Writer, image.Image, int) error {
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConverter(t, ConverterOptions{
				Encoders: map[Format]Encoder{FormatPNG: EncoderFunc{Target: FormatPNG, Fn: tt.fn}},
			})
			src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 8, 8)}

			_, err := c.Convert(context.Background(), src, pngOptions(100, 100))
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindEncode))
			assert.Contains(t, err.Error(), "png")
		})
	}
}

func TestConvert_InvalidOptions(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 8, 8)}

	_, err := c.Convert(context.Background(), src, Options{Format: FormatPNG, Quality: 0, MaxWidth: 10, MaxHeight: 10})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestConvert_Cancelled(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 8, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Convert(ctx, src, pngOptions(100, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvert_Transparency(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "clear.png", MediaType: "image/png", Data: testhelpers.TransparentPNGBytes(t, 10, 10)}

	t.Run("png keeps alpha", func(t *testing.T) {
		res, err := c.Convert(context.Background(), src, pngOptions(100, 100))
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(res.Data))
		require.NoError(t, err)
		px := color.NRGBAModel.Convert(img.At(5, 5)).(color.NRGBA)
		assert.Zero(t, px.A)
	})

	t.Run("jpeg gets white backdrop", func(t *testing.T) {
		res, err := c.Convert(context.Background(), src, Options{Format: FormatJPEG, Quality: 90, MaxWidth: 100, MaxHeight: 100})
		require.NoError(t, err)

		img, err := jpeg.Decode(bytes.NewReader(res.Data))
		require.NoError(t, err)
		r, g, b, _ := img.At(5, 5).RGBA()
		assert.Greater(t, r>>8, uint32(240))
		assert.Greater(t, g>>8, uint32(240))
		assert.Greater(t, b>>8, uint32(240))
	})
}

func TestConvert_GIFKeepsTransparency(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})

	half := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			half.SetNRGBA(x, y, color.NRGBA{R: 0x20, G: 0x40, B: 0xc0, A: 0xff})
		}
	}
	var halfPNG bytes.Buffer
	require.NoError(t, png.Encode(&halfPNG, half))

	tests := []struct {
		name   string
		data   []byte
		clear  image.Point
		opaque *image.Point
	}{
		{name: "fully transparent", data: testhelpers.TransparentPNGBytes(t, 10, 10), clear: image.Pt(5, 5)},
		{name: "half transparent", data: halfPNG.Bytes(), clear: image.Pt(15, 5), opaque: &image.Point{X: 5, Y: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := SourceImage{Name: "clear.png", MediaType: "image/png", Data: tt.data}
			res, err := c.Convert(context.Background(), src, Options{Format: FormatGIF, Quality: 80, MaxWidth: 100, MaxHeight: 100})
			require.NoError(t, err)

			img, err := gif.Decode(bytes.NewReader(res.Data))
			require.NoError(t, err)
			_, _, _, a := img.At(tt.clear.X, tt.clear.Y).RGBA()
			assert.Zero(t, a)

			if tt.opaque != nil {
				r, g, b, a := img.At(tt.opaque.X, tt.opaque.Y).RGBA()
				assert.Equal(t, uint32(0xffff), a)
				assert.Greater(t, b>>8, r>>8)
				assert.Greater(t, b>>8, g>>8)
			}
		})
	}
}

func TestConvert_EveryTargetFormat(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "photo.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 64, 48)}

	tests := []struct {
		format    Format
		mediaType string
		decoded   string
	}{
		{format: FormatJPEG, mediaType: "image/jpeg", decoded: "jpeg"},
		{format: FormatPNG, mediaType: "image/png", decoded: "png"},
		{format: FormatGIF, mediaType: "image/gif", decoded: "gif"},
		{format: FormatBMP, mediaType: "image/bmp", decoded: "bmp"},
		{format: FormatTIFF, mediaType: "image/tiff", decoded: "tiff"},
		{format: FormatWebP, mediaType: "image/webp", decoded: "webp"},
		{format: FormatAVIF, mediaType: "image/avif", decoded: "avif"},
		{format: FormatICO, mediaType: "image/x-icon", decoded: "ico"},
	}
	require.Len(t, tests, len(AllFormats())-1, "every raster target is listed")

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			res, err := c.Convert(context.Background(), src,
				Options{Format: tt.format, Quality: 80, MaxWidth: 32, MaxHeight: 32})
			require.NoError(t, err)
			assert.Equal(t, tt.mediaType, res.MediaType)
			assert.Equal(t, 32, res.Width)
			assert.Equal(t, 24, res.Height)

			cfg, name, err := decodeConfig(res.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.decoded, name)
			assert.Equal(t, 32, cfg.Width)
			assert.Equal(t, 24, cfg.Height)

			img, err := decode(context.Background(), res.Data)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
		})
	}

	t.Run(string(FormatSVG), func(t *testing.T) {
		res, err := c.Convert(context.Background(), src,
			Options{Format: FormatSVG, Quality: 80, MaxWidth: 32, MaxHeight: 32})
		require.NoError(t, err)
		assert.Equal(t, "image/svg+xml", res.MediaType)

		doc := string(res.Data)
		assert.Contains(t, doc, `width="32" height="24"`)
		prefix := "data:image/png;base64,"
		require.Contains(t, doc, prefix)
		encoded := doc[strings.Index(doc, prefix)+len(prefix):]
		encoded = encoded[:strings.IndexByte(encoded, '"')]
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, 32, cfg.Width)
		assert.Equal(t, 24, cfg.Height)
	})
}

func TestConvert_LargeJPEGToWebP(t *testing.T) {
	if testing.Short() {
		t.Skip("large fixture")
	}
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "camera.jpg", MediaType: "image/jpeg", Data: testhelpers.JPEGBytes(t, 4000, 3000)}

	res, err := c.Convert(context.Background(), src,
		Options{Format: FormatWebP, Quality: 80, MaxWidth: 1920, MaxHeight: 1080})
	require.NoError(t, err)
	assert.Equal(t, "image/webp", res.MediaType)
	assert.Equal(t, 1440, res.Width)
	assert.Equal(t, 1080, res.Height)

	cfg, name, err := decodeConfig(res.Data)
	require.NoError(t, err)
	assert.Equal(t, "webp", name)
	assert.Equal(t, 1440, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
}

func TestConvert_IconIsCappedAndWarned(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "big.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 300, 150)}

	res, err := c.Convert(context.Background(), src, Options{Format: FormatICO, Quality: 80, MaxWidth: 1920, MaxHeight: 1080})
	require.NoError(t, err)
	assert.Equal(t, 256, res.Width)
	assert.Equal(t, 128, res.Height)
	assert.Equal(t, "image/x-icon", res.MediaType)
	assert.Contains(t, res.Warning, "ico")
}

func TestConvert_WarnsOnUnsuggestedTarget(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	pngData := testhelpers.PNGBytes(t, 8, 8)
	jpegData := testhelpers.JPEGBytes(t, 8, 8)

	tests := []struct {
		name      string
		mediaType string
		data      []byte
		format    Format
		want      []string
	}{
		{name: "suggested target", mediaType: "image/png", data: pngData, format: FormatWebP},
		{name: "png to gif", mediaType: "image/png", data: pngData, format: FormatGIF,
			want: []string{"gif is not a suggested target for image/png"}},
		{name: "jpeg to bmp", mediaType: "image/jpeg", data: jpegData, format: FormatBMP,
			want: []string{"bmp is not a suggested target for image/jpeg"}},
		{name: "jpeg to ico also limited", mediaType: "image/jpeg", data: jpegData, format: FormatICO,
			want: []string{"ico is not a suggested target for image/jpeg", "ico output may not be supported"}},
		{name: "limited but suggested", mediaType: "image/png", data: pngData, format: FormatTIFF,
			want: []string{"tiff output may not be supported"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := SourceImage{Name: "in", MediaType: tt.mediaType, Data: tt.data}
			res, err := c.Convert(context.Background(), src, Options{Format: tt.format, Quality: 80, MaxWidth: 100, MaxHeight: 100})
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, res.Warning)
				return
			}
			for _, w := range tt.want {
				assert.Contains(t, res.Warning, w)
			}
		})
	}
}

func TestConvert_SVGOutputEmbedsRaster(t *testing.T) {
	c := newTestConverter(t, ConverterOptions{})
	src := SourceImage{Name: "a.png", MediaType: "image/png", Data: testhelpers.PNGBytes(t, 16, 8)}

	res, err := c.Convert(context.Background(), src, Options{Format: FormatSVG, Quality: 80, MaxWidth: 100, MaxHeight: 100})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("<svg")))
	assert.Contains(t, string(res.Data), `width="16" height="8"`)
	assert.Contains(t, string(res.Data), "data:image/png;base64,")
}

func TestDetectMediaType(t *testing.T) {
	pngData := testhelpers.PNGBytes(t, 2, 2)
	jpegData := testhelpers.JPEGBytes(t, 2, 2)

	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{name: "declared wins", declared: "image/gif", data: pngData, want: "image/gif"},
		{name: "alias normalized", declared: "image/jpg", data: jpegData, want: "image/jpeg"},
		{name: "empty sniffs png", declared: "", data: pngData, want: "image/png"},
		{name: "octet stream sniffs jpeg", declared: "application/octet-stream", data: jpegData, want: "image/jpeg"},
		{name: "wildcard sniffs", declared: "image/*", data: pngData, want: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMediaType(tt.declared, tt.data))
		})
	}
}
