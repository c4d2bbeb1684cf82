package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	"github.com/Lucke514/ImageConverter/internal/platform/observability"
)

// ConverterOptions configures a Converter.
type ConverterOptions struct {
	Logger *logging.Logger
	// MaxSourcePixels rejects sources whose header declares more pixels.
	MaxSourcePixels int64
	// MaxSurfacePixels caps the output surface.
	MaxSurfacePixels int64
	// PrepassMaxBytes is the intermediate byte budget; zero means 2 MiB.
	PrepassMaxBytes int64
	// Encoders replaces individual format encoders.
	Encoders map[Format]Encoder
}

// Converter turns one source image into one encoded output.
type Converter struct {
	logger           *logging.Logger
	compressor       *Compressor
	maxSourcePixels  int64
	maxSurfacePixels int64
	encoders         map[Format]Encoder
}

// NewConverter builds a converter with the default encoder set.
func NewConverter(opts ConverterOptions) (*Converter, error) {
	if opts.MaxSourcePixels < 0 || opts.MaxSurfacePixels < 0 || opts.PrepassMaxBytes < 0 {
		return nil, errors.New(errors.KindConfig, "image.new-converter", "limits must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	encoders := DefaultEncoders()
	for f, e := range opts.Encoders {
		encoders[f] = e
	}

	return &Converter{
		logger:           opts.Logger,
		compressor:       NewCompressor(opts.PrepassMaxBytes),
		maxSourcePixels:  opts.MaxSourcePixels,
		maxSurfacePixels: opts.MaxSurfacePixels,
		encoders:         encoders,
	}, nil
}

// Convert re-encodes src according to opts.
//
// Failures are LoadError (load kind), CanvasContextError (canvas kind) or
// EncodeError (encode kind). A cancelled ctx returns ctx.Err() unchanged.
func (c *Converter) Convert(ctx context.Context, src SourceImage, opts Options) (res *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, end := observability.StartSpan(ctx, "image.converter", "convert")
	defer func() { end(err) }()

	mediaType := DetectMediaType(src.MediaType, src.Data)

	if IsVectorMediaType(mediaType) && opts.Format.IsVector() {
		return &Result{
			Data:      src.Data,
			MediaType: opts.Format.MediaType(),
			Format:    opts.Format,
		}, nil
	}

	intermediate, err := c.prepare(ctx, src.Data, mediaType, opts)
	if err != nil {
		return nil, err
	}

	decoded, err := decode(ctx, intermediate)
	if err != nil {
		return nil, err
	}

	b := decoded.Bounds()
	width, height := FitDimensions(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	if opts.Format == FormatICO {
		width, height = FitDimensions(width, height, icoMaxEdge, icoMaxEdge)
	}

	surface, err := newSurface(width, height, c.maxSurfacePixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	render(surface, decoded, opts.Format)

	data, err := c.encode(ctx, surface, opts)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Data:      data,
		MediaType: opts.Format.MediaType(),
		Format:    opts.Format,
		Width:     width,
		Height:    height,
	}
	var warnings []string
	if !IsCompatible(mediaType, opts.Format) {
		warnings = append(warnings, fmt.Sprintf("%s is not a suggested target for %s", opts.Format, mediaType))
	}
	if opts.Format.Limited() {
		warnings = append(warnings, fmt.Sprintf("%s output may not be supported consistently across browsers", opts.Format))
	}
	if len(warnings) > 0 {
		res.Warning = strings.Join(warnings, "; ")
		c.logger.WarnTag("CONVERT", "%s: %s", src.Name, res.Warning)
	}

	c.logger.DebugTag("CONVERT", "%s (%s) -> %s %dx%d, %d bytes",
		src.Name, mediaType, opts.Format, width, height, len(data))
	return res, nil
}

// prepare runs the pre-pass and returns the intermediate payload to decode.
func (c *Converter) prepare(ctx context.Context, data []byte, mediaType string, opts Options) ([]byte, error) {
	quality := float64(opts.Quality) / 100
	longEdge := opts.LongEdge()

	if IsVectorMediaType(mediaType) {
		raster, err := rasterizeSVG(ctx, data, longEdge, c.maxSourcePixels)
		if err != nil {
			return nil, err
		}
		return c.compressor.Compress(ctx, raster, longEdge, quality)
	}

	cfg, _, err := decodeConfig(data)
	if err != nil {
		return nil, err
	}
	if err := checkPixels(cfg, c.maxSourcePixels); err != nil {
		return nil, err
	}
	if c.compressor.Fits(cfg, len(data), longEdge) {
		return data, nil
	}

	img, err := decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.compressor.Compress(ctx, img, longEdge, quality)
}

func (c *Converter) encode(ctx context.Context, img image.Image, opts Options) ([]byte, error) {
	const op = "image.encode"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, ok := c.encoders[opts.Format]
	if !ok {
		return nil, errors.New(errors.KindEncode, op, fmt.Sprintf("no encoder for %s", opts.Format))
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, img, opts.Quality); err != nil {
		return nil, &errors.Error{
			Kind:    errors.KindEncode,
			Op:      op,
			Message: fmt.Sprintf("cannot convert to %s", opts.Format),
			Cause:   err,
		}
	}
	if buf.Len() == 0 {
		return nil, errors.New(errors.KindEncode, op, fmt.Sprintf("cannot convert to %s: encoder produced no output", opts.Format))
	}
	return buf.Bytes(), nil
}
