package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	ico "github.com/biessek/golang-ico"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

var icoMagic = []byte{0x00, 0x00, 0x01, 0x00}

// decodeConfig reads only the header of data.
func decodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", errors.New(errors.KindLoad, "image.decode-config", "empty image payload")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		return cfg, format, nil
	}
	if bytes.HasPrefix(data, icoMagic) {
		if cfg, err := ico.DecodeConfig(bytes.NewReader(data)); err == nil {
			return cfg, "ico", nil
		}
	}
	return image.Config{}, "", errors.Wrap(errors.KindLoad, "image.decode-config", "cannot read image header", err)
}

// decode fully decodes data into pixels.
func decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	if bytes.HasPrefix(data, icoMagic) {
		if img, icoErr := ico.Decode(bytes.NewReader(data)); icoErr == nil {
			return img, nil
		}
	}
	return nil, errors.Wrap(errors.KindLoad, "image.decode", "cannot decode image", err)
}

// checkPixels rejects sources whose decoded size would exceed limit.
func checkPixels(cfg image.Config, limit int64) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New(errors.KindLoad, "image.decode-config",
			fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if limit > 0 && int64(cfg.Width)*int64(cfg.Height) > limit {
		return errors.New(errors.KindLoad, "image.decode-config",
			fmt.Sprintf("source %dx%d exceeds %d pixels", cfg.Width, cfg.Height, limit))
	}
	return nil
}
