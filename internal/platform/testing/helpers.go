package testing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/Lucke514/ImageConverter/internal/platform/config"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.StaticDir = ""
	cfg.Log.Level = "debug"
	cfg.Log.Dir = t.TempDir()
	cfg.Log.File = "test.log"
	cfg.Batch.Workers = 2

	return cfg
}

// SetupTestLogger returns a debug logger writing to a temp dir with console
// output discarded.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return SetupTestLoggerTo(t, io.Discard)
}

// SetupTestLoggerTo is SetupTestLogger with the console sink redirected to w.
func SetupTestLoggerTo(t *testing.T, w io.Writer) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  w,
		NoColor:  true,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

// Gradient returns a w x h opaque test pattern.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(1, w-1)),
				G: uint8(y * 255 / max(1, h-1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// PNGBytes encodes a w x h gradient as PNG.
func PNGBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(w, h)); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

// TransparentPNGBytes encodes a w x h fully transparent PNG.
func TransparentPNGBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

// JPEGBytes encodes a w x h gradient as JPEG.
func JPEGBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// SVGBytes returns a minimal w x h SVG document with a red square.
func SVGBytes(w, h int) []byte {
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<rect x="0" y="0" width="%d" height="%d" fill="#ff0000"/></svg>`,
		w, h, w, h, w, h))
}

// CorruptJPEG has a JPEG signature and nothing decodable after it.
func CorruptJPEG() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xDE, 0xAD}
}
