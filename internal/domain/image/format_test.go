package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "plain", input: "webp", want: FormatWebP},
		{name: "upper case", input: "PNG", want: FormatPNG},
		{name: "jpg alias", input: "jpg", want: FormatJPEG},
		{name: "padded", input: " avif ", want: FormatAVIF},
		{name: "unknown", input: "heic", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatProperties(t *testing.T) {
	assert.Equal(t, "image/x-icon", FormatICO.MediaType())
	assert.Equal(t, "image/svg+xml", FormatSVG.MediaType())
	assert.Equal(t, "jpeg", FormatJPEG.Extension())

	assert.False(t, FormatJPEG.SupportsAlpha())
	assert.False(t, FormatBMP.SupportsAlpha())
	assert.True(t, FormatPNG.SupportsAlpha())
	assert.True(t, FormatWebP.SupportsAlpha())

	for _, f := range []Format{FormatICO, FormatTIFF, FormatAVIF} {
		assert.True(t, f.Limited(), f.String())
	}
	assert.False(t, FormatWebP.Limited())

	assert.Len(t, AllFormats(), 9)
	for _, f := range AllFormats() {
		assert.True(t, f.Valid())
		assert.NotEmpty(t, f.MediaType())
	}
}

func TestFormatsFor(t *testing.T) {
	tests := []struct {
		name      string
		mediaType string
		want      []Format
	}{
		{
			name:      "png",
			mediaType: "image/png",
			want:      []Format{FormatPNG, FormatWebP, FormatJPEG, FormatAVIF, FormatTIFF, FormatICO},
		},
		{
			name:      "jpeg with parameters",
			mediaType: "Image/JPEG; q=1",
			want:      []Format{FormatJPEG, FormatWebP, FormatPNG, FormatAVIF, FormatTIFF},
		},
		{
			name:      "svg",
			mediaType: "image/svg+xml",
			want:      []Format{FormatSVG, FormatPNG, FormatWebP, FormatJPEG},
		},
		{
			name:      "icon alias",
			mediaType: "image/vnd.microsoft.icon",
			want:      []Format{FormatICO, FormatPNG, FormatWebP},
		},
		{
			name:      "unknown falls back",
			mediaType: "image/heic",
			want:      []Format{FormatWebP, FormatJPEG, FormatPNG},
		},
		{
			name:      "empty falls back",
			mediaType: "",
			want:      []Format{FormatWebP, FormatJPEG, FormatPNG},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatsFor(tt.mediaType))
		})
	}
}

func TestFormatsFor_ReturnsCopy(t *testing.T) {
	got := FormatsFor("image/gif")
	got[0] = FormatAVIF

	assert.Equal(t, FormatGIF, FormatsFor("image/gif")[0])
}

func TestIsCompatible(t *testing.T) {
	assert.True(t, IsCompatible("image/png", FormatICO))
	assert.False(t, IsCompatible("image/jpeg", FormatICO))
	assert.True(t, IsVectorMediaType("image/svg"))
	assert.False(t, IsVectorMediaType("image/png"))
}

func TestOptionsValidate(t *testing.T) {
	ok := DefaultOptions()
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1920, ok.LongEdge())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "format", mutate: func(o *Options) { o.Format = "heic" }},
		{name: "quality low", mutate: func(o *Options) { o.Quality = 0 }},
		{name: "quality high", mutate: func(o *Options) { o.Quality = 101 }},
		{name: "width", mutate: func(o *Options) { o.MaxWidth = 0 }},
		{name: "height", mutate: func(o *Options) { o.MaxHeight = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}
