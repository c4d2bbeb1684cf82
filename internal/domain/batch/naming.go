package batch

import (
	"path"
	"strings"

	"github.com/Lucke514/ImageConverter/internal/domain/image"
)

const fallbackBaseName = "image"

// OutputName derives an archive entry name from a source file name: the
// directory is dropped, everything from the first '.' is replaced by the
// target extension. "photo.tar.gz" becomes "photo.webp".
func OutputName(sourceName string, format image.Format) string {
	base := path.Base(strings.ReplaceAll(sourceName, `\`, "/"))
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		base = fallbackBaseName
	}
	return base + "." + format.Extension()
}
