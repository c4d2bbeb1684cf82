// Package archive collects converted images and packs them into a single
// ZIP file.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	"github.com/Lucke514/ImageConverter/internal/platform/observability"
)

// DefaultFileName is the download name offered for a built archive.
const DefaultFileName = "converted_images.zip"

// Builder is safe for concurrent Reserve and Add calls.
type Builder struct {
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	entries  map[string][]byte
	reserved map[string]struct{}
}

func NewBuilder(logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string][]byte),
		reserved: make(map[string]struct{}),
	}
}

// Reserve claims name and returns it, or the first free variant
// "base-2.ext", "base-3.ext", ... when it is already taken.
func (b *Builder) Reserve(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.takenLocked(name) {
		b.reserved[name] = struct{}{}
		return name
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if !b.takenLocked(candidate) {
			b.reserved[candidate] = struct{}{}
			return candidate
		}
	}
}

func (b *Builder) takenLocked(name string) bool {
	_, r := b.reserved[name]
	_, e := b.entries[name]
	return r || e
}

// Add stores data under name. An existing entry with the same name is
// replaced.
func (b *Builder) Add(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[name]; ok {
		b.logger.WarnTag("ARCHIVE", "entry %s replaced", name)
	}
	b.entries[name] = data
}

// Len returns the number of stored entries.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Names returns the stored entry names in sorted order.
func (b *Builder) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.namesLocked()
}

func (b *Builder) namesLocked() []string {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build writes every entry into a ZIP compressed with DEFLATE at the best
// compression level. Entries are sorted by name.
func (b *Builder) Build(ctx context.Context) (data []byte, err error) {
	ctx, end := observability.StartSpan(ctx, "archive.builder", "build")
	defer func() { end(err) }()

	b.mu.Lock()
	names := b.namesLocked()
	entries := make([][]byte, len(names))
	for i, name := range names {
		entries[i] = b.entries[name]
	}
	b.mu.Unlock()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := b.write(ctx, names, entries)
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		b.logger.InfoTag("ARCHIVE", "built archive: %d entries, %d bytes", len(names), len(r.data))
		observability.RecordMetric(ctx, "archive.bytes", float64(len(r.data)), nil)
		return r.data, nil
	}
}

func (b *Builder) write(ctx context.Context, names []string, entries [][]byte) ([]byte, error) {
	const op = "archive.build"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	modified := b.now()
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, errors.Wrap(errors.KindPlatform, op, "cannot create entry "+name, err)
		}
		if _, err := w.Write(entries[i]); err != nil {
			return nil, errors.Wrap(errors.KindPlatform, op, "cannot write entry "+name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(errors.KindPlatform, op, "cannot finish archive", err)
	}
	return buf.Bytes(), nil
}
