// Package archive streams documents into a zip file.
package archive

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

var errClosed = errors.New("archive already closed")

// Writer adds files to a zip stream. Entries are compressed with Deflate at
// BestSpeed since PDFs are mostly compressed already.
type Writer struct {
	zw      *zip.Writer
	names   map[string]int
	entries int
	closed  bool
}

// NewWriter starts a zip stream on w.
func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	return &Writer{
		zw:    zw,
		names: make(map[string]int),
	}
}

// Add copies r into a new entry called name. Duplicate names get a numeric suffix.
func (w *Writer) Add(name string, r io.Reader, modified time.Time) (int64, error) {
	if w.closed {
		return 0, errClosed
	}

	name = w.uniqueName(sanitize(name))
	if modified.IsZero() {
		modified = time.Now()
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	}

	dst, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}

	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}

	w.entries++
	return n, nil
}

// Entries returns the number of files written.
func (w *Writer) Entries() int {
	return w.entries
}

// Flush pushes buffered compressed data to the underlying writer.
func (w *Writer) Flush() error {
	return w.zw.Flush()
}

// Close writes the central directory. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.zw.Close()
}

func (w *Writer) uniqueName(name string) string {
	n := w.names[name]
	w.names[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}

// sanitize keeps entry names relative with forward slashes.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "document"
	}
	return name
}
