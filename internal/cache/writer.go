package cache

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

var errWriterClosed = errors.New("cache writer already committed or discarded")

// Writer streams bytes into a temp file next to the final entry.
// Exactly one of Commit or Discard must be called.
type Writer struct {
	cache   *Cache
	key     string
	name    string
	tmpName string
	file    afero.File
	written int64
	done    bool
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, errWriterClosed
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write cache entry: %w", err)
	}

	return n, nil
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Commit flushes the temp file and renames it over the entry.
// A writer that received no bytes is discarded and returns ErrEmptyEntry.
func (w *Writer) Commit() error {
	if w.done {
		return errWriterClosed
	}
	w.done = true

	if w.written == 0 {
		w.cleanup()
		return ErrEmptyEntry
	}

	if err := w.file.Sync(); err != nil {
		w.cleanup()
		return fmt.Errorf("failed to sync cache entry: %w", err)
	}

	if err := w.file.Close(); err != nil {
		w.cache.fs.Remove(w.tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}

	if err := w.cache.fs.Rename(w.tmpName, w.name); err != nil {
		w.cache.fs.Remove(w.tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	w.cache.checksums.Remove(w.key)

	return nil
}

// Discard drops everything written so far. It is a no-op after Commit.
func (w *Writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cleanup()
	return nil
}

func (w *Writer) cleanup() {
	w.file.Close()
	w.cache.fs.Remove(w.tmpName)
}
