// Package remote defines the content store the document tree is synced from
// and fetched out of.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/javi11/docvault/internal/utils"
)

// ErrRangeNotSatisfiable is returned by Open when offset is at or past the end of the object.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// Entry is one child of a remote folder.
type Entry struct {
	ID         string
	Name       string
	IsFolder   bool
	Size       int64
	ModifiedAt time.Time
}

// Store is a hierarchical content store addressed by opaque ids.
type Store interface {
	// List returns the direct children of folderID.
	List(ctx context.Context, folderID string) ([]Entry, error)
	// Open returns up to length bytes of remoteID starting at offset.
	// A non-positive length reads to the end.
	Open(ctx context.Context, remoteID string, offset, length int64) (io.ReadCloser, error)
}

// Download copies remoteID into w using ranged reads of chunkSize bytes.
// It stops after the first short chunk, or when the store reports the range past the end.
func Download(ctx context.Context, store Store, remoteID string, w io.Writer, chunkSize int64) (int64, error) {
	if chunkSize <= 0 {
		return copyAll(ctx, store, remoteID, w)
	}

	var total int64
	for {
		rc, err := store.Open(ctx, remoteID, total, chunkSize)
		if err != nil {
			if total > 0 && errors.Is(err, ErrRangeNotSatisfiable) {
				return total, nil
			}
			return total, fmt.Errorf("failed to open chunk at offset %d: %w", total, err)
		}

		n, err := utils.CopyWithCtx(ctx, w, io.LimitReader(rc, chunkSize), 0)
		rc.Close()
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to copy chunk at offset %d: %w", total-n, err)
		}

		if n < chunkSize {
			return total, nil
		}
	}
}

func copyAll(ctx context.Context, store Store, remoteID string, w io.Writer) (int64, error) {
	rc, err := store.Open(ctx, remoteID, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open: %w", err)
	}
	defer rc.Close()

	return utils.CopyWithCtx(ctx, w, rc, 0)
}
