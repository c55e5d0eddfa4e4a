// Package local serves a directory tree as a remote store. Ids are slash
// separated paths relative to the tree root; the root itself is "".
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/remote"
	"github.com/spf13/afero"
)

// Store implements remote.Store over an afero filesystem.
type Store struct {
	fs afero.Fs
}

// New returns a store reading from fsys.
func New(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// NewOnDisk returns a store rooted at dir.
func NewOnDisk(dir string) (*Store, error) {
	info, err := afero.NewOsFs().Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat local remote root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local remote root %s is not a directory", dir)
	}

	return New(afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), dir))), nil
}

func resolve(id string) (string, error) {
	id = strings.Trim(id, "/")
	if id == "" {
		return "/", nil
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == ".." {
			return "", derrors.ErrInvalidKey
		}
	}
	return "/" + path.Clean(id), nil
}

// List implements remote.Store. Entries are sorted by name and dot files are skipped.
func (s *Store) List(ctx context.Context, folderID string) ([]remote.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := resolve(folderID)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, derrors.NewNonRetryableError("folder not found: "+folderID, err)
		}
		return nil, fmt.Errorf("failed to list %s: %w", folderID, err)
	}

	entries := make([]remote.Entry, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		entries = append(entries, remote.Entry{
			ID:         strings.TrimPrefix(path.Join(dir, info.Name()), "/"),
			Name:       info.Name(),
			IsFolder:   info.IsDir(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// Open implements remote.Store.
func (s *Store) Open(ctx context.Context, remoteID string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := resolve(remoteID)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, derrors.NewNonRetryableError("file not found: "+remoteID, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", remoteID, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", remoteID, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, derrors.NewNonRetryableError(remoteID+" is a folder", nil)
	}
	if offset > 0 && offset >= info.Size() {
		f.Close()
		return nil, remote.ErrRangeNotSatisfiable
	}

	if length <= 0 {
		length = info.Size() - offset
	}

	return &sectionReadCloser{
		Reader: io.NewSectionReader(f, offset, length),
		Closer: f,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}
