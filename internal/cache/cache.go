// Package cache stores fetched documents on disk, keyed by their relative path.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/pathutil"
	"github.com/javi11/docvault/internal/utils"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

var (
	// ErrNotFound is returned when a key has no usable entry. Zero-byte files count as missing.
	// It matches the shared document ErrNotFound.
	ErrNotFound = fmt.Errorf("cache entry: %w", derrors.ErrNotFound)

	// ErrEmptyEntry is returned when committing a writer that received no bytes.
	ErrEmptyEntry = errors.New("cache entry is empty")
)

const tmpMarker = ".tmp-"

// Options configures a Cache.
type Options struct {
	// Root is the on-disk directory backing the filesystem, used for disk space reporting.
	Root string
	// ChecksumCacheSize bounds the number of memoized checksums.
	ChecksumCacheSize int
}

type checksumEntry struct {
	size    int64
	modTime time.Time
	sum     string
}

// Cache is a keyed byte store on an afero filesystem.
// It does not serialize writers of the same key; callers coordinate that.
type Cache struct {
	fs        afero.Fs
	root      string
	checksums *lru.Cache[string, checksumEntry]
	tmpSeq    atomic.Uint64
}

// New creates a cache on top of fsys. Keys are resolved relative to the root of fsys.
func New(fsys afero.Fs, opts Options) (*Cache, error) {
	size := opts.ChecksumCacheSize
	if size <= 0 {
		size = 1024
	}

	checksums, err := lru.New[string, checksumEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create checksum cache: %w", err)
	}

	return &Cache{
		fs:        fsys,
		root:      opts.Root,
		checksums: checksums,
	}, nil
}

// NewOnDisk creates a cache rooted at dir, creating the directory if needed.
func NewOnDisk(dir string, opts Options) (*Cache, error) {
	if err := pathutil.CheckDirectoryWritable(dir); err != nil {
		return nil, fmt.Errorf("cache root is not usable: %w", err)
	}

	opts.Root = dir
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts)
}

// resolve validates key and returns its path inside the filesystem.
func resolve(key string) (string, string, error) {
	clean, err := pathutil.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, "/" + clean, nil
}

// Stat returns the entry's file info, or ErrNotFound if it is missing, empty or not a regular file.
func (c *Cache) Stat(key string) (os.FileInfo, error) {
	_, name, err := resolve(key)
	if err != nil {
		return nil, err
	}
	return c.stat(name)
}

func (c *Cache) stat(name string) (os.FileInfo, error) {
	info, err := c.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	if !info.Mode().IsRegular() || info.Size() <= 0 {
		return nil, ErrNotFound
	}

	return info, nil
}

// Has reports whether key has a non-empty regular file.
func (c *Cache) Has(key string) bool {
	_, err := c.Stat(key)
	return err == nil
}

// Open returns the entry for streaming along with its file info. The caller closes the file.
func (c *Cache) Open(key string) (afero.File, os.FileInfo, error) {
	_, name, err := resolve(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := c.fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open cache entry: %w", err)
	}

	// Stat the open handle so size and content cannot diverge through a concurrent rename
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() <= 0 {
		f.Close()
		return nil, nil, ErrNotFound
	}

	return f, info, nil
}

// Read returns the whole entry.
func (c *Cache) Read(key string) ([]byte, error) {
	f, info, err := c.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return buf, nil
}

// Write stores data under key, replacing any previous entry.
func (c *Cache) Write(key string, data []byte) error {
	w, err := c.Create(key)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		w.Discard()
		return err
	}

	return w.Commit()
}

// Remove deletes the entry for key. Removing a missing entry is not an error.
func (c *Cache) Remove(key string) error {
	clean, name, err := resolve(key)
	if err != nil {
		return err
	}

	c.checksums.Remove(clean)

	if err := c.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}

	return nil
}

// Create returns a writer whose bytes become visible under key only after Commit.
func (c *Cache) Create(key string) (*Writer, error) {
	clean, name, err := resolve(key)
	if err != nil {
		return nil, err
	}

	dir := path.Dir(name)
	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpName := path.Join(dir, "."+path.Base(name)+tmpMarker+strconv.FormatUint(c.tmpSeq.Add(1), 36)+
		strconv.FormatInt(time.Now().UnixNano(), 36))

	f, err := c.fs.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp cache file: %w", err)
	}

	return &Writer{
		cache:   c,
		key:     clean,
		name:    name,
		tmpName: tmpName,
		file:    f,
	}, nil
}

// Checksum returns the hex blake3 digest of the entry, memoized by size and modification time.
func (c *Cache) Checksum(key string) (string, error) {
	clean, name, err := resolve(key)
	if err != nil {
		return "", err
	}

	info, err := c.stat(name)
	if err != nil {
		return "", err
	}

	if e, ok := c.checksums.Get(clean); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.sum, nil
	}

	f, err := c.fs.Open(name)
	if err != nil {
		return "", fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash cache entry: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	c.checksums.Add(clean, checksumEntry{size: info.Size(), modTime: info.ModTime(), sum: sum})

	return sum, nil
}

// Usage summarizes the cache contents.
type Usage struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	DiskFree  int64 `json:"disk_free"`
	DiskTotal int64 `json:"disk_total"`
}

// Usage walks the cache and reports entry count and size. Temp files are skipped.
func (c *Cache) Usage() (Usage, error) {
	var u Usage

	err := afero.Walk(c.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() || info.Size() <= 0 || isTemp(info.Name()) {
			return nil
		}
		u.Entries++
		u.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("failed to walk cache: %w", err)
	}

	if c.root != "" {
		if space, err := utils.GetDiskSpace(c.root); err == nil {
			u.DiskFree = space.Free
			u.DiskTotal = space.Total
		}
	}

	return u, nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tmpMarker)
}
