package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/javi11/docvault/internal/cache"
	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/metrics"
	"github.com/javi11/docvault/internal/pathutil"
	"github.com/javi11/docvault/internal/remote"
	"github.com/javi11/docvault/internal/slogutil"
)

const (
	DefaultChunkSize    = 100 * 1024 * 1024
	DefaultFetchTimeout = 10 * time.Minute
)

// RemoteIDLookup resolves a relpath to its content store id. An empty id means unknown.
type RemoteIDLookup interface {
	RemoteID(ctx context.Context, relpath string) (string, error)
}

// Options tunes remote transfers.
type Options struct {
	ChunkSize    int64
	FetchTimeout time.Duration
}

// Orchestrator serves document bytes from the cache, fetching misses from the content store.
type Orchestrator struct {
	cache  *cache.Cache
	guard  *Guard
	lookup RemoteIDLookup
	store  remote.Store
	opts   Options
}

// NewOrchestrator wires the cache, guard and content store together.
func NewOrchestrator(c *cache.Cache, g *Guard, lookup RemoteIDLookup, store remote.Store, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	return &Orchestrator{
		cache:  c,
		guard:  g,
		lookup: lookup,
		store:  store,
		opts:   opts,
	}
}

// Guard returns the guard shared by every fetch of this orchestrator.
func (o *Orchestrator) Guard() *Guard {
	return o.guard
}

// GetContent returns the full bytes of key, fetching it first on a cache miss.
func (o *Orchestrator) GetContent(ctx context.Context, key string) ([]byte, error) {
	key, err := o.Ensure(ctx, key)
	if err != nil {
		return nil, err
	}

	content, err := o.cache.Read(key)
	if err != nil {
		return nil, derrors.NewFetchError(key, err)
	}

	return content, nil
}

// Ensure makes sure key is cached and returns its normalized form.
// Fetch failures match errors.ErrNotFound.
func (o *Orchestrator) Ensure(ctx context.Context, key string) (string, error) {
	key, err := pathutil.CleanKey(key)
	if err != nil {
		return "", err
	}

	if o.cache.Has(key) {
		metrics.RecordCacheLookup(true)
		return key, nil
	}
	metrics.RecordCacheLookup(false)

	owner, err := o.guard.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, ErrFetchFailed) {
			return "", derrors.NewFetchError(key, err)
		}
		return "", err
	}
	if !owner {
		return key, nil
	}
	defer o.guard.Release(key)

	// A fetch may have completed between the cache check and the acquire
	if o.cache.Has(key) {
		return key, nil
	}

	if err := o.fetch(ctx, key); err != nil {
		return "", err
	}

	return key, nil
}

func (o *Orchestrator) fetch(ctx context.Context, key string) error {
	ctx = slogutil.WithDocument(ctx, key)

	remoteID, err := o.lookup.RemoteID(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up remote id: %w", err)
	}
	if remoteID == "" {
		slog.WarnContext(ctx, "Document has no remote id")
		return fmt.Errorf("%w: %s", derrors.ErrNotFound, key)
	}

	// Waiters share this fetch, so it must not die with the first requester
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FetchTimeout)
	defer cancel()

	w, err := o.cache.Create(key)
	if err != nil {
		return derrors.NewFetchError(key, err)
	}

	start := time.Now()
	n, err := remote.Download(ctx, o.store, remoteID, w, o.opts.ChunkSize)
	if err != nil {
		w.Discard()
	} else {
		err = w.Commit()
	}

	metrics.RecordFetch(n, time.Since(start), err == nil)

	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch document",
			"remote_id", remoteID,
			"bytes", n,
			"error", err)
		return derrors.NewFetchError(key, err)
	}

	if !o.cache.Has(key) {
		return derrors.NewFetchError(key, cache.ErrNotFound)
	}

	slog.InfoContext(ctx, "Fetched document",
		"size", humanize.IBytes(uint64(n)),
		"duration", time.Since(start))

	return nil
}

// Cached reports whether key already has a cache entry.
func (o *Orchestrator) Cached(key string) bool {
	key, err := pathutil.CleanKey(key)
	if err != nil {
		return false
	}
	return o.cache.Has(key)
}
