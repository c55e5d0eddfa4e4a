// Package fetch makes sure each document is downloaded from the content store
// at most once at a time, and that concurrent requests for it share the result.
package fetch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/javi11/docvault/internal/metrics"
)

// ErrFetchFailed is returned to waiters when the fetch they waited on left the cache empty.
var ErrFetchFailed = errors.New("concurrent fetch did not populate the cache")

// Checker is the cache view the guard re-checks after a wait.
type Checker interface {
	Has(key string) bool
	Read(key string) ([]byte, error)
}

// Outcome tells the caller of AcquireOrWait what to do next.
type Outcome struct {
	// ShouldFetch is set for the single caller that now owns the key and must Release it.
	ShouldFetch bool
	// Content is set for waiters once the owning fetch populated the cache.
	Content []byte
}

// Guard tracks keys with a fetch in progress. Each key maps to a channel that
// is closed when its fetch ends, waking exactly that key's waiters.
type Guard struct {
	cache Checker

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewGuard creates a guard checking c.
func NewGuard(c Checker) *Guard {
	return &Guard{
		cache:    c,
		inflight: make(map[string]chan struct{}),
	}
}

// Acquire claims key for fetching. It returns true if the caller owns the fetch.
// Otherwise it blocks until the owning fetch ends or ctx is done, and returns
// false if the cache now holds the key or ErrFetchFailed if it does not.
func (g *Guard) Acquire(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	done, busy := g.inflight[key]
	if !busy {
		g.inflight[key] = make(chan struct{})
		n := len(g.inflight)
		g.mu.Unlock()

		metrics.SetFetchInFlight(n)
		return true, nil
	}
	g.mu.Unlock()

	metrics.RecordFetchWaiter()

	select {
	case <-done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	if g.cache.Has(key) {
		return false, nil
	}

	return false, ErrFetchFailed
}

// AcquireOrWait is Acquire that also loads the content for waiters.
func (g *Guard) AcquireOrWait(ctx context.Context, key string) (Outcome, error) {
	owner, err := g.Acquire(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if owner {
		return Outcome{ShouldFetch: true}, nil
	}

	content, err := g.cache.Read(key)
	if err != nil {
		return Outcome{}, ErrFetchFailed
	}

	return Outcome{Content: content}, nil
}

// Release ends the fetch of key and wakes its waiters. Unknown keys are ignored.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	done, ok := g.inflight[key]
	if ok {
		delete(g.inflight, key)
		close(done)
	}
	n := len(g.inflight)
	g.mu.Unlock()

	metrics.SetFetchInFlight(n)
}

// InFlight returns the keys currently being fetched, sorted.
func (g *Guard) InFlight() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of keys being fetched.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
