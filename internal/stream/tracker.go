package stream

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ActiveStream describes one response body being written to a client.
type ActiveStream struct {
	ID               string    `json:"id"`
	Relpath          string    `json:"relpath"`
	Source           string    `json:"source"`
	UserName         string    `json:"user_name"`
	ClientIP         string    `json:"client_ip"`
	StartedAt        time.Time `json:"started_at"`
	TotalSize        int64     `json:"total_size"`
	BytesSent        int64     `json:"bytes_sent"`
	BytesPerSecond   int64     `json:"bytes_per_second"`
	TotalConnections int       `json:"total_connections"`
}

type streamInternal struct {
	*ActiveStream
	lastBytesSent int64
	lastSnapshot  time.Time
}

// Tracker keeps the set of active streams and samples their throughput.
type Tracker struct {
	streams  sync.Map
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a tracker and starts its sampling loop.
func NewTracker() *Tracker {
	t := &Tracker{stop: make(chan struct{})}
	go t.snapshotLoop()
	return t
}

// Stop ends the sampling loop.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Tracker) snapshotLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.snapshot(time.Now())
		}
	}
}

func (t *Tracker) snapshot(now time.Time) {
	t.streams.Range(func(_, value any) bool {
		s := value.(*streamInternal)
		current := atomic.LoadInt64(&s.BytesSent)

		if elapsed := now.Sub(s.lastSnapshot).Seconds(); elapsed > 0 {
			diff := current - s.lastBytesSent
			if diff < 0 {
				diff = 0
			}
			atomic.StoreInt64(&s.BytesPerSecond, int64(float64(diff)/elapsed))
		}

		s.lastBytesSent = current
		s.lastSnapshot = now
		return true
	})
}

// Add registers a stream and returns it for progress updates.
func (t *Tracker) Add(relpath, source, userName, clientIP string, totalSize int64) *ActiveStream {
	now := time.Now()
	s := &ActiveStream{
		ID:        uuid.New().String(),
		Relpath:   relpath,
		Source:    source,
		UserName:  userName,
		ClientIP:  clientIP,
		StartedAt: now,
		TotalSize: totalSize,
	}
	t.streams.Store(s.ID, &streamInternal{ActiveStream: s, lastSnapshot: now})
	return s
}

// UpdateProgress adds n bytes to the stream with id.
func (t *Tracker) UpdateProgress(id string, n int64) {
	if val, ok := t.streams.Load(id); ok {
		atomic.AddInt64(&val.(*streamInternal).BytesSent, n)
	}
}

// Remove forgets a stream.
func (t *Tracker) Remove(id string) {
	t.streams.Delete(id)
}

// Get returns a copy of one stream, or nil.
func (t *Tracker) Get(id string) *ActiveStream {
	val, ok := t.streams.Load(id)
	if !ok {
		return nil
	}
	s := val.(*streamInternal).ActiveStream
	cp := *s
	cp.BytesSent = atomic.LoadInt64(&s.BytesSent)
	cp.BytesPerSecond = atomic.LoadInt64(&s.BytesPerSecond)
	return &cp
}

// GetAll returns active streams grouped by document, user and source, newest first.
// Range requests from one viewer show up as a single entry with several connections.
func (t *Tracker) GetAll() []ActiveStream {
	grouped := make(map[string]*ActiveStream)

	t.streams.Range(func(_, value any) bool {
		s := value.(*streamInternal).ActiveStream
		groupKey := s.Relpath + "|" + s.UserName + "|" + s.Source
		sent := atomic.LoadInt64(&s.BytesSent)
		rate := atomic.LoadInt64(&s.BytesPerSecond)

		if existing, ok := grouped[groupKey]; ok {
			existing.BytesSent += sent
			existing.BytesPerSecond += rate
			if s.StartedAt.Before(existing.StartedAt) {
				existing.StartedAt = s.StartedAt
			}
			if existing.TotalSize == 0 {
				existing.TotalSize = s.TotalSize
			}
			existing.TotalConnections++
			return true
		}

		cp := *s
		cp.ID = groupKey
		cp.BytesSent = sent
		cp.BytesPerSecond = rate
		cp.TotalConnections = 1
		grouped[groupKey] = &cp
		return true
	})

	streams := make([]ActiveStream, 0, len(grouped))
	for _, s := range grouped {
		streams = append(streams, *s)
	}

	sort.Slice(streams, func(i, j int) bool {
		return streams[i].StartedAt.After(streams[j].StartedAt)
	})

	return streams
}

// Len returns the number of open connections.
func (t *Tracker) Len() int {
	n := 0
	t.streams.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
