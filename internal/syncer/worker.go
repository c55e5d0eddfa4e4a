// Package syncer mirrors the remote document tree into the metadata store on a schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/database"
	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/metrics"
	"github.com/javi11/docvault/internal/pathutil"
	"github.com/javi11/docvault/internal/remote"
	"github.com/javi11/docvault/internal/slogutil"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
)

var (
	// ErrSyncAlreadyTriggered is returned when a trigger is queued or a cycle is running.
	ErrSyncAlreadyTriggered = errors.New("sync already triggered or in progress")

	// ErrNotRunning is returned when triggering a stopped worker.
	ErrNotRunning = errors.New("sync worker is not running")
)

const defaultRetryDelay = time.Second

// Repository receives the documents found by a cycle.
type Repository interface {
	SyncDocuments(ctx context.Context, docs []database.DocumentRecord) (*database.SyncResult, error)
}

// Prewarmer populates the cache for documents found by a cycle.
type Prewarmer interface {
	Cached(key string) bool
	Ensure(ctx context.Context, key string) (string, error)
}

// Progress tracks an ongoing cycle.
type Progress struct {
	FoldersVisited int       `json:"folders_visited"`
	FilesSeen      int       `json:"files_seen"`
	StartTime      time.Time `json:"start_time"`
}

// Result stores the outcome of a completed cycle.
type Result struct {
	Folders       int           `json:"folders"`
	Files         int           `json:"files"`
	Added         int           `json:"added"`
	Updated       int           `json:"updated"`
	FailedFolders int           `json:"failed_folders"`
	Prewarmed     int           `json:"prewarmed"`
	PrewarmFailed int           `json:"prewarm_failed"`
	Duration      time.Duration `json:"duration"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// Status represents the current state of the worker.
type Status struct {
	IsRunning  bool       `json:"is_running"`
	InProgress bool       `json:"in_progress"`
	Progress   *Progress  `json:"progress,omitempty"`
	LastResult *Result    `json:"last_result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}

// Worker runs sync cycles on the configured schedule and on demand.
type Worker struct {
	store        remote.Store
	repo         Repository
	prewarmer    Prewarmer
	configGetter config.ConfigGetter
	retryDelay   time.Duration

	mu         sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	done       chan struct{}

	cycleMu    sync.Mutex
	inProgress atomic.Bool

	statusMu   sync.RWMutex
	progress   *Progress
	lastResult *Result
	lastError  string
	lastRunAt  time.Time
	nextRunAt  time.Time

	trigger chan struct{}
}

// NewWorker creates a sync worker. prewarmer may be nil.
func NewWorker(store remote.Store, repo Repository, prewarmer Prewarmer, configGetter config.ConfigGetter) *Worker {
	return &Worker{
		store:        store,
		repo:         repo,
		prewarmer:    prewarmer,
		configGetter: configGetter,
		retryDelay:   defaultRetryDelay,
		trigger:      make(chan struct{}, 1), // Buffered channel for non-blocking sends
	}
}

// Start runs the schedule loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		slog.WarnContext(ctx, "Sync worker already running")
		return
	}

	ctx, cancel := context.WithCancel(slogutil.WithComponent(ctx, "syncer"))
	w.cancelFunc = cancel
	w.running = true
	w.done = make(chan struct{})

	go w.run(ctx, w.done)
}

// Stop cancels the loop and waits for it to exit or ctx to expire.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancelFunc()
	w.cancelFunc = nil
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Sync worker stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker did not stop in time")
	}
}

// IsRunning returns whether the schedule loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Status returns a snapshot of the worker state.
func (w *Worker) Status() Status {
	status := Status{
		IsRunning:  w.IsRunning(),
		InProgress: w.inProgress.Load(),
	}

	w.statusMu.RLock()
	defer w.statusMu.RUnlock()

	if w.progress != nil {
		p := *w.progress
		status.Progress = &p
	}
	if w.lastResult != nil {
		r := *w.lastResult
		status.LastResult = &r
	}
	status.LastError = w.lastError
	if !w.lastRunAt.IsZero() {
		t := w.lastRunAt
		status.LastRunAt = &t
	}
	if !w.nextRunAt.IsZero() && status.IsRunning {
		t := w.nextRunAt
		status.NextRunAt = &t
	}

	return status
}

// Trigger queues a cycle. It fails if one is already queued or running.
func (w *Worker) Trigger() error {
	if !w.IsRunning() {
		return ErrNotRunning
	}
	if w.inProgress.Load() {
		return ErrSyncAlreadyTriggered
	}

	select {
	case w.trigger <- struct{}{}:
		return nil
	default:
		return ErrSyncAlreadyTriggered
	}
}

// TriggerAsync queues a cycle for change notifications. A notification that
// arrives while a cycle is running queues one follow-up cycle, so changes made
// after the running cycle listed their folder are still picked up.
func (w *Worker) TriggerAsync() {
	if !w.IsRunning() {
		slog.Warn("Sync trigger ignored", "error", ErrNotRunning)
		return
	}

	select {
	case w.trigger <- struct{}{}:
	default:
		// A follow-up cycle is already queued
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
	}()

	cfg := w.configGetter()
	slog.InfoContext(ctx, "Sync worker started",
		"schedule", cfg.GetSyncSchedule(),
		"root_id", cfg.GetRemoteRootID())

	if cfg.GetSyncRunOnStart() {
		w.runCycle(ctx)
	}

	for {
		next := w.nextRun(ctx, time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.runCycle(ctx)
		case <-w.trigger:
			timer.Stop()
			slog.InfoContext(ctx, "Manual sync trigger received")
			w.runCycle(ctx)
		}
	}
}

// nextRun re-reads the schedule so config reloads apply from the next cycle.
func (w *Worker) nextRun(ctx context.Context, now time.Time) time.Time {
	expr := w.configGetter().GetSyncSchedule()

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		slog.ErrorContext(ctx, "Invalid sync schedule, using 60s", "schedule", expr, "error", err)
		schedule = cron.Every(time.Minute)
	}

	next := schedule.Next(now)
	w.statusMu.Lock()
	w.nextRunAt = next
	w.statusMu.Unlock()

	return next
}

func (w *Worker) runCycle(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil && !errors.Is(err, ErrSyncAlreadyTriggered) {
		slog.ErrorContext(ctx, "Sync cycle failed", "error", err)
	}
}

// SyncOnce walks the remote tree and upserts every file found.
// It returns ErrSyncAlreadyTriggered if another cycle is running.
// Folders that keep failing are skipped and reported in the error.
func (w *Worker) SyncOnce(ctx context.Context) (*Result, error) {
	if !w.cycleMu.TryLock() {
		return nil, ErrSyncAlreadyTriggered
	}
	defer w.cycleMu.Unlock()

	w.inProgress.Store(true)
	defer w.inProgress.Store(false)

	start := time.Now()
	cfg := w.configGetter()

	w.statusMu.Lock()
	w.progress = &Progress{StartTime: start}
	w.lastRunAt = start
	w.statusMu.Unlock()

	defer func() {
		w.statusMu.Lock()
		w.progress = nil
		w.statusMu.Unlock()
	}()

	slog.InfoContext(ctx, "Starting sync")

	docs, folders, walkErr := w.walk(ctx, cfg.GetRemoteRootID())

	result := &Result{Folders: folders, Files: len(docs)}

	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
	} else if len(docs) > 0 {
		var sr *database.SyncResult
		sr, err = w.repo.SyncDocuments(ctx, docs)
		if err == nil {
			result.Added = sr.Added
			result.Updated = sr.Updated
		}
	}

	if walkErr != nil {
		result.FailedFolders = countJoined(walkErr)
		err = errors.Join(err, walkErr)
	}

	if err == nil && cfg.Sync.Prewarm && w.prewarmer != nil {
		result.Prewarmed, result.PrewarmFailed = w.prewarm(ctx, docs, cfg.GetPrewarmWorkers())
	}

	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	metrics.RecordSync(result.Added, result.Updated, result.Duration, err == nil)

	w.statusMu.Lock()
	w.lastResult = result
	if err != nil {
		w.lastError = err.Error()
	} else {
		w.lastError = ""
	}
	w.statusMu.Unlock()

	if err != nil {
		return result, err
	}

	slog.InfoContext(ctx, "Sync completed",
		"folders", result.Folders,
		"files", result.Files,
		"added", result.Added,
		"updated", result.Updated,
		"duration", result.Duration)

	return result, nil
}

type folder struct {
	id     string
	prefix string
}

// walk lists the tree depth first with an explicit stack.
func (w *Worker) walk(ctx context.Context, rootID string) ([]database.DocumentRecord, int, error) {
	stack := []folder{{id: rootID}}
	var (
		docs    []database.DocumentRecord
		visited int
		errs    []error
	)

	for len(stack) > 0 {
		if ctx.Err() != nil {
			break
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := w.list(ctx, f.id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to list folder",
				"folder_id", f.id,
				"prefix", f.prefix,
				"error", err)
			errs = append(errs, fmt.Errorf("failed to list folder %q: %w", f.prefix, err))
			continue
		}
		visited++

		for _, e := range entries {
			rel := pathutil.JoinKey(f.prefix, e.Name)
			if e.IsFolder {
				stack = append(stack, folder{id: e.ID, prefix: rel})
				continue
			}

			key, err := pathutil.CleanKey(rel)
			if err != nil {
				slog.WarnContext(ctx, "Skipping remote file with unusable path", "path", rel, "error", err)
				continue
			}

			doc := database.DocumentRecord{
				Relpath:  key,
				Name:     e.Name,
				RemoteID: e.ID,
				Type:     pathutil.DocumentType(key),
				Size:     e.Size,
			}
			if !e.ModifiedAt.IsZero() {
				mod := e.ModifiedAt.UTC()
				doc.RemoteModified = &mod
			}
			docs = append(docs, doc)
		}

		w.statusMu.Lock()
		if w.progress != nil {
			w.progress.FoldersVisited = visited
			w.progress.FilesSeen = len(docs)
		}
		w.statusMu.Unlock()
	}

	return docs, visited, errors.Join(errs...)
}

func (w *Worker) list(ctx context.Context, folderID string) ([]remote.Entry, error) {
	var entries []remote.Entry

	err := retry.Do(
		func() error {
			var err error
			entries, err = w.store.List(ctx, folderID)
			return err
		},
		retry.Attempts(3),
		retry.Delay(w.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !derrors.IsNonRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.DebugContext(ctx, "Retrying folder listing",
				"attempt", n+1,
				"folder_id", folderID,
				"error", err)
		}),
	)

	return entries, err
}

// prewarm fetches every document missing from the cache through a bounded pool.
func (w *Worker) prewarm(ctx context.Context, docs []database.DocumentRecord, workers int) (int, int) {
	var ok, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for _, d := range docs {
		if w.prewarmer.Cached(d.Relpath) {
			continue
		}
		key := d.Relpath
		p.Go(func(ctx context.Context) error {
			if _, err := w.prewarmer.Ensure(ctx, key); err != nil {
				failed.Add(1)
				slog.DebugContext(ctx, "Pre-warm failed", "relpath", key, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = p.Wait()

	if ok.Load() > 0 || failed.Load() > 0 {
		slog.InfoContext(ctx, "Pre-warm finished", "fetched", ok.Load(), "failed", failed.Load())
	}

	return int(ok.Load()), int(failed.Load())
}

func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
