package slogutil

import (
	"log/slog"
	"sync/atomic"
)

// DynamicLeveler is a slog.Leveler whose level can change while handlers hold it.
type DynamicLeveler struct {
	level atomic.Int64
}

// NewDynamicLeveler returns a leveler starting at level.
func NewDynamicLeveler(level slog.Level) *DynamicLeveler {
	dl := &DynamicLeveler{}
	dl.SetLevel(level)
	return dl
}

// Level returns the current logging level.
func (dl *DynamicLeveler) Level() slog.Level {
	return slog.Level(dl.level.Load())
}

// SetLevel updates the logging level.
func (dl *DynamicLeveler) SetLevel(level slog.Level) {
	dl.level.Store(int64(level))
}

// SetLevelName updates the level from a config name such as "debug".
// It reports whether the level changed.
func (dl *DynamicLeveler) SetLevelName(name string) bool {
	next := ParseLevel(name)
	return slog.Level(dl.level.Swap(int64(next))) != next
}
