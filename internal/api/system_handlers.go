package api

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/stream"
	"github.com/javi11/docvault/internal/syncer"
)

// handleLive handles GET /live
func (s *Server) handleLive(c *fiber.Ctx) error {
	return c.JSON(LiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats handles GET /api/stats. Concurrent callers share one aggregate query.
func (s *Server) handleStats(c *fiber.Ctx) error {
	types := s.configGetter().GetOfficialTypes()
	ctx := context.WithoutCancel(c.UserContext())

	v, err, _ := s.stats.Do("stats", func() (any, error) {
		return s.docs.Stats(ctx, types)
	})
	if err != nil {
		return err
	}

	return c.JSON(toStatsResponse(v.([]database.TypeStats)))
}

func toStatsResponse(stats []database.TypeStats) StatsResponse {
	resp := StatsResponse{
		Labels:    make([]string, 0, len(stats)),
		Totals:    make([]int64, 0, len(stats)),
		Views:     make([]int64, 0, len(stats)),
		Downloads: make([]int64, 0, len(stats)),
		Lus:       make([]int64, 0, len(stats)),
		NonLus:    make([]int64, 0, len(stats)),
	}
	for _, st := range stats {
		resp.Labels = append(resp.Labels, st.Type)
		resp.Totals = append(resp.Totals, st.Total)
		resp.Views = append(resp.Views, st.Views)
		resp.Downloads = append(resp.Downloads, st.Downloads)
		resp.Lus = append(resp.Lus, st.Read)
		resp.NonLus = append(resp.NonLus, st.Unread)
	}
	return resp
}

// handleSyncStatus handles GET /api/sync/status
func (s *Server) handleSyncStatus(c *fiber.Ctx) error {
	if s.sync == nil {
		return c.JSON(syncer.Status{})
	}
	return c.JSON(s.sync.Status())
}

// handleSyncTrigger handles POST /api/sync/trigger
func (s *Server) handleSyncTrigger(c *fiber.Ctx) error {
	if s.sync == nil {
		return RespondConflict(c, ErrCodeSyncNotRunning, "sync is disabled")
	}

	if err := s.sync.Trigger(); err != nil {
		switch {
		case errors.Is(err, syncer.ErrSyncAlreadyTriggered):
			return RespondConflict(c, ErrCodeConflict, err.Error())
		case errors.Is(err, syncer.ErrNotRunning):
			return RespondConflict(c, ErrCodeSyncNotRunning, err.Error())
		default:
			return err
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// handleDriveWebhook handles POST /drive_webhook. Push notifications for
// created or changed files queue a sync; the response is always an empty 200.
func (s *Server) handleDriveWebhook(c *fiber.Ctx) error {
	state := c.Get("X-Goog-Resource-State")
	if (state == "exists" || state == "updated") && s.sync != nil {
		s.logger.InfoContext(c.UserContext(), "Change notification received, queueing sync", "state", state)
		s.sync.TriggerAsync()
	}

	c.Status(fiber.StatusOK)
	return nil
}

// handleStreams handles GET /api/streams
func (s *Server) handleStreams(c *fiber.Ctx) error {
	streams := []stream.ActiveStream{}
	if tracker := s.streamer.Tracker(); tracker != nil {
		streams = tracker.GetAll()
	}

	return c.JSON(StreamsResponse{
		Streams: streams,
		Count:   len(streams),
	})
}

// handleCache handles GET /api/cache
func (s *Server) handleCache(c *fiber.Ctx) error {
	usage, err := s.cache.Usage()
	if err != nil {
		return err
	}

	inFlight := s.fetcher.Guard().InFlight()
	if inFlight == nil {
		inFlight = []string{}
	}

	return c.JSON(CacheResponse{
		Entries:       usage.Entries,
		Bytes:         usage.Bytes,
		BytesHuman:    humanize.IBytes(uint64(usage.Bytes)),
		DiskFree:      usage.DiskFree,
		DiskTotal:     usage.DiskTotal,
		DiskFreeHuman: humanize.IBytes(uint64(usage.DiskFree)),
		InFlight:      inFlight,
	})
}
