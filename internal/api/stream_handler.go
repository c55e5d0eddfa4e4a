package api

import (
	"bufio"
	"context"
	"log/slog"
	"mime"
	"path"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/archive"
	"github.com/javi11/docvault/internal/auth"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/metrics"
	"github.com/javi11/docvault/internal/slogutil"
	"github.com/javi11/docvault/internal/stream"
)

// openDocument makes sure key is cached and opens it for streaming.
// The caller owns the returned file.
func (s *Server) openDocument(ctx context.Context, key string) (stream.Source, error) {
	key, err := s.fetcher.Ensure(ctx, key)
	if err != nil {
		return stream.Source{}, err
	}

	f, info, err := s.cache.Open(key)
	if err != nil {
		return stream.Source{}, err
	}

	src := stream.Source{
		File:     f,
		Size:     info.Size(),
		Relpath:  key,
		Filename: path.Base(key),
	}

	if sum, err := s.cache.Checksum(key); err == nil {
		src.ETag = sum
	} else {
		slog.DebugContext(ctx, "No checksum for document", "error", err)
	}

	return src, nil
}

func (s *Server) recordAction(ctx context.Context, key, user string, action database.Action) {
	if err := s.docs.RecordAction(ctx, key, user, action); err != nil {
		slog.ErrorContext(ctx, "Failed to record document action", "action", action, "error", err)
		return
	}
	metrics.RecordDocumentAction(string(action))
}

// handleReport handles GET /report/*: counts a view and redirects to the stream
func (s *Server) handleReport(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	ctx := slogutil.WithDocument(c.UserContext(), key)
	s.recordAction(ctx, key, auth.GetUser(c), database.ActionView)

	return c.Redirect("/stream/"+escapeRelpath(key), fiber.StatusFound)
}

// handleView handles GET /view/*
func (s *Server) handleView(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}
	return c.Redirect("/stream/"+escapeRelpath(key), fiber.StatusFound)
}

// handleStream handles GET /stream/*: range-aware inline streaming
func (s *Server) handleStream(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	user := auth.GetUser(c)
	ctx := slogutil.WithDocument(c.UserContext(), key)

	src, err := s.openDocument(ctx, key)
	if err != nil {
		return respondDocumentError(c, err)
	}

	// A 416 is not a view
	if _, kind := stream.ParseRange(c.Get(fiber.HeaderRange), src.Size); kind != stream.Unsatisfiable {
		s.recordAction(ctx, src.Relpath, user, database.ActionView)
	}

	src.User = user
	src.Label = "stream"
	return s.streamer.Serve(c, src)
}

// handlePDF handles GET /pdf/*: the whole file inline, without counting a view
func (s *Server) handlePDF(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	ctx := slogutil.WithDocument(c.UserContext(), key)
	src, err := s.openDocument(ctx, key)
	if err != nil {
		return respondDocumentError(c, err)
	}

	src.User = auth.GetUser(c)
	src.Label = "pdf"
	return s.streamer.Serve(c, src)
}

// handleDownload handles GET /download/*: the file as an attachment
func (s *Server) handleDownload(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	user := auth.GetUser(c)
	ctx := slogutil.WithDocument(c.UserContext(), key)

	src, err := s.openDocument(ctx, key)
	if err != nil {
		return respondDocumentError(c, err)
	}

	s.recordAction(ctx, src.Relpath, user, database.ActionDownload)

	src.User = user
	src.Attachment = true
	src.Label = "download"
	return s.streamer.Serve(c, src)
}

// handleDownloadAll handles GET /download_all/:type: a streaming zip of every
// document of the type. Documents that cannot be fetched are skipped.
func (s *Server) handleDownloadAll(c *fiber.Ctx) error {
	docType, ok := typeParam(c)
	if !ok {
		return RespondBadRequest(c)
	}

	relpaths, err := s.docs.ListRelpaths(c.UserContext(), docType, downloadAllLimit)
	if err != nil {
		return err
	}

	user := auth.GetUser(c)
	// The body is written after the handler returns, so it must not use c
	ctx := context.WithoutCancel(slogutil.With(c.UserContext(), "type", docType))

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": docType + ".zip"}))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.writeArchive(ctx, w, relpaths, user)
	})

	return nil
}

func (s *Server) writeArchive(ctx context.Context, w *bufio.Writer, relpaths []string, user string) {
	zw := archive.NewWriter(w)
	skipped := 0

	for _, rel := range relpaths {
		docCtx := slogutil.WithDocument(ctx, rel)

		key, err := s.fetcher.Ensure(docCtx, rel)
		if err != nil {
			slog.WarnContext(docCtx, "Skipping document in archive", "error", err)
			skipped++
			continue
		}

		f, info, err := s.cache.Open(key)
		if err != nil {
			slog.WarnContext(docCtx, "Skipping document in archive", "error", err)
			skipped++
			continue
		}

		_, err = zw.Add(key, f, info.ModTime())
		f.Close()
		if err != nil {
			// The client is gone, nothing more can be written
			slog.WarnContext(docCtx, "Archive stream aborted", "error", err)
			return
		}

		s.recordAction(docCtx, key, user, database.ActionDownload)

		if err := zw.Flush(); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			slog.WarnContext(docCtx, "Archive stream aborted", "error", err)
			return
		}
	}

	if err := zw.Close(); err != nil {
		slog.WarnContext(ctx, "Failed to finish archive", "error", err)
		return
	}
	if err := w.Flush(); err != nil {
		return
	}

	slog.InfoContext(ctx, "Archive sent", "documents", zw.Entries(), "skipped", skipped)
}
