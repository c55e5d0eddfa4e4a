package stream

import (
	"fmt"
	"io"
	"mime"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/metrics"
)

// DefaultChunkSize bounds each read from a cached file while streaming.
const DefaultChunkSize = 8192

// File is an open cached document.
type File interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// Source describes the document to serve. Serve takes ownership of File.
type Source struct {
	File    File
	Size    int64
	Relpath string
	User    string
	// ETag is a strong validator for the content, usually its checksum.
	ETag string
	// Filename and Attachment control Content-Disposition. An empty filename sends none.
	Filename   string
	Attachment bool
	// Label names the route in the stream tracker.
	Label string
}

// Streamer writes cached files to fiber responses.
type Streamer struct {
	chunkSize int
	tracker   *Tracker
}

// NewStreamer creates a streamer. A nil tracker disables stream tracking.
func NewStreamer(chunkSize int, tracker *Tracker) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{chunkSize: chunkSize, tracker: tracker}
}

// Tracker returns the tracker active streams are registered in.
func (s *Streamer) Tracker() *Tracker {
	return s.tracker
}

// Serve answers the request with the whole file, the requested range, or 416.
// A malformed Range header gets the whole file.
func (s *Streamer) Serve(c *fiber.Ctx, src Source) error {
	rng, kind := ParseRange(c.Get(fiber.HeaderRange), src.Size)

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	if src.ETag != "" {
		c.Set(fiber.HeaderETag, strconv.Quote(src.ETag))
	}
	if src.Filename != "" {
		disposition := "inline"
		if src.Attachment {
			disposition = "attachment"
		}
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": src.Filename}))
	}

	switch kind {
	case Unsatisfiable:
		src.File.Close()
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", src.Size))
		return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)

	case Partial:
		c.Status(fiber.StatusPartialContent)
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, src.Size))
		c.Set(fiber.HeaderContentType, "application/pdf")
		s.send(c, src, rng.Start, rng.Length())
		return nil

	default:
		c.Status(fiber.StatusOK)
		c.Set(fiber.HeaderContentType, "application/pdf")
		s.send(c, src, 0, src.Size)
		return nil
	}
}

// send hands the span to fasthttp as a sized body stream. fasthttp sets
// Content-Length from length and closes the reader once the body is written.
func (s *Streamer) send(c *fiber.Ctx, src Source, offset, length int64) {
	body := &trackedBody{
		r:      io.NewSectionReader(src.File, offset, length),
		file:   src.File,
		chunk:  s.chunkSize,
		stream: s,
	}

	if s.tracker != nil {
		label := src.Label
		if label == "" {
			label = "stream"
		}
		body.id = s.tracker.Add(src.Relpath, label, src.User, c.IP(), length).ID
	}
	metrics.StreamStarted()

	c.Context().SetBodyStream(body, int(length))
}

type trackedBody struct {
	r      io.Reader
	file   io.Closer
	chunk  int
	stream *Streamer
	id     string
	once   sync.Once
}

func (b *trackedBody) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}

	n, err := b.r.Read(p)
	if n > 0 {
		metrics.RecordStreamBytes(int64(n))
		if b.id != "" {
			b.stream.tracker.UpdateProgress(b.id, int64(n))
		}
	}
	return n, err
}

func (b *trackedBody) Close() error {
	var err error
	b.once.Do(func() {
		if b.id != "" {
			b.stream.tracker.Remove(b.id)
		}
		metrics.StreamFinished()
		err = b.file.Close()
	})
	return err
}
