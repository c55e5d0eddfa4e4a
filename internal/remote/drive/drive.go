// Package drive serves a Google Drive folder tree as a remote store.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	derrors "github.com/javi11/docvault/internal/errors"
	"github.com/javi11/docvault/internal/remote"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	listFields     = "nextPageToken, files(id, name, mimeType, size, modifiedTime)"
	pageSize       = 1000
)

// Options configures the Drive client. CredentialsJSON wins over CredentialsFile.
type Options struct {
	CredentialsFile string
	CredentialsJSON string

	// Endpoint and HTTPClient override the API target, mostly for tests.
	Endpoint   string
	HTTPClient *http.Client
}

// Store implements remote.Store with the Drive v3 API.
type Store struct {
	svc *drive.Service
}

// New creates a read-only Drive service authenticated as a service account.
func New(ctx context.Context, opts Options) (*Store, error) {
	clientOpts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}

	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	default:
		return nil, errors.New("drive credentials are required")
	}

	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Store{svc: svc}, nil
}

// List implements remote.Store, following every result page.
func (s *Store) List(ctx context.Context, folderID string) ([]remote.Entry, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))

	var entries []remote.Entry
	err := s.svc.Files.List().
		Q(q).
		Fields(listFields).
		PageSize(pageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				entries = append(entries, toEntry(f))
			}
			return nil
		})
	if err != nil {
		return nil, mapError("list "+folderID, err)
	}

	return entries, nil
}

// Open implements remote.Store with a ranged media download.
func (s *Store) Open(ctx context.Context, remoteID string, offset, length int64) (io.ReadCloser, error) {
	call := s.svc.Files.Get(remoteID).SupportsAllDrives(true).Context(ctx)

	if offset > 0 || length > 0 {
		if length > 0 {
			call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			call.Header().Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := call.Download()
	if err != nil {
		return nil, mapError("download "+remoteID, err)
	}

	return resp.Body, nil
}

func toEntry(f *drive.File) remote.Entry {
	e := remote.Entry{
		ID:       f.Id,
		Name:     f.Name,
		IsFolder: f.MimeType == folderMimeType,
		Size:     f.Size,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		e.ModifiedAt = t
	}
	return e
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func mapError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusRequestedRangeNotSatisfiable:
			return remote.ErrRangeNotSatisfiable
		case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
			return derrors.NewNonRetryableError(op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
