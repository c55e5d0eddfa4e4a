package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/javi11/docvault/internal/pathutil"
	"github.com/javi11/docvault/internal/textutil"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DocumentRepository handles document metadata and history operations
type DocumentRepository struct {
	conn    *sql.DB
	db      querier
	dialect Dialect
	now     func() time.Time
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(conn *sql.DB, dialect Dialect) *DocumentRepository {
	return &DocumentRepository{
		conn:    conn,
		db:      conn,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

const documentColumns = `id, relpath, name, remote_id, type, size, views, downloads, status,
	last_viewed, remote_modified, last_modified, created_at`

// withTransaction executes fn against a repository bound to a transaction
func (r *DocumentRepository) withTransaction(ctx context.Context, fn func(*DocumentRepository) error) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &DocumentRepository{conn: r.conn, db: tx, dialect: r.dialect, now: r.now}

	if err := fn(txRepo); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w): %v", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *DocumentRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *DocumentRepository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *DocumentRepository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var (
		doc            DocumentRecord
		status         string
		lastViewed     sql.NullTime
		remoteModified sql.NullTime
	)

	err := row.Scan(
		&doc.ID, &doc.Relpath, &doc.Name, &doc.RemoteID, &doc.Type, &doc.Size,
		&doc.Views, &doc.Downloads, &status,
		&lastViewed, &remoteModified, &doc.LastModified, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = DocumentStatus(status)
	if lastViewed.Valid {
		t := lastViewed.Time
		doc.LastViewed = &t
	}
	if remoteModified.Valid {
		t := remoteModified.Time
		doc.RemoteModified = &t
	}

	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]DocumentRecord, error) {
	defer rows.Close()

	var docs []DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Get retrieves the record for relpath, or nil if none exists
func (r *DocumentRepository) Get(ctx context.Context, relpath string) (*DocumentRecord, error) {
	row := r.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE relpath = ?`, relpath)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

// RemoteID returns the content store identifier for relpath.
// An empty string means the document is unknown or was never synced.
func (r *DocumentRepository) RemoteID(ctx context.Context, relpath string) (string, error) {
	var remoteID string
	err := r.queryRow(ctx, `SELECT remote_id FROM documents WHERE relpath = ?`, relpath).Scan(&remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get remote id: %w", err)
	}

	return remoteID, nil
}

// Ensure creates the record for relpath with default counters if it is missing.
// An existing record keeps its counters; its name is refreshed when one is given
// and its remote id when a non-empty one is given.
func (r *DocumentRepository) Ensure(ctx context.Context, relpath, name, remoteID string) error {
	now := r.now()
	insertName := name
	if insertName == "" {
		insertName = path.Base(relpath)
	}

	_, err := r.exec(ctx, `
		INSERT INTO documents (relpath, name, search_name, search_path, remote_id, type, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(relpath) DO UPDATE SET
			name = CASE WHEN CAST(? AS TEXT) <> '' THEN excluded.name ELSE documents.name END,
			search_name = CASE WHEN CAST(? AS TEXT) <> '' THEN excluded.search_name ELSE documents.search_name END,
			remote_id = CASE WHEN excluded.remote_id <> '' THEN excluded.remote_id ELSE documents.remote_id END,
			last_modified = excluded.last_modified
	`, relpath, insertName, textutil.Fold(insertName), textutil.Fold(relpath), remoteID,
		pathutil.DocumentType(relpath), now, now, name, name)
	if err != nil {
		return fmt.Errorf("failed to ensure document: %w", err)
	}

	return nil
}

// Upsert stores a record discovered by the sync loop.
// New records start with default counters; existing records only get their
// remote attributes refreshed so counters, status and history survive.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *DocumentRecord) (bool, error) {
	var exists bool
	err := r.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE relpath = ?)`, doc.Relpath).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}

	now := r.now()
	docType := doc.Type
	if docType == "" {
		docType = pathutil.DocumentType(doc.Relpath)
	}

	if exists {
		_, err = r.exec(ctx, `
			UPDATE documents
			SET name = ?, search_name = ?, remote_id = ?, size = ?, type = ?, remote_modified = ?, last_modified = ?
			WHERE relpath = ?`,
			doc.Name, textutil.Fold(doc.Name), doc.RemoteID, doc.Size, docType, nullTime(doc.RemoteModified), now,
			doc.Relpath)
		if err != nil {
			return false, fmt.Errorf("failed to update document: %w", err)
		}
		return false, nil
	}

	_, err = r.exec(ctx, `
		INSERT INTO documents (relpath, name, search_name, search_path, remote_id, type, size, remote_modified, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Relpath, doc.Name, textutil.Fold(doc.Name), textutil.Fold(doc.Relpath), doc.RemoteID,
		docType, doc.Size, nullTime(doc.RemoteModified), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert document: %w", err)
	}

	return true, nil
}

// SyncDocuments upserts a batch of records in a single transaction
func (r *DocumentRepository) SyncDocuments(ctx context.Context, docs []DocumentRecord) (*SyncResult, error) {
	result := &SyncResult{}
	if len(docs) == 0 {
		return result, nil
	}

	err := r.withTransaction(ctx, func(tx *DocumentRepository) error {
		for i := range docs {
			created, err := tx.Upsert(ctx, &docs[i])
			if err != nil {
				return err
			}
			if created {
				result.Added++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "Synced document batch", "added", result.Added, "updated", result.Updated)

	return result, nil
}

// RecordAction applies the counter and status effects of action to relpath and
// appends a history entry, creating the record first if needed.
func (r *DocumentRepository) RecordAction(ctx context.Context, relpath, user string, action Action) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}

	return r.withTransaction(ctx, func(tx *DocumentRepository) error {
		if err := tx.Ensure(ctx, relpath, "", ""); err != nil {
			return err
		}

		now := tx.now()

		var (
			query string
			args  []any
		)
		switch action {
		case ActionView:
			query = `UPDATE documents SET views = views + 1, status = ?, last_viewed = ? WHERE relpath = ?`
			args = []any{string(StatusRead), now, relpath}
		case ActionDownload:
			query = `UPDATE documents SET downloads = downloads + 1 WHERE relpath = ?`
			args = []any{relpath}
		case ActionMarkRead:
			query = `UPDATE documents SET status = ? WHERE relpath = ?`
			args = []any{string(StatusRead), relpath}
		case ActionMarkUnread:
			query = `UPDATE documents SET status = ? WHERE relpath = ?`
			args = []any{string(StatusUnread), relpath}
		}

		if _, err := tx.exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to apply %s: %w", action, err)
		}

		_, err := tx.exec(ctx, `
			INSERT INTO document_history (relpath, username, action, created_at)
			VALUES (?, ?, ?, ?)`, relpath, user, string(action), now)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}

		return nil
	})
}

// History returns the oldest-first history of relpath, at most limit entries (0 = all)
func (r *DocumentRepository) History(ctx context.Context, relpath string, limit int) ([]HistoryEvent, error) {
	query := `SELECT username, action, created_at FROM document_history WHERE relpath = ? ORDER BY id ASC`
	args := []any{relpath}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []HistoryEvent
	for rows.Next() {
		var (
			ev     HistoryEvent
			action string
		)
		if err := rows.Scan(&ev.User, &action, &ev.Time); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		ev.Action = Action(action)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return events, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(textutil.Fold(q)) + "%"
}

// typePrefix matches every relpath under the type folder
func typePrefix(docType string) string {
	return likeEscaper.Replace(docType) + "/%"
}

// ListByType returns one page of documents stored under the filter.Type folder and the
// total number of matches. Root-level files are not listed under any type.
func (r *DocumentRepository) ListByType(ctx context.Context, filter ListFilter) ([]DocumentRecord, int, error) {
	where := []string{`relpath LIKE ? ESCAPE '\'`}
	args := []any{typePrefix(filter.Type)}

	if textutil.Fold(filter.Query) != "" {
		where = append(where, `(search_name LIKE ? ESCAPE '\' OR search_path LIKE ? ESCAPE '\')`)
		p := likePattern(filter.Query)
		args = append(args, p, p)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	clause := strings.Join(where, " AND ")

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE `+clause+` ORDER BY relpath ASC LIMIT ? OFFSET ?`,
		append(args, limit, max(filter.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// Search returns documents whose name contains q, ignoring case and accents
func (r *DocumentRepository) Search(ctx context.Context, q string, limit int) ([]DocumentRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE search_name LIKE ? ESCAPE '\' ORDER BY relpath ASC LIMIT ?`,
		likePattern(q), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	return scanDocuments(rows)
}

// ListRelpaths returns up to limit relpaths under the given type folder
func (r *DocumentRepository) ListRelpaths(ctx context.Context, docType string, limit int) ([]string, error) {
	rows, err := r.query(ctx,
		`SELECT relpath FROM documents WHERE relpath LIKE ? ESCAPE '\' ORDER BY relpath ASC LIMIT ?`,
		typePrefix(docType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list relpaths: %w", err)
	}
	defer rows.Close()

	var relpaths []string
	for rows.Next() {
		var rel string
		if err := rows.Scan(&rel); err != nil {
			return nil, fmt.Errorf("failed to scan relpath: %w", err)
		}
		relpaths = append(relpaths, rel)
	}

	return relpaths, rows.Err()
}

// Stats aggregates counters per type, in the order of types.
// Types with no documents are returned with zero values.
func (r *DocumentRepository) Stats(ctx context.Context, types []string) ([]TypeStats, error) {
	rows, err := r.query(ctx, `
		SELECT type,
		       COUNT(*),
		       COALESCE(SUM(views), 0),
		       COALESCE(SUM(downloads), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM documents
		GROUP BY type`, string(StatusRead))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()

	byType := make(map[string]TypeStats)
	for rows.Next() {
		var s TypeStats
		if err := rows.Scan(&s.Type, &s.Total, &s.Views, &s.Downloads, &s.Read); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		s.Unread = s.Total - s.Read
		byType[s.Type] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}

	stats := make([]TypeStats, 0, len(types))
	for _, t := range types {
		s, ok := byType[t]
		if !ok {
			s = TypeStats{Type: t}
		}
		stats = append(stats, s)
	}

	return stats, nil
}

// Count returns the number of tracked documents
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}
