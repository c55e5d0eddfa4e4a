package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDocumentRepo(t *testing.T) *DocumentRepository {
	t.Helper()
	return NewTestDB(t).Documents
}

func TestDialectRebind(t *testing.T) {
	q := `SELECT * FROM documents WHERE type = ? AND status = ? LIMIT ?`
	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t, `SELECT * FROM documents WHERE type = $1 AND status = $2 LIMIT $3`, DialectPostgres.Rebind(q))
}

func TestEnsure_CreatesDefaults(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()

	doc, err := repo.Get(ctx, "RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, repo.Ensure(ctx, "RAPPORT_CL/a.pdf", "", "drive-1"))

	doc, err = repo.Get(ctx, "RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "a.pdf", doc.Name)
	assert.Equal(t, "drive-1", doc.RemoteID)
	assert.Equal(t, "RAPPORT_CL", doc.Type)
	assert.Equal(t, StatusUnread, doc.Status)
	assert.Zero(t, doc.Views)
	assert.Zero(t, doc.Downloads)
	assert.Nil(t, doc.LastViewed)

	// An empty remote id never clears a known one
	require.NoError(t, repo.Ensure(ctx, "RAPPORT_CL/a.pdf", "", ""))
	id, err := repo.RemoteID(ctx, "RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "drive-1", id)

	id, err = repo.RemoteID(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRecordAction(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()
	rel := "ETAT_VISITE/v.pdf"

	require.NoError(t, repo.RecordAction(ctx, rel, "cgeds", ActionView))
	require.NoError(t, repo.RecordAction(ctx, rel, "cgeds", ActionView))
	require.NoError(t, repo.RecordAction(ctx, rel, "admin", ActionDownload))

	doc, err := repo.Get(ctx, rel)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(2), doc.Views)
	assert.Equal(t, int64(1), doc.Downloads)
	assert.Equal(t, StatusRead, doc.Status)
	require.NotNil(t, doc.LastViewed)

	require.NoError(t, repo.RecordAction(ctx, rel, "admin", ActionMarkUnread))
	doc, err = repo.Get(ctx, rel)
	require.NoError(t, err)
	assert.Equal(t, StatusUnread, doc.Status)
	assert.Equal(t, int64(2), doc.Views)

	require.NoError(t, repo.RecordAction(ctx, rel, "admin", ActionMarkRead))
	doc, err = repo.Get(ctx, rel)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, doc.Status)

	history, err := repo.History(ctx, rel, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, HistoryEvent{User: "cgeds", Action: ActionView, Time: history[0].Time}, history[0])
	assert.Equal(t, ActionDownload, history[2].Action)
	assert.Equal(t, ActionMarkRead, history[4].Action)

	limited, err := repo.History(ctx, rel, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	assert.Error(t, repo.RecordAction(ctx, rel, "admin", Action("delete")))
}

func TestRecordAction_Concurrent(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.RecordAction(ctx, "RAPPORT_ML/m.pdf", fmt.Sprintf("user%d", i), ActionView))
		}(i)
	}
	wg.Wait()

	doc, err := repo.Get(ctx, "RAPPORT_ML/m.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(n), doc.Views)

	history, err := repo.History(ctx, "RAPPORT_ML/m.pdf", 0)
	require.NoError(t, err)
	assert.Len(t, history, n)
}

func TestSyncDocuments_IdempotentAndPreservesCounters(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()

	tick := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return tick }

	modified := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	batch := func() []DocumentRecord {
		return []DocumentRecord{
			{Relpath: "RAPPORT_CL/a.pdf", Name: "a.pdf", RemoteID: "id-a", Size: 1000, RemoteModified: &modified},
			{Relpath: "root.pdf", Name: "root.pdf", RemoteID: "id-root", Size: 10},
		}
	}

	res, err := repo.SyncDocuments(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Added: 2}, res)

	require.NoError(t, repo.RecordAction(ctx, "RAPPORT_CL/a.pdf", "cgeds", ActionView))
	before, err := repo.Get(ctx, "RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	historyBefore, err := repo.History(ctx, "RAPPORT_CL/a.pdf", 0)
	require.NoError(t, err)

	tick = tick.Add(time.Minute)
	res, err = repo.SyncDocuments(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Updated: 2}, res)

	after, err := repo.Get(ctx, "RAPPORT_CL/a.pdf")
	require.NoError(t, err)
	historyAfter, err := repo.History(ctx, "RAPPORT_CL/a.pdf", 0)
	require.NoError(t, err)

	assert.Equal(t, before.Views, after.Views)
	assert.Equal(t, before.Downloads, after.Downloads)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.RemoteID, after.RemoteID)
	assert.Equal(t, before.Size, after.Size)
	assert.True(t, after.LastModified.After(before.LastModified))
	assert.Equal(t, historyBefore, historyAfter)
	require.NotNil(t, after.RemoteModified)
	assert.True(t, modified.Equal(*after.RemoteModified))

	root, err := repo.Get(ctx, "root.pdf")
	require.NoError(t, err)
	assert.Equal(t, "AUTRE", root.Type)

	empty, err := repo.SyncDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{}, empty)
}

func seedDocuments(t *testing.T, repo *DocumentRepository) {
	t.Helper()
	ctx := context.Background()

	docs := []DocumentRecord{
		{Relpath: "RAPPORT_CL/2024/Élodie Martin.pdf", Name: "Élodie Martin.pdf", RemoteID: "1"},
		{Relpath: "RAPPORT_CL/2024/Jean Dupont.pdf", Name: "Jean Dupont.pdf", RemoteID: "2"},
		{Relpath: "RAPPORT_CL/2023/100%_final.pdf", Name: "100%_final.pdf", RemoteID: "3"},
		{Relpath: "RECLAMATION/plainte.pdf", Name: "plainte.pdf", RemoteID: "4"},
	}
	_, err := repo.SyncDocuments(ctx, docs)
	require.NoError(t, err)
}

func TestListByType(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()
	seedDocuments(t, repo)

	require.NoError(t, repo.RecordAction(ctx, "RAPPORT_CL/2024/Jean Dupont.pdf", "cgeds", ActionView))

	tests := []struct {
		name      string
		filter    ListFilter
		wantTotal int
		wantFirst string
		wantLen   int
	}{
		{"all of type", ListFilter{Type: "RAPPORT_CL", Limit: 20}, 3, "RAPPORT_CL/2023/100%_final.pdf", 3},
		{"paged", ListFilter{Type: "RAPPORT_CL", Limit: 2, Offset: 2}, 3, "RAPPORT_CL/2024/Élodie Martin.pdf", 1},
		{"accent folded query", ListFilter{Type: "RAPPORT_CL", Query: "elodie", Limit: 20}, 1, "RAPPORT_CL/2024/Élodie Martin.pdf", 1},
		{"query on path", ListFilter{Type: "RAPPORT_CL", Query: "2023", Limit: 20}, 1, "RAPPORT_CL/2023/100%_final.pdf", 1},
		{"literal percent", ListFilter{Type: "RAPPORT_CL", Query: "100%", Limit: 20}, 1, "RAPPORT_CL/2023/100%_final.pdf", 1},
		{"read only", ListFilter{Type: "RAPPORT_CL", Status: StatusRead, Limit: 20}, 1, "RAPPORT_CL/2024/Jean Dupont.pdf", 1},
		{"unread only", ListFilter{Type: "RAPPORT_CL", Status: StatusUnread, Limit: 20}, 2, "RAPPORT_CL/2023/100%_final.pdf", 2},
		{"other type", ListFilter{Type: "RECLAMATION"}, 1, "RECLAMATION/plainte.pdf", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, total, err := repo.ListByType(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			require.Len(t, docs, tt.wantLen)
			assert.Equal(t, tt.wantFirst, docs[0].Relpath)
		})
	}

	docs, total, err := repo.ListByType(ctx, ListFilter{Type: "RAPPORT_CL", Query: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, docs)
}

func TestListByType_FolderPrefix(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()
	seedDocuments(t, repo)

	_, err := repo.SyncDocuments(ctx, []DocumentRecord{
		{Relpath: "root.pdf", Name: "root.pdf", RemoteID: "5"},
		{Relpath: "AUTRE/notes.pdf", Name: "notes.pdf", RemoteID: "6"},
		{Relpath: "RAPPORTXCL/x.pdf", Name: "x.pdf", RemoteID: "7"},
	})
	require.NoError(t, err)

	root, err := repo.Get(ctx, "root.pdf")
	require.NoError(t, err)
	require.Equal(t, "AUTRE", root.Type)

	docs, total, err := repo.ListByType(ctx, ListFilter{Type: "AUTRE", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "AUTRE/notes.pdf", docs[0].Relpath)

	// Underscore in the type is literal
	_, total, err = repo.ListByType(ctx, ListFilter{Type: "RAPPORT_CL", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	// Type folders are case-sensitive
	_, total, err = repo.ListByType(ctx, ListFilter{Type: "rapport_cl", Limit: 20})
	require.NoError(t, err)
	assert.Zero(t, total)

	rels, err := repo.ListRelpaths(ctx, "AUTRE", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"AUTRE/notes.pdf"}, rels)
}

func TestSearch(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()
	seedDocuments(t, repo)

	hits, err := repo.Search(ctx, "ÉLODIE", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Élodie Martin.pdf", hits[0].Name)

	hits, err = repo.Search(ctx, "pdf", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = repo.Search(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestStatsAndRelpaths(t *testing.T) {
	repo := setupDocumentRepo(t)
	ctx := context.Background()
	seedDocuments(t, repo)

	require.NoError(t, repo.RecordAction(ctx, "RAPPORT_CL/2024/Jean Dupont.pdf", "cgeds", ActionView))
	require.NoError(t, repo.RecordAction(ctx, "RAPPORT_CL/2024/Jean Dupont.pdf", "cgeds", ActionDownload))
	require.NoError(t, repo.RecordAction(ctx, "RECLAMATION/plainte.pdf", "cgeds", ActionDownload))

	stats, err := repo.Stats(ctx, []string{"RECLAMATION", "RAPPORT_CL", "ETAT_VISITE"})
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, TypeStats{Type: "RECLAMATION", Total: 1, Downloads: 1, Unread: 1}, stats[0])
	assert.Equal(t, TypeStats{Type: "RAPPORT_CL", Total: 3, Views: 1, Downloads: 1, Read: 1, Unread: 2}, stats[1])
	assert.Equal(t, TypeStats{Type: "ETAT_VISITE"}, stats[2])

	rels, err := repo.ListRelpaths(ctx, "RAPPORT_CL", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"RAPPORT_CL/2023/100%_final.pdf", "RAPPORT_CL/2024/Jean Dupont.pdf"}, rels)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestParseStatusAndActions(t *testing.T) {
	s, ok := ParseStatus("lu")
	assert.True(t, ok)
	assert.Equal(t, StatusRead, s)

	_, ok = ParseStatus("read")
	assert.False(t, ok)

	assert.Equal(t, ActionMarkRead, StatusAction(StatusRead))
	assert.Equal(t, ActionMarkUnread, StatusAction(StatusUnread))
	assert.True(t, ActionDownload.Valid())
	assert.False(t, Action("").Valid())
}
