package database

import (
	"time"
)

// DocumentStatus represents whether a document has been read
type DocumentStatus string

const (
	StatusRead   DocumentStatus = "lu"
	StatusUnread DocumentStatus = "non_lu"
)

// ParseStatus validates a status coming from an API caller.
func ParseStatus(s string) (DocumentStatus, bool) {
	switch DocumentStatus(s) {
	case StatusRead, StatusUnread:
		return DocumentStatus(s), true
	default:
		return "", false
	}
}

// Action represents a user interaction recorded in a document history
type Action string

const (
	ActionView       Action = "view"
	ActionDownload   Action = "download"
	ActionMarkRead   Action = "mark_lu"
	ActionMarkUnread Action = "mark_non_lu"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionDownload, ActionMarkRead, ActionMarkUnread:
		return true
	default:
		return false
	}
}

// StatusAction returns the mark action that sets status.
func StatusAction(status DocumentStatus) Action {
	if status == StatusRead {
		return ActionMarkRead
	}
	return ActionMarkUnread
}

// DocumentRecord represents the tracked metadata of one document
type DocumentRecord struct {
	ID             int64          `db:"id" json:"id"`
	Relpath        string         `db:"relpath" json:"relpath"`
	Name           string         `db:"name" json:"name"`
	RemoteID       string         `db:"remote_id" json:"remote_id"`
	Type           string         `db:"type" json:"type"`
	Size           int64          `db:"size" json:"size"`
	Views          int64          `db:"views" json:"views"`
	Downloads      int64          `db:"downloads" json:"downloads"`
	Status         DocumentStatus `db:"status" json:"status"`
	LastViewed     *time.Time     `db:"last_viewed" json:"last_viewed"`
	RemoteModified *time.Time     `db:"remote_modified" json:"remote_modified,omitempty"`
	LastModified   time.Time      `db:"last_modified" json:"last_modified"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// HistoryEvent is one entry of a document's append-only history
type HistoryEvent struct {
	User   string    `db:"username" json:"user"`
	Action Action    `db:"action" json:"action"`
	Time   time.Time `db:"created_at" json:"time"`
}

// ListFilter selects a page of documents of one type
type ListFilter struct {
	Type   string
	Query  string
	Status DocumentStatus // empty = all
	Limit  int
	Offset int
}

// TypeStats holds the dashboard aggregates for one document type
type TypeStats struct {
	Type      string `json:"type"`
	Total     int64  `json:"total"`
	Views     int64  `json:"views"`
	Downloads int64  `json:"downloads"`
	Read      int64  `json:"lus"`
	Unread    int64  `json:"non_lus"`
}

// SyncResult represents the result of a sync batch
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}
