package api

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/stream"
)

// OfficialType is a dashboard entry
type OfficialType struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// DashboardResponse represents the home page data
type DashboardResponse struct {
	User          string         `json:"user"`
	OfficialTypes []OfficialType `json:"official_types"`
}

// DocumentResponse is a document record with a humanized size
type DocumentResponse struct {
	database.DocumentRecord
	SizeHuman string `json:"size_human"`
}

// ToDocumentResponse converts a database record to an API response
func ToDocumentResponse(doc database.DocumentRecord) DocumentResponse {
	return DocumentResponse{
		DocumentRecord: doc,
		SizeHuman:      humanize.Bytes(uint64(max(doc.Size, 0))),
	}
}

// ToDocumentResponses converts a slice of records, never returning nil
func ToDocumentResponses(docs []database.DocumentRecord) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, ToDocumentResponse(doc))
	}
	return out
}

// TypePageResponse represents one page of documents of a report type
type TypePageResponse struct {
	ReportType   string             `json:"report_type"`
	PageTitle    string             `json:"page_title"`
	Reports      []DocumentResponse `json:"reports"`
	Page         int                `json:"page"`
	PerPage      int                `json:"per_page"`
	Total        int                `json:"total"`
	Q            string             `json:"q"`
	StatusFilter string             `json:"status_filter"`
}

// SearchResponse represents search hits
type SearchResponse struct {
	Query string             `json:"query"`
	Hits  []DocumentResponse `json:"hits"`
}

// CategoriesResponse lists the official report types
type CategoriesResponse struct {
	PageTitle     string   `json:"page_title"`
	OfficialTypes []string `json:"official_types"`
}

// QRPageResponse describes the QR code of a document
type QRPageResponse struct {
	Relpath   string `json:"relpath"`
	QRURL     string `json:"qr_url"`
	ReportURL string `json:"report_url"`
}

// LoginRequest represents a login form or JSON body
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// LoginResponse is returned to JSON login callers
type LoginResponse struct {
	OK        bool      `json:"ok"`
	User      string    `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MarkStatusRequest represents a read/unread toggle
type MarkStatusRequest struct {
	Relpath string `json:"relpath"`
	Status  string `json:"status"`
}

// StatsResponse holds per-type aggregates as parallel arrays in official order
type StatsResponse struct {
	Labels    []string `json:"labels"`
	Totals    []int64  `json:"totals"`
	Views     []int64  `json:"views"`
	Downloads []int64  `json:"downloads"`
	Lus       []int64  `json:"lus"`
	NonLus    []int64  `json:"non_lus"`
}

// HistoryResponse represents the history of one document
type HistoryResponse struct {
	Relpath  string                  `json:"relpath"`
	Document *DocumentResponse       `json:"document"`
	History  []database.HistoryEvent `json:"history"`
}

// CacheResponse represents local cache usage
type CacheResponse struct {
	Entries       int      `json:"entries"`
	Bytes         int64    `json:"bytes"`
	BytesHuman    string   `json:"bytes_human"`
	DiskFree      int64    `json:"disk_free"`
	DiskTotal     int64    `json:"disk_total"`
	DiskFreeHuman string   `json:"disk_free_human"`
	InFlight      []string `json:"in_flight"`
}

// StreamsResponse lists active streams
type StreamsResponse struct {
	Streams []stream.ActiveStream `json:"streams"`
	Count   int                   `json:"count"`
}

// LiveResponse is the liveness probe body
type LiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
