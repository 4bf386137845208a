package model

import "time"

// SourceDocument is a fetched regulatory source, owned by the extraction
// side of the system. The pipeline treats documents as read-only evidence.
type SourceDocument struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Authority   AuthorityLevel `json:"authority"`    // Hierarchy position of the issuing source
	Content     string         `json:"content"`      // Stored text or HTML body
	ContentHash string         `json:"content_hash"` // SHA-256 hex of Content at ingest time
	FetchHash   string         `json:"fetch_hash"`   // SHA-256 hex of the raw fetched bytes
	ContentType string         `json:"content_type"` // e.g. "text/html", "text/plain"
	FetchedAt   time.Time      `json:"fetched_at"`
}
