package ingest

import (
	"time"

	"github.com/notifyarr/notifyarr/internal/store"
)

// EventType identifies a normalized inbound event.
type EventType string

const (
	EventRequestCreated  EventType = "request_created"
	EventRequestApproved EventType = "request_approved"
	EventIssueCreated    EventType = "issue_created"
	EventIssueResolved   EventType = "issue_resolved"
	EventGrab            EventType = "grab"
	EventImport          EventType = "import"
	EventImportFailed    EventType = "import_failed"
)

// EpisodeInfo is one episode carried by a TV event.
type EpisodeInfo struct {
	SeasonNumber  int
	EpisodeNumber int
	Title         string
	AirDateUTC    *time.Time
}

// Event is a normalized inbound webhook event. Only the fields relevant to
// the event type are populated.
type Event struct {
	Type      EventType
	MediaType store.MediaType
	TmdbID    int64
	Title     string

	// TV only: the automation service's series id and the episodes the
	// event concerns.
	SeriesID int64
	Episodes []EpisodeInfo

	// Grab / import-failed context.
	ReleaseTitle string
	DownloadID   string
	MovieID      int64

	// Request-tracking service references.
	SeerrRequestID  int64
	SeerrIssueID    int64
	IssueType       string
	IssueMessage    string
	ReporterSeerrID int64
}
