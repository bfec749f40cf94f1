package store

import "time"

// MediaType identifies the kind of content a request is for.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// RequestStatus is the lifecycle state of a MediaRequest.
type RequestStatus string

const (
	RequestPending            RequestStatus = "pending"
	RequestApproved           RequestStatus = "approved"
	RequestDeclined           RequestStatus = "declined"
	RequestAvailable          RequestStatus = "available"
	RequestPartiallyAvailable RequestStatus = "partially_available"
)

// NotificationKind classifies outbound notifications.
type NotificationKind string

const (
	KindEpisode        NotificationKind = "episode"
	KindMovie          NotificationKind = "movie"
	KindComingSoon     NotificationKind = "coming_soon"
	KindQualityWaiting NotificationKind = "quality_waiting"
	KindIssueFixing    NotificationKind = "issue_fixing"
	KindIssueFixed     NotificationKind = "issue_fixed"
	KindImportFixed    NotificationKind = "import_fixed"
	KindStuckAlert     NotificationKind = "stuck_alert"
	KindAutoFixReport  NotificationKind = "auto_fix_report"
	KindWeeklySummary  NotificationKind = "weekly_summary"
)

// IssueStatus is the lifecycle state of a reported issue.
type IssueStatus string

const (
	IssueOpen      IssueStatus = "open"
	IssueFixing    IssueStatus = "fixing"
	IssueResolved  IssueStatus = "resolved"
	IssueAbandoned IssueStatus = "abandoned"
)

// WindowStatus is the lifecycle state of a maintenance window.
type WindowStatus string

const (
	WindowScheduled WindowStatus = "scheduled"
	WindowActive    WindowStatus = "active"
	WindowCompleted WindowStatus = "completed"
	WindowCancelled WindowStatus = "cancelled"
)

// User is an end user synced from the request-tracking service. The engine
// never creates users on its own.
type User struct {
	ID            int64     `json:"id"`
	SeerrID       int64     `json:"seerrId"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	MediaServerID *int64    `json:"mediaServerId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MediaRequest is one tracked request for a title.
type MediaRequest struct {
	ID             int64         `json:"id"`
	UserID         int64         `json:"userId"`
	SeerrRequestID int64         `json:"seerrRequestId"`
	MediaType      MediaType     `json:"mediaType"`
	TmdbID         int64         `json:"tmdbId"`
	Title          string        `json:"title"`
	Status         RequestStatus `json:"status"`
	SeasonCount    *int64        `json:"seasonCount,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// EpisodeTracking records one (series, season, episode) the engine has
// seen. Its uniqueness constraint is the idempotence key that prevents
// duplicate episode notifications.
type EpisodeTracking struct {
	ID            int64      `json:"id"`
	RequestID     int64      `json:"requestId"`
	SeriesID      int64      `json:"seriesId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	EpisodeTitle  *string    `json:"episodeTitle,omitempty"`
	AirDate       *time.Time `json:"airDate,omitempty"`
	Notified      bool       `json:"notified"`
	Available     bool       `json:"available"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Notification is one unit of outbound communication. The sent and
// cancelled flags are mutually exclusive terminal states. A nil UserID
// means the notification goes to the admin address.
type Notification struct {
	ID           int64            `json:"id"`
	UserID       *int64           `json:"userId,omitempty"`
	RequestID    *int64           `json:"requestId,omitempty"`
	Kind         NotificationKind `json:"kind"`
	Subject      string           `json:"subject"`
	Body         string           `json:"body"`
	Sent         bool             `json:"sent"`
	Cancelled    bool             `json:"cancelled"`
	SentAt       *time.Time       `json:"sentAt,omitempty"`
	SendAfter    *time.Time       `json:"sendAfter,omitempty"`
	SeriesID     *int64           `json:"seriesId,omitempty"`
	ErrorMessage *string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Issue is a content problem reported through the request-tracking service.
type Issue struct {
	ID           int64       `json:"id"`
	SeerrIssueID *int64      `json:"seerrIssueId,omitempty"`
	UserID       *int64      `json:"userId,omitempty"`
	RequestID    *int64      `json:"requestId,omitempty"`
	MediaType    MediaType   `json:"mediaType"`
	TmdbID       int64       `json:"tmdbId"`
	Title        string      `json:"title"`
	IssueType    *string     `json:"issueType,omitempty"`
	IssueMessage *string     `json:"issueMessage,omitempty"`
	Status       IssueStatus `json:"status"`
	ActionTaken  *string     `json:"actionTaken,omitempty"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty"`
	ErrorMessage *string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// MaintenanceWindow is an admin-declared downtime period. The three sent
// markers make each lifecycle email single-fire.
type MaintenanceWindow struct {
	ID               int64        `json:"id"`
	Title            string       `json:"title"`
	Description      *string      `json:"description,omitempty"`
	StartTime        time.Time    `json:"startTime"`
	EndTime          time.Time    `json:"endTime"`
	AnnouncementSent bool         `json:"announcementSent"`
	ReminderSent     bool         `json:"reminderSent"`
	CompletionSent   bool         `json:"completionSent"`
	Status           WindowStatus `json:"status"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}
