package seerr

import "github.com/notifyarr/notifyarr/internal/store"

// Request status codes used by the request-tracking service.
const (
	StatusPending  = 1
	StatusApproved = 2
	StatusDeclined = 3
)

// Media status codes. Partially available means some but not all seasons
// of a series have files.
const (
	MediaPartiallyAvailable = 4
	MediaAvailable          = 5
)

// User is an account on the request-tracking service.
type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PlexID      *int64 `json:"plexId,omitempty"`
}

// Media is the title a request points at.
type Media struct {
	ID        int64  `json:"id"`
	MediaType string `json:"mediaType"`
	TmdbID    int64  `json:"tmdbId"`
	TvdbID    int64  `json:"tvdbId"`
	Status    int    `json:"status"`
}

// Season is one requested season of a series.
type Season struct {
	ID           int64 `json:"id"`
	SeasonNumber int   `json:"seasonNumber"`
	Status       int   `json:"status"`
}

// Request is one media request.
type Request struct {
	ID          int64    `json:"id"`
	Status      int      `json:"status"`
	Media       Media    `json:"media"`
	RequestedBy User     `json:"requestedBy"`
	Seasons     []Season `json:"seasons"`
}

// Issue is a content problem reported by a user.
type Issue struct {
	ID        int64  `json:"id"`
	IssueType int    `json:"issueType"`
	Status    int    `json:"status"`
	Media     Media  `json:"media"`
	CreatedBy User   `json:"createdBy"`
	Comments  []struct {
		Message string `json:"message"`
	} `json:"comments"`
}

type pageInfo struct {
	Pages   int `json:"pages"`
	Page    int `json:"page"`
	Results int `json:"results"`
}

type userPage struct {
	PageInfo pageInfo `json:"pageInfo"`
	Results  []User   `json:"results"`
}

type requestPage struct {
	PageInfo pageInfo  `json:"pageInfo"`
	Results  []Request `json:"results"`
}

// MapRequestStatus converts the combined request and media status codes to
// the local request lifecycle state. Media availability wins over the
// request's own approval state.
func MapRequestStatus(requestStatus, mediaStatus int) store.RequestStatus {
	switch mediaStatus {
	case MediaAvailable:
		return store.RequestAvailable
	case MediaPartiallyAvailable:
		return store.RequestPartiallyAvailable
	}
	switch requestStatus {
	case StatusApproved:
		return store.RequestApproved
	case StatusDeclined:
		return store.RequestDeclined
	default:
		return store.RequestPending
	}
}
