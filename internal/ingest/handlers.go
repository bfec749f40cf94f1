package ingest

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notifyarr/notifyarr/internal/store"
)

// Handlers provides HTTP handlers for inbound webhooks.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new webhook handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers webhook routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.POST("/sonarr", h.Sonarr)
	g.POST("/radarr", h.Radarr)
	g.POST("/seerr", h.Seerr)
}

// webhookResponse is the common webhook reply shape.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type sonarrWebhook struct {
	EventType string `json:"eventType"`
	Series    struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		TvdbID int64  `json:"tvdbId"`
		TmdbID int64  `json:"tmdbId"`
	} `json:"series"`
	Episodes []struct {
		SeasonNumber  int    `json:"seasonNumber"`
		EpisodeNumber int    `json:"episodeNumber"`
		Title         string `json:"title"`
		AirDateUTC    string `json:"airDateUtc"`
	} `json:"episodes"`
	Release struct {
		ReleaseTitle string `json:"releaseTitle"`
	} `json:"release"`
	DownloadID string `json:"downloadId"`
}

// Sonarr handles webhooks from the episode download service.
// POST /api/v1/webhooks/sonarr
func (h *Handlers) Sonarr(c echo.Context) error {
	var payload sonarrWebhook
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	if payload.EventType == "Test" {
		return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "webhook test successful"})
	}

	ev := Event{
		MediaType:    store.MediaTypeTV,
		TmdbID:       payload.Series.TmdbID,
		Title:        payload.Series.Title,
		SeriesID:     payload.Series.ID,
		ReleaseTitle: payload.Release.ReleaseTitle,
		DownloadID:   payload.DownloadID,
	}
	for _, ep := range payload.Episodes {
		info := EpisodeInfo{
			SeasonNumber:  ep.SeasonNumber,
			EpisodeNumber: ep.EpisodeNumber,
			Title:         ep.Title,
		}
		if ep.AirDateUTC != "" {
			if t, err := time.Parse(time.RFC3339, ep.AirDateUTC); err == nil {
				info.AirDateUTC = &t
			}
		}
		ev.Episodes = append(ev.Episodes, info)
	}

	switch payload.EventType {
	case "Download":
		ev.Type = EventImport
	case "Grab":
		ev.Type = EventGrab
	case "DownloadFailed", "ImportFailure", "ManualInteractionRequired":
		ev.Type = EventImportFailed
	default:
		return c.JSON(http.StatusOK, webhookResponse{Success: false, Message: "unsupported event type: " + payload.EventType})
	}

	if payload.Series.TmdbID == 0 {
		return c.JSON(http.StatusOK, webhookResponse{Success: false, Message: "series has no TMDB id"})
	}

	if err := h.service.Process(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "event processed"})
}

type radarrWebhook struct {
	EventType string `json:"eventType"`
	Movie     struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		TmdbID int64  `json:"tmdbId"`
	} `json:"movie"`
	Release struct {
		ReleaseTitle string `json:"releaseTitle"`
	} `json:"release"`
	DownloadID string `json:"downloadId"`
}

// Radarr handles webhooks from the movie download service.
// POST /api/v1/webhooks/radarr
func (h *Handlers) Radarr(c echo.Context) error {
	var payload radarrWebhook
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	if payload.EventType == "Test" {
		return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "webhook test successful"})
	}

	ev := Event{
		MediaType:    store.MediaTypeMovie,
		TmdbID:       payload.Movie.TmdbID,
		Title:        payload.Movie.Title,
		MovieID:      payload.Movie.ID,
		ReleaseTitle: payload.Release.ReleaseTitle,
		DownloadID:   payload.DownloadID,
	}

	switch payload.EventType {
	case "Download":
		ev.Type = EventImport
	case "Grab":
		ev.Type = EventGrab
	case "DownloadFailed", "ImportFailure", "ManualInteractionRequired":
		ev.Type = EventImportFailed
	default:
		return c.JSON(http.StatusOK, webhookResponse{Success: false, Message: "unsupported event type: " + payload.EventType})
	}

	if err := h.service.Process(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "event processed"})
}

type seerrWebhook struct {
	NotificationType string `json:"notification_type"`
	Subject          string `json:"subject"`
	Media            struct {
		MediaType string `json:"media_type"`
		TmdbID    int64  `json:"tmdbId"`
	} `json:"media"`
	Request struct {
		RequestID int64 `json:"request_id"`
	} `json:"request"`
	Issue struct {
		IssueID   int64  `json:"issue_id"`
		IssueType string `json:"issue_type"`
	} `json:"issue"`
	Comment struct {
		CommentMessage string `json:"comment_message"`
	} `json:"comment"`
	RequestedByUser struct {
		ID int64 `json:"id"`
	} `json:"requestedBy_user"`
	ReportedByUser struct {
		ID int64 `json:"id"`
	} `json:"reportedBy_user"`
}

// Seerr handles webhooks from the request-tracking service.
// POST /api/v1/webhooks/seerr
func (h *Handlers) Seerr(c echo.Context) error {
	var payload seerrWebhook
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	if payload.NotificationType == "TEST_NOTIFICATION" {
		return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "webhook test successful"})
	}

	ev := Event{
		MediaType:       store.MediaType(payload.Media.MediaType),
		TmdbID:          payload.Media.TmdbID,
		Title:           payload.Subject,
		SeerrRequestID:  payload.Request.RequestID,
		SeerrIssueID:    payload.Issue.IssueID,
		IssueType:       payload.Issue.IssueType,
		IssueMessage:    payload.Comment.CommentMessage,
		ReporterSeerrID: payload.ReportedByUser.ID,
	}

	switch payload.NotificationType {
	case "MEDIA_PENDING":
		ev.Type = EventRequestCreated
	case "MEDIA_APPROVED", "MEDIA_AUTO_APPROVED":
		ev.Type = EventRequestApproved
	case "ISSUE_CREATED":
		ev.Type = EventIssueCreated
	case "ISSUE_RESOLVED":
		ev.Type = EventIssueResolved
	default:
		return c.JSON(http.StatusOK, webhookResponse{Success: false, Message: "unsupported notification type: " + payload.NotificationType})
	}

	if err := h.service.Process(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, webhookResponse{Success: true, Message: "event processed"})
}
