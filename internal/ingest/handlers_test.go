package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

type recordingIssueHandler struct {
	Created  []Event
	Resolved []Event
}

func (r *recordingIssueHandler) IssueCreated(ctx context.Context, ev Event) error {
	r.Created = append(r.Created, ev)
	return nil
}

func (r *recordingIssueHandler) IssueResolved(ctx context.Context, ev Event) error {
	r.Resolved = append(r.Resolved, ev)
	return nil
}

func (r *recordingIssueHandler) ImportCompleted(ctx context.Context, mediaType store.MediaType, tmdbID int64) error {
	return nil
}

func postWebhook(t *testing.T, h func(echo.Context) error, path, body string) (*httptest.ResponseRecorder, webhookResponse) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h(c); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return rec, resp
}

func TestSonarr_TestEvent(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	handlers := NewHandlers(newTestService(t, tdb))
	rec, resp := postWebhook(t, handlers.Sonarr, "/webhooks/sonarr", `{"eventType":"Test"}`)

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true for test events")
	}
}

func TestSonarr_DownloadCreatesNotification(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedTVRequest(t, tdb.Store)
	handlers := NewHandlers(newTestService(t, tdb))

	body := `{
		"eventType": "Download",
		"series": {"id": 42, "title": "Test Show", "tvdbId": 12345, "tmdbId": 777},
		"episodes": [{"seasonNumber": 1, "episodeNumber": 5, "title": "The One", "airDateUtc": "2026-08-30T00:00:00Z"}]
	}`
	rec, resp := postWebhook(t, handlers.Sonarr, "/webhooks/sonarr", body)

	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("Status = %d, Success = %v, want 200/true", rec.Code, resp.Success)
	}

	total, err := tdb.Store.CountNotifications(ctx, nil)
	if err != nil {
		t.Fatalf("CountNotifications() error = %v", err)
	}
	if total != 1 {
		t.Errorf("notifications = %d, want 1", total)
	}
}

func TestSonarr_UnsupportedEventType(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	handlers := NewHandlers(newTestService(t, tdb))
	rec, resp := postWebhook(t, handlers.Sonarr, "/webhooks/sonarr", `{"eventType":"Rename"}`)

	// Unknown events get a 200 so the sender does not retry, but Success
	// is false.
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusOK)
	}
	if resp.Success {
		t.Error("Success = true, want false for unsupported events")
	}
}

func TestSonarr_MissingTmdbID(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	handlers := NewHandlers(newTestService(t, tdb))
	body := `{"eventType":"Download","series":{"id":42,"title":"Test Show"}}`
	_, resp := postWebhook(t, handlers.Sonarr, "/webhooks/sonarr", body)

	if resp.Success {
		t.Error("Success = true, want false when the series has no TMDB id")
	}
}

func TestRadarr_DownloadMarksRequestAvailable(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, err := tdb.Store.UpsertUser(ctx, 100, "alice@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	req, err := tdb.Store.UpsertRequest(ctx, user.ID, 501, store.MediaTypeMovie, 888, "Test Movie", store.RequestApproved, nil)
	if err != nil {
		t.Fatalf("UpsertRequest() error = %v", err)
	}

	handlers := NewHandlers(newTestService(t, tdb))
	body := `{"eventType":"Download","movie":{"id":7,"title":"Test Movie","tmdbId":888}}`
	rec, resp := postWebhook(t, handlers.Radarr, "/webhooks/radarr", body)

	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("Status = %d, Success = %v, want 200/true", rec.Code, resp.Success)
	}
	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q", got.Status, store.RequestAvailable)
	}
}

func TestSeerr_IssueCreatedRoutesToHandler(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	issueHandler := &recordingIssueHandler{}
	svc := newTestService(t, tdb)
	svc.issues = issueHandler
	handlers := NewHandlers(svc)

	body := `{
		"notification_type": "ISSUE_CREATED",
		"subject": "Test Movie",
		"media": {"media_type": "movie", "tmdbId": 888},
		"issue": {"issue_id": 9, "issue_type": "VIDEO"},
		"comment": {"comment_message": "playback stutters"},
		"reportedBy_user": {"id": 100}
	}`
	rec, resp := postWebhook(t, handlers.Seerr, "/webhooks/seerr", body)

	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("Status = %d, Success = %v, want 200/true", rec.Code, resp.Success)
	}
	if len(issueHandler.Created) != 1 {
		t.Fatalf("IssueCreated called %d times, want 1", len(issueHandler.Created))
	}
	ev := issueHandler.Created[0]
	if ev.SeerrIssueID != 9 || ev.IssueType != "VIDEO" || ev.ReporterSeerrID != 100 {
		t.Errorf("event = %+v, want issue fields mapped from the payload", ev)
	}
	if ev.IssueMessage != "playback stutters" {
		t.Errorf("IssueMessage = %q, want the comment text", ev.IssueMessage)
	}
}

func TestSeerr_TestNotification(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	handlers := NewHandlers(newTestService(t, tdb))
	_, resp := postWebhook(t, handlers.Seerr, "/webhooks/seerr", `{"notification_type":"TEST_NOTIFICATION"}`)

	if !resp.Success {
		t.Error("Success = false, want true for test notifications")
	}
}
