package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

type sentMail struct {
	To      []string
	Subject string
}

type fakeSender struct {
	mu   sync.Mutex
	Sent []sentMail
	Err  error
}

func (f *fakeSender) Send(ctx context.Context, to []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, sentMail{To: to, Subject: subject})
	return nil
}

func newTestServer(t *testing.T, tdb *testutil.TestDB, cfg *config.Config, sender *fakeSender) *Server {
	t.Helper()
	return &Server{
		echo:            echo.New(),
		store:           tdb.Store,
		cfg:             cfg,
		logger:          testutil.NopLogger(),
		settingsService: settings.New(tdb.Store, cfg),
		mail:            sender,
		startTime:       time.Now(),
	}
}

func invoke(t *testing.T, s *Server, method, path string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	return rec, handler(c)
}

func TestSendTestEmail_DeliversToAdmin(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	cfg := config.Default()
	cfg.SMTP.AdminEmail = "admin@example.com"
	sender := &fakeSender{}
	s := newTestServer(t, tdb, cfg, sender)

	rec, err := invoke(t, s, http.MethodPost, "/api/v1/test-email", s.sendTestEmail)
	if err != nil {
		t.Fatalf("sendTestEmail() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(sender.Sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.Sent))
	}
	if got := sender.Sent[0].To; len(got) != 1 || got[0] != "admin@example.com" {
		t.Errorf("To = %v, want the admin address", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body["status"] != "sent" {
		t.Errorf("status = %q, want %q", body["status"], "sent")
	}
}

func TestSendTestEmail_NoAdminConfigured(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	cfg := config.Default()
	cfg.SMTP.AdminEmail = ""
	sender := &fakeSender{}
	s := newTestServer(t, tdb, cfg, sender)

	_, err := invoke(t, s, http.MethodPost, "/api/v1/test-email", s.sendTestEmail)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("error = %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want %d", httpErr.Code, http.StatusBadRequest)
	}
	if len(sender.Sent) != 0 {
		t.Errorf("sent = %d, want 0", len(sender.Sent))
	}
}

func TestSendTestEmail_SMTPFailureIsBadGateway(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	cfg := config.Default()
	cfg.SMTP.AdminEmail = "admin@example.com"
	sender := &fakeSender{Err: context.DeadlineExceeded}
	s := newTestServer(t, tdb, cfg, sender)

	_, err := invoke(t, s, http.MethodPost, "/api/v1/test-email", s.sendTestEmail)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("error = %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want %d", httpErr.Code, http.StatusBadGateway)
	}
}

func TestGetStatus_ReportsCounts(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	if _, err := tdb.Store.UpsertUser(ctx, 100, "alice@example.com", "alice", nil); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	s := newTestServer(t, tdb, config.Default(), &fakeSender{})

	rec, err := invoke(t, s, http.MethodGet, "/api/v1/status", s.getStatus)
	if err != nil {
		t.Fatalf("getStatus() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if got := body["users"].(float64); got != 1 {
		t.Errorf("users = %v, want 1", got)
	}
	if got := body["openIssues"].(float64); got != 0 {
		t.Errorf("openIssues = %v, want 0", got)
	}
}
