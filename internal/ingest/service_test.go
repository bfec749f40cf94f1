package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

func newTestService(t *testing.T, tdb *testutil.TestDB) *Service {
	t.Helper()
	return New(tdb.Store, nil, nil, nil, nil, config.Default(), testutil.NopLogger())
}

func seedTVRequest(t *testing.T, st *store.Store) (*store.User, *store.MediaRequest) {
	t.Helper()
	ctx := context.Background()
	user, err := st.UpsertUser(ctx, 100, "alice@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	req, err := st.UpsertRequest(ctx, user.ID, 500, store.MediaTypeTV, 777, "Test Show", store.RequestApproved, nil)
	if err != nil {
		t.Fatalf("UpsertRequest() error = %v", err)
	}
	return user, req
}

func episodeImportEvent() Event {
	return Event{
		Type:      EventImport,
		MediaType: store.MediaTypeTV,
		TmdbID:    777,
		Title:     "Test Show",
		SeriesID:  42,
		Episodes: []EpisodeInfo{
			{SeasonNumber: 1, EpisodeNumber: 5, Title: "The One"},
		},
	}
}

func TestProcess_EpisodeImportQueuesDelayedNotification(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedTVRequest(t, tdb.Store)
	svc := newTestService(t, tdb)

	if err := svc.Process(ctx, episodeImportEvent()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	due, err := tdb.Store.ListDue(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("created %d notifications, want 1", len(due))
	}
	n := due[0]
	if n.Kind != store.KindEpisode {
		t.Errorf("Kind = %q, want %q", n.Kind, store.KindEpisode)
	}
	if !strings.Contains(n.Subject, "S01E05") {
		t.Errorf("Subject = %q, want the episode tag", n.Subject)
	}
	if n.SendAfter == nil || !n.SendAfter.After(time.Now().UTC()) {
		t.Errorf("SendAfter = %v, want the initial batching delay", n.SendAfter)
	}
	if n.SeriesID == nil || *n.SeriesID != 42 {
		t.Errorf("SeriesID = %v, want 42", n.SeriesID)
	}

	tracking, err := tdb.Store.LookupEpisode(ctx, 42, 1, 5)
	if err != nil {
		t.Fatalf("LookupEpisode() error = %v", err)
	}
	if !tracking.Notified || !tracking.Available {
		t.Errorf("tracking row = %+v, want notified and available", tracking)
	}
}

func TestProcess_EpisodeImportIsIdempotent(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedTVRequest(t, tdb.Store)
	svc := newTestService(t, tdb)

	// The same import can arrive twice: once from the webhook, once from
	// the reconciliation sweep.
	for i := 0; i < 2; i++ {
		if err := svc.Process(ctx, episodeImportEvent()); err != nil {
			t.Fatalf("Process() #%d error = %v", i+1, err)
		}
	}

	total, err := tdb.Store.CountNotifications(ctx, nil)
	if err != nil {
		t.Fatalf("CountNotifications() error = %v", err)
	}
	if total != 1 {
		t.Errorf("notifications = %d, want 1 after duplicate imports", total)
	}
}

func TestProcess_MovieImportMarksAvailable(t *testing.T) {
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

	svc := newTestService(t, tdb)
	ev := Event{Type: EventImport, MediaType: store.MediaTypeMovie, TmdbID: 888, Title: "Test Movie", MovieID: 7}

	for i := 0; i < 2; i++ {
		if err := svc.Process(ctx, ev); err != nil {
			t.Fatalf("Process() #%d error = %v", i+1, err)
		}
	}

	total, _ := tdb.Store.CountNotifications(ctx, nil)
	if total != 1 {
		t.Errorf("notifications = %d, want 1 after duplicate movie imports", total)
	}

	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q", got.Status, store.RequestAvailable)
	}
}

func TestProcess_UntrackedImportIsNotAnError(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	svc := newTestService(t, tdb)

	// No request matches; the event is dropped without failing the webhook.
	if err := svc.Process(ctx, episodeImportEvent()); err != nil {
		t.Fatalf("Process() error = %v, want nil for untracked content", err)
	}

	total, _ := tdb.Store.CountNotifications(ctx, nil)
	if total != 0 {
		t.Errorf("notifications = %d, want 0", total)
	}
}

func TestProcess_GrabCancelsQualityWaiting(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedTVRequest(t, tdb.Store)
	future := time.Now().UTC().Add(5 * time.Minute)
	n, err := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindQualityWaiting,
		Subject: "Still Searching: Test Show", Body: "b", SendAfter: &future,
	})
	if err != nil {
		t.Fatalf("CreateNotification() error = %v", err)
	}

	svc := newTestService(t, tdb)
	ev := Event{Type: EventGrab, MediaType: store.MediaTypeTV, TmdbID: 777, ReleaseTitle: "Test.Show.S01E05.1080p"}
	if err := svc.Process(ctx, ev); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := tdb.Store.GetNotification(ctx, n.ID)
	if !got.Cancelled {
		t.Error("quality-waiting notification not cancelled by grab")
	}
}

func TestProcess_SharedRequestNotifiesEveryRecipient(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	owner, req := seedTVRequest(t, tdb.Store)
	friend, err := tdb.Store.UpsertUser(ctx, 101, "bob@example.com", "bob", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if err := tdb.Store.AddSharedUser(ctx, req.ID, friend.ID, &owner.ID); err != nil {
		t.Fatalf("AddSharedUser() error = %v", err)
	}

	svc := newTestService(t, tdb)
	if err := svc.Process(ctx, episodeImportEvent()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	total, _ := tdb.Store.CountNotifications(ctx, nil)
	if total != 2 {
		t.Errorf("notifications = %d, want one per recipient", total)
	}
}
