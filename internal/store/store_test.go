package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

func seedUserAndRequest(t *testing.T, st *store.Store) (*store.User, *store.MediaRequest) {
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

func TestUpsertUser_UpdatesExisting(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	u1, err := tdb.Store.UpsertUser(ctx, 100, "old@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	u2, err := tdb.Store.UpsertUser(ctx, 100, "new@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() second call error = %v", err)
	}
	if u2.ID != u1.ID {
		t.Errorf("UpsertUser() created a new row, id %d != %d", u2.ID, u1.ID)
	}
	if u2.Email != "new@example.com" {
		t.Errorf("UpsertUser() Email = %q, want %q", u2.Email, "new@example.com")
	}
}

func TestUpsertRequest_StatusTransition(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedUserAndRequest(t, tdb.Store)

	updated, err := tdb.Store.UpsertRequest(ctx, user.ID, req.SeerrRequestID,
		store.MediaTypeTV, 777, "Test Show", store.RequestAvailable, nil)
	if err != nil {
		t.Fatalf("UpsertRequest() error = %v", err)
	}
	if updated.ID != req.ID {
		t.Errorf("UpsertRequest() created a new row, id %d != %d", updated.ID, req.ID)
	}
	if updated.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q", updated.Status, store.RequestAvailable)
	}
}

func TestMarkSent_Guard(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedUserAndRequest(t, tdb.Store)

	n, err := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID:    &user.ID,
		RequestID: &req.ID,
		Kind:      store.KindMovie,
		Subject:   "Movie Available: Test",
		Body:      "Test is now available.",
	})
	if err != nil {
		t.Fatalf("CreateNotification() error = %v", err)
	}

	now := time.Now().UTC()
	if err := tdb.Store.MarkSent(ctx, n.ID, now); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	// Second mark must be rejected: sent is terminal.
	if err := tdb.Store.MarkSent(ctx, n.ID, now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkSent() on sent row error = %v, want ErrNotFound", err)
	}

	got, err := tdb.Store.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification() error = %v", err)
	}
	if !got.Sent || got.SentAt == nil {
		t.Errorf("notification not marked sent: sent=%v sentAt=%v", got.Sent, got.SentAt)
	}
}

func TestCancelUnsent_LeavesSentAlone(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedUserAndRequest(t, tdb.Store)

	sent, _ := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindQualityWaiting,
		Subject: "Still Searching: Test Show", Body: "b",
	})
	if err := tdb.Store.MarkSent(ctx, sent.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	pending, _ := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindQualityWaiting,
		Subject: "Still Searching: Test Show", Body: "b",
	})

	n, err := tdb.Store.CancelUnsent(ctx, req.ID, store.KindQualityWaiting)
	if err != nil {
		t.Fatalf("CancelUnsent() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CancelUnsent() = %d, want 1", n)
	}

	got, _ := tdb.Store.GetNotification(ctx, pending.ID)
	if !got.Cancelled {
		t.Error("pending notification not cancelled")
	}
	gotSent, _ := tdb.Store.GetNotification(ctx, sent.ID)
	if gotSent.Cancelled {
		t.Error("sent notification must not be cancelled")
	}
}

func TestListDue_RespectsSendAfter(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedUserAndRequest(t, tdb.Store)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due, _ := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindMovie,
		Subject: "due", Body: "b", SendAfter: &past,
	})
	_, _ = tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindMovie,
		Subject: "not yet", Body: "b", SendAfter: &future,
	})
	immediate, _ := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
		UserID: &user.ID, RequestID: &req.ID, Kind: store.KindMovie,
		Subject: "immediate", Body: "b",
	})

	list, err := tdb.Store.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListDue() returned %d rows, want 2", len(list))
	}
	ids := map[int64]bool{list[0].ID: true, list[1].ID: true}
	if !ids[due.ID] || !ids[immediate.ID] {
		t.Errorf("ListDue() returned wrong rows: %v", ids)
	}
}

func TestMarkManySent_InTransaction(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, req := seedUserAndRequest(t, tdb.Store)
	seriesID := int64(42)

	var ids []int64
	for i := 0; i < 3; i++ {
		n, err := tdb.Store.CreateNotification(ctx, store.CreateNotificationParams{
			UserID: &user.ID, RequestID: &req.ID, Kind: store.KindEpisode,
			Subject: "ep", Body: "b", SeriesID: &seriesID,
		})
		if err != nil {
			t.Fatalf("CreateNotification() error = %v", err)
		}
		ids = append(ids, n.ID)
	}

	tx, err := tdb.Store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tx.MarkManySent(ctx, ids, time.Now().UTC()); err != nil {
		tx.Rollback()
		t.Fatalf("MarkManySent() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	for _, id := range ids {
		n, _ := tdb.Store.GetNotification(ctx, id)
		if !n.Sent {
			t.Errorf("notification %d not sent after commit", id)
		}
	}
}

func TestEpisodeTracking_Lifecycle(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	_, req := seedUserAndRequest(t, tdb.Store)

	if _, err := tdb.Store.LookupEpisode(ctx, 42, 1, 5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LookupEpisode() before create error = %v, want ErrNotFound", err)
	}

	ep, err := tdb.Store.CreateEpisode(ctx, store.CreateEpisodeParams{
		RequestID:     req.ID,
		SeriesID:      42,
		SeasonNumber:  1,
		EpisodeNumber: 5,
		EpisodeTitle:  testutil.StringPtr("Pilot"),
		Available:     true,
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}
	if ep.Notified {
		t.Error("new tracking row must not be notified")
	}

	if err := tdb.Store.MarkEpisodeNotified(ctx, ep.ID); err != nil {
		t.Fatalf("MarkEpisodeNotified() error = %v", err)
	}
	got, err := tdb.Store.LookupEpisode(ctx, 42, 1, 5)
	if err != nil {
		t.Fatalf("LookupEpisode() error = %v", err)
	}
	if !got.Notified {
		t.Error("tracking row not notified after mark")
	}
}

func TestMaintenanceWindow_MarkersAreSingleFire(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour)
	w, err := tdb.Store.CreateWindow(ctx, "DB upgrade", nil, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("CreateWindow() error = %v", err)
	}

	if err := tdb.Store.MarkWindowNotified(ctx, w.ID, store.MarkerAnnouncement); err != nil {
		t.Fatalf("MarkWindowNotified() error = %v", err)
	}
	if err := tdb.Store.MarkWindowNotified(ctx, w.ID, store.MarkerAnnouncement); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second MarkWindowNotified() error = %v, want ErrNotFound", err)
	}

	got, _ := tdb.Store.GetWindow(ctx, w.ID)
	if !got.AnnouncementSent || got.ReminderSent || got.CompletionSent {
		t.Errorf("marker state wrong: %+v", got)
	}
}

func TestMaintenanceActive_ScheduledWithPassedStart(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	active, err := tdb.Store.MaintenanceActive(ctx, now)
	if err != nil {
		t.Fatalf("MaintenanceActive() error = %v", err)
	}
	if active {
		t.Fatal("MaintenanceActive() = true with no windows")
	}

	// Scheduled but start time already passed counts as active: the
	// lifecycle worker may not have transitioned it yet.
	w, err := tdb.Store.CreateWindow(ctx, "upgrade", nil, now.Add(-time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateWindow() error = %v", err)
	}
	active, _ = tdb.Store.MaintenanceActive(ctx, now)
	if !active {
		t.Error("MaintenanceActive() = false for scheduled window with passed start")
	}

	if err := tdb.Store.SetWindowStatus(ctx, w.ID, store.WindowCompleted); err != nil {
		t.Fatalf("SetWindowStatus() error = %v", err)
	}
	active, _ = tdb.Store.MaintenanceActive(ctx, now)
	if active {
		t.Error("MaintenanceActive() = true after completion")
	}
}

func TestExpireIssues(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	issue, err := tdb.Store.CreateIssue(ctx, store.CreateIssueParams{
		MediaType: store.MediaTypeMovie,
		TmdbID:    999,
		Title:     "Broken Movie",
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	// Nothing should expire with a cutoff in the past.
	n, err := tdb.Store.ExpireIssues(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireIssues() error = %v", err)
	}
	if n != 0 {
		t.Errorf("ExpireIssues() = %d, want 0", n)
	}

	// With a future cutoff the open issue is older than the cutoff.
	n, err = tdb.Store.ExpireIssues(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireIssues() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireIssues() = %d, want 1", n)
	}

	got, _ := tdb.Store.GetIssue(ctx, issue.ID)
	if got.Status != store.IssueAbandoned {
		t.Errorf("Status = %q, want %q", got.Status, store.IssueAbandoned)
	}
}

func TestSettings_Roundtrip(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	if _, err := tdb.Store.GetSetting(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSetting() error = %v, want ErrNotFound", err)
	}

	if err := tdb.Store.SetSetting(ctx, "batching_enabled", "false"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := tdb.Store.SetSetting(ctx, "batching_enabled", "true"); err != nil {
		t.Fatalf("SetSetting() upsert error = %v", err)
	}
	v, err := tdb.Store.GetSetting(ctx, "batching_enabled")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if v != "true" {
		t.Errorf("GetSetting() = %q, want %q", v, "true")
	}
}

func TestRecipientsForRequest_IncludesSharedUsers(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	owner, req := seedUserAndRequest(t, tdb.Store)
	friend, err := tdb.Store.UpsertUser(ctx, 101, "bob@example.com", "bob", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	if err := tdb.Store.AddSharedUser(ctx, req.ID, friend.ID, &owner.ID); err != nil {
		t.Fatalf("AddSharedUser() error = %v", err)
	}
	// Adding again is a no-op.
	if err := tdb.Store.AddSharedUser(ctx, req.ID, friend.ID, &owner.ID); err != nil {
		t.Fatalf("AddSharedUser() repeat error = %v", err)
	}

	recipients, err := tdb.Store.RecipientsForRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("RecipientsForRequest() error = %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("RecipientsForRequest() returned %d users, want 2", len(recipients))
	}
}
