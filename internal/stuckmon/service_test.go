package stuckmon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/arr/mock"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

func newTestService(t *testing.T, tdb *testutil.TestDB, sonarr *mock.SeriesClient, radarr *mock.MovieClient) *Service {
	t.Helper()
	cfg := config.Default()
	return New(tdb.Store, sonarr, radarr, settings.New(tdb.Store, cfg), cfg, testutil.NopLogger())
}

func countByKind(t *testing.T, tdb *testutil.TestDB, kind store.NotificationKind) int {
	t.Helper()
	all, err := tdb.Store.ListDue(context.Background(), time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	n := 0
	for _, item := range all {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunCycle_AlertsOncePerStuckItem(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	sonarr := &mock.SeriesClient{QueueItems: []arr.QueueItem{
		{ID: 1, SeriesID: 42, Title: "Test.Show.S01E05.1080p", Status: arr.StatusStalled},
	}}
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{})

	// The same item stays stuck across several scans; only the first scan
	// alerts.
	for i := 0; i < 3; i++ {
		if err := svc.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle() #%d error = %v", i+1, err)
		}
	}

	if got := countByKind(t, tdb, store.KindStuckAlert); got != 1 {
		t.Errorf("stuck alerts = %d, want 1", got)
	}
}

func TestRunCycle_NewItemTriggersNewAlert(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	sonarr := &mock.SeriesClient{QueueItems: []arr.QueueItem{
		{ID: 1, SeriesID: 42, Title: "Test.Show.S01E05.1080p", Status: arr.StatusStalled},
	}}
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{})

	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	sonarr.QueueItems = append(sonarr.QueueItems, arr.QueueItem{
		ID: 2, SeriesID: 43, Title: "Other.Show.S02E01.720p", Status: arr.StatusFailed,
	})
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() #2 error = %v", err)
	}

	if got := countByKind(t, tdb, store.KindStuckAlert); got != 2 {
		t.Errorf("stuck alerts = %d, want 2", got)
	}
}

func TestRunCycle_PlaceholderTitleTriggersRefresh(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	sonarr := &mock.SeriesClient{QueueItems: []arr.QueueItem{
		{ID: 1, SeriesID: 42, Title: "TBA", Status: arr.StatusStalled},
		{ID: 2, SeriesID: 42, Title: "Episode 6", Status: arr.StatusStalled},
	}}
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{})

	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// One refresh per series, and placeholders never reach the admin.
	if len(sonarr.Refreshes) != 1 || sonarr.Refreshes[0] != 42 {
		t.Errorf("Refreshes = %v, want [42]", sonarr.Refreshes)
	}
	if got := countByKind(t, tdb, store.KindStuckAlert); got != 0 {
		t.Errorf("stuck alerts = %d, want 0 for placeholder titles", got)
	}
}

func TestIsStalled(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()

	svc := newTestService(t, tdb, &mock.SeriesClient{}, &mock.MovieClient{})
	now := time.Now().UTC()
	old := now.Add(-5 * time.Hour)

	tests := []struct {
		name string
		item arr.QueueItem
		want bool
	}{
		{"downloading", arr.QueueItem{Status: arr.StatusDownloading, Added: now}, false},
		{"stalled status", arr.QueueItem{Status: arr.StatusStalled}, true},
		{"failed status", arr.QueueItem{Status: arr.StatusFailed}, true},
		{"tracked warning", arr.QueueItem{Status: arr.StatusDownloading, TrackedDownloadStatus: arr.TrackedStatusWarning}, true},
		{"old with data", arr.QueueItem{Status: arr.StatusDownloading, Added: old, Size: 1 << 30}, true},
		{"old but empty", arr.QueueItem{Status: arr.StatusDownloading, Added: old}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.isStalled(&tt.item, now); got != tt.want {
				t.Errorf("isStalled(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRunCycle_QueueErrorSkipsService(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	sonarr := &mock.SeriesClient{QueueErr: errors.New("sonarr: 503")}
	radarr := &mock.MovieClient{QueueItems: []arr.QueueItem{
		{ID: 9, MovieID: 7, Title: "Test.Movie.2026.1080p", Status: arr.StatusStalled},
	}}
	svc := newTestService(t, tdb, sonarr, radarr)

	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	// The readable queue still produces its alert.
	if got := countByKind(t, tdb, store.KindStuckAlert); got != 1 {
		t.Errorf("stuck alerts = %d, want 1", got)
	}
}

func TestRemediateImportFailure(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	user, err := tdb.Store.UpsertUser(ctx, 100, "alice@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if _, err := tdb.Store.UpsertRequest(ctx, user.ID, 500, store.MediaTypeTV, 777, "Test Show", store.RequestApproved, nil); err != nil {
		t.Fatalf("UpsertRequest() error = %v", err)
	}

	sonarr := &mock.SeriesClient{QueueItems: []arr.QueueItem{
		{ID: 11, SeriesID: 42, Title: "Test.Show.S01E05.1080p", DownloadID: "abc123", Status: arr.StatusDownloading},
	}}
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{})

	ev := ingest.Event{
		Type: ingest.EventImportFailed, MediaType: store.MediaTypeTV,
		TmdbID: 777, SeriesID: 42, DownloadID: "abc123",
		ReleaseTitle: "Test.Show.S01E05.1080p",
		Episodes:     []ingest.EpisodeInfo{{SeasonNumber: 1, EpisodeNumber: 5}},
	}
	if err := svc.RemediateImportFailure(ctx, ev); err != nil {
		t.Fatalf("RemediateImportFailure() error = %v", err)
	}

	if len(sonarr.Removed) != 1 || sonarr.Removed[0] != 11 {
		t.Errorf("Removed = %v, want [11]", sonarr.Removed)
	}
	if len(sonarr.Blocklists) != 1 {
		t.Errorf("Blocklists = %v, want the removed release blocklisted", sonarr.Blocklists)
	}
	if len(sonarr.Searches) != 1 || sonarr.Searches[0] != [2]int64{42, 1} {
		t.Errorf("Searches = %v, want [[42 1]]", sonarr.Searches)
	}
	if got := countByKind(t, tdb, store.KindImportFixed); got != 1 {
		t.Errorf("import-fixed notifications = %d, want 1", got)
	}
}

func TestRemediateImportFailure_SoftFailsOnQueueError(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	sonarr := &mock.SeriesClient{QueueErr: errors.New("sonarr: 503")}
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{})

	ev := ingest.Event{
		Type: ingest.EventImportFailed, MediaType: store.MediaTypeTV,
		TmdbID: 777, DownloadID: "abc123",
	}
	// The webhook must stay successful even when remediation cannot run.
	if err := svc.RemediateImportFailure(ctx, ev); err != nil {
		t.Fatalf("RemediateImportFailure() error = %v, want nil", err)
	}
	total, _ := tdb.Store.CountNotifications(ctx, nil)
	if total != 0 {
		t.Errorf("notifications = %d, want 0 after an aborted remediation", total)
	}
}
