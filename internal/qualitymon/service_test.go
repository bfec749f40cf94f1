package qualitymon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/arr/mock"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/mediaserver"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/testutil"
)

// fakeLibrary is a media server checker with a fixed answer.
type fakeLibrary struct {
	hasMovie  bool
	hasSeries bool
}

func (f *fakeLibrary) Enabled() bool { return true }
func (f *fakeLibrary) HasMovie(ctx context.Context, tmdbID int64) (bool, error) {
	return f.hasMovie, nil
}
func (f *fakeLibrary) HasSeries(ctx context.Context, tvdbID int64) (bool, error) {
	return f.hasSeries, nil
}

func newTestService(t *testing.T, tdb *testutil.TestDB, sonarr *mock.SeriesClient, radarr *mock.MovieClient, media mediaserver.Checker) *Service {
	t.Helper()
	cfg := config.Default()
	if media == nil {
		// Unconfigured client: Enabled() is false and library checks are
		// skipped.
		media = mediaserver.NewClient(config.MediaServerConfig{}, testutil.NopLogger())
	}
	return New(tdb.Store, sonarr, radarr, media, settings.New(tdb.Store, cfg), cfg, testutil.NopLogger())
}

func seedMovieRequest(t *testing.T, st *store.Store, status store.RequestStatus) *store.MediaRequest {
	t.Helper()
	ctx := context.Background()
	user, err := st.UpsertUser(ctx, 100, "alice@example.com", "alice", nil)
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	req, err := st.UpsertRequest(ctx, user.ID, 501, store.MediaTypeMovie, 888, "Test Movie", status, nil)
	if err != nil {
		t.Fatalf("UpsertRequest() error = %v", err)
	}
	return req
}

func seedSeriesRequest(t *testing.T, st *store.Store) *store.MediaRequest {
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
	return req
}

func unsentByKind(t *testing.T, tdb *testutil.TestDB, kind store.NotificationKind) []*store.Notification {
	t.Helper()
	all, err := tdb.Store.ListDue(context.Background(), time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	var out []*store.Notification
	for _, n := range all {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func TestRunCycle_ComingSoonForUnreleasedMovie(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedMovieRequest(t, tdb.Store, store.RequestApproved)
	future := time.Now().UTC().Add(30 * 24 * time.Hour)
	radarr := &mock.MovieClient{MovieList: []arr.Movie{
		{ID: 7, Title: "Test Movie", TmdbID: 888, DigitalRelease: &future},
	}}

	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	got := unsentByKind(t, tdb, store.KindComingSoon)
	if len(got) != 1 {
		t.Fatalf("coming-soon notifications = %d, want 1", len(got))
	}
	if got[0].SendAfter != nil {
		t.Errorf("SendAfter = %v, want nil; coming-soon sends immediately", got[0].SendAfter)
	}

	// Another cycle while the first is still unsent adds nothing.
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() #2 error = %v", err)
	}
	if got := unsentByKind(t, tdb, store.KindComingSoon); len(got) != 1 {
		t.Errorf("coming-soon notifications after second cycle = %d, want 1", len(got))
	}
}

func TestRunCycle_QualityWaitingForReleasedMovie(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedMovieRequest(t, tdb.Store, store.RequestApproved)
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	radarr := &mock.MovieClient{MovieList: []arr.Movie{
		{ID: 7, Title: "Test Movie", TmdbID: 888, DigitalRelease: &past},
	}}

	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	before := time.Now().UTC()
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	got := unsentByKind(t, tdb, store.KindQualityWaiting)
	if len(got) != 1 {
		t.Fatalf("quality-waiting notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.SendAfter == nil || n.SendAfter.Before(before) {
		t.Errorf("SendAfter = %v, want a grab-grace delay in the future", n.SendAfter)
	}
}

func TestRunCycle_ActiveQueueSuppressesQualityWaiting(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedMovieRequest(t, tdb.Store, store.RequestApproved)
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	radarr := &mock.MovieClient{
		MovieList:  []arr.Movie{{ID: 7, Title: "Test Movie", TmdbID: 888, DigitalRelease: &past}},
		QueueItems: []arr.QueueItem{{ID: 1, MovieID: 7, Status: arr.StatusDownloading}},
	}

	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := unsentByKind(t, tdb, store.KindQualityWaiting); len(got) != 0 {
		t.Errorf("quality-waiting notifications = %d, want 0 while downloading", len(got))
	}
}

func TestRunCycle_QueueErrorSuppressesQualityWaiting(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedMovieRequest(t, tdb.Store, store.RequestApproved)
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	radarr := &mock.MovieClient{
		MovieList: []arr.Movie{{ID: 7, Title: "Test Movie", TmdbID: 888, DigitalRelease: &past}},
		QueueErr:  errors.New("radarr: 503"),
	}

	// Without queue visibility the monitor cannot tell waiting from
	// downloading, so it stays quiet.
	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := unsentByKind(t, tdb, store.KindQualityWaiting); len(got) != 0 {
		t.Errorf("quality-waiting notifications = %d, want 0 with the queue unreadable", len(got))
	}
}

func TestRunCycle_MovieWithFileBecomesAvailable(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	req := seedMovieRequest(t, tdb.Store, store.RequestApproved)
	radarr := &mock.MovieClient{MovieList: []arr.Movie{
		{ID: 7, Title: "Test Movie", TmdbID: 888, HasFile: true},
	}}

	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q", got.Status, store.RequestAvailable)
	}
}

func TestRunCycle_LibraryCheckBlocksAvailability(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	req := seedMovieRequest(t, tdb.Store, store.RequestApproved)
	radarr := &mock.MovieClient{MovieList: []arr.Movie{
		{ID: 7, Title: "Test Movie", TmdbID: 888, HasFile: true},
	}}

	// The download service has the file but the library has not picked it
	// up yet.
	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, &fakeLibrary{hasMovie: false})
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestApproved {
		t.Errorf("Status = %q, want %q until the library confirms", got.Status, store.RequestApproved)
	}
}

func TestRunCycle_SeriesStatusTransitions(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	req := seedSeriesRequest(t, tdb.Store)
	aired := time.Now().UTC().Add(-7 * 24 * time.Hour)
	future := time.Now().UTC().Add(7 * 24 * time.Hour)
	sonarr := &mock.SeriesClient{
		SeriesList: []arr.Series{{ID: 42, Title: "Test Show", TmdbID: 777}},
		Episodes: map[int64][]arr.Episode{
			42: {
				{ID: 1, SeriesID: 42, SeasonNumber: 1, EpisodeNumber: 1, AirDateUTC: &aired, HasFile: true, Monitored: true},
				{ID: 2, SeriesID: 42, SeasonNumber: 1, EpisodeNumber: 2, AirDateUTC: &future, Monitored: true},
			},
		},
	}

	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{}, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestPartiallyAvailable {
		t.Errorf("Status = %q, want %q with episodes still to air", got.Status, store.RequestPartiallyAvailable)
	}

	// The remaining episode airs and lands.
	sonarr.Episodes[42][1].AirDateUTC = &aired
	sonarr.Episodes[42][1].HasFile = true
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() #2 error = %v", err)
	}
	got, _ = tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q once everything aired has a file", got.Status, store.RequestAvailable)
	}
}

func TestRunCycle_LibraryCheckBlocksSeriesAvailability(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	req := seedSeriesRequest(t, tdb.Store)
	aired := time.Now().UTC().Add(-7 * 24 * time.Hour)
	sonarr := &mock.SeriesClient{
		SeriesList: []arr.Series{{ID: 42, Title: "Test Show", TvdbID: 4242, TmdbID: 777}},
		Episodes: map[int64][]arr.Episode{
			42: {
				{ID: 1, SeriesID: 42, SeasonNumber: 1, EpisodeNumber: 1, AirDateUTC: &aired, HasFile: true, Monitored: true},
			},
		},
	}

	// Every aired episode has a file but the library scanner has not seen
	// the series yet.
	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{}, &fakeLibrary{hasSeries: false})
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got, _ := tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestApproved {
		t.Errorf("Status = %q, want %q until the library confirms", got.Status, store.RequestApproved)
	}

	// The library catches up.
	svc = newTestService(t, tdb, sonarr, &mock.MovieClient{}, &fakeLibrary{hasSeries: true})
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() #2 error = %v", err)
	}
	got, _ = tdb.Store.GetRequest(ctx, req.ID)
	if got.Status != store.RequestAvailable {
		t.Errorf("Status = %q, want %q once the library has it", got.Status, store.RequestAvailable)
	}
}

func TestRunCycle_SeriesMissingAiredEpisodeWaits(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedSeriesRequest(t, tdb.Store)
	aired := time.Now().UTC().Add(-7 * 24 * time.Hour)
	sonarr := &mock.SeriesClient{
		SeriesList: []arr.Series{{ID: 42, Title: "Test Show", TmdbID: 777}},
		Episodes: map[int64][]arr.Episode{
			42: {
				{ID: 1, SeriesID: 42, SeasonNumber: 1, EpisodeNumber: 1, AirDateUTC: &aired, HasFile: false, Monitored: true},
			},
		},
	}

	svc := newTestService(t, tdb, sonarr, &mock.MovieClient{}, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got := unsentByKind(t, tdb, store.KindQualityWaiting); len(got) != 1 {
		t.Errorf("quality-waiting notifications = %d, want 1 for the missing aired episode", len(got))
	}
}

func TestRunCycle_DisabledViaSettings(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	defer tdb.Close()
	ctx := context.Background()

	seedMovieRequest(t, tdb.Store, store.RequestApproved)
	if err := tdb.Store.SetSetting(ctx, settings.KeyQualityEnabled, "false"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	radarr := &mock.MovieClient{MovieList: []arr.Movie{
		{ID: 7, Title: "Test Movie", TmdbID: 888, DigitalRelease: &past},
	}}

	svc := newTestService(t, tdb, &mock.SeriesClient{}, radarr, nil)
	if err := svc.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	total, _ := tdb.Store.CountNotifications(ctx, nil)
	if total != 0 {
		t.Errorf("notifications = %d, want 0 while disabled", total)
	}
}
