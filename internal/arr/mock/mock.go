// Package mock provides configurable in-memory download service clients
// for tests.
package mock

import (
	"context"
	"sync"

	"github.com/notifyarr/notifyarr/internal/arr"
)

// SeriesClient is a mock episode download service.
type SeriesClient struct {
	mu sync.Mutex

	QueueItems []arr.QueueItem
	SeriesList []arr.Series
	Episodes   map[int64][]arr.Episode

	QueueErr  error
	SeriesErr error

	Removed    []int64
	Blocklists []int64
	Searches   [][2]int64 // seriesID, season
	Refreshes  []int64
	RemoveErr  error
	SearchErr  error
	RefreshErr error
}

var _ arr.SeriesClient = (*SeriesClient)(nil)

func (m *SeriesClient) Test(ctx context.Context) error { return nil }

func (m *SeriesClient) Queue(ctx context.Context) ([]arr.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueueErr != nil {
		return nil, m.QueueErr
	}
	return append([]arr.QueueItem(nil), m.QueueItems...), nil
}

func (m *SeriesClient) RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Removed = append(m.Removed, id)
	if blocklist {
		m.Blocklists = append(m.Blocklists, id)
	}
	return nil
}

func (m *SeriesClient) Series(ctx context.Context) ([]arr.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SeriesErr != nil {
		return nil, m.SeriesErr
	}
	return append([]arr.Series(nil), m.SeriesList...), nil
}

func (m *SeriesClient) SeriesByTvdbID(ctx context.Context, tvdbID int64) (*arr.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.SeriesList {
		if m.SeriesList[i].TvdbID == tvdbID {
			s := m.SeriesList[i]
			return &s, nil
		}
	}
	return nil, arr.ErrNotFound
}

func (m *SeriesClient) EpisodesBySeries(ctx context.Context, seriesID int64) ([]arr.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]arr.Episode(nil), m.Episodes[seriesID]...), nil
}

func (m *SeriesClient) SearchSeason(ctx context.Context, seriesID int64, season int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return m.SearchErr
	}
	m.Searches = append(m.Searches, [2]int64{seriesID, int64(season)})
	return nil
}

func (m *SeriesClient) SearchSeries(ctx context.Context, seriesID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return m.SearchErr
	}
	m.Searches = append(m.Searches, [2]int64{seriesID, -1})
	return nil
}

func (m *SeriesClient) RefreshSeries(ctx context.Context, seriesID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefreshErr != nil {
		return m.RefreshErr
	}
	m.Refreshes = append(m.Refreshes, seriesID)
	return nil
}

// MovieClient is a mock movie download service.
type MovieClient struct {
	mu sync.Mutex

	QueueItems []arr.QueueItem
	MovieList  []arr.Movie

	QueueErr  error
	MoviesErr error

	Removed    []int64
	Blocklists []int64
	Searches   []int64
	Refreshes  []int64
	RemoveErr  error
	SearchErr  error
	RefreshErr error
}

var _ arr.MovieClient = (*MovieClient)(nil)

func (m *MovieClient) Test(ctx context.Context) error { return nil }

func (m *MovieClient) Queue(ctx context.Context) ([]arr.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueueErr != nil {
		return nil, m.QueueErr
	}
	return append([]arr.QueueItem(nil), m.QueueItems...), nil
}

func (m *MovieClient) RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Removed = append(m.Removed, id)
	if blocklist {
		m.Blocklists = append(m.Blocklists, id)
	}
	return nil
}

func (m *MovieClient) Movies(ctx context.Context) ([]arr.Movie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MoviesErr != nil {
		return nil, m.MoviesErr
	}
	return append([]arr.Movie(nil), m.MovieList...), nil
}

func (m *MovieClient) MovieByTmdbID(ctx context.Context, tmdbID int64) (*arr.Movie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.MovieList {
		if m.MovieList[i].TmdbID == tmdbID {
			mv := m.MovieList[i]
			return &mv, nil
		}
	}
	return nil, arr.ErrNotFound
}

func (m *MovieClient) SearchMovie(ctx context.Context, movieID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return m.SearchErr
	}
	m.Searches = append(m.Searches, movieID)
	return nil
}

func (m *MovieClient) RefreshMovie(ctx context.Context, movieID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefreshErr != nil {
		return m.RefreshErr
	}
	m.Refreshes = append(m.Refreshes, movieID)
	return nil
}
