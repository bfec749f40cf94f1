// Package mediaserver implements a client for the media library server.
// The engine only asks it one question: does a title already exist in the
// library. The server is optional; an unconfigured client answers false.
package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
)

var ErrAPIError = errors.New("media server API error")

// Checker is the availability surface workers use.
type Checker interface {
	Enabled() bool
	HasMovie(ctx context.Context, tmdbID int64) (bool, error)
	HasSeries(ctx context.Context, tvdbID int64) (bool, error)
}

// Client talks to a Plex-compatible media server.
type Client struct {
	httpClient *http.Client
	config     config.MediaServerConfig
	logger     zerolog.Logger
}

var _ Checker = (*Client)(nil)

// NewClient creates a media server client.
func NewClient(cfg config.MediaServerConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		config:     cfg,
		logger:     logger.With().Str("component", "mediaserver").Logger(),
	}
}

// Enabled reports whether a media server is configured.
func (c *Client) Enabled() bool {
	return c.config.URL != ""
}

// Test verifies connectivity and the access token.
func (c *Client) Test(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	_, err := c.lookup(ctx, url.Values{})
	return err
}

// HasMovie reports whether a movie with the given TMDB id is in the library.
func (c *Client) HasMovie(ctx context.Context, tmdbID int64) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	params := url.Values{}
	params.Set("type", "1")
	params.Set("guid", fmt.Sprintf("tmdb://%d", tmdbID))
	n, err := c.lookup(ctx, params)
	return n > 0, err
}

// HasSeries reports whether a series with the given TVDB id is in the
// library.
func (c *Client) HasSeries(ctx context.Context, tvdbID int64) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	params := url.Values{}
	params.Set("type", "2")
	params.Set("guid", fmt.Sprintf("tvdb://%d", tvdbID))
	n, err := c.lookup(ctx, params)
	return n > 0, err
}

func (c *Client) lookup(ctx context.Context, params url.Values) (int, error) {
	reqURL := fmt.Sprintf("%s/library/all?%s", c.config.URL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.config.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("HTTP request failed")
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var result struct {
		MediaContainer struct {
			Size int `json:"size"`
		} `json:"MediaContainer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.MediaContainer.Size, nil
}
