// Package arr implements clients for the download automation services.
package arr

import (
	"bytes"
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

var (
	ErrAPIKeyMissing = errors.New("API key is not configured")
	ErrNotFound      = errors.New("resource not found")
	ErrAPIError      = errors.New("download service API error")
)

const queuePageSize = 250

// client is the shared HTTP layer for both download services.
type client struct {
	httpClient *http.Client
	config     config.ArrConfig
	logger     zerolog.Logger
}

func newClient(cfg config.ArrConfig, component string, logger zerolog.Logger) client {
	return client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger.With().Str("component", component).Logger(),
	}
}

type queuePage struct {
	Page         int         `json:"page"`
	PageSize     int         `json:"pageSize"`
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// queue walks every page of the activity queue.
func (c *client) queue(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", fmt.Sprintf("%d", page))
		params.Set("pageSize", fmt.Sprintf("%d", queuePageSize))

		var result queuePage
		if err := c.do(ctx, http.MethodGet, "/api/v3/queue", params, nil, &result); err != nil {
			return nil, err
		}
		items = append(items, result.Records...)
		if len(items) >= result.TotalRecords || len(result.Records) == 0 {
			break
		}
	}
	return items, nil
}

// removeFromQueue deletes a queue item, always removing it from the
// download client. Blocklisting keeps the release from being grabbed again.
func (c *client) removeFromQueue(ctx context.Context, id int64, blocklist bool) error {
	params := url.Values{}
	params.Set("removeFromClient", "true")
	params.Set("blocklist", fmt.Sprintf("%t", blocklist))
	path := fmt.Sprintf("/api/v3/queue/%d", id)
	return c.do(ctx, http.MethodDelete, path, params, nil, nil)
}

// command posts a command to the download service's command endpoint.
func (c *client) command(ctx context.Context, body map[string]any) error {
	return c.do(ctx, http.MethodPost, "/api/v3/command", nil, body, nil)
}

func (c *client) do(ctx context.Context, method, path string, params url.Values, body, result any) error {
	if c.config.APIKey == "" {
		return ErrAPIKeyMissing
	}

	reqURL := c.config.URL + path
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("HTTP request failed")
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: invalid API key", ErrAPIError)
		default:
			return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
