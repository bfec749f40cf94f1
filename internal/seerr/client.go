// Package seerr implements a client for the request-tracking service API.
package seerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
)

var (
	ErrAPIKeyMissing = errors.New("seerr API key is not configured")
	ErrNotFound      = errors.New("seerr resource not found")
	ErrAPIError      = errors.New("seerr API error")
)

const pageSize = 100

// Client is a request-tracking service API client.
type Client struct {
	httpClient *http.Client
	config     config.SeerrConfig
	logger     zerolog.Logger
}

// NewClient creates a new client.
func NewClient(cfg config.SeerrConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger.With().Str("component", "seerr").Logger(),
	}
}

// Test verifies connectivity and credentials.
func (c *Client) Test(ctx context.Context) error {
	var result struct {
		Version string `json:"version"`
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/status", nil, nil, &result)
}

// ListUsers returns every user, walking all pages.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	for skip := 0; ; skip += pageSize {
		params := url.Values{}
		params.Set("take", strconv.Itoa(pageSize))
		params.Set("skip", strconv.Itoa(skip))

		var page userPage
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/user", params, nil, &page); err != nil {
			return nil, err
		}
		users = append(users, page.Results...)
		if len(page.Results) < pageSize {
			break
		}
	}
	return users, nil
}

// ListRequests returns every media request, walking all pages.
func (c *Client) ListRequests(ctx context.Context) ([]Request, error) {
	var requests []Request
	for skip := 0; ; skip += pageSize {
		params := url.Values{}
		params.Set("take", strconv.Itoa(pageSize))
		params.Set("skip", strconv.Itoa(skip))
		params.Set("filter", "all")

		var page requestPage
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/request", params, nil, &page); err != nil {
			return nil, err
		}
		requests = append(requests, page.Results...)
		if len(page.Results) < pageSize {
			break
		}
	}
	return requests, nil
}

// GetRequest returns one request by id.
func (c *Client) GetRequest(ctx context.Context, id int64) (*Request, error) {
	var req Request
	path := fmt.Sprintf("/api/v1/request/%d", id)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ResolveIssue marks an issue resolved on the request-tracking service.
func (c *Client) ResolveIssue(ctx context.Context, issueID int64) error {
	path := fmt.Sprintf("/api/v1/issue/%d/resolved", issueID)
	return c.doRequest(ctx, http.MethodPost, path, nil, nil, nil)
}

// CommentIssue adds a comment to an issue.
func (c *Client) CommentIssue(ctx context.Context, issueID int64, message string) error {
	path := fmt.Sprintf("/api/v1/issue/%d/comment", issueID)
	body := map[string]string{"message": message}
	return c.doRequest(ctx, http.MethodPost, path, nil, body, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body, result any) error {
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
