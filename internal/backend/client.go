// Package backend talks to the remote listings service: a PostgREST-style
// data API plus a GoTrue-style auth API, both keyed by a fixed project API
// key and, for data calls, a bearer token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/collectkit/amazon-collector/internal/models"
)

// TokenProvider supplies the current access token and owns the refresh and
// invalidation lifecycle. The session store implements it.
type TokenProvider interface {
	AccessToken() string
	UserID() string
	Refresh(ctx context.Context) error
	Invalidate(ctx context.Context)
}

// Client is the authenticated request wrapper over the data API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  TokenProvider
	logger  *slog.Logger
}

// NewClient builds a data client. httpClient may be nil.
func NewClient(baseURL, apiKey string, tokens TokenProvider, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		tokens:  tokens,
		logger:  logger.With("component", "backend_client"),
	}
}

// Request performs an authenticated call against endpoint (path + query
// under the base URL) and decodes the JSON response into a generic value.
// A 401 triggers exactly one refresh and one retry; if the refresh fails the
// original failing response is classified instead.
func (c *Client) Request(ctx context.Context, method, endpoint string, body interface{}) (interface{}, error) {
	resp, err := c.do(ctx, method, endpoint, body, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if refreshErr := c.tokens.Refresh(ctx); refreshErr == nil {
			resp.Body.Close()
			retried, err := c.do(ctx, method, endpoint, body, nil)
			if err != nil {
				return nil, err
			}
			resp = retried
			defer resp.Body.Close()
		} else {
			c.logger.Warn("token refresh failed, surfacing original response", "error", refreshErr)
		}
	}

	return c.decode(ctx, resp)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, extraHeaders map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// decode classifies non-2xx responses and parses successful bodies. An empty
// successful body yields nil.
func (c *Client) decode(ctx context.Context, resp *http.Response) (interface{}, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyFailure(ctx, resp.StatusCode, data)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ResponseFormatError{Err: err}
	}
	return out, nil
}

type errorBody struct {
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

// classifyFailure turns an error response into the taxonomy. Expired-token
// responses also clear the session so the caller is forced back to login.
func (c *Client) classifyFailure(ctx context.Context, status int, body []byte) error {
	message := ""
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			message = parsed.Message
		case parsed.ErrorDescription != "":
			message = parsed.ErrorDescription
		case parsed.Msg != "":
			message = parsed.Msg
		}
	}

	expired := status == http.StatusUnauthorized
	if !expired && message != "" {
		for _, marker := range expiryMarkers {
			if strings.Contains(message, marker) {
				expired = true
				break
			}
		}
	}

	if expired {
		c.logger.Info("session rejected by backend, clearing", "status", status)
		c.tokens.Invalidate(ctx)
		if message == "" {
			message = fmt.Sprintf("HTTP %d", status)
		}
		return SessionExpiredError{Err: fmt.Errorf("%s", message)}
	}

	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}
	return RequestError{StatusCode: status, Message: message}
}

// SaveResult reports the outcome of SaveProduct.
type SaveResult struct {
	Skipped bool        `json:"skipped"`
	Data    interface{} `json:"data,omitempty"`
}

// SaveProduct inserts a record for the current user, skipping when the same
// ASIN already exists for them. The duplicate pre-check is best effort: if it
// fails the insert proceeds anyway, so a flaky check never loses data. The
// pre-check is racy under concurrent saves of the same ASIN; the policy is
// at-most-once per identifier per user, not a hard uniqueness guarantee.
func (c *Client) SaveProduct(ctx context.Context, record *models.ProductRecord) (*SaveResult, error) {
	userID := c.tokens.UserID()
	if userID == "" {
		return nil, AuthError{Err: fmt.Errorf("not logged in")}
	}

	checkEndpoint := fmt.Sprintf("/rest/v1/listings?user_id=eq.%s&asin=eq.%s&select=id",
		url.QueryEscape(userID), url.QueryEscape(record.ASIN))
	existing, err := c.Request(ctx, http.MethodGet, checkEndpoint, nil)
	if err != nil {
		if IsSessionExpired(err) {
			return nil, err
		}
		c.logger.Warn("duplicate check failed, inserting anyway", "asin", record.ASIN, "error", err)
	} else if rows, ok := existing.([]interface{}); ok && len(rows) > 0 {
		c.logger.Info("product already collected, skipping", "asin", record.ASIN)
		return &SaveResult{Skipped: true}, nil
	}

	now := time.Now().UTC()
	toSave := *record
	toSave.UserID = userID
	toSave.CreatedAt = now
	toSave.UpdatedAt = now

	data, err := c.Request(ctx, http.MethodPost, "/rest/v1/listings", &toSave)
	if err != nil {
		return nil, fmt.Errorf("failed to save product %s: %w", record.ASIN, err)
	}

	c.logger.Info("product saved", "asin", record.ASIN)
	return &SaveResult{Data: data}, nil
}

// ProductPage is one page of ListProducts results.
type ProductPage struct {
	Data       []map[string]interface{} `json:"data"`
	Count      int                      `json:"count"`
	Page       int                      `json:"page"`
	TotalPages int                      `json:"totalPages"`
}

// ListProducts returns the current user's records, newest first, with an
// exact total count. marketplace narrows the result when non-empty.
func (c *Client) ListProducts(ctx context.Context, page, limit int, marketplace string) (*ProductPage, error) {
	userID := c.tokens.UserID()
	if userID == "" {
		return nil, AuthError{Err: fmt.Errorf("not logged in")}
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	offset := (page - 1) * limit

	endpoint := fmt.Sprintf("/rest/v1/listings?user_id=eq.%s&order=created_at.desc&limit=%d&offset=%d",
		url.QueryEscape(userID), limit, offset)
	if marketplace != "" {
		endpoint += "&marketplace=eq." + url.QueryEscape(marketplace)
	}

	raw, err := c.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	result := &ProductPage{Page: page, Data: make([]map[string]interface{}, 0)}
	if rows, ok := raw.([]interface{}); ok {
		for _, row := range rows {
			if m, ok := row.(map[string]interface{}); ok {
				result.Data = append(result.Data, m)
			}
		}
	}

	count, err := c.countProducts(ctx, userID)
	if err != nil {
		c.logger.Warn("exact count unavailable, using page length", "error", err)
		count = len(result.Data)
	}
	result.Count = count
	result.TotalPages = (count + limit - 1) / limit
	return result, nil
}

// ProductStats summarizes the user's collected records.
type ProductStats struct {
	Total         int            `json:"total"`
	Today         int            `json:"today"`
	ByMarketplace map[string]int `json:"byMarketplace"`
}

// Stats aggregates totals over the user's records. Only the two columns it
// needs cross the wire.
func (c *Client) Stats(ctx context.Context) (*ProductStats, error) {
	userID := c.tokens.UserID()
	if userID == "" {
		return nil, AuthError{Err: fmt.Errorf("not logged in")}
	}

	endpoint := fmt.Sprintf("/rest/v1/listings?user_id=eq.%s&select=created_at,marketplace",
		url.QueryEscape(userID))
	raw, err := c.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	stats := &ProductStats{ByMarketplace: make(map[string]int)}
	rows, ok := raw.([]interface{})
	if !ok {
		return nil, ResponseFormatError{Err: fmt.Errorf("expected array, got %T", raw)}
	}

	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		stats.Total++
		if mkt, _ := m["marketplace"].(string); mkt != "" {
			stats.ByMarketplace[mkt]++
		}
		if createdAt, _ := m["created_at"].(string); createdAt != "" {
			if t, err := time.Parse(time.RFC3339, createdAt); err == nil && !t.Before(todayStart) {
				stats.Today++
			}
		}
	}
	return stats, nil
}

// countProducts asks for an exact count via the Content-Range header.
func (c *Client) countProducts(ctx context.Context, userID string) (int, error) {
	endpoint := fmt.Sprintf("/rest/v1/listings?user_id=eq.%s&select=count", url.QueryEscape(userID))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, map[string]string{"Prefer": "count=exact"})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Content-Range: 0-49/123
	contentRange := resp.Header.Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 || idx == len(contentRange)-1 {
		return 0, fmt.Errorf("missing count in Content-Range %q", contentRange)
	}
	count, err := strconv.Atoi(contentRange[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("bad count in Content-Range %q: %w", contentRange, err)
	}
	return count, nil
}
