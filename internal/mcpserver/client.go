package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Closedesk platform.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	TenantID string // Tenant to act within, e.g. "ten_..."
	UserID   string // Acting user id, e.g. "usr_..." (optional)
}

// ClosedeskClient is a pure HTTP client for the Closedesk platform API.
type ClosedeskClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewClosedeskClient creates a new client for the Closedesk platform.
func NewClosedeskClient(cfg Config) *ClosedeskClient {
	return &ClosedeskClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *ClosedeskClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Tenant-ID", c.cfg.TenantID)
	if c.cfg.UserID != "" {
		req.Header.Set("X-User-ID", c.cfg.UserID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// SearchContacts searches the tenant's contacts.
func (c *ClosedeskClient) SearchContacts(ctx context.Context, queryStr string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if queryStr != "" {
		q.Set("q", queryStr)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/contacts", q, nil)
}

// GetDeal fetches a single deal by id.
func (c *ClosedeskClient) GetDeal(ctx context.Context, dealID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/deals/"+dealID, nil, nil)
}

// ListDeals lists the tenant's deals, optionally by stage.
func (c *ClosedeskClient) ListDeals(ctx context.Context, stage string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if stage != "" {
		q.Set("stage", stage)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/deals", q, nil)
}

// ListTasks lists the tenant's tasks.
func (c *ClosedeskClient) ListTasks(ctx context.Context, openOnly bool, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if openOnly {
		q.Set("open", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tasks", q, nil)
}

// CreateTask creates a follow-up task.
func (c *ClosedeskClient) CreateTask(ctx context.Context, title, dealID, contactID, dueAt string) (json.RawMessage, error) {
	body := map[string]any{"title": title}
	if dealID != "" {
		body["dealId"] = dealID
	}
	if contactID != "" {
		body["contactId"] = contactID
	}
	if dueAt != "" {
		body["dueAt"] = dueAt
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/tasks", nil, body)
}

// GetPipeline fetches the tenant's pipeline statistics.
func (c *ClosedeskClient) GetPipeline(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/pipeline", nil, nil)
}

// GetTenant fetches the resolved tenant record.
func (c *ClosedeskClient) GetTenant(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenant", nil, nil)
}
