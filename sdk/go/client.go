package luviasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal LUVIA HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// SOPItem is one checklist task on a job.
type SOPItem struct {
	ID          string  `json:"id"`
	Task        string  `json:"task"`
	Category    string  `json:"category"`
	IsCompleted bool    `json:"is_completed"`
	IsMandatory bool    `json:"is_mandatory"`
	EvidenceURL *string `json:"evidence_url,omitempty"`
	Value       *string `json:"value,omitempty"`
	Unit        *string `json:"unit,omitempty"`
}

// Job represents the API job model.
type Job struct {
	ID             string    `json:"id"`
	ServiceName    string    `json:"service_name"`
	Type           string    `json:"type"`
	ClientID       string    `json:"client_id"`
	Status         string    `json:"status"`
	TotalAmount    int64     `json:"total_amount"`
	ReleasedAmount int64     `json:"released_amount"`
	EscrowAmount   int64     `json:"escrow_amount"`
	SOPList        []SOPItem `json:"sop_list"`
}

// Quote is a priced booking preview.
type Quote struct {
	Sessions       int   `json:"sessions"`
	Subtotal       int64 `json:"subtotal"`
	PointsDiscount int64 `json:"points_discount"`
	PointsSpent    int64 `json:"points_spent"`
	Total          int64 `json:"total"`
	Released       int64 `json:"released"`
	Escrow         int64 `json:"escrow"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// BookJob books a job for a client.
func (c *Client) BookJob(ctx context.Context, clientID, service, propertySize string) (Job, error) {
	body := map[string]any{
		"client_id":     clientID,
		"service":       service,
		"property_size": propertySize,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job with its checklist.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v0/jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// InjectSOP injects catalog modules into a job.
func (c *Client) InjectSOP(ctx context.Context, jobID string, moduleIDs []string) (Job, error) {
	body := map[string]any{"module_ids": moduleIDs}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs/"+url.PathEscape(jobID)+"/sop", body, &resp)
	return resp, err
}

// ToggleTask flips a checklist task.
func (c *Client) ToggleTask(ctx context.Context, jobID, taskID string) (Job, error) {
	var resp Job
	endpoint := fmt.Sprintf("v0/jobs/%s/tasks/%s/toggle", url.PathEscape(jobID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RecordValue records a scientific reading.
func (c *Client) RecordValue(ctx context.Context, jobID, taskID, value string) (Job, error) {
	body := map[string]any{"value": value}
	var resp Job
	endpoint := fmt.Sprintf("v0/jobs/%s/tasks/%s/value", url.PathEscape(jobID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AttachEvidence captures evidence for a task.
func (c *Client) AttachEvidence(ctx context.Context, jobID, taskID string) (Job, error) {
	var resp Job
	endpoint := fmt.Sprintf("v0/jobs/%s/tasks/%s/evidence", url.PathEscape(jobID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitForReview submits a job once mandatory evidence is in.
func (c *Client) SubmitForReview(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs/"+url.PathEscape(jobID)+"/submit", nil, &resp)
	return resp, err
}

// ReleaseEscrow releases the held balance and verifies the job.
func (c *Client) ReleaseEscrow(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs/"+url.PathEscape(jobID)+"/release", nil, &resp)
	return resp, err
}

// QuoteBooking prices a booking without creating it.
func (c *Client) QuoteBooking(ctx context.Context, service, propertySize, tier string) (Quote, error) {
	body := map[string]any{
		"service":       service,
		"property_size": propertySize,
		"tier":          tier,
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, "v0/pricing/quote", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
