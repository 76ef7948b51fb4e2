// Package klimaflow provides a small Go client for the KlimaFlow Chain REST
// API. It covers strategy run orchestration, the chat gateway and the wallet
// balance endpoint.
package klimaflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the KlimaFlow Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAPIKey attaches a bearer API key to every request. The server only
// enforces it when authentication is enabled.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// Step mirrors a single step of a strategy run.
type Step struct {
	Ordinal     int    `json:"ordinal"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Recipient   string `json:"recipient,omitempty"`
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Run mirrors a strategy run resource.
type Run struct {
	ID            string `json:"id"`
	Strategy      string `json:"strategy"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Steps         []Step `json:"steps"`
	FailedOrdinal int    `json:"failed_ordinal,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// RunSubmission is the payload required to start a new strategy run.
type RunSubmission struct {
	Strategy string `json:"strategy"`
	Amount   string `json:"amount"`
}

// RunStats aggregates run counts by status.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	InProgress      int   `json:"in_progress"`
	Succeeded       int   `json:"succeeded"`
	PartiallyFailed int   `json:"partially_failed"`
	Cancelled       int   `json:"cancelled"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

// Strategy describes an executable strategy and its step template.
type Strategy struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// ChatReply is the gateway response to a chat message.
type ChatReply struct {
	Message      string `json:"message"`
	Thought      string `json:"thought,omitempty"`
	Reply        string `json:"reply"`
	Action       string `json:"action,omitempty"`
	Balance      string `json:"balance,omitempty"`
	TxHash       string `json:"tx_hash,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// ListRunsQuery narrows the run listing.
type ListRunsQuery struct {
	Limit    int
	Offset   int
	Strategy string
	Statuses []string
	// Order is "asc" or "desc"; the server defaults to newest first.
	Order string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("klimaflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("klimaflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the KlimaFlow Chain API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SubmitRun starts a new strategy run.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var run Run
	if err := c.post(ctx, "/api/v1/runs", submission, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a run by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// CancelRun requests cancellation of a queued or in-flight run and returns the
// resulting run state.
func (c *Client) CancelRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return Run{}, err
	}
	if err := c.do(req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs matching the query.
func (c *Client) ListRuns(ctx context.Context, query ListRunsQuery) ([]Run, error) {
	values := url.Values{}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		values.Set("offset", strconv.Itoa(query.Offset))
	}
	if query.Strategy != "" {
		values.Set("strategy", query.Strategy)
	}
	if len(query.Statuses) > 0 {
		values.Set("status", strings.Join(query.Statuses, ","))
	}
	if query.Order != "" {
		values.Set("order", query.Order)
	}
	endpoint := "/api/v1/runs"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var payload struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Runs, nil
}

// Stats returns aggregate run counts.
func (c *Client) Stats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/stats", &stats); err != nil {
		return RunStats{}, err
	}
	return stats, nil
}

// Strategies lists the strategies the server can execute.
func (c *Client) Strategies(ctx context.Context) ([]Strategy, error) {
	var payload struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.get(ctx, "/api/v1/strategies", &payload); err != nil {
		return nil, err
	}
	return payload.Strategies, nil
}

// Balance returns the KLIMA balance of the server wallet.
func (c *Client) Balance(ctx context.Context) (string, error) {
	var payload struct {
		Balance string `json:"balance"`
	}
	if err := c.get(ctx, "/api/v1/balance", &payload); err != nil {
		return "", err
	}
	return payload.Balance, nil
}

// Chat sends a natural language message to the gateway.
func (c *Client) Chat(ctx context.Context, message string) (ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/api/v1/chat", map[string]string{"message": message}, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	raw := endpoint
	var query string
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw, query = endpoint[:idx], endpoint[idx+1:]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, raw), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			var wrapped struct {
				Error APIError `json:"error"`
			}
			if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Error.Message != "" {
				apiErr.Code = wrapped.Error.Code
				apiErr.Message = wrapped.Error.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
