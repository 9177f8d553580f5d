package fleetplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
)

// Client is a Fleetplan HTTP API client. It satisfies the coordinator's record source, so
// a planning session can run against a remote server. Retry governs GET requests; writes
// are sent once.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Retry       retry.Config
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  200 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	FleetID    string         `json:"fleet_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PreScheduleRequest asks the server to generate a plan. A nil Month generates the
// annual plan.
type PreScheduleRequest struct {
	Year       int      `json:"year"`
	Month      *int     `json:"month,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Seed       int64    `json:"seed,omitempty"`
}

type PreScheduleResult struct {
	Created int   `json:"created"`
	Removed int64 `json:"removed"`
	Skipped int   `json:"skipped"`
	Seed    int64 `json:"seed"`
}

type assignments struct {
	Items []domain.Assignment `json:"items"`
}

// Catalog fetches the fleet catalog the server enforces.
func (c *Client) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	var resp catalog.Catalog
	if err := c.get(ctx, "v0/catalog", nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("server catalog: %w", err)
	}
	return &resp, nil
}

// FetchAnnual returns every record of year.
func (c *Client) FetchAnnual(ctx context.Context, year int) ([]domain.Assignment, error) {
	return c.AnnualAssignments(ctx, year, nil)
}

// FetchMonthly returns every record of a zero-based month.
func (c *Client) FetchMonthly(ctx context.Context, year, month int) ([]domain.Assignment, error) {
	return c.MonthlyAssignments(ctx, year, month, nil)
}

// AnnualAssignments returns a year's records, optionally restricted to categories.
func (c *Client) AnnualAssignments(ctx context.Context, year int, categories []string) ([]domain.Assignment, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	if len(categories) > 0 {
		q.Set("categories", strings.Join(categories, ","))
	}
	var resp assignments
	err := c.get(ctx, "v0/schedule/annual", q, &resp)
	return resp.Items, err
}

// MonthlyAssignments returns a month's records, optionally restricted to categories.
func (c *Client) MonthlyAssignments(ctx context.Context, year, month int, categories []string) ([]domain.Assignment, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(month))
	if len(categories) > 0 {
		q.Set("categories", strings.Join(categories, ","))
	}
	var resp assignments
	err := c.get(ctx, "v0/schedule/monthly", q, &resp)
	return resp.Items, err
}

// WriteMonthlyCell sets one vehicle/day cell. A rejected write is a WriteResult with
// Success false, not an error.
func (c *Client) WriteMonthlyCell(ctx context.Context, w domain.MonthlyCellWrite) (domain.WriteResult, error) {
	var resp domain.WriteResult
	err := c.do(ctx, http.MethodPost, "v0/schedule/monthly/update", w, &resp)
	return resp, err
}

// WriteAnnualCell sets one slot of the annual grid.
func (c *Client) WriteAnnualCell(ctx context.Context, w domain.AnnualCellWrite) (domain.WriteResult, error) {
	var resp domain.WriteResult
	err := c.do(ctx, http.MethodPost, "v0/schedule/annual/update", w, &resp)
	return resp, err
}

// PreSchedule generates an annual or monthly plan.
func (c *Client) PreSchedule(ctx context.Context, req PreScheduleRequest) (PreScheduleResult, error) {
	var resp PreScheduleResult
	err := c.do(ctx, http.MethodPost, "v0/schedule/preschedule", req, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.get(ctx, "v0/events", q, &resp)
	return resp, err
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "v0/health", nil, nil)
}

// get retries transport failures and 5xx answers; client errors are returned at once.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	cfg := c.Retry
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	var final error
	r := retry.New[[]byte](cfg)
	data, err := r.Do(ctx, func(ctx context.Context) ([]byte, error) {
		data, err := c.send(ctx, http.MethodGet, endpoint, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			final = err
			return nil, nil
		}
		return data, err
	})
	if final != nil {
		return final
	}
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	data, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
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
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		e.Code = envelope.Error.Code
		e.Message = envelope.Error.Message
	}
	return e
}

func decode(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
