package planlinesdk

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

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Activity is one scheduled activity as returned by the API.
type Activity struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	DurationDays    int    `json:"duration_days"`
	CalendarID      string `json:"calendar_id,omitempty"`
	PercentComplete int    `json:"percent_complete"`
	EarlyStart      string `json:"early_start"`
	EarlyFinish     string `json:"early_finish"`
	LateStart       string `json:"late_start"`
	LateFinish      string `json:"late_finish"`
	TotalFloat      int    `json:"total_float"`
	Critical        bool   `json:"critical"`
}

// Schedule is the result of a CPM run.
type Schedule struct {
	ProjectID     string     `json:"project_id"`
	ProjectFinish string     `json:"project_finish"`
	TotalDuration int        `json:"total_duration"`
	CriticalPath  []string   `json:"critical_path"`
	Activities    []Activity `json:"activities"`
}

// Finding is one schedule-quality issue.
type Finding struct {
	ActivityID string `json:"activity_id"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
}

// CheckResult groups findings with severity counts.
type CheckResult struct {
	ProjectID string         `json:"project_id"`
	Findings  []Finding      `json:"findings"`
	Counts    map[string]int `json:"counts"`
}

// Simulation is a Monte Carlo run summary.
type Simulation struct {
	RunID       string             `json:"run_id"`
	Requested   int                `json:"requested"`
	Iterations  int                `json:"iterations"`
	Canceled    bool               `json:"canceled"`
	Seed        int64              `json:"seed"`
	Percentiles map[string]int     `json:"percentiles"`
	Criticality map[string]float64 `json:"criticality"`
	Sensitivity map[string]float64 `json:"sensitivity"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportPlan uploads a plan file in YAML form and replaces the project's
// network.
func (c *Client) ImportPlan(ctx context.Context, planYAML string) (string, int, error) {
	var resp struct {
		ProjectID  string `json:"project_id"`
		Activities int    `json:"activities"`
	}
	err := c.do(ctx, http.MethodPost, "v0/projects/import", map[string]any{"yaml": planYAML}, &resp)
	return resp.ProjectID, resp.Activities, err
}

// Schedule runs the CPM scheduler and returns the computed network.
func (c *Client) Schedule(ctx context.Context) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodPost, c.projectPath("schedule"), nil, &resp)
	return resp, err
}

// Check evaluates the schedule-quality rules.
func (c *Client) Check(ctx context.Context) (CheckResult, error) {
	var resp CheckResult
	err := c.do(ctx, http.MethodGet, c.projectPath("check"), nil, &resp)
	return resp, err
}

// Simulate runs a Monte Carlo simulation. Zero-valued options defer to
// the server's configuration.
func (c *Client) Simulate(ctx context.Context, iterations int, seed *int64, workers int) (Simulation, error) {
	body := map[string]any{}
	if iterations > 0 {
		body["iterations"] = iterations
	}
	if seed != nil {
		body["seed"] = *seed
	}
	if workers > 0 {
		body["workers"] = workers
	}
	var resp Simulation
	err := c.do(ctx, http.MethodPost, c.projectPath("simulate"), body, &resp)
	return resp, err
}

// Activities lists activities with their last computed dates.
func (c *Client) Activities(ctx context.Context) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, c.projectPath("activities"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
