package taskflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal taskflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Activity mirrors the API activity shape. Category is a literal tag or a
// category id.
type Activity struct {
	ID          string         `json:"id,omitempty"`
	User        string         `json:"user,omitempty"`
	SessionKey  string         `json:"sessionKey,omitempty"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Application string         `json:"application,omitempty"`
	TaskID      string         `json:"taskId,omitempty"`
	BoardID     string         `json:"boardId,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Duration    int64          `json:"duration"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	IsActive    bool           `json:"isActive"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ActivityPatch is the body of an activity update.
type ActivityPatch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Duration    *int64         `json:"duration,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	IsActive    *bool          `json:"isActive,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Category struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Color        string   `json:"color,omitempty"`
	Type         string   `json:"type"`
	Domains      []string `json:"domains,omitempty"`
	Applications []string `json:"applications,omitempty"`
	Position     *int     `json:"position,omitempty"`
}

type WebsiteTime struct {
	Domain string `json:"domain"`
	Time   int64  `json:"time"`
	Visits int    `json:"visits"`
}

type AppTime struct {
	Name string `json:"name"`
	Time int64  `json:"time"`
}

type CategoryTime struct {
	Category string `json:"category"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Time     int64  `json:"time"`
}

type HourBucket struct {
	Hour int   `json:"hour"`
	Time int64 `json:"time"`
}

// DailySummary is the per-day aggregate returned by /analytics/summary.
type DailySummary struct {
	ID              string         `json:"id"`
	User            string         `json:"user"`
	Date            time.Time      `json:"date"`
	TotalTime       int64          `json:"totalTime"`
	ProductiveTime  int64          `json:"productiveTime"`
	NeutralTime     int64          `json:"neutralTime"`
	DistractingTime int64          `json:"distractingTime"`
	TopWebsites     []WebsiteTime  `json:"topWebsites"`
	TopApplications []AppTime      `json:"topApplications"`
	Categories      []CategoryTime `json:"categories"`
	HourlyBreakdown []HourBucket   `json:"hourlyBreakdown"`
	ComputedAt      time.Time      `json:"computedAt"`
}

type CountTime struct {
	Count int   `json:"count"`
	Time  int64 `json:"time"`
}

type CategoryStat struct {
	Count int    `json:"count"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

type DomainTime struct {
	Domain string `json:"domain"`
	Time   int64  `json:"time"`
}

type HourStat struct {
	Hour  int   `json:"hour"`
	Count int   `json:"count"`
	Time  int64 `json:"time"`
}

// RangeStatistics is returned by /analytics/range.
type RangeStatistics struct {
	StartDate       time.Time               `json:"startDate"`
	EndDate         time.Time               `json:"endDate"`
	TotalActivities int                     `json:"totalActivities"`
	TotalTime       int64                   `json:"totalTime"`
	ProductiveTime  int64                   `json:"productiveTime"`
	NeutralTime     int64                   `json:"neutralTime"`
	DistractingTime int64                   `json:"distractingTime"`
	ByType          map[string]CountTime    `json:"byType"`
	ByCategory      map[string]CategoryStat `json:"byCategory"`
	ByHour          []HourStat              `json:"byHour"`
	TopDomains      []DomainTime            `json:"topDomains"`
	TopApps         []AppTime               `json:"topApps"`
}

type Me struct {
	UserID      string   `json:"userId"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// SaveActivity creates an activity or continues the one sharing its
// sessionKey.
func (c *Client) SaveActivity(ctx context.Context, a Activity) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodPost, "activities", a, &resp)
	return resp, err
}

func (c *Client) UpdateActivity(ctx context.Context, id string, p ActivityPatch) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodPut, "activities/"+url.PathEscape(id), p, &resp)
	return resp, err
}

// ListActivities lists the caller's activities. Dates are YYYY-MM-DD; empty
// values are omitted.
func (c *Client) ListActivities(ctx context.Context, startDate, endDate, activityType string) ([]Activity, error) {
	q := url.Values{}
	setIf(q, "startDate", startDate)
	setIf(q, "endDate", endDate)
	setIf(q, "type", activityType)
	var resp []Activity
	err := c.do(ctx, http.MethodGet, withQuery("activities", q), nil, &resp)
	return resp, err
}

func (c *Client) Summary(ctx context.Context, date string) (DailySummary, error) {
	q := url.Values{}
	setIf(q, "date", date)
	var resp DailySummary
	err := c.do(ctx, http.MethodGet, withQuery("analytics/summary", q), nil, &resp)
	return resp, err
}

func (c *Client) Range(ctx context.Context, startDate, endDate string) (RangeStatistics, error) {
	q := url.Values{}
	setIf(q, "startDate", startDate)
	setIf(q, "endDate", endDate)
	var resp RangeStatistics
	err := c.do(ctx, http.MethodGet, withQuery("analytics/range", q), nil, &resp)
	return resp, err
}

func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp []Category
	err := c.do(ctx, http.MethodGet, "categories", nil, &resp)
	return resp, err
}

func (c *Client) CreateCategory(ctx context.Context, cat Category) (Category, error) {
	var resp Category
	err := c.do(ctx, http.MethodPost, "categories", cat, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Beacon posts a at most once with the token in the query string and
// ignores the response. Only transport errors are returned.
func (c *Client) Beacon(ctx context.Context, a Activity) error {
	q := url.Values{}
	setIf(q, "token", c.BearerToken)
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+withQuery("activities", q), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
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
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
