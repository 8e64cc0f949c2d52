// Package metaculus implements the REST client and source adapter for
// Metaculus questions (api2).
package metaculus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// Client is the REST client for the Metaculus api2 endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Metaculus REST client.
//
// baseURL is the API root, e.g. "https://www.metaculus.com/api2/". An empty
// apiKey sends unauthenticated requests, which the public endpoints accept at
// a lower rate limit.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListParams narrows the question list server-side so a single depaginated
// fetch stays small.
type ListParams struct {
	Status        string
	PublishTimeGt time.Time
	ResolveTimeGt time.Time
	ResolveTimeLt time.Time
	HasGroup      *bool
	ForecastType  string
	Unconditional bool
	OrderBy       string
	Limit         int
}

func (p ListParams) encode() string {
	v := url.Values{}
	v.Set("type", "forecast")
	if p.Status != "" {
		v.Set("status", p.Status)
	}
	if !p.PublishTimeGt.IsZero() {
		v.Set("publish_time__gt", p.PublishTimeGt.UTC().Format(time.RFC3339))
	}
	if !p.ResolveTimeGt.IsZero() {
		v.Set("resolve_time__gt", p.ResolveTimeGt.UTC().Format(time.RFC3339))
	}
	if !p.ResolveTimeLt.IsZero() {
		v.Set("resolve_time__lt", p.ResolveTimeLt.UTC().Format(time.RFC3339))
	}
	if p.HasGroup != nil {
		v.Set("has_group", strconv.FormatBool(*p.HasGroup))
	}
	if p.ForecastType != "" {
		v.Set("forecast_type", p.ForecastType)
	}
	if p.Unconditional {
		v.Set("unconditional", "true")
	}
	if p.OrderBy != "" {
		v.Set("order_by", p.OrderBy)
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v.Encode()
}

// ListQuestions fetches every question matching params, following pagination
// until the server reports no next page.
func (c *Client) ListQuestions(ctx context.Context, params ListParams) ([]Question, error) {
	var questions []Question
	next := c.baseURL + "/questions/?" + params.encode()
	for next != "" {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("metaculus: list questions: %w", err)
		}

		var page questionsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("metaculus: decode questions page: %w", err)
		}
		questions = append(questions, page.Results...)

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return questions, nil
}

// GetQuestion fetches a single question by id. The single-question response
// includes the resolution criteria text that list responses omit.
func (c *Client) GetQuestion(ctx context.Context, id string) (Question, error) {
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return Question{}, fmt.Errorf("metaculus: question id %q must be a positive integer: %w", id, domain.ErrNotFound)
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/questions/%s/", c.baseURL, id))
	if err != nil {
		return Question{}, fmt.Errorf("metaculus: get question %s: %w", id, err)
	}

	var q Question
	if err := json.Unmarshal(body, &q); err != nil {
		return Question{}, fmt.Errorf("metaculus: decode question: %w", err)
	}
	return q, nil
}

// get sends an authenticated GET and reads the response body.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}
