// Package manifold implements the REST client for the destination platform
// and the market construction rules for mirrored questions.
package manifold

import (
	"bytes"
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

// managramPageSize is the server-side default and maximum page size for the
// managrams endpoint.
const managramPageSize = 100

// Client is the REST client for the Manifold API.
type Client struct {
	apiURL     string
	clientURL  string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Manifold REST client.
//
// apiURL is the API root, e.g. "https://api.manifold.markets/v0/".
// clientURL is the web client root used to build market URLs.
func NewClient(apiURL, clientURL, apiKey string) *Client {
	return &Client{
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		clientURL: strings.TrimSuffix(clientURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// MarketURL builds the public web URL for a market slug.
func (c *Client) MarketURL(slug string) string {
	return c.clientURL + "/market/" + slug
}

// CreateMarket creates a new binary market.
func (c *Client) CreateMarket(ctx context.Context, req CreateMarketRequest) (Market, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/market", req)
	if err != nil {
		return Market{}, fmt.Errorf("manifold: create market: %w", err)
	}

	var market Market
	if err := json.Unmarshal(body, &market); err != nil {
		return Market{}, fmt.Errorf("manifold: decode created market: %w", err)
	}
	return market, nil
}

// ResolveMarket resolves an existing binary market.
func (c *Client) ResolveMarket(ctx context.Context, marketID string, res Resolution) error {
	path := fmt.Sprintf("/market/%s/resolve", url.PathEscape(marketID))
	if _, err := c.doRequest(ctx, http.MethodPost, path, res); err != nil {
		return fmt.Errorf("manifold: resolve market %s: %w", marketID, err)
	}
	return nil
}

// GetMarket fetches a market by contract id.
func (c *Client) GetMarket(ctx context.Context, marketID string) (Market, error) {
	path := fmt.Sprintf("/market/%s", url.PathEscape(marketID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Market{}, fmt.Errorf("manifold: get market %s: %w", marketID, err)
	}

	var market Market
	if err := json.Unmarshal(body, &market); err != nil {
		return Market{}, fmt.Errorf("manifold: decode market: %w", err)
	}
	return market, nil
}

// GetMarketBySlug fetches a market by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (Market, error) {
	path := fmt.Sprintf("/slug/%s", url.PathEscape(slug))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Market{}, fmt.Errorf("manifold: get market by slug %s: %w", slug, err)
	}

	var market Market
	if err := json.Unmarshal(body, &market); err != nil {
		return Market{}, fmt.Errorf("manifold: decode market: %w", err)
	}
	return market, nil
}

// GetGroupMarkets fetches all markets attached to a group/topic.
func (c *Client) GetGroupMarkets(ctx context.Context, groupID string) ([]Market, error) {
	path := fmt.Sprintf("/group/by-id/%s/markets", url.PathEscape(groupID))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("manifold: get group markets %s: %w", groupID, err)
	}

	var markets []Market
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("manifold: decode group markets: %w", err)
	}
	return markets, nil
}

// ListManagramsSince fetches every managram addressed to userID created after
// the given time, following pagination. A zero after fetches the full
// history.
func (c *Client) ListManagramsSince(ctx context.Context, userID string, after time.Time) ([]Managram, error) {
	params := url.Values{}
	params.Set("toId", userID)
	params.Set("limit", strconv.Itoa(managramPageSize))
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}

	var all []Managram
	for {
		body, err := c.doRequest(ctx, http.MethodGet, "/managrams?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("manifold: list managrams: %w", err)
		}

		var page []managramJSON
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("manifold: decode managrams: %w", err)
		}
		for _, j := range page {
			all = append(all, j.toManagram())
		}
		if len(page) < managramPageSize {
			return all, nil
		}
		// Pages are reverse-chronological; continue before the oldest seen.
		oldest := page[len(page)-1].CreatedTime
		params.Set("before", strconv.FormatInt(int64(oldest), 10))
	}
}

// SendManagram sends mana to one or more users.
func (c *Client) SendManagram(ctx context.Context, req SendManagramRequest) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/managram", req); err != nil {
		return fmt.Errorf("manifold: send managram: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, authenticates, sends, and reads an HTTP request against
// the Manifold API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s", apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s", apiErr.Message)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, apiErr.Message)
	}
}
