// Package source is the client side of the review search API. A search is
// one page of reviews for one app, continued either by an opaque token
// (Google Play) or by a page number (App Store).
package source

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

// Params are the query parameters of one search call.
type Params map[string]string

// Clone returns a copy of p that can be modified freely.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Source fetches one page of reviews.
type Source interface {
	Search(ctx context.Context, params Params) (*Page, error)
}

// Page is the decoded response of one search call.
type Page struct {
	Reviews []RawReview
	// NextPageToken continues the pagination; empty on the last page.
	NextPageToken string
}

// RawReview is a review as the API returns it. Google Play reviews carry
// iso_date and snippet, App Store reviews carry review_date and text.
type RawReview struct {
	ID         FlexString `json:"id"`
	Title      string     `json:"title"`
	Rating     *float64   `json:"rating"`
	ISODate    string     `json:"iso_date"`
	ReviewDate string     `json:"review_date"`
	Snippet    string     `json:"snippet"`
	Text       string     `json:"text"`
}

// Body returns the review text whichever field carries it.
func (r RawReview) Body() string {
	if r.Snippet != "" {
		return r.Snippet
	}
	return r.Text
}

// FlexString decodes from either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// APIError is an error reported by the API in the response body.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "search api: " + e.Message
}

type response struct {
	Error         string      `json:"error"`
	Reviews       []RawReview `json:"reviews"`
	NextPageToken string      `json:"next_page_token"`
	Pagination    struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"serpapi_pagination"`
}

// Client calls a SerpApi-compatible search endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a search client. A zero timeout means one minute.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// Search performs one call. An error field in the body is returned as
// *APIError whatever the HTTP status.
func (c *Client) Search(ctx context.Context, params Params) (*Page, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Error != "" {
		return nil, &APIError{Message: r.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	page := &Page{Reviews: r.Reviews, NextPageToken: r.NextPageToken}
	if page.NextPageToken == "" {
		page.NextPageToken = r.Pagination.NextPageToken
	}
	return page, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
