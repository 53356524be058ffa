package search

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

	"github.com/dshills/wateraudit/internal/config"
	"github.com/dshills/wateraudit/internal/schema"
)

// maxBody bounds how much of a SerpAPI response is read.
const maxBody = 4 << 20

// SerpAPI queries the SerpAPI JSON endpoint.
type SerpAPI struct {
	http    *http.Client
	baseURL string
	apiKey  string
	engine  string
	num     int
}

// NewSerpAPI builds a client from cfg.
func NewSerpAPI(cfg config.SearchConfig) (*SerpAPI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("search: serpapi: %w", config.ErrMissingCredential)
	}
	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("search: serpapi: timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("search: serpapi: invalid base url %q", cfg.BaseURL)
	}
	return &SerpAPI{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		engine:  cfg.Engine,
		num:     cfg.Results,
	}, nil
}

// serpResponse is the subset of the SerpAPI payload that is read.
type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}

// Search runs query and returns the organic results in rank order.
func (s *SerpAPI) Search(ctx context.Context, category schema.Category, query string) ([]schema.SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("api_key", s.apiKey)
	if s.engine != "" {
		q.Set("engine", s.engine)
	}
	if s.num > 0 {
		q.Set("num", strconv.Itoa(s.num))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: serpapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// The request URL carries the key; report the query only.
		return nil, fmt.Errorf("search: serpapi: %q: %w", query, unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("search: serpapi: read body: %w", err)
	}

	var out serpResponse
	if jerr := json.Unmarshal(body, &out); jerr != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("search: serpapi: decode: %w", jerr)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("search: serpapi: status %d: %s", resp.StatusCode, msg)
	}
	if out.Error != "" {
		// SerpAPI reports an empty result page as an error string.
		if strings.Contains(strings.ToLower(out.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("search: serpapi: %s", out.Error)
	}

	hits := make([]schema.SearchHit, 0, len(out.OrganicResults))
	for _, r := range out.OrganicResults {
		if r.Link == "" {
			continue
		}
		hits = append(hits, schema.SearchHit{
			Category: category,
			Title:    strings.TrimSpace(r.Title),
			URL:      r.Link,
			Snippet:  strings.TrimSpace(r.Snippet),
		})
	}
	return hits, nil
}

// Close releases idle connections.
func (s *SerpAPI) Close() {
	s.http.CloseIdleConnections()
}

// unwrapURLError drops the *url.Error wrapper, whose message includes the
// full request URL and with it the API key.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
