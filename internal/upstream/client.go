// Package upstream talks to the condition server.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"kanshi/config"
	"kanshi/internal/model"
)

// ErrNetwork marks transport failures and non-2xx answers.
var ErrNetwork = errors.New("network failure")

// Client fetches conditions and history from the condition server.
type Client struct {
	baseURL string
	http    *http.Client
	days    *cache.Cache
}

// NewClient builds a client from the dashboard configuration.
func NewClient(cfg config.DashboardConfig) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Upstream client will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.HistoryCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.UpstreamURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		days: cache.New(ttl, 2*ttl),
	}
}

// Conditions fetches GET /update_conditions.
func (c *Client) Conditions(ctx context.Context) (*model.ConditionsResponse, error) {
	var out model.ConditionsResponse
	if err := c.getJSON(ctx, "/update_conditions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryDates fetches the dates that have history.
func (c *Client) HistoryDates(ctx context.Context) ([]string, error) {
	var out model.HistoryDatesResponse
	if err := c.getJSON(ctx, "/api/history/dates", &out); err != nil {
		return nil, err
	}
	return out.Dates, nil
}

// HistoryDay fetches the events and totals of a finished day. Days do not
// change once closed, so decoded days are cached.
func (c *Client) HistoryDay(ctx context.Context, date string) (model.HistoryDay, error) {
	if cached, found := c.days.Get(date); found {
		return cached.(model.HistoryDay), nil
	}

	var out model.HistoryDay
	if err := c.getJSON(ctx, "/api/history/data/"+url.PathEscape(date), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = model.HistoryDay{}
	}
	c.days.Set(date, out, cache.DefaultExpiration)
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: request %s failed with status %d: %s", ErrNetwork, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
