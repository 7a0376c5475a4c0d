// Package news talks to the news aggregation API that collects press coverage of the
// legislator.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/juchunko/site-worker/internal/fetch"
)

type (
	// Item is one news article.
	Item struct {
		Title   string `json:"title"`
		TitleEN string `json:"title_en"`
		Source  string `json:"source"`
		Time    string `json:"time"`
		URL     string `json:"url"`
		Summary string `json:"summary"`
	}

	// Result is the API's response envelope.
	Result struct {
		Success    bool   `json:"success"`
		Data       []Item `json:"data"`
		TotalPages *int   `json:"totalPages"`
		Message    string `json:"message"`
	}

	// Query narrows a listing. Zero values are left off the request.
	Query struct {
		Q        string
		Page     int
		PageSize int
	}
)

// Client queries the news API.
type Client struct {
	fetcher *fetch.Client
	base    string
}

// NewClient creates a client for the API at base, e.g. "https://aifferent.juchunko.com/api/news".
func NewClient(f *fetch.Client, base string) *Client {
	return &Client{fetcher: f, base: base}
}

// List fetches a page of news. A non-2xx answer is a [*fetch.StatusError],
// the success flag in the body is left for the caller to judge.
func (c *Client) List(ctx context.Context, q Query) (Result, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Q != "" {
		params.Set("q", q.Q)
	}

	u := c.base
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var res Result
	if err := c.fetcher.JSON(ctx, "news", u, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Search is [Client.List] for a keyword, failing when the API reports no success.
// The returned items are deduplicated by URL.
func (c *Client) Search(ctx context.Context, q Query) (Result, error) {
	res, err := c.List(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "Failed to fetch news"
		}
		return Result{}, errors.New(msg)
	}

	res.Data = DedupByURL(res.Data)
	return res, nil
}

// Latest returns the newest count articles.
func (c *Client) Latest(ctx context.Context, count int) (Result, error) {
	return c.Search(ctx, Query{Page: 1, PageSize: count})
}

// DedupByURL drops every item whose URL was already seen, keeping the first occurrence
// and the input order. Items without a URL are always kept.
func DedupByURL(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.URL != "" {
			if _, ok := seen[it.URL]; ok {
				continue
			}
			seen[it.URL] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// FormatList renders up to limit items as a numbered list, one per line:
// "1. title (source) - time - url".
func FormatList(items []Item, limit int) string {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	lines := make([]string, 0, len(items))
	for i, it := range items {
		title := it.Title
		if title == "" {
			title = it.TitleEN
		}
		if title == "" {
			title = "(no title)"
		}
		src := it.Source
		if src == "" {
			src = "未知來源"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s) - %s - %s", i+1, title, src, it.Time, it.URL))
	}
	return strings.Join(lines, "\n")
}
