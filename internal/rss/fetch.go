package rss

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/site"
)

// ErrNotAFeed is returned when a feed URL answers with something other than a feed, like
// an HTML error page served with a 200.
var ErrNotAFeed = errors.New("not an rss feed")

var feedRootRe = regexp.MustCompile(`(?i)<(?:rss|feed|rdf:RDF|channel)[\s>]`)

// Client fetches and parses feeds.
type Client struct {
	fetcher *fetch.Client
}

func NewClient(f *fetch.Client) *Client {
	return &Client{fetcher: f}
}

// Fetch downloads the feed at url and parses it. A transport failure, a non-2xx status or
// a body with no feed element is returned as an error so callers can tell "unavailable"
// apart from "no items".
func (c *Client) Fetch(ctx context.Context, source, url string) ([]site.FeedItem, error) {
	byts, err := c.fetcher.Bytes(ctx, source, url, "application/xml")
	if err != nil {
		return []site.FeedItem{}, fmt.Errorf("error fetching rss feed: %w", err)
	}

	if !feedRootRe.Match(byts) {
		return []site.FeedItem{}, fmt.Errorf("error parsing %s feed: %w", source, ErrNotAFeed)
	}

	return Parse(string(byts)), nil
}
