// Package legislative reads the legislator's bills and meetings from the legislative
// open data API and normalizes them into activities.
package legislative

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/site"
)

// Client lists a single legislator's records.
type Client struct {
	fetcher *fetch.Client
	base    string
	term    int
	name    string
}

// NewClient builds a client for the legislator called name in the given term.
// Base is the API root, e.g. "https://ly.govapi.tw/v2".
func NewClient(f *fetch.Client, base string, term int, name string) *Client {
	return &Client{
		fetcher: f,
		base:    base,
		term:    term,
		name:    name,
	}
}

// ProposeBills lists up to limit bills the legislator proposed.
func (c *Client) ProposeBills(ctx context.Context, limit int) ([]gjson.Result, error) {
	return c.list(ctx, "propose_bills", "bills", limit)
}

// CosignBills lists up to limit bills the legislator co-signed.
func (c *Client) CosignBills(ctx context.Context, limit int) ([]gjson.Result, error) {
	return c.list(ctx, "cosign_bills", "bills", limit)
}

// Meets lists up to limit meetings the legislator attended.
func (c *Client) Meets(ctx context.Context, limit int) ([]gjson.Result, error) {
	return c.list(ctx, "meets", "meets", limit)
}

func (c *Client) list(ctx context.Context, resource, key string, limit int) ([]gjson.Result, error) {
	u := fmt.Sprintf("%s/legislators/%d/%s/%s?page=1&limit=%d",
		c.base, c.term, url.PathEscape(c.name), resource, limit)

	byts, err := c.fetcher.Bytes(ctx, "legislative", u, "application/json")
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", resource, err)
	}
	if !gjson.ValidBytes(byts) {
		return nil, fmt.Errorf("error listing %s: malformed json", resource)
	}

	return gjson.GetBytes(byts, key).Array(), nil
}

// Activities maps raw records into activities, dropping the ones without an id.
func Activities(records []gjson.Result, t site.ActivityType, lang site.Lang) []site.ActivityItem {
	out := make([]site.ActivityItem, 0, len(records))
	for _, rec := range records {
		if t == site.ActivityMeet {
			if m, ok := MapMeet(rec, lang); ok {
				out = append(out, m.Activity())
			}
			continue
		}
		if b, ok := MapBill(rec, lang); ok {
			out = append(out, b.Activity(t))
		}
	}
	return out
}

// SortByDateDesc orders items newest first. Items without a date go last and
// ties keep their input order.
func SortByDateDesc(items []site.ActivityItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Date, items[j].Date
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		default:
			return false
		}
	})
}
