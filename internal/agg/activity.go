package agg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/legislative"
	"github.com/juchunko/site-worker/internal/site"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LegislatorActivity returns one page of the legislator's merged activity, newest first.
//
// Each upstream list is fetched once, sized to cover the requested page but never more
// than the configured prefetch cap. Pages past the prefetched window are empty.
func (a *Aggregator) LegislatorActivity(ctx context.Context, page, pageSize int, lang site.Lang) (site.Page[site.ActivityItem], error) {
	page, pageSize = ClampPage(page, pageSize)

	want := max(minPrefetch, page*pageSize)
	if page > a.maxPrefetch || want > a.maxPrefetch {
		want = a.maxPrefetch
	}

	acts, err := a.activities(ctx, want, lang, true)
	if err != nil {
		return site.Page[site.ActivityItem]{}, err
	}

	return site.Paginate(acts, page, pageSize), nil
}

// ClampPage applies the listing defaults: pages start at 1 and sizes fall in [1, 100],
// with 20 standing in for anything below 1.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// activities fetches the three legislative lists concurrently, merges and sorts them.
//
// When lenient is set an upstream answering non-2xx just contributes nothing. Any other
// failure fails the whole call.
func (a *Aggregator) activities(ctx context.Context, limit int, lang site.Lang, lenient bool) ([]site.ActivityItem, error) {
	type list struct {
		name  string
		kind  site.ActivityType
		fetch func(context.Context, int) ([]gjson.Result, error)
		got   []site.ActivityItem
	}
	lists := []*list{
		{name: "propose_bills", kind: site.ActivityPropose, fetch: a.legislative.ProposeBills},
		{name: "cosign_bills", kind: site.ActivityCosign, fetch: a.legislative.CosignBills},
		{name: "meets", kind: site.ActivityMeet, fetch: a.legislative.Meets},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, l := range lists {
		g.Go(func() error {
			return recovered(gctx, l.name, func() error {
				recs, err := l.fetch(gctx, limit)
				if err != nil {
					var statusErr *fetch.StatusError
					if lenient && errors.As(err, &statusErr) {
						slog.WarnContext(ctx, "legislative list unavailable", "list", l.name, "status", statusErr.StatusCode)
						return nil
					}
					return fmt.Errorf("error fetching %s: %w", l.name, err)
				}

				l.got = legislative.Activities(recs, l.kind, lang)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []site.ActivityItem
	for _, l := range lists {
		merged = append(merged, l.got...)
	}
	legislative.SortByDateDesc(merged)

	return merged, nil
}
