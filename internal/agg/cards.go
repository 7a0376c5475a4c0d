package agg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/juchunko/site-worker/internal/news"
	"github.com/juchunko/site-worker/internal/rss"
	"github.com/juchunko/site-worker/internal/site"
	"github.com/juchunko/site-worker/internal/when"
)

// IndexCards is the homepage payload. Every section is always present, a failed
// source shows up as an empty list plus its error flag.
type IndexCards struct {
	NewsCards            []site.CardItem `json:"newsCards"`
	NewsFetchError       bool            `json:"newsFetchError"`
	BlogCards            []site.CardItem `json:"blogCards"`
	BlogFetchError       bool            `json:"blogFetchError"`
	TranspalCards        []site.CardItem `json:"transpalCards"`
	TranspalFetchError   bool            `json:"transpalFetchError"`
	LegislatorCards      []site.CardItem `json:"legislatorCards"`
	LegislatorFetchError bool            `json:"legislatorFetchError"`
}

// Failed reports whether any section couldn't be fetched.
func (c IndexCards) Failed() bool {
	return c.NewsFetchError || c.BlogFetchError || c.TranspalFetchError || c.LegislatorFetchError
}

// IndexCards builds the four homepage sections concurrently. It never fails as a whole.
func (a *Aggregator) IndexCards(ctx context.Context, lang site.Lang) IndexCards {
	res := IndexCards{
		NewsCards:       []site.CardItem{},
		BlogCards:       []site.CardItem{},
		TranspalCards:   []site.CardItem{},
		LegislatorCards: []site.CardItem{},
	}

	// Each section writes only to its own fields.
	section := func(source string, cards *[]site.CardItem, failed *bool, build func() ([]site.CardItem, error)) func() error {
		return func() error {
			err := recovered(ctx, source, func() error {
				built, err := build()
				if err != nil {
					return err
				}
				*cards = built
				return nil
			})
			if err != nil {
				slog.WarnContext(ctx, "index cards source failed", "source", source, "error", err)
				*failed = true
			}
			return nil
		}
	}

	var g errgroup.Group
	g.SetLimit(4)
	g.Go(section("news", &res.NewsCards, &res.NewsFetchError, func() ([]site.CardItem, error) {
		return a.newsCards(ctx, lang)
	}))
	g.Go(section("blog", &res.BlogCards, &res.BlogFetchError, func() ([]site.CardItem, error) {
		return a.feedCards(ctx, "blog", a.blogURL, site.IconBlog, lang, true)
	}))
	g.Go(section("transpal", &res.TranspalCards, &res.TranspalFetchError, func() ([]site.CardItem, error) {
		return a.feedCards(ctx, "transpal", a.transpalURL, site.IconTranspal, lang, false)
	}))
	g.Go(section("legislator", &res.LegislatorCards, &res.LegislatorFetchError, func() ([]site.CardItem, error) {
		return a.legislatorCards(ctx, lang)
	}))
	_ = g.Wait()

	return res
}

func (a *Aggregator) newsCards(ctx context.Context, lang site.Lang) ([]site.CardItem, error) {
	res, err := a.news.List(ctx, news.Query{})
	if err != nil {
		return nil, fmt.Errorf("error listing news: %w", err)
	}

	items := res.Data
	if len(items) > cardsPerSection {
		items = items[:cardsPerSection]
	}

	now := a.now()
	cards := make([]site.CardItem, 0, len(items))
	for _, it := range items {
		title := it.Title
		if lang == site.LangEN && it.TitleEN != "" {
			title = it.TitleEN
		}
		cards = append(cards, site.CardItem{
			Title: rss.DecodeEntities(title),
			Date:  it.Source + "‧" + when.TimeAgoString(it.Time, now, lang),
			Href:  it.URL,
			Icon:  site.IconNewspaper,
		})
	}

	return cards, nil
}

func (a *Aggregator) feedCards(ctx context.Context, source, url string, icon site.Icon, lang site.Lang, byLang bool) ([]site.CardItem, error) {
	items, err := a.feeds.Fetch(ctx, source, url)
	if err != nil {
		return nil, err
	}

	now := a.now()
	cards := []site.CardItem{}
	for _, it := range rss.DedupByLink(items) {
		if len(cards) == cardsPerSection {
			break
		}
		if byLang && !writtenIn(it.Link, lang) {
			continue
		}

		href := it.Link
		if href == "" {
			href = "/"
		}
		cards = append(cards, site.CardItem{
			Title:       it.Title,
			Description: sanitize(it.Description),
			Date:        when.TimeAgoString(it.PubDate, now, lang),
			Href:        href,
			Icon:        icon,
		})
	}

	return cards, nil
}

// writtenIn tells from its link whether a blog post is in lang.
// Links with neither an /en/ nor a /zh/ segment count as Chinese.
func writtenIn(link string, lang site.Lang) bool {
	en, zh := strings.Contains(link, "/en/"), strings.Contains(link, "/zh/")
	if lang == site.LangEN {
		return en
	}
	return zh || !en
}

func (a *Aggregator) legislatorCards(ctx context.Context, lang site.Lang) ([]site.CardItem, error) {
	acts, err := a.activities(ctx, cardsPerSection, lang, false)
	if err != nil {
		return nil, err
	}
	if len(acts) > cardsPerSection {
		acts = acts[:cardsPerSection]
	}

	now := a.now()
	cards := make([]site.CardItem, 0, len(acts))
	for _, act := range acts {
		href := act.URL
		if href == "" {
			href = fmt.Sprintf("/%s/activities/%s", lang, act.ID)
		}

		var date string
		if act.Date != nil {
			date = when.TimeAgo(*act.Date, now, lang)
		}

		cards = append(cards, site.CardItem{
			Title:       act.Title,
			Description: describe(act.Details, lang),
			Date:        date,
			Href:        href,
			Icon:        act.Type.Icon(),
		})
	}

	return cards, nil
}

var detailLabels = map[site.Lang]map[string]string{
	site.LangZH: {
		"status":      "議案狀態",
		"law":         "法律編號",
		"meetingType": "會議類型",
		"location":    "地點",
	},
	site.LangEN: {
		"status":      "Bill Status",
		"law":         "Law Number",
		"meetingType": "Meeting Type",
		"location":    "Location",
	},
}

// describe joins the non-empty details into "label: value" pairs.
func describe(d site.Details, lang site.Lang) string {
	labels := detailLabels[lang]

	var parts []string
	for _, e := range d.Entries() {
		parts = append(parts, labels[e.Key]+": "+e.Value)
	}
	return strings.Join(parts, lang.Separator())
}
