// Package agg assembles the homepage cards and the legislator activity listing out of
// the upstream news, RSS and legislative sources.
package agg

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/juchunko/site-worker/internal/legislative"
	"github.com/juchunko/site-worker/internal/news"
	"github.com/juchunko/site-worker/internal/rss"
)

const (
	// Cards shown per homepage section.
	cardsPerSection = 3

	// Activities fetched per upstream list when the whole listing is requested.
	minPrefetch = 100

	DefaultMaxPrefetch = 1000
)

type (
	// Aggregator fans out to the upstream sources. It holds no per-request state.
	Aggregator struct {
		news        *news.Client
		feeds       *rss.Client
		legislative *legislative.Client

		blogURL     string
		transpalURL string
		maxPrefetch int

		now func() time.Time
	}

	Config struct {
		BlogRSSURL     string
		TranspalRSSURL string
		// Upper bound on how many records are pulled from each legislative list for one
		// activity page. Pages beyond it come back empty.
		MaxPrefetch int
	}
)

func New(cfg Config, n *news.Client, f *rss.Client, l *legislative.Client) *Aggregator {
	if cfg.MaxPrefetch <= 0 {
		cfg.MaxPrefetch = DefaultMaxPrefetch
	}

	return &Aggregator{
		news:        n,
		feeds:       f,
		legislative: l,
		blogURL:     cfg.BlogRSSURL,
		transpalURL: cfg.TranspalRSSURL,
		maxPrefetch: cfg.MaxPrefetch,
		now:         time.Now,
	}
}

// recovered runs fn, turning a panic into an error so one broken source can't take
// the whole response down.
func recovered(ctx context.Context, source string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic aggregating source", "source", source, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic aggregating %s: %v", source, r)
		}
	}()

	return fn()
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from a description and decodes what the policy escaped.
//
// Also limits the length of the string so there's not a massive chunk of text being output.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = rss.DecodeEntities(stripPolicy.Sanitize(s))
	if len(s) > 2048 {
		s = s[:2048]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}

	return s
}
