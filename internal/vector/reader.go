package vector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sym01/htmlsanitizer"

	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/rss"
)

// Reader text is cut off here so a long article can't swamp the model's context.
const maxArticleBytes = 8000

// Article is the reader view of a web page.
type Article struct {
	Title string
	Text  string
}

// Reader fetches pages and extracts their main text.
type Reader struct {
	fetcher *fetch.Client
	cache   *lru.Cache[string, Article]
	strip   *bluemonday.Policy

	// Checked before anything is fetched. The URLs come from the model.
	validate func(rawURL string) error
}

func NewReader(f *fetch.Client, cacheSize int) (*Reader, error) {
	cache, err := lru.New[string, Article](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Reader{
		fetcher:  f,
		cache:    cache,
		strip:    bluemonday.StrictPolicy(),
		validate: fetch.ValidateURL,
	}, nil
}

// Read returns the reader text of the page at rawURL. Only public web URLs are read, the
// fetcher should be built with [fetch.NewSafe] so redirects are held to the same rule.
func (r *Reader) Read(ctx context.Context, rawURL string) (Article, error) {
	if err := r.validate(rawURL); err != nil {
		return Article{}, fmt.Errorf("not a readable url: %w", err)
	}

	// Cache results for less processing and prevent refetches
	if a, ok := r.cache.Get(rawURL); ok {
		return a, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Article{}, fmt.Errorf("not a readable url: %w", err)
	}

	page, err := r.fetcher.Bytes(ctx, "article", rawURL, "text/html")
	if err != nil {
		return Article{}, err
	}

	// Strip it for readability and sanitize
	parser := readability.NewParser()
	parsed, err := parser.Parse(bytes.NewReader(page), u)
	if err != nil {
		return Article{}, fmt.Errorf("error extracting article: %w", err)
	}

	sanitizer := htmlsanitizer.NewHTMLSanitizer()
	content, err := sanitizer.SanitizeString(parsed.Content)
	if err != nil {
		return Article{}, fmt.Errorf("error sanitizing article: %w", err)
	}

	a := Article{
		Title: strings.TrimSpace(parsed.Title),
		Text:  truncate(collapse(rss.DecodeEntities(r.strip.Sanitize(content))), maxArticleBytes),
	}
	r.cache.Add(rawURL, a)

	return a, nil
}

// collapse squeezes runs of blank lines left behind by stripped markup.
func collapse(s string) string {
	var (
		lines = strings.Split(s, "\n")
		out   = make([]string, 0, len(lines))
	)
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
