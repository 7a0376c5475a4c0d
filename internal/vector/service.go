package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juchunko/site-worker/internal/news"
)

const (
	// Minimum cosine similarity for a site chunk to count as a match.
	MatchThreshold = 0.4
	MatchLimit     = 7
)

// Service answers the semantic chat tools.
type Service struct {
	store    Store
	embedder *Embedder
	reader   *Reader
}

func NewService(store Store, embedder *Embedder, reader *Reader) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		reader:   reader,
	}
}

// SearchSite embeds keyword and returns the closest chunks of the website in language.
func (s *Service) SearchSite(ctx context.Context, keyword, language string) ([]SiteChunk, error) {
	embedding, err := s.embedder.Embed(ctx, keyword)
	if err != nil {
		return nil, err
	}

	return s.store.SearchSite(ctx, embedding, language, MatchThreshold, MatchLimit)
}

// NewsByURL returns the stored article at url. When it isn't stored the page itself is
// fetched and its reader text stands in for the summary.
func (s *Service) NewsByURL(ctx context.Context, url string) (news.Item, error) {
	it, err := s.store.NewsByURL(ctx, url)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return news.Item{}, err
	}

	slog.DebugContext(ctx, "news not stored, reading page", "url", url)
	a, err := s.reader.Read(ctx, url)
	if err != nil {
		return news.Item{}, fmt.Errorf("error reading %s: %w", url, err)
	}

	return news.Item{
		Title:   a.Title,
		URL:     url,
		Summary: a.Text,
	}, nil
}
