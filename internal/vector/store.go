package vector

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/juchunko/site-worker/internal/news"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SiteChunk is a paragraph of the website's content with its similarity to the query.
type SiteChunk struct {
	Title      string
	Paragraph  string
	Path       string
	Language   string
	Similarity float64
}

// Querier is the slice of a pgx pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads the official_website embeddings and the news table.
type Store struct {
	db Querier
}

func NewStore(db Querier) Store {
	return Store{db: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func searchSiteSQL(embedding []float32, language string, threshold float64, limit int) (string, []any, error) {
	vec := pgvector.NewVector(embedding)
	return psql.
		Select("title", "paragraph", "path", "language").
		Column(sq.Alias(sq.Expr("1 - (embedding <=> ?)", vec), "similarity")).
		From("official_website").
		Where(sq.Eq{"language": language}).
		Where(sq.Expr("1 - (embedding <=> ?) > ?", vec, threshold)).
		OrderByClause("embedding <=> ?", vec).
		Limit(uint64(limit)).
		ToSql()
}

// SearchSite returns up to limit chunks in language whose cosine similarity to
// embedding exceeds threshold, most similar first.
func (s Store) SearchSite(ctx context.Context, embedding []float32, language string, threshold float64, limit int) ([]SiteChunk, error) {
	query, args, err := searchSiteSQL(embedding, language, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error searching site: %w", err)
	}
	defer rows.Close()

	chunks := []SiteChunk{}
	for rows.Next() {
		var c SiteChunk
		if err := rows.Scan(&c.Title, &c.Paragraph, &c.Path, &c.Language, &c.Similarity); err != nil {
			return nil, fmt.Errorf("error scanning site chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading site chunks: %w", err)
	}

	return chunks, nil
}

func newsByURLSQL(url string) (string, []any, error) {
	return psql.
		Select("title", "url", "summary", "time::text", "source").
		From("news").
		Where(sq.Eq{"url": url}).
		Limit(1).
		ToSql()
}

// NewsByURL looks up a stored news article. [ErrNotFound] when there is none.
func (s Store) NewsByURL(ctx context.Context, url string) (news.Item, error) {
	query, args, err := newsByURLSQL(url)
	if err != nil {
		return news.Item{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var (
		it                         news.Item
		summary, published, source *string
	)
	err = s.db.QueryRow(ctx, query, args...).Scan(&it.Title, &it.URL, &summary, &published, &source)
	if errors.Is(err, pgx.ErrNoRows) {
		return news.Item{}, ErrNotFound
	}
	if err != nil {
		return news.Item{}, fmt.Errorf("error fetching news: %w", err)
	}
	it.Summary, it.Time, it.Source = deref(summary), deref(published), deref(source)

	return it, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
