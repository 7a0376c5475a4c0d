package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juchunko/site-worker/internal/fetch"
)

func TestSearchSiteSQL(t *testing.T) {
	query, args, err := searchSiteSQL([]float32{0.1, 0.2}, "zh-TW", 0.4, 7)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "SELECT title, paragraph, path, language, "), query)
	assert.Contains(t, query, "AS similarity FROM official_website")
	assert.Contains(t, query, "language = $2")
	assert.Contains(t, query, "ORDER BY embedding <=> $5")
	assert.True(t, strings.HasSuffix(query, "LIMIT 7"), query)
	require.Len(t, args, 5)
	assert.Equal(t, "zh-TW", args[1])
	assert.Equal(t, 0.4, args[3])
}

func TestNewsByURLSQL(t *testing.T) {
	query, args, err := newsByURLSQL("https://news/1")
	require.NoError(t, err)

	assert.Equal(t, "SELECT title, url, summary, time::text, source FROM news WHERE url = $1 LIMIT 1", query)
	assert.Equal(t, []any{"https://news/1"}, args)
}

type fakeRow struct {
	vals []string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.vals[i]
		case **string:
			v := r.vals[i]
			*d = &v
		}
	}
	return nil
}

type fakeDB struct {
	row fakeRow
}

func (f fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, assert.AnError
}

func (f fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"數位發展"}, req.Input)

		w.Write([]byte(`{"data":[{"embedding":[0.5,-0.25]}]}`))
	}))
	defer srv.Close()

	e := NewEmbedder(fetch.New(time.Second, nil), srv.URL, "secret", "text-embedding-3-small")
	got, err := e.Embed(context.Background(), "數位發展")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, got)
}

func TestEmbed_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewEmbedder(fetch.New(time.Second, nil), srv.URL, "", "m").Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "empty embedding")
}

const testArticle = `<!doctype html>
<html><head><title>立法院通過人工智慧基本法</title></head>
<body>
  <nav><a href="/">首頁</a></nav>
  <article>
    <h1>立法院通過人工智慧基本法</h1>
    <p>立法院今天三讀通過人工智慧基本法，明定政府推動人工智慧研發與應用的原則，並要求主管機關建立風險分級框架，確保技術發展兼顧人權與隱私保障。</p>
    <p>提案立委表示，這部法律將成為台灣發展人工智慧產業的重要基礎，未來各部會將依據本法訂定相關子法，並定期檢討執行成效，以回應快速變化的科技環境。</p>
    <script>track()</script>
  </article>
</body></html>`

func TestService_NewsByURL(t *testing.T) {
	var pageHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testArticle))
	}))
	defer srv.Close()

	f := fetch.New(time.Second, nil)
	reader, err := NewReader(f, 8)
	require.NoError(t, err)
	// The test server listens on loopback
	reader.validate = func(string) error { return nil }

	t.Run("stored", func(t *testing.T) {
		svc := NewService(NewStore(fakeDB{row: fakeRow{vals: []string{"標題", "https://news/1", "摘要", "2024-05-01", "中央社"}}}), nil, reader)

		got, err := svc.NewsByURL(context.Background(), "https://news/1")
		require.NoError(t, err)
		assert.Equal(t, "中央社", got.Source)
		assert.Equal(t, "摘要", got.Summary)
		assert.Zero(t, pageHits.Load())
	})

	t.Run("falls back to the page", func(t *testing.T) {
		svc := NewService(NewStore(fakeDB{row: fakeRow{err: pgx.ErrNoRows}}), nil, reader)

		got, err := svc.NewsByURL(context.Background(), srv.URL+"/article")
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/article", got.URL)
		assert.Contains(t, got.Title, "人工智慧基本法")
		assert.Contains(t, got.Summary, "風險分級框架")
		assert.NotContains(t, got.Summary, "<p>")
		assert.NotContains(t, got.Summary, "track()")

		// Second read is served from the cache
		_, err = svc.NewsByURL(context.Background(), srv.URL+"/article")
		require.NoError(t, err)
		assert.Equal(t, int32(1), pageHits.Load())
	})

	t.Run("database error", func(t *testing.T) {
		svc := NewService(NewStore(fakeDB{row: fakeRow{err: assert.AnError}}), nil, reader)

		_, err := svc.NewsByURL(context.Background(), srv.URL)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestReader_RejectsInternalURLs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(testArticle))
	}))
	defer srv.Close()

	reader, err := NewReader(fetch.New(time.Second, nil), 1)
	require.NoError(t, err)

	for _, u := range []string{
		srv.URL + "/article",
		"file:///etc/passwd",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost:8787/metrics",
		"http://10.0.0.5/",
		"http://[::1]/",
	} {
		_, err := reader.Read(context.Background(), u)
		assert.ErrorIs(t, err, fetch.ErrBlockedURL, u)
	}
	assert.Zero(t, hits.Load())
}

func TestService_NewsByURL_DoesNotReadInternalURLs(t *testing.T) {
	reader, err := NewReader(fetch.New(time.Second, nil), 1)
	require.NoError(t, err)
	svc := NewService(NewStore(fakeDB{row: fakeRow{err: pgx.ErrNoRows}}), nil, reader)

	_, err = svc.NewsByURL(context.Background(), "http://169.254.169.254/latest/meta-data/")
	assert.ErrorIs(t, err, fetch.ErrBlockedURL)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab", truncate("ab", 5))
	// Never splits a multi-byte rune
	assert.Equal(t, "中", truncate("中文", 4))
}
