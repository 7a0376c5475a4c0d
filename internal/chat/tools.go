package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/juchunko/site-worker/internal/news"
	"github.com/juchunko/site-worker/internal/vector"
)

// ToolName is the closed set of tools the model may call.
type ToolName string

const (
	ToolViewPage           ToolName = "viewPage"
	ToolSearchNews         ToolName = "searchNews"
	ToolLatestNews         ToolName = "latestNews"
	ToolSemanticSiteSearch ToolName = "semanticSiteSearch"
	ToolGetNewsByURL       ToolName = "getNewsByUrl"
)

const pagePrefix = "base: https://juchunko.com/\n目前頁面內容：\n"

// UnknownToolError is returned for a tool name outside the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        ToolName
	Description string
	Schema      *openapi3.Schema
}

// Env is what a tool knows about the request it runs in.
type Env struct {
	Page string
}

type tool struct {
	ToolSpec
	run func(ctx context.Context, env Env, input map[string]any) (string, error)
}

type (
	// NewsSource is satisfied by [news.Client].
	NewsSource interface {
		Search(ctx context.Context, q news.Query) (news.Result, error)
		Latest(ctx context.Context, count int) (news.Result, error)
	}

	// ContentSource fetches raw files, satisfied by [fetch.Client].
	ContentSource interface {
		Bytes(ctx context.Context, source, url, accept string) ([]byte, error)
	}

	// SiteIndex is satisfied by [vector.Service].
	SiteIndex interface {
		SearchSite(ctx context.Context, keyword, language string) ([]vector.SiteChunk, error)
		NewsByURL(ctx context.Context, url string) (news.Item, error)
	}

	// ToolObserver is told about every tool execution. Satisfied by [metrics.Collector].
	ToolObserver interface {
		ObserveTool(tool string, failed bool)
	}
)

// ToolsConfig wires the tools to their backends. Index may be nil, in which case the
// semantic tools aren't offered.
type ToolsConfig struct {
	News        NewsSource
	Content     ContentSource
	ContentBase string // Root of the raw content repository
	SiteBase    string
	Index       SiteIndex
	Observer    ToolObserver
}

// Registry holds the tools offered to the model.
type Registry struct {
	tools    map[ToolName]tool
	order    []ToolName
	observer ToolObserver
}

func NewRegistry(cfg ToolsConfig) *Registry {
	r := &Registry{
		tools:    map[ToolName]tool{},
		observer: cfg.Observer,
	}

	r.add(tool{
		ToolSpec: ToolSpec{
			Name:        ToolViewPage,
			Description: "Get the current page content",
			Schema:      strictObject(),
		},
		run: func(ctx context.Context, env Env, _ map[string]any) (string, error) {
			return viewPage(ctx, cfg.Content, cfg.ContentBase, env.Page)
		},
	})

	search := strictObject().
		WithProperty("q", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("page", positiveInt()).
		WithProperty("pageSize", positiveInt()).
		WithProperty("lang", langSchema())
	search.Required = []string{"q"}
	r.add(tool{
		ToolSpec: ToolSpec{
			Name:        ToolSearchNews,
			Description: "Search news by query. Returns a readable summary with urls and sources.",
			Schema:      search,
		},
		run: func(ctx context.Context, _ Env, in map[string]any) (string, error) {
			return searchNews(ctx, cfg.News, in)
		},
	})
	r.add(tool{
		ToolSpec: ToolSpec{
			Name:        ToolLatestNews,
			Description: "Get latest news items; pass count (pageSize) to control how many are returned.",
			Schema: strictObject().
				WithProperty("count", positiveInt()).
				WithProperty("lang", langSchema()),
		},
		run: func(ctx context.Context, _ Env, in map[string]any) (string, error) {
			return latestNews(ctx, cfg.News, in)
		},
	})

	if cfg.Index == nil {
		return r
	}

	siteSearch := strictObject().
		WithProperty("keyword", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("language", langSchema())
	siteSearch.Required = []string{"keyword"}
	r.add(tool{
		ToolSpec: ToolSpec{
			Name:        ToolSemanticSiteSearch,
			Description: "Semantic search over the content of this website. Returns the most relevant paragraphs with their page urls.",
			Schema:      siteSearch,
		},
		run: func(ctx context.Context, _ Env, in map[string]any) (string, error) {
			return semanticSiteSearch(ctx, cfg.Index, cfg.SiteBase, in)
		},
	})

	byURL := strictObject().WithProperty("url", openapi3.NewStringSchema().WithMinLength(1))
	byURL.Required = []string{"url"}
	r.add(tool{
		ToolSpec: ToolSpec{
			Name:        ToolGetNewsByURL,
			Description: "Get the full summary of a news article by its url.",
			Schema:      byURL,
		},
		run: func(ctx context.Context, _ Env, in map[string]any) (string, error) {
			return newsByURL(ctx, cfg.Index, in)
		},
	})

	return r
}

func (r *Registry) add(t tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Specs lists the registered tools in registration order.
func (r *Registry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].ToolSpec)
	}
	return specs
}

// Call runs a tool. Failures don't end the conversation: they come back as an error
// result the model can read and react to.
func (r *Registry) Call(ctx context.Context, env Env, call ToolCall) ToolResult {
	content, err := r.call(ctx, env, call)
	if r.observer != nil {
		r.observer.ObserveTool(string(call.Name), err != nil)
	}
	if err != nil {
		slog.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", err)
		return ToolResult{CallID: call.ID, Content: err.Error(), IsError: true}
	}

	return ToolResult{CallID: call.ID, Content: content}
}

func (r *Registry) call(ctx context.Context, env Env, call ToolCall) (string, error) {
	t, ok := r.tools[ToolName(call.Name)]
	if !ok {
		return "", &UnknownToolError{Name: call.Name}
	}

	input := map[string]any{}
	if raw := strings.TrimSpace(string(call.Input)); raw != "" && raw != "null" {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return "", fmt.Errorf("invalid input for %s: %w", call.Name, err)
		}
	}
	if err := t.Schema.VisitJSON(input); err != nil {
		return "", fmt.Errorf("invalid input for %s: %w", call.Name, err)
	}

	return t.run(ctx, env, input)
}

func strictObject() *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}
	return s
}

// Largest page, page size or count a tool accepts. Keeps float64 inputs in int range.
const maxIntArg = 100

func positiveInt() *openapi3.Schema {
	return openapi3.NewIntegerSchema().WithMin(1).WithMax(maxIntArg)
}

func langSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithEnum("en", "zh-TW")
}

// intArg reads an optional integer argument. JSON numbers decode as float64.
func intArg(in map[string]any, key string, def int) int {
	if v, ok := in[key].(float64); ok {
		return int(v)
	}
	return def
}

func stringArg(in map[string]any, key, def string) string {
	if v, ok := in[key].(string); ok && v != "" {
		return v
	}
	return def
}

func viewPage(ctx context.Context, content ContentSource, base, page string) (string, error) {
	parts := strings.Split(strings.Trim(page, "/"), "/")
	if len(parts) < 3 {
		return pagePrefix + "無效的路由格式，無法解析檔案路徑。", nil
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return pagePrefix + "無效的路由格式，無法解析檔案路徑。", nil
		}
	}

	var (
		lang, category = parts[0], parts[1]
		slug           = make([]string, 0, len(parts)-2)
	)
	for _, p := range parts[2:] {
		slug = append(slug, url.PathEscape(p))
	}
	file := fmt.Sprintf("%s/src/content/%s/%s/%s.mdx",
		strings.TrimRight(base, "/"), url.PathEscape(category), url.PathEscape(lang), strings.Join(slug, "/"))

	byts, err := content.Bytes(ctx, "content", file, "text/plain")
	if err != nil {
		return "", fmt.Errorf("%s無法讀取目前頁面內容：%s", pagePrefix, err)
	}

	return pagePrefix + string(byts), nil
}

func searchNews(ctx context.Context, src NewsSource, in map[string]any) (string, error) {
	var (
		q        = stringArg(in, "q", "")
		page     = intArg(in, "page", 1)
		pageSize = intArg(in, "pageSize", 20)
	)

	res, err := src.Search(ctx, news.Query{Q: q, Page: page, PageSize: pageSize})
	if err != nil {
		return "", fmt.Errorf("搜尋新聞失敗：%s", err)
	}
	if len(res.Data) == 0 {
		return "搜尋結果為空。", nil
	}

	totalPages := "null"
	if res.TotalPages != nil {
		totalPages = fmt.Sprint(*res.TotalPages)
	}

	return fmt.Sprintf("搜尋新聞結果（query=%s，page=%d，pageSize=%d，totalPages=%s）:\n%s",
		q, page, pageSize, totalPages, news.FormatList(res.Data, pageSize)), nil
}

func latestNews(ctx context.Context, src NewsSource, in map[string]any) (string, error) {
	count := intArg(in, "count", 10)

	res, err := src.Latest(ctx, count)
	if err != nil {
		return "", fmt.Errorf("取得最新新聞失敗：%s", err)
	}
	if len(res.Data) == 0 {
		return "目前沒有最新新聞。", nil
	}

	return fmt.Sprintf("最新新聞（count=%d）:\n%s", count, news.FormatList(res.Data, count)), nil
}

func semanticSiteSearch(ctx context.Context, idx SiteIndex, siteBase string, in map[string]any) (string, error) {
	var (
		keyword  = stringArg(in, "keyword", "")
		language = stringArg(in, "language", "zh-TW")
	)

	chunks, err := idx.SearchSite(ctx, keyword, language)
	if err != nil {
		return "", fmt.Errorf("搜尋網站內容失敗：%s", err)
	}
	if len(chunks) == 0 {
		return "搜尋結果為空。", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "網站搜尋結果（keyword=%s，language=%s）:", keyword, language)
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n%d. %s - %s%s\n%s", i+1, c.Title, strings.TrimRight(siteBase, "/"), c.Path, c.Paragraph)
	}
	return b.String(), nil
}

func newsByURL(ctx context.Context, idx SiteIndex, in map[string]any) (string, error) {
	u := stringArg(in, "url", "")

	it, err := idx.NewsByURL(ctx, u)
	if err != nil {
		return "", fmt.Errorf("取得新聞失敗：%s", err)
	}

	return fmt.Sprintf("標題：%s\n來源：%s\n時間：%s\n網址：%s\n內容：\n%s",
		it.Title, it.Source, it.Time, it.URL, it.Summary), nil
}
