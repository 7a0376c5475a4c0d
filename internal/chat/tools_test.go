package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juchunko/site-worker/internal/fetch"
	"github.com/juchunko/site-worker/internal/news"
	"github.com/juchunko/site-worker/internal/vector"
)

type fakeNews struct {
	res    news.Result
	err    error
	gotQ   news.Query
	gotCnt int
}

func (f *fakeNews) Search(_ context.Context, q news.Query) (news.Result, error) {
	f.gotQ = q
	return f.res, f.err
}

func (f *fakeNews) Latest(_ context.Context, count int) (news.Result, error) {
	f.gotCnt = count
	return f.res, f.err
}

type fakeContent struct {
	files  map[string]string
	gotURL string
}

func (f *fakeContent) Bytes(_ context.Context, _, url, _ string) ([]byte, error) {
	f.gotURL = url
	body, ok := f.files[url]
	if !ok {
		return nil, &fetch.StatusError{URL: url, StatusCode: 404, Status: "Not Found"}
	}
	return []byte(body), nil
}

type fakeIndex struct {
	chunks []vector.SiteChunk
	item   news.Item
	err    error
}

func (f fakeIndex) SearchSite(context.Context, string, string) ([]vector.SiteChunk, error) {
	return f.chunks, f.err
}

func (f fakeIndex) NewsByURL(context.Context, string) (news.Item, error) {
	return f.item, f.err
}

type countingTools struct {
	calls map[string]int
	fails map[string]int
}

func (c *countingTools) ObserveTool(tool string, failed bool) {
	if failed {
		c.fails[tool]++
		return
	}
	c.calls[tool]++
}

func call(name string, input string) ToolCall {
	return ToolCall{ID: "toolu_" + name, Name: name, Input: json.RawMessage(input)}
}

func TestRegistry_Specs(t *testing.T) {
	without := NewRegistry(ToolsConfig{})
	var names []ToolName
	for _, s := range without.Specs() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []ToolName{ToolViewPage, ToolSearchNews, ToolLatestNews}, names)

	with := NewRegistry(ToolsConfig{Index: fakeIndex{}})
	assert.Len(t, with.Specs(), 5)
}

func TestRegistry_UnknownTool(t *testing.T) {
	obs := &countingTools{calls: map[string]int{}, fails: map[string]int{}}
	r := NewRegistry(ToolsConfig{Observer: obs})

	res := r.Call(context.Background(), Env{}, call("semanticSiteSearch", `{"keyword":"x"}`))
	assert.True(t, res.IsError)
	assert.Equal(t, "unknown tool: semanticSiteSearch", res.Content)
	assert.Equal(t, 1, obs.fails["semanticSiteSearch"])

	_, err := r.call(context.Background(), Env{}, call("rm -rf", `{}`))
	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "rm -rf", unknown.Name)
}

func TestRegistry_InvalidInput(t *testing.T) {
	r := NewRegistry(ToolsConfig{News: &fakeNews{}})

	tests := []struct {
		name string
		call ToolCall
	}{
		{name: "missing q", call: call("searchNews", `{}`)},
		{name: "empty q", call: call("searchNews", `{"q":""}`)},
		{name: "fractional page", call: call("searchNews", `{"q":"a","page":1.5}`)},
		{name: "zero count", call: call("latestNews", `{"count":0}`)},
		{name: "huge count", call: call("latestNews", `{"count":1e20}`)},
		{name: "large page size", call: call("searchNews", `{"q":"a","pageSize":101}`)},
		{name: "large page", call: call("searchNews", `{"q":"a","page":1000000}`)},
		{name: "unknown lang", call: call("latestNews", `{"lang":"fr"}`)},
		{name: "extra field", call: call("viewPage", `{"path":"/etc"}`)},
		{name: "not json", call: call("latestNews", `{count`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Call(context.Background(), Env{}, tt.call)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content, "invalid input for "+tt.call.Name)
			assert.Equal(t, tt.call.ID, res.CallID)
		})
	}
}

func TestLatestNews_MaxCount(t *testing.T) {
	src := &fakeNews{}
	r := NewRegistry(ToolsConfig{News: src})

	res := r.Call(context.Background(), Env{}, call("latestNews", `{"count":100}`))
	assert.False(t, res.IsError, res.Content)
	assert.Equal(t, 100, src.gotCnt)
}

func TestSearchNews(t *testing.T) {
	total := 3
	src := &fakeNews{res: news.Result{Success: true, TotalPages: &total, Data: []news.Item{
		{Title: "新聞一", Source: "中央社", Time: "2024-05-01", URL: "https://a"},
		{Title: "新聞二", Source: "公視", Time: "2024-05-02", URL: "https://b"},
	}}}
	r := NewRegistry(ToolsConfig{News: src})

	res := r.Call(context.Background(), Env{}, call("searchNews", `{"q":"AI","pageSize":1}`))
	require.False(t, res.IsError)
	assert.Equal(t, news.Query{Q: "AI", Page: 1, PageSize: 1}, src.gotQ)
	assert.Equal(t,
		"搜尋新聞結果（query=AI，page=1，pageSize=1，totalPages=3）:\n1. 新聞一 (中央社) - 2024-05-01 - https://a",
		res.Content)

	src.res = news.Result{Success: true}
	res = r.Call(context.Background(), Env{}, call("searchNews", `{"q":"none"}`))
	assert.Equal(t, "搜尋結果為空。", res.Content)

	src.err = errors.New("HTTP 502")
	res = r.Call(context.Background(), Env{}, call("searchNews", `{"q":"AI"}`))
	assert.True(t, res.IsError)
	assert.Equal(t, "搜尋新聞失敗：HTTP 502", res.Content)
}

func TestLatestNews(t *testing.T) {
	src := &fakeNews{res: news.Result{Success: true, Data: []news.Item{{Title: "一", URL: "https://a"}}}}
	r := NewRegistry(ToolsConfig{News: src})

	res := r.Call(context.Background(), Env{}, call("latestNews", ``))
	require.False(t, res.IsError)
	assert.Equal(t, 10, src.gotCnt)
	assert.Equal(t, "最新新聞（count=10）:\n1. 一 (未知來源) -  - https://a", res.Content)

	src.res = news.Result{Success: true}
	res = r.Call(context.Background(), Env{}, call("latestNews", `{"count":5,"lang":"en"}`))
	assert.Equal(t, 5, src.gotCnt)
	assert.Equal(t, "目前沒有最新新聞。", res.Content)
}

func TestViewPage(t *testing.T) {
	const base = "https://github.com/DrJuChunKoO/juchunko.com/raw/refs/heads/astro"
	content := &fakeContent{files: map[string]string{
		base + "/src/content/bills/zh-TW/ai/basic-act.mdx": "# AI 基本法",
	}}
	r := NewRegistry(ToolsConfig{Content: content, ContentBase: base + "/"})

	res := r.Call(context.Background(), Env{Page: "/zh-TW/bills/ai/basic-act/"}, call("viewPage", `{}`))
	require.False(t, res.IsError)
	assert.Equal(t, "base: https://juchunko.com/\n目前頁面內容：\n# AI 基本法", res.Content)

	for _, page := range []string{"/", "/zh-TW/bills", "/zh-TW/../../secrets"} {
		res = r.Call(context.Background(), Env{Page: page}, call("viewPage", `{}`))
		assert.False(t, res.IsError, page)
		assert.True(t, strings.HasSuffix(res.Content, "無效的路由格式，無法解析檔案路徑。"), page)
	}

	res = r.Call(context.Background(), Env{Page: "/en/bills/missing"}, call("viewPage", `{}`))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "無法讀取目前頁面內容：HTTP 404")
	assert.Equal(t, base+"/src/content/bills/en/missing.mdx", content.gotURL)
}

func TestSemanticTools(t *testing.T) {
	idx := fakeIndex{
		chunks: []vector.SiteChunk{{Title: "關於", Path: "/zh-TW/about", Paragraph: "葛如鈞是立法委員。"}},
		item:   news.Item{Title: "標題", Source: "中央社", Time: "2024-05-01", URL: "https://n", Summary: "內容"},
	}
	r := NewRegistry(ToolsConfig{Index: idx, SiteBase: "https://juchunko.com"})

	res := r.Call(context.Background(), Env{}, call("semanticSiteSearch", `{"keyword":"立委"}`))
	require.False(t, res.IsError)
	assert.Equal(t, "網站搜尋結果（keyword=立委，language=zh-TW）:\n1. 關於 - https://juchunko.com/zh-TW/about\n葛如鈞是立法委員。", res.Content)

	res = r.Call(context.Background(), Env{}, call("getNewsByUrl", `{"url":"https://n"}`))
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "來源：中央社")
	assert.Contains(t, res.Content, "內容：\n內容")
}
