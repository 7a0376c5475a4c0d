package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juchunko/site-worker/internal/news"
)

type scriptedStep struct {
	chunks []string
	calls  []ToolCall
	err    error
}

// scriptedModel plays back one step per call, repeating the last step once it runs out.
type scriptedModel struct {
	steps []scriptedStep
	reqs  []StepRequest
}

func (m *scriptedModel) Step(ctx context.Context, req StepRequest, onText func(string) error) (StepResult, error) {
	req.Messages = append([]Message(nil), req.Messages...)
	m.reqs = append(m.reqs, req)

	step := m.steps[min(len(m.reqs), len(m.steps))-1]
	var text strings.Builder
	for _, c := range step.chunks {
		if err := onText(c); err != nil {
			return StepResult{}, err
		}
		text.WriteString(c)
	}
	if step.err != nil {
		return StepResult{}, step.err
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	return StepResult{Text: text.String(), ToolCalls: step.calls}, nil
}

type stepCounter struct{ steps []int }

func (s *stepCounter) ObserveChatSteps(n int) { s.steps = append(s.steps, n) }

type streamEvent struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Delta      string          `json:"delta"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
	Output     string          `json:"output"`
	ErrorText  string          `json:"errorText"`
}

// parseStream splits an event stream body into its events. The [DONE] marker shows up
// as an event of type "[DONE]".
func parseStream(t *testing.T, body string) []streamEvent {
	t.Helper()

	var events []streamEvent
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		data, ok := strings.CutPrefix(frame, "data: ")
		require.True(t, ok, "frame without data: %q", frame)
		if data == "[DONE]" {
			events = append(events, streamEvent{Type: "[DONE]"})
			continue
		}
		var e streamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &e))
		events = append(events, e)
	}
	return events
}

func types(events []streamEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func deltas(events []streamEvent) string {
	var b strings.Builder
	for _, e := range events {
		if e.Type == "text-delta" {
			b.WriteString(e.Delta)
		}
	}
	return b.String()
}

func userRequest(text string) Request {
	return Request{
		Messages: []InputMessage{{Role: "user", Parts: []InputPart{{Type: "text", Text: text}}}},
		Filename: "/zh-TW/about",
	}
}

func runGateway(t *testing.T, model Model, tools *Registry, req Request) ([]streamEvent, *httptest.ResponseRecorder, *stepCounter, error) {
	t.Helper()

	if tools == nil {
		tools = NewRegistry(ToolsConfig{})
	}
	obs := &stepCounter{}
	rec := httptest.NewRecorder()
	g := NewGateway(GatewayConfig{SiteBase: "https://juchunko.com"}, model, tools, obs)

	err := g.Stream(context.Background(), req, NewStreamWriter(rec))
	return parseStream(t, rec.Body.String()), rec, obs, err
}

func TestGateway_Text(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{chunks: []string{"Hello", " there, I'm", " 寶博士。", " Ask away"}},
	}}

	events, rec, obs, err := runGateway(t, model, nil, userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "v1", rec.Header().Get("x-vercel-ai-ui-message-stream"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	got := types(events)
	assert.Equal(t, []string{"start", "start-step", "text-start"}, got[:3])
	assert.Equal(t, []string{"text-end", "finish-step", "finish", "[DONE]"}, got[len(got)-4:])
	assert.Equal(t, "Hello there, I'm 寶博士。 Ask away", deltas(events))

	// Every delta belongs to the one text part
	for _, e := range events {
		if e.Type == "text-delta" {
			assert.Equal(t, events[2].ID, e.ID)
		}
	}
	assert.Equal(t, []int{1}, obs.steps)

	require.Len(t, model.reqs, 1)
	req := model.reqs[0]
	assert.Contains(t, req.System, "current page: /zh-TW/about")
	assert.Len(t, req.Tools, 3)
	assert.Equal(t, []Message{{Role: RoleUser, Parts: []Part{{Text: "hi"}}}}, req.Messages)
}

func TestGateway_ToolCall(t *testing.T) {
	src := &fakeNews{res: news.Result{Success: true, Data: []news.Item{{Title: "AI 基本法三讀", Source: "中央社", URL: "https://a"}}}}
	tools := NewRegistry(ToolsConfig{News: src})
	model := &scriptedModel{steps: []scriptedStep{
		{calls: []ToolCall{{ID: "toolu_1", Name: "latestNews", Input: json.RawMessage(`{"count":1}`)}}},
		{chunks: []string{"最新的是 AI 基本法三讀。"}},
	}}

	events, _, obs, err := runGateway(t, model, tools, userRequest("最近有什麼新聞？"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start",
		"start-step", "tool-input-available", "tool-output-available", "finish-step",
		"start-step", "text-start",
	}, types(events)[:7])
	assert.Equal(t, "最新的是 AI 基本法三讀。", deltas(events))
	assert.Equal(t, []int{2}, obs.steps)

	input, output := events[2], events[3]
	assert.Equal(t, "toolu_1", input.ToolCallID)
	assert.Equal(t, "latestNews", input.ToolName)
	assert.JSONEq(t, `{"count":1}`, string(input.Input))
	assert.Equal(t, "toolu_1", output.ToolCallID)
	assert.Equal(t, "最新新聞（count=1）:\n1. AI 基本法三讀 (中央社) -  - https://a", output.Output)

	// The second step sees the call and its result
	require.Len(t, model.reqs, 2)
	msgs := model.reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Parts[0].ToolCall)
	assert.Equal(t, "latestNews", msgs[1].Parts[0].ToolCall.Name)
	assert.Equal(t, RoleUser, msgs[2].Role)
	require.NotNil(t, msgs[2].Parts[0].ToolResult)
	assert.Equal(t, "toolu_1", msgs[2].Parts[0].ToolResult.CallID)
}

func TestGateway_ToolFailureIsReported(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{calls: []ToolCall{{ID: "toolu_1", Name: "deleteEverything"}}},
		{chunks: []string{"I can't do that."}},
	}}

	events, _, _, err := runGateway(t, model, nil, userRequest("please"))
	require.NoError(t, err)

	require.Equal(t, "tool-output-error", events[3].Type)
	assert.Equal(t, "unknown tool: deleteEverything", events[3].ErrorText)
	assert.Equal(t, "I can't do that.", deltas(events))

	res := model.reqs[1].Messages[2].Parts[0].ToolResult
	require.NotNil(t, res)
	assert.True(t, res.IsError)
}

func TestGateway_StepBudget(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{calls: []ToolCall{{ID: "toolu_x", Name: "viewPage"}}},
	}}
	tools := NewRegistry(ToolsConfig{Content: &fakeContent{}})

	events, _, obs, err := runGateway(t, model, tools, userRequest("立法院最近在忙什麼？"))
	require.NoError(t, err)

	assert.Len(t, model.reqs, DefaultMaxSteps)
	assert.Equal(t, []int{DefaultMaxSteps}, obs.steps)

	var starts int
	for _, e := range events {
		if e.Type == "start-step" {
			starts++
		}
	}
	assert.Equal(t, DefaultMaxSteps+1, starts)
	assert.Equal(t, "抱歉，這次沒有辦法整理出回答，請換個方式再問一次。", deltas(events))

	got := types(events)
	assert.Equal(t, []string{"finish", "[DONE]"}, got[len(got)-2:])
}

func TestGateway_StepBudgetEnglishNotice(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{calls: []ToolCall{{ID: "toolu_x", Name: "viewPage"}}},
	}}
	tools := NewRegistry(ToolsConfig{Content: &fakeContent{}})

	events, _, _, err := runGateway(t, model, tools, userRequest("what is on this page?"))
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't put an answer together this time. Please try rephrasing your question.", deltas(events))
}

func TestGateway_ModelError(t *testing.T) {
	model := &scriptedModel{steps: []scriptedStep{
		{chunks: []string{"Let me "}, err: errors.New("overloaded")},
	}}

	events, _, obs, err := runGateway(t, model, nil, userRequest("hi"))
	require.NoError(t, err)

	got := types(events)
	assert.Equal(t, []string{"error", "[DONE]"}, got[len(got)-2:])
	assert.NotContains(t, got, "finish")
	assert.Equal(t, "Let me ", deltas(events))
	assert.Equal(t, "The assistant is unavailable right now, please try again later.", events[len(events)-2].ErrorText)
	assert.Equal(t, []int{1}, obs.steps)
}

func TestGateway_ClientGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedModel{steps: []scriptedStep{{chunks: []string{"never read"}}}}
	g := NewGateway(GatewayConfig{}, model, NewRegistry(ToolsConfig{}), nil)
	rec := httptest.NewRecorder()

	err := g.Stream(ctx, userRequest("hi"), NewStreamWriter(rec))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}
