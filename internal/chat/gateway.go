package chat

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/google/uuid"
)

const DefaultMaxSteps = 5

type (
	// StepRequest is everything the model gets for one step.
	StepRequest struct {
		System   string
		Messages []Message
		Tools    []ToolSpec
	}

	// StepResult is what the model produced in one step. The text has already been
	// handed to the step's callback as it streamed.
	StepResult struct {
		Text      string
		ToolCalls []ToolCall
	}

	// Model is a language model that can call tools.
	Model interface {
		// Step runs one model turn, calling onText with text as it is generated.
		// An error from onText aborts the step.
		Step(ctx context.Context, req StepRequest, onText func(string) error) (StepResult, error)
	}

	// StepObserver is told how many steps each turn took. Satisfied by [metrics.Collector].
	StepObserver interface {
		ObserveChatSteps(steps int)
	}
)

type GatewayConfig struct {
	SiteBase string
	MaxSteps int
}

// Gateway runs chat turns: the model is called repeatedly, executing the tools it asks
// for, until it answers without calling one or the step budget runs out.
type Gateway struct {
	model    Model
	tools    *Registry
	siteBase string
	maxSteps int
	observer StepObserver
}

func NewGateway(cfg GatewayConfig, model Model, tools *Registry, obs StepObserver) *Gateway {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	return &Gateway{
		model:    model,
		tools:    tools,
		siteBase: cfg.SiteBase,
		maxSteps: cfg.MaxSteps,
		observer: obs,
	}
}

// Stream runs one turn of req and writes it to sw. Model failures are reported in the
// stream itself. The returned error is only about the stream: a write failure or the
// client going away.
func (g *Gateway) Stream(ctx context.Context, req Request, sw *StreamWriter) error {
	var (
		env      = Env{Page: req.Page()}
		conv     = req.Conversation()
		produced bool
		steps    int
		stepReq  = StepRequest{
			System: SystemPrompt(g.siteBase, env.Page),
			Tools:  g.tools.Specs(),
		}
	)
	defer func() {
		if g.observer != nil {
			g.observer.ObserveChatSteps(steps)
		}
	}()

	if err := sw.Start(uuid.NewString()); err != nil {
		return err
	}

	for done := false; !done && steps < g.maxSteps; {
		steps++
		if err := sw.StartStep(); err != nil {
			return err
		}

		stepReq.Messages = conv
		text := &textPart{sw: sw}
		res, err := g.model.Step(ctx, stepReq, text.push)
		if endErr := text.end(); endErr != nil {
			return endErr
		}
		produced = produced || text.id != ""
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "chat model step failed", "step", steps, "error", err)
			if err := sw.Error("The assistant is unavailable right now, please try again later."); err != nil {
				return err
			}
			return sw.Done()
		}

		assistant := Message{Role: RoleAssistant}
		if res.Text != "" {
			assistant.Parts = append(assistant.Parts, Part{Text: res.Text})
		}
		for _, call := range res.ToolCalls {
			assistant.Parts = append(assistant.Parts, Part{ToolCall: &call})
		}

		if len(res.ToolCalls) == 0 {
			done = true
		} else {
			conv = append(conv, assistant)

			results := Message{Role: RoleUser}
			for _, call := range res.ToolCalls {
				if err := sw.ToolInput(call); err != nil {
					return err
				}
				out := g.tools.Call(ctx, env, call)
				if err := sw.ToolOutput(out); err != nil {
					return err
				}
				results.Parts = append(results.Parts, Part{ToolResult: &out})
			}
			conv = append(conv, results)
		}

		if err := sw.FinishStep(); err != nil {
			return err
		}
	}

	// The budget ran out on tool calls alone. Say something rather than nothing.
	if !produced {
		slog.WarnContext(ctx, "chat turn produced no text", "steps", steps)
		if err := g.notice(sw, conv); err != nil {
			return err
		}
	}

	if err := sw.Finish(); err != nil {
		return err
	}
	return sw.Done()
}

func (g *Gateway) notice(sw *StreamWriter, conv []Message) error {
	msg := "Sorry, I couldn't put an answer together this time. Please try rephrasing your question."
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == RoleUser && conv[i].Text() != "" {
			if hasHan(conv[i].Text()) {
				msg = "抱歉，這次沒有辦法整理出回答，請換個方式再問一次。"
			}
			break
		}
	}

	if err := sw.StartStep(); err != nil {
		return err
	}
	text := &textPart{sw: sw}
	if err := text.write(msg); err != nil {
		return err
	}
	if err := text.end(); err != nil {
		return err
	}
	return sw.FinishStep()
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// textPart streams one text block, opening it on the first chunk.
type textPart struct {
	sw      *StreamWriter
	id      string
	chunker Chunker
}

func (t *textPart) push(delta string) error {
	for _, c := range t.chunker.Push(delta) {
		if err := t.write(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *textPart) write(s string) error {
	if s == "" {
		return nil
	}
	if t.id == "" {
		t.id = uuid.NewString()
		if err := t.sw.TextStart(t.id); err != nil {
			return err
		}
	}
	return t.sw.TextDelta(t.id, s)
}

func (t *textPart) end() error {
	if err := t.write(t.chunker.Flush()); err != nil {
		return err
	}
	if t.id == "" {
		return nil
	}
	return t.sw.TextEnd(t.id)
}
