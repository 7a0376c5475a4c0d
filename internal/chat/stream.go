package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StreamWriter emits UI message stream events as server-sent events.
type StreamWriter struct {
	w     io.Writer
	flush func()
}

// NewStreamWriter sets the event stream headers on w. Nothing is written until the first event.
func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("x-vercel-ai-ui-message-stream", "v1")

	rc := http.NewResponseController(w)
	return &StreamWriter{
		w:     w,
		flush: func() { _ = rc.Flush() },
	}
}

type event struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId,omitempty"`
	ID         string `json:"id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Input      any    `json:"input,omitempty"`
	Output     any    `json:"output,omitempty"`
	ErrorText  string `json:"errorText,omitempty"`
}

func (s *StreamWriter) send(e event) error {
	byts, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("error encoding stream event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", byts); err != nil {
		return fmt.Errorf("error writing stream event: %w", err)
	}
	s.flush()
	return nil
}

func (s *StreamWriter) Start(messageID string) error {
	return s.send(event{Type: "start", MessageID: messageID})
}

func (s *StreamWriter) StartStep() error  { return s.send(event{Type: "start-step"}) }
func (s *StreamWriter) FinishStep() error { return s.send(event{Type: "finish-step"}) }
func (s *StreamWriter) Finish() error     { return s.send(event{Type: "finish"}) }

func (s *StreamWriter) TextStart(id string) error {
	return s.send(event{Type: "text-start", ID: id})
}

func (s *StreamWriter) TextDelta(id, delta string) error {
	return s.send(event{Type: "text-delta", ID: id, Delta: delta})
}

func (s *StreamWriter) TextEnd(id string) error {
	return s.send(event{Type: "text-end", ID: id})
}

// ToolInput announces a tool call. Input is the raw JSON the model produced.
func (s *StreamWriter) ToolInput(call ToolCall) error {
	input := json.RawMessage(call.Input)
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return s.send(event{Type: "tool-input-available", ToolCallID: call.ID, ToolName: call.Name, Input: input})
}

// ToolOutput reports a tool's result, or its failure when the result is an error.
func (s *StreamWriter) ToolOutput(res ToolResult) error {
	if res.IsError {
		return s.send(event{Type: "tool-output-error", ToolCallID: res.CallID, ErrorText: res.Content})
	}
	return s.send(event{Type: "tool-output-available", ToolCallID: res.CallID, Output: res.Content})
}

func (s *StreamWriter) Error(text string) error {
	return s.send(event{Type: "error", ErrorText: text})
}

// Done terminates the stream.
func (s *StreamWriter) Done() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("error writing stream end: %w", err)
	}
	s.flush()
	return nil
}
