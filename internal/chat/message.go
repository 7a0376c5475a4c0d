// Package chat is the site's assistant: it runs a tool-calling conversation against a
// language model and streams the answer back as UI message stream events.
package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	goaway "github.com/TwiN/go-away"

	werrs "github.com/juchunko/site-worker/internal/errors"
)

// Since this is being fed to the LLM, the latest user message is kept short and clean.
const maxInputBytes = 5024

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type (
	// Message is one turn of a conversation as the model sees it.
	Message struct {
		Role  Role
		Parts []Part
	}

	// Part is exactly one of text, a tool call (assistant) or a tool result (user).
	Part struct {
		Text       string
		ToolCall   *ToolCall
		ToolResult *ToolResult
	}

	ToolCall struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	ToolResult struct {
		CallID  string
		Content string
		IsError bool
	}
)

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type (
	// Request is the body of a chat call. Messages come either in the UI shape with parts,
	// or the plain shape with a content string.
	Request struct {
		Messages []InputMessage `json:"messages"`
		Filename string         `json:"filename"`
	}

	InputMessage struct {
		ID      string          `json:"id,omitempty"`
		Role    string          `json:"role"`
		Parts   []InputPart     `json:"parts,omitempty"`
		Content json.RawMessage `json:"content,omitempty"`
	}

	InputPart struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}
)

// Text extracts the plain text of the message, ignoring anything that isn't text.
func (m InputMessage) Text() string {
	parts := m.Parts
	if len(parts) == 0 && len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return s
		}
		// Content can also be a list of parts
		_ = json.Unmarshal(m.Content, &parts)
	}

	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Page is the path of the page the user is chatting from, "/" when unknown.
func (r Request) Page() string {
	if r.Filename == "" {
		return "/"
	}
	return r.Filename
}

// Conversation keeps the user and assistant text turns, starting at the first user turn.
func (r Request) Conversation() []Message {
	var msgs []Message
	for _, m := range r.Messages {
		role := Role(m.Role)
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		if len(msgs) == 0 && role != RoleUser {
			continue
		}
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		msgs = append(msgs, Message{Role: role, Parts: []Part{{Text: text}}})
	}
	return msgs
}

func (r Request) Validate() error {
	conv := r.Conversation()
	if len(conv) == 0 {
		return werrs.E("messages are required", werrs.Reason("Invalid request"), http.StatusBadRequest)
	}

	// Only the newest user message is new input, the rest was checked on earlier turns.
	var latest string
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == RoleUser {
			latest = conv[i].Text()
			break
		}
	}
	if len(latest) > maxInputBytes {
		return werrs.E("message too long", werrs.Reason("Invalid request"), http.StatusUnprocessableEntity)
	}
	if goaway.IsProfane(latest) {
		return werrs.E("profanity detected in message", werrs.Reason("Invalid request"), http.StatusUnprocessableEntity)
	}

	return nil
}
