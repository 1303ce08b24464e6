// Package llm abstracts chat-completion providers with tool calling.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/alphy/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// Message is one turn of a chat conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDef declares a callable tool to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response is the model's reply plus usage accounting.
type Response struct {
	Message      Message
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Model        string
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (Response, error)
}

// SystemMessage is a convenience constructor.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage is a convenience constructor.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolMessage builds a tool-result turn linked to a requested call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// Args decodes the call's JSON arguments into a generic map.
func (tc ToolCall) Args() (map[string]any, error) {
	args := map[string]any{}
	if tc.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments for tool %s: %w", tc.Name, err)
	}
	return args, nil
}

// NewProvider creates a provider from config. Only one provider type is wired today.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai", "":
			return NewOpenAIProvider(pc), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type '%s' (provider %s)", pc.Type, name)
		}
	}
	return nil, fmt.Errorf("no LLM provider configured")
}
