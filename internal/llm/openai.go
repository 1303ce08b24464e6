package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/alphy/config"
)

// OpenAIProvider talks to the OpenAI chat completions API (or any
// compatible endpoint via base_url).
type OpenAIProvider struct {
	client     *openai.Client
	models     map[string]config.LLMModel
	maxRetries int
	timeout    time.Duration
}

// NewOpenAIProvider builds a provider from a single provider config block.
func NewOpenAIProvider(pc config.LLMProvider) *OpenAIProvider {
	cc := openai.DefaultConfig(pc.APIKey)
	if pc.BaseURL != "" {
		cc.BaseURL = pc.BaseURL
	}
	retries := pc.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	timeout := pc.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cc),
		models:     pc.Models,
		maxRetries: retries,
		timeout:    timeout,
	}
}

// Chat sends a conversation and returns the model's reply.
// Retries transient failures with a small backoff.
func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (Response, error) {
	mc, apiName := p.resolveModel(model)

	req := openai.ChatCompletionRequest{
		Model:    apiName,
		Messages: toOpenAIMessages(messages),
	}
	if mc.MaxTokens > 0 {
		req.MaxTokens = mc.MaxTokens
	}
	if mc.Temperature > 0 {
		req.Temperature = float32(mc.Temperature)
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err = p.client.CreateChatCompletion(cctx, req)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	if err != nil {
		return Response{}, fmt.Errorf("chat completion (%s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion (%s): empty choices", model)
	}

	msg := fromOpenAIMessage(resp.Choices[0].Message)
	out := Response{
		Message:      msg,
		Text:         msg.Content,
		ToolCalls:    msg.ToolCalls,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		Model:        model,
	}
	out.Cost = mc.CostPer1K*float64(out.InputTokens)/1000 +
		mc.CostPer1KOutput*float64(out.OutputTokens)/1000
	return out, nil
}

func (p *OpenAIProvider) resolveModel(model string) (config.LLMModel, string) {
	for _, mc := range p.models {
		if mc.Name == model {
			if mc.APIName != "" {
				return mc, mc.APIName
			}
			return mc, mc.Name
		}
	}
	return config.LLMModel{}, model
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIMessage(om openai.ChatCompletionMessage) Message {
	m := Message{Role: om.Role, Content: om.Content}
	for _, tc := range om.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return m
}
