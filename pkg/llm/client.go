// Package llm wraps the OpenAI-compatible chat completions API behind a
// small interface the agent loop and memory summarizer consume. Streaming
// responses are collected into a complete ChatResponse while forwarding
// content deltas to the caller's token callback.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// ToolDefinition describes one callable tool for the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is one chat completion request. Tools may be empty for plain
// completions (plan generation, summarization, reply rewrites).
type ChatRequest struct {
	Messages    []models.Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
	// OnToken receives each assistant content delta during streaming.
	// Optional; ignored by Complete.
	OnToken func(delta string)
}

// Usage is the provider-reported token usage for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the collected result of one streaming chat completion.
type ChatResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     *Usage
}

// Client is the chat-completions surface the core consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	// StreamChat sends a streaming completion with tool_choice=auto and
	// collects deltas until the stream terminates.
	StreamChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Complete sends a non-streaming completion and returns the text.
	Complete(ctx context.Context, req ChatRequest) (string, error)
	// Model returns the configured model identifier.
	Model() string
}

// OpenAIClient implements Client over github.com/sashabaranov/go-openai.
type OpenAIClient struct {
	api   *openai.Client
	model string
}

// Options configures NewOpenAIClient.
type Options struct {
	APIKey  string
	BaseURL string // optional OpenAI-compatible endpoint
	Model   string
}

// NewOpenAIClient builds the production client. The API key is required.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg), model: opts.Model}, nil
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// StreamChat performs a streaming chat completion, forwarding content
// deltas to req.OnToken and accumulating tool-call fragments by index.
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	creq := c.buildRequest(req)
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	acc := newToolCallAccumulator()
	resp := &ChatResponse{}
	var content []byte

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, fmt.Errorf("chat completion stream: %w", recvErr)
		}
		if chunk.Usage != nil {
			resp.Usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content = append(content, delta.Content...)
			if req.OnToken != nil {
				req.OnToken(delta.Content)
			}
		}
		acc.add(delta.ToolCalls)
	}

	resp.Content = string(content)
	resp.ToolCalls = acc.freeze()
	return resp, nil
}

// Complete performs a non-streaming completion and returns the message text.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	creq := c.buildRequest(req)
	resp, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) buildRequest(req ChatRequest) openai.ChatCompletionRequest {
	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    encodeMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		creq.Tools = encodeTools(req.Tools)
		creq.ToolChoice = "auto"
	}
	return creq
}

func encodeMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) > 0 {
			cm.Content = ""
			for _, p := range m.Parts {
				switch p.Type {
				case "image_url":
					cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
					})
				default:
					cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func encodeTools(defs []ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		var params any
		if len(def.Parameters) > 0 {
			// Schemas are validated at registry construction; a marshal
			// round-trip here would only re-encode the same bytes.
			params = json.RawMessage(def.Parameters)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// toolCallAccumulator merges streamed tool-call fragments. Fragments arrive
// keyed by index; id and name appear on the first fragment, argument JSON is
// concatenated across fragments in arrival order.
type toolCallAccumulator struct {
	byIndex map[int]*models.ToolCall
	next    int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*models.ToolCall)}
}

func (a *toolCallAccumulator) add(fragments []openai.ToolCall) {
	for _, f := range fragments {
		idx := a.next
		if f.Index != nil {
			idx = *f.Index
		}
		tc, ok := a.byIndex[idx]
		if !ok {
			tc = &models.ToolCall{}
			a.byIndex[idx] = tc
			a.next = idx + 1
		}
		if f.ID != "" {
			tc.ID = f.ID
		}
		if f.Function.Name != "" {
			tc.Name = f.Function.Name
		}
		tc.Arguments += f.Function.Arguments
	}
}

// freeze returns the completed calls in index order.
func (a *toolCallAccumulator) freeze() []models.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]models.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.byIndex[i])
	}
	return out
}
