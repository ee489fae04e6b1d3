// Package openai provides a model.Client backed by the OpenAI Chat
// Completions API using github.com/sashabaranov/go-openai. The same adapter
// serves OpenRouter, which speaks the OpenAI wire protocol behind a
// different base URL.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentd/runtime/model"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client ChatClient
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat ChatClient
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	return &Client{chat: opts.Client}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey)})
}

// NewOpenRouter constructs a client pointed at the OpenRouter endpoint.
func NewOpenRouter(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = OpenRouterBaseURL
	return New(Options{Client: openai.NewClientWithConfig(cfg)})
}

// Complete renders a chat completion using the configured client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if req.Model == "" {
		return model.Response{}, errors.New("openai: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if req.Seed != nil {
		seed := int(*req.Seed)
		request.Seed = &seed
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(response), nil
}

// Stream reports that Chat Completions streaming is not supported by this
// adapter. Callers fall back to Complete.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func translateResponse(resp openai.ChatCompletionResponse) model.Response {
	var out model.Response
	for _, choice := range resp.Choices {
		out.Text += choice.Message.Content
	}
	if len(resp.Choices) > 0 {
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	out.Usage = model.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out
}
