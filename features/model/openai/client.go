// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates retrAI requests into ChatCompletion
// calls using github.com/openai/openai-go and maps responses back to the
// provider-agnostic model types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/tools"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, matching the Chat.Completions service so callers can pass either
// the real client or a fake in tests.
type ChatClient interface {
	New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
	maxTok int
	temp  float64
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client
// configured with the given API key.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &sc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if temp := c.effectiveTemperature(req.Temperature); temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if tokens := c.effectiveMaxTokens(req.MaxTokens); tokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(tokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: chat completions: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that OpenAI Chat Completions streaming is not yet supported
// by this adapter. Callers fall back to Complete.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return strings.Contains(err.Error(), "429")
}

// encodeMessages flattens each message's text parts into a single content
// string per role, matching the provider's flat role+content shape, and
// emits a dedicated tool message for each ToolResultPart so tool output
// round-trips through history.
func encodeMessages(msgs []*model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		var text strings.Builder
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				text.WriteString(v.Text)
			case model.ToolResultPart:
				out = append(out, sdk.ToolMessage(encodeToolResultContent(v.Content), v.ToolUseID))
			}
		}
		if text.Len() == 0 {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			out = append(out, sdk.SystemMessage(text.String()))
		case model.ConversationRoleUser:
			out = append(out, sdk.UserMessage(text.String()))
		case model.ConversationRoleAssistant:
			out = append(out, sdk.AssistantMessage(text.String()))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message with content is required")
	}
	return out, nil
}

func encodeToolResultContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		params, err := encodeToolSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: encode schema for tool %q: %w", def.Name, err)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func encodeToolSchema(schema any) (sdk.FunctionParameters, error) {
	if schema == nil {
		return sdk.FunctionParameters{"type": "object"}, nil
	}
	switch v := schema.(type) {
	case map[string]any:
		return sdk.FunctionParameters(v), nil
	case json.RawMessage:
		var decoded map[string]any
		if len(v) == 0 {
			return sdk.FunctionParameters{"type": "object"}, nil
		}
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, err
		}
		return sdk.FunctionParameters(decoded), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return sdk.FunctionParameters(decoded), nil
	}
}

func translateResponse(resp *sdk.ChatCompletion) *model.Response {
	out := &model.Response{}
	for _, choice := range resp.Choices {
		if strings.TrimSpace(choice.Message.Content) != "" {
			out.Content = append(out.Content, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: choice.Message.Content}},
			})
		}
		for _, call := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    tools.Ident(call.Function.Name),
				Payload: parseToolArguments(call.Function.Arguments),
				ID:      call.ID,
			})
		}
	}
	if len(resp.Choices) > 0 {
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}

func parseToolArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
