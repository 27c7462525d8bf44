// Package anthropic provides a model.Client implementation backed by the
// Anthropic Messages API. It translates retrAI requests into
// anthropic-sdk-go calls and maps responses back to the provider-agnostic
// model types.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/tools"
)

func toolIdent(name string) tools.Ident { return tools.Ident(name) }

// MessagesClient captures the subset of the anthropic-sdk-go client used by
// the adapter, matching *sdk.MessageService so callers can pass either the
// real client or a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) *sdk.MessageStream
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is used when a request does not specify Model or ModelClass.
	DefaultModel string

	// HighModel is used for model.ModelClassHighReasoning requests.
	HighModel string

	// SmallModel is used for model.ModelClassSmall requests.
	SmallModel string

	// MaxTokens caps completion length when a request does not set MaxTokens.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float64

	// ThinkingBudget caps thinking tokens when a request enables thinking
	// without specifying its own budget.
	ThinkingBudget int64
}

// Client implements model.Client on top of the Anthropic Messages API.
type Client struct {
	msg          MessagesClient
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float64
	think        int64
}

// New builds an Anthropic-backed model client from the provided message
// service and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: message client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey constructs a client using the default anthropic-sdk-go HTTP
// client configured with the given API key.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages API call and translates the
// response into a model.Response.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

// Stream issues a streaming Messages API call and adapts incremental events
// into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if stream == nil {
		return nil, errors.New("anthropic: nil stream returned")
	}
	return newAnthropicStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req *model.Request) (sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, nil, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return sdk.MessageNewParams{}, nil, errors.New("anthropic: model identifier is required")
	}

	canonToSan, sanToCanon, tools, err := encodeTools(req.Tools)
	if err != nil {
		return sdk.MessageNewParams{}, nil, err
	}
	system, messages, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return sdk.MessageNewParams{}, nil, err
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(modelID),
		MaxTokens:   int64(c.effectiveMaxTokens(req.MaxTokens)),
		Messages:    messages,
		Temperature: sdk.Float(c.effectiveTemperature(req.Temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, sanToCanon)
		if err != nil {
			return sdk.MessageNewParams{}, nil, err
		}
		params.ToolChoice = tc
	}
	if req.Thinking != nil && req.Thinking.Enable {
		budget := int64(req.Thinking.BudgetTokens)
		if budget <= 0 {
			budget = c.think
		}
		if budget < 1024 {
			budget = 1024
		}
		if budget >= params.MaxTokens {
			return sdk.MessageNewParams{}, nil, errors.New("anthropic: thinking budget must be less than max tokens")
		}
		params.Thinking = sdk.ThinkingConfigParamUnion{
			OfEnabled: &sdk.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}
	return params, sanToCanon, nil
}

// resolveModelID decides which concrete model ID to use based on
// Request.Model and Request.ModelClass. Request.Model takes precedence.
func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.maxTok > 0 {
		return c.maxTok
	}
	return 4096
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

// isRateLimited reports whether err represents a provider rate limiting
// condition (HTTP 429).
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

func encodeMessages(msgs []*model.Message, nameMap map[string]string) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	var system []sdk.TextBlockParam
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: tp.Text})
				}
			}
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				sanitized, ok := nameMap[v.Name]
				if !ok {
					return nil, nil, fmt.Errorf("anthropic: tool_use references %q which is not in the current tool configuration", v.Name)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, sanitized))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, encodeToolResult(v.Content), v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == model.ConversationRoleUser {
			out = append(out, sdk.NewUserMessage(blocks...))
		} else {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return system, out, nil
}

func encodeToolResult(content any) string {
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

func encodeTools(defs []*model.ToolDefinition) (canonToSan, sanToCanon map[string]string, out []sdk.ToolUnionParam, err error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	canonToSan = make(map[string]string, len(defs))
	sanToCanon = make(map[string]string, len(defs))
	out = make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name
		schema := toolInputSchema(def.InputSchema)
		out = append(out, sdk.ToolUnionParamOfTool(schema, sanitized))
	}
	return canonToSan, sanToCanon, out, nil
}

func toolInputSchema(schema any) sdk.ToolInputSchemaParam {
	fields := map[string]any{"type": "object"}
	switch v := schema.(type) {
	case nil:
	case json.RawMessage:
		if len(v) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(v, &decoded); err == nil {
				fields = decoded
			}
		}
	case map[string]any:
		fields = v
	default:
		raw, err := json.Marshal(v)
		if err == nil {
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err == nil {
				fields = decoded
			}
		}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: fields}
}

func encodeToolChoice(choice *model.ToolChoice, sanToCanon map[string]string) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case model.ToolChoiceModeNone:
		return sdk.ToolChoiceUnionParam{OfNone: &sdk.ToolChoiceNoneParam{}}, nil
	case model.ToolChoiceModeAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice mode \"tool\" requires a tool name")
		}
		for sanitized, canonical := range sanToCanon {
			if canonical == choice.Name {
				return sdk.ToolChoiceParamOfTool(sanitized), nil
			}
		}
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

var disallowedToolNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeToolName maps a tool identifier to characters allowed by the
// Anthropic API constraint [a-zA-Z0-9_-]+ by replacing any disallowed rune
// with '_'. Unlike richer runtimes that namespace tools as "toolset.tool",
// retrAI tool identifiers (tools.Ident) are already flat, so no
// dot-splitting or prefix-stripping is required here.
func sanitizeToolName(in string) string {
	return disallowedToolNameChars.ReplaceAllString(in, "_")
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*model.Response, error) {
	resp := &model.Response{}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			if variant.Text != "" {
				resp.Content = append(resp.Content, model.Message{
					Role:  model.ConversationRoleAssistant,
					Parts: []model.Part{model.TextPart{Text: variant.Text}},
				})
			}
		case sdk.ToolUseBlock:
			name := variant.Name
			if canonical, ok := nameMap[variant.Name]; ok {
				name = canonical
			}
			payload, err := json.Marshal(variant.Input)
			if err != nil {
				payload = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				Name:    toolIdent(name),
				Payload: payload,
				ID:      variant.ID,
			})
		}
	}
	resp.Usage = model.TokenUsage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp, nil
}
