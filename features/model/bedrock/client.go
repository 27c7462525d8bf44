// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It splits system vs. conversational messages, encodes
// tool schemas into Bedrock's ToolConfiguration, and translates Converse
// responses (text + tool_use blocks) back into provider-agnostic model
// types.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"retrai.dev/retrai/runtime/agent/model"
	"retrai.dev/retrai/runtime/agent/tools"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass
// either the real client or a fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	highModel    string
	smallModel   string
	maxTok       int
	temp         float32
}

// New initializes a Bedrock-backed model client configured for chat
// completion requests against the Converse API.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// Complete issues a Converse request to the configured Bedrock model and
// translates the response into assistant messages and tool calls.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.Converse(ctx, c.buildConverseInput(parts, req))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(output, parts.toolNameProvToCanonical)
}

// Stream is not implemented for the Bedrock adapter: the Converse streaming
// API requires the event-stream reasoning/tool-interleaving machinery the
// retrAI runtime does not yet exercise (no goal family streams partial
// output). Callers fall back to Complete.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type requestParts struct {
	modelID                 string
	messages                []brtypes.Message
	system                  []brtypes.SystemContentBlock
	toolConfig              *brtypes.ToolConfiguration
	toolNameProvToCanonical map[string]string
}

func (c *Client) prepareRequest(req *model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}

	var cacheAfterSystem, cacheAfterTools bool
	if req.Cache != nil {
		cacheAfterSystem = req.Cache.AfterSystem
		cacheAfterTools = req.Cache.AfterTools
	}
	if cacheAfterTools && isNovaModel(modelID) {
		return nil, fmt.Errorf("bedrock: cache.AfterTools is not supported for Nova model %q", modelID)
	}

	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools, req.ToolChoice, cacheAfterTools)
	if err != nil {
		return nil, err
	}
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, errors.New("bedrock: messages contain tool_use/tool_result but no tools were provided in the request")
	}
	messages, system, err := encodeMessages(req.Messages, canonToSan, cacheAfterSystem)
	if err != nil {
		return nil, err
	}
	return &requestParts{
		modelID:                 modelID,
		messages:                messages,
		system:                  system,
		toolConfig:              toolConfig,
		toolNameProvToCanonical: sanToCanon,
	}, nil
}

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

func (c *Client) buildConverseInput(parts *requestParts, req *model.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens))
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// isRateLimited reports whether err represents a provider rate limiting
// condition: HTTP 429 responses or ThrottlingException/TooManyRequestsException
// error codes.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func encodeMessages(msgs []*model.Message, nameMap map[string]string, cacheAfterSystem bool) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: tp.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				sanitized, ok := nameMap[v.Name]
				if !ok {
					return nil, nil, fmt.Errorf("bedrock: tool_use references %q which is not in the current tool configuration", v.Name)
				}
				tb := brtypes.ToolUseBlock{Name: aws.String(sanitized), Input: toDocument(v.Input)}
				if v.ID != "" {
					tb.ToolUseId = aws.String(providerSafeID(v.ID))
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{}
				if v.ToolUseID != "" {
					tr.ToolUseId = aws.String(providerSafeID(v.ToolUseID))
				}
				if s, ok := v.Content.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: s}}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberJson{Value: toDocument(v.Content)}}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			case model.CacheCheckpointPart:
				blocks = append(blocks, &brtypes.ContentBlockMemberCachePoint{Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == model.ConversationRoleUser {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	if cacheAfterSystem && len(system) > 0 {
		system = append(system, &brtypes.SystemContentBlockMemberCachePoint{Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault}})
	}
	return conversation, system, nil
}

func encodeTools(defs []*model.ToolDefinition, choice *model.ToolChoice, cacheAfterTools bool) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		if choice == nil || choice.Mode == model.ToolChoiceModeNone {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, errors.New("bedrock: tool choice is set but no tools are defined")
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
			},
		})
	}
	if cacheAfterTools {
		toolList = append(toolList, &brtypes.ToolMemberCachePoint{Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault}})
	}

	cfg := brtypes.ToolConfiguration{Tools: toolList}
	if choice != nil {
		switch choice.Mode {
		case "", model.ToolChoiceModeAuto, model.ToolChoiceModeNone:
		case model.ToolChoiceModeAny:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
		case model.ToolChoiceModeTool:
			sanitized, ok := canonToSan[choice.Name]
			if !ok {
				return nil, nil, nil, fmt.Errorf("bedrock: tool choice name %q does not match any tool", choice.Name)
			}
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
		default:
			return nil, nil, nil, fmt.Errorf("bedrock: unsupported tool choice mode %q", choice.Mode)
		}
	}
	return &cfg, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a tool identifier to the characters Bedrock allows
// ([a-zA-Z0-9_-]+, <=64 chars). retrAI tool identifiers are already flat, so
// this only needs to replace disallowed runes and, on the rare case the name
// still exceeds the length limit, truncate with a stable hash suffix to keep
// the mapping collision-free.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	const maxLen = 64
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:8]
	prefixLen := maxLen - (1 + len(suffix))
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

// providerSafeID maps a tool-use correlation ID to Bedrock's
// [a-zA-Z0-9_-]+, <=64-char constraint using the same sanitization used for
// tool names; IDs generated by retrAI's dispatcher are already short and
// alphanumeric, so this is a defensive pass rather than the common path.
func providerSafeID(id string) string {
	return sanitizeToolName(id)
}

func toDocument(schema any) document.Interface {
	if schema == nil {
		v := map[string]any{"type": "object"}
		return document.NewLazyDocument(&v)
	}
	switch v := schema.(type) {
	case document.Interface:
		return v
	case json.RawMessage:
		var decoded any
		if len(v) == 0 {
			decoded = map[string]any{"type": "object"}
		} else if err := json.Unmarshal(v, &decoded); err != nil {
			decoded = map[string]any{"type": "object"}
		}
		return document.NewLazyDocument(&decoded)
	default:
		return document.NewLazyDocument(&v)
	}
}

func isNovaModel(modelID string) bool {
	return strings.HasPrefix(modelID, "amazon.nova-")
}

func messagesHaveToolBlocks(msgs []*model.Message) bool {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolUsePart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (*model.Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	resp := &model.Response{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					resp.Content = append(resp.Content, model.Message{
						Role:  model.ConversationRoleAssistant,
						Parts: []model.Part{model.TextPart{Text: v.Value}},
					})
				}
			case *brtypes.ContentBlockMemberToolUse:
				payload := decodeDocument(v.Value.Input)
				name := ""
				if v.Value.Name != nil {
					canonical, ok := nameMap[*v.Value.Name]
					if !ok {
						return nil, fmt.Errorf("bedrock: tool name %q not in reverse map; expected canonical tool identifier", *v.Value.Name)
					}
					name = canonical
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
					Name:    tools.Ident(name),
					Payload: payload,
					ID:      id,
				})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:      int(ptrValue(usage.InputTokens)),
			OutputTokens:     int(ptrValue(usage.OutputTokens)),
			TotalTokens:      int(ptrValue(usage.TotalTokens)),
			CacheReadTokens:  int(ptrValue(usage.CacheReadInputTokens)),
			CacheWriteTokens: int(ptrValue(usage.CacheWriteInputTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(data)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
