package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"retrai.dev/retrai/runtime/agent/model"
)

type fakeRuntimeClient struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeRuntimeClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&fakeRuntimeClient{}, Options{})
	require.Error(t, err)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	c, err := New(&fakeRuntimeClient{}, Options{DefaultModel: "anthropic.claude-3-5-sonnet"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestStreamReturnsUnsupportedError(t *testing.T) {
	c, err := New(&fakeRuntimeClient{}, Options{DefaultModel: "anthropic.claude-3-5-sonnet"})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), &model.Request{})
	require.ErrorIs(t, err, model.ErrStreamingUnsupported)
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeRuntimeClient{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "hello"},
					},
				},
			},
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(8),
				OutputTokens: aws.Int32(4),
				TotalTokens:  aws.Int32(12),
			},
			StopReason: brtypes.StopReasonEndTurn,
		},
	}
	c, err := New(fake, Options{DefaultModel: "anthropic.claude-3-5-sonnet"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestCacheAfterToolsRejectedForNovaModel(t *testing.T) {
	c, err := New(&fakeRuntimeClient{}, Options{DefaultModel: "amazon.nova-pro-v1:0"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
		Cache: &model.CacheOptions{AfterTools: true},
	})
	require.Error(t, err)
}

func TestSanitizeToolNameReplacesDisallowedCharacters(t *testing.T) {
	require.Equal(t, "file_read", sanitizeToolName("file_read"))
	require.Equal(t, "weird_tool_name", sanitizeToolName("weird.tool name"))
}
