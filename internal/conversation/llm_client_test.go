package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrockLLMClientComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "  We open at 8am.  "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(17)},
	}}
	client := NewBedrockLLMClient(api, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System: []string{"be brief"},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "hi"},
			{Role: ChatRoleAssistant, Content: "hello"},
			{Role: ChatRoleSystem, Content: "clinic info"},
			{Role: ChatRoleUser, Content: "when do you open?"},
		},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "We open at 8am.", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(17), resp.Usage.TotalTokens)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 2)
	assert.Len(t, api.input.Messages, 3)
	assert.Equal(t, int32(100), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockLLMClientErrors(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverse{}, "")
	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	assert.Error(t, err, "model id required")

	client = NewBedrockLLMClient(&fakeConverse{err: errors.New("throttled")}, "m")
	_, err = client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	assert.ErrorContains(t, err, "throttled")

	client = NewBedrockLLMClient(&fakeConverse{}, "m")
	_, err = client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}})
	assert.ErrorContains(t, err, "unsupported role")
}

type scriptedLLM struct {
	text  string
	err   error
	calls int
}

func (s *scriptedLLM) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	s.calls++
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

func TestFallbackLLMClient(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &scriptedLLM{text: "primary"}
		fallback := &scriptedLLM{text: "fallback"}
		resp, err := NewFallbackLLMClient(primary, fallback, nil).Complete(context.Background(), LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, "primary", resp.Text)
		assert.Zero(t, fallback.calls)
	})

	t.Run("fallback used on primary failure", func(t *testing.T) {
		primary := &scriptedLLM{err: errors.New("bedrock down")}
		fallback := &scriptedLLM{text: "fallback"}
		resp, err := NewFallbackLLMClient(primary, fallback, nil).Complete(context.Background(), LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, "fallback", resp.Text)
	})

	t.Run("both fail", func(t *testing.T) {
		primary := &scriptedLLM{err: errors.New("bedrock down")}
		fallback := &scriptedLLM{err: errors.New("gemini down")}
		_, err := NewFallbackLLMClient(primary, fallback, nil).Complete(context.Background(), LLMRequest{})
		assert.ErrorContains(t, err, "gemini down")
	})

	t.Run("no fallback", func(t *testing.T) {
		primary := &scriptedLLM{err: errors.New("bedrock down")}
		_, err := NewFallbackLLMClient(primary, nil, nil).Complete(context.Background(), LLMRequest{})
		assert.ErrorContains(t, err, "bedrock down")
	})
}
