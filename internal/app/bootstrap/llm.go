package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const (
	llmProviderAuto    = "auto"
	llmProviderBedrock = "bedrock"
	llmProviderGemini  = "gemini"
)

// ErrNoLLMProvider is returned in production when neither Bedrock nor Gemini is configured.
var ErrNoLLMProvider = errors.New("bootstrap: no llm provider configured")

// BuildLLMClient picks Bedrock or Gemini per LLM_PROVIDER. In auto mode Bedrock is
// primary and Gemini, when keyed, becomes the fallback. Outside production a canned
// client stands in so the stack runs without provider credentials.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var bedrock, gemini conversation.LLMClient
	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" && cfg.LLMProvider != llmProviderGemini {
		bedrock = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), model)
	}
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" && cfg.LLMProvider != llmProviderBedrock {
		client, err := conversation.NewGeminiLLMClient(ctx, key, cfg.GeminiModelID)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		gemini = client
	}

	switch {
	case bedrock != nil && gemini != nil:
		logger.Info("llm configured", "primary", llmProviderBedrock, "fallback", llmProviderGemini)
		return conversation.NewFallbackLLMClient(bedrock, gemini, logger), llmProviderBedrock, nil
	case bedrock != nil:
		return conversation.NewFallbackLLMClient(bedrock, nil, logger), llmProviderBedrock, nil
	case gemini != nil:
		return conversation.NewFallbackLLMClient(gemini, nil, logger), llmProviderGemini, nil
	}

	if cfg.IsProduction() {
		return nil, "", ErrNoLLMProvider
	}
	logger.Warn("no llm provider configured; using canned replies", "provider", cfg.LLMProvider)
	return cannedLLM{}, "canned", nil
}

// cannedLLM answers every prompt with the same short text.
type cannedLLM struct{}

const cannedReply = "Sorry we missed your call! How can we help you today?"

func (cannedLLM) Complete(context.Context, conversation.LLMRequest) (conversation.LLMResponse, error) {
	return conversation.LLMResponse{Text: cannedReply, StopReason: "canned"}, nil
}
