package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

var (
	errGeminiNoTurns   = errors.New("conversation: gemini requires at least one user or assistant message")
	errGeminiNoContent = errors.New("conversation: gemini returned no text")
)

// GeminiLLMClient is the fallback provider. It only honors req.Model when the
// name is a Gemini model, since requests are usually shaped for Bedrock.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: create gemini client: %w", err)
	}
	return &GeminiLLMClient{client: client, modelID: modelID}, nil
}

func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	history, prompt, err := geminiTurns(req.Messages)
	if err != nil {
		return LLMResponse{}, err
	}

	modelID := c.modelID
	if m := strings.TrimSpace(req.Model); strings.HasPrefix(m, "gemini") {
		modelID = m
	}
	model := c.client.GenerativeModel(modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if system := geminiSystem(req); system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini completion: %w", err)
	}
	return geminiResponse(resp)
}

func (c *GeminiLLMClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// geminiSystem folds system blocks and any system-role turns into one instruction.
func geminiSystem(req LLMRequest) string {
	parts := make([]string, 0, len(req.System))
	for _, block := range req.System {
		if block = strings.TrimSpace(block); block != "" {
			parts = append(parts, block)
		}
	}
	for _, msg := range req.Messages {
		if msg.Role == ChatRoleSystem && strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, strings.TrimSpace(msg.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

// geminiTurns splits the chat into history and the prompt to send. The prompt
// is the last non-empty user or assistant turn.
func geminiTurns(messages []ChatMessage) ([]*genai.Content, string, error) {
	var history []*genai.Content
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(content)}})
	}
	if len(history) == 0 {
		return nil, "", errGeminiNoTurns
	}
	last := history[len(history)-1]
	return history[:len(history)-1], string(last.Parts[0].(genai.Text)), nil
}

func geminiResponse(resp *genai.GenerateContentResponse) (LLMResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return LLMResponse{}, errGeminiNoContent
	}
	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out := LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		StopReason: candidate.FinishReason.String(),
	}
	if out.Text == "" {
		return LLMResponse{}, errGeminiNoContent
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.Usage = TokenUsage{
			InputTokens:  usage.PromptTokenCount,
			OutputTokens: usage.CandidatesTokenCount,
			TotalTokens:  usage.TotalTokenCount,
		}
	}
	return out, nil
}
