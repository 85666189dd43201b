package qa

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.QAClient = (*OpenAIClient)(nil)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `你是一位经验丰富的中医养生顾问，面向老年用户。
用简洁、口语化的中文回答，适合直接朗读。
根据用户描述给出中医角度的调理建议（饮食、作息、穴位、药膳），
不做确诊，症状严重时提醒及时就医。不要使用Markdown格式。`

// OpenAIOption configures the OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the chat model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) { c.model = model }
}

// OpenAIClient answers questions with an OpenAI-compatible chat model. It
// speaks the same QARequest/QAResponse contract as the HTTP service so the
// rest of the app does not care which backend is in use.
type OpenAIClient struct {
	client openai.Client
	model  string
	log    *logger.Logger
}

// NewOpenAIClient creates a chat-model backend. baseURL may be empty for the
// public API.
func NewOpenAIClient(apiKey, baseURL string, log *logger.Logger, opts ...OpenAIOption) *OpenAIClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	c := &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		model:  DefaultModel,
		log:    log.Named("openai"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ask sends the history and the query as a chat completion.
func (c *OpenAIClient) Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: buildMessages(req),
		Model:    openai.ChatModel(c.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return &domain.QAResponse{Code: 500, Msg: "empty response (no choices)"}, nil
	}

	answer := resp.Choices[0].Message.Content
	c.log.Debug("reply (%d runes)", len([]rune(answer)))
	return &domain.QAResponse{Code: 200, Msg: "success", Data: &domain.QAData{Answer: answer}}, nil
}

func buildMessages(req domain.QARequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	msgs = append(msgs, openai.SystemMessage(systemPrompt))
	for _, turn := range req.History {
		switch turn.Role {
		case domain.RoleUser:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		}
	}
	return append(msgs, openai.UserMessage(req.Query))
}
