package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAIAdapter covers the OpenAI-compatible family through the official
// client pointed at the configured base URL.
type openAIAdapter struct {
	cfg    Config
	client openai.Client
}

func newOpenAIAdapter(cfg Config) *openAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		opts = append(opts, option.WithBaseURL(url))
	}

	return &openAIAdapter{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

func (o *openAIAdapter) Stream(
	ctx context.Context,
	req ChatRequest,
	emit func(delta string) error,
) error {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	defer func() {
		_ = stream.Close()
	}()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}

		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := emit(delta); err != nil {
				return err
			}
		}
	}

	return normalizeOpenAIErr(stream.Err())
}

func (o *openAIAdapter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return "", normalizeOpenAIErr(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

func (o *openAIAdapter) params(req ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	return params
}

func normalizeOpenAIErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.New(apiErr.Message)
	}

	return err
}
