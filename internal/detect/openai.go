package detect

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = "gpt-5-mini"

// Compile-time check that OpenAIModel implements VisionModel.
var _ VisionModel = (*OpenAIModel)(nil)

// OpenAIModel queries OpenAI chat completions with data URL images.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel creates an OpenAI client. Extra request options, such as a
// custom base URL, are passed through.
func NewOpenAIModel(apiKey, model string, opts ...option.RequestOption) (*OpenAIModel, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name returns the provider and model.
func (o *OpenAIModel) Name() string {
	return "openai/" + o.model
}

// Analyze sends the prompt followed by every frame and returns the text answer.
func (o *OpenAIModel) Analyze(ctx context.Context, prompt string, images []Image) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	parts = append(parts, openai.TextContentPart(prompt))
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.Data),
		}))
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Model: o.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", errors.New("empty response from OpenAI")
	}
	text := completion.Choices[0].Message.Content
	if text == "" {
		return "", errors.New("no text in OpenAI response")
	}
	return text, nil
}
