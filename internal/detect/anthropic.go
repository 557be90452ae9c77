package detect

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Compile-time check that AnthropicModel implements VisionModel.
var _ VisionModel = (*AnthropicModel)(nil)

// AnthropicModel queries Anthropic Claude with base64 image blocks.
type AnthropicModel struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicModel creates an Anthropic client. Extra request options, such
// as a custom base URL, are passed through.
func NewAnthropicModel(apiKey, model string, opts ...option.RequestOption) (*AnthropicModel, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeHaiku4_5
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicModel{
		client: anthropic.NewClient(opts...),
		model:  m,
	}, nil
}

// Name returns the provider and model.
func (a *AnthropicModel) Name() string {
	return "anthropic/" + string(a.model)
}

// Analyze sends the prompt followed by every frame and returns the text answer.
func (a *AnthropicModel) Analyze(ctx context.Context, prompt string, images []Image) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	blocks = append(blocks, anthropic.NewTextBlock(prompt))
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(img.Data)))
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	if message == nil || len(message.Content) == 0 {
		return "", errors.New("empty response from Anthropic")
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no text in Anthropic response")
	}
	return sb.String(), nil
}
