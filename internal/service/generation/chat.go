package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChatBackend runs the rewrite prompt through an eino chat model, for
// deployments without a local seq2seq server.
type ChatBackend struct {
	name  string
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewChatBackend compiles a chain of prompt template and chat model.
func NewChatBackend(ctx context.Context, name string, chatModel model.BaseChatModel) (*ChatBackend, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChatBackend{name: name, chain: runnable}, nil
}

// Name returns the backend name.
func (b *ChatBackend) Name() string {
	return b.name
}

// Generate maps MaxLength and Temperature onto the chat model options. Beam
// settings have no chat-model equivalent and are ignored.
func (b *ChatBackend) Generate(ctx context.Context, input string, params Params) (string, error) {
	opts := []model.Option{model.WithTemperature(float32(params.Temperature))}
	if params.MaxLength > 0 {
		opts = append(opts, model.WithMaxTokens(params.MaxLength))
	}

	msg, err := b.chain.Invoke(ctx, map[string]any{"prompt": input}, compose.WithChatModelOption(opts...))
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	if msg == nil {
		return "", ErrEmptyOutput
	}
	return strings.TrimSpace(msg.Content), nil
}

// Close is a no-op.
func (b *ChatBackend) Close() error {
	return nil
}
