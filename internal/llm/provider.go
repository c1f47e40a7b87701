// Package llm builds the eino chat models used by the reference backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"nebula-chat/internal/config"
	"nebula-chat/pkg/logger"
)

var ErrUnsupportedProvider = errors.New("unsupported model provider")

// NewChatModel creates the model for cfg.Model.Provider and binds tools to it.
func NewChatModel(ctx context.Context, cfg *config.Config, tools []tool.BaseTool) (einoModel.ChatModel, error) {
	var (
		chatModel einoModel.ChatModel
		err       error
	)

	switch cfg.Model.Provider {
	case "doubao":
		chatModel, err = newDoubaoModel(ctx, cfg.Doubao)
	case "openai":
		chatModel, err = newOpenAIChatModel(cfg.OpenAI)
	case "qwen":
		chatModel, err = newQwenModel(ctx, cfg.Qwen)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Model.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Model.Provider, err)
	}

	if err := bindTools(ctx, chatModel, tools); err != nil {
		return nil, err
	}
	return chatModel, nil
}

func newDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.ChatModel, error) {
	logger.Infof("using doubao model %s (key %s)", cfg.Model, maskKey(cfg.APIKey))

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	})
}

func newQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.ChatModel, error) {
	logger.Infof("using qwen model %s at %s (key %s)", cfg.Model, cfg.BaseURL, maskKey(cfg.APIKey))

	httpClient := &http.Client{
		Transport: NewDebugTransport(nil, cfg.DebugRequest),
		Timeout:   cfg.Timeout,
	}

	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		TopP:        &cfg.TopP,
		Timeout:     cfg.Timeout,
		HTTPClient:  httpClient,
	})
}

func bindTools(ctx context.Context, chatModel einoModel.ChatModel, tools []tool.BaseTool) error {
	if len(tools) == 0 {
		return nil
	}

	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}

	if err := chatModel.BindTools(infos); err != nil {
		return fmt.Errorf("bind tools: %w", err)
	}
	logger.Debugf("bound %d tools", len(infos))
	return nil
}

// maskKey keeps just enough of a key to tell two apart in logs.
func maskKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "..."
}
