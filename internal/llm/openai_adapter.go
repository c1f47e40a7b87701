package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"nebula-chat/internal/config"
	"nebula-chat/pkg/logger"
)

var ErrEmptyResponse = errors.New("no choices in model response")

// openaiChatModel adapts go-openai to the eino ChatModel interface.
type openaiChatModel struct {
	client *openai.Client
	model  string
	tools  []openai.Tool
}

func newOpenAIChatModel(cfg config.OpenAIConfig) (*openaiChatModel, error) {
	logger.Infof("using openai model %s", cfg.Model)

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openaiChatModel{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (m *openaiChatModel) request(messages []*schema.Message, opts []einoModel.Option) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertMessages(messages),
		Tools:    m.tools,
	}

	common := einoModel.GetCommonOptions(nil, opts...)
	if common.Model != nil {
		req.Model = *common.Model
	}
	if common.Temperature != nil {
		req.Temperature = *common.Temperature
	}
	if common.MaxTokens != nil {
		req.MaxTokens = *common.MaxTokens
	}
	if len(common.Tools) > 0 {
		tools, err := convertTools(common.Tools)
		if err != nil {
			return req, err
		}
		req.Tools = tools
	}
	return req, nil
}

func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	out := resp.Choices[0].Message
	return &schema.Message{
		Role:      schema.Assistant,
		Content:   out.Content,
		ToolCalls: toSchemaToolCalls(out.ToolCalls),
	}, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			if delta.Content == "" && len(delta.ToolCalls) == 0 {
				continue
			}
			closed := writer.Send(&schema.Message{
				Role:      schema.Assistant,
				Content:   delta.Content,
				ToolCalls: toSchemaToolCalls(delta.ToolCalls),
			}, nil)
			if closed {
				return
			}
		}
	}()

	return reader, nil
}

func (m *openaiChatModel) BindTools(tools []*schema.ToolInfo) error {
	converted, err := convertTools(tools)
	if err != nil {
		return err
	}
	m.tools = converted
	return nil
}

func convertTools(infos []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(infos))
	for _, info := range infos {
		def := &openai.FunctionDefinition{
			Name:        info.Name,
			Description: info.Desc,
		}
		if info.ParamsOneOf != nil {
			params, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("tool %s parameters: %w", info.Name, err)
			}
			def.Parameters = params
		}
		out = append(out, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}
	return out, nil
}

func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case schema.System:
			role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.Tool:
			role = openai.ChatMessageRoleTool
		default:
			role = openai.ChatMessageRoleUser
		}

		// empty assistant turns are rejected by the API
		if role == openai.ChatMessageRoleAssistant && msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}

		out = append(out, openai.ChatCompletionMessage{
			Role:       role,
			Content:    msg.Content,
			ToolCalls:  toOpenAIToolCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
		})
	}
	return out
}

func toSchemaToolCalls(calls []openai.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = schema.ToolCall{
			Index: c.Index,
			ID:    c.ID,
			Type:  string(c.Type),
			Function: schema.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		}
	}
	return out
}

func toOpenAIToolCalls(calls []schema.ToolCall) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		}
	}
	return out
}
