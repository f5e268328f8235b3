package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/adapters/llm"
)

type API struct {
	client       *openai.Client
	systemPrompt string
	model        string
	parameters   *llm.GenerationParameters
	logger       *log.Entry
}

const DefaultModel = "gpt-4o-mini"

// NewOpenAI talks to any OpenAI compatible chat completion endpoint.
func NewOpenAI(apiKey, model, baseURL string, logger *log.Entry) *API {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	api := &API{
		client: openai.NewClientWithConfig(config),
		logger: logger,
	}
	return api.WithModel(model).WithParameters(nil)
}

func (o *API) WithModel(modelName string) *API {
	if modelName == "" || modelName[0] == '@' {
		modelName = DefaultModel
	}
	o.model = modelName
	return o
}

func (o *API) WithParameters(parameters *llm.GenerationParameters) *API {
	if parameters == nil {
		parameters = &llm.GenerationParameters{
			Temperature:     0.2,
			TopP:            0.9,
			MaxOutputTokens: 512,
		}
	}
	o.parameters = parameters
	return o
}

func (o *API) WithSystemPrompt(prompt string) *API {
	o.systemPrompt = prompt
	return o
}

func (o *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	openaiMessages := buildMessages(o.systemPrompt, messages)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    openaiMessages,
		Temperature: o.parameters.Temperature,
		TopP:        o.parameters.TopP,
		MaxTokens:   o.parameters.MaxOutputTokens,
	})
	if err != nil {
		return llm.ChatCompletionResponse{}, err
	}
	if len(resp.Choices) == 0 {
		o.logger.WithField("model", o.model).Debug("empty completion")
		return llm.ChatCompletionResponse{}, nil
	}
	return llm.Single(resp.Choices[0].Message.Content), nil
}

// buildMessages puts the system prompt first; a system message in the input
// overrides the configured one.
func buildMessages(systemPrompt string, messages []llm.ChatCompletionMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			systemPrompt = msg.Content
			continue
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	if systemPrompt != "" {
		result = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		}}, result...)
	}
	return result
}
