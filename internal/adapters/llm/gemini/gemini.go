package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/iamwavecut/antispambot/internal/adapters/llm"
)

// API builds a fresh GenerativeModel per request since the model carries
// the system instruction and requests run concurrently.
type API struct {
	client         *genai.Client
	modelName      string
	parameters     *llm.GenerationParameters
	safetySettings []*genai.SafetySetting
	logger         *log.Entry
}

const DefaultModel = "gemini-2.5-flash-lite"

func NewGemini(ctx context.Context, apiKey, model string, logger *log.Entry) (*API, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	api := &API{
		client: client,
		logger: logger,
	}
	return api.WithModel(model).WithSafetySettings(nil).WithParameters(nil), nil
}

func (g *API) Close() error {
	return g.client.Close()
}

func (g *API) WithModel(modelName string) *API {
	if modelName == "" || modelName[0] == '@' {
		modelName = DefaultModel
	}
	g.modelName = modelName
	return g
}

func (g *API) WithParameters(parameters *llm.GenerationParameters) *API {
	if parameters == nil {
		parameters = &llm.GenerationParameters{
			Temperature:      0.2,
			TopK:             40,
			TopP:             0.95,
			MaxOutputTokens:  512,
			ResponseMIMEType: "application/json",
		}
	}
	g.parameters = parameters
	return g
}

// WithSafetySettings disables content blocking: spam samples trip the default filters.
func (g *API) WithSafetySettings(safetySettings []*genai.SafetySetting) *API {
	if len(safetySettings) == 0 {
		for _, category := range []genai.HarmCategory{
			genai.HarmCategoryDangerousContent,
			genai.HarmCategoryHarassment,
			genai.HarmCategoryHateSpeech,
			genai.HarmCategorySexuallyExplicit,
		} {
			safetySettings = append(safetySettings, &genai.SafetySetting{
				Category:  category,
				Threshold: genai.HarmBlockNone,
			})
		}
	}
	g.safetySettings = safetySettings
	return g
}

func (g *API) newModel() *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(g.parameters.Temperature)
	model.SetTopK(g.parameters.TopK)
	model.SetTopP(g.parameters.TopP)
	model.SetMaxOutputTokens(int32(g.parameters.MaxOutputTokens))
	model.ResponseMIMEType = g.parameters.ResponseMIMEType
	model.SafetySettings = g.safetySettings
	return model
}

func (g *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	if len(messages) == 0 {
		return llm.ChatCompletionResponse{}, fmt.Errorf("no messages")
	}
	model := g.newModel()
	session := model.StartChat()
	system, history, last := splitMessages(messages)
	if system != nil {
		model.SystemInstruction = system
	}
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return llm.ChatCompletionResponse{}, err
	}
	text, ok := responseText(resp)
	if !ok {
		g.logger.WithField("model", g.modelName).Debug("empty candidates")
		return llm.ChatCompletionResponse{}, nil
	}
	return llm.Single(text), nil
}

// splitMessages maps all but the last message to chat history; the last one
// is what gets sent.
func splitMessages(messages []llm.ChatCompletionMessage) (*genai.Content, []*genai.Content, string) {
	var (
		system  *genai.Content
		history []*genai.Content
	)
	lastMessage, earlier := messages[len(messages)-1], messages[:len(messages)-1]
	for _, message := range earlier {
		switch message.Role {
		case llm.RoleSystem:
			system = genai.NewUserContent(genai.Text(message.Content))
		case llm.RoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(message.Content)},
			})
		default:
			history = append(history, genai.NewUserContent(genai.Text(message.Content)))
		}
	}
	return system, history, lastMessage.Content
}

func responseText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var response strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			response.WriteString(string(text))
		}
	}
	return response.String(), true
}
