package llm

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
}

type ChatCompletionChoice struct {
	Message ChatCompletionMessage `json:"message"`
}

// Text returns the content of the first choice, or an empty string.
func (r ChatCompletionResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type GenerationParameters struct {
	Temperature      float32
	TopP             float32
	TopK             int32
	MaxOutputTokens  int
	ResponseMIMEType string
}

// Single wraps a plain text answer into a one-choice response.
func Single(content string) ChatCompletionResponse {
	return ChatCompletionResponse{
		Choices: []ChatCompletionChoice{{Message: ChatCompletionMessage{Role: RoleAssistant, Content: content}}},
	}
}
