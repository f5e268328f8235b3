// Package workersai calls Cloudflare Workers AI text models through an AI Gateway.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/antispambot/internal/adapters/llm"
)

const (
	DefaultModel = "@cf/meta/llama-3-8b-instruct"

	gatewayBaseTemplate = "https://gateway.ai.cloudflare.com/v1/%s/%s"
	maxResponseBytes    = 1 << 20
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type API struct {
	client  Doer
	baseURL string
	token   string
	model   string
	logger  *log.Entry
}

// GatewayBaseURL composes the AI Gateway root for an account and gateway name.
func GatewayBaseURL(accountID, gatewayName string) string {
	return fmt.Sprintf(gatewayBaseTemplate, accountID, gatewayName)
}

func NewWorkersAI(client Doer, baseURL, token, model string, logger *log.Entry) *API {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = DefaultModel
	}
	return &API{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		model:   model,
		logger:  logger,
	}
}

type request struct {
	Messages []llm.ChatCompletionMessage `json:"messages"`
}

// Workers AI wraps the answer into result.response; some gateway setups
// return it flat. The value is usually a string but JSON-mode models
// return an object.
type response struct {
	Result *struct {
		Response json.RawMessage `json:"response"`
	} `json:"result"`
	Response json.RawMessage   `json:"response"`
	Success  *bool             `json:"success"`
	Errors   []json.RawMessage `json:"errors"`
}

func (a *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	body, err := json.Marshal(request{Messages: messages})
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := a.baseURL + "/workers-ai/" + a.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("post %s: %w", a.model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return llm.ChatCompletionResponse{}, fmt.Errorf("workers ai status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return llm.ChatCompletionResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Success != nil && !*decoded.Success {
		return llm.ChatCompletionResponse{}, fmt.Errorf("workers ai reported failure: %s", truncate(raw, 200))
	}

	field := decoded.Response
	if decoded.Result != nil && len(decoded.Result.Response) > 0 {
		field = decoded.Result.Response
	}
	a.logger.WithField("model", a.model).WithField("bytes", len(raw)).Trace("workers ai answered")
	return llm.Single(rawText(field)), nil
}

func rawText(field json.RawMessage) string {
	if len(field) == 0 || string(field) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(field, &s); err == nil {
		return s
	}
	return string(field)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
